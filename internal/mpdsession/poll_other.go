//go:build !unix

package mpdsession

func (s *Session) pollReadable() (bool, error) {
	return s.peekReadable()
}
