//go:build unix

package mpdsession

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// pollReadable asks the kernel whether the socket has data (or a hangup)
// without blocking.
func (s *Session) pollReadable() (bool, error) {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return s.peekReadable()
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false, err
	}

	var n int
	var perr error
	err = raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, perr = unix.Poll(fds, 0)
			if perr != unix.EINTR {
				return
			}
		}
	})
	if err != nil {
		return false, err
	}
	if perr != nil {
		return false, perr
	}
	return n > 0, nil
}
