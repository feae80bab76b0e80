package mpdsession

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overlays MPD_HOST and MPD_PORT onto cfg, using the same forms as
// the mpc client:
//
//	MPD_HOST=host
//	MPD_HOST=password@host
//	MPD_HOST=/run/mpd/socket
//	MPD_HOST=password@/run/mpd/socket
//	MPD_HOST=@abstract
//	MPD_HOST=password@@abstract
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	if v := getenv("MPD_HOST"); v != "" {
		switch {
		case strings.HasPrefix(v, "@"):
			cfg.Host = v
		case strings.Contains(v, "@@"):
			pass, sock, _ := strings.Cut(v, "@@")
			cfg.Password = pass
			cfg.Host = "@" + sock
		case strings.Contains(v, "@"):
			pass, addr, _ := strings.Cut(v, "@")
			cfg.Password = pass
			cfg.Host = addr
		default:
			cfg.Host = v
		}
	}

	if p := getenv("MPD_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return cfg, fmt.Errorf("invalid MPD_PORT %q", p)
		}
		cfg.Port = n
	}
	return cfg, nil
}
