package mpdsession

import "testing"

func TestApplyEnv(t *testing.T) {
	base := Config{Host: "localhost", Port: 6600}

	tests := []struct {
		name     string
		host     string
		port     string
		wantHost string
		wantPass string
		wantPort int
	}{
		{"unset", "", "", "localhost", "", 6600},
		{"host", "music.lan", "", "music.lan", "", 6600},
		{"password and host", "s3cret@music.lan", "", "music.lan", "s3cret", 6600},
		{"socket", "/run/mpd/socket", "", "/run/mpd/socket", "", 6600},
		{"password and socket", "pw@/run/mpd/socket", "", "/run/mpd/socket", "pw", 6600},
		{"abstract socket", "@mpd", "", "@mpd", "", 6600},
		{"password and abstract socket", "pw@@mpd", "", "@mpd", "pw", 6600},
		{"port", "", "6601", "localhost", "", 6601},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{"MPD_HOST": tt.host, "MPD_PORT": tt.port}
			got, err := ApplyEnv(base, func(k string) string { return env[k] })
			if err != nil {
				t.Fatalf("ApplyEnv: %v", err)
			}
			if got.Host != tt.wantHost || got.Password != tt.wantPass || got.Port != tt.wantPort {
				t.Fatalf("got host=%q pass=%q port=%d, want host=%q pass=%q port=%d",
					got.Host, got.Password, got.Port, tt.wantHost, tt.wantPass, tt.wantPort)
			}
		})
	}
}

func TestApplyEnv_BadPort(t *testing.T) {
	for _, p := range []string{"abc", "0", "70000"} {
		env := map[string]string{"MPD_PORT": p}
		if _, err := ApplyEnv(Config{}, func(k string) string { return env[k] }); err == nil {
			t.Errorf("MPD_PORT=%q: expected error", p)
		}
	}
}
