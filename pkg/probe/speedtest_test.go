package probe

import (
	"testing"
	"time"
)

func TestSpeedtestCommands(t *testing.T) {
	st := DefaultSpeedtest()

	tests := []struct {
		name        string
		cmd         Command
		want        string
		wantTimeout time.Duration
	}{
		{"auto", st.Measure(0), "speedtest --format=json --accept-license --accept-gdpr", DefaultSpeedtestTimeout},
		{"pinned", st.Measure(1234), "speedtest --server-id 1234 --format=json --accept-license --accept-gdpr", DefaultSpeedtestTimeout},
		{"negative id is auto", st.Measure(-1), "speedtest --format=json --accept-license --accept-gdpr", DefaultSpeedtestTimeout},
		{"list", st.List(), "speedtest --servers --format=json --accept-license --accept-gdpr", DefaultListTimeout},
		{"version", st.Version(), "speedtest --version", DefaultVersionTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if tt.cmd.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %s, want %s", tt.cmd.Timeout, tt.wantTimeout)
			}
		})
	}
}
