package probe

import (
	"strconv"
	"time"
)

// Default timeouts for the Ookla CLI.
const (
	DefaultSpeedtestTimeout = 120 * time.Second
	DefaultListTimeout      = 30 * time.Second
	DefaultVersionTimeout   = 10 * time.Second
)

// Speedtest builds invocations of the Ookla speedtest CLI.
type Speedtest struct {
	Path           string
	Timeout        time.Duration
	ListTimeout    time.Duration
	VersionTimeout time.Duration
}

func DefaultSpeedtest() Speedtest {
	return Speedtest{
		Path:           "speedtest",
		Timeout:        DefaultSpeedtestTimeout,
		ListTimeout:    DefaultListTimeout,
		VersionTimeout: DefaultVersionTimeout,
	}
}

// Measure runs a full throughput test. A serverID of 0 lets the vendor pick.
func (s Speedtest) Measure(serverID int) Command {
	args := []string{"--format=json", "--accept-license", "--accept-gdpr"}
	if serverID > 0 {
		args = append([]string{"--server-id", strconv.Itoa(serverID)}, args...)
	}
	return Command{Name: s.Path, Args: args, Timeout: s.Timeout}
}

// List asks the CLI for nearby servers.
func (s Speedtest) List() Command {
	return Command{Name: s.Path, Args: []string{"--servers", "--format=json", "--accept-license", "--accept-gdpr"}, Timeout: s.ListTimeout}
}

func (s Speedtest) Version() Command {
	return Command{Name: s.Path, Args: []string{"--version"}, Timeout: s.VersionTimeout}
}
