package parser

import (
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"

	"network-monitor/pkg/probe"
)

// Platform names a ping output dialect.
type Platform string

const (
	PlatformAuto    Platform = "auto"
	PlatformUnix    Platform = "unix"
	PlatformWindows Platform = "windows"
)

// PingStats is what a latency parser extracts from one ping run.
type PingStats struct {
	Samples           []float64
	AvgMs             float64
	MinMs             float64
	MaxMs             float64
	PacketLossPercent float64
}

// LatencyOutputParser knows how to invoke the host ping and read its output.
type LatencyOutputParser interface {
	Platform() Platform
	Args(target string, count int) []string
	Parse(output string) (PingStats, error)
}

// NewLatencyParser returns the parser for platform. PlatformAuto (or "")
// resolves from the running OS.
func NewLatencyParser(platform Platform) (LatencyOutputParser, error) {
	if platform == "" || platform == PlatformAuto {
		platform = PlatformUnix
		if runtime.GOOS == "windows" {
			platform = PlatformWindows
		}
	}
	switch platform {
	case PlatformUnix:
		return UnixParser{}, nil
	case PlatformWindows:
		return WindowsParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported ping platform: %s", platform)
	}
}

// UnixParser reads iputils / BSD ping output:
//
//	64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=12.3 ms
//	20 packets transmitted, 18 received, 10% packet loss, time 19031ms
type UnixParser struct{}

func (UnixParser) Platform() Platform { return PlatformUnix }

func (UnixParser) Args(target string, count int) []string {
	return []string{"-c", strconv.Itoa(count), target}
}

func (UnixParser) Parse(output string) (PingStats, error) {
	var samples []float64
	loss := 0.0
	for _, line := range strings.Split(output, "\n") {
		if v, ok := tokenAfter(line, "time="); ok {
			if ms, err := parseMillis(v); err == nil {
				samples = append(samples, ms)
			}
			continue
		}
		if strings.Contains(line, "packet loss") {
			if v, ok := lossFromSummary(line); ok {
				loss = v
			}
		}
	}
	return summarize(samples, loss, output)
}

// WindowsParser reads Windows ping output:
//
//	Reply from 8.8.8.8: bytes=32 time=12ms TTL=117
//	Reply from 127.0.0.1: bytes=32 time<1ms TTL=128
//	    Packets: Sent = 4, Received = 4, Lost = 0 (0% loss),
type WindowsParser struct{}

// sub-millisecond replies are reported as "time<1ms"
const windowsSubMillisecond = 0.5

func (WindowsParser) Platform() Platform { return PlatformWindows }

func (WindowsParser) Args(target string, count int) []string {
	return []string{"-n", strconv.Itoa(count), target}
}

func (WindowsParser) Parse(output string) (PingStats, error) {
	var samples []float64
	loss := 0.0
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "time<") {
			samples = append(samples, windowsSubMillisecond)
			continue
		}
		if v, ok := tokenAfter(line, "time="); ok {
			if ms, err := parseMillis(v); err == nil {
				samples = append(samples, ms)
			}
			continue
		}
		if strings.Contains(line, "Lost = ") {
			open := strings.Index(line, "(")
			pct := strings.Index(line, "%")
			if open >= 0 && pct > open {
				if v, err := strconv.ParseFloat(strings.TrimSpace(line[open+1:pct]), 64); err == nil {
					loss = v
				}
			}
		}
	}
	return summarize(samples, loss, output)
}

// tokenAfter returns the whitespace-delimited token following marker.
func tokenAfter(line, marker string) (string, bool) {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(marker):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// parseMillis accepts "12.3" and "12ms".
func parseMillis(token string) (float64, error) {
	token = strings.TrimSuffix(strings.TrimSpace(token), "ms")
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid latency %q", token)
	}
	return v, nil
}

// lossFromSummary finds the comma-separated field carrying "packet loss".
// Field positions vary ("+2 errors" may precede it), so match by content.
func lossFromSummary(line string) (float64, bool) {
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, "packet loss") {
			continue
		}
		pct := strings.Index(part, "%")
		if pct <= 0 {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(part[:pct]), 64)
		if err != nil || v < 0 || v > 100 {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func summarize(samples []float64, loss float64, output string) (PingStats, error) {
	if len(samples) == 0 {
		return PingStats{}, fmt.Errorf("%w: %q", ErrNoSamples, probe.Truncate(output, snippetLen))
	}
	minMs, maxMs, sum := samples[0], samples[0], 0.0
	for _, s := range samples {
		sum += s
		minMs = math.Min(minMs, s)
		maxMs = math.Max(maxMs, s)
	}
	return PingStats{
		Samples:           samples,
		AvgMs:             round2(sum / float64(len(samples))),
		MinMs:             round2(minMs),
		MaxMs:             round2(maxMs),
		PacketLossPercent: loss,
	}, nil
}
