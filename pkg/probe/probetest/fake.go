// Package probetest provides a scripted probe.Invoker for tests.
package probetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"network-monitor/pkg/probe"
)

// HandlerFunc answers a single invocation.
type HandlerFunc func(cmd probe.Command) (probe.Output, error)

// Fake records every invocation and delegates to Handler.
type Fake struct {
	Handler HandlerFunc
	// Missing lists executables LookPath reports as not found.
	Missing []string

	mu    sync.Mutex
	calls []probe.Command
}

// Invoke fails like a killed process when ctx is done by the time the
// handler returns.
func (f *Fake) Invoke(ctx context.Context, cmd probe.Command) (probe.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.Handler == nil {
		return probe.Output{}, ctx.Err()
	}
	out, err := f.Handler(cmd)
	if err == nil && ctx.Err() != nil {
		return probe.Output{}, fmt.Errorf("run %s: %w", cmd, ctx.Err())
	}
	return out, err
}

// LookPath resolves every name except those in Missing. It is not recorded
// as a call.
func (f *Fake) LookPath(name string) (string, error) {
	if slices.Contains(f.Missing, name) {
		return "", &probe.Error{Kind: probe.KindNotFound, Command: name}
	}
	return "/usr/bin/" + name, nil
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []probe.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]probe.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Stdout is a convenience for a successful invocation.
func Stdout(s string) probe.Output {
	return probe.Output{Stdout: []byte(s)}
}

// Timeout returns a timeout failure for cmd.
func Timeout(cmd probe.Command) error {
	return &probe.Error{Kind: probe.KindTimeout, Command: cmd.String()}
}

// Exit returns a non-zero exit failure for cmd.
func Exit(cmd probe.Command, code int, stderr string) error {
	return &probe.Error{Kind: probe.KindNonZeroExit, Command: cmd.String(), ExitCode: code, Stderr: stderr}
}

// HasArg reports whether cmd carries arg.
func HasArg(cmd probe.Command, arg string) bool {
	for _, a := range cmd.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// ArgValue returns the argument following flag, or "".
func ArgValue(cmd probe.Command, flag string) string {
	for i := 0; i+1 < len(cmd.Args); i++ {
		if cmd.Args[i] == flag {
			return cmd.Args[i+1]
		}
	}
	return ""
}
