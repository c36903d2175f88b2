// Package probe runs external measurement tools (speedtest, ping) and reports
// their failures as typed errors. Retry policy lives with the caller.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

// Kind classifies a probe failure.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindNotFound
	KindNonZeroExit
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindNonZeroExit:
		return "non_zero_exit"
	default:
		return "unknown"
	}
}

var (
	ErrTimeout     = errors.New("probe timed out")
	ErrNotFound    = errors.New("probe executable not found")
	ErrNonZeroExit = errors.New("probe exited with non-zero status")
)

// Error describes a failed invocation.
type Error struct {
	Kind     Kind
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s: timed out", e.Command)
	case KindNotFound:
		return fmt.Sprintf("%s: executable not found", e.Command)
	case KindNonZeroExit:
		if e.Stderr != "" {
			return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, Truncate(e.Stderr, 200))
		}
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Is lets callers match on the sentinel for the failure kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrNonZeroExit:
		return e.Kind == KindNonZeroExit
	}
	return false
}

func (e *Error) Unwrap() error { return e.Err }

// Command is a single probe invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Output is what a successful probe printed.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Invoker abstracts process execution so the catalog and scheduler can be
// tested without the real tools installed.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command) (Output, error)
}

// PathResolver is implemented by invokers that can locate an executable
// without running it.
type PathResolver interface {
	LookPath(name string) (string, error)
}

// ExecInvoker runs commands on the host via os/exec.
type ExecInvoker struct {
	// WaitDelay bounds how long Wait blocks for output pipes after the
	// process has been killed.
	WaitDelay time.Duration
}

func NewExecInvoker() *ExecInvoker {
	return &ExecInvoker{WaitDelay: 2 * time.Second}
}

func (r *ExecInvoker) Invoke(ctx context.Context, c Command) (Output, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.WaitDelay = r.WaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err == nil {
		return out, nil
	}

	name := c.String()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, &Error{Kind: KindTimeout, Command: name, Err: ctx.Err()}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return out, &Error{Kind: KindNotFound, Command: name, Err: err}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &Error{
			Kind:     KindNonZeroExit,
			Command:  name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return out, fmt.Errorf("run %s: %w", name, err)
}

// LookPath resolves name in PATH. A missing executable is a KindNotFound
// error.
func (r *ExecInvoker) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &Error{Kind: KindNotFound, Command: name, Err: err}
	}
	return path, nil
}

// Truncate shortens s to at most n bytes for logging.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
