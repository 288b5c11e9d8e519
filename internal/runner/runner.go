package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Step is one shell command of the build pipeline, executed in the
// website's workspace with a hard timeout.
type Step struct {
	Name    string
	Command string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Result is the structured outcome of a finished step. Errors are data
// here: the worker converts them into job state, they are never thrown
// past it.
type Result struct {
	ExitCode int
	Output   string
	Err      error
}

func (r Result) Failed() bool { return r.Err != nil }

// Run executes a step to completion, capturing combined stdout/stderr.
func Run(ctx context.Context, step Step) Result {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", step.Command)
	cmd.Dir = step.Dir
	cmd.Env = append(os.Environ(), step.Env...)

	out, err := cmd.CombinedOutput()
	res := Result{Output: string(out)}
	if err == nil {
		return res
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s timed out after %s", step.Name, step.Timeout)
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	res.Err = fmt.Errorf("%s failed: %w", step.Name, err)
	return res
}

// OutputBuffer collects a long-lived process's combined output. Writes
// come from the exec pipes while readers snapshot the tail, so access
// is serialized.
type OutputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// PrepareServer builds the long-lived dev-server command without
// starting it. The caller starts it, hands it to the process registry
// (which owns the single Wait), then confirms readiness with
// WaitReady.
func PrepareServer(step Step, port int) (*exec.Cmd, *OutputBuffer) {
	cmd := exec.Command("/bin/sh", "-c", step.Command)
	cmd.Dir = step.Dir
	cmd.Env = append(os.Environ(), step.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", port))

	out := &OutputBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd, out
}

// WaitReady polls the server's TCP port until it accepts a connection,
// the process exits (done closes), the context is cancelled, or the
// startup timeout lapses. The caller kills the process on error.
func WaitReady(ctx context.Context, done <-chan struct{}, port int, startupTimeout time.Duration) error {
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return fmt.Errorf("dev server exited before becoming ready")
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			if portReachable(port) {
				return nil
			}
		}
	}
	return fmt.Errorf("dev server did not become ready on port %d within %s", port, startupTimeout)
}

func portReachable(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
