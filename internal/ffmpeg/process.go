package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const stderrTailLines = 40

// Process is a running FFmpeg job. Stdin is fed from the provided reader;
// Stdout delivers the continuous MPEG-TS stream.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger *slog.Logger

	mu         sync.Mutex
	stderrTail []string
	waitOnce   sync.Once
	waitErr    error
	stdinDone  chan struct{}
	stdinErr   error
	started    time.Time
}

// Start launches FFmpeg with the given args, copying input into stdin from
// a background goroutine.
func Start(ctx context.Context, binary string, args []string, input io.Reader, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	p := &Process{
		cmd:       cmd,
		stdout:    stdout,
		logger:    logger.With(slog.String("component", "ffmpeg")),
		stdinDone: make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	p.started = time.Now()
	p.logger.Debug("process started", slog.Int("pid", cmd.Process.Pid))

	go p.collectStderr(stderr)
	go func() {
		defer close(p.stdinDone)
		defer stdin.Close()
		_, copyErr := io.Copy(stdin, input)
		if copyErr != nil && !isBrokenPipe(copyErr) {
			p.mu.Lock()
			p.stdinErr = copyErr
			p.mu.Unlock()
		}
	}()

	return p, nil
}

// Stdout returns the MPEG-TS output stream.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// collectStderr keeps the last lines for diagnostics.
func (p *Process) collectStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("stderr", slog.String("line", line))
		p.mu.Lock()
		p.stderrTail = append(p.stderrTail, line)
		if len(p.stderrTail) > stderrTailLines {
			p.stderrTail = p.stderrTail[1:]
		}
		p.mu.Unlock()
	}
}

// StderrTail returns the most recent stderr lines.
func (p *Process) StderrTail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stderrTail...)
}

// Wait blocks until the process exits and returns its terminal error, if
// any, decorated with the stderr tail.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		<-p.stdinDone

		p.mu.Lock()
		stdinErr := p.stdinErr
		tail := append([]string(nil), p.stderrTail...)
		p.mu.Unlock()

		if err != nil {
			p.waitErr = fmt.Errorf("ffmpeg exited: %w (stderr: %v)", err, tail)
			return
		}
		if stdinErr != nil {
			p.waitErr = fmt.Errorf("feeding ffmpeg stdin: %w", stdinErr)
		}
	})
	return p.waitErr
}

// Stop terminates the process, escalating from SIGTERM to SIGKILL.
func (p *Process) Stop() {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = p.cmd.Process.Kill()
		<-done
	}
}

// Uptime returns how long the process has been running.
func (p *Process) Uptime() time.Duration {
	return time.Since(p.started)
}

func isBrokenPipe(err error) bool {
	for e := err; e != nil; {
		if e == syscall.EPIPE || e == io.ErrClosedPipe {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return false
}

// Run is a convenience for short probe invocations that need combined
// output with a timeout.
func Run(ctx context.Context, binary string, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return exec.CommandContext(ctx, binary, args...).Output()
}
