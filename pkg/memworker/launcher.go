package memworker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Process is a running worker as seen by the proxy.
type Process interface {
	// Stdin carries requests to the worker.
	Stdin() io.Writer
	// Stdout carries responses and notifications from the worker.
	Stdout() io.Reader
	// Wait blocks until the worker is gone and reports why. It is called
	// after Stdout is exhausted.
	Wait() error
	// Kill terminates the worker without waiting for it to finish.
	Kill() error
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, identity string) (Process, error)
}

// ProcessLauncher runs each worker as a child process executing
// `<binary> [args] worker --identity <identity>`.
type ProcessLauncher struct {
	// Binary defaults to the running executable.
	Binary string
	// Args precede the worker subcommand, e.g. --config.
	Args   []string
	Env    []string
	Logger zerolog.Logger
}

func (l *ProcessLauncher) Launch(ctx context.Context, identity string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin := l.Binary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		bin = exe
	}

	args := append(append([]string{}, l.Args...), "worker", "--identity", identity)
	// The proxy owns termination, so the command is not bound to ctx.
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), l.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", bin, err)
	}

	logger := l.Logger.With().
		Str("component", "memory-worker").
		Str("identity", identity).
		Int("pid", cmd.Process.Pid).
		Logger()

	p := &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderrDone: make(chan struct{})}
	go func() {
		defer close(p.stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Info().Msg(scanner.Text())
		}
	}()
	return p, nil
}

type execProcess struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderrDone chan struct{}
}

func (p *execProcess) Stdin() io.Writer  { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Wait() error {
	<-p.stderrDone
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	_ = p.stdin.Close()
	return p.cmd.Process.Kill()
}

// errKilled is the exit cause of a terminated in-process worker.
var errKilled = errors.New("worker terminated")

// InProcessLauncher runs each worker on a goroutine connected by pipes.
// Killing it cancels the worker's context and closes both pipes; a backend
// call that ignores cancellation is abandoned.
type InProcessLauncher struct {
	Factory BackendFactory
	Logger  zerolog.Logger
}

func (l *InProcessLauncher) Launch(_ context.Context, identity string) (Process, error) {
	if l.Factory == nil {
		return nil, errors.New("backend factory is required")
	}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &pipeProcess{
		stdin:  inW,
		stdout: outR,
		cancel: cancel,
		done:   make(chan struct{}),
		killed: make(chan struct{}),
	}
	go func() {
		err := Serve(ctx, inR, outW, ServeOptions{Identity: identity, Factory: l.Factory, Logger: l.Logger})
		p.err = err
		_ = outW.Close()
		_ = inR.Close()
		close(p.done)
	}()
	return p, nil
}

type pipeProcess struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	cancel context.CancelFunc

	err      error
	done     chan struct{}
	killed   chan struct{}
	killOnce sync.Once
}

func (p *pipeProcess) Stdin() io.Writer  { return p.stdin }
func (p *pipeProcess) Stdout() io.Reader { return p.stdout }

func (p *pipeProcess) Wait() error {
	select {
	case <-p.done:
		return p.err
	case <-p.killed:
		return errKilled
	}
}

func (p *pipeProcess) Kill() error {
	p.killOnce.Do(func() {
		p.cancel()
		_ = p.stdin.Close()
		_ = p.stdout.Close()
		close(p.killed)
	})
	return nil
}
