package bridge

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// Process abstracts the worker subprocess so the bridge's state machine can
// be exercised in tests without spawning a live process.
type Process interface {
	// Start launches the process. The context bounds the process lifetime;
	// cancelling it kills the process.
	Start(ctx context.Context) error

	// Send writes one request line to the process's stdin. A trailing
	// newline is appended by the implementation.
	Send(line []byte) error

	// Lines returns the channel of response lines read from stdout.
	// The channel is closed when stdout reaches EOF.
	Lines() <-chan []byte

	// Done is closed when the process has exited.
	Done() <-chan struct{}

	// Kill forcibly terminates the process. Safe to call more than once.
	Kill()
}

// ProcessFactory creates a fresh Process for each (re)start of the worker.
type ProcessFactory func() Process

// maxLineSize bounds a single response line from the worker. Answers with
// many retrieved contexts can get large.
const maxLineSize = 4 * 1024 * 1024

// execProcess is the production Process implementation backed by os/exec.
type execProcess struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd   *exec.Cmd
	stdin interface {
		Write(p []byte) (int, error)
		Close() error
	}
	lines chan []byte
	done  chan struct{}

	killOnce sync.Once
}

// NewExecProcessFactory returns a ProcessFactory that spawns the configured
// worker executable.
func NewExecProcessFactory(command string, args []string, logger *slog.Logger) ProcessFactory {
	return func() Process {
		return &execProcess{
			command: command,
			args:    args,
			logger:  logger,
			lines:   make(chan []byte, 1),
			done:    make(chan struct{}),
		}
	}
}

func (p *execProcess) Start(ctx context.Context) error {
	p.cmd = exec.CommandContext(ctx, p.command, p.args...)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	p.stdin = stdin

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	// The worker logs to stderr; surface it at debug level so stdout stays
	// reserved for protocol lines.
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}

	p.logger.Info("worker process started",
		"command", p.command,
		"pid", p.cmd.Process.Pid)

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			p.logger.Debug("worker stderr", "line", scanner.Text())
		}
	}()

	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			p.lines <- line
		}
		if err := scanner.Err(); err != nil {
			p.logger.Warn("worker stdout read error", "error", err)
		}
	}()

	go func() {
		defer close(p.done)
		if err := p.cmd.Wait(); err != nil {
			p.logger.Warn("worker process exited", "error", err)
		} else {
			p.logger.Info("worker process exited cleanly")
		}
	}()

	return nil
}

func (p *execProcess) Send(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := p.stdin.Write(buf); err != nil {
		return fmt.Errorf("write to worker stdin: %w", err)
	}
	return nil
}

func (p *execProcess) Lines() <-chan []byte {
	return p.lines
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Kill() {
	p.killOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}
