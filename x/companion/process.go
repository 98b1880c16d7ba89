package companion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/transport"
	"github.com/universe-player/bridge/x/transport/stdio"
)

const (
	defaultStartupGrace = 500 * time.Millisecond
	defaultStderrTail   = 20
)

// ProcessLauncher starts the companion executable and talks to it over its
// standard input and output. Stderr lines are logged and the last few kept
// for launch errors.
type ProcessLauncher struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the host environment.
	Env []string
	// StartupGrace is how long the process must stay alive for the launch
	// to count as successful.
	StartupGrace time.Duration
	// StderrTail is the number of stderr lines kept for diagnostics.
	StderrTail int
}

// Launch starts the process.
func (l *ProcessLauncher) Launch(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (Companion, error) {
	p, err := l.start(ctx, log, true)
	if err != nil {
		return nil, err
	}

	p.ch = stdio.Open(stdio.ProcessStreams{Stdout: p.stdout, Stdin: p.stdin, PID: p.PID()}, framer, log)

	if err := p.awaitStartup(ctx, l.grace()); err != nil {
		_ = p.ch.Close()
		return nil, err
	}
	return p, nil
}

func (l *ProcessLauncher) grace() time.Duration {
	if l.StartupGrace > 0 {
		return l.StartupGrace
	}
	return defaultStartupGrace
}

// start runs the executable. With piped set the host keeps the ends of the
// child's stdin and stdout; otherwise stdout is logged like stderr.
func (l *ProcessLauncher) start(ctx context.Context, log zerolog.Logger, piped bool) (*process, error) {
	if l.Path == "" {
		return nil, NewLaunchError(LaunchErrorConfig, "companion path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, NewLaunchError(LaunchErrorCanceled, "launch canceled").WithCause(err)
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)

	tail := l.StderrTail
	if tail <= 0 {
		tail = defaultStderrTail
	}

	p := &process{
		cmd:        cmd,
		log:        log.With().Str("component", "companion").Str("path", l.Path).Logger(),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		stderr:     newTail(tail),
	}

	// Pipes are created by hand so Wait never closes the host's read ends
	// while a read is in progress.
	var childEnds []io.Closer
	closeAll := func(cs ...io.Closer) {
		for _, c := range cs {
			if c != nil {
				_ = c.Close()
			}
		}
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, NewLaunchError(LaunchErrorStart, "failed to create stderr pipe").WithCause(err)
	}
	cmd.Stderr = stderrW
	childEnds = append(childEnds, stderrW)

	var stdoutLog *os.File
	if piped {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			closeAll(stderrR, stderrW)
			return nil, NewLaunchError(LaunchErrorStart, "failed to create stdin pipe").WithCause(err)
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			closeAll(stderrR, stderrW, stdinR, stdinW)
			return nil, NewLaunchError(LaunchErrorStart, "failed to create stdout pipe").WithCause(err)
		}
		cmd.Stdin = stdinR
		cmd.Stdout = stdoutW
		childEnds = append(childEnds, stdinR, stdoutW)
		p.stdin, p.stdout = stdinW, stdoutR
	} else {
		outR, outW, err := os.Pipe()
		if err != nil {
			closeAll(stderrR, stderrW)
			return nil, NewLaunchError(LaunchErrorStart, "failed to create stdout pipe").WithCause(err)
		}
		cmd.Stdout = outW
		childEnds = append(childEnds, outW)
		stdoutLog = outR
	}

	if err := cmd.Start(); err != nil {
		closeAll(childEnds...)
		closeAll(stderrR, stdoutLog)
		if p.stdin != nil {
			closeAll(p.stdin, p.stdout)
		}
		return nil, NewLaunchError(LaunchErrorStart, "failed to start companion").
			WithCause(err).
			WithContext("path", l.Path)
	}
	closeAll(childEnds...)

	p.log = p.log.With().Int("pid", cmd.Process.Pid).Logger()
	p.log.Info().Strs("args", l.Args).Msg("Companion started")

	var outputs sync.WaitGroup
	outputs.Add(1)
	go func() {
		defer outputs.Done()
		p.drain(stderrR, "stderr")
	}()
	if stdoutLog != nil {
		outputs.Add(1)
		go func() {
			defer outputs.Done()
			p.drain(stdoutLog, "stdout")
		}()
	}
	go func() {
		outputs.Wait()
		close(p.stderrDone)
	}()

	go p.wait()

	return p, nil
}

// process is a started companion executable.
type process struct {
	cmd *exec.Cmd
	log zerolog.Logger
	ch  transport.Channel

	stdin  *os.File
	stdout *os.File

	done       chan struct{}
	stderrDone chan struct{}
	exitErr    error
	stderr     *tail

	terminateOnce sync.Once
	terminateErr  error
}

func (p *process) Channel() transport.Channel { return p.ch }
func (p *process) Done() <-chan struct{}      { return p.done }
func (p *process) PID() int                   { return p.cmd.Process.Pid }

// ExitErr returns the exit status; nil while running or after a clean exit.
func (p *process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// StderrTail returns the last stderr lines.
func (p *process) StderrTail() []string {
	return p.stderr.Lines()
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.exitErr = err

	ev := p.log.Info()
	if err != nil {
		ev = p.log.Warn().Err(err)
	}
	ev.Int("exit_code", p.cmd.ProcessState.ExitCode()).Msg("Companion exited")

	close(p.done)
}

func (p *process) drain(r io.ReadCloser, stream string) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if stream == "stderr" {
			p.stderr.Add(line)
		}
		p.log.Info().Str("stream", stream).Msg(line)
	}
}

// awaitStartup fails when the process exits before grace elapses.
func (p *process) awaitStartup(ctx context.Context, grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-p.done:
		return p.earlyExit()
	case <-ctx.Done():
		_ = p.Terminate(0)
		return NewLaunchError(LaunchErrorCanceled, "launch canceled").WithCause(ctx.Err())
	}
}

func (p *process) earlyExit() *LaunchError {
	// Let the stderr reader finish so the tail is complete.
	select {
	case <-p.stderrDone:
	case <-time.After(time.Second):
	}

	code := p.cmd.ProcessState.ExitCode()
	return NewLaunchError(LaunchErrorEarlyExit, "companion exited during startup").
		WithCause(p.exitErr).
		WithExit(code, p.stderr.Lines()).
		WithContext("pid", p.cmd.Process.Pid)
}

// Terminate interrupts the process and kills it if it is still running
// after grace. The channel is closed first.
func (p *process) Terminate(grace time.Duration) error {
	p.terminateOnce.Do(func() {
		if p.ch != nil {
			_ = p.ch.Close()
		}

		select {
		case <-p.done:
			return
		default:
		}

		if grace > 0 {
			if err := p.cmd.Process.Signal(os.Interrupt); err == nil {
				timer := time.NewTimer(grace)
				defer timer.Stop()
				select {
				case <-p.done:
					return
				case <-timer.C:
					p.log.Warn().Dur("grace", grace).Msg("Companion ignored interrupt, killing")
				}
			}
		}

		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.terminateErr = fmt.Errorf("failed to kill companion: %w", err)
			return
		}
		<-p.done
	})
	return p.terminateErr
}

// tail keeps the last n lines written to it.
type tail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTail(n int) *tail {
	return &tail{lines: make([]string, n)}
}

func (t *tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

func (t *tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
