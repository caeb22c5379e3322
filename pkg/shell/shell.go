package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

// Output returns trimmed stderr, or stdout when stderr is empty.
func (r Result) Output() string {
	if s := strings.TrimSpace(string(r.Stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(r.Stdout))
}

var ErrTimeout = errors.New("command timed out")

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Name   string
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s %s: exit status %d", e.Name, strings.Join(e.Args, " "), e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Cmd describes a long-running process whose merged output is streamed.
type Cmd struct {
	Name    string
	Args    []string
	Dir     string
	Stdin   []byte
	Timeout time.Duration
}

// Process is a started Cmd. Output must be drained before Wait is called.
type Process interface {
	Output() io.Reader
	Wait() (code int, err error)
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	Start(ctx context.Context, c Cmd) (Process, error)
}

// Run executes name with args. A zero timeout means no deadline beyond ctx.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Env = commandEnv()
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return res, &ExitError{Name: name, Args: args, Code: res.Code, Stderr: strings.TrimSpace(errBuf.String())}
	}
	return res, err
}

// Exec is the production Runner.
type Exec struct {
	Timeout time.Duration
	Log     zerolog.Logger
}

func NewExec(timeout time.Duration, log zerolog.Logger) *Exec {
	return &Exec{Timeout: timeout, Log: log.With().Str("component", "shell").Logger()}
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	start := time.Now()
	res, err := Run(ctx, e.Timeout, name, args...)
	ev := e.Log.Debug()
	if err != nil {
		ev = e.Log.Warn().Err(err)
	}
	ev.Str("cmd", name).Strs("args", args).Int("code", res.Code).Dur("took", time.Since(start)).Msg("exec")
	return res, err
}

func (e *Exec) Start(ctx context.Context, c Cmd) (Process, error) {
	cctx, cancel := withTimeout(ctx, c.Timeout)

	cmd := exec.CommandContext(cctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = commandEnv()
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	// stdout and stderr share one pipe so diagnostics keep their position in the stream
	r, w, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		cancel()
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}
	_ = w.Close()
	e.Log.Debug().Str("cmd", c.Name).Strs("args", c.Args).Str("dir", c.Dir).Int("pid", cmd.Process.Pid).Msg("started")
	return &process{cmd: cmd, out: r, ctx: cctx, cancel: cancel}, nil
}

type process struct {
	cmd    *exec.Cmd
	out    *os.File
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *process) Output() io.Reader { return p.out }

// Wait reports the exit code. A non-zero exit is not an error at this level.
func (p *process) Wait() (int, error) {
	defer p.cancel()
	defer p.out.Close()
	err := p.cmd.Wait()
	code := exitCode(err)
	if p.ctx.Err() == context.DeadlineExceeded {
		return code, ErrTimeout
	}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		return code, err
	}
	return code, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// commandEnv pins the C locale so tool output parses the same everywhere.
func commandEnv() []string {
	return append(os.Environ(), "LANG=C", "LC_ALL=C")
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
