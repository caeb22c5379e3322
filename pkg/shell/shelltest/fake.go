// Package shelltest provides a scripted shell.Runner that records every invocation.
package shelltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"nithronos/zinstaller/pkg/shell"
)

type Call struct {
	Name  string
	Args  []string
	Dir   string
	Stdin []byte
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Script is the output and exit status of a fake started process.
type Script struct {
	Output string
	Code   int
	Err    error
	// Before runs when the process is started, before any output is read.
	Before func()
}

type rule struct {
	prefix string
	fn     func(Call) (shell.Result, error)
}

// Fake matches commands by prefix of their rendered command line. Later rules
// win over earlier ones; unmatched commands succeed with empty output.
type Fake struct {
	mu     sync.Mutex
	calls  []Call
	rules  []rule
	script Script
	// Hook, if set, observes every call before it is answered.
	Hook func(Call)
}

func New() *Fake { return &Fake{} }

func (f *Fake) On(prefix string, res shell.Result, err error) *Fake {
	return f.OnFunc(prefix, func(Call) (shell.Result, error) { return res, err })
}

func (f *Fake) OnFunc(prefix string, fn func(Call) (shell.Result, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, fn: fn})
	return f
}

// Stdout answers prefix with a successful run printing out.
func (f *Fake) Stdout(prefix, out string) *Fake {
	return f.On(prefix, shell.Result{Stdout: []byte(out)}, nil)
}

// Fail answers prefix with a non-zero exit.
func (f *Fake) Fail(prefix string, code int, stderr string) *Fake {
	return f.OnFunc(prefix, func(c Call) (shell.Result, error) {
		return shell.Result{Stderr: []byte(stderr), Code: code},
			&shell.ExitError{Name: c.Name, Args: c.Args, Code: code, Stderr: stderr}
	})
}

// Process sets what Start returns.
func (f *Fake) Process(s Script) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = s
	return f
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	c := Call{Name: name, Args: append([]string(nil), args...)}
	fn := f.record(c)
	if err := ctx.Err(); err != nil {
		return shell.Result{Code: -1}, err
	}
	if fn == nil {
		return shell.Result{}, nil
	}
	return fn(c)
}

func (f *Fake) Start(ctx context.Context, cmd shell.Cmd) (shell.Process, error) {
	c := Call{Name: cmd.Name, Args: append([]string(nil), cmd.Args...), Dir: cmd.Dir, Stdin: append([]byte(nil), cmd.Stdin...)}
	f.record(c)
	f.mu.Lock()
	s := f.script
	f.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Before != nil {
		s.Before()
	}
	return &proc{r: strings.NewReader(s.Output), code: s.Code}, nil
}

func (f *Fake) record(c Call) func(Call) (shell.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.Hook
	line := c.String()
	var fn func(Call) (shell.Result, error)
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			fn = f.rules[i].fn
			break
		}
	}
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return fn
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns every recorded call rendered as a command line.
func (f *Fake) Commands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many recorded commands start with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) Has(prefix string) bool { return f.Count(prefix) > 0 }

// Index returns the position of the first command starting with prefix, or -1.
func (f *Fake) Index(prefix string) int {
	for i, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

type proc struct {
	r    io.Reader
	code int
}

func (p *proc) Output() io.Reader  { return p.r }
func (p *proc) Wait() (int, error) { return p.code, nil }
