package shell

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestRunCapturesOutputAndCode(t *testing.T) {
	requireSh(t)
	res, err := Run(context.Background(), 0, "sh", "-c", "echo out; echo err 1>&2; exit 3")
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if ee.Code != 3 || res.Code != 3 {
		t.Fatalf("code: %d %d", ee.Code, res.Code)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Fatalf("stdout: %q", res.Stdout)
	}
	if res.Output() != "err" || ee.Stderr != "err" {
		t.Fatalf("stderr: %q", res.Output())
	}
}

func TestRunTimeout(t *testing.T) {
	requireSh(t)
	_, err := Run(context.Background(), 50*time.Millisecond, "sh", "-c", "sleep 5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestStartMergesStreamsAndFeedsStdin(t *testing.T) {
	requireSh(t)
	e := NewExec(0, zerolog.Nop())
	p, err := e.Start(context.Background(), Cmd{
		Name:  "sh",
		Args:  []string{"-c", "cat; echo oops 1>&2; exit 2"},
		Stdin: []byte("hello\n"),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := io.ReadAll(p.Output())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 2 {
		t.Fatalf("code: %d", code)
	}
	if string(out) != "hello\noops\n" {
		t.Fatalf("output: %q", out)
	}
}
