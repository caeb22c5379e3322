// Package payload mounts the installation image and drives the installer
// program shipped inside it.
package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/insterr"
	"nithronos/zinstaller/pkg/shell"
)

const (
	DefaultImage  = "/cdrom/TrueNAS-SCALE.update"
	DefaultFSType = "squashfs"
)

var DefaultCommand = []string{"python3", "-m", "truenas_install"}

// AuthMethod configures the built-in administrator. A nil *AuthMethod defers
// authentication to the web interface.
type AuthMethod struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Params is the document written to the installer's stdin.
type Params struct {
	Authentication *AuthMethod    `json:"authentication_method"`
	Disks          []string       `json:"disks"`
	JSON           bool           `json:"json"`
	PoolName       string         `json:"pool_name"`
	PostInstall    map[string]any `json:"post_install"`
	SQL            *string        `json:"sql"`
	Src            string         `json:"src"`
}

type Request struct {
	Disks          []string
	PoolName       string
	Authentication *AuthMethod
	PostInstall    map[string]any
	SQL            string
}

type Config struct {
	Image   string
	FSType  string
	Command []string
	// Timeout bounds the installer process; zero waits indefinitely.
	Timeout time.Duration
	// TempDir is where mount points are created; empty means os.TempDir.
	TempDir string
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.FSType == "" {
		c.FSType = DefaultFSType
	}
	if len(c.Command) == 0 {
		c.Command = DefaultCommand
	}
	return c
}

type Driver struct {
	run shell.Runner
	log zerolog.Logger
	cfg Config
}

func New(run shell.Runner, log zerolog.Logger, cfg Config) *Driver {
	return &Driver{run: run, log: log.With().Str("component", "payload").Logger(), cfg: cfg.withDefaults()}
}

// Run mounts the image, runs the installer with req and forwards its progress
// reports to progress. The image is unmounted whatever the outcome.
func (d *Driver) Run(ctx context.Context, req Request, progress func(float64, string)) error {
	if progress == nil {
		progress = func(float64, string) {}
	}
	src, err := os.MkdirTemp(d.cfg.TempDir, "zinstaller-src-")
	if err != nil {
		return insterr.Wrap(err, "Failed to create mount point: %v", err)
	}
	defer func() {
		if rerr := os.Remove(src); rerr != nil {
			d.log.Warn().Err(rerr).Str("dir", src).Msg("cannot remove mount point")
		}
	}()

	if res, merr := d.run.Run(ctx, "mount", d.cfg.Image, src, "-t", d.cfg.FSType, "-o", "loop"); merr != nil {
		return insterr.Wrap(merr, "Failed to mount %s: %s", d.cfg.Image, outputOf(res, merr))
	}
	defer func() {
		// the caller's context may already be done; the image must still come off
		if res, uerr := d.run.Run(context.WithoutCancel(ctx), "umount", "-f", src); uerr != nil {
			d.log.Warn().Err(uerr).Str("dir", src).Str("output", res.Output()).Msg("umount failed")
		}
	}()

	return d.runInstaller(ctx, src, req, progress)
}

func (d *Driver) runInstaller(ctx context.Context, src string, req Request, progress func(float64, string)) error {
	params := Params{
		Authentication: req.Authentication,
		Disks:          append([]string{}, req.Disks...),
		JSON:           true,
		PoolName:       req.PoolName,
		PostInstall:    req.PostInstall,
		Src:            src,
	}
	if req.SQL != "" {
		sql := req.SQL
		params.SQL = &sql
	}
	stdin, err := json.Marshal(params)
	if err != nil {
		return insterr.Wrap(err, "Failed to encode installer parameters: %v", err)
	}

	cmd := shell.Cmd{Name: d.cfg.Command[0], Args: d.cfg.Command[1:], Dir: src, Stdin: stdin, Timeout: d.cfg.Timeout}
	d.log.Info().Str("cmd", strings.Join(d.cfg.Command, " ")).Strs("disks", req.Disks).Msg("starting installer")
	proc, err := d.run.Start(ctx, cmd)
	if err != nil {
		return insterr.Wrap(err, "Failed to start installer: %v", err)
	}

	var (
		terminal    string
		violation   string
		diagnostics strings.Builder
		readErr     error
	)
	events := NewEventReader(proc.Output())
	for {
		ev, err := events.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		switch ev.Kind {
		case EventProgress:
			progress(ev.Progress, ev.Message)
		case EventError:
			terminal = ev.Message
		case EventInvalid:
			d.log.Warn().Str("line", strings.TrimSpace(ev.Line)).Msg("unexpected installer output")
			if violation == "" {
				violation = "Invalid installer output: " + strings.TrimSpace(ev.Line)
			}
		case EventText:
			diagnostics.WriteString(ev.Line)
		}
	}
	if readErr != nil {
		// keep the pipe drained so the child can exit
		_, _ = io.Copy(io.Discard, proc.Output())
	}

	code, werr := proc.Wait()
	d.log.Info().Int("code", code).Err(werr).Msg("installer exited")
	if terminal == "" {
		terminal = violation
	}
	if code == 0 && werr == nil && readErr == nil && terminal == "" {
		return nil
	}

	msg := terminal
	if msg == "" {
		msg = strings.TrimSpace(diagnostics.String())
	}
	cause := werr
	if cause == nil {
		cause = readErr
	}
	if msg == "" {
		switch {
		case errors.Is(werr, shell.ErrTimeout):
			msg = fmt.Sprintf("Installer process timed out after %s", d.cfg.Timeout)
		case readErr != nil:
			msg = fmt.Sprintf("Failed to read installer output: %v", readErr)
		default:
			msg = fmt.Sprintf("Abnormal installer process termination with code %d", code)
		}
	}
	return &insterr.Error{Message: msg, Err: cause}
}

func outputOf(res shell.Result, err error) string {
	if out := res.Output(); out != "" {
		return out
	}
	return err.Error()
}
