package main

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"nithronos/zinstaller/internal/sysinfo"
	"nithronos/zinstaller/internal/tui"
)

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the interactive text menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context())
		},
	}
}

func runTUI(ctx context.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.close()

	m := &tui.Menu{
		Engine:    a.engine,
		Disks:     a.disks,
		Prompt:    tui.SurveyPrompter{},
		Out:       os.Stdout,
		Info:      sysinfo.Collect(ctx),
		BootPool:  a.cfg.BootPool,
		SerialSQL: sysinfo.SerialSQL,
		Exec:      interactive,
		Log:       a.log,
	}
	for {
		err := m.Run(ctx)
		if !errors.Is(err, tui.ErrShell) {
			return err
		}
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		if err := interactive(shell); err != nil {
			a.log.Warn().Err(err).Msg("shell exited")
		}
	}
}

// interactive runs name attached to the terminal.
func interactive(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
