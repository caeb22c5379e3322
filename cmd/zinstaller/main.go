package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nithronos/zinstaller/internal/config"
	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/logging"
	"nithronos/zinstaller/internal/metrics"
	"nithronos/zinstaller/pkg/shell"
)

var (
	// Version info (set by build)
	Version   = "dev"
	GitCommit = "unknown"

	cfgFile  string
	logLevel string
)

// app is everything a command needs, built once flags are parsed.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	run     shell.Runner
	disks   disks.Lister
	engine  *installer.Engine
	close   func() error
}

func newApp(console io.Writer) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		lvl, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		cfg.LogLevel = lvl
	}
	log, closeLog := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: console})
	if cfg.File != "" {
		log.Debug().Str("file", cfg.File).Msg("using config file")
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(Version, GitCommit)
	}
	run := metrics.InstrumentRunner(shell.NewExec(cfg.CommandTimeout, log), m)
	lister := disks.LsblkLister{Runner: run}
	e := installer.New(cfg, run, lister, log)
	if m != nil {
		e.Metrics = m
	}
	return &app{cfg: cfg, log: log, metrics: m, run: run, disks: lister, engine: e, close: closeLog}, nil
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("installer must be run as root")
	}
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zinstaller",
		Short: "ZFS boot pool installer",
		Long: `zinstaller partitions the selected disks, creates the ZFS boot pool and an
optional storage pool, and runs the operating system installer on top of them.

Without a subcommand it starts the text menu.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/zinstaller/zinstaller.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newTUICmd(),
		newServeCmd(),
		newDisksCmd(),
		newInstallCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
