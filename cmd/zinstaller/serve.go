package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nithronos/zinstaller/internal/server"
)

func newServeCmd() *cobra.Command {
	var bind string
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve disk discovery and installation over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot(); err != nil {
				return err
			}
			a, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.close()
			if bind == "" {
				bind = a.cfg.HTTPBind
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			jobs, cancelJobs := context.WithCancel(context.Background())
			defer cancelJobs()

			s := server.New(jobs, server.Options{
				Engine:         a.engine,
				Disks:          a.disks,
				Metrics:        a.metrics,
				Version:        Version,
				AllowedOrigins: origins,
				Log:            a.log,
			})
			srv := &http.Server{Addr: bind, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.log.Info().Str("addr", bind).Msg("listening")

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			// a running installation is rolled back before exiting
			cancelJobs()
			s.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (default http.bind)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origin, repeatable")
	return cmd
}
