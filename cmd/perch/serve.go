package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/agent"
	"github.com/ehrlich-b/perch/internal/claude"
	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/debuglog"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/sandbox"
	"github.com/ehrlich-b/perch/internal/secrets"
	"github.com/ehrlich-b/perch/internal/server"
	"github.com/ehrlich-b/perch/internal/session"
	"github.com/ehrlich-b/perch/internal/store"
)

func serveCmd() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFlag)
			if err != nil {
				// Fail fast: a fresh deployment learns everything that is
				// missing in one shot.
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			ring := debuglog.New()
			if err := logger.Init(cfg.LogLevel, cfg.LogFile, ring); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			box, err := secrets.New(cfg.EncryptionKey)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			tokens := &claude.TokenStore{Store: st, Box: box}
			oauth := &claude.Client{}
			sb := sandbox.New(cfg.ContainerName, cfg.ContainerImage)
			mgr := session.NewManager(st, agent.NewClaude())

			srv := server.New(cfg, st, tokens, oauth, mgr, sb, ring, version)
			httpSrv := &http.Server{
				Addr:    cfg.Addr(),
				Handler: srv,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("perch listening", "addr", cfg.Addr(), "version", version)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				mgr.Interrupt()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&configFlag, "config", "", "path to perch.yaml (optional; env vars take precedence)")
	return cmd
}
