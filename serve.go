package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sat8bit/nexus/builder"
	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/server"
	"github.com/sat8bit/nexus/session"
	"github.com/sat8bit/nexus/voice"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			diag := bus.NewMemoryBus()
			defer diag.Close()
			setupLogger(os.Stderr, cfg.LogLevel, true, diag)

			cat, err := relationship.LoadCatalog()
			if err != nil {
				return err
			}
			gw, err := cfg.Gateway(ctx)
			if err != nil {
				return err
			}
			st, err := cfg.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			prompts, err := cfg.Prompts(gw)
			if err != nil {
				return err
			}

			var transcriber voice.Transcriber
			if cfg.SpeechToText {
				cs, err := voice.NewCloudSpeech(ctx, cfg.SpeechLanguage)
				if err != nil {
					return err
				}
				defer cs.Close()
				transcriber = cs
			}

			sessions := session.NewRegistry(st, gw, cat, session.Options{
				PoseDwell: cfg.PoseDwell,
				IdleAfter: cfg.IdleAfter,
			})
			srv := server.New(server.Config{
				Addr:        cfg.Addr,
				Sessions:    sessions,
				Builder:     builder.New(gw, cat, prompts),
				Catalog:     cat,
				Transcriber: transcriber,
				Diagnostics: diag,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			slog.Info("shutting down")
			if serr := srv.Stop(shutdownCtx); serr != nil {
				err = errors.Join(err, serr)
			}
			if cerr := sessions.Close(shutdownCtx); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides NEXUS_ADDR)")
	return cmd
}
