package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/buslog"
	"github.com/sat8bit/nexus/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "nexus",
		Short:         "Character forge and companion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(sessionsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// setupLogger は既定のロガーを差し替えます。diag があれば、セッションに紐づくログをそのバスにも流します。
func setupLogger(w io.Writer, level string, json bool, diag bus.Bus) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	if diag != nil {
		h = buslog.NewBusHandler(diag, h, slog.LevelDebug)
	}
	slog.SetDefault(slog.New(h))
}
