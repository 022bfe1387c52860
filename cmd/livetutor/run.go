package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/livetutor/internal/app"
	"github.com/MrWong99/livetutor/internal/config"
	"github.com/MrWong99/livetutor/internal/observe"
)

var runFlags struct {
	config  string
	segment string
	watch   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live tutoring session",
	Long: `Run fetches the conversation context for a segment, connects to the live
model and keeps the session going until Ctrl+C or /quit.

Without context_api.base_url in the config, the static prompt section is used.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.config, "config", "c", "config.yaml", "path to the YAML configuration file")
	runCmd.Flags().StringVarP(&runFlags.segment, "segment", "s", "", "segment identifier passed to the context API")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload the configuration file when it changes")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, _ []string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(runFlags.config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", runFlags.config)
		}
		return err
	}
	if cfg.ContextAPI.BaseURL != "" && runFlags.segment == "" {
		return errors.New("--segment is required when context_api.base_url is set")
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var levels slog.LevelVar
	levels.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Server.LogFormat, &levels))

	slog.Info("livetutor starting",
		"config", runFlags.config,
		"segment", runFlags.segment,
		"model", cfg.Live.Model,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Attributes:     []attribute.KeyValue{attribute.String("live.model", cfg.Live.Model)},
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	printStartupSummary(cmd.OutOrStdout(), cfg, runFlags.segment)

	opts := []app.Option{
		app.WithLevelVar(&levels),
		app.WithOutput(cmd.OutOrStdout()),
		app.WithInput(cmd.InOrStdin()),
	}
	if runFlags.watch {
		opts = append(opts, app.WithConfigWatch(runFlags.config))
	}
	application, err := app.New(cfg, runFlags.segment, opts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, segment string) {
	contextSource := "static prompt"
	if cfg.ContextAPI.BaseURL != "" {
		contextSource = cfg.ContextAPI.BaseURL
	}
	if segment == "" {
		segment = "(none)"
	}
	ops := "(disabled)"
	if cfg.Server.ListenAddr != "" {
		ops = cfg.Server.ListenAddr
	}
	reconnect := "off"
	if cfg.Session.Reconnect.Enabled {
		reconnect = fmt.Sprintf("%d retries", cfg.Session.Reconnect.MaxRetries)
	}

	fmt.Fprintln(w, "╔════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║        livetutor: startup summary          ║")
	fmt.Fprintln(w, "╠════════════════════════════════════════════╣")
	printRow(w, "Model", cfg.Live.Model)
	printRow(w, "Voice", cfg.Live.Voice)
	printRow(w, "Context", contextSource)
	printRow(w, "Segment", segment)
	printRow(w, "Reconnect", reconnect)
	printRow(w, "Ops addr", ops)
	fmt.Fprintln(w, "╚════════════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 28 {
		value = string(r[:27]) + "…"
	}
	fmt.Fprintf(w, "║  %-10s : %-28s ║\n", label, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
