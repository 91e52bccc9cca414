package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quillback/parley/internal/bridge"
	"github.com/quillback/parley/internal/config"
	"github.com/quillback/parley/internal/event"
	"github.com/quillback/parley/internal/logging"
	"github.com/quillback/parley/internal/prompt"
	"github.com/quillback/parley/internal/session"
	"github.com/quillback/parley/internal/transport/console"
	slacktransport "github.com/quillback/parley/internal/transport/slack"
	"github.com/quillback/parley/internal/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent session and serve the configured transport",
	Long: `Start the agent process on a pseudo-terminal, bridge it to the configured
chat transport, and keep both alive until interrupted.

The console transport reads lines from stdin; the slack transport connects
over Socket Mode. Either way, plain text becomes agent turns and slash
commands (/reset, /status, /kill, /cd, /model, /files) control the session.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("transport", "", "transport kind: console or slack (overrides config)")
	runCmd.Flags().String("workdir", "", "agent working directory (overrides config)")
	runCmd.Flags().String("model", "", "agent model name (overrides config)")
	_ = viper.BindPFlag("transport.kind", runCmd.Flags().Lookup("transport"))
	_ = viper.BindPFlag("agent.workdir", runCmd.Flags().Lookup("workdir"))
	_ = viper.BindPFlag("agent.model", runCmd.Flags().Lookup("model"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires the session stack to the transport and blocks until the
// transport returns. Shutdown order is transport, bridge, serializer,
// supervisor, watcher: each stage stops feeding the one below it.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	matcher, err := prompt.NewMatcher(cfg.Agent.PromptPattern)
	if err != nil {
		return fmt.Errorf("compile prompt pattern: %w", err)
	}

	bus := event.NewBus()
	bus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", "type", e.EventType())
	})

	var workspace *watch.Watcher
	if cfg.Watch.Enabled {
		baseDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workspace = watch.NewWatcher(cfg.Watch, logger)
		if err := workspace.Start(cfg.Agent.ResolveWorkdir(baseDir)); err != nil {
			// The bridge runs fine without change tracking.
			logger.Warn("file tracking disabled", "error", err)
			workspace = nil
		}
	}

	sink, runTransport, err := buildTransport(cfg.Transport, logger)
	if err != nil {
		if workspace != nil {
			workspace.Stop()
		}
		return err
	}

	sup := session.NewSupervisor(cfg.Agent, cfg.Session, matcher, bus, logger)
	ser := session.NewSerializer(sup, matcher, cfg.Turn, bus, logger)

	opts := []bridge.Option{bridge.WithLogger(logger)}
	if workspace != nil {
		opts = append(opts, bridge.WithWorkspace(workspace))
	}
	b := bridge.New(sup, ser, bus, sink, opts...)

	if err := b.Start(ctx); err != nil {
		ser.Close()
		if workspace != nil {
			workspace.Stop()
		}
		return err
	}

	if err := sup.Start(); err != nil {
		b.Stop()
		ser.Close()
		if workspace != nil {
			workspace.Stop()
		}
		return fmt.Errorf("start agent session: %w", err)
	}

	logger.Info("parley running", "transport", cfg.Transport.Kind)
	err = runTransport(ctx, b)

	b.Stop()
	ser.Close()
	if stopErr := sup.Stop("shutdown"); stopErr != nil {
		logger.Warn("session stop failed", "error", stopErr)
	}
	if workspace != nil {
		workspace.Stop()
	}
	logger.Info("parley stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// buildTransport returns the outbound sink and a function that runs the
// inbound side against a bridge. The two transports declare their own
// handler interfaces, so the run side closes over the concrete type.
func buildTransport(cfg config.TransportConfig, logger *logging.Logger) (bridge.Sink, func(context.Context, *bridge.Bridge) error, error) {
	switch cfg.Kind {
	case "console":
		c := console.New(console.WithLogger(logger))
		run := func(ctx context.Context, b *bridge.Bridge) error {
			return c.Run(ctx, b)
		}
		return c, run, nil

	case "slack":
		s, err := slacktransport.New(cfg.Slack, slacktransport.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("configure slack transport: %w", err)
		}
		run := func(ctx context.Context, b *bridge.Bridge) error {
			return s.Run(ctx, b)
		}
		return s, run, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q (valid: %s)",
			cfg.Kind, strings.Join(config.ValidTransportKinds(), ", "))
	}
}

func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	if !cfg.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewRotatingLogger(cfg.Dir, cfg.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
}
