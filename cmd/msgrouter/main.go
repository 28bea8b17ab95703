package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/internal/config"
	"github.com/rmacdonaldsmith/msgrouter-go/internal/logger"
)

const (
	// Application info
	appName    = "msgrouter"
	appVersion = "0.1.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
		adminAddr  string
		checkOnly  bool
	)

	cmd := &cobra.Command{
		Use:     appName,
		Short:   "Topic and content based message router",
		Version: appVersion,
		Long: `msgrouter dispatches messages to handlers registered against MQTT-style
topic patterns or content filters. Failed deliveries are captured in a bounded
dead letter queue that can be inspected and replayed through the admin API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logger.Level = logger.Level(logLevel)
			}
			if adminAddr != "" {
				cfg.Admin.Addr = adminAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if checkOnly {
				fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (%d routes)\n", len(cfg.Routes))
				return nil
			}

			log, err := logger.New(&cfg.Logger)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("Starting msgrouter", zap.String("version", appVersion))
			return run(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default: search ./msgrouter.yaml, ./config, ~/.msgrouter)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logger.level")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "Override admin.addr")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Validate the configuration and exit")

	return cmd
}

// run starts the daemon and blocks until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		a.close()
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-a.serveErr:
		log.Error("Admin API failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.shutdown(shutdownCtx)
}
