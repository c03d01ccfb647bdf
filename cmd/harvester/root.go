package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/config"
	"github.com/JakeFAU/cardname-harvester/internal/logging"
	"github.com/JakeFAU/cardname-harvester/internal/runid"
)

type appKeyType string

const appKey appKeyType = "app"

// app carries the services shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
}

func (a *app) Close() {
	_ = a.logger.Sync()
}

// newApp is a variable so tests can inject a config without touching disk.
var newApp = func(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	id, err := runid.New()
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger.With(zap.String("run_id", id)), runID: id}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Collects card names from the catalog into a resumable state file.",
		Long: `harvester walks the catalog listing pages, reads each card's name from
its detail page (or from the listing anchors in fast mode) and merges the
result into a sorted JSON state file after every page. Interrupted runs can
be restarted over the same range without losing names.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(), newExportCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		return 1
	}
	return 0
}
