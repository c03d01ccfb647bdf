package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/config"
	"github.com/JakeFAU/cardname-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/cardname-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/cardname-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/cardname-harvester/internal/harvest"
	"github.com/JakeFAU/cardname-harvester/internal/listing"
	"github.com/JakeFAU/cardname-harvester/internal/metrics"
	"github.com/JakeFAU/cardname-harvester/internal/names"
	"github.com/JakeFAU/cardname-harvester/internal/notify"
	"github.com/JakeFAU/cardname-harvester/internal/render"
	"github.com/JakeFAU/cardname-harvester/internal/state"
	"github.com/JakeFAU/cardname-harvester/internal/status"
)

type crawlFlags struct {
	start    int
	end      int
	mode     string
	workers  int
	renderer string
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl [start end [mode]]",
		Short: "Harvest names from a range of listing pages",
		Long: `Crawls listing pages start..end inclusive and merges every name found into
the state file. Mode is "detail" (visit every card page) or "fast" (read the
listing anchors only). Positional arguments take precedence over flags.`,
		Example: "  harvester crawl 1 100 fast\n  harvester crawl --start 5 --end 9 --workers 4",
		Args:    crawlArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, f)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&f.start, "start", 1, "first listing page")
	flags.IntVar(&f.end, "end", 420, "last listing page (inclusive)")
	flags.StringVar(&f.mode, "mode", "detail", "fast or detail")
	flags.IntVar(&f.workers, "workers", 1, "concurrent detail fetches per page")
	flags.StringVar(&f.renderer, "renderer", config.RendererHeadless, "headless or static")
	return cmd
}

func crawlArgs(_ *cobra.Command, args []string) error {
	if len(args) == 1 || len(args) > 3 {
		return fmt.Errorf("expected no arguments or start end [mode], got %d", len(args))
	}
	return nil
}

// applyCrawlOverrides layers changed flags, then positional args, onto cfg.
func applyCrawlOverrides(cfg *config.Config, cmd *cobra.Command, f crawlFlags, args []string) error {
	fl := cmd.Flags()
	if fl.Changed("start") {
		cfg.Crawl.Start = f.start
	}
	if fl.Changed("end") {
		cfg.Crawl.End = f.end
	}
	if fl.Changed("mode") {
		cfg.Crawl.Mode = f.mode
	}
	if fl.Changed("workers") {
		cfg.Crawl.DetailWorkers = f.workers
	}
	if fl.Changed("renderer") {
		cfg.Renderer.Kind = f.renderer
	}
	if len(args) >= 2 {
		start, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("start page %q: %w", args[0], err)
		}
		end, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("end page %q: %w", args[1], err)
		}
		cfg.Crawl.Start, cfg.Crawl.End = start, end
	}
	if len(args) == 3 {
		cfg.Crawl.Mode = args[2]
	}
	cfg.Crawl.Mode = strings.ToLower(strings.TrimSpace(cfg.Crawl.Mode))
	return cfg.Validate()
}

func runCrawl(cmd *cobra.Command, args []string, f crawlFlags) error {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfg
	if err := applyCrawlOverrides(&cfg, cmd, f, args); err != nil {
		return err
	}
	mode, err := harvest.ParseMode(cfg.Crawl.Mode)
	if err != nil {
		return err
	}
	logger := a.logger

	renderer, closeRenderer, err := buildRenderer(cfg.Renderer, cfg.Crawl.DetailWorkers)
	if err != nil {
		return err
	}
	defer closeRenderer()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	filter := names.NewFilter(cfg.Filter.Blacklist)
	store, err := state.New(cfg.State.Path, filter, logger.Named("state"), state.WithSaveObserver(m.ObserveSave))
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	headers := cfg.Crawl.RequestHeaders()
	lister, err := listing.New(listing.Config{
		URLTemplate:  cfg.Crawl.ListingURLTemplate,
		LinkSelector: cfg.Crawl.LinkSelector,
		RetryLimit:   cfg.Crawl.RetryLimit,
		RetryDelay:   cfg.Crawl.RetryDelay,
		Headers:      headers,
	}, renderer, logger.Named("listing"))
	if err != nil {
		return fmt.Errorf("init listing: %w", err)
	}

	progress := harvest.NewProgress(a.runID)
	orch, err := harvest.New(harvest.Config{
		RunID:              a.runID,
		DetailWaitSelector: cfg.Crawl.DetailWaitSelector,
		DetailWorkers:      cfg.Crawl.DetailWorkers,
		ItemDelay:          cfg.Crawl.ItemDelay,
		PageDelay:          cfg.Crawl.PageDelay,
		Headers:            headers,
	}, harvest.Deps{
		Listing:  lister,
		Renderer: renderer,
		Chain:    extract.NewChain(extract.DefaultStrategies()...),
		Filter:   filter,
		Store:    store,
		Metrics:  m,
		Logger:   logger.Named("harvest"),
		Progress: progress,
	})
	if err != nil {
		return fmt.Errorf("init harvest: %w", err)
	}

	stopStatus := startStatus(ctx, cfg.Status.Addr, status.NewServer(progress, m, reg, logger.Named("status")), logger)
	defer stopStatus()

	logger.Info("crawl starting",
		zap.Int("start", cfg.Crawl.Start),
		zap.Int("end", cfg.Crawl.End),
		zap.String("mode", string(mode)),
		zap.String("renderer", cfg.Renderer.Kind),
		zap.String("state", store.Path()),
	)
	res, err := orch.Run(ctx, cfg.Crawl.Start, cfg.Crawl.End, mode)
	interrupted := errors.Is(err, context.Canceled)
	switch {
	case interrupted:
		logger.Info("crawl interrupted", zap.Int("total", res.Total))
	case err != nil:
		return fmt.Errorf("run harvest: %w", err)
	}

	if cfg.Notify.Topic != "" {
		ev := notify.RunFinished{
			RunID:        a.runID,
			Mode:         string(mode),
			StartPage:    cfg.Crawl.Start,
			EndPage:      cfg.Crawl.End,
			Total:        res.Total,
			PagesDone:    res.PagesDone,
			PagesSkipped: res.PagesSkipped,
			ItemsFailed:  res.ItemsFailed,
			StatePath:    store.Path(),
			Interrupted:  interrupted,
			FinishedAt:   time.Now().UTC(),
		}
		if err := publishRunFinished(ctx, cfg.Notify, ev, logger); err != nil {
			logger.Warn("run notification failed", zap.Error(err))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d names into %s\n", res.Total, store.Path())
	return nil
}

// buildRenderer returns the renderer for kind and a close func.
func buildRenderer(cfg config.RendererConfig, workers int) (render.Renderer, func(), error) {
	switch cfg.Kind {
	case config.RendererStatic:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.NavTimeout,
		}), func() {}, nil
	case config.RendererHeadless, "":
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       headlessParallelism(cfg, workers),
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.NavTimeout,
			WindowWidth:       cfg.WindowWidth,
			WindowHeight:      cfg.WindowHeight,
			NoSandbox:         cfg.NoSandbox,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init headless renderer: %w", err)
		}
		return f, f.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown renderer %q", cfg.Kind)
	}
}

// headlessParallelism is the tab cap. Zero MaxParallel lets every detail
// worker hold a tab.
func headlessParallelism(cfg config.RendererConfig, workers int) int {
	if cfg.MaxParallel > 0 {
		return cfg.MaxParallel
	}
	return max(workers, 1)
}

// publishRunFinished announces ev. It runs after a cancelled crawl too, so it
// detaches from ctx and bounds itself with cfg.Timeout.
func publishRunFinished(ctx context.Context, cfg config.NotifyConfig, ev notify.RunFinished, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	defer client.Close()

	p, err := notify.New(client, cfg.Topic)
	if err != nil {
		return err
	}
	defer p.Stop()
	id, err := p.Publish(ctx, ev)
	if err != nil {
		return err
	}
	logger.Info("run notification published", zap.String("topic", cfg.Topic), zap.String("message_id", id))
	return nil
}

// startStatus serves srv on addr in the background. Empty addr is a no-op.
func startStatus(ctx context.Context, addr string, srv *status.Server, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx, addr); err != nil {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
