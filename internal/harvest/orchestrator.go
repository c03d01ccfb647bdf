package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/cardname-harvester/internal/dom"
	"github.com/JakeFAU/cardname-harvester/internal/metrics"
	"github.com/JakeFAU/cardname-harvester/internal/names"
	"github.com/JakeFAU/cardname-harvester/internal/render"
)

// DefaultDetailWaitSelector is waited for on every detail page.
const DefaultDetailWaitSelector = "h3, h1"

// Orchestrator walks a page range and checkpoints names after every page.
type Orchestrator struct {
	cfg      Config
	listing  ListingFetcher
	renderer render.Renderer
	chain    NameExtractor
	filter   *names.Filter
	store    StateStore
	metrics  *metrics.Metrics
	logger   *zap.Logger
	limiter  *rate.Limiter
	progress *Progress
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Listing  ListingFetcher
	Renderer render.Renderer
	Chain    NameExtractor
	Filter   *names.Filter
	Store    StateStore
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Progress *Progress
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Listing == nil:
		return nil, errors.New("harvest: listing fetcher is required")
	case deps.Chain == nil:
		return nil, errors.New("harvest: name extractor is required")
	case deps.Store == nil:
		return nil, errors.New("harvest: state store is required")
	}
	if cfg.DetailWorkers < 1 {
		cfg.DetailWorkers = 1
	}
	if cfg.DetailWaitSelector == "" {
		cfg.DetailWaitSelector = DefaultDetailWaitSelector
	}
	if deps.Filter == nil {
		deps.Filter = names.NewFilter(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = NewProgress(cfg.RunID)
	}
	limit := rate.Inf
	if cfg.ItemDelay > 0 {
		limit = rate.Every(cfg.ItemDelay)
	}
	return &Orchestrator{
		cfg:      cfg,
		listing:  deps.Listing,
		renderer: deps.Renderer,
		chain:    deps.Chain,
		filter:   deps.Filter,
		store:    deps.Store,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		limiter:  rate.NewLimiter(limit, 1),
		progress: deps.Progress,
	}, nil
}

// Progress exposes the live run snapshot.
func (o *Orchestrator) Progress() *Progress {
	return o.progress
}

// Run crawls pages start..end inclusive. Existing state seeds the run, a
// union save follows every page, and a final save always runs unless a
// checkpoint already failed. A cancelled ctx ends the run after the final
// save with ctx's error.
func (o *Orchestrator) Run(ctx context.Context, start, end int, mode Mode) (Result, error) {
	if start < 1 || end < start {
		return Result{}, fmt.Errorf("%w: start=%d end=%d", ErrInvalidRange, start, end)
	}
	if mode != ModeFast && mode != ModeDetail {
		return Result{}, fmt.Errorf("%w %q", ErrInvalidMode, mode)
	}
	if mode == ModeDetail && o.renderer == nil {
		return Result{}, errors.New("harvest: detail mode needs a renderer")
	}

	acc := o.store.Load()
	if acc.Len() > 0 {
		o.logger.Info("resume from existing state", zap.Int("names", acc.Len()))
	}
	o.metrics.SetNames(acc.Len())
	o.progress.update(func(s *Snapshot) {
		s.Mode, s.StartPage, s.EndPage = mode, start, end
		s.Names = acc.Len()
		s.Running = true
		s.StartedAt = time.Now().UTC()
	})
	defer o.progress.update(func(s *Snapshot) { s.Running = false })

	var res Result
	for page := start; page <= end; page++ {
		if ctx.Err() != nil {
			break
		}
		o.progress.update(func(s *Snapshot) { s.CurrentPage = page })

		found, failed, err := o.harvestPage(ctx, page, mode)
		res.ItemsFailed += failed
		if err != nil && ctx.Err() != nil {
			o.logger.Info("page interrupted", zap.Int("page", page))
			break
		}
		if err != nil {
			res.PagesSkipped++
		} else {
			res.PagesDone++
		}
		acc.Merge(found)

		saved, err := o.store.SaveUnion(acc)
		if err != nil {
			o.logger.Error("checkpoint failed", zap.Int("page", page), zap.Int("names", acc.Len()), zap.Error(err))
			res.Total = acc.Len()
			res.Names = acc
			return res, fmt.Errorf("checkpoint page %d: %w", page, err)
		}
		acc = saved
		o.metrics.SetNames(acc.Len())
		o.logger.Info("page complete",
			zap.Int("page", page),
			zap.Int("found", found.Len()),
			zap.Int("names", acc.Len()),
		)
		o.progress.update(func(s *Snapshot) {
			s.PagesDone, s.PagesSkipped, s.ItemsFailed = res.PagesDone, res.PagesSkipped, res.ItemsFailed
			s.Names = acc.Len()
		})

		if page < end {
			sleep(ctx, o.cfg.PageDelay)
		}
	}

	saved, err := o.store.SaveUnion(acc)
	if err != nil {
		o.logger.Error("final save failed", zap.Int("names", acc.Len()), zap.Error(err))
		res.Total = acc.Len()
		res.Names = acc
		return res, fmt.Errorf("final save: %w", err)
	}
	res.Total = saved.Len()
	res.Names = saved
	o.metrics.SetNames(res.Total)
	o.progress.update(func(s *Snapshot) {
		s.PagesDone, s.PagesSkipped, s.ItemsFailed = res.PagesDone, res.PagesSkipped, res.ItemsFailed
		s.Names = res.Total
	})
	o.logger.Info("run finished",
		zap.Int("total", res.Total),
		zap.Int("pages_done", res.PagesDone),
		zap.Int("pages_skipped", res.PagesSkipped),
		zap.Int("items_failed", res.ItemsFailed),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// harvestPage returns the names found on one page. A skipped page returns an
// empty set with its error; on cancellation the set is nil.
func (o *Orchestrator) harvestPage(ctx context.Context, page int, mode Mode) (names.Set, int, error) {
	lr, err := o.listing.Fetch(ctx, page)
	if err != nil {
		if ctx.Err() == nil {
			o.metrics.ObservePage(metrics.PageSkipped, lr.Attempts)
		}
		return names.NewSet(), 0, err
	}
	o.metrics.ObservePage(metrics.PageDone, lr.Attempts)

	found := &pageSet{set: names.NewSet()}
	if mode == ModeFast {
		for _, link := range lr.Links {
			o.metrics.ObserveItem(found.add(o.filter, o.chain.AnchorName(link.Text)))
		}
		return found.set, 0, nil
	}

	failed, err := o.visitDetails(ctx, page, lr.DetailURLs(), found)
	if err != nil {
		return nil, failed, err
	}
	return found.set, failed, nil
}

func (o *Orchestrator) visitDetails(ctx context.Context, page int, urls []string, found *pageSet) (int, error) {
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DetailWorkers)
	for _, url := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := o.limiter.Wait(gctx); err != nil {
				return err
			}
			name, err := o.visitDetail(gctx, url)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				o.metrics.ObserveItem(metrics.ItemFailed)
				o.logger.Warn("skip detail", zap.Int("page", page), zap.String("url", url), zap.Error(err))
				return nil
			}
			outcome := found.add(o.filter, name)
			if outcome == metrics.ItemEmpty {
				o.logger.Debug("no name extracted", zap.String("url", url))
			}
			o.metrics.ObserveItem(outcome)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(failed.Load()), err
}

func (o *Orchestrator) visitDetail(ctx context.Context, url string) (string, error) {
	p, err := o.renderer.Render(ctx, render.Request{
		URL:          url,
		WaitSelector: o.cfg.DetailWaitSelector,
		Headers:      o.cfg.Headers,
	})
	if err != nil {
		return "", fmt.Errorf("render detail: %w", err)
	}
	if err := render.CheckStatus(p); err != nil {
		return "", err
	}
	base := p.FinalURL
	if base == "" {
		base = url
	}
	doc, err := dom.Parse(p.HTML, base)
	if err != nil {
		return "", err
	}
	return o.chain.Name(doc), nil
}

// pageSet is the page-local accumulator shared by detail workers.
type pageSet struct {
	mu  sync.Mutex
	set names.Set
}

func (p *pageSet) add(filter *names.Filter, name string) string {
	switch {
	case name == "":
		return metrics.ItemEmpty
	case filter.IsArtifact(name):
		return metrics.ItemArtifact
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set.Add(name) {
		return metrics.ItemAdded
	}
	return metrics.ItemDuplicate
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
