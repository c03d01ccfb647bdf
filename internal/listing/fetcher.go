// Package listing fetches catalog listing pages with bounded, flat-delay
// retries and turns them into detail references.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/dom"
	"github.com/JakeFAU/cardname-harvester/internal/render"
)

// PagePlaceholder is substituted with the page number in URLTemplate.
const PagePlaceholder = "{page}"

var (
	// ErrNoDetailLinks means a listing rendered without any detail link.
	ErrNoDetailLinks = errors.New("no detail links on listing page")
	// ErrPageSkipped means every attempt for a page failed.
	ErrPageSkipped = errors.New("listing page skipped")
)

// Config controls listing fetches.
type Config struct {
	URLTemplate  string
	LinkSelector string
	RetryLimit   int
	RetryDelay   time.Duration
	Headers      http.Header
}

// Validate checks the listing configuration.
func (c Config) Validate() error {
	if !strings.Contains(c.URLTemplate, PagePlaceholder) {
		return fmt.Errorf("listing url template must contain %s", PagePlaceholder)
	}
	if strings.TrimSpace(c.LinkSelector) == "" {
		return fmt.Errorf("listing link selector must be set")
	}
	if c.RetryLimit < 1 {
		return fmt.Errorf("listing retry limit must be >= 1")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("listing retry delay must be >= 0")
	}
	return nil
}

// Detail is one detail-page link found on a listing.
type Detail struct {
	URL  string
	Text string
}

// Result is the outcome of fetching one listing page.
type Result struct {
	Page     int
	URL      string
	Links    []Detail
	Attempts int
}

// DetailURLs returns the distinct detail URLs in first-seen order.
func (r Result) DetailURLs() []string {
	seen := make(map[string]struct{}, len(r.Links))
	out := make([]string, 0, len(r.Links))
	for _, l := range r.Links {
		if _, ok := seen[l.URL]; ok {
			continue
		}
		seen[l.URL] = struct{}{}
		out = append(out, l.URL)
	}
	return out
}

// Fetcher renders listing pages and retries failed attempts.
type Fetcher struct {
	cfg      Config
	renderer render.Renderer
	logger   *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, renderer render.Renderer, logger *zap.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, fmt.Errorf("listing renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, renderer: renderer, logger: logger}, nil
}

// PageURL maps a page number to its listing URL.
func (f *Fetcher) PageURL(page int) string {
	return strings.ReplaceAll(f.cfg.URLTemplate, PagePlaceholder, strconv.Itoa(page))
}

// Fetch renders the listing for page, retrying up to RetryLimit attempts with
// a flat RetryDelay between them. When every attempt fails the returned error
// wraps ErrPageSkipped and the Result still reports the attempt count.
func (f *Fetcher) Fetch(ctx context.Context, page int) (Result, error) {
	url := f.PageURL(page)
	f.logger.Info("open listing", zap.Int("page", page), zap.String("url", url))

	var (
		result   Result
		attempts int
	)
	operation := func() error {
		attempts++
		res, err := f.attempt(ctx, page, url)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}
	policy := backoff.WithContext(f.retryPolicy(), ctx)
	notify := func(err error, next time.Duration) {
		f.logger.Warn("listing attempt failed",
			zap.Int("page", page),
			zap.Int("attempt", attempts),
			zap.Int("limit", f.cfg.RetryLimit),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Page: page, URL: url, Attempts: attempts}, fmt.Errorf("fetch page %d: %w", page, ctxErr)
		}
		f.logger.Warn("skip page after retries",
			zap.Int("page", page),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return Result{Page: page, URL: url, Attempts: attempts},
			fmt.Errorf("%w: page %d after %d attempts: %w", ErrPageSkipped, page, attempts, err)
	}
	result.Attempts = attempts
	f.logger.Info("found detail links", zap.Int("page", page), zap.Int("links", len(result.Links)))
	return result, nil
}

// retryPolicy allows RetryLimit-1 retries. WithMaxRetries treats zero as
// unlimited, so a single-attempt limit stops outright.
func (f *Fetcher) retryPolicy() backoff.BackOff {
	if f.cfg.RetryLimit <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(f.cfg.RetryDelay), uint64(f.cfg.RetryLimit-1))
}

func (f *Fetcher) attempt(ctx context.Context, page int, url string) (Result, error) {
	p, err := f.renderer.Render(ctx, render.Request{
		URL:          url,
		WaitSelector: f.cfg.LinkSelector,
		Headers:      f.cfg.Headers,
	})
	if err != nil {
		return Result{}, fmt.Errorf("render listing: %w", err)
	}
	if err := render.CheckStatus(p); err != nil {
		return Result{}, err
	}
	base := p.FinalURL
	if base == "" {
		base = url
	}
	doc, err := dom.Parse(p.HTML, base)
	if err != nil {
		return Result{}, err
	}
	anchors := doc.Anchors(f.cfg.LinkSelector)
	if len(anchors) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoDetailLinks, url)
	}
	links := make([]Detail, 0, len(anchors))
	for _, a := range anchors {
		links = append(links, Detail{URL: a.Href, Text: a.Text})
	}
	return Result{Page: page, URL: url, Links: links}, nil
}
