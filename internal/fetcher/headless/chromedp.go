// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/cardname-harvester/internal/render"
)

const (
	defaultNavTimeout   = 15 * time.Second
	defaultWindowWidth  = 1280
	defaultWindowHeight = 2000
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int
	NoSandbox         bool
}

// Fetcher implements render.Renderer using chromedp. One browser process is
// shared; every Render call gets its own tab, so attempts are independent.
// A browser that failed to start or has exited is relaunched on the next
// Render.
type Fetcher struct {
	cfg     Config
	limiter chan struct{}
	launch  func() (context.Context, context.CancelFunc, error)

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a headless renderer. Chrome starts lazily on the first
// Render call.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = defaultWindowWidth, defaultWindowHeight
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	return &Fetcher{
		cfg:     cfg,
		limiter: limiter,
		launch:  func() (context.Context, context.CancelFunc, error) { return launchBrowser(opts) },
	}, nil
}

// launchBrowser starts Chrome and returns its browser context. Tabs created
// from an unstarted browser context would each allocate their own Chrome.
func launchBrowser(opts []chromedp.ExecAllocatorOption) (context.Context, context.CancelFunc, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}
	return browserCtx, cancel, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCancel != nil {
		f.browserCancel()
	}
	f.browser, f.browserCancel = nil, nil
}

// browserContext returns the live browser, relaunching it when the previous
// one never started or has gone away.
func (f *Fetcher) browserContext() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil && f.browser.Err() == nil {
		return f.browser, nil
	}
	if f.browserCancel != nil {
		f.browserCancel()
	}
	f.browser, f.browserCancel = nil, nil

	browser, cancel, err := f.launch()
	if err != nil {
		return nil, err
	}
	f.browser, f.browserCancel = browser, cancel
	return browser, nil
}

// Render navigates to the URL, waits for req.WaitSelector within the
// navigation timeout, and returns the rendered DOM.
func (f *Fetcher) Render(ctx context.Context, req render.Request) (render.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return render.Page{}, err
	}
	defer f.release()

	browser, err := f.browserContext()
	if err != nil {
		return render.Page{}, fmt.Errorf("render %s: %w", req.URL, err)
	}
	tabCtx, tabCancel := chromedp.NewContext(browser)
	defer tabCancel()

	taskCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := f.runHeadless(taskCtx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return render.Page{}, fmt.Errorf("render %s: %w", req.URL, errors.Join(ctxErr, err))
		}
		return render.Page{}, fmt.Errorf("render %s: %w", req.URL, err)
	}

	status, url := meta.snapshotWithFallbacks(req.URL, finalURL)
	return render.Page{
		URL:        req.URL,
		FinalURL:   url,
		StatusCode: status,
		HTML:       html,
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, req render.Request) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	waitSel := req.WaitSelector
	if waitSel == "" {
		waitSel = "body"
	}
	actions := []chromedp.Action{
		f.networkSetupAction(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(waitSel, chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// responseMeta records the first document response, which is the main frame's.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.url != "" {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
