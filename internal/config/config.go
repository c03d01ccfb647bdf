// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// DefaultListingURLTemplate is the catalog search sorted by newest release.
const DefaultListingURLTemplate = "https://dm.takaratomy.co.jp/card/?v=%7B%22suggest%22:%22on%22,%22keyword_type%22:[%22card_name%22,%22card_ruby%22,%22card_text%22],%22culture_cond%22:[%22%E5%8D%98%E8%89%B2%22,%22%E5%A4%9A%E8%89%B2%22],%22pagenum%22:%22{page}%22,%22samename%22:%22show%22,%22sort%22:%22release_new%22%7D"

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

// Renderer kinds.
const (
	RendererHeadless = "headless"
	RendererStatic   = "static"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Renderer RendererConfig `mapstructure:"renderer"`
	State    StateConfig    `mapstructure:"state"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Status   StatusConfig   `mapstructure:"status"`
	Export   ExportConfig   `mapstructure:"export"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// CrawlConfig governs the page range and the fetch pipeline.
type CrawlConfig struct {
	ListingURLTemplate string            `mapstructure:"listing_url_template"`
	LinkSelector       string            `mapstructure:"link_selector"`
	DetailWaitSelector string            `mapstructure:"detail_wait_selector"`
	Start              int               `mapstructure:"start"`
	End                int               `mapstructure:"end"`
	Mode               string            `mapstructure:"mode"`
	RetryLimit         int               `mapstructure:"retry_limit"`
	RetryDelay         time.Duration     `mapstructure:"retry_delay"`
	PageDelay          time.Duration     `mapstructure:"page_delay"`
	ItemDelay          time.Duration     `mapstructure:"item_delay"`
	DetailWorkers      int               `mapstructure:"detail_workers"`
	Headers            map[string]string `mapstructure:"headers"`
}

// RendererConfig selects and tunes the page renderer.
type RendererConfig struct {
	Kind         string        `mapstructure:"kind"`
	UserAgent    string        `mapstructure:"user_agent"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`
	// MaxParallel caps concurrent headless tabs. Zero follows
	// crawl.detail_workers.
	MaxParallel  int           `mapstructure:"max_parallel"`
}

// StateConfig locates the persisted name set.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// FilterConfig overrides the artifact blacklist. Empty keeps the built-in list.
type FilterConfig struct {
	Blacklist []string `mapstructure:"blacklist"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StatusConfig enables the status server. Empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig controls snapshot exports.
type ExportConfig struct {
	Format    string `mapstructure:"format"`
	Out       string `mapstructure:"out"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// NotifyConfig publishes a run-finished event when Topic is set.
type NotifyConfig struct {
	ProjectID string        `mapstructure:"project_id"`
	Topic     string        `mapstructure:"topic"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.listing_url_template", DefaultListingURLTemplate)
	v.SetDefault("crawl.link_selector", `a[href*="/card/detail/?id="]`)
	v.SetDefault("crawl.detail_wait_selector", "h3, h1")
	v.SetDefault("crawl.start", 1)
	v.SetDefault("crawl.end", 420)
	v.SetDefault("crawl.mode", "detail")
	v.SetDefault("crawl.retry_limit", 3)
	v.SetDefault("crawl.retry_delay", 2*time.Second)
	v.SetDefault("crawl.page_delay", 100*time.Millisecond)
	v.SetDefault("crawl.item_delay", 50*time.Millisecond)
	v.SetDefault("crawl.detail_workers", 1)
	v.SetDefault("renderer.kind", RendererHeadless)
	v.SetDefault("renderer.user_agent", DefaultUserAgent)
	v.SetDefault("renderer.nav_timeout", 15*time.Second)
	v.SetDefault("renderer.window_width", 1280)
	v.SetDefault("renderer.window_height", 2000)
	v.SetDefault("renderer.no_sandbox", true)
	v.SetDefault("renderer.max_parallel", 0)
	v.SetDefault("state.path", "public/cardnames.json")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("status.addr", "")
	v.SetDefault("export.format", "csv")
	v.SetDefault("export.out", "dm_cardnames.csv")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.gcs_object", "")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.timeout", 10*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Crawl.ListingURLTemplate, "{page}") {
		return fmt.Errorf("crawl.listing_url_template must contain {page}")
	}
	if strings.TrimSpace(c.Crawl.LinkSelector) == "" {
		return fmt.Errorf("crawl.link_selector must be set")
	}
	if c.Crawl.Start < 1 {
		return fmt.Errorf("crawl.start must be >= 1")
	}
	if c.Crawl.End < c.Crawl.Start {
		return fmt.Errorf("crawl.end must be >= crawl.start")
	}
	switch c.Crawl.Mode {
	case "fast", "detail":
	default:
		return fmt.Errorf("crawl.mode must be fast or detail, got %q", c.Crawl.Mode)
	}
	if c.Crawl.RetryLimit < 1 {
		return fmt.Errorf("crawl.retry_limit must be >= 1")
	}
	if c.Crawl.RetryDelay < 0 || c.Crawl.PageDelay < 0 || c.Crawl.ItemDelay < 0 {
		return fmt.Errorf("crawl delays must be >= 0")
	}
	if c.Crawl.DetailWorkers < 1 {
		return fmt.Errorf("crawl.detail_workers must be >= 1")
	}
	switch c.Renderer.Kind {
	case RendererHeadless, RendererStatic:
	default:
		return fmt.Errorf("renderer.kind must be headless or static, got %q", c.Renderer.Kind)
	}
	if c.Renderer.NavTimeout <= 0 {
		return fmt.Errorf("renderer.nav_timeout must be > 0")
	}
	if c.Renderer.MaxParallel < 0 {
		return fmt.Errorf("renderer.max_parallel must be >= 0")
	}
	if strings.TrimSpace(c.State.Path) == "" {
		return fmt.Errorf("state.path must be set")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Export.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("export.format must be csv or json, got %q", c.Export.Format)
	}
	if (c.Export.GCSBucket == "") != (c.Export.GCSObject == "") {
		return fmt.Errorf("export.gcs_bucket and export.gcs_object must be set together")
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	if c.Notify.Topic != "" && c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be > 0")
	}
	return nil
}

// RequestHeaders converts the configured headers for renderers.
func (c CrawlConfig) RequestHeaders() http.Header {
	if len(c.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}
