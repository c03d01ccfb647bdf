package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/cardname-harvester/internal/fetcher/colly"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.State.Path = filepath.Join(t.TempDir(), "public", "cardnames.json")
	cfg.Crawl.RetryDelay = time.Millisecond
	cfg.Crawl.PageDelay = 0
	cfg.Crawl.ItemDelay = 0
	return cfg
}

// useApp swaps newApp for the duration of the test.
func useApp(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := newApp
	newApp = func(string) (*app, error) {
		return &app{cfg: cfg, logger: zap.NewNop(), runID: "run-test"}, nil
	}
	t.Cleanup(func() { newApp = prev })
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlArgs(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr bool
	}{
		{args: nil},
		{args: []string{"1", "100"}},
		{args: []string{"1", "100", "fast"}},
		{args: []string{"1"}, wantErr: true},
		{args: []string{"1", "2", "fast", "extra"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.args), func(t *testing.T) {
			err := crawlArgs(nil, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func parsedCrawlCmd(t *testing.T, flagArgs ...string) (*cobra.Command, *crawlFlags) {
	t.Helper()
	cmd := newCrawlCmd()
	require.NoError(t, cmd.ParseFlags(flagArgs))
	f := crawlFlags{}
	fl := cmd.Flags()
	var err error
	f.start, err = fl.GetInt("start")
	require.NoError(t, err)
	f.end, err = fl.GetInt("end")
	require.NoError(t, err)
	f.mode, err = fl.GetString("mode")
	require.NoError(t, err)
	f.workers, err = fl.GetInt("workers")
	require.NoError(t, err)
	f.renderer, err = fl.GetString("renderer")
	require.NoError(t, err)
	return cmd, &f
}

func TestApplyCrawlOverrides(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		cfg := testConfig(t)
		cmd, f := parsedCrawlCmd(t, "--start", "5", "--end", "9", "--mode", "FAST", "--workers", "3", "--renderer", "static")
		require.NoError(t, applyCrawlOverrides(&cfg, cmd, *f, nil))
		require.Equal(t, 5, cfg.Crawl.Start)
		require.Equal(t, 9, cfg.Crawl.End)
		require.Equal(t, "fast", cfg.Crawl.Mode)
		require.Equal(t, 3, cfg.Crawl.DetailWorkers)
		require.Equal(t, config.RendererStatic, cfg.Renderer.Kind)
	})
	t.Run("positional beats flags", func(t *testing.T) {
		cfg := testConfig(t)
		cmd, f := parsedCrawlCmd(t, "--start", "5", "--end", "9")
		require.NoError(t, applyCrawlOverrides(&cfg, cmd, *f, []string{"1", "100", "fast"}))
		require.Equal(t, 1, cfg.Crawl.Start)
		require.Equal(t, 100, cfg.Crawl.End)
		require.Equal(t, "fast", cfg.Crawl.Mode)
	})
	t.Run("unchanged flags keep config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Crawl.End = 12
		cmd, f := parsedCrawlCmd(t)
		require.NoError(t, applyCrawlOverrides(&cfg, cmd, *f, nil))
		require.Equal(t, 12, cfg.Crawl.End)
		require.Equal(t, "detail", cfg.Crawl.Mode)
	})
	t.Run("non numeric page", func(t *testing.T) {
		cfg := testConfig(t)
		cmd, f := parsedCrawlCmd(t)
		require.ErrorContains(t, applyCrawlOverrides(&cfg, cmd, *f, []string{"one", "2"}), "start page")
	})
	t.Run("end before start", func(t *testing.T) {
		cfg := testConfig(t)
		cmd, f := parsedCrawlCmd(t)
		require.ErrorContains(t, applyCrawlOverrides(&cfg, cmd, *f, []string{"9", "2"}), "crawl.end")
	})
	t.Run("unknown mode", func(t *testing.T) {
		cfg := testConfig(t)
		cmd, f := parsedCrawlCmd(t)
		require.ErrorContains(t, applyCrawlOverrides(&cfg, cmd, *f, []string{"1", "2", "turbo"}), "crawl.mode")
	})
}

func TestBuildRendererStatic(t *testing.T) {
	r, closeFn, err := buildRenderer(config.RendererConfig{Kind: config.RendererStatic, NavTimeout: time.Second}, 1)
	require.NoError(t, err)
	defer closeFn()
	require.IsType(t, &collyfetcher.Fetcher{}, r)

	_, _, err = buildRenderer(config.RendererConfig{Kind: "lynx"}, 1)
	require.Error(t, err)
}

func TestHeadlessParallelismFollowsWorkers(t *testing.T) {
	require.Equal(t, 4, headlessParallelism(config.RendererConfig{}, 4))
	require.Equal(t, 1, headlessParallelism(config.RendererConfig{}, 0))
	require.Equal(t, 2, headlessParallelism(config.RendererConfig{MaxParallel: 2}, 4))
}

func newCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/card/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Query().Get("pagenum") {
		case "1":
			fmt.Fprint(w, `<html><body>
<a href="/card/detail/?id=1">Phoenix Blade (DM25/BD1)</a>
<a href="/card/detail/?id=2">ボルシャック・ドラゴン (DM01/1)</a>
</body></html>`)
		case "2":
			fmt.Fprint(w, `<html><body><a href="/card/detail/?id=3">Aqua Hulcus</a></body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlCommandFastModeStatic(t *testing.T) {
	srv := newCatalog(t)
	cfg := testConfig(t)
	cfg.Crawl.ListingURLTemplate = srv.URL + "/card/?pagenum={page}"
	cfg.Renderer.Kind = config.RendererStatic
	useApp(t, cfg)

	out, err := runRoot(t, "crawl", "1", "3", "fast")
	require.NoError(t, err)
	require.Contains(t, out, "collected 3 names")

	raw, err := os.ReadFile(cfg.State.Path)
	require.NoError(t, err)
	require.Equal(t, "[\n  \"Aqua Hulcus\",\n  \"Phoenix Blade\",\n  \"ボルシャック・ドラゴン\"\n]\n", string(raw))
}

func TestExportCommandWritesCSV(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.State.Path), 0o755))
	require.NoError(t, os.WriteFile(cfg.State.Path, []byte(`["Beta","Alpha","503 Service Unavailable"]`), 0o644))
	useApp(t, cfg)

	outPath := filepath.Join(t.TempDir(), "dm_cardnames.csv")
	out, err := runRoot(t, "export", "--out", outPath)
	require.NoError(t, err)
	require.Contains(t, out, "exported 2 names")

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, "Alpha\r\nBeta\r\n", string(raw))
}

func TestExportCommandRejectsHalfGCSTarget(t *testing.T) {
	useApp(t, testConfig(t))
	_, err := runRoot(t, "export", "--gcs-bucket", "bucket")
	require.ErrorContains(t, err, "export.gcs_bucket")
}
