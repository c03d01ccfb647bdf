// Package export writes the persisted name set as CSV or JSON, locally and
// optionally to object storage.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/names"
	"github.com/JakeFAU/cardname-harvester/internal/state"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Source yields the names to export.
type Source interface {
	Load() names.Set
}

// Uploader stores an exported payload remotely and returns its URI.
type Uploader interface {
	Put(ctx context.Context, object, contentType string, r io.Reader) (string, error)
}

// Options selects the output of one export.
type Options struct {
	Format string
	// Out is a local file path; empty skips the local write.
	Out string
	// Object is the remote object name; empty skips the upload.
	Object string
}

// Report describes a finished export.
type Report struct {
	Names int
	Bytes int
	Path  string
	URI   string
}

// Exporter reads a Source and writes it out.
type Exporter struct {
	source   Source
	filter   *names.Filter
	uploader Uploader
	logger   *zap.Logger
}

// New builds an Exporter. A nil filter exports the source unchanged; uploader
// may be nil when no remote target is used.
func New(source Source, filter *names.Filter, uploader Uploader, logger *zap.Logger) (*Exporter, error) {
	if source == nil {
		return nil, fmt.Errorf("export source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, filter: filter, uploader: uploader, logger: logger}, nil
}

// Export encodes the source once and writes it to every configured target.
func (e *Exporter) Export(ctx context.Context, opts Options) (Report, error) {
	if opts.Out == "" && opts.Object == "" {
		return Report{}, fmt.Errorf("export needs an output path or object")
	}
	if opts.Object != "" && e.uploader == nil {
		return Report{}, fmt.Errorf("export object %q set without an uploader", opts.Object)
	}
	set := e.source.Load()
	if e.filter != nil {
		set = e.filter.Clean(set)
	}
	payload, contentType, err := Encode(opts.Format, set)
	if err != nil {
		return Report{}, err
	}
	report := Report{Names: set.Len(), Bytes: len(payload)}

	if opts.Out != "" {
		if err := writeFile(opts.Out, payload); err != nil {
			return report, err
		}
		report.Path = opts.Out
		e.logger.Info("export written", zap.String("path", opts.Out), zap.Int("names", report.Names))
	}
	if opts.Object != "" {
		uri, err := e.uploader.Put(ctx, opts.Object, contentType, bytes.NewReader(payload))
		if err != nil {
			return report, fmt.Errorf("upload export: %w", err)
		}
		report.URI = uri
		e.logger.Info("export uploaded", zap.String("uri", uri), zap.Int("names", report.Names))
	}
	return report, nil
}

// Encode renders set in format and returns the payload with its content type.
// CSV is one name per row in ascending order with no header row.
func Encode(format string, set names.Set) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case FormatCSV, "":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		w.UseCRLF = true
		for _, name := range set.Sorted() {
			if err := w.Write([]string{name}); err != nil {
				return nil, "", fmt.Errorf("encode csv: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", fmt.Errorf("encode csv: %w", err)
		}
		return buf.Bytes(), "text/csv; charset=utf-8", nil
	case FormatJSON:
		payload, err := state.Encode(set)
		if err != nil {
			return nil, "", err
		}
		return payload, "application/json; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

func writeFile(path string, payload []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
