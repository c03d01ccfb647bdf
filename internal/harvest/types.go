package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/cardname-harvester/internal/extract"
	"github.com/JakeFAU/cardname-harvester/internal/listing"
	"github.com/JakeFAU/cardname-harvester/internal/names"
)

// Mode selects how names are read from a listing page.
type Mode string

// Supported modes.
const (
	ModeFast   Mode = "fast"
	ModeDetail Mode = "detail"
)

var (
	// ErrInvalidMode is returned for modes other than fast or detail.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidRange is returned when start < 1 or end < start.
	ErrInvalidRange = errors.New("invalid page range")
)

// ParseMode converts user input into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeFast, ModeDetail:
		return m, nil
	case "":
		return ModeDetail, nil
	default:
		return "", fmt.Errorf("%w %q: want fast or detail", ErrInvalidMode, raw)
	}
}

// ListingFetcher fetches one listing page.
type ListingFetcher interface {
	Fetch(ctx context.Context, page int) (listing.Result, error)
}

// StateStore loads and union-saves the persisted name set.
type StateStore interface {
	Load() names.Set
	SaveUnion(current names.Set) (names.Set, error)
}

// NameExtractor resolves names from detail documents and anchor text.
type NameExtractor interface {
	Name(doc extract.Document) string
	AnchorName(text string) string
}

// Config controls the orchestrator.
type Config struct {
	RunID string
	// DetailWaitSelector must be present on a detail page before it is read.
	DetailWaitSelector string
	// DetailWorkers bounds concurrent detail fetches within one page.
	DetailWorkers int
	// ItemDelay is the minimum spacing between detail fetches across workers.
	ItemDelay time.Duration
	// PageDelay is slept after each checkpoint.
	PageDelay time.Duration
	Headers   http.Header
}

// Result summarizes a run.
type Result struct {
	Total        int
	PagesDone    int
	PagesSkipped int
	ItemsFailed  int
	Names        names.Set
}
