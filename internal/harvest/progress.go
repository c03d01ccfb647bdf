package harvest

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID        string    `json:"run_id"`
	Mode         Mode      `json:"mode"`
	StartPage    int       `json:"start_page"`
	EndPage      int       `json:"end_page"`
	CurrentPage  int       `json:"current_page"`
	PagesDone    int       `json:"pages_done"`
	PagesSkipped int       `json:"pages_skipped"`
	ItemsFailed  int       `json:"items_failed"`
	Names        int       `json:"names"`
	Running      bool      `json:"running"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress tracks a run for the status endpoint. It is safe for concurrent use.
type Progress struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewProgress returns an idle Progress.
func NewProgress(runID string) *Progress {
	return &Progress{snap: Snapshot{RunID: runID}}
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *Progress) update(fn func(*Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	p.snap.UpdatedAt = time.Now().UTC()
	p.mu.Unlock()
}
