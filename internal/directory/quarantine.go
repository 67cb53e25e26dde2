package directory

import (
	"sync"

	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Quarantine tracks miners excluded from selection for the rest of the
// phase. Used when retry_failed is disabled: a miner whose dispatch failed
// outright (refused connection, bad endpoint) is not re-selected.
type Quarantine struct {
	enabled bool

	mu       sync.Mutex
	excluded map[string]struct{}
}

// NewQuarantine creates a quarantine list. When enabled is false every
// operation is a no-op and no miner is ever excluded.
func NewQuarantine(enabled bool) *Quarantine {
	return &Quarantine{
		enabled:  enabled,
		excluded: make(map[string]struct{}),
	}
}

// Add excludes a miner from future rounds of this phase
func (q *Quarantine) Add(uid string) {
	if !q.enabled {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.excluded[uid]; !ok {
		q.excluded[uid] = struct{}{}
		util.Debugf("Miner %s quarantined for the rest of the phase", util.ShortUID(uid))
	}
}

// Excluded reports whether a miner is quarantined
func (q *Quarantine) Excluded(uid string) bool {
	if !q.enabled {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.excluded[uid]
	return ok
}

// Count returns the number of quarantined miners
func (q *Quarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.excluded)
}
