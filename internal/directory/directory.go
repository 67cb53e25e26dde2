// Package directory maintains the per-phase snapshot of active miners
// and the selection policy that forms round batches from it.
package directory

import (
	"net/url"

	"github.com/sonson0910/moderntensor-aptos/internal/registry"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// MinerRef identifies a miner in the active set for one phase
type MinerRef struct {
	UID      string
	Endpoint string
	Weight   float64

	// Number of tasks addressed to this miner during the phase.
	// Incremented by the selector only.
	UsageCount int
}

// Directory is an immutable-membership snapshot of the active miner set.
// Built once at phase start; mid-phase registrations are not observed.
type Directory struct {
	miners []*MinerRef
	byUID  map[string]*MinerRef
}

// Build creates a directory from a registry snapshot. Only miners with
// status active and a parseable endpoint are admitted.
func Build(infos []registry.MinerInfo) *Directory {
	d := &Directory{
		byUID: make(map[string]*MinerRef, len(infos)),
	}

	for _, info := range infos {
		if info.Status != registry.StatusActive {
			continue
		}
		if info.Weight < 0 {
			util.Warnf("Miner %s has negative weight %.4f, skipping", util.ShortUID(info.UID), info.Weight)
			continue
		}
		if _, err := url.ParseRequestURI(info.Endpoint); err != nil {
			util.Warnf("Miner %s has invalid endpoint %q, skipping", util.ShortUID(info.UID), info.Endpoint)
			continue
		}
		if _, dup := d.byUID[info.UID]; dup {
			continue
		}

		ref := &MinerRef{
			UID:      info.UID,
			Endpoint: info.Endpoint,
			Weight:   info.Weight,
		}
		d.miners = append(d.miners, ref)
		d.byUID[info.UID] = ref
	}

	return d
}

// Count returns the number of miners in the snapshot
func (d *Directory) Count() int {
	return len(d.miners)
}

// All returns every miner in the snapshot
func (d *Directory) All() []*MinerRef {
	return d.miners
}

// Get returns the miner with the given UID, or nil
func (d *Directory) Get(uid string) *MinerRef {
	return d.byUID[uid]
}

// UsageCounts returns a copy of each miner's usage counter
func (d *Directory) UsageCounts() map[string]int {
	counts := make(map[string]int, len(d.miners))
	for _, m := range d.miners {
		counts[m.UID] = m.UsageCount
	}
	return counts
}
