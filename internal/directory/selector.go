package directory

import (
	"math/rand"
	"sort"

	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Selector chooses round participants from a directory snapshot.
// Candidates are ranked by usage count ascending, then advertised weight
// descending, then a pseudo-random tiebreak seeded by (slot, round) so
// independent validators diverge.
type Selector struct {
	dir        *Directory
	slotID     uint64
	quarantine *Quarantine
}

// NewSelector creates a selector over a phase's directory snapshot
func NewSelector(dir *Directory, slotID uint64, quarantine *Quarantine) *Selector {
	return &Selector{
		dir:        dir,
		slotID:     slotID,
		quarantine: quarantine,
	}
}

// selectionSeed derives the tiebreak seed from (slot, round).
// splitmix64 finalizer, so adjacent slots produce unrelated streams.
func selectionSeed(slotID, round uint64) int64 {
	z := slotID*0x9e3779b97f4a7c15 + round
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// Select returns up to targetK miners for the given round and increments
// each selected miner's usage counter.
func (s *Selector) Select(targetK int, round uint64) []*MinerRef {
	if targetK <= 0 {
		return nil
	}

	candidates := make([]*MinerRef, 0, s.dir.Count())
	for _, m := range s.dir.All() {
		if s.quarantine != nil && s.quarantine.Excluded(m.UID) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(selectionSeed(s.slotID, round)))
	tiebreak := make(map[string]int64, len(candidates))
	for _, m := range candidates {
		tiebreak[m.UID] = rng.Int63()
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount < b.UsageCount
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return tiebreak[a.UID] < tiebreak[b.UID]
	})

	if targetK > len(candidates) {
		targetK = len(candidates)
	}
	batch := candidates[:targetK]

	for _, m := range batch {
		m.UsageCount++
	}

	util.Debugf("Selected %d/%d miners for round %d", len(batch), s.dir.Count(), round)
	return batch
}
