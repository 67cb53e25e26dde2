package registry

import (
	"context"
	"sync"
)

// FailoverClient exposes the registry operations the consensus engine
// needs, routed through the upstream manager so every call fails over
// to a healthy fullnode.
type FailoverClient struct {
	mgr *UpstreamManager

	mu       sync.Mutex
	lastSlot uint64
}

// NewFailoverClient wraps an upstream manager
func NewFailoverClient(mgr *UpstreamManager) *FailoverClient {
	return &FailoverClient{mgr: mgr}
}

// GetActiveMiners fetches the miner set with failover
func (f *FailoverClient) GetActiveMiners(ctx context.Context, subnetID uint64) ([]MinerInfo, error) {
	var miners []MinerInfo
	err := f.mgr.CallWithFailover(func(c *Client) error {
		var callErr error
		miners, callErr = c.GetActiveMiners(ctx, subnetID)
		return callErr
	})
	return miners, err
}

// PublishScores publishes the score vector with failover
func (f *FailoverClient) PublishScores(ctx context.Context, slotID uint64, scores map[string]float64) error {
	return f.mgr.CallWithFailover(func(c *Client) error {
		return c.PublishScores(ctx, slotID, scores)
	})
}

// NextSlot derives the next slot id from the chain's epoch clock.
// Monotonic even when the chain clock stalls between phases.
func (f *FailoverClient) NextSlot(ctx context.Context) (uint64, error) {
	var info *EpochInfo
	err := f.mgr.CallWithFailover(func(c *Client) error {
		var callErr error
		info, callErr = c.GetEpochInfo(ctx)
		return callErr
	})
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	slot := info.Slot
	if slot <= f.lastSlot {
		slot = f.lastSlot + 1
	}
	f.lastSlot = slot
	return slot, nil
}
