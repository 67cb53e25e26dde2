package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// A registry fullnode that stopped advancing serves a stale miner set,
// which is worse for a validator than a slow one. Selection therefore
// keys on epoch freshness first: only fullnodes within epochLagTolerance
// of the freshest known epoch are eligible, and weight/latency break
// ties among those.
const epochLagTolerance = 2

// latencyAlpha smooths the per-upstream response time estimate
const latencyAlpha = 0.3

// UpstreamState represents the health state of a registry fullnode
type UpstreamState struct {
	Name         string
	URL          string
	Healthy      bool
	LastCheck    time.Time
	SuccessCount int32
	FailCount    int32
	ResponseTime time.Duration
	Epoch        uint64
	Weight       int
}

// Upstream wraps a Client with health tracking. Health transitions are
// hysteretic: strikes accumulate on consecutive failures, and an
// unhealthy fullnode must string together successes to come back.
type Upstream struct {
	client *Client
	name   string
	weight int

	mu            sync.RWMutex
	healthy       bool
	epoch         uint64
	lastProbe     time.Time
	latency       time.Duration // smoothed over probes and calls
	strikes       int32         // consecutive failures
	successStreak int32         // consecutive successes since last failure
}

// recordSuccess folds a successful probe or call into the health state
func (u *Upstream) recordSuccess(epoch uint64, took time.Duration, recoveryThreshold int32) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastProbe = time.Now()
	if epoch > u.epoch {
		u.epoch = epoch
	}
	if u.latency == 0 {
		u.latency = took
	} else {
		u.latency = time.Duration(float64(u.latency)*(1-latencyAlpha) + float64(took)*latencyAlpha)
	}

	u.strikes = 0
	u.successStreak++
	if !u.healthy && u.successStreak >= recoveryThreshold {
		u.healthy = true
		util.Infof("Registry upstream %s recovered (epoch=%d, latency=%v)", u.name, u.epoch, u.latency)
	}
}

// recordFailure folds a failed probe or call into the health state and
// reports whether this failure tripped the upstream unhealthy
func (u *Upstream) recordFailure(maxStrikes int32, err error) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastProbe = time.Now()
	u.successStreak = 0
	u.strikes++

	if u.healthy && u.strikes >= maxStrikes {
		u.healthy = false
		if err != nil {
			util.Warnf("Registry upstream %s marked UNHEALTHY after %d consecutive failures: %v", u.name, u.strikes, err)
		} else {
			util.Warnf("Registry upstream %s marked UNHEALTHY after %d consecutive call failures", u.name, u.strikes)
		}
		return true
	}
	return false
}

// snapshot returns the state for monitoring
func (u *Upstream) snapshot() UpstreamState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return UpstreamState{
		Name:         u.name,
		URL:          u.client.url,
		Healthy:      u.healthy,
		LastCheck:    u.lastProbe,
		SuccessCount: u.successStreak,
		FailCount:    u.strikes,
		ResponseTime: u.latency,
		Epoch:        u.epoch,
		Weight:       u.weight,
	}
}

// view is the read-only tuple ranking works on
type upstreamView struct {
	idx     int
	healthy bool
	epoch   uint64
	latency time.Duration
	weight  int
}

// UpstreamManager tracks a set of registry fullnodes, probes their
// epoch clocks, and routes calls to the freshest eligible one.
type UpstreamManager struct {
	upstreams []*Upstream

	// Effective policy knobs, resolved once from config
	probeInterval     time.Duration
	probeTimeout      time.Duration
	maxStrikes        int32
	recoveryThreshold int32

	activeIdx int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUpstreamManager creates a manager over the configured fullnodes.
// A bare registry.url is treated as a single upstream named "primary".
func NewUpstreamManager(ctx context.Context, cfg *config.RegistryConfig) *UpstreamManager {
	mgrCtx, cancel := context.WithCancel(ctx)

	m := &UpstreamManager{
		probeInterval:     cfg.HealthCheckInterval,
		probeTimeout:      cfg.HealthCheckTimeout,
		maxStrikes:        int32(cfg.MaxFailures),
		recoveryThreshold: int32(cfg.RecoveryThreshold),
		ctx:               mgrCtx,
		cancel:            cancel,
	}
	if m.probeInterval <= 0 {
		m.probeInterval = 5 * time.Second
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = 3 * time.Second
	}
	if m.maxStrikes <= 0 {
		m.maxStrikes = 3
	}
	if m.recoveryThreshold <= 0 {
		m.recoveryThreshold = 2
	}

	add := func(name, url string, weight int, timeout time.Duration) {
		if name == "" {
			name = url
		}
		if weight <= 0 {
			weight = 1
		}
		if timeout <= 0 {
			timeout = cfg.Timeout
		}
		m.upstreams = append(m.upstreams, &Upstream{
			client:  NewClient(url, timeout),
			name:    name,
			weight:  weight,
			healthy: true, // give every fullnode a chance before striking it
		})
	}

	if len(cfg.Upstreams) > 0 {
		for _, ucfg := range cfg.Upstreams {
			add(ucfg.Name, ucfg.URL, ucfg.Weight, ucfg.Timeout)
		}
	} else if cfg.URL != "" {
		add("primary", cfg.URL, 1, cfg.Timeout)
	}

	return m
}

// Start probes every fullnode once, then keeps probing in the background
func (m *UpstreamManager) Start() {
	if len(m.upstreams) == 0 {
		util.Warn("No registry upstreams configured")
		return
	}

	util.Infof("Starting registry upstream manager with %d fullnodes", len(m.upstreams))
	for i, u := range m.upstreams {
		util.Infof("  [%d] %s (weight=%d)", i, u.name, u.weight)
	}

	m.probeAll()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.probeAll()
			}
		}
	}()
}

// Stop shuts down the upstream manager
func (m *UpstreamManager) Stop() {
	m.cancel()
	m.wg.Wait()
	util.Info("Registry upstream manager stopped")
}

// probeAll checks every fullnode's epoch clock concurrently, then
// re-picks the active upstream from the fresh readings
func (m *UpstreamManager) probeAll() {
	var wg sync.WaitGroup
	for _, u := range m.upstreams {
		wg.Add(1)
		go func(u *Upstream) {
			defer wg.Done()
			m.probe(u)
		}(u)
	}
	wg.Wait()

	m.rerank()
}

// probe reads one fullnode's epoch as its health check
func (m *UpstreamManager) probe(u *Upstream) {
	ctx, cancel := context.WithTimeout(m.ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	info, err := u.client.GetEpochInfo(ctx)
	took := time.Since(start)

	if err != nil {
		u.recordFailure(m.maxStrikes, err)
		return
	}
	u.recordSuccess(info.Epoch, took, m.recoveryThreshold)
}

// rerank re-picks the active upstream. Eligible fullnodes are the
// healthy ones within epochLagTolerance of the freshest epoch seen;
// among those, higher weight wins, then lower smoothed latency.
func (m *UpstreamManager) rerank() {
	best := m.pickBest()
	if best < 0 {
		util.Warn("No healthy registry upstreams available!")
		return
	}

	old := atomic.SwapInt32(&m.activeIdx, int32(best))
	if old != int32(best) {
		s := m.upstreams[best].snapshot()
		util.Infof("Switched to registry upstream %s (epoch=%d, weight=%d, latency=%v)",
			s.Name, s.Epoch, s.Weight, s.ResponseTime)
	}
}

// pickBest returns the index of the preferred upstream, or -1 when no
// fullnode is healthy
func (m *UpstreamManager) pickBest() int {
	views := make([]upstreamView, len(m.upstreams))
	var freshest uint64
	for i, u := range m.upstreams {
		s := u.snapshot()
		views[i] = upstreamView{idx: i, healthy: s.Healthy, epoch: s.Epoch, latency: s.ResponseTime, weight: s.Weight}
		if s.Healthy && s.Epoch > freshest {
			freshest = s.Epoch
		}
	}

	best := -1
	for _, v := range views {
		if !v.healthy {
			continue
		}
		if v.epoch+epochLagTolerance < freshest {
			continue // serving a stale miner set
		}
		if best < 0 {
			best = v.idx
			continue
		}
		b := views[best]
		if v.weight != b.weight {
			if v.weight > b.weight {
				best = v.idx
			}
			continue
		}
		if v.latency < b.latency {
			best = v.idx
		}
	}
	return best
}

// GetClient returns the current active client
func (m *UpstreamManager) GetClient() *Client {
	if len(m.upstreams) == 0 {
		return nil
	}
	idx := atomic.LoadInt32(&m.activeIdx)
	if idx < 0 || idx >= int32(len(m.upstreams)) {
		idx = 0
	}
	return m.upstreams[idx].client
}

// GetActiveUpstream returns the name of the active fullnode
func (m *UpstreamManager) GetActiveUpstream() string {
	if len(m.upstreams) == 0 {
		return ""
	}
	idx := atomic.LoadInt32(&m.activeIdx)
	if idx < 0 || idx >= int32(len(m.upstreams)) {
		idx = 0
	}
	return m.upstreams[idx].name
}

// GetUpstreamStates returns the state of all fullnodes for monitoring
func (m *UpstreamManager) GetUpstreamStates() []UpstreamState {
	states := make([]UpstreamState, len(m.upstreams))
	for i, u := range m.upstreams {
		states[i] = u.snapshot()
	}
	return states
}

// HasHealthyUpstream returns true if at least one fullnode is healthy
func (m *UpstreamManager) HasHealthyUpstream() bool {
	return m.HealthyCount() > 0
}

// HealthyCount returns the number of healthy fullnodes
func (m *UpstreamManager) HealthyCount() int {
	count := 0
	for _, u := range m.upstreams {
		if u.snapshot().Healthy {
			count++
		}
	}
	return count
}

// UpstreamCount returns the number of configured fullnodes
func (m *UpstreamManager) UpstreamCount() int {
	return len(m.upstreams)
}

// RecordSuccess folds a successful non-probe call into the active
// fullnode's health state
func (m *UpstreamManager) RecordSuccess() {
	idx := atomic.LoadInt32(&m.activeIdx)
	if idx < 0 || idx >= int32(len(m.upstreams)) {
		return
	}
	u := m.upstreams[idx]
	u.recordSuccess(0, u.snapshot().ResponseTime, m.recoveryThreshold)
}

// RecordFailure folds a failed non-probe call into the active
// fullnode's health state, re-picking the active upstream when the
// failure trips it unhealthy
func (m *UpstreamManager) RecordFailure() {
	idx := atomic.LoadInt32(&m.activeIdx)
	if idx < 0 || idx >= int32(len(m.upstreams)) {
		return
	}
	if m.upstreams[idx].recordFailure(m.maxStrikes, nil) {
		m.rerank()
	}
}

// CallWithFailover runs fn against the active fullnode and, on failure,
// walks the remaining fullnodes best-first until one answers. The first
// fullnode that answers becomes the active upstream.
func (m *UpstreamManager) CallWithFailover(fn func(*Client) error) error {
	if len(m.upstreams) == 0 {
		return ErrNoUpstream
	}

	order := m.failoverOrder()
	var lastErr error
	for _, idx := range order {
		u := m.upstreams[idx]
		if err := fn(u.client); err != nil {
			lastErr = err
			if u.recordFailure(m.maxStrikes, err) {
				m.rerank()
			}
			continue
		}

		u.recordSuccess(0, u.snapshot().ResponseTime, m.recoveryThreshold)
		if atomic.SwapInt32(&m.activeIdx, int32(idx)) != int32(idx) {
			util.Infof("Failover successful: now using %s", u.name)
		}
		return nil
	}
	return lastErr
}

// failoverOrder lists upstream indices to try: the active one, then
// every healthy fullnode by rank, then the rest as a last resort
func (m *UpstreamManager) failoverOrder() []int {
	active := int(atomic.LoadInt32(&m.activeIdx))
	if active < 0 || active >= len(m.upstreams) {
		active = 0
	}

	order := []int{active}
	seen := map[int]bool{active: true}

	if best := m.pickBest(); best >= 0 && !seen[best] {
		order = append(order, best)
		seen[best] = true
	}
	for i, u := range m.upstreams {
		if !seen[i] && u.snapshot().Healthy {
			order = append(order, i)
			seen[i] = true
		}
	}
	for i := range m.upstreams {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}
