package consensus

import (
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Controller retargeting thresholds
const (
	successExpand  = 0.80
	successShrink  = 0.50
	batchStep      = 2
	timeoutUpRatio = 0.6 // mean latency above this fraction of the timeout scales up
	timeoutDnRatio = 0.2 // mean latency below this fraction scales down
	timeoutUpStep  = 1.2
	timeoutDnStep  = 0.9
	timeoutCapMul  = 1.5 // of the initial timeout
	timeoutFlrMul  = 0.8 // of the initial timeout
)

// Controller adapts batch size and timeout from a rolling window of
// round summaries. Observe applies at most one step per parameter per
// round; reads between rounds see the values for the next round.
type Controller struct {
	window []RoundSummary
	next   int
	count  int

	batchSize int
	timeout   time.Duration

	initialTimeout time.Duration
	minBatch       int
	maxBatch       int
	adaptive       bool
}

// NewController creates a controller at the configured defaults
func NewController(cfg *config.ConsensusConfig) *Controller {
	window := cfg.ControllerWindow
	if window < 1 {
		window = 5
	}
	return &Controller{
		window:         make([]RoundSummary, window),
		batchSize:      cfg.BatchSizeInitial,
		timeout:        cfg.BatchTimeoutInitial,
		initialTimeout: cfg.BatchTimeoutInitial,
		minBatch:       cfg.BatchSizeMin,
		maxBatch:       cfg.BatchSizeMax,
		adaptive:       cfg.AdaptiveBatch,
	}
}

// BatchSize returns the batch size for the next round
func (c *Controller) BatchSize() int {
	return c.batchSize
}

// Timeout returns the per-batch timeout for the next round
func (c *Controller) Timeout() time.Duration {
	return c.timeout
}

// Window returns the number of summaries currently observed, capped at
// the window length
func (c *Controller) Window() int {
	return c.count
}

// Observe records a round summary and retargets both parameters.
// With adaptation disabled the window still fills but nothing moves.
func (c *Controller) Observe(s RoundSummary) {
	c.window[c.next] = s
	c.next = (c.next + 1) % len(c.window)
	if c.count < len(c.window) {
		c.count++
	}

	if !c.adaptive {
		return
	}

	success := c.rollingSuccess()
	meanLatency := c.rollingLatency()

	c.retargetBatch(success)
	c.retargetTimeout(success, meanLatency)

	util.Debugf("Controller: success=%.2f latency=%v -> batch=%d timeout=%v",
		success, meanLatency, c.batchSize, c.timeout)
}

func (c *Controller) retargetBatch(success float64) {
	switch {
	case success > successExpand:
		c.batchSize += batchStep
		if c.batchSize > c.maxBatch {
			c.batchSize = c.maxBatch
		}
	case success < successShrink:
		c.batchSize -= batchStep
		if c.batchSize < c.minBatch {
			c.batchSize = c.minBatch
		}
	}
}

func (c *Controller) retargetTimeout(success float64, meanLatency time.Duration) {
	ceiling := time.Duration(float64(c.initialTimeout) * timeoutCapMul)
	floor := time.Duration(float64(c.initialTimeout) * timeoutFlrMul)

	next := c.timeout
	mu := float64(meanLatency)
	cur := float64(c.timeout)

	if mu > timeoutUpRatio*cur {
		next = time.Duration(cur * timeoutUpStep)
	} else if mu < timeoutDnRatio*cur {
		next = time.Duration(cur * timeoutDnStep)
	}

	if success < successShrink {
		next = time.Duration(float64(next) * timeoutUpStep)
	}

	if next > ceiling {
		next = ceiling
	}
	if next < floor {
		next = floor
	}
	c.timeout = next
}

// rollingSuccess is the mean success rate over the observed window
func (c *Controller) rollingSuccess() float64 {
	if c.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < c.count; i++ {
		sum += c.window[i].SuccessRate
	}
	return sum / float64(c.count)
}

// rollingLatency is the mean of mean latencies over the observed window
func (c *Controller) rollingLatency() time.Duration {
	if c.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < c.count; i++ {
		sum += c.window[i].MeanLatency
	}
	return sum / time.Duration(c.count)
}
