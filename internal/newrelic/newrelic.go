// Package newrelic provides New Relic APM integration for monitoring.
package newrelic

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// Agent wraps New Relic APM functionality
type Agent struct {
	cfg *config.NewRelicConfig
	app *newrelic.Application
	mu  sync.RWMutex
}

// NewAgent creates a new New Relic agent
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{
		cfg: cfg,
	}
}

// Start initializes the New Relic agent
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}

	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	// Wait for connection (up to 5 seconds)
	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic agent
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		util.Info("Shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// Application returns the underlying New Relic application (for middleware)
func (a *Agent) Application() *newrelic.Application {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app
}

// IsEnabled returns true once the agent holds a New Relic application; the
// connection may still be pending if the startup wait timed out
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// StartTransaction starts a new New Relic transaction
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

// RecordCustomEvent records a custom event
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// NoticeError records an error
func (a *Agent) NoticeError(txn *newrelic.Transaction, err error) {
	if txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// NewContext adds transaction to context
func (a *Agent) NewContext(ctx context.Context, txn *newrelic.Transaction) context.Context {
	if txn == nil {
		return ctx
	}
	return newrelic.NewContext(ctx, txn)
}

// FromContext gets transaction from context
func (a *Agent) FromContext(ctx context.Context) *newrelic.Transaction {
	return newrelic.FromContext(ctx)
}

// RecordRound records a completed consensus round
func (a *Agent) RecordRound(slotID, round uint64, tasks, results int, meanLatencyMS float64) {
	a.RecordCustomEvent("ConsensusRound", map[string]interface{}{
		"slot":          slotID,
		"round":         round,
		"tasks":         tasks,
		"results":       results,
		"meanLatencyMs": meanLatencyMS,
	})
}

// RecordPhase records a completed phase
func (a *Agent) RecordPhase(summary *storage.PhaseSummary) {
	a.RecordCustomEvent("ConsensusPhase", map[string]interface{}{
		"slot":         summary.SlotID,
		"rounds":       summary.Rounds,
		"tasksSent":    summary.TasksSent,
		"resultsOk":    summary.ResultsOK,
		"timeouts":     summary.Timeouts,
		"errors":       summary.Errors,
		"minersScored": summary.MinersScored,
		"published":    summary.Published,
	})
	a.RecordCustomMetric("Custom/Phase/Rounds", float64(summary.Rounds))
	a.RecordCustomMetric("Custom/Phase/MinersScored", float64(summary.MinersScored))
}

// RecordPublishFailure records a score publication failure
func (a *Agent) RecordPublishFailure(slotID uint64, errMsg string) {
	a.RecordCustomEvent("PublishFailure", map[string]interface{}{
		"slot":  slotID,
		"error": errMsg,
	})
}

// UpdateRegistryMetrics updates registry upstream metrics
func (a *Agent) UpdateRegistryMetrics(healthy, total int) {
	a.RecordCustomMetric("Custom/Registry/HealthyUpstreams", float64(healthy))
	a.RecordCustomMetric("Custom/Registry/TotalUpstreams", float64(total))
}
