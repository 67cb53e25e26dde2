// ModernTensor validator - consensus core for decentralized AI subnets
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sonson0910/moderntensor-aptos/internal/api"
	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/consensus"
	"github.com/sonson0910/moderntensor-aptos/internal/minerconn"
	"github.com/sonson0910/moderntensor-aptos/internal/newrelic"
	"github.com/sonson0910/moderntensor-aptos/internal/notify"
	"github.com/sonson0910/moderntensor-aptos/internal/profiling"
	"github.com/sonson0910/moderntensor-aptos/internal/registry"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ModernTensor Validator v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("ModernTensor Validator v%s starting on subnet %d", version, cfg.Validator.SubnetID)

	// Connect to Redis
	redis, err := storage.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		util.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Registry upstream manager with multi-fullnode failover
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	upstreamMgr := registry.NewUpstreamManager(ctx, &cfg.Registry)
	upstreamMgr.Start()
	chain := registry.NewFailoverClient(upstreamMgr)

	// Miner transport
	var transport minerconn.Transport
	switch cfg.Consensus.Transport {
	case config.TransportWebSocket:
		transport = minerconn.NewWSTransport()
	default:
		transport = minerconn.NewHTTPTransport()
	}

	// Phase engine and runner
	engine := consensus.NewEngine(cfg.Consensus, cfg.Validator.SubnetID, chain, transport, consensus.StaticTaskSource{})
	runner := consensus.NewRunner(cfg, engine, chain, redis, chain)

	// Webhook notifications
	if cfg.Notify.Enabled {
		runner.SetNotifier(notify.NewNotifier(&cfg.Notify, cfg.Validator.Name))
	}

	// New Relic APM
	var nrAgent *newrelic.Agent
	if cfg.NewRelic.Enabled {
		nrAgent = newrelic.NewAgent(&cfg.NewRelic)
		if err := nrAgent.Start(); err != nil {
			util.Errorf("Failed to start New Relic agent: %v", err)
		} else {
			runner.SetRecorder(nrAgent)
			engine.SetRoundObserver(nrAgent)

			// Periodically report registry fullnode health
			go func() {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						nrAgent.UpdateRegistryMetrics(upstreamMgr.HealthyCount(), upstreamMgr.UpstreamCount())
					}
				}
			}()
		}
	}

	// pprof profiling server
	var pprofServer *profiling.Server
	if cfg.Profiling.Enabled {
		pprofServer = profiling.NewServer(&cfg.Profiling)
		if err := pprofServer.Start(); err != nil {
			util.Errorf("Failed to start pprof server: %v", err)
		}
	}

	// Status API server
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, redis)

		// Wire up upstream state callback for monitoring
		apiServer.SetUpstreamStateFunc(func() []api.UpstreamStatus {
			states := upstreamMgr.GetUpstreamStates()
			result := make([]api.UpstreamStatus, len(states))
			for i, s := range states {
				result[i] = api.UpstreamStatus{
					Name:         s.Name,
					URL:          s.URL,
					Healthy:      s.Healthy,
					ResponseTime: float64(s.ResponseTime.Milliseconds()),
					Epoch:        s.Epoch,
					Weight:       s.Weight,
					FailCount:    s.FailCount,
					SuccessCount: s.SuccessCount,
				}
			}
			return result
		})

		if err := apiServer.Start(); err != nil {
			util.Fatalf("Failed to start API server: %v", err)
		}
	}

	// Start the phase loop
	runner.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("Validator started successfully. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	// Graceful shutdown
	runner.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
	if pprofServer != nil {
		pprofServer.Stop()
	}
	if nrAgent != nil {
		nrAgent.Stop()
	}
	upstreamMgr.Stop()
	util.Sync()

	util.Info("Validator stopped")
}
