// Package api provides the validator status API server.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sonson0910/moderntensor-aptos/internal/config"
	"github.com/sonson0910/moderntensor-aptos/internal/storage"
	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

// UpstreamStateFunc is a callback to get registry upstream states
type UpstreamStateFunc func() []UpstreamStatus

// UpstreamStatus represents the status of a registry fullnode
type UpstreamStatus struct {
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Healthy      bool    `json:"healthy"`
	ResponseTime float64 `json:"response_time_ms"`
	Epoch        uint64  `json:"epoch"`
	Weight       int     `json:"weight"`
	FailCount    int32   `json:"fail_count"`
	SuccessCount int32   `json:"success_count"`
}

// StatusResponse is the /api/status response
type StatusResponse struct {
	Validator string                  `json:"validator"`
	SubnetID  uint64                  `json:"subnet_id"`
	Stats     *storage.ValidatorStats `json:"stats"`
	Upstreams []UpstreamStatus        `json:"upstreams,omitempty"`
	Now       int64                   `json:"now"`
}

// Server is the status API server
type Server struct {
	cfg    *config.Config
	redis  *storage.RedisClient
	router *gin.Engine
	server *http.Server

	// Cache
	statusCacheMu   sync.RWMutex
	statusCache     *StatusResponse
	statusCacheTime time.Time

	upstreamStateFunc UpstreamStateFunc
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, redis *storage.RedisClient) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		redis:  redis,
		router: router,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures API endpoints
func (s *Server) setupRoutes() {
	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/phases", s.handlePhases)
		api.GET("/scores/:slot", s.handleScores)
	}

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Start begins the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: s.router,
	}

	util.Infof("API server listening on %s", s.cfg.API.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetUpstreamStateFunc sets the callback for getting upstream states
func (s *Server) SetUpstreamStateFunc(fn UpstreamStateFunc) {
	s.upstreamStateFunc = fn
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleStatus returns validator identity and live stats
func (s *Server) handleStatus(c *gin.Context) {
	// Check cache
	s.statusCacheMu.RLock()
	if s.statusCache != nil && time.Since(s.statusCacheTime) < s.cfg.API.StatsCache {
		cache := s.statusCache
		s.statusCacheMu.RUnlock()
		c.JSON(200, cache)
		return
	}
	s.statusCacheMu.RUnlock()

	stats, err := s.redis.GetValidatorStats()
	if err != nil {
		util.Warnf("Failed to read validator stats: %v", err)
	}

	resp := &StatusResponse{
		Validator: s.cfg.Validator.Name,
		SubnetID:  s.cfg.Validator.SubnetID,
		Stats:     stats,
		Now:       time.Now().Unix(),
	}
	if s.upstreamStateFunc != nil {
		resp.Upstreams = s.upstreamStateFunc()
	}

	s.statusCacheMu.Lock()
	s.statusCache = resp
	s.statusCacheTime = time.Now()
	s.statusCacheMu.Unlock()

	c.JSON(200, resp)
}

// handlePhases returns recent phase summaries
func (s *Server) handlePhases(c *gin.Context) {
	limit := 16
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 256 {
			limit = n
		}
	}

	summaries, err := s.redis.GetRecentSummaries(limit)
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to read phase summaries"})
		return
	}

	c.JSON(200, gin.H{"phases": summaries})
}

// handleScores returns the stored score vector for a slot
func (s *Server) handleScores(c *gin.Context) {
	slot, err := strconv.ParseUint(c.Param("slot"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid slot"})
		return
	}

	scores, err := s.redis.GetScores(slot)
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to read scores"})
		return
	}
	if len(scores) == 0 {
		c.JSON(404, gin.H{"error": "no scores for slot"})
		return
	}

	c.JSON(200, gin.H{"slot": slot, "scores": scores})
}
