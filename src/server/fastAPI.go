package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"horizon-index/src/interfaces"
	"horizon-index/src/logger"
	"horizon-index/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// FastAPIServer
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Index  interfaces.IIndexEngine

	engine  *gin.Engine
	httpSrv *http.Server

	// WebSocket clients, owned by the hub goroutine
	clients    map[*Client]struct{}
	connCount  atomic.Int32
	broadcast  chan *models.MBroadcastPayload
	register   chan *Client
	unregister chan *Client
	hubStop    chan struct{}
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *models.MConfig, idx interfaces.IIndexEngine, logger *logger.Logger) *FastAPIServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &FastAPIServer{
		Config:  cfg,
		Logger:  logger,
		Index:   idx,
		engine:  gin.Default(),
		clients: make(map[*Client]struct{}),
		// Buffered so a slow hub never blocks the trigger
		broadcast:  make(chan *models.MBroadcastPayload, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		hubStop:    make(chan struct{}),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/index", s.getIndex)
	s.engine.GET("/api/history", s.getHistory)
	s.engine.GET("/api/history/full", s.getFullHistory)
	s.engine.GET("/api/constituents", s.getConstituents)
	s.engine.GET("/api/meta", s.getMeta)
	s.engine.GET("/api/health", s.getHealth)

	// Admin endpoints
	s.engine.POST("/api/recalculate", s.postRecalculate)
	s.engine.POST("/api/reload", s.postReload)

	// WebSocket endpoint
	s.engine.GET("/ws/index", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *FastAPIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.handleWebsockets()

	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) Stop() error {
	close(s.hubStop)

	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

// getIndex serves the latest snapshot, or 503 until the first
// calculation has completed.
func (s *FastAPIServer) getIndex(c *gin.Context) {
	snapshot := s.Index.LastSnapshot()
	if snapshot == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "index not calculated yet",
		})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// -----------------------------------------------------------------------------

// getHistory serves ledger entries. ?days=N limits to the most recent N
// entries; omitted or 0 serves the full ledger.
func (s *FastAPIServer) getHistory(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		days = parsed
	}

	var history []models.MIndexLedgerEntry
	if days == 0 {
		history = s.Index.FullHistory()
	} else {
		history = s.Index.History(days)
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(history),
		"history": history,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getFullHistory(c *gin.Context) {
	history := s.Index.FullHistory()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(history),
		"history": history,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getConstituents(c *gin.Context) {
	snapshot := s.Index.LastSnapshot()
	if snapshot == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "index not calculated yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":         snapshot.Date,
		"constituents": snapshot.Constituents,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getMeta(c *gin.Context) {
	c.JSON(http.StatusOK, s.Index.Meta())
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	snapshot := s.Index.LastSnapshot()
	status := "ok"
	lastUpdate := int64(0)
	if snapshot == nil {
		status = "starting"
	} else {
		lastUpdate = snapshot.Index.Timestamp
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"connections":   s.connCount.Load(),
		"latest_update": lastUpdate,
	})
}

// -----------------------------------------------------------------------------

// postRecalculate forces an immediate calculation cycle and broadcasts
// the result.
func (s *FastAPIServer) postRecalculate(c *gin.Context) {
	snapshot, err := s.Index.CalculateEOD()
	if err != nil {
		s.Logger.Error("Manual recalculation failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.Broadcast(snapshot)
	c.JSON(http.StatusOK, snapshot)
}

// -----------------------------------------------------------------------------

// postReload re-reads the constituent config and rebalances the divisor
// on membership changes.
func (s *FastAPIServer) postReload(c *gin.Context) {
	if err := s.Index.ReloadConstituents(); err != nil {
		s.Logger.Error("Constituent reload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Index.Meta())
}
