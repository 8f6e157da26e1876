// Package api exposes the trading core over HTTP and a websocket event
// feed for the desktop UI.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quantdesk/internal/emergency"
	"quantdesk/internal/events"
	"quantdesk/internal/strategy"
	"quantdesk/internal/trade"
	"quantdesk/pkg/db"
)

// Server wires HTTP endpoints around the trading services.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Trades     *trade.Service
	Strategies *strategy.Registry
	Emergency  *emergency.Service
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Exchange string
	Symbols  []string
	Testnet  bool
	Version  string
}

func NewServer(bus *events.Bus, database *db.Database, trades *trade.Service,
	strategies *strategy.Registry, emergencySvc *emergency.Service, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		DB:         database,
		Trades:     trades,
		Strategies: strategies,
		Emergency:  emergencySvc,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		api.POST("/orders", s.placeOrder)
		api.GET("/orders", s.getOrders)
		api.GET("/orders/:id", s.getOrder)
		api.DELETE("/orders/:id", s.cancelOrder)
		api.POST("/orders/:id/sync", s.syncOrder)

		api.GET("/positions", s.getPositions)
		api.GET("/balance", s.getBalance)

		api.GET("/risk/alerts", s.getRiskAlerts)
		api.GET("/strategies", s.getStrategies)
		api.POST("/strategies/:id/pause", s.pauseStrategy)
		api.POST("/strategies/:id/resume", s.resumeStrategy)

		api.POST("/emergency/stop", s.emergencyStop)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"exchange":  s.Meta.Exchange,
		"symbols":   s.Meta.Symbols,
		"testnet":   s.Meta.Testnet,
		"version":   s.Meta.Version,
		"connected": s.Trades.Exchange().IsConnected(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
