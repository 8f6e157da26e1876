package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

type placeOrderRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	Type        string  `json:"type" binding:"required"`
	Qty         float64 `json:"qty" binding:"required"`
	Price       float64 `json:"price"`
	StopPrice   float64 `json:"stop_price"`
	TimeInForce string  `json:"time_in_force"`
	ClientID    string  `json:"client_id"`
	StrategyID  string  `json:"strategy_id"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.Trades.PlaceOrder(c.Request.Context(), common.OrderRequest{
		Symbol:      req.Symbol,
		Side:        common.Side(req.Side),
		Type:        common.OrderType(req.Type),
		Qty:         req.Qty,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: common.TimeInForce(req.TimeInForce),
		ClientID:    req.ClientID,
		StrategyID:  req.StrategyID,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) getOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := s.Trades.ListOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.Trades.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	if err := s.Trades.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) syncOrder(c *gin.Context) {
	order, err := s.Trades.SyncOrderStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Trades.Positions().List()})
}

func (s *Server) getBalance(c *gin.Context) {
	balances, err := s.Trades.GetBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (s *Server) getRiskAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	alerts, err := s.DB.ListRiskAlerts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Strategies.Statuses()})
}

func (s *Server) pauseStrategy(c *gin.Context) {
	if err := s.Strategies.Pause(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeStrategy(c *gin.Context) {
	if err := s.Strategies.Resume(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req emergencyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual trigger via API"
	}
	report := s.Emergency.Execute(c.Request.Context(), req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"reason":             report.Reason,
		"strategies_stopped": report.StrategiesStopped,
		"orders_canceled":    report.OrdersCanceled,
		"positions_closed":   report.PositionsClosed,
		"alert_sent":         report.AlertSent,
		"errors":             report.Errors,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var verr *common.ValidationError
	var serr *common.StateError
	var xerr *common.ExchangeError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &serr):
		return http.StatusConflict
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &xerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
