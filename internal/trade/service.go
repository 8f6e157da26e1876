// Package trade orchestrates the order lifecycle: validation, submission to
// the exchange, persistence, position bookkeeping and event publication.
package trade

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"quantdesk/internal/events"
	"quantdesk/internal/order"
	"quantdesk/internal/position"
	"quantdesk/pkg/cache"
	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

// closeTarget records which position a close order is flattening.
type closeTarget struct {
	symbol string
	side   common.PositionSide
}

// Service is the single entry point for trading operations.
type Service struct {
	exchange  common.Exchange
	db        *db.Database
	positions *position.Manager
	bus       *events.Bus
	prices    *cache.PriceCache

	mu      sync.Mutex
	closing map[string]closeTarget // client id -> position being flattened
}

func NewService(exchange common.Exchange, database *db.Database, positions *position.Manager, bus *events.Bus, prices *cache.PriceCache) *Service {
	return &Service{
		exchange:  exchange,
		db:        database,
		positions: positions,
		bus:       bus,
		prices:    prices,
		closing:   make(map[string]closeTarget),
	}
}

// Exchange exposes the underlying venue client for read paths that need it.
func (s *Service) Exchange() common.Exchange { return s.exchange }

// Positions exposes the position manager.
func (s *Service) Positions() *position.Manager { return s.positions }

func validate(req common.OrderRequest) error {
	if req.Symbol == "" {
		return &common.ValidationError{Field: "symbol", Msg: "symbol is required"}
	}
	if _, err := common.ParseSide(string(req.Side)); err != nil {
		return &common.ValidationError{Field: "side", Msg: "unknown side " + string(req.Side)}
	}
	if _, err := common.ParseOrderType(string(req.Type)); err != nil {
		return &common.ValidationError{Field: "type", Msg: "unknown order type " + string(req.Type)}
	}
	if req.Qty <= 0 {
		return &common.ValidationError{Field: "qty", Msg: "quantity must be positive"}
	}
	if requiresPrice(req.Type) && req.Price <= 0 {
		return &common.ValidationError{Field: "price", Msg: "price is required for " + string(req.Type) + " orders"}
	}
	if requiresStopPrice(req.Type) && req.StopPrice <= 0 {
		return &common.ValidationError{Field: "stopPrice", Msg: "stop price is required for " + string(req.Type) + " orders"}
	}
	return nil
}

// requiresPrice reports whether the order type carries a limit price.
func requiresPrice(t common.OrderType) bool {
	switch t {
	case common.OrderTypeLimit, common.OrderTypeStopLossLimit, common.OrderTypeTakeProfitLimit, common.OrderTypeOCO:
		return true
	}
	return false
}

// requiresStopPrice reports whether the order type carries a trigger price.
func requiresStopPrice(t common.OrderType) bool {
	switch t {
	case common.OrderTypeStopLoss, common.OrderTypeStopLossLimit,
		common.OrderTypeTakeProfit, common.OrderTypeTakeProfitLimit, common.OrderTypeOCO:
		return true
	}
	return false
}

// PlaceOrder validates and submits an order. The order is persisted as
// pending before submission so a crash between the two steps leaves a
// record to reconcile against.
func (s *Service) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if err := validate(req); err != nil {
		return common.Order{}, err
	}

	req.Symbol = common.NormalizeSymbol(req.Symbol)
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	pending := common.Order{
		ClientID:  req.ClientID,
		Exchange:  s.exchange.Name(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Qty:       req.Qty,
		State:     common.StatePending,
	}
	if err := s.persistNew(ctx, pending, req.StrategyID); err != nil {
		return common.Order{}, fmt.Errorf("persist pending order: %w", err)
	}

	placed, err := s.exchange.PlaceOrder(ctx, req)
	if err != nil {
		if dbErr := s.db.UpdateOrderState(ctx, req.ClientID, string(common.StateRejected)); dbErr != nil {
			log.Printf("trade: mark order %s rejected: %v", req.ClientID, dbErr)
		}
		pending.State = common.StateRejected
		s.publishOrder(pending)
		return common.Order{}, fmt.Errorf("place order: %w", err)
	}

	placed.ClientID = req.ClientID
	placed.StrategyID = req.StrategyID
	if placed.State == "" {
		placed.State = common.StateOpen
	}
	if err := s.applyUpdate(ctx, pending, placed); err != nil {
		log.Printf("trade: apply update for %s: %v", req.ClientID, err)
	}
	return placed, nil
}

// CancelOrder cancels a working order by client id.
func (s *Service) CancelOrder(ctx context.Context, clientID string) error {
	stored, err := s.db.GetOrder(ctx, clientID)
	if err != nil {
		return err
	}
	state := common.OrderState(stored.State)
	// CanTransition treats canceled -> canceled as a harmless self
	// transition, but a second cancel must not hit the exchange again.
	if state.IsTerminal() || !order.CanTransition(state, common.StateCanceled) {
		return &common.StateError{From: state, To: common.StateCanceled}
	}
	if err := s.exchange.CancelOrder(ctx, stored.Symbol, stored.ExchangeOrderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", clientID, err)
	}
	if err := s.db.UpdateOrderState(ctx, clientID, string(common.StateCanceled)); err != nil {
		return err
	}
	s.publishOrder(storedToOrder(stored, common.StateCanceled))
	return nil
}

// ClosePosition flattens one position with an opposite-side market order.
// The fill settles through the position's Close path, realizing PnL against
// the entry rather than opening exposure in the other direction.
func (s *Service) ClosePosition(ctx context.Context, symbol string, side common.PositionSide, clientID string) (common.Order, error) {
	symbol = common.NormalizeSymbol(symbol)
	p := s.positions.Get(symbol, side)
	if p.Qty <= 0 {
		return common.Order{}, &common.ValidationError{Field: "symbol", Msg: "no open " + string(side) + " position on " + symbol}
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	orderSide := common.SideSell
	if side == common.PositionShort {
		orderSide = common.SideBuy
	}

	s.mu.Lock()
	s.closing[clientID] = closeTarget{symbol: symbol, side: side}
	s.mu.Unlock()

	placed, err := s.PlaceOrder(ctx, common.OrderRequest{
		Symbol:      symbol,
		Side:        orderSide,
		Type:        common.OrderTypeMarket,
		Qty:         p.Qty,
		TimeInForce: common.TIFIOC,
		ClientID:    clientID,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.closing, clientID)
		s.mu.Unlock()
		return common.Order{}, err
	}
	return placed, nil
}

// SyncOrderStatus pulls the venue's view of an order and folds any progress
// into local state. Used at startup and as a fallback when the user data
// stream is down.
func (s *Service) SyncOrderStatus(ctx context.Context, clientID string) (common.Order, error) {
	stored, err := s.db.GetOrder(ctx, clientID)
	if err != nil {
		return common.Order{}, err
	}
	remote, err := s.exchange.GetOrder(ctx, stored.Symbol, stored.ExchangeOrderID)
	if err != nil {
		return common.Order{}, fmt.Errorf("sync order %s: %w", clientID, err)
	}
	remote.ClientID = clientID
	remote.StrategyID = stored.StrategyID
	if err := s.applyUpdate(ctx, storedToOrder(stored, common.OrderState(stored.State)), remote); err != nil {
		return common.Order{}, err
	}
	return remote, nil
}

// HandleOrderUpdate folds a user-data-stream push into local state. Updates
// for orders this service never placed are logged and dropped.
func (s *Service) HandleOrderUpdate(ctx context.Context, update common.Order) {
	clientID := update.ClientID
	if clientID == "" {
		log.Printf("trade: order update without client id (exchange id %s)", update.ExchangeOrderID)
		return
	}
	stored, err := s.db.GetOrder(ctx, clientID)
	if err != nil {
		log.Printf("trade: order update for unknown order %s: %v", clientID, err)
		return
	}
	update.StrategyID = stored.StrategyID
	if err := s.applyUpdate(ctx, storedToOrder(stored, common.OrderState(stored.State)), update); err != nil {
		log.Printf("trade: apply order update %s: %v", clientID, err)
	}
}

// applyUpdate moves an order from its stored state to the freshly observed
// one, records fill progress, updates positions and publishes the change.
// Out-of-order updates that would walk the state machine backwards are
// rejected by the transition check.
func (s *Service) applyUpdate(ctx context.Context, prev, next common.Order) error {
	from := prev.State
	if _, err := order.Transition(from, next.State); err != nil {
		// Venues can ack a market order already filled, skipping the open
		// ack. Step through open so the fill is not dropped.
		if from != common.StatePending || !order.CanTransition(common.StateOpen, next.State) {
			return err
		}
	}

	if next.ExchangeOrderID != "" && next.ExchangeOrderID != prev.ExchangeOrderID {
		if err := s.db.SetExchangeOrderID(ctx, next.ClientID, next.ExchangeOrderID); err != nil {
			return err
		}
	}
	if err := s.db.UpdateOrderFill(ctx, next.ClientID, next.FilledQty, next.AvgPrice, next.Commission, string(next.State)); err != nil {
		return err
	}

	s.mu.Lock()
	target, isClose := s.closing[next.ClientID]
	if isClose && next.State.IsTerminal() {
		delete(s.closing, next.ClientID)
	}
	s.mu.Unlock()

	// Only the newly filled slice moves the position.
	delta := next.FilledQty - prev.FilledQty
	if delta > 0 {
		price := fillPrice(next)
		switch {
		case price <= 0:
			log.Printf("trade: order %s filled %v with no usable price, position not updated", next.ClientID, delta)
		case isClose:
			// A close order's fill flattens the tracked position instead
			// of opening exposure in the opposite direction.
			closed := s.positions.Close(ctx, target.symbol, target.side, price)
			s.bus.Publish(events.EventPositionChange, events.PositionChange{Position: closed})
		default:
			for _, p := range s.positions.ApplyTrade(ctx, next.Symbol, next.Side, delta, price) {
				s.bus.Publish(events.EventPositionChange, events.PositionChange{Position: p})
			}
		}
	}

	s.publishOrder(next)
	return nil
}

// fillPrice picks the execution price for position bookkeeping: the venue's
// average fill price when reported, otherwise the order's limit price.
func fillPrice(o common.Order) float64 {
	if o.AvgPrice > 0 {
		return o.AvgPrice
	}
	if o.Price > 0 {
		return o.Price
	}
	return 0
}

// GetOrder returns the stored record for one order.
func (s *Service) GetOrder(ctx context.Context, clientID string) (common.Order, error) {
	stored, err := s.db.GetOrder(ctx, clientID)
	if err != nil {
		return common.Order{}, err
	}
	return storedToOrder(stored, common.OrderState(stored.State)), nil
}

// ListOrders returns recent orders from local storage.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]common.Order, error) {
	rows, err := s.db.ListOrders(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]common.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, storedToOrder(r, common.OrderState(r.State)))
	}
	return out, nil
}

// ListOpenOrders returns locally stored orders still working on the venue.
func (s *Service) ListOpenOrders(ctx context.Context) ([]common.Order, error) {
	rows, err := s.db.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, storedToOrder(r, common.OrderState(r.State)))
	}
	return out, nil
}

// GetBalance proxies the venue's account balances.
func (s *Service) GetBalance(ctx context.Context) ([]common.Balance, error) {
	return s.exchange.GetBalance(ctx)
}

// MarkPrice returns the freshest known price for a symbol, zero when none.
func (s *Service) MarkPrice(symbol string) float64 {
	price, _ := s.prices.Get(common.NormalizeSymbol(symbol))
	return price
}

func (s *Service) persistNew(ctx context.Context, o common.Order, strategyID string) error {
	return s.db.CreateOrder(ctx, db.Order{
		ClientID:   o.ClientID,
		Exchange:   string(o.Exchange),
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(o.Type),
		Price:      o.Price,
		StopPrice:  o.StopPrice,
		Qty:        o.Qty,
		State:      string(o.State),
		StrategyID: strategyID,
	})
}

func (s *Service) publishOrder(o common.Order) {
	s.bus.Publish(events.EventOrderUpdate, events.OrderUpdate{Order: o})
}

func storedToOrder(r db.Order, state common.OrderState) common.Order {
	return common.Order{
		ClientID:        r.ClientID,
		ExchangeOrderID: r.ExchangeOrderID,
		Exchange:        common.Name(strings.ToLower(r.Exchange)),
		Symbol:          r.Symbol,
		Side:            common.Side(r.Side),
		Type:            common.OrderType(r.Type),
		Price:           r.Price,
		StopPrice:       r.StopPrice,
		Qty:             r.Qty,
		FilledQty:       r.FilledQty,
		AvgPrice:        r.AvgPrice,
		Commission:      r.Fee,
		State:           state,
		StrategyID:      r.StrategyID,
		CreatedAt:       r.CreatedAt.UnixMilli(),
		UpdatedAt:       r.UpdatedAt.UnixMilli(),
	}
}
