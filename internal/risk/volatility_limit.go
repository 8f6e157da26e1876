package risk

import (
	"fmt"
	"sync"

	"quantdesk/internal/indicators"
	"quantdesk/pkg/exchanges/common"
)

// klineWindow caps how much candle history the rule retains per symbol.
const klineWindow = 100

// VolatilityLimit measures ATR relative to the latest close and triggers
// when the market is moving too fast to trade safely. ATR over period N
// needs N+1 candles, since each true range looks at the previous close.
type VolatilityLimit struct {
	cfg VolatilityLimitConfig

	mu      sync.Mutex
	history map[string][]common.Kline
}

func NewVolatilityLimit(cfg VolatilityLimitConfig) *VolatilityLimit {
	return &VolatilityLimit{
		cfg:     cfg,
		history: make(map[string][]common.Kline),
	}
}

func (r *VolatilityLimit) Name() string  { return "volatility_limit" }
func (r *VolatilityLimit) Enabled() bool { return r.cfg.Enabled }

// RecordKline appends a closed candle to the symbol's window.
func (r *VolatilityLimit) RecordKline(k common.Kline) {
	if !k.Closed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	window := append(r.history[k.Symbol], k)
	if len(window) > klineWindow {
		window = window[len(window)-klineWindow:]
	}
	r.history[k.Symbol] = window
}

// atrRatio returns ATR divided by the latest close, or false when the
// window is too short.
func (r *VolatilityLimit) atrRatio(symbol string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.history[symbol]
	atr, ok := indicators.ATR(window, r.cfg.ATRPeriod)
	if !ok {
		return 0, false
	}

	last := window[len(window)-1].Close
	if last <= 0 {
		return 0, false
	}
	return atr / last, true
}

func (r *VolatilityLimit) Evaluate(s Snapshot) *Violation {
	r.mu.Lock()
	symbols := make([]string, 0, len(r.history))
	for sym := range r.history {
		symbols = append(symbols, sym)
	}
	r.mu.Unlock()

	for _, sym := range symbols {
		ratio, ok := r.atrRatio(sym)
		if !ok {
			continue
		}
		if ratio >= r.cfg.MaxRatio {
			return &Violation{
				Rule:         r.Name(),
				Action:       r.cfg.Action,
				Symbol:       sym,
				Message:      fmt.Sprintf("%s ATR/price %.2f%% at or above limit %.2f%%", sym, ratio*100, r.cfg.MaxRatio*100),
				CurrentValue: ratio,
				Threshold:    r.cfg.MaxRatio,
			}
		}
	}
	return nil
}
