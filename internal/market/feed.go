// Package market bridges the exchange's websocket streams onto the event
// bus and keeps the price cache fresh.
package market

import (
	"context"
	"log"
	"time"

	"quantdesk/internal/events"
	"quantdesk/pkg/cache"
	"quantdesk/pkg/exchanges/common"
)

const priceMaxAge = 10 * time.Minute

// Feed subscribes to configured symbols and republishes ticks and candles.
type Feed struct {
	Exchange common.Exchange
	Bus      *events.Bus
	Prices   *cache.PriceCache
	Symbols  []string
	Interval common.Interval
}

// Start connects the market stream and launches the forwarding loops. It
// also backfills recent candles so volatility checks have history from the
// first monitor pass.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.Exchange.Connect(ctx); err != nil {
		return err
	}

	for _, sym := range f.Symbols {
		if err := f.Exchange.SubscribeTicker(ctx, sym); err != nil {
			log.Printf("market: subscribe ticker %s: %v", sym, err)
		}
		if err := f.Exchange.SubscribeKlines(ctx, sym, f.Interval); err != nil {
			log.Printf("market: subscribe klines %s: %v", sym, err)
		}
	}

	go f.forwardTickers(ctx)
	go f.forwardKlines(ctx)
	go f.evictStale(ctx)
	go f.backfill(ctx)
	return nil
}

func (f *Feed) forwardTickers(ctx context.Context) {
	ch, stop := f.Exchange.TickerStream()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			f.Prices.Set(t.Symbol, t.LastPrice)
			f.Bus.Publish(events.EventTicker, t)
		}
	}
}

func (f *Feed) forwardKlines(ctx context.Context) {
	ch, stop := f.Exchange.KlineStream()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-ch:
			if !ok {
				return
			}
			f.Prices.Set(k.Symbol, k.Close)
			f.Bus.Publish(events.EventKline, k)
		}
	}
}

// backfill seeds kline history for each symbol over REST.
func (f *Feed) backfill(ctx context.Context) {
	for _, sym := range f.Symbols {
		klines, err := f.Exchange.GetKlines(ctx, sym, f.Interval, 100)
		if err != nil {
			log.Printf("market: backfill %s: %v", sym, err)
			continue
		}
		for _, k := range klines {
			f.Bus.Publish(events.EventKline, k)
		}
		if len(klines) > 0 {
			f.Prices.Set(common.NormalizeSymbol(sym), klines[len(klines)-1].Close)
		}
	}
}

// evictStale drops prices that stopped updating so risk checks never act on
// a dead feed's last value.
func (f *Feed) evictStale(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := f.Prices.Cleanup(priceMaxAge); removed > 0 {
				log.Printf("market: evicted %d stale prices", removed)
			}
		}
	}
}
