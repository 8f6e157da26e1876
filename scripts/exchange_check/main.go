package main

import (
	"context"
	"log"
	"os"
	"time"

	"quantdesk/internal/gateway"
	"quantdesk/pkg/config"
	"quantdesk/pkg/exchanges/common"
)

// exchange_check/main.go
//
// Small tool to verify that venue connectivity and credentials work before
// starting the core.
//
// Usage:
//
//   go run ./scripts/exchange_check
//
// Environment variables (same as the main binary):
//   EXCHANGE, TESTNET
//   BINANCE_API_KEY / BINANCE_API_SECRET (or BYBIT_*/OKX_*, OKX_PASSPHRASE)
//
// Control:
//   CHECK_SYMBOL          (default "BTCUSDT")
//   CHECK_PLACE_ORDERS    (default "false")
//        - false: read-only checks (ticker, klines, balance, open orders)
//        - true : also sends a tiny LIMIT order far from market and cancels it
//
// Keep CHECK_PLACE_ORDERS=false until the read-only checks pass.

func main() {
	log.Println("=== Exchange check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	symbol := getenv("CHECK_SYMBOL", "BTCUSDT")
	placeOrders := getenv("CHECK_PLACE_ORDERS", "false") == "true"
	log.Printf("Config: exchange=%s testnet=%v symbol=%s placeOrders=%v",
		cfg.Exchange, cfg.Testnet, symbol, placeOrders)

	ex, err := gateway.New(cfg.Exchange, common.Credentials{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Passphrase: cfg.Passphrase,
		Testnet:    cfg.Testnet,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ticker, err := ex.GetTicker(ctx, symbol)
	if err != nil {
		log.Fatalf("[TICKER] %v", err)
	}
	log.Printf("[TICKER] %s last=%v bid=%v ask=%v", ticker.Symbol, ticker.LastPrice, ticker.BidPrice, ticker.AskPrice)

	klines, err := ex.GetKlines(ctx, symbol, common.Interval1m, 5)
	if err != nil {
		log.Fatalf("[KLINES] %v", err)
	}
	log.Printf("[KLINES] got %d candles", len(klines))

	if cfg.APIKey == "" {
		log.Println("[ACCOUNT] no credentials, skipping signed checks")
		return
	}

	balances, err := ex.GetBalance(ctx)
	if err != nil {
		log.Fatalf("[BALANCE] %v", err)
	}
	log.Printf("[BALANCE] %d assets", len(balances))

	open, err := ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		log.Fatalf("[OPEN ORDERS] %v", err)
	}
	log.Printf("[OPEN ORDERS] %d on %s", len(open), symbol)

	if !placeOrders {
		log.Println("=== Exchange check done (read-only) ===")
		return
	}

	// limit price far below market so the order rests and cancels cleanly
	price := ticker.LastPrice * 0.5
	order, err := ex.PlaceOrder(ctx, common.OrderRequest{
		Symbol:      symbol,
		Side:        common.SideBuy,
		Type:        common.OrderTypeLimit,
		Qty:         0.001,
		Price:       price,
		TimeInForce: common.TIFGTC,
	})
	if err != nil {
		log.Fatalf("[PLACE] %v", err)
	}
	log.Printf("[PLACE] id=%s state=%s", order.ExchangeOrderID, order.State)

	if err := ex.CancelOrder(ctx, symbol, order.ExchangeOrderID); err != nil {
		log.Fatalf("[CANCEL] %v", err)
	}
	log.Println("[CANCEL] ok")
	log.Println("=== Exchange check done ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
