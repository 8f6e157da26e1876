package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"quantdesk/internal/api"
	"quantdesk/internal/emergency"
	"quantdesk/internal/events"
	"quantdesk/internal/gateway"
	"quantdesk/internal/market"
	"quantdesk/internal/notify"
	"quantdesk/internal/position"
	"quantdesk/internal/reconciliation"
	"quantdesk/internal/risk"
	"quantdesk/internal/strategy"
	"quantdesk/internal/trade"
	"quantdesk/pkg/cache"
	"quantdesk/pkg/config"
	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

var buildVersion = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting trading core (exchange=%s testnet=%v port=%s)",
		cfg.Exchange, cfg.Testnet, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Exchange gateway
	exchange, err := gateway.New(cfg.Exchange, common.Credentials{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Passphrase: cfg.Passphrase,
		Testnet:    cfg.Testnet,
	})
	if err != nil {
		log.Fatalf("gateway init failed: %v", err)
	}

	// In-memory position book seeded from DB
	positions := position.NewManager(database)
	if err := positions.Load(ctx); err != nil {
		log.Fatalf("position load failed: %v", err)
	}

	prices := cache.NewPriceCache()
	trades := trade.NewService(exchange, database, positions, bus, prices)
	strategies := strategy.NewRegistry(bus)

	// Notification fanout: log always, webhook/email when configured
	notifiers := []notify.Notifier{notify.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.SMTPHost != "" {
		notifiers = append(notifiers, &notify.EmailNotifier{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		})
	}
	notifier := &notify.Fanout{Notifiers: notifiers}

	emergencySvc := emergency.NewService(trades, strategies, notifier, bus)

	// Risk monitor
	riskCfg, err := risk.LoadConfig(cfg.RiskConfigPath)
	if err != nil {
		log.Printf("risk config load failed, using defaults: %v", err)
		riskCfg = risk.DefaultConfig()
	}
	monitor := risk.NewMonitor(risk.BuildRules(riskCfg), trades, database, bus,
		notifier, strategies, emergencySvc, cfg.MonitorInterval)
	go monitor.Run(ctx)

	// Market data feed
	interval, err := common.ParseInterval(cfg.KlineInterval)
	if err != nil {
		log.Printf("bad KLINE_INTERVAL %q, falling back to 1m: %v", cfg.KlineInterval, err)
		interval = common.Interval1m
	}
	feed := &market.Feed{
		Exchange: exchange,
		Bus:      bus,
		Prices:   prices,
		Symbols:  cfg.Symbols,
		Interval: interval,
	}
	if err := feed.Start(ctx); err != nil {
		log.Printf("market feed start failed: %v", err)
	}

	// Private order stream feeds the trade service; reconciliation covers
	// anything the stream misses
	if cfg.APIKey != "" {
		reconciliation.NewService(trades, reconciliation.DefaultInterval).Start(ctx)
		if err := exchange.SubscribeUserData(ctx); err != nil {
			log.Printf("user data subscribe failed: %v", err)
		} else {
			orderCh, unsub := exchange.OrderStream()
			go func() {
				defer unsub()
				for update := range orderCh {
					trades.HandleOrderUpdate(ctx, update)
				}
			}()
		}
	} else {
		log.Println("no API credentials; trading endpoints will fail until configured")
	}

	server := api.NewServer(bus, database, trades, strategies, emergencySvc,
		api.SystemMeta{
			Exchange: cfg.Exchange,
			Symbols:  cfg.Symbols,
			Testnet:  cfg.Testnet,
			Version:  buildVersion,
		})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
	if err := exchange.Disconnect(); err != nil {
		log.Printf("disconnect: %v", err)
	}
}
