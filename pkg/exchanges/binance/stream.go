package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantdesk/pkg/exchanges/common"
)

// wsSession wraps one websocket connection with serialized writes.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

func (s *wsSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

// Connect opens the public market-data websocket and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	sess, err := c.dialMarket(ctx)
	if err != nil {
		return err
	}
	c.marketWS = sess
	c.connected = true
	go c.readMarket(ctx, sess, 0)
	return nil
}

// Disconnect closes all websocket sessions.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.marketWS != nil {
		c.marketWS.close()
		c.marketWS = nil
	}
	if c.userWS != nil {
		c.userWS.close()
		c.userWS = nil
	}
	c.connected = false
	return nil
}

// IsConnected reports whether the market stream is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) dialMarket(ctx context.Context) (*wsSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: dial market stream: %w", err)
	}
	// The server pings every few minutes and drops connections without a
	// timely pong.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	return &wsSession{conn: conn, stop: make(chan struct{})}, nil
}

// SubscribeTicker subscribes to 24h ticker pushes for a symbol.
func (c *Client) SubscribeTicker(ctx context.Context, symbol string) error {
	return c.subscribe(ctx, []string{streamName(symbol, "ticker")})
}

// SubscribeKlines subscribes to kline pushes for a symbol at one interval.
func (c *Client) SubscribeKlines(ctx context.Context, symbol string, interval common.Interval) error {
	return c.subscribe(ctx, []string{streamName(symbol, "kline_"+string(interval))})
}

func (c *Client) subscribe(ctx context.Context, streams []string) error {
	c.mu.Lock()
	sess := c.marketWS
	for _, s := range streams {
		c.subs[s] = struct{}{}
	}
	id := len(c.subs)
	c.mu.Unlock()

	if sess == nil {
		return &common.StreamError{Exchange: common.ExchangeBinance, Msg: "not connected"}
	}
	return sess.writeJSON(map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     id,
	})
}

// readMarket consumes the public stream, reconnecting with capped exponential
// backoff. retries carries across a failed dial, resets after a clean read.
func (c *Client) readMarket(ctx context.Context, sess *wsSession, retries int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.stop:
			return
		default:
		}

		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.stop:
				return
			default:
			}
			log.Printf("binance: market stream read: %v", err)
			next, ok := c.reconnectMarket(ctx, retries)
			if !ok {
				return
			}
			sess = next
			retries = 0
			continue
		}
		c.dispatchMarket(msg)
	}
}

func (c *Client) reconnectMarket(ctx context.Context, retries int) (*wsSession, bool) {
	for ; retries < common.MaxStreamRetries; retries++ {
		delay := common.BackoffDelay(retries)
		log.Printf("binance: reconnecting market stream in %s (attempt %d/%d)", delay, retries+1, common.MaxStreamRetries)
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		sess, err := c.dialMarket(ctx)
		if err != nil {
			log.Printf("binance: reconnect failed: %v", err)
			continue
		}

		c.mu.Lock()
		c.marketWS = sess
		streams := make([]string, 0, len(c.subs))
		for s := range c.subs {
			streams = append(streams, s)
		}
		c.mu.Unlock()

		if len(streams) > 0 {
			if err := sess.writeJSON(map[string]any{"method": "SUBSCRIBE", "params": streams, "id": 1}); err != nil {
				log.Printf("binance: resubscribe failed: %v", err)
				sess.close()
				continue
			}
		}
		return sess, true
	}

	log.Printf("binance: %v", &common.StreamError{Exchange: common.ExchangeBinance, Msg: "market stream gave up after max retries"})
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil, false
}

func (c *Client) dispatchMarket(msg []byte) {
	var probe struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return
	}
	switch probe.Event {
	case "24hrTicker":
		tk, err := c.conv.ParseTicker(msg)
		if err != nil {
			log.Printf("binance: ticker parse: %v", err)
			return
		}
		c.tickers.Publish(tk)
	case "kline":
		k, err := c.conv.ParseKline(msg)
		if err != nil {
			log.Printf("binance: kline parse: %v", err)
			return
		}
		c.klines.Publish(k)
	}
}

func streamName(symbol, suffix string) string {
	return fmt.Sprintf("%s@%s", strings.ToLower(symbol), suffix)
}
