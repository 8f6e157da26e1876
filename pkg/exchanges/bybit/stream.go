package bybit

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantdesk/pkg/convert"
	"quantdesk/pkg/exchanges/common"
)

const wsPingInterval = 20 * time.Second

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
		s.conn.Close()
	})
}

// Connect dials the public spot stream and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	sess, err := c.dialPublic(ctx)
	if err != nil {
		return err
	}
	c.publicWS = sess
	c.connected = true
	go c.readPublic(ctx, sess)
	go c.pingLoop(sess)
	return nil
}

// Disconnect tears down both sockets.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publicWS != nil {
		c.publicWS.close()
		c.publicWS = nil
	}
	if c.privateWS != nil {
		c.privateWS.close()
		c.privateWS = nil
	}
	c.connected = false
	return nil
}

// IsConnected reports whether the public stream is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) dialPublic(ctx context.Context) (*wsSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.publicWSURL(), nil)
	if err != nil {
		return nil, &common.StreamError{Exchange: common.ExchangeBybit, Msg: "dial public ws: " + err.Error()}
	}
	return &wsSession{conn: conn, stop: make(chan struct{})}, nil
}

// pingLoop keeps the v5 socket alive with application-level pings.
func (c *Client) pingLoop(sess *wsSession) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			if err := sess.writeJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

// SubscribeTicker subscribes to the tickers.<symbol> topic.
func (c *Client) SubscribeTicker(ctx context.Context, symbol string) error {
	return c.subscribe(ctx, "tickers."+c.conv.DenormalizeSymbol(symbol))
}

// SubscribeKlines subscribes to the kline.<interval>.<symbol> topic.
func (c *Client) SubscribeKlines(ctx context.Context, symbol string, interval common.Interval) error {
	topic := "kline." + convert.BybitIntervalToken(interval) + "." + c.conv.DenormalizeSymbol(symbol)
	return c.subscribe(ctx, topic)
}

func (c *Client) subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	sess := c.publicWS
	c.mu.Unlock()
	if sess == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		sess = c.publicWS
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.subs[topic] = struct{}{}
	c.mu.Unlock()
	return sess.writeJSON(map[string]any{"op": "subscribe", "args": []string{topic}})
}

func (c *Client) readPublic(ctx context.Context, sess *wsSession) {
	for {
		select {
		case <-sess.stop:
			return
		default:
		}
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.stop:
				return
			default:
			}
			log.Printf("bybit: public ws read: %v", err)
			c.reconnectPublic(ctx, sess)
			return
		}
		c.dispatchPublic(raw)
	}
}

func (c *Client) reconnectPublic(ctx context.Context, old *wsSession) {
	old.close()
	for retry := 0; retry < common.MaxStreamRetries; retry++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(common.BackoffDelay(retry)):
		}
		sess, err := c.dialPublic(ctx)
		if err != nil {
			log.Printf("bybit: reconnect attempt %d: %v", retry+1, err)
			continue
		}
		c.mu.Lock()
		c.publicWS = sess
		topics := make([]string, 0, len(c.subs))
		for t := range c.subs {
			topics = append(topics, t)
		}
		c.mu.Unlock()
		if len(topics) > 0 {
			if err := sess.writeJSON(map[string]any{"op": "subscribe", "args": topics}); err != nil {
				log.Printf("bybit: resubscribe: %v", err)
				sess.close()
				continue
			}
		}
		go c.readPublic(ctx, sess)
		go c.pingLoop(sess)
		return
	}
	log.Printf("bybit: %v", &common.StreamError{Exchange: common.ExchangeBybit, Msg: "public ws reconnect retries exhausted"})
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// dispatchPublic routes topic pushes to the matching stream.
func (c *Client) dispatchPublic(raw []byte) {
	var msg struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Topic == "" {
		return
	}
	switch {
	case strings.HasPrefix(msg.Topic, "tickers."):
		t, err := c.conv.ParseTicker(msg.Data)
		if err != nil {
			log.Printf("bybit: ticker push: %v", err)
			return
		}
		c.tickers.Publish(t)
	case strings.HasPrefix(msg.Topic, "kline."):
		// Topic carries symbol and interval: kline.<interval>.<symbol>.
		parts := strings.SplitN(msg.Topic, ".", 3)
		if len(parts) != 3 {
			return
		}
		interval := convert.BybitIntervalFromToken(parts[1])
		symbol := common.NormalizeSymbol(parts[2])
		var rows []json.RawMessage
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			return
		}
		for _, row := range rows {
			k, err := c.conv.ParseKlineData(row, symbol, interval)
			if err != nil {
				log.Printf("bybit: kline push: %v", err)
				continue
			}
			c.klines.Publish(k)
		}
	}
}

// SubscribeUserData authenticates on the private stream and subscribes to
// order updates.
func (c *Client) SubscribeUserData(ctx context.Context) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.privateWSURL(), nil)
	if err != nil {
		return &common.StreamError{Exchange: common.ExchangeBybit, Msg: "dial private ws: " + err.Error()}
	}
	sess := &wsSession{conn: conn, stop: make(chan struct{})}

	// Auth proves key ownership by signing "GET/realtime" + expiry.
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	sig := common.SignHex("GET/realtime"+strconv.FormatInt(expires, 10), c.creds.APISecret)
	if err := sess.writeJSON(map[string]any{
		"op":   "auth",
		"args": []any{c.creds.APIKey, expires, sig},
	}); err != nil {
		sess.close()
		return err
	}
	if err := sess.writeJSON(map[string]any{"op": "subscribe", "args": []string{"order"}}); err != nil {
		sess.close()
		return err
	}

	c.mu.Lock()
	if c.privateWS != nil {
		c.privateWS.close()
	}
	c.privateWS = sess
	c.mu.Unlock()

	go c.readPrivate(ctx, sess)
	go c.pingLoop(sess)
	return nil
}

func (c *Client) readPrivate(ctx context.Context, sess *wsSession) {
	retries := 0
	for {
		select {
		case <-sess.stop:
			return
		default:
		}
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			if retries >= common.MaxStreamRetries {
				log.Printf("bybit: %v", &common.StreamError{Exchange: common.ExchangeBybit, Msg: "private ws reconnect retries exhausted"})
				return
			}
			log.Printf("bybit: private ws read: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(common.BackoffDelay(retries)):
			}
			retries++
			sess.close()
			if err := c.SubscribeUserData(ctx); err != nil {
				log.Printf("bybit: private ws reauth: %v", err)
				continue
			}
			return
		}
		retries = 0
		c.dispatchPrivate(raw)
	}
}

func (c *Client) dispatchPrivate(raw []byte) {
	var msg struct {
		Topic string            `json:"topic"`
		Data  []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Topic != "order" {
		return
	}
	for _, item := range msg.Data {
		o, err := c.conv.ParseOrder(item)
		if err != nil {
			log.Printf("bybit: order push: %v", err)
			continue
		}
		c.orders.Publish(o)
	}
}
