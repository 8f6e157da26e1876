package okx

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

// wsArg is one channel subscription on the v5 socket.
type wsArg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

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

func (s *wsSession) writeText(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.stop)
		s.conn.Close()
	})
}

// Connect dials the public stream and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	sess, err := dial(ctx, publicWSURL)
	if err != nil {
		return err
	}
	c.publicWS = sess
	c.connected = true
	go c.readPublic(ctx, sess)
	go pingLoop(sess)
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

func dial(ctx context.Context, wsURL string) (*wsSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &common.StreamError{Exchange: common.ExchangeOKX, Msg: "dial ws: " + err.Error()}
	}
	return &wsSession{conn: conn, stop: make(chan struct{})}, nil
}

// pingLoop keeps the socket alive with the text-frame ping OKX expects.
func pingLoop(sess *wsSession) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			if err := sess.writeText("ping"); err != nil {
				return
			}
		}
	}
}

// SubscribeTicker subscribes to the tickers channel for one instrument.
func (c *Client) SubscribeTicker(ctx context.Context, symbol string) error {
	return c.subscribe(ctx, wsArg{Channel: "tickers", InstID: c.conv.DenormalizeSymbol(symbol)})
}

// SubscribeKlines subscribes to the candle channel for one instrument.
func (c *Client) SubscribeKlines(ctx context.Context, symbol string, interval common.Interval) error {
	return c.subscribe(ctx, wsArg{
		Channel: "candle" + convert.OKXBarToken(interval),
		InstID:  c.conv.DenormalizeSymbol(symbol),
	})
}

func (c *Client) subscribe(ctx context.Context, arg wsArg) error {
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
	c.subs = append(c.subs, arg)
	c.mu.Unlock()
	return sess.writeJSON(map[string]any{"op": "subscribe", "args": []wsArg{arg}})
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
			log.Printf("okx: public ws read: %v", err)
			c.reconnectPublic(ctx, sess)
			return
		}
		if string(raw) == "pong" {
			continue
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
		sess, err := dial(ctx, publicWSURL)
		if err != nil {
			log.Printf("okx: reconnect attempt %d: %v", retry+1, err)
			continue
		}
		c.mu.Lock()
		c.publicWS = sess
		args := make([]wsArg, len(c.subs))
		copy(args, c.subs)
		c.mu.Unlock()
		if len(args) > 0 {
			if err := sess.writeJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
				log.Printf("okx: resubscribe: %v", err)
				sess.close()
				continue
			}
		}
		go c.readPublic(ctx, sess)
		go pingLoop(sess)
		return
	}
	log.Printf("okx: %v", &common.StreamError{Exchange: common.ExchangeOKX, Msg: "public ws reconnect retries exhausted"})
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// dispatchPublic routes channel pushes to the matching stream.
func (c *Client) dispatchPublic(raw []byte) {
	var msg struct {
		Arg  wsArg             `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Arg.Channel == "" {
		return
	}
	switch {
	case msg.Arg.Channel == "tickers":
		for _, item := range msg.Data {
			t, err := c.conv.ParseTicker(item)
			if err != nil {
				log.Printf("okx: ticker push: %v", err)
				continue
			}
			c.tickers.Publish(t)
		}
	case strings.HasPrefix(msg.Arg.Channel, "candle"):
		token := strings.TrimPrefix(msg.Arg.Channel, "candle")
		interval, err := common.ParseInterval(strings.ToLower(token))
		if err != nil {
			return
		}
		symbol := c.conv.NormalizeSymbol(msg.Arg.InstID)
		for _, item := range msg.Data {
			var row []any
			if err := json.Unmarshal(item, &row); err != nil {
				continue
			}
			k, err := c.conv.ParseKlineRow(row, symbol, interval)
			if err != nil {
				log.Printf("okx: candle push: %v", err)
				continue
			}
			c.klines.Publish(k)
		}
	}
}

// SubscribeUserData logs in on the private stream and subscribes to spot
// order updates. The login signature covers timestamp + "GET" +
// "/users/self/verify".
func (c *Client) SubscribeUserData(ctx context.Context) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	sess, err := dial(ctx, privateWSURL)
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := common.SignHex(timestamp+"GET"+"/users/self/verify", c.creds.APISecret)
	login := map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     c.creds.APIKey,
			"passphrase": c.creds.Passphrase,
			"timestamp":  timestamp,
			"sign":       sig,
		}},
	}
	if err := sess.writeJSON(login); err != nil {
		sess.close()
		return err
	}
	if err := sess.writeJSON(map[string]any{
		"op":   "subscribe",
		"args": []wsArg{{Channel: "orders", InstType: "SPOT"}},
	}); err != nil {
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
	go pingLoop(sess)
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
				log.Printf("okx: %v", &common.StreamError{Exchange: common.ExchangeOKX, Msg: "private ws reconnect retries exhausted"})
				return
			}
			log.Printf("okx: private ws read: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(common.BackoffDelay(retries)):
			}
			retries++
			sess.close()
			if err := c.SubscribeUserData(ctx); err != nil {
				log.Printf("okx: private ws relogin: %v", err)
				continue
			}
			return
		}
		if string(raw) == "pong" {
			continue
		}
		retries = 0
		c.dispatchPrivate(raw)
	}
}

func (c *Client) dispatchPrivate(raw []byte) {
	var msg struct {
		Arg  wsArg             `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Arg.Channel != "orders" {
		return
	}
	for _, item := range msg.Data {
		o, err := c.conv.ParseOrder(item)
		if err != nil {
			log.Printf("okx: order push: %v", err)
			continue
		}
		c.orders.Publish(o)
	}
}
