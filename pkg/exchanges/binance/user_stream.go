package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quantdesk/pkg/exchanges/common"
)

// Binance expires a listen key after 60 minutes without keepalive; ping it at
// half that.
const listenKeyKeepalive = 30 * time.Minute

// createListenKey starts a user data stream session.
func (c *Client) createListenKey(ctx context.Context) (string, error) {
	body, err := c.doListenKey(ctx, http.MethodPost, "")
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("binance: empty listen key")
	}
	return resp.ListenKey, nil
}

// keepAliveListenKey extends the session.
func (c *Client) keepAliveListenKey(ctx context.Context, key string) error {
	_, err := c.doListenKey(ctx, http.MethodPut, key)
	return err
}

// closeListenKey ends the session.
func (c *Client) closeListenKey(ctx context.Context, key string) error {
	_, err := c.doListenKey(ctx, http.MethodDelete, key)
	return err
}

// doListenKey hits /api/v3/userDataStream, which authenticates with the API
// key header alone (no signature).
func (c *Client) doListenKey(ctx context.Context, method, key string) ([]byte, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	u := c.baseURL() + "/api/v3/userDataStream"
	if key != "" {
		u += "?listenKey=" + key
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: userDataStream %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &common.ExchangeError{
			Exchange: common.ExchangeBinance,
			Op:       "userDataStream " + method,
			Msg:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}
	return body, nil
}

// SubscribeUserData opens the private stream: create a listen key, connect
// <ws>/<listenKey>, keep the key alive every 30 minutes and forward
// executionReport events to the order stream.
func (c *Client) SubscribeUserData(ctx context.Context) error {
	key, err := c.createListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL()+"/"+key, nil)
	if err != nil {
		return fmt.Errorf("binance: dial user stream: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	sess := &wsSession{conn: conn, stop: make(chan struct{})}

	c.mu.Lock()
	if c.userWS != nil {
		c.userWS.close()
	}
	c.userWS = sess
	c.listenKey = key
	c.mu.Unlock()

	go c.keepAliveLoop(ctx, sess, key)
	go c.readUser(ctx, sess)
	return nil
}

func (c *Client) keepAliveLoop(ctx context.Context, sess *wsSession, key string) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.closeListenKey(context.Background(), key)
			return
		case <-sess.stop:
			_ = c.closeListenKey(context.Background(), key)
			return
		case <-ticker.C:
			if err := c.keepAliveListenKey(ctx, key); err != nil {
				log.Printf("binance: listen key keepalive: %v", err)
			}
		}
	}
}

func (c *Client) readUser(ctx context.Context, sess *wsSession) {
	retries := 0
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
			if retries >= common.MaxStreamRetries {
				log.Printf("binance: %v", &common.StreamError{Exchange: common.ExchangeBinance, Msg: "user stream gave up after max retries"})
				return
			}
			delay := common.BackoffDelay(retries)
			retries++
			log.Printf("binance: user stream read: %v; reconnecting in %s", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			// A fresh listen key also restarts the keepalive loop.
			sess.close()
			if err := c.SubscribeUserData(ctx); err != nil {
				log.Printf("binance: user stream reconnect: %v", err)
				continue
			}
			return
		}
		retries = 0
		c.dispatchUser(msg)
	}
}

func (c *Client) dispatchUser(msg []byte) {
	var probe struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return
	}
	if probe.Event != "executionReport" {
		return
	}
	o, err := c.conv.ParseOrder(msg)
	if err != nil {
		log.Printf("binance: execution report parse: %v", err)
		return
	}
	c.orders.Publish(o)
}
