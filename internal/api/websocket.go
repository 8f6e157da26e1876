package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quantdesk/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the frontend connects from a local origin
		return true
	},
}

// wsEnvelope frames every outbound message so the frontend can route on type.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsTopics are the bus topics fanned out to every websocket client.
var wsTopics = []events.Event{
	events.EventTicker,
	events.EventKline,
	events.EventOrderUpdate,
	events.EventPositionChange,
	events.EventRiskAlert,
	events.EventEmergencyStop,
	events.EventStrategyPaused,
}

// websocket upgrades the connection and streams bus events until the
// client disconnects.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	subs := make(map[events.Event]<-chan any, len(wsTopics))
	unsubs := make([]func(), 0, len(wsTopics))
	for _, topic := range wsTopics {
		ch, unsub := s.Bus.Subscribe(topic, 128)
		subs[topic] = ch
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	// drain reads so pings and close frames are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	merged := make(chan wsEnvelope, 256)
	for topic, ch := range subs {
		go func(topic events.Event, ch <-chan any) {
			for msg := range ch {
				select {
				case merged <- wsEnvelope{Type: string(topic), Data: msg}:
				case <-done:
					return
				}
			}
		}(topic, ch)
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case env := <-merged:
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
