package httpserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/davidsunday2/careersim/internal/sequencer"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients come from the platform frontend; restrict in production.
		return true
	},
}

// subscriber buffer; Publish drops events for subscribers that fall behind
// rather than blocking the turn pipeline.
const subscriberBuffer = 16

// Hub fans turn-status events out to websocket subscribers per session.
// It satisfies the sequencer's Notifier interface.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan sequencer.Event]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan sequencer.Event]struct{})}
}

// Publish delivers an event to every subscriber of its session. Never blocks.
func (h *Hub) Publish(ev sequencer.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			// slow consumer; skip rather than stall the pipeline
		}
	}
}

func (h *Hub) subscribe(sessionID string) (chan sequencer.Event, func()) {
	ch := make(chan sequencer.Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan sequencer.Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[sessionID], ch)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// serveStream upgrades the request and relays the session's turn-status
// events until the client disconnects.
func (s *Server) serveStream(c echo.Context, sessionID string) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.hub.subscribe(sessionID)
	defer cancel()

	// read pump: nothing inbound is expected, but reads surface disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("stream write failed, closing")
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-done:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
