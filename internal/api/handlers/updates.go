package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/ussdpilot/internal/api/middleware"
	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/bhandras/ussdpilot/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	updatesOutboxSize = 256
	updatesWriteWait  = 10 * time.Second
	updatesPingPeriod = 30 * time.Second
)

// Updates is the part of the bus the stream needs.
type Updates interface {
	Subscribe(topic string, handler bus.Handler) *bus.Subscription
	Unsubscribe(sub *bus.Subscription)
	Dropped() uint64
}

// UpdatesHandler streams bus notifications over websockets.
type UpdatesHandler struct {
	updates    Updates
	jwtManager *crypto.JWTManager
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	conns  map[*updateConn]struct{}
	closed bool
}

// NewUpdatesHandler creates the stream handler. A nil jwtManager leaves the
// stream open to anyone the origin check admits.
func NewUpdatesHandler(updates Updates, jwtManager *crypto.JWTManager, allowedOrigins []string) *UpdatesHandler {
	return &UpdatesHandler{
		updates:    updates,
		jwtManager: jwtManager,
		upgrader:   websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		conns:      make(map[*updateConn]struct{}),
	}
}

// Stream handles GET /v1/updates. The topic query parameter selects session
// notifications (default) or surface commands for a device agent; sessionId
// limits notifications to one session.
func (h *UpdatesHandler) Stream(c *gin.Context) {
	if h.jwtManager != nil {
		token, ok := middleware.BearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing token"})
			return
		}
		if _, err := h.jwtManager.VerifyToken(token); err != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
	}

	topic := c.DefaultQuery("topic", bus.TopicSessionEvent)
	if topic != bus.TopicSessionEvent && topic != surface.TopicCommand {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown topic"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered the request.
		logger.Debugf("[api] updates upgrade failed: %v", err)
		return
	}

	conn := newUpdateConn(ws)
	filter := c.Query("sessionId")
	sub := h.updates.Subscribe(topic, func(topic string, payload any) {
		switch p := payload.(type) {
		case bus.Notification:
			if filter != "" && p.SessionID != filter {
				return
			}
		case surface.Command:
			if filter != "" && p.SessionID != filter {
				return
			}
		default:
			return
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if !conn.enqueue(data) {
			logger.Warnf("[api] updates client is slow, %s payload dropped", topic)
		}
	})
	if sub == nil {
		conn.closeNow()
		return
	}
	defer func() {
		h.updates.Unsubscribe(sub)
		if n := sub.Dropped(); n > 0 {
			logger.Warnf("[api] updates client %s missed %d bus payloads", c.ClientIP(), n)
		}
	}()

	if !h.track(conn) {
		conn.closeNow()
		return
	}
	defer h.untrack(conn)

	logger.Debugf("[api] updates client connected (%s)", c.ClientIP())
	go conn.readLoop()
	conn.writeLoop()
	logger.Debugf("[api] updates client gone (%s)", c.ClientIP())
}

// Dropped returns how many payloads the bus dropped on full mailboxes.
func (h *UpdatesHandler) Dropped() uint64 {
	return h.updates.Dropped()
}

// Close disconnects every stream client.
func (h *UpdatesHandler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*updateConn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.closeNow()
	}
}

// Clients returns the number of connected stream clients.
func (h *UpdatesHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *UpdatesHandler) track(conn *updateConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *UpdatesHandler) untrack(conn *updateConn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.closeNow()
}

// updateConn owns one websocket. Only writeLoop writes to it.
type updateConn struct {
	ws        *websocket.Conn
	outbox    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newUpdateConn(ws *websocket.Conn) *updateConn {
	return &updateConn{
		ws:      ws,
		outbox:  make(chan []byte, updatesOutboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *updateConn) enqueue(data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *updateConn) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close()
	})
}

func (c *updateConn) writeLoop() {
	ticker := time.NewTicker(updatesPingPeriod)
	defer ticker.Stop()
	defer c.closeNow()

	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(updatesWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(updatesWriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and notices when the client leaves.
func (c *updateConn) readLoop() {
	defer c.closeNow()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("[api] updates read error: %v", err)
			}
			return
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if strings.TrimSpace(o) == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSpace(o), origin) {
				return true
			}
		}
		return false
	}
}
