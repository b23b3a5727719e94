package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/bhandras/ussdpilot/internal/journal"
	"github.com/bhandras/ussdpilot/internal/session"
	sessionactor "github.com/bhandras/ussdpilot/internal/session/actor"
	"github.com/bhandras/ussdpilot/internal/snapshot"
	"github.com/bhandras/ussdpilot/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Sessions is the session registry the handlers drive.
type Sessions interface {
	Start(ctx context.Context, dialCode string) (string, error)
	Reply(ctx context.Context, sessionID, text string) error
	Accept(ctx context.Context, sessionID, text string) (bool, error)
	OnSnapshotFor(ctx context.Context, sessionID string, root snapshot.Node) error
	Disconnect(sessionID, reason string) error
	End(ctx context.Context, sessionID, reason string) error
	Get(sessionID string) (session.Session, bool)
	List() []session.Session
}

// Journal is the durable event store. It may be nil.
type Journal interface {
	Events(ctx context.Context, sessionID string) ([]journal.Event, error)
	Sessions(ctx context.Context, limit int) ([]journal.SessionRecord, error)
}

type SessionHandler struct {
	sessions Sessions
	journal  Journal
}

func NewSessionHandler(sessions Sessions, j Journal) *SessionHandler {
	return &SessionHandler{sessions: sessions, journal: j}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateSessionRequest represents the request to start a session
type CreateSessionRequest struct {
	DialCode string `json:"dialCode"`
}

// TextRequest carries a reply or a text to run through the gate.
type TextRequest struct {
	Text string `json:"text"`
}

// ReasonRequest carries an optional reason for ending a session.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CreateSession handles POST /v1/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	id, err := h.sessions.Start(c.Request.Context(), req.DialCode)
	if err != nil {
		logger.Warnf("[api] start session: %v", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "failed to start session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": id})
}

// ListSessions handles GET /v1/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// GetSession handles GET /v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// Reply handles POST /v1/sessions/:id/reply. Replies to unknown or finished
// sessions are dropped without an error, like any other stale input.
func (h *SessionHandler) Reply(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err := h.sessions.Reply(c.Request.Context(), c.Param("id"), req.Text)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, sessionactor.ErrSessionEnded):
		c.JSON(http.StatusAccepted, gin.H{"queued": false})
	default:
		logger.Warnf("[api] reply: %v", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "reply not delivered"})
	}
}

// Accept handles POST /v1/sessions/:id/accept
func (h *SessionHandler) Accept(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	accepted, err := h.sessions.Accept(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// Disconnect handles POST /v1/sessions/:id/disconnect
func (h *SessionHandler) Disconnect(c *gin.Context) {
	var req ReasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "transport lost"
	}
	if err := h.sessions.Disconnect(c.Param("id"), req.Reason); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// DeleteSession handles DELETE /v1/sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" {
		reason = "ended by user"
	}
	if err := h.sessions.End(c.Request.Context(), c.Param("id"), reason); err != nil {
		h.sessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSessionEvents handles GET /v1/sessions/:id/events
func (h *SessionHandler) GetSessionEvents(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "journal disabled"})
		return
	}
	events, err := h.journal.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Warnf("[api] events: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read events"})
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListHistory handles GET /v1/history, the journaled sessions including
// finished ones.
func (h *SessionHandler) ListHistory(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "journal disabled"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	records, err := h.journal.Sessions(c.Request.Context(), limit)
	if err != nil {
		logger.Warnf("[api] history: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read history"})
		return
	}
	if records == nil {
		records = []journal.SessionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records})
}

// PostSnapshot handles POST /v1/snapshots. The tree is routed to the
// session named by the sessionId query parameter, or to the current one.
func (h *SessionHandler) PostSnapshot(c *gin.Context) {
	var tree snapshot.Tree
	if err := c.ShouldBindJSON(&tree); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err := h.sessions.OnSnapshotFor(c.Request.Context(), c.Query("sessionId"), &tree)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"routed": true})
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, sessionactor.ErrSessionEnded):
		c.JSON(http.StatusAccepted, gin.H{"routed": false})
	default:
		logger.Warnf("[api] snapshot: %v", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "snapshot not delivered"})
	}
}

func (h *SessionHandler) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, sessionactor.ErrSessionEnded):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
	default:
		logger.Warnf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	}
}
