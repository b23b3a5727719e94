package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bhandras/ussdpilot/internal/journal"
	"github.com/bhandras/ussdpilot/internal/session"
	sessionactor "github.com/bhandras/ussdpilot/internal/session/actor"
	"github.com/bhandras/ussdpilot/internal/snapshot"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	startErr  error
	replyErr  error
	acceptErr error
	routeErr  error
	endErr    error

	replies  []string
	snapshot string
	routedTo string
	dialCode string
	sessions map[string]session.Session
}

func (f *fakeSessions) Start(_ context.Context, dialCode string) (string, error) {
	f.dialCode = dialCode
	return "session_1", f.startErr
}

func (f *fakeSessions) Reply(_ context.Context, _ string, text string) error {
	f.replies = append(f.replies, text)
	return f.replyErr
}

func (f *fakeSessions) Accept(_ context.Context, _ string, text string) (bool, error) {
	return len(text) >= 5, f.acceptErr
}

func (f *fakeSessions) OnSnapshotFor(_ context.Context, id string, root snapshot.Node) error {
	f.routedTo = id
	f.snapshot = snapshot.Extract(root)
	return f.routeErr
}

func (f *fakeSessions) Disconnect(string, string) error { return f.endErr }

func (f *fakeSessions) End(context.Context, string, string) error { return f.endErr }

func (f *fakeSessions) Get(id string) (session.Session, bool) {
	s, ok := f.sessions[id]
	return s, ok
}

func (f *fakeSessions) List() []session.Session {
	out := make([]session.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func newTestRouter(f *fakeSessions, j Journal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewSessionHandler(f, j)
	r := gin.New()
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.POST("/sessions/:id/reply", h.Reply)
	r.POST("/sessions/:id/accept", h.Accept)
	r.POST("/sessions/:id/disconnect", h.Disconnect)
	r.GET("/sessions/:id/events", h.GetSessionEvents)
	r.GET("/history", h.ListHistory)
	r.POST("/snapshots", h.PostSnapshot)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	f := &fakeSessions{}
	r := newTestRouter(f, nil)

	rec := do(r, http.MethodPost, "/sessions", `{"dialCode":"*100#"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"sessionId":"session_1"}`, rec.Body.String())
	require.Equal(t, "*100#", f.dialCode)

	rec = do(r, http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, f.dialCode)

	f.startErr = session.ErrManagerClosed
	rec = do(r, http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReplyIsAlwaysAccepted(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		queued bool
	}{
		{"live", nil, http.StatusAccepted, true},
		{"unknown", session.ErrUnknownSession, http.StatusAccepted, false},
		{"ended", sessionactor.ErrSessionEnded, http.StatusAccepted, false},
		{"broken", errors.New("mailbox full"), http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		f := &fakeSessions{replyErr: tt.err}
		rec := do(newTestRouter(f, nil), http.MethodPost, "/sessions/s/reply", `{"text":"1"}`)
		require.Equal(t, tt.status, rec.Code, tt.name)
		require.Equal(t, []string{"1"}, f.replies, tt.name)
		if tt.status == http.StatusAccepted {
			var body map[string]bool
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.queued, body["queued"], tt.name)
		}
	}

	rec := do(newTestRouter(&fakeSessions{}, nil), http.MethodPost, "/sessions/s/reply", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndEndSession(t *testing.T) {
	f := &fakeSessions{sessions: map[string]session.Session{
		"a": {ID: "a", State: "MAIN_MENU", Balance: 1500},
	}}
	r := newTestRouter(f, nil)

	rec := do(r, http.MethodGet, "/sessions/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "MAIN_MENU", got.State)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/sessions/b", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/sessions", "").Code)

	require.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/sessions/a", "").Code)
	require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/sessions/a/disconnect", "").Code)

	f.endErr = session.ErrUnknownSession
	require.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/sessions/a", "").Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/sessions/a/disconnect", `{"reason":"x"}`).Code)
}

func TestAccept(t *testing.T) {
	f := &fakeSessions{}
	r := newTestRouter(f, nil)

	rec := do(r, http.MethodPost, "/sessions/a/accept", `{"text":"Enter PIN"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":true}`, rec.Body.String())

	f.acceptErr = session.ErrUnknownSession
	require.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/sessions/a/accept", `{"text":"x"}`).Code)
}

func TestPostSnapshot(t *testing.T) {
	f := &fakeSessions{}
	r := newTestRouter(f, nil)

	body := `{"children":[{"text":"Enter PIN:"},{"contentDescription":"dialog"}]}`
	rec := do(r, http.MethodPost, "/snapshots?sessionId=s1", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"routed":true}`, rec.Body.String())
	require.Equal(t, "s1", f.routedTo)
	require.Equal(t, "Enter PIN:\ndialog\n", f.snapshot)

	f.routeErr = session.ErrNoActiveSession
	rec = do(r, http.MethodPost, "/snapshots", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"routed":false}`, rec.Body.String())
	require.Empty(t, f.routedTo)
}

func TestJournalRoutes(t *testing.T) {
	r := newTestRouter(&fakeSessions{}, nil)
	require.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/sessions/a/events", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/history", "").Code)

	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	r = newTestRouter(&fakeSessions{}, j)
	rec := do(r, http.MethodGet, "/sessions/a/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"events":[]}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}
