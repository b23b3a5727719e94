// Package session is the registry of live dialog sessions. It owns one actor
// per session, routes snapshots and replies to it and removes it once the
// session finishes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	framework "github.com/bhandras/ussdpilot/internal/actor"
	"github.com/bhandras/ussdpilot/internal/scheduler"
	sessionactor "github.com/bhandras/ussdpilot/internal/session/actor"
	"github.com/bhandras/ussdpilot/internal/snapshot"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/bhandras/ussdpilot/internal/telemetry"
	"github.com/bhandras/ussdpilot/pkg/logger"
)

// Options configures a Manager.
type Options struct {
	// Session is the per-session configuration template.
	Session sessionactor.Config

	Bus       sessionactor.Publisher
	Surface   surface.Surface
	Dialer    surface.Dialer
	Clock     framework.Clock
	Telemetry *telemetry.Manager

	// NewID and NewTxnID mint identifiers. Defaults use UUIDv7.
	NewID    func() (string, error)
	NewTxnID func() string
}

// Session is a read-only view of a live session.
type Session struct {
	ID           string                      `json:"id"`
	State        string                      `json:"state"`
	Closed       bool                        `json:"closed,omitempty"`
	CloseReason  string                      `json:"closeReason,omitempty"`
	DialCode     string                      `json:"dialCode"`
	Provider     string                      `json:"provider,omitempty"`
	Amount       int64                       `json:"amount,omitempty"`
	Balance      int64                       `json:"balance"`
	TxnID        string                      `json:"txnId,omitempty"`
	PendingReply bool                        `json:"pendingReply"`
	Prompt       string                      `json:"prompt,omitempty"`
	History      []sessionactor.HistoryEntry `json:"history"`
	StartedAt    time.Time                   `json:"startedAt"`
}

type entry struct {
	id        string
	seq       uint64
	startedAt time.Time
	act       *framework.Actor[sessionactor.State]
	rt        *sessionactor.Runtime
}

// Manager owns the session actors.
type Manager struct {
	opts  Options
	sched *scheduler.Scheduler

	mu       sync.Mutex
	sessions map[string]*entry
	seq      uint64
	closed   bool
}

// NewManager creates a session manager and its scheduler.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = framework.RealClock{}
	}
	if opts.NewID == nil {
		opts.NewID = newSessionID
	}
	if opts.NewTxnID == nil {
		opts.NewTxnID = newTxnID
	}
	m := &Manager{
		opts:     opts,
		sessions: make(map[string]*entry),
	}
	m.sched = scheduler.New(m)
	return m
}

func newSessionID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "session_" + u.String(), nil
}

func newTxnID() string {
	u, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("TXN%d", time.Now().UnixMilli())
	}
	return "TXN-" + strings.ToUpper(u.String())
}

// Start creates a session, announces it and arms its dial timer. An empty
// dialCode uses the configured one.
func (m *Manager) Start(ctx context.Context, dialCode string) (string, error) {
	id, err := m.opts.NewID()
	if err != nil {
		return "", err
	}

	cfg := m.opts.Session
	if code := strings.TrimSpace(dialCode); code != "" {
		cfg.DialCode = code
	}

	rt := sessionactor.NewRuntime(id, sessionactor.Deps{
		Scheduler: m.sched,
		Bus:       m.opts.Bus,
		Surface:   m.opts.Surface,
		Dialer:    m.opts.Dialer,
		Clock:     m.opts.Clock,
		Telemetry: m.opts.Telemetry,
		OnRetire:  m.retire,
	})
	act := framework.New(sessionactor.NewState(id, cfg), sessionactor.Reduce, rt,
		framework.WithHooks(m.hooks(id)))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	m.seq++
	e := &entry{id: id, seq: m.seq, startedAt: m.opts.Clock.Now(), act: act, rt: rt}
	m.sessions[id] = e
	m.mu.Unlock()

	act.Start()
	if err := act.EnqueueWait(ctx, sessionactor.Start(m.nowMs())); err != nil {
		m.drop(id)
		act.Stop()
		return "", fmt.Errorf("start session: %w", err)
	}
	logger.Infof("[session] %s started (dial %s)", id, cfg.DialCode)
	return id, nil
}

// Reply submits a user reply. Unknown ids yield ErrUnknownSession and
// finished sessions yield sessionactor.ErrSessionEnded; neither changes any
// state. Invalid replies are re-prompted, not reported as errors.
//
// Reply returns once the reply has been applied: Get reflects it, and a
// reply that finishes the session has already removed it from the registry.
func (m *Manager) Reply(ctx context.Context, sessionID, text string) (err error) {
	ctx, span := m.opts.Telemetry.StartSpan(ctx, "session.reply",
		telemetry.AttrSessionID.String(sessionID),
		telemetry.AttrText.String(text),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	e := m.get(sessionID)
	if e == nil {
		logger.Debugf("[session] reply for unknown session %s dropped", sessionID)
		return ErrUnknownSession
	}
	m.opts.Telemetry.RecordReply(ctx)
	logger.Debugf("[session] %s reply %q", sessionID, telemetry.MaskText(text))

	reply := make(chan error, 1)
	if err := e.act.EnqueueWait(ctx, sessionactor.Reply(text, m.opts.NewTxnID(), m.nowMs(), reply)); err != nil {
		return m.enqueueErr(err)
	}
	return waitErr(ctx, e, reply)
}

// Accept runs the debounce gate of a session for text.
func (m *Manager) Accept(ctx context.Context, sessionID, text string) (bool, error) {
	e := m.get(sessionID)
	if e == nil {
		return false, ErrUnknownSession
	}
	reply := make(chan bool, 1)
	if err := e.act.EnqueueWait(ctx, sessionactor.Accept(text, m.nowMs(), reply)); err != nil {
		return false, m.enqueueErr(err)
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-e.act.Done():
		select {
		case ok := <-reply:
			return ok, nil
		default:
			return false, sessionactor.ErrSessionEnded
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// OnSnapshot extracts text from root and routes it to the most recently
// started live session.
func (m *Manager) OnSnapshot(ctx context.Context, root snapshot.Node) error {
	return m.OnSnapshotFor(ctx, "", root)
}

// OnSnapshotFor routes a snapshot to sessionID, or to the current session
// when sessionID is empty.
func (m *Manager) OnSnapshotFor(ctx context.Context, sessionID string, root snapshot.Node) (err error) {
	text := snapshot.Clean(snapshot.Extract(root))
	if text == "" {
		return nil
	}

	var e *entry
	if sessionID == "" {
		e = m.current()
	} else {
		e = m.get(sessionID)
	}
	if e == nil {
		logger.Debugf("[session] snapshot with no session to route to dropped")
		if sessionID != "" {
			return ErrUnknownSession
		}
		return ErrNoActiveSession
	}

	_, span := m.opts.Telemetry.StartSpan(ctx, "session.snapshot",
		telemetry.AttrSessionID.String(e.id),
		telemetry.AttrText.String(text),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := e.act.Enqueue(sessionactor.Snapshot(text, m.nowMs())); err != nil {
		return m.enqueueErr(err)
	}
	return nil
}

// Disconnect reports that the transport of sessionID was lost.
func (m *Manager) Disconnect(sessionID, reason string) error {
	e := m.get(sessionID)
	if e == nil {
		return ErrUnknownSession
	}
	if err := e.act.Enqueue(sessionactor.Disconnected(reason, m.nowMs())); err != nil {
		return m.enqueueErr(err)
	}
	return nil
}

// End closes sessionID on request.
func (m *Manager) End(ctx context.Context, sessionID, reason string) error {
	e := m.get(sessionID)
	if e == nil {
		return ErrUnknownSession
	}
	reply := make(chan error, 1)
	if err := e.act.EnqueueWait(ctx, sessionactor.End(reason, m.nowMs(), reply)); err != nil {
		return m.enqueueErr(err)
	}
	err := waitErr(ctx, e, reply)
	if errors.Is(err, sessionactor.ErrSessionEnded) {
		return nil
	}
	return err
}

// Get returns a view of sessionID.
func (m *Manager) Get(sessionID string) (Session, bool) {
	e := m.get(sessionID)
	if e == nil {
		return Session{}, false
	}
	return view(e), true
}

// List returns every registered session, oldest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, view(e))
	}
	return out
}

// Current returns the id snapshots are routed to by default.
func (m *Manager) Current() (string, bool) {
	e := m.current()
	if e == nil {
		return "", false
	}
	return e.id, true
}

// Live implements scheduler.Liveness: the session exists and has neither
// reached a terminal state nor been closed.
func (m *Manager) Live(sessionID string) bool {
	e := m.get(sessionID)
	if e == nil {
		return false
	}
	return e.act.State().Live()
}

// Close ends every session and stops the scheduler. Surface operations that
// were already queued are given until ctx is done to finish.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		err := m.End(ctx, e.id, "shutdown")
		if err != nil && !errors.Is(err, ErrUnknownSession) {
			logger.Warnf("[session] %s shutdown: %v", e.id, err)
			m.retire(e.id, e.act.State().Protocol, "shutdown")
		}
	}
	defer m.sched.Close()

	for _, e := range entries {
		select {
		case <-e.rt.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// retire removes a finished session and stops its actor. It runs on the
// session's own actor loop, so it must not wait for that loop.
func (m *Manager) retire(sessionID string, final sessionactor.ProtocolState, reason string) {
	e := m.drop(sessionID)
	if e == nil {
		return
	}
	m.opts.Telemetry.RecordSessionEnd(context.Background(), string(final))
	e.act.Stop()
	logger.Debugf("[session] %s removed (%s: %s)", sessionID, final, reason)
}

func (m *Manager) drop(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return e
}

func (m *Manager) get(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// current returns the most recently started session that is still live.
func (m *Manager) current() *entry {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var best *entry
	for _, e := range entries {
		if !e.act.State().Live() {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	return best
}

func (m *Manager) hooks(sessionID string) framework.Hooks[sessionactor.State] {
	return framework.Hooks[sessionactor.State]{
		OnInput: func(in framework.Input) {
			if logger.Enabled(logger.LevelTrace) {
				logger.Tracef("[session] %s input %T", sessionID, in)
			}
		},
		OnTransition: func(prev, next sessionactor.State, _ framework.Input) {
			if prev.Protocol != next.Protocol {
				logger.Debugf("[session] %s %s -> %s", sessionID, prev.Protocol, next.Protocol)
			}
		},
		OnDrop: func(in framework.Input, err error) {
			logger.Warnf("[session] %s dropped %T: %v", sessionID, in, err)
		},
		OnPanic: func(recovered any) {
			logger.Errorf("[session] %s actor panic: %v", sessionID, recovered)
			m.retire(sessionID, sessionactor.StateError, "panic")
		},
	}
}

func (m *Manager) nowMs() int64 {
	return m.opts.Clock.Now().UnixMilli()
}

func (m *Manager) enqueueErr(err error) error {
	if errors.Is(err, framework.ErrStopped) {
		return sessionactor.ErrSessionEnded
	}
	return fmt.Errorf("enqueue: %w", err)
}

func waitErr(ctx context.Context, e *entry, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-e.act.Done():
		// The loop may have answered just before exiting.
		select {
		case err := <-reply:
			return err
		default:
			return sessionactor.ErrSessionEnded
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func view(e *entry) Session {
	s := e.act.State()
	return Session{
		ID:           e.id,
		State:        string(s.Protocol),
		Closed:       s.Closed,
		CloseReason:  s.CloseReason,
		DialCode:     s.Cfg.DialCode,
		Provider:     s.Provider,
		Amount:       s.Amount,
		Balance:      s.Balance,
		TxnID:        s.TxnID,
		PendingReply: s.HasPendingReply,
		Prompt:       s.LastPrompt,
		History:      append([]sessionactor.HistoryEntry(nil), s.History...),
		StartedAt:    e.startedAt,
	}
}
