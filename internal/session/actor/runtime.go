package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	framework "github.com/bhandras/ussdpilot/internal/actor"
	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/bhandras/ussdpilot/internal/telemetry"
	"github.com/bhandras/ussdpilot/pkg/logger"
)

const (
	opQueueSize = 64
	opTimeout   = 10 * time.Second
)

// Scheduler runs named delayed actions per session.
type Scheduler interface {
	ScheduleOnce(sessionID, name string, delay time.Duration, action func())
	Cancel(sessionID, name string)
	CancelSession(sessionID string)
}

// Publisher publishes notifications.
type Publisher interface {
	Publish(topic string, payload any)
}

// RetireFunc removes a finished session from its registry.
type RetireFunc func(sessionID string, final ProtocolState, reason string)

// Deps are the collaborators a Runtime drives.
type Deps struct {
	Scheduler Scheduler
	Bus       Publisher
	Surface   surface.Surface
	Dialer    surface.Dialer
	Clock     framework.Clock
	Telemetry *telemetry.Manager
	OnRetire  RetireFunc
}

// Runtime interprets session effects.
//
// Surface and dialer calls run one at a time on a per-session worker so that
// a dial always precedes the injections that follow it and injections keep
// their order. Runtime never mutates session state; results come back as
// inputs through emit.
type Runtime struct {
	sessionID string
	deps      Deps

	mu      sync.Mutex
	ops     chan func()
	started bool
	stopped bool
	call    surface.Call
	done    chan struct{}
	stop    sync.Once
}

var _ framework.Runtime = (*Runtime)(nil)

// NewRuntime returns a Runtime for sessionID.
func NewRuntime(sessionID string, deps Deps) *Runtime {
	if deps.Clock == nil {
		deps.Clock = framework.RealClock{}
	}
	if deps.Surface == nil {
		deps.Surface = surface.Nop{}
	}
	if deps.Dialer == nil {
		deps.Dialer = surface.Nop{}
	}
	return &Runtime{
		sessionID: sessionID,
		deps:      deps,
		ops:       make(chan func(), opQueueSize),
		done:      make(chan struct{}),
	}
}

// HandleEffects implements actor.Runtime. Acks are delivered even after ctx
// is canceled, since retiring the session cancels it mid-batch.
func (r *Runtime) HandleEffects(ctx context.Context, effects []framework.Effect, emit func(framework.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effAck:
			select {
			case e.Reply <- e.Err:
			default:
			}
			continue
		case effAckBool:
			select {
			case e.Reply <- e.OK:
			default:
			}
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		switch e := eff.(type) {
		case effPublish:
			if r.deps.Bus != nil {
				r.deps.Bus.Publish(bus.TopicSessionEvent, e.Note)
			}
		case effStartTimer:
			r.startTimer(ctx, e, emit)
		case effCancelTimer:
			if r.deps.Scheduler != nil {
				r.deps.Scheduler.Cancel(r.sessionID, e.Name)
			}
		case effDial:
			r.enqueueOp(func() { r.dial(e.Code, emit) })
		case effInject:
			r.enqueueOp(func() { r.inject(e.Text, emit) })
		case effConceal:
			r.enqueueOp(func() { r.conceal(e.Strategy) })
		case effGated:
			if !e.Accepted {
				logger.Tracef("[session] %s snapshot dropped (%s)", r.sessionID, e.Reason)
			}
			r.deps.Telemetry.RecordSnapshot(ctx, e.Accepted, e.Reason)
		case effRetire:
			logger.Infof("[session] %s finished in %s (%s)", r.sessionID, e.Final, e.Reason)
			if r.deps.OnRetire != nil {
				r.deps.OnRetire(r.sessionID, e.Final, e.Reason)
			}
		default:
			// Unknown effect: ignore.
		}
	}
}

// Stop implements actor.Runtime. Pending timers are dropped; surface
// operations already queued still run, after which the call is hung up.
func (r *Runtime) Stop() {
	r.stop.Do(func() {
		if r.deps.Scheduler != nil {
			r.deps.Scheduler.CancelSession(r.sessionID)
		}
		r.mu.Lock()
		r.stopped = true
		close(r.ops)
		started := r.started
		r.mu.Unlock()
		if !started {
			r.hangup()
			close(r.done)
		}
	})
}

// Done closes once the surface worker has drained and the call is released.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// startTimer schedules a named timer that emits evTimerFired.
func (r *Runtime) startTimer(ctx context.Context, eff effStartTimer, emit func(framework.Input)) {
	if eff.Name == "" || r.deps.Scheduler == nil {
		return
	}
	r.deps.Scheduler.ScheduleOnce(r.sessionID, eff.Name, eff.After, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		emit(evTimerFired{Name: eff.Name, NowMs: r.deps.Clock.Now().UnixMilli()})
	})
}

func (r *Runtime) enqueueOp(op func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if !r.started {
		r.started = true
		go r.worker()
	}
	select {
	case r.ops <- op:
	default:
		logger.Warnf("[session] %s surface queue full; dropping operation", r.sessionID)
	}
}

func (r *Runtime) worker() {
	defer close(r.done)
	for op := range r.ops {
		op()
	}
	r.hangup()
}

func (r *Runtime) dial(code string, emit func(framework.Input)) {
	err := r.guard(func(ctx context.Context) error {
		call, err := r.deps.Dialer.Dial(ctx, code)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.call = call
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		logger.Warnf("[session] %s dial %s failed: %v", r.sessionID, code, err)
		emit(evCollaboratorFailed{Op: "dial", Err: err.Error(), NowMs: r.deps.Clock.Now().UnixMilli()})
		return
	}
	logger.Debugf("[session] %s dialed %s", r.sessionID, code)
	emit(evDialed{NowMs: r.deps.Clock.Now().UnixMilli()})
}

func (r *Runtime) inject(text string, emit func(framework.Input)) {
	err := r.guard(func(ctx context.Context) error {
		return r.deps.Surface.Inject(ctx, text)
	})
	if err != nil {
		logger.Warnf("[session] %s inject failed: %v", r.sessionID, err)
		emit(evCollaboratorFailed{Op: "inject", Err: err.Error(), NowMs: r.deps.Clock.Now().UnixMilli()})
	}
}

// conceal failures are logged only; a dialog left on screen does not break
// the protocol.
func (r *Runtime) conceal(strategy surface.Strategy) {
	err := r.guard(func(ctx context.Context) error {
		return r.deps.Surface.Conceal(ctx, strategy)
	})
	if err != nil {
		logger.Warnf("[session] %s conceal (%s) failed: %v", r.sessionID, strategy, err)
	}
}

func (r *Runtime) hangup() {
	r.mu.Lock()
	call := r.call
	r.call = nil
	r.mu.Unlock()
	if call == nil {
		return
	}
	if err := call.Hangup(); err != nil {
		logger.Debugf("[session] %s hangup: %v", r.sessionID, err)
	}
}

// guard runs a collaborator call with a deadline and turns panics into
// errors. The call's context names the session it is made for.
func (r *Runtime) guard(fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(surface.WithSession(context.Background(), r.sessionID), opTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
