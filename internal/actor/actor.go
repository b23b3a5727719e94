// Package actor provides the single-owner event loop that serializes all work
// for one dialog session.
//
// The model is:
//   - One goroutine (the actor loop) owns the session state.
//   - A pure reducer folds inputs into the next state and returns effects.
//   - A Runtime interprets effects (publishing, injecting input, timers) and
//     feeds follow-up inputs back into the mailbox.
//
// Because only the loop touches state, inputs for one session are applied
// strictly one at a time; different sessions run on different actors.
package actor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrStopped is returned when enqueueing into a stopped actor.
	ErrStopped = errors.New("actor stopped")
	// ErrMailboxFull is returned when the mailbox cannot take more inputs.
	ErrMailboxFull = errors.New("actor mailbox full")
)

const defaultMailboxSize = 256

// Input is an item delivered to an actor mailbox. Inputs are either events
// observed by a runtime or commands issued by callers.
type Input interface {
	isActorInput()
}

// InputBase is embedded by concrete input types.
type InputBase struct{}

func (InputBase) isActorInput() {}

// Effect is a declarative side-effect produced by a reducer. Effects are
// data; the Runtime executes them.
type Effect interface {
	isActorEffect()
}

// EffectBase is embedded by concrete effect types.
type EffectBase struct{}

func (EffectBase) isActorEffect() {}

// Clock is the time source runtimes use to stamp inputs. Reducers never read
// it.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// ReducerFunc is a pure state transition function.
//
// Reducers must not perform I/O, spawn goroutines or read the clock. Time and
// identifiers are carried in the inputs.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs back to the actor.
type Runtime interface {
	// HandleEffects executes effects. It runs on the actor loop, so anything
	// that may block must be started asynchronously. Implementations must
	// stop emitting once ctx is canceled.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called more than once.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after the reduced state has been stored.
	OnTransition func(prev S, next S, input Input)
	// OnEffects is called before effects are handed to the Runtime.
	OnEffects func(effects []Effect)
	// OnDrop is called when an emitted follow-up input could not be queued.
	OnDrop func(input Input, err error)
	// OnPanic is called when the loop panics. If nil, the panic propagates.
	OnPanic func(recovered any)
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
	stop   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the mailbox buffer size. Non-positive values are
// ignored.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New creates an actor with initial state, reducer and runtime. The loop does
// not run until Start is called.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, defaultMailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the actor loop. It is idempotent.
func (a *Actor[S]) Start() {
	a.start.Do(func() { go a.loop() })
}

// Stop cancels the actor and stops its runtime. Safe to call repeatedly and
// from inside HandleEffects.
func (a *Actor[S]) Stop() {
	a.stop.Do(func() {
		a.cancel()
		if a.runtime != nil {
			a.runtime.Stop()
		}
	})
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Stopped reports whether Stop has been called.
func (a *Actor[S]) Stopped() bool {
	return a.ctx.Err() != nil
}

// Enqueue delivers an input to the mailbox without blocking.
func (a *Actor[S]) Enqueue(input Input) error {
	if input == nil {
		return nil
	}
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	default:
		return ErrMailboxFull
	}
}

// EnqueueWait delivers an input, waiting for mailbox space until ctx is done
// or the actor stops.
func (a *Actor[S]) EnqueueWait(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current state. Intended for observers and
// tests; behaviour should be derived from reducer output.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	emit := func(in Input) {
		if err := a.Enqueue(in); err != nil && a.hooks.OnDrop != nil {
			a.hooks.OnDrop(in, err)
		}
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			a.handle(in, emit)
		}
	}
}

func (a *Actor[S]) handle(in Input, emit func(Input)) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}
