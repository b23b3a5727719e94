package actor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/ussdpilot/internal/actor"
	"github.com/bhandras/ussdpilot/internal/actor/actortest"
)

type testEvent struct {
	actor.InputBase
	n int
}

type testEffect struct {
	actor.EffectBase
	n int
}

func sumReducer(state int, input actor.Input) (int, []actor.Effect) {
	ev, ok := input.(testEvent)
	if !ok {
		return state, nil
	}
	return state + ev.n, []actor.Effect{testEffect{n: ev.n}}
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		if err := a.Enqueue(testEvent{n: i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	actortest.Eventually(t, 2*time.Second, func() bool { return a.State() == 15 },
		"state=%d, want 15", a.State())

	effects := rt.Effects()
	if len(effects) != 5 {
		t.Fatalf("effects=%d, want 5", len(effects))
	}
	for i, eff := range effects {
		if got := eff.(testEffect).n; got != i+1 {
			t.Fatalf("effect %d carries %d, want %d", i, got, i+1)
		}
	}
}

func TestActorEmitFeedsBackIntoMailbox(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{
		EmitFn: func(ctx context.Context, eff actor.Effect, emit func(actor.Input)) {
			if e, ok := eff.(testEffect); ok && e.n == 1 {
				emit(testEvent{n: 10})
			}
		},
	}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	if err := a.Enqueue(testEvent{n: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	actortest.Eventually(t, 2*time.Second, func() bool { return a.State() == 11 },
		"state=%d, want 11", a.State())
}

func TestActorStopRejectsInput(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	a.Stop()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("actor loop did not exit")
	}
	if err := a.Enqueue(testEvent{n: 1}); err != actor.ErrStopped {
		t.Fatalf("Enqueue after stop err=%v, want ErrStopped", err)
	}
	if rt.Stops() != 1 {
		t.Fatalf("runtime stops=%d, want 1", rt.Stops())
	}
}

func TestActorMailboxFull(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, sumReducer, nil, actor.WithMailboxSize[int](1))
	// Not started: the single slot fills up.
	if err := a.Enqueue(testEvent{n: 1}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := a.Enqueue(testEvent{n: 1}); err != actor.ErrMailboxFull {
		t.Fatalf("second enqueue err=%v, want ErrMailboxFull", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.EnqueueWait(ctx, testEvent{n: 1}); err != context.DeadlineExceeded {
		t.Fatalf("EnqueueWait err=%v, want deadline exceeded", err)
	}
}

func TestActorHooks(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		inputs      int
		transitions [][2]int
	)
	hooks := actor.Hooks[int]{
		OnInput: func(actor.Input) {
			mu.Lock()
			inputs++
			mu.Unlock()
		},
		OnTransition: func(prev, next int, _ actor.Input) {
			mu.Lock()
			transitions = append(transitions, [2]int{prev, next})
			mu.Unlock()
		},
	}
	a := actor.New[int](0, sumReducer, &actortest.FakeRuntime{}, actor.WithHooks(hooks))
	a.Start()
	defer a.Stop()

	_ = a.Enqueue(testEvent{n: 2})
	_ = a.Enqueue(testEvent{n: 3})

	actortest.Eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, "expected two transitions")

	mu.Lock()
	defer mu.Unlock()
	if inputs != 2 {
		t.Fatalf("inputs=%d, want 2", inputs)
	}
	if transitions[1] != [2]int{2, 5} {
		t.Fatalf("second transition=%v, want [2 5]", transitions[1])
	}
}

func TestStepFoldsInputs(t *testing.T) {
	t.Parallel()

	state, effects := actor.Step(0, sumReducer, testEvent{n: 4}, testEvent{n: 6})
	if state != 10 {
		t.Fatalf("state=%d, want 10", state)
	}
	if len(effects) != 2 {
		t.Fatalf("effects=%d, want 2", len(effects))
	}
}
