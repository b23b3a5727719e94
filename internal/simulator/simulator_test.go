package simulator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/ussdpilot/internal/snapshot"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/stretchr/testify/require"
)

func TestDepositJourney(t *testing.T) {
	t.Parallel()

	sim := New(1500)
	sim.now = func() time.Time { return time.UnixMilli(42) }

	resp := sim.StartJourney()
	require.Equal(t, KindRequest, resp.Kind)
	require.Contains(t, resp.Message, "Enter LOOP USSD service PIN:")

	steps := []struct {
		input string
		want  string
		kind  Kind
	}{
		{"1111", "Invalid PIN. Please enter correct PIN:", KindRequest},
		{PIN, "1. Deposit", KindRequest},
		{"1", "1. MPESA to LOOP", KindRequest},
		{"2", "Deposit from Airtel Money\n\nEnter Amount:", KindRequest},
		{"abc", "Invalid amount.", KindRequest},
		{"250", "Amount: KSh 250", KindRequest},
		{"9", "Invalid choice.", KindRequest},
		{"1", "Processing transaction...", KindRequest},
		{"", "New Balance: KSh 1750", KindResponse},
	}
	for _, step := range steps {
		resp := sim.ProcessInput(step.input)
		require.Contains(t, resp.Message, step.want, "input %q", step.input)
		require.Equal(t, step.kind, resp.Kind, "input %q", step.input)
	}
	require.False(t, sim.Active())
}

func TestSuccessCarriesTransactionID(t *testing.T) {
	t.Parallel()

	sim := New(100)
	sim.now = func() time.Time { return time.UnixMilli(1700000000123) }
	sim.StartJourney()
	for _, in := range []string{PIN, "1", "1", "50", "1"} {
		sim.ProcessInput(in)
	}
	resp := sim.ProcessInput("ok")
	require.Contains(t, resp.Message, "✓ Deposit Successful!")
	require.Contains(t, resp.Message, "Transaction ID: TXN1700000000123")
	require.Contains(t, resp.Message, "New Balance: KSh 150")
}

func TestMainMenu(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		want   string
		kind   Kind
		active bool
	}{
		{"2", "Send Money\n\nFeature coming soon!", KindRequest, true},
		{"5", "Loan & Savings", KindRequest, true},
		{"7", "Version 2.1.0", KindRequest, true},
		{"6", "Account Balance: KSh 1500.00", KindResponse, true},
		{"9", "Invalid selection. Please choose 1-7 or 0 to exit:", KindRequest, true},
		{"x", "Invalid input. Please enter a number 1-7 or 0 to exit:", KindRequest, true},
		{"0", "Thank you for using LOOP. Goodbye!", KindResponse, false},
	}
	for _, tt := range tests {
		sim := New(1500)
		sim.StartJourney()
		sim.ProcessInput(PIN)

		resp := sim.ProcessInput(tt.input)
		require.Contains(t, resp.Message, tt.want, "input %q", tt.input)
		require.Equal(t, tt.kind, resp.Kind, "input %q", tt.input)
		require.Equal(t, tt.active, sim.Active(), "input %q", tt.input)
	}
}

func TestBackNavigation(t *testing.T) {
	t.Parallel()

	sim := New(1500)
	sim.StartJourney()
	sim.ProcessInput(PIN)
	sim.ProcessInput("1")
	sim.ProcessInput("1")

	require.Contains(t, sim.ProcessInput("0").Message, "1. MPESA to LOOP")
	require.Contains(t, sim.ProcessInput("0").Message, "1. Deposit")
}

func TestInputWithoutJourney(t *testing.T) {
	t.Parallel()

	sim := New(1500)
	resp := sim.ProcessInput("1")
	require.Equal(t, KindError, resp.Kind)
	require.Equal(t, "Session error. Please start again.", resp.Message)
}

type screenLog struct {
	mu      sync.Mutex
	screens []string
	err     error
}

func (l *screenLog) OnSnapshot(_ context.Context, root snapshot.Node) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screens = append(l.screens, snapshot.Extract(root))
	return l.err
}

func TestSurfacePostsScreens(t *testing.T) {
	t.Parallel()

	sim := New(1500)
	surf := NewSurface(sim, "*219#")
	sink := &screenLog{}
	surf.Attach(sink)
	ctx := context.Background()

	_, err := surf.Dial(ctx, "*100#")
	require.True(t, errors.Is(err, ErrWrongCode))

	call, err := surf.Dial(ctx, "*219#")
	require.NoError(t, err)
	require.NoError(t, surf.Inject(ctx, PIN))
	require.NoError(t, surf.Conceal(ctx, surface.Aggressive))

	require.Len(t, sink.screens, 2)
	require.True(t, strings.HasPrefix(sink.screens[0], "Welcome to the WORLD of LOOP"))
	require.Contains(t, sink.screens[1], "6. Account Balance")
	require.Equal(t, []surface.Strategy{surface.Aggressive}, surf.Conceals())

	require.True(t, sim.Active())
	require.NoError(t, call.Hangup())
	require.False(t, sim.Active())
}

func TestSurfaceSinkErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	surf := NewSurface(New(1500), "")
	surf.Attach(&screenLog{err: errors.New("no session")})

	_, err := surf.Dial(context.Background(), "*999#")
	require.NoError(t, err)
	require.NoError(t, surf.Inject(context.Background(), PIN))
}
