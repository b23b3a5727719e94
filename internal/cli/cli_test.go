package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/ussdpilot/internal/actor/actortest"
	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/config"
	"github.com/bhandras/ussdpilot/internal/crypto"
	sessionactor "github.com/bhandras/ussdpilot/internal/session/actor"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/stretchr/testify/require"
)

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.DatabasePath = ""
	d := config.Duration(time.Millisecond)
	cfg.Session.Delays = config.Delays{Extract: d, Autofill: d, Dispatch: d, Conceal: d, Dial: d}
	cfg.Session.Debounce.QuietInterval = 0
	return &cfg
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	got := SessionConfig(cfg.Session)

	require.Equal(t, "*219#", got.DialCode)
	require.Equal(t, "0303", got.AutoPIN)
	require.Equal(t, int64(1500), got.OpeningBalance)
	require.Equal(t, sessionactor.ConfirmPIN, got.ConfirmMode)
	require.Equal(t, surface.Gentle, got.Strategy)
	require.Equal(t, 1500*time.Millisecond, got.Delays.Autofill)
	require.Equal(t, 2*time.Second, got.Debounce.QuietInterval)
	require.Equal(t, 5, got.Debounce.MinLength)

	demo := demoSession(got)
	require.Equal(t, "0202", demo.AutoPIN)
	require.Equal(t, sessionactor.ConfirmToken, demo.ConfirmMode)
}

func TestSimulateCommandRunsJourney(t *testing.T) {
	in, feed := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- SimulateCommand(context.Background(), fastConfig(), in, out)
	}()

	steps := []struct {
		wait  string
		reply string
	}{
		{"6. Account Balance", "1"},
		{"2. Airtel Money to LOOP", "2"},
		{"Deposit from Airtel Money", "300"},
		{"1. Confirm", "1"},
	}
	for _, step := range steps {
		actortest.Eventually(t, 2*time.Second, func() bool {
			return strings.Contains(out.String(), step.wait)
		}, "never saw %q in:\n%s", step.wait, out.String())
		_, err := io.WriteString(feed, step.reply+"\n")
		require.NoError(t, err)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("simulate did not return; output:\n%s", out.String())
	}
	_ = feed.Close()

	require.Contains(t, out.String(), "New Balance: KSh 1800")
	require.Contains(t, out.String(), sessionactor.NoteSessionEnded)
}

func TestEngineUsesRemoteSurfaceOutsideDemo(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, fastConfig(), EngineOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(ctx) })

	var (
		mu       sync.Mutex
		commands []surface.Command
	)
	engine.Bus.Subscribe(surface.TopicCommand, func(_ string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, payload.(surface.Command))
	})

	_, err = engine.Sessions.Start(ctx, "")
	require.NoError(t, err)

	actortest.Eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(commands) > 0
	}, "no dial command published")
	mu.Lock()
	require.Equal(t, surface.ActionDial, commands[0].Action)
	require.Equal(t, "*219#", commands[0].Code)
	mu.Unlock()
}

func TestEngineOpensJournal(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.DatabasePath = t.TempDir() + "/journal.db"

	engine, err := NewEngine(ctx, cfg, EngineOptions{})
	require.NoError(t, err)
	require.NotNil(t, engine.Journal)

	id, err := engine.Sessions.Start(ctx, "")
	require.NoError(t, err)
	require.NoError(t, engine.Sessions.End(ctx, id, "test"))

	actortest.Eventually(t, 2*time.Second, func() bool {
		events, err := engine.Journal.Events(ctx, id)
		return err == nil && len(events) >= 2
	}, "session not journaled")
	require.NoError(t, engine.Close(ctx))
}

func TestTokenAndPair(t *testing.T) {
	cfg := fastConfig()

	var out bytes.Buffer
	require.Error(t, TokenCommand(cfg, "", time.Hour, &out))

	cfg.APISecret = "pairing-secret"
	require.NoError(t, TokenCommand(cfg, "", time.Hour, &out))
	token := strings.TrimSpace(out.String())

	jwtManager, err := crypto.NewJWTManager(cfg.APISecret)
	require.NoError(t, err)
	claims, err := jwtManager.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "console", claims.Subject)
	require.Equal(t, apiScope, claims.Scope)

	out.Reset()
	require.NoError(t, PairCommand(cfg, "https://pilot.example/", "phone", time.Hour, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	link := lines[len(lines)-1]
	require.True(t, strings.HasPrefix(link, "wss://pilot.example/v1/updates?token="), link)

	require.Error(t, PairCommand(cfg, "ftp://x", "", time.Hour, &out))
}

func TestBaseURL(t *testing.T) {
	require.Equal(t, "http://localhost:8080", BaseURL(":8080"))
	require.Equal(t, "http://0.0.0.0:9000", BaseURL("0.0.0.0:9000"))
}

func TestFormatNote(t *testing.T) {
	single := formatNote(bus.Notification{Type: sessionactor.NoteDialing, Message: "Dialing *219#"})
	require.Contains(t, single, "Dialing *219#")
	require.True(t, strings.HasSuffix(single, "\n"))

	multi := formatNote(bus.Notification{Type: sessionactor.NoteMenuOptions, Message: "Deposit\n1. MPESA"})
	require.Contains(t, multi, "\nDeposit\n1. MPESA\n\n")
}
