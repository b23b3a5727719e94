// Package cli implements the ussdpilot subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/classify"
	"github.com/bhandras/ussdpilot/internal/config"
	"github.com/bhandras/ussdpilot/internal/journal"
	"github.com/bhandras/ussdpilot/internal/session"
	sessionactor "github.com/bhandras/ussdpilot/internal/session/actor"
	"github.com/bhandras/ussdpilot/internal/simulator"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/bhandras/ussdpilot/internal/telemetry"
	"github.com/bhandras/ussdpilot/internal/version"
	"github.com/bhandras/ussdpilot/pkg/logger"
)

// Engine is a wired session engine: bus, telemetry, journal and manager.
type Engine struct {
	Bus       *bus.Bus
	Telemetry *telemetry.Manager
	Journal   *journal.Journal
	Sessions  *session.Manager
	Simulator *simulator.Simulator
}

// EngineOptions selects optional parts of the engine.
type EngineOptions struct {
	// Demo drives sessions through the canned simulator instead of a remote
	// device.
	Demo bool
	// NoJournal skips opening the database even when a path is configured.
	NoJournal bool
}

// SessionConfig converts the file/env configuration into the per-session
// configuration of the engine.
func SessionConfig(s config.SessionConfig) sessionactor.Config {
	return sessionactor.Config{
		DialCode:       s.DialCode,
		AutoPIN:        s.AutoPIN,
		OpeningBalance: s.OpeningBalance,
		ConfirmMode:    sessionactor.ConfirmMode(s.ConfirmMode),
		Strategy:       s.Strategy,
		Delays: sessionactor.Delays{
			Dial:     s.Delays.Dial.D(),
			Extract:  s.Delays.Extract.D(),
			Autofill: s.Delays.Autofill.D(),
			Dispatch: s.Delays.Dispatch.D(),
			Conceal:  s.Delays.Conceal.D(),
		},
		Debounce: classify.Policy{
			QuietInterval: s.Debounce.QuietInterval.D(),
			MinLength:     s.Debounce.MinLength,
		},
		Classifier: classify.WithShortCode(s.DialCode),
	}
}

// demoSession adapts cfg to the simulator: it only knows PIN 0202 and
// confirms deposits with "1".
func demoSession(cfg sessionactor.Config) sessionactor.Config {
	cfg.AutoPIN = simulator.PIN
	cfg.ConfirmMode = sessionactor.ConfirmToken
	return cfg
}

// NewEngine wires an engine from cfg.
func NewEngine(ctx context.Context, cfg *config.Config, opts EngineOptions) (*Engine, error) {
	tel, err := telemetry.NewManager(ctx, telemetry.Config{
		ServiceName:    "ussdpilot",
		ServiceVersion: version.Version(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	e := &Engine{Bus: bus.New(), Telemetry: tel}

	if cfg.DatabasePath != "" && !opts.NoJournal {
		logger.Infof("Opening journal: %s", cfg.DatabasePath)
		j, err := journal.Open(cfg.DatabasePath)
		if err != nil {
			e.Bus.Close()
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		j.Follow(e.Bus)
		e.Journal = j
	}

	sessCfg := SessionConfig(cfg.Session)
	var (
		surf   surface.Surface
		dialer surface.Dialer
		sim    *simulator.Surface
	)
	if opts.Demo {
		e.Simulator = simulator.New(cfg.Session.OpeningBalance)
		sim = simulator.NewSurface(e.Simulator, cfg.Session.DialCode)
		surf, dialer = sim, sim
		sessCfg = demoSession(sessCfg)
	} else {
		remote := surface.NewRemote(e.Bus)
		surf, dialer = remote, remote
	}

	e.Sessions = session.NewManager(session.Options{
		Session:   sessCfg,
		Bus:       e.Bus,
		Surface:   surf,
		Dialer:    dialer,
		Telemetry: tel,
	})
	if sim != nil {
		sim.Attach(e.Sessions)
	}
	return e, nil
}

// Close ends every session and releases the engine.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.Sessions.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}
	e.Bus.Close()
	if e.Journal != nil {
		if err := e.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if err := e.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}
