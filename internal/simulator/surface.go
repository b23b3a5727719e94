package simulator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bhandras/ussdpilot/internal/snapshot"
	"github.com/bhandras/ussdpilot/internal/surface"
	"github.com/bhandras/ussdpilot/pkg/logger"
)

// ErrWrongCode is returned when dialing a code the simulator does not serve.
var ErrWrongCode = fmt.Errorf("simulator does not serve this code")

// Sink receives the screens the simulator shows, as a real dialog capture
// would deliver them.
type Sink interface {
	OnSnapshot(ctx context.Context, root snapshot.Node) error
}

// Surface drives a Simulator through the engine's collaborator interfaces:
// dialing starts a journey, injected text is processed as subscriber input
// and every resulting screen is posted to the sink.
type Surface struct {
	sim  *Simulator
	code string

	mu       sync.Mutex
	sink     Sink
	conceals []surface.Strategy
}

var (
	_ surface.Dialer  = (*Surface)(nil)
	_ surface.Surface = (*Surface)(nil)
	_ surface.Call    = (*Surface)(nil)
)

// NewSurface wraps sim. An empty code accepts any dial code.
func NewSurface(sim *Simulator, code string) *Surface {
	return &Surface{sim: sim, code: strings.TrimSpace(code)}
}

// Attach sets where screens are posted. Screens shown before a sink is
// attached are dropped.
func (s *Surface) Attach(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Dial implements surface.Dialer.
func (s *Surface) Dial(ctx context.Context, code string) (surface.Call, error) {
	if s.code != "" && strings.TrimSpace(code) != s.code {
		return nil, fmt.Errorf("%w: %s", ErrWrongCode, code)
	}
	s.post(ctx, s.sim.StartJourney())
	return s, nil
}

// Inject implements surface.Surface.
func (s *Surface) Inject(ctx context.Context, text string) error {
	s.post(ctx, s.sim.ProcessInput(text))
	return nil
}

// Conceal implements surface.Surface. There is no window to hide; the
// request is only recorded.
func (s *Surface) Conceal(_ context.Context, strategy surface.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conceals = append(s.conceals, strategy)
	return nil
}

// Conceals returns how often each strategy was requested, in order.
func (s *Surface) Conceals() []surface.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]surface.Strategy(nil), s.conceals...)
}

// Hangup implements surface.Call.
func (s *Surface) Hangup() error {
	s.sim.Reset()
	return nil
}

func (s *Surface) post(ctx context.Context, resp Response) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.OnSnapshot(ctx, snapshot.FromText(resp.Message)); err != nil {
		logger.Debugf("[simulator] screen not delivered: %v", err)
	}
}
