// Package surface declares the collaborators the session engine drives: the
// dialog surface it types into and the transport that dials a short code.
package surface

import (
	"context"
	"fmt"
)

// Strategy selects how a handled dialog is dismissed.
type Strategy string

const (
	// Gentle navigates back out of the dialog.
	Gentle Strategy = "gentle"
	// Aggressive force-closes the dialog.
	Aggressive Strategy = "aggressive"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(raw); s {
	case Gentle, Aggressive:
		return s, nil
	case "":
		return Gentle, nil
	default:
		return "", fmt.Errorf("unknown conceal strategy %q", raw)
	}
}

// Surface is the dialog the engine reads snapshots from and types into.
//
// Inject submits text into the active input field. The engine does not
// observe the effect other than through the next snapshot.
type Surface interface {
	Inject(ctx context.Context, text string) error
	Conceal(ctx context.Context, strategy Strategy) error
}

// Call is an established dial transport.
type Call interface {
	Hangup() error
}

// Dialer opens a dial transport for a short code.
type Dialer interface {
	Dial(ctx context.Context, code string) (Call, error)
}

type sessionKey struct{}

// WithSession tags ctx with the session a collaborator call is made for.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session id set by WithSession, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Nop is a Surface, Dialer and Call that does nothing. It stands in when no
// device is attached and snapshots arrive over the API.
type Nop struct{}

// Inject implements Surface.
func (Nop) Inject(context.Context, string) error { return nil }

// Conceal implements Surface.
func (Nop) Conceal(context.Context, Strategy) error { return nil }

// Dial implements Dialer.
func (Nop) Dial(context.Context, string) (Call, error) { return Nop{}, nil }

// Hangup implements Call.
func (Nop) Hangup() error { return nil }
