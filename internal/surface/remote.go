package surface

import (
	"context"
	"time"
)

// TopicCommand carries Command payloads for a remote device agent.
const TopicCommand = "surface_command"

// Command actions.
const (
	ActionDial    = "dial"
	ActionInject  = "inject"
	ActionConceal = "conceal"
	ActionHangup  = "hangup"
)

// Command is one instruction for the device that owns the real dialog.
// SessionID names the dialog the instruction belongs to.
type Command struct {
	Action    string    `json:"action"`
	SessionID string    `json:"sessionId,omitempty"`
	Code      string    `json:"code,omitempty"`
	Text      string    `json:"text,omitempty"`
	Strategy  Strategy  `json:"strategy,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher publishes a payload on a topic.
type Publisher interface {
	Publish(topic string, payload any)
}

// Remote forwards every collaborator call as a Command on TopicCommand, for
// a device agent listening on the updates stream to carry out. Snapshots
// from that device come back through the API.
//
// Every command carries the session id found on the call's context (see
// WithSession). Dial returns a Call bound to that session, so its hangup
// names the dialog it drops.
type Remote struct {
	pub Publisher
	now func() time.Time
}

var (
	_ Surface = (*Remote)(nil)
	_ Dialer  = (*Remote)(nil)
	_ Call    = (*remoteCall)(nil)
)

// NewRemote returns a Remote publishing on pub.
func NewRemote(pub Publisher) *Remote {
	return &Remote{pub: pub, now: time.Now}
}

// Dial implements Dialer.
func (r *Remote) Dial(ctx context.Context, code string) (Call, error) {
	id := SessionFrom(ctx)
	r.send(Command{Action: ActionDial, SessionID: id, Code: code})
	return &remoteCall{remote: r, sessionID: id}, nil
}

// Inject implements Surface.
func (r *Remote) Inject(ctx context.Context, text string) error {
	r.send(Command{Action: ActionInject, SessionID: SessionFrom(ctx), Text: text})
	return nil
}

// Conceal implements Surface.
func (r *Remote) Conceal(ctx context.Context, strategy Strategy) error {
	r.send(Command{Action: ActionConceal, SessionID: SessionFrom(ctx), Strategy: strategy})
	return nil
}

type remoteCall struct {
	remote    *Remote
	sessionID string
}

// Hangup implements Call.
func (c *remoteCall) Hangup() error {
	c.remote.send(Command{Action: ActionHangup, SessionID: c.sessionID})
	return nil
}

func (r *Remote) send(cmd Command) {
	cmd.At = r.now()
	r.pub.Publish(TopicCommand, cmd)
}
