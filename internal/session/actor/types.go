package actor

import (
	"time"

	"github.com/bhandras/ussdpilot/internal/actor"
	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/classify"
	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/bhandras/ussdpilot/internal/surface"
)

// ProtocolState is the position of a session in the dialog protocol.
type ProtocolState string

const (
	StateIdle         ProtocolState = "IDLE"
	StateDialed       ProtocolState = "DIALED"
	StateAwaitingPIN  ProtocolState = "AWAITING_PIN"
	StateMainMenu     ProtocolState = "MAIN_MENU"
	StateDepositMenu  ProtocolState = "DEPOSIT_MENU"
	StateSendMoney    ProtocolState = "SEND_MONEY"
	StatePayBill      ProtocolState = "PAY_BILL"
	StatePayMpesa     ProtocolState = "PAY_MPESA"
	StateLoansSavings ProtocolState = "LOANS_SAVINGS"
	StateAbout        ProtocolState = "ABOUT"
	StateAmountEntry  ProtocolState = "AMOUNT_ENTRY"
	StateConfirm      ProtocolState = "CONFIRM"
	StateSuccess      ProtocolState = "SUCCESS"
	StateError        ProtocolState = "ERROR"
)

// Terminal reports whether s ends the session.
func (s ProtocolState) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// ConfirmMode selects what the CONFIRM step accepts.
type ConfirmMode string

const (
	// ConfirmPIN requires re-entry of the PIN given at the PIN prompt.
	ConfirmPIN ConfirmMode = "pin"
	// ConfirmToken accepts "1" to confirm and "0" to go back.
	ConfirmToken ConfirmMode = "token"
)

// Notification types published on the bus.
const (
	NoteSessionStarted = "SESSION_STARTED"
	NoteDialing        = "DIALING"
	NotePINPrompt      = "PIN_PROMPT"
	NoteMenuOptions    = "MENU_OPTIONS"
	NoteInputRequired  = "INPUT_REQUIRED"
	NoteWelcome        = "WELCOME_SCREEN"
	NoteSuccess        = "SUCCESS"
	NoteError          = "ERROR"
	NoteResponse       = "USSD_RESPONSE"
	NoteInputSent      = "INPUT_SENT"
	NoteSessionEnded   = "SESSION_ENDED"
)

// Timer names. A timer restarted under the same name replaces the pending one.
const (
	timerDial     = "dial"
	timerExtract  = "extract"
	timerAutofill = "autofill"
	timerDispatch = "dispatch"
	timerConceal  = "conceal"
)

// historyLimit bounds the per-session history kept in memory.
const historyLimit = 256

// HistoryReply is the History type used for replies.
const HistoryReply = "REPLY"

// Delays are the follow-up timer durations of a session.
type Delays struct {
	Dial     time.Duration
	Extract  time.Duration
	Autofill time.Duration
	Dispatch time.Duration
	Conceal  time.Duration
}

// Config is the immutable per-session configuration carried in State.
type Config struct {
	DialCode       string
	AutoPIN        string
	OpeningBalance int64
	ConfirmMode    ConfirmMode
	Strategy       surface.Strategy
	Delays         Delays
	Debounce       classify.Policy
	Classifier     classify.Classifier
}

// HistoryEntry is one recorded observation or reply.
type HistoryEntry struct {
	Type string    `json:"type"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is the loop-owned state of one session.
type State struct {
	SessionID string
	Cfg       Config

	Protocol ProtocolState

	// Closed is set when the session ended without reaching a terminal
	// protocol state (transport loss, explicit end, shutdown).
	Closed      bool
	CloseReason string

	// PendingReply holds a reply that arrived before the PIN prompt.
	PendingReply    string
	HasPendingReply bool

	// PendingSnapshot is the latest snapshot text waiting for the extract
	// timer.
	PendingSnapshot string

	// Outbox holds validated replies waiting for the dispatch timer.
	Outbox []string

	Gate    classify.Gate
	History []HistoryEntry

	PIN          crypto.PINDigest
	Provider     string
	Amount       int64
	Balance      int64
	TxnID        string
	AutofillDone bool

	// LastPrompt is the most recent text the engine showed for the
	// current state. Re-prompts repeat it.
	LastPrompt string
}

// Live reports whether the session may still receive inputs and timers.
func (s State) Live() bool {
	return !s.Closed && !s.Protocol.Terminal()
}

// NewState returns the initial state for a session.
func NewState(sessionID string, cfg Config) State {
	return State{
		SessionID: sessionID,
		Cfg:       cfg,
		Protocol:  StateIdle,
		Balance:   cfg.OpeningBalance,
	}
}

// Inputs

// cmdStart begins the session: announce it and arm the dial timer.
type cmdStart struct {
	actor.InputBase
	NowMs int64
}

// cmdReply submits a reply typed by the presentation consumer.
type cmdReply struct {
	actor.InputBase
	Text string
	// TxnID is minted outside the reducer and used if this reply completes
	// a transaction.
	TxnID string
	NowMs int64
	Reply chan error
}

// cmdSnapshot delivers extracted dialog text.
type cmdSnapshot struct {
	actor.InputBase
	Text  string
	NowMs int64
}

// cmdAccept runs the debounce gate alone and reports the decision.
type cmdAccept struct {
	actor.InputBase
	Text  string
	NowMs int64
	Reply chan bool
}

// cmdEnd closes the session on request.
type cmdEnd struct {
	actor.InputBase
	Reason string
	NowMs  int64
	Reply  chan error
}

// evDisconnected reports that the dial transport was lost.
type evDisconnected struct {
	actor.InputBase
	Reason string
	NowMs  int64
}

// evTimerFired is emitted by the runtime when a named timer fires.
type evTimerFired struct {
	actor.InputBase
	Name  string
	NowMs int64
}

// evDialed reports that the dial transport is up.
type evDialed struct {
	actor.InputBase
	NowMs int64
}

// evCollaboratorFailed reports an error or panic from the surface or the
// dialer.
type evCollaboratorFailed struct {
	actor.InputBase
	Op    string
	Err   string
	NowMs int64
}

// Effects

// effPublish publishes a notification on the bus.
type effPublish struct {
	actor.EffectBase
	Note bus.Notification
}

// effStartTimer (re)starts a named timer.
type effStartTimer struct {
	actor.EffectBase
	Name  string
	After time.Duration
}

// effCancelTimer cancels a named timer.
type effCancelTimer struct {
	actor.EffectBase
	Name string
}

// effDial asks the dialer to open the transport.
type effDial struct {
	actor.EffectBase
	Code string
}

// effInject types text into the surface.
type effInject struct {
	actor.EffectBase
	Text string
}

// effConceal dismisses the surface dialog.
type effConceal struct {
	actor.EffectBase
	Strategy surface.Strategy
}

// effRetire removes the session from the registry and stops its actor.
type effRetire struct {
	actor.EffectBase
	Final  ProtocolState
	Reason string
}

// effGated reports a debounce gate decision. Reason is empty for admitted
// snapshots.
type effGated struct {
	actor.EffectBase
	Accepted bool
	Reason   string
}

// effAck answers a caller blocked on a command. Reducers put it after every
// other effect so the caller only resumes once the new state is stored and
// the rest of the reduction, retirement included, has run.
type effAck struct {
	actor.EffectBase
	Reply chan error
	Err   error
}

// effAckBool is effAck for boolean answers.
type effAckBool struct {
	actor.EffectBase
	Reply chan bool
	OK    bool
}
