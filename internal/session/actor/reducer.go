package actor

import (
	"strings"
	"time"

	"github.com/bhandras/ussdpilot/internal/actor"
	"github.com/bhandras/ussdpilot/internal/bus"
	"github.com/bhandras/ussdpilot/internal/classify"
	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/bhandras/ussdpilot/internal/telemetry"
)

// Reduce is the session state machine reducer.
//
// It must remain pure: no I/O, no goroutines, no clock reads. Timestamps and
// transaction ids arrive on the inputs.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdStart:
		return reduceStart(state, in)
	case cmdReply:
		return reduceReply(state, in)
	case cmdSnapshot:
		return reduceSnapshot(state, in)
	case cmdAccept:
		return reduceAccept(state, in)
	case cmdEnd:
		return reduceEnd(state, in)
	case evDisconnected:
		return closeSession(state, "transport lost: "+in.Reason, in.NowMs)
	case evTimerFired:
		return reduceTimerFired(state, in)
	case evDialed:
		if state.Live() && state.Protocol == StateIdle {
			state.Protocol = StateDialed
		}
		return state, nil
	case evCollaboratorFailed:
		return reduceCollaboratorFailed(state, in)
	default:
		return state, nil
	}
}

func reduceStart(state State, cmd cmdStart) (State, []actor.Effect) {
	if !state.Live() || state.Protocol != StateIdle {
		return state, nil
	}
	return state, []actor.Effect{
		publish(state, NoteSessionStarted, "Session started", cmd.NowMs),
		effStartTimer{Name: timerDial, After: state.Cfg.Delays.Dial},
	}
}

func reduceReply(state State, cmd cmdReply) (State, []actor.Effect) {
	if !state.Live() {
		return state, ack(nil, cmd.Reply, ErrSessionEnded)
	}
	text := strings.TrimSpace(cmd.Text)
	state.History = appendHistory(state.History, HistoryReply, telemetry.MaskText(text), cmd.NowMs)

	switch state.Protocol {
	case StateIdle, StateDialed:
		// Held until the PIN prompt shows up; a newer reply replaces it.
		state.PendingReply = text
		state.HasPendingReply = true
		return state, ack(nil, cmd.Reply, nil)
	}

	next, effects := applyReply(state, text, cmd.TxnID, cmd.NowMs)
	return next, ack(effects, cmd.Reply, nil)
}

// applyReply runs text through the transition table of the current state.
func applyReply(state State, text, txnID string, nowMs int64) (State, []actor.Effect) {
	switch {
	case state.Protocol == StateAwaitingPIN:
		if !pinPattern.MatchString(text) {
			return reprompt(state, promptInvalidPIN, nowMs)
		}
		state.PIN = crypto.DigestPIN(state.SessionID, text)
		return advance(state, StateMainMenu, text, NoteMenuOptions, promptMainMenu, nowMs)

	case state.Protocol == StateMainMenu:
		return applyMainMenu(state, text, nowMs)

	case isLeaf(state.Protocol):
		if text != "0" {
			return reprompt(state, promptBack, nowMs)
		}
		return advance(state, StateMainMenu, text, NoteMenuOptions, promptMainMenu, nowMs)

	case state.Protocol == StateDepositMenu:
		n, ok := menuChoice(text)
		if !ok {
			return reprompt(state, promptDepositBadInput, nowMs)
		}
		if n == 0 {
			return advance(state, StateMainMenu, text, NoteMenuOptions, promptMainMenu, nowMs)
		}
		provider, ok := depositProviders[n]
		if !ok {
			return reprompt(state, promptDepositBadNumber, nowMs)
		}
		state.Provider = provider
		return advance(state, StateAmountEntry, text, NoteInputRequired, amountPrompt(provider), nowMs)

	case state.Protocol == StateAmountEntry:
		if text == "0" {
			state.Provider = ""
			return advance(state, StateDepositMenu, text, NoteMenuOptions, promptDepositMenu, nowMs)
		}
		amount, ok := parseAmount(text, state.Balance)
		if !ok {
			return reprompt(state, promptInvalidAmount, nowMs)
		}
		state.Amount = amount
		return advance(state, StateConfirm, text, NoteInputRequired,
			confirmPrompt(state.Cfg.ConfirmMode, state.Provider, amount), nowMs)

	case state.Protocol == StateConfirm:
		return applyConfirm(state, text, txnID, nowMs)
	}
	return state, nil
}

func applyMainMenu(state State, text string, nowMs int64) (State, []actor.Effect) {
	n, ok := menuChoice(text)
	if !ok {
		return reprompt(state, promptMainMenuBadInput, nowMs)
	}
	var effects []actor.Effect
	switch n {
	case 0:
		state.Protocol = StateSuccess
		state, effects = enqueueOutbound(state, text)
		return finish(state, effects, NoteSuccess, promptGoodbye, "completed", nowMs)
	case 1:
		return advance(state, StateDepositMenu, text, NoteMenuOptions, promptDepositMenu, nowMs)
	case 6:
		state, effects = enqueueOutbound(state, text)
		return state, append(effects, publish(state, NoteResponse, balanceText(state.Balance), nowMs))
	}
	if f, ok := leafFeatures[n]; ok {
		return advance(state, f.State, text, NoteMenuOptions, f.Text, nowMs)
	}
	return reprompt(state, promptMainMenuBadNumber, nowMs)
}

func applyConfirm(state State, text, txnID string, nowMs int64) (State, []actor.Effect) {
	if text == "0" {
		state.Amount = 0
		return advance(state, StateAmountEntry, text, NoteInputRequired, amountPrompt(state.Provider), nowMs)
	}

	var confirmed bool
	switch state.Cfg.ConfirmMode {
	case ConfirmToken:
		confirmed = text == "1"
	default:
		confirmed = pinPattern.MatchString(text) && !state.PIN.IsZero() &&
			crypto.DigestPIN(state.SessionID, text).Equal(state.PIN)
	}
	if !confirmed {
		if state.Cfg.ConfirmMode == ConfirmToken {
			return reprompt(state, promptConfirmBadToken, nowMs)
		}
		return reprompt(state, promptConfirmBadPIN, nowMs)
	}

	state.Balance += state.Amount
	state.TxnID = txnID
	state.Protocol = StateSuccess
	state, effects := enqueueOutbound(state, text)
	msg := successText(state.Provider, state.Amount, state.Balance, txnID)
	return finish(state, effects, NoteSuccess, msg, "completed", nowMs)
}

func reduceSnapshot(state State, cmd cmdSnapshot) (State, []actor.Effect) {
	if !state.Live() || strings.TrimSpace(cmd.Text) == "" {
		return state, nil
	}
	if state.Cfg.Delays.Extract <= 0 {
		return processSnapshot(state, cmd.Text, cmd.NowMs)
	}
	// Let the surface settle; only the latest text is processed.
	state.PendingSnapshot = cmd.Text
	return state, []actor.Effect{effStartTimer{Name: timerExtract, After: state.Cfg.Delays.Extract}}
}

// processSnapshot debounces, classifies and applies one snapshot.
func processSnapshot(state State, text string, nowMs int64) (State, []actor.Effect) {
	now := time.UnixMilli(nowMs)
	if reason := state.Gate.Reject(text, now, state.Cfg.Debounce); reason != "" {
		return state, []actor.Effect{effGated{Reason: reason}}
	}
	state.Gate, _ = state.Gate.Admit(text, now, state.Cfg.Debounce)

	ev := state.Cfg.Classifier.Observe(state.SessionID, text)
	kind, text := ev.Type, ev.RawText
	state.History = appendHistory(state.History, string(kind), text, nowMs)

	effects := []actor.Effect{effGated{Accepted: true}}
	switch kind {
	case classify.EventDialing:
		if state.Protocol == StateIdle {
			state.Protocol = StateDialed
		}
		effects = append(effects, publish(state, NoteDialing, text, nowMs))

	case classify.EventPINPrompt:
		if state.Protocol == StateIdle || state.Protocol == StateDialed {
			state.Protocol = StateAwaitingPIN
			state.LastPrompt = text
		}
		effects = append(effects, publish(state, NotePINPrompt, text, nowMs))
		if state.Protocol != StateAwaitingPIN {
			break
		}
		switch {
		case state.HasPendingReply:
			pending := state.PendingReply
			state.PendingReply = ""
			state.HasPendingReply = false
			var more []actor.Effect
			state, more = applyReply(state, pending, "", nowMs)
			effects = append(effects, more...)
		case state.Cfg.AutoPIN != "" && !state.AutofillDone:
			state.AutofillDone = true
			effects = append(effects, effStartTimer{Name: timerAutofill, After: state.Cfg.Delays.Autofill})
		}

	case classify.EventSuccess, classify.EventError:
		// The network closed the dialog; queued replies have nowhere to go.
		state.Outbox = nil
		effects = append(effects, effCancelTimer{Name: timerDispatch}, effConceal{Strategy: state.Cfg.Strategy})
		if kind == classify.EventSuccess {
			state.Protocol = StateSuccess
			return finish(state, effects, NoteSuccess, text, "completed", nowMs)
		}
		state.Protocol = StateError
		return finish(state, effects, NoteError, text, "network error", nowMs)

	default:
		effects = append(effects, publish(state, noteForEvent(kind), text, nowMs))
	}

	if state.Live() {
		effects = append(effects, effStartTimer{Name: timerConceal, After: state.Cfg.Delays.Conceal})
	}
	return state, effects
}

func reduceAccept(state State, cmd cmdAccept) (State, []actor.Effect) {
	if !state.Live() {
		return state, ackBool(nil, cmd.Reply, false)
	}
	now := time.UnixMilli(cmd.NowMs)
	reason := state.Gate.Reject(cmd.Text, now, state.Cfg.Debounce)
	state.Gate, _ = state.Gate.Admit(cmd.Text, now, state.Cfg.Debounce)
	effects := []actor.Effect{effGated{Accepted: reason == "", Reason: reason}}
	return state, ackBool(effects, cmd.Reply, reason == "")
}

func reduceTimerFired(state State, ev evTimerFired) (State, []actor.Effect) {
	if !state.Live() {
		return state, nil
	}
	switch ev.Name {
	case timerDial:
		return state, []actor.Effect{
			publish(state, NoteDialing, "Dialing "+state.Cfg.DialCode, ev.NowMs),
			effDial{Code: state.Cfg.DialCode},
		}

	case timerExtract:
		text := state.PendingSnapshot
		state.PendingSnapshot = ""
		if text == "" {
			return state, nil
		}
		return processSnapshot(state, text, ev.NowMs)

	case timerAutofill:
		if state.Protocol != StateAwaitingPIN || state.HasPendingReply {
			return state, nil
		}
		pin := state.Cfg.AutoPIN
		state.History = appendHistory(state.History, HistoryReply, telemetry.MaskText(pin), ev.NowMs)
		return applyReply(state, pin, "", ev.NowMs)

	case timerDispatch:
		if len(state.Outbox) == 0 {
			return state, nil
		}
		text := state.Outbox[0]
		state.Outbox = append([]string(nil), state.Outbox[1:]...)
		effects := []actor.Effect{
			effInject{Text: text},
			publish(state, NoteInputSent, telemetry.MaskText(text), ev.NowMs),
		}
		if len(state.Outbox) > 0 {
			effects = append(effects, effStartTimer{Name: timerDispatch, After: state.Cfg.Delays.Dispatch})
		}
		return state, effects

	case timerConceal:
		return state, []actor.Effect{effConceal{Strategy: state.Cfg.Strategy}}

	default:
		return state, nil
	}
}

func reduceCollaboratorFailed(state State, ev evCollaboratorFailed) (State, []actor.Effect) {
	if !state.Live() {
		return state, nil
	}
	state.Protocol = StateError
	state.Outbox = nil
	effects := []actor.Effect{effCancelTimer{Name: timerDispatch}}
	msg := "Operation failed: " + ev.Op
	if ev.Err != "" {
		msg += ": " + ev.Err
	}
	return finish(state, effects, NoteError, msg, "operation failed", ev.NowMs)
}

func reduceEnd(state State, cmd cmdEnd) (State, []actor.Effect) {
	if !state.Live() {
		return state, ack(nil, cmd.Reply, nil)
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "ended"
	}
	next, effects := closeSession(state, reason, cmd.NowMs)
	return next, ack(effects, cmd.Reply, nil)
}

func closeSession(state State, reason string, nowMs int64) (State, []actor.Effect) {
	if !state.Live() {
		return state, nil
	}
	state.Closed = true
	state.CloseReason = reason
	state.Outbox = nil
	state.PendingReply = ""
	state.HasPendingReply = false
	return state, []actor.Effect{
		publish(state, NoteSessionEnded, reason, nowMs),
		effRetire{Final: state.Protocol, Reason: reason},
	}
}

// advance moves to next, queues the reply for the surface and announces the
// new prompt.
func advance(state State, next ProtocolState, reply, noteType, prompt string, nowMs int64) (State, []actor.Effect) {
	state.Protocol = next
	state.LastPrompt = prompt
	state, effects := enqueueOutbound(state, reply)
	return state, append(effects, publish(state, noteType, prompt, nowMs))
}

// reprompt rejects a reply without changing state.
func reprompt(state State, prompt string, nowMs int64) (State, []actor.Effect) {
	return state, []actor.Effect{publish(state, NoteInputRequired, prompt, nowMs)}
}

// enqueueOutbound appends text to the outbox and arms the dispatch timer if
// it was idle.
func enqueueOutbound(state State, text string) (State, []actor.Effect) {
	wasIdle := len(state.Outbox) == 0
	state.Outbox = append(append([]string(nil), state.Outbox...), text)
	if !wasIdle {
		return state, nil
	}
	return state, []actor.Effect{effStartTimer{Name: timerDispatch, After: state.Cfg.Delays.Dispatch}}
}

// finish handles entry into a terminal state. Replies still in the outbox
// are sent right away since timers stop firing once the session is no
// longer live.
func finish(state State, effects []actor.Effect, noteType, msg, reason string, nowMs int64) (State, []actor.Effect) {
	if len(state.Outbox) > 0 {
		effects = append(effects, effCancelTimer{Name: timerDispatch})
		for _, text := range state.Outbox {
			effects = append(effects,
				effInject{Text: text},
				publish(state, NoteInputSent, telemetry.MaskText(text), nowMs),
			)
		}
		state.Outbox = nil
	}
	state.LastPrompt = msg
	effects = append(effects,
		publish(state, noteType, msg, nowMs),
		publish(state, NoteSessionEnded, reason, nowMs),
		effRetire{Final: state.Protocol, Reason: reason},
	)
	return state, effects
}

func publish(state State, noteType, msg string, nowMs int64) effPublish {
	return effPublish{Note: bus.Notification{
		Type:      noteType,
		Message:   msg,
		SessionID: state.SessionID,
		State:     string(state.Protocol),
		At:        time.UnixMilli(nowMs),
	}}
}

func noteForEvent(kind classify.EventType) string {
	switch kind {
	case classify.EventDialing:
		return NoteDialing
	case classify.EventPINPrompt:
		return NotePINPrompt
	case classify.EventMenu:
		return NoteMenuOptions
	case classify.EventInputRequired:
		return NoteInputRequired
	case classify.EventWelcome:
		return NoteWelcome
	case classify.EventSuccess:
		return NoteSuccess
	case classify.EventError:
		return NoteError
	default:
		return NoteResponse
	}
}

func appendHistory(h []HistoryEntry, kind, text string, nowMs int64) []HistoryEntry {
	start := 0
	if len(h) >= historyLimit {
		start = len(h) - historyLimit + 1
	}
	out := make([]HistoryEntry, 0, len(h)-start+1)
	out = append(out, h[start:]...)
	return append(out, HistoryEntry{Type: kind, Text: text, At: time.UnixMilli(nowMs)})
}

// ack appends the answer for a waiting caller as the final effect.
func ack(effects []actor.Effect, reply chan error, err error) []actor.Effect {
	if reply == nil {
		return effects
	}
	return append(effects, effAck{Reply: reply, Err: err})
}

func ackBool(effects []actor.Effect, reply chan bool, ok bool) []actor.Effect {
	if reply == nil {
		return effects
	}
	return append(effects, effAckBool{Reply: reply, OK: ok})
}
