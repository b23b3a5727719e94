package actor

import (
	framework "github.com/bhandras/ussdpilot/internal/actor"
)

// Start returns a command input that announces the session and arms the
// dial timer.
func Start(nowMs int64) framework.Input {
	return cmdStart{NowMs: nowMs}
}

// Reply returns a command input carrying a user reply. txnID is recorded if
// the reply completes a transaction. If reply is non-nil it receives
// ErrSessionEnded for finished sessions and nil otherwise; validation
// failures are re-prompts, not errors.
func Reply(text, txnID string, nowMs int64, reply chan error) framework.Input {
	return cmdReply{Text: text, TxnID: txnID, NowMs: nowMs, Reply: reply}
}

// Snapshot returns a command input delivering extracted dialog text.
func Snapshot(text string, nowMs int64) framework.Input {
	return cmdSnapshot{Text: text, NowMs: nowMs}
}

// Accept returns a command input that runs the debounce gate for text and
// reports the decision on reply.
func Accept(text string, nowMs int64, reply chan bool) framework.Input {
	return cmdAccept{Text: text, NowMs: nowMs, Reply: reply}
}

// End returns a command input that closes the session.
func End(reason string, nowMs int64, reply chan error) framework.Input {
	return cmdEnd{Reason: reason, NowMs: nowMs, Reply: reply}
}

// Disconnected returns an event input reporting that the dial transport was
// lost.
func Disconnected(reason string, nowMs int64) framework.Input {
	return evDisconnected{Reason: reason, NowMs: nowMs}
}
