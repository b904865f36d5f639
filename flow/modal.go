// Package flow models the payment modal's state machine and drives a
// single sign, verify, unlock attempt through it. Transitions are a
// pure function so every path is table-testable; the Runner adds the
// timeout and re-check behavior around the verification call.
package flow

import (
	"sync"

	"github.com/agentgate/agentgate/types"
)

type State string

const (
	StateIdle                State = "idle"
	StateReady               State = "ready"
	StateProcessing          State = "processing"
	StatePaid                State = "paid"
	StateError               State = "error"
	StateMissingPayoutWallet State = "missing_payout_wallet"
	StateFree                State = "free"
	StateCreatorFree         State = "creator_free"
)

type EventKind string

const (
	EventWalletConnected    EventKind = "wallet_connected"
	EventWalletDisconnected EventKind = "wallet_disconnected"
	EventPayClicked         EventKind = "pay_clicked"
	EventSignatureObtained  EventKind = "signature_obtained"
	EventSigningRejected    EventKind = "signing_rejected"
	EventVerdictReceived    EventKind = "verdict_received"
	EventVerifyFailed       EventKind = "verify_failed"
	EventTimedOut           EventKind = "timed_out"
	EventRetryClicked       EventKind = "retry_clicked"
)

// Event is one input to the machine. Verdict accompanies
// EventVerdictReceived, Err accompanies EventVerifyFailed; both are
// ignored otherwise.
type Event struct {
	Kind    EventKind
	Verdict *types.Verdict
	Err     error
}

// Initial computes the modal state when the payment UI opens for
// agent. Callers must consult the session store first: an active
// session routes straight to chat and never opens the modal.
func Initial(agent types.Agent, viewerID string, walletConnected bool) State {
	if agent.CreatorID != "" && viewerID != "" && viewerID == agent.CreatorID {
		return StateCreatorFree
	}
	if agent.Free() {
		return StateFree
	}
	if agent.PayoutWallet == "" {
		return StateMissingPayoutWallet
	}
	if !walletConnected {
		return StateIdle
	}
	return StateReady
}

// Next is the pure transition function. Events that do not apply in
// the current state leave it unchanged, which makes the function total
// over every (state, event) pair.
func Next(s State, e Event) State {
	switch s {
	case StateIdle:
		if e.Kind == EventWalletConnected {
			return StateReady
		}

	case StateReady:
		switch e.Kind {
		case EventWalletDisconnected:
			return StateIdle
		case EventPayClicked:
			return StateProcessing
		}

	case StateProcessing:
		switch e.Kind {
		case EventSigningRejected:
			// User-controlled cancellation returns to ready with no
			// error surfaced.
			return StateReady
		case EventVerdictReceived:
			if e.Verdict != nil && e.Verdict.Valid {
				return StatePaid
			}
			return StateError
		case EventVerifyFailed, EventTimedOut:
			return StateError
		}

	case StateError:
		if e.Kind == EventRetryClicked {
			return StateReady
		}
	}

	// paid, free, creator_free and missing_payout_wallet accept no
	// events; missing_payout_wallet clears only when the creator fixes
	// the agent's configuration and the modal reopens.
	return s
}

// Machine tracks one modal's current state plus the human-readable
// reason to surface while in the error state. Safe for concurrent use.
type Machine struct {
	mu     sync.Mutex
	state  State
	reason string
}

func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

// Apply advances the machine and returns the resulting state. The
// error reason is captured on entry to the error state and cleared on
// every transition out of it.
func (m *Machine) Apply(e Event) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := Next(m.state, e)
	if next == StateError {
		if m.state != StateError {
			m.reason = errorReason(e)
		}
	} else {
		m.reason = ""
	}
	m.state = next
	return next
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns the surfaced failure text, empty outside the error
// state.
func (m *Machine) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func errorReason(e Event) string {
	switch e.Kind {
	case EventVerdictReceived:
		if e.Verdict != nil && e.Verdict.Reason != "" {
			return e.Verdict.Reason
		}
		return "payment rejected"
	case EventVerifyFailed:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "verification failed"
	case EventTimedOut:
		return "verification timed out, try again"
	}
	return ""
}
