package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/types"
	"github.com/agentgate/agentgate/verification"
)

const (
	defaultProcessingTimeout = 90 * time.Second
	defaultRecheckInterval   = 3 * time.Second
)

// PaymentVerifier is the verification surface the runner drives.
// *verification.Verifier satisfies it.
type PaymentVerifier interface {
	Verify(ctx context.Context, expected types.ExpectedPayment) (*types.Verdict, error)
}

// SigningOutcome reports how the external wallet signing step ended.
// Rejection is a first-class outcome, not an error.
type SigningOutcome struct {
	Signature string
	Rejected  bool
}

// Runner executes one payment attempt end to end: pay click, signing
// outcome, verification with re-checks while the transaction confirms,
// and the final verdict transition. The whole verify phase is bounded
// so processing can never hang the modal.
type Runner struct {
	verifier PaymentVerifier
	log      logger.Logger
	timeout  time.Duration
	recheck  time.Duration
}

type RunnerOption func(*Runner)

func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l
	}
}

// WithProcessingTimeout bounds the verify phase of one attempt.
func WithProcessingTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithRecheckInterval sets the pause between verification attempts
// while the transaction has not confirmed yet.
func WithRecheckInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.recheck = d
	}
}

func NewRunner(verifier PaymentVerifier, opts ...RunnerOption) *Runner {
	r := &Runner{
		verifier: verifier,
		log:      logger.NoopLogger{},
		timeout:  defaultProcessingTimeout,
		recheck:  defaultRecheckInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives machine from ready through one payment attempt and
// returns the final state alongside the verdict, when one was reached.
// The error return carries "could not check" failures; a clean
// rejection comes back as an invalid verdict with a nil error.
func (r *Runner) Run(ctx context.Context, m *Machine, expected types.ExpectedPayment, signing SigningOutcome) (State, *types.Verdict, error) {
	if state := m.State(); state != StateReady {
		return state, nil, types.NewGateError(types.ErrCodeInvalidInput,
			fmt.Sprintf("payment flow is %s, not ready", state), nil)
	}
	m.Apply(Event{Kind: EventPayClicked})

	if signing.Rejected {
		r.log.Info("wallet signing rejected by user", map[string]any{
			"agent_id": expected.AgentID,
		})
		return m.Apply(Event{Kind: EventSigningRejected}), nil, nil
	}

	expected.Signature = signing.Signature
	m.Apply(Event{Kind: EventSignatureObtained})

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for {
		verdict, err := r.verifier.Verify(ctx, expected)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || types.CodeOf(err) == types.ErrCodeTimeout {
				return m.Apply(Event{Kind: EventTimedOut}), nil, err
			}
			return m.Apply(Event{Kind: EventVerifyFailed, Err: err}), nil, err
		}

		if !verdict.Valid && verdict.Reason == verification.ReasonNotConfirmed {
			// Transaction not visible yet; re-check until the
			// processing budget runs out.
			select {
			case <-ctx.Done():
				return m.Apply(Event{Kind: EventTimedOut}), verdict, nil
			case <-time.After(r.recheck):
				continue
			}
		}

		return m.Apply(Event{Kind: EventVerdictReceived, Verdict: verdict}), verdict, nil
	}
}
