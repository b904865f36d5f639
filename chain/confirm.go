package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	defaultConfirmDeadline = 60 * time.Second
	defaultConfirmInterval = 3 * time.Second
)

// ConfirmationStatus reports how far a signature has progressed once
// the wait loop observes it.
type ConfirmationStatus struct {
	Slot       uint64
	Commitment rpc.ConfirmationStatusType

	// Err carries the on-chain failure payload when the transaction
	// landed but did not succeed.
	Err any
}

// Failed reports whether the transaction landed with an on-chain error.
func (s *ConfirmationStatus) Failed() bool {
	return s.Err != nil
}

// WaitForConfirmation polls signature status until the transaction
// reaches confirmed or finalized commitment, fails on-chain, or the
// context expires. A context without a deadline gets a 60s one so the
// loop can never hang a caller indefinitely. Transient status errors
// are retried until the deadline; they prove nothing either way.
func (r *Reader) WaitForConfirmation(ctx context.Context, sig solana.Signature, interval time.Duration) (*ConfirmationStatus, error) {
	if interval <= 0 {
		interval = defaultConfirmInterval
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConfirmDeadline)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		statuses, err := r.GetSignatureStatuses(ctx, sig)
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return &ConfirmationStatus{Slot: st.Slot, Commitment: st.ConfirmationStatus, Err: st.Err}, nil
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return &ConfirmationStatus{Slot: st.Slot, Commitment: st.ConfirmationStatus}, nil
			}
		}
		if err != nil {
			r.log.Debug("signature status poll failed", map[string]any{
				"signature": sig.String(),
				"error":     err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for confirmation of %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}
