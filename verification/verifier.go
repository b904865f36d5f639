package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/agentgate/agentgate/chain"
	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/metrics"
	"github.com/agentgate/agentgate/types"
	"github.com/agentgate/agentgate/utils"
)

const defaultVerifyTimeout = 30 * time.Second

// Fixed rejection reasons surfaced in verdicts. Client flows match on
// ReasonNotConfirmed to keep re-checking while a transaction confirms.
const (
	ReasonInvalidSignature = "invalid signature format"
	ReasonInvalidReceiver  = "invalid receiver address"
	ReasonNotConfirmed     = "transaction not found, wait for confirmation"
	ReasonNoTransfer       = "no qualifying transfer to receiver found"
)

// AmountTolerance absorbs rounding from decimal-string parsing,
// expressed in token units. At 6 decimals this is 10,000 raw units.
var AmountTolerance = decimal.RequireFromString("0.01")

// ChainReader is the read surface the verifier depends on.
// *chain.Reader satisfies it; tests substitute fakes.
type ChainReader interface {
	GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
}

// Verifier checks claimed payment signatures against chain state. It
// holds no per-payment state, so verifying the same signature twice
// yields the same verdict.
type Verifier struct {
	reader  ChainReader
	token   types.Token
	mint    solana.PublicKey
	log     logger.Logger
	metrics metrics.Recorder
	clock   types.Clock
	timeout time.Duration
}

type Option func(*Verifier)

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		v.log = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func WithClock(c types.Clock) Option {
	return func(v *Verifier) {
		v.clock = c
	}
}

// WithTimeout bounds the chain lookup for a single verification.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		v.timeout = d
	}
}

// NewVerifier builds a Verifier for one token. The token's mint must
// be a valid base58 address.
func NewVerifier(reader ChainReader, token types.Token, opts ...Option) (*Verifier, error) {
	if reader == nil {
		return nil, fmt.Errorf("verification: chain reader is required")
	}
	mint, err := solana.PublicKeyFromBase58(token.Mint)
	if err != nil {
		return nil, fmt.Errorf("verification: invalid mint %q: %w", token.Mint, err)
	}

	v := &Verifier{
		reader:  reader,
		token:   token,
		mint:    mint,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		clock:   types.SystemClock{},
		timeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks that the transaction behind expected.Signature paid
// expected.Amount of the verifier's token to expected.Receiver.
//
// Rejections come back as invalid verdicts with a human-readable
// reason. The error return is reserved for "could not check" cases
// (endpoints down, lookup timeout); callers must not treat those as
// proof the payment is absent.
func (v *Verifier) Verify(ctx context.Context, expected types.ExpectedPayment) (*types.Verdict, error) {
	start := time.Now()

	// Reject malformed input locally, before any network round-trip.
	if err := utils.ValidateSignature(expected.Signature); err != nil {
		return v.reject(expected.Signature, ReasonInvalidSignature), nil
	}
	sig, err := solana.SignatureFromBase58(expected.Signature)
	if err != nil {
		return v.reject(expected.Signature, ReasonInvalidSignature), nil
	}
	receiver, err := solana.PublicKeyFromBase58(expected.Receiver)
	if err != nil {
		return v.reject(expected.Signature, ReasonInvalidReceiver), nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	tx, err := v.reader.GetTransaction(ctx, sig)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrNotFound):
			return v.reject(expected.Signature, ReasonNotConfirmed), nil
		case errors.Is(err, context.DeadlineExceeded):
			return nil, types.NewGateError(types.ErrCodeTimeout, "transaction lookup timed out", err)
		default:
			return nil, types.NewGateError(types.ErrCodeRPCUnavailable, "could not read transaction state", err)
		}
	}
	if tx.Meta == nil {
		return nil, types.NewGateError(types.ErrCodeInternal, "transaction record carries no metadata", nil)
	}

	if tx.Meta.Err != nil {
		return v.reject(expected.Signature, fmt.Sprintf("transaction failed on-chain: %v", tx.Meta.Err)), nil
	}

	transfer, found := ExtractTransfer(tx.Meta, v.mint, receiver)
	if !found {
		return v.reject(expected.Signature, ReasonNoTransfer), nil
	}

	// Compare in raw units so float artifacts can never flip the
	// outcome.
	expectedRaw := v.token.RawUnits(expected.Amount)
	observedRaw := v.token.RawUnits(transfer.Amount)
	toleranceRaw := v.token.RawUnits(AmountTolerance)
	if diff := observedRaw - expectedRaw; diff > toleranceRaw || diff < -toleranceRaw {
		return v.reject(expected.Signature,
			fmt.Sprintf("amount mismatch: expected %s, got %s", expected.Amount, transfer.Amount)), nil
	}

	if expected.Buyer != "" {
		v.checkBuyer(tx, expected)
	}

	v.metrics.IncCounter("verify", map[string]string{"outcome": "valid"})
	v.metrics.ObserveLatency("verify", time.Since(start), map[string]string{"endpoint": ""})
	v.log.Info("payment verified", map[string]any{
		"signature": expected.Signature,
		"amount":    transfer.Amount.String(),
		"receiver":  expected.Receiver,
		"slot":      tx.Slot,
	})

	return &types.Verdict{
		Valid:      true,
		Amount:     transfer.Amount,
		Receiver:   expected.Receiver,
		Slot:       tx.Slot,
		VerifiedAt: v.clock.Now().UTC(),
	}, nil
}

func (v *Verifier) reject(signature, reason string) *types.Verdict {
	v.metrics.IncCounter("verify", map[string]string{"outcome": "invalid"})
	v.log.Info("payment rejected", map[string]any{
		"signature": signature,
		"reason":    reason,
	})
	return &types.Verdict{Valid: false, Reason: reason}
}

// checkBuyer compares the supplied buyer wallet against the fee payer,
// the transaction's first account key. A mismatch is logged and
// counted but never invalidates the payment: fee payment may be
// delegated to a wallet other than the buyer's. Undecodable payloads
// are skipped outright.
func (v *Verifier) checkBuyer(tx *rpc.GetTransactionResult, expected types.ExpectedPayment) {
	buyer, err := solana.PublicKeyFromBase58(expected.Buyer)
	if err != nil {
		return
	}
	if tx.Transaction == nil {
		return
	}
	raw := tx.Transaction.GetBinary()
	if len(raw) == 0 {
		return
	}
	decoded, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil || len(decoded.Message.AccountKeys) == 0 {
		return
	}

	feePayer := decoded.Message.AccountKeys[0]
	if !feePayer.Equals(buyer) {
		v.metrics.IncCounter("buyer_mismatch", map[string]string{"outcome": "soft"})
		v.log.Warn("fee payer does not match expected buyer", map[string]any{
			"signature": expected.Signature,
			"buyer":     expected.Buyer,
			"fee_payer": feePayer.String(),
		})
	}
}
