// Package types defines the shared data model for the agentgate payment
// core: expected payments, verification verdicts, session records, and
// payment intents.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token identifies the SPL token a deployment charges in.
type Token struct {
	// Mint is the base58 mint address of the token.
	Mint string `json:"mint"`

	// Decimals is the token's fixed decimal count. USDC uses 6.
	Decimals int32 `json:"decimals"`
}

// Well-known token parameters for the default deployment.
const (
	USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDecimals    = 6
)

// USDCMainnet returns the token configuration for mainnet USDC.
func USDCMainnet() Token {
	return Token{Mint: USDCMintMainnet, Decimals: USDCDecimals}
}

// RawUnits converts a decimal token amount to the token's smallest integer
// unit (amount × 10^decimals), truncating anything below one raw unit.
func (t Token) RawUnits(amount decimal.Decimal) int64 {
	return amount.Shift(t.Decimals).IntPart()
}

// FromRawUnits converts raw units back to a decimal token amount.
func (t Token) FromRawUnits(raw int64) decimal.Decimal {
	return decimal.New(raw, -t.Decimals)
}

// Agent is a configured chat persona offered on the marketplace. Only the
// fields the payment core consumes are modeled here; presentation data
// (avatar, description, routing mode) lives with the marketplace.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	CreatorID    string `json:"creatorId,omitempty"`
	PayoutWallet string `json:"payoutWallet,omitempty"`

	// PriceUSDC is the per-session price in token units. Zero means the
	// agent is free to chat with.
	PriceUSDC decimal.Decimal `json:"priceUsdc"`

	// MaxDurationMinutes bounds a paid session in time. Zero means the
	// session never expires by clock.
	MaxDurationMinutes int `json:"maxDurationMinutes,omitempty"`

	// MaxMessages bounds a paid session by message count. Zero means
	// unlimited.
	MaxMessages int `json:"maxMessages,omitempty"`
}

// Free reports whether chatting with the agent requires no payment. An
// agent with no creator configured is treated as free: there is nobody to
// pay out to.
func (a Agent) Free() bool {
	return a.PriceUSDC.IsZero() || a.CreatorID == ""
}

// SessionConfig returns the session bounds a successful payment for this
// agent grants.
func (a Agent) SessionConfig() SessionConfig {
	return SessionConfig{
		MaxDurationMinutes: a.MaxDurationMinutes,
		MaxMessages:        a.MaxMessages,
	}
}

// SessionConfig carries the limits applied to a session at save time.
// Changing an agent's limits later never affects already-issued sessions.
type SessionConfig struct {
	MaxDurationMinutes int `json:"maxDurationMinutes,omitempty"`
	MaxMessages        int `json:"maxMessages,omitempty"`
}

// ExpectedPayment is the tuple a single verification call checks chain
// state against. It is built immediately before calling the verifier and
// never persisted.
type ExpectedPayment struct {
	// Signature is the base58 transaction signature claimed by the buyer.
	Signature string `json:"signature"`

	// Receiver is the wallet that must have received the transfer.
	Receiver string `json:"receiver"`

	// Amount is the expected transfer size in token units.
	Amount decimal.Decimal `json:"amount"`

	// Buyer, when set, is compared against the transaction fee payer.
	// A mismatch is logged, not rejected: signing may legitimately be
	// delegated to a relayer.
	Buyer string `json:"buyer,omitempty"`

	// AgentID ties the verification to an agent for session unlock and
	// audit logging. Not used by the verification algorithm itself.
	AgentID string `json:"agentId,omitempty"`
}

// Verdict is the authoritative accept/reject decision for a claimed
// payment, derived solely from chain-read data. Verdicts are immutable;
// verifying the same signature against the same chain state twice yields
// identical verdicts.
type Verdict struct {
	Valid bool `json:"valid"`

	// Reason explains a rejection. Set exactly when Valid is false.
	Reason string `json:"reason,omitempty"`

	// Amount is the observed transfer size in token units.
	Amount decimal.Decimal `json:"amount"`

	// Receiver is the observed receiving wallet.
	Receiver string `json:"receiver,omitempty"`

	// Slot is the ledger slot the transaction landed in.
	Slot uint64 `json:"slot,omitempty"`

	VerifiedAt time.Time `json:"verifiedAt"`
}

// SessionRecord marks one agent as paid-and-unlocked for this client.
// One record exists per agent at a time; a new payment replaces the old
// record wholesale.
type SessionRecord struct {
	AgentID string    `json:"agentId"`
	PaidAt  time.Time `json:"paidAt"`

	// ExpiresAt is nil when the session is unbounded by time.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// MessagesRemaining is nil when the session is unbounded by message
	// count.
	MessagesRemaining *int `json:"messagesRemaining,omitempty"`

	// Signature is the transaction that paid for the session, kept for
	// audit and resumption display.
	Signature string `json:"signature,omitempty"`
}

// Expired reports whether the record's time bound has passed at now.
func (r SessionRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Exhausted reports whether the record's message budget is used up.
func (r SessionRecord) Exhausted() bool {
	return r.MessagesRemaining != nil && *r.MessagesRemaining <= 0
}

// PaymentIntent is short-lived bookkeeping binding agent, buyer, amount
// and receiver before a payment happens. Intents aid idempotency and
// audit only; verification never depends on them and losing them on
// restart is acceptable.
type PaymentIntent struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	Amount    decimal.Decimal `json:"amount"`
	AmountRaw int64           `json:"amountRaw"`
	Receiver  string          `json:"receiver"`
	Buyer     string          `json:"buyer,omitempty"`
	Mint      string          `json:"usdcMint"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the intent has passed its lifetime at now.
func (p PaymentIntent) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Clock abstracts time for components with expiry semantics so tests can
// advance it deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
