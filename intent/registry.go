// Package intent issues short-lived payment intents binding agent,
// amount, and receiver together before the user signs. Intents are
// bookkeeping for reconciliation and client retries; verification
// never depends on one, so losing them on restart is harmless.
package intent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/types"
	"github.com/agentgate/agentgate/utils"
)

// TTL is how long an intent stays claimable after creation.
const TTL = 10 * time.Minute

const (
	idPrefix   = "pi_"
	idBytes    = 16
	maxPending = 10000
)

// Registry holds pending intents in process memory, guarded by a
// single mutex. Expired entries are removed lazily on read and by the
// optional background sweeper.
type Registry struct {
	mu      sync.Mutex
	intents map[string]types.PaymentIntent

	token types.Token
	clock types.Clock
	log   logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type Option func(*Registry)

func WithClock(c types.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

func NewRegistry(token types.Token, opts ...Option) *Registry {
	r := &Registry{
		intents: make(map[string]types.PaymentIntent),
		token:   token,
		clock:   types.SystemClock{},
		log:     logger.NoopLogger{},
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create issues an intent for paying amount of the registry's token to
// receiver. Buyer is optional.
func (r *Registry) Create(agentID string, amount decimal.Decimal, receiver, buyer string) (*types.PaymentIntent, error) {
	if agentID == "" {
		return nil, types.NewGateError(types.ErrCodeInvalidInput, "agent id is required", nil)
	}
	if !amount.IsPositive() {
		return nil, types.NewGateError(types.ErrCodeInvalidInput, "amount must be positive", nil)
	}
	if err := utils.ValidateAddress(receiver); err != nil {
		return nil, types.NewGateError(types.ErrCodeInvalidInput, fmt.Sprintf("invalid receiver: %v", err), nil)
	}
	if buyer != "" {
		if err := utils.ValidateAddress(buyer); err != nil {
			return nil, types.NewGateError(types.ErrCodeInvalidInput, fmt.Sprintf("invalid buyer: %v", err), nil)
		}
	}

	id, err := newID()
	if err != nil {
		return nil, types.NewGateError(types.ErrCodeInternal, "could not generate intent id", err)
	}

	now := r.clock.Now()
	pi := types.PaymentIntent{
		ID:        id,
		AgentID:   agentID,
		Amount:    amount,
		AmountRaw: r.token.RawUnits(amount),
		Receiver:  receiver,
		Buyer:     buyer,
		Mint:      r.token.Mint,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.intents) >= maxPending {
		r.sweepLocked()
		if len(r.intents) >= maxPending {
			return nil, types.NewGateError(types.ErrCodeRateLimited, "too many pending payment intents", nil)
		}
	}
	r.intents[id] = pi
	return &pi, nil
}

func newID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return idPrefix + hex.EncodeToString(buf), nil
}

// Get returns the pending intent for id, removing it when expired.
func (r *Registry) Get(id string) (*types.PaymentIntent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pi, ok := r.intents[id]
	if !ok {
		return nil, false
	}
	if pi.Expired(r.clock.Now()) {
		delete(r.intents, id)
		return nil, false
	}
	out := pi
	return &out, true
}

// Consume removes and returns the intent for id. Single use: a second
// Consume of the same id reports absent, which lets retried client
// calls detect that their intent was already claimed.
func (r *Registry) Consume(id string) (*types.PaymentIntent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pi, ok := r.intents[id]
	if !ok {
		return nil, false
	}
	delete(r.intents, id)
	if pi.Expired(r.clock.Now()) {
		return nil, false
	}
	out := pi
	return &out, true
}

// Sweep removes expired intents and reports how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) sweepLocked() int {
	now := r.clock.Now()
	removed := 0
	for id, pi := range r.intents {
		if pi.Expired(now) {
			delete(r.intents, id)
			removed++
		}
	}
	return removed
}

// Pending reports the number of intents currently held, expired or not.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

// StartSweeper launches a goroutine that sweeps expired intents every
// interval until Stop is called. Call at most once.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = TTL
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if removed := r.Sweep(); removed > 0 {
					r.log.Debug("swept expired payment intents", map[string]any{"removed": removed})
				}
			}
		}
	}()
}

// Stop terminates the background sweeper. Safe to call repeatedly and
// without a prior StartSweeper.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}
