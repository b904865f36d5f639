// Package agentgate verifies USDC payments on Solana and unlocks chat
// sessions against them. It bundles the chain reader, the payment
// verifier, the session store and the intent registry behind a single
// Gate, so embedding applications wire one component instead of four.
package agentgate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentgate/agentgate/chain"
	"github.com/agentgate/agentgate/intent"
	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/metrics"
	"github.com/agentgate/agentgate/session"
	"github.com/agentgate/agentgate/types"
	"github.com/agentgate/agentgate/utils"
	"github.com/agentgate/agentgate/verification"
)

// Version identifies the library release.
const Version = "1.0.0"

// Config carries the wiring a Gate needs. Zero values select mainnet
// defaults: the public RPC endpoint and the canonical USDC mint.
type Config struct {
	// Endpoints are RPC endpoints in priority order. Empty selects the
	// public mainnet endpoint.
	Endpoints []chain.Endpoint

	// Token is the SPL token payments must arrive in. The zero value
	// selects mainnet USDC.
	Token types.Token

	// PlatformWallet receives payments for agents without a payout
	// wallet of their own. Optional.
	PlatformWallet string

	// SessionFile persists unlocked sessions across restarts when set.
	SessionFile string

	// VerifyTimeout bounds a single verification round trip. Zero
	// selects the verification default.
	VerifyTimeout time.Duration
}

// Gate is the payment gate. All methods are safe for concurrent use.
type Gate struct {
	reader   *chain.Reader
	verifier *verification.Verifier
	store    *session.Store
	intents  *intent.Registry

	platformWallet string
	log            logger.Logger
}

// New builds a Gate from cfg and starts its background intent sweeper.
// Call Close when done.
func New(cfg Config, opts ...Option) (*Gate, error) {
	o := &gateOptions{
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		clock:   types.SystemClock{},
	}
	for _, opt := range opts {
		opt(o)
	}

	token := cfg.Token
	if token.Mint == "" {
		token = types.USDCMainnet()
	}
	if cfg.PlatformWallet != "" {
		if err := utils.ValidateAddress(cfg.PlatformWallet); err != nil {
			return nil, types.NewGateError(types.ErrCodeInvalidInput, "platform wallet is not a valid address", err)
		}
	}

	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = chain.DefaultFallbackEndpoints()
	}
	reader, err := chain.NewReader(endpoints,
		chain.WithLogger(o.log),
		chain.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	verifierOpts := []verification.Option{
		verification.WithLogger(o.log),
		verification.WithMetrics(o.metrics),
		verification.WithClock(o.clock),
	}
	if cfg.VerifyTimeout > 0 {
		verifierOpts = append(verifierOpts, verification.WithTimeout(cfg.VerifyTimeout))
	}
	verifier, err := verification.NewVerifier(reader, token, verifierOpts...)
	if err != nil {
		return nil, err
	}

	storeOpts := []session.Option{
		session.WithClock(o.clock),
		session.WithLogger(o.log),
	}
	if cfg.SessionFile != "" {
		storeOpts = append(storeOpts, session.WithPersistPath(cfg.SessionFile))
	}

	intents := intent.NewRegistry(token,
		intent.WithClock(o.clock),
		intent.WithLogger(o.log),
	)
	intents.StartSweeper(0)

	return &Gate{
		reader:         reader,
		verifier:       verifier,
		store:          session.NewStore(storeOpts...),
		intents:        intents,
		platformWallet: cfg.PlatformWallet,
		log:            o.log,
	}, nil
}

// Verify checks a payment against what was expected and returns a
// verdict. Only infrastructure failures surface as errors.
func (g *Gate) Verify(ctx context.Context, expected types.ExpectedPayment) (*types.Verdict, error) {
	return g.verifier.Verify(ctx, expected)
}

// VerifyAndUnlock verifies a payment and, when the verdict is valid,
// unlocks a session for expected.AgentID under cfg. An invalid verdict
// returns with a nil session and no error.
func (g *Gate) VerifyAndUnlock(ctx context.Context, expected types.ExpectedPayment, cfg types.SessionConfig) (*types.Verdict, *types.SessionRecord, error) {
	if expected.AgentID == "" {
		return nil, nil, types.NewGateError(types.ErrCodeInvalidInput, "agent id is required to unlock a session", nil)
	}

	verdict, err := g.verifier.Verify(ctx, expected)
	if err != nil {
		return nil, nil, err
	}
	if !verdict.Valid {
		return verdict, nil, nil
	}

	rec := g.store.Save(expected.AgentID, cfg, expected.Signature)
	return verdict, &rec, nil
}

// BeginPayment opens a payment intent for an agent, resolving the
// receiver from the agent's payout wallet with the platform wallet as
// fallback.
func (g *Gate) BeginPayment(agent types.Agent, buyer string) (*types.PaymentIntent, error) {
	if agent.Free() {
		return nil, types.NewGateError(types.ErrCodeInvalidInput, "agent has no price, nothing to pay", nil)
	}
	return g.CreateIntent(agent.ID, agent.PriceUSDC, agent.PayoutWallet, buyer)
}

// CreateIntent opens a payment intent with an explicit amount. An empty
// receiver falls back to the platform wallet.
func (g *Gate) CreateIntent(agentID string, amount decimal.Decimal, receiver, buyer string) (*types.PaymentIntent, error) {
	if receiver == "" {
		receiver = g.platformWallet
	}
	if receiver == "" {
		return nil, types.NewGateError(types.ErrCodeServiceNotConfigured, "no receiver wallet available, set a payout or platform wallet", nil)
	}
	return g.intents.Create(agentID, amount, receiver, buyer)
}

// ConsumeIntent redeems a pending intent by id. It returns false for
// unknown, expired or already consumed intents.
func (g *Gate) ConsumeIntent(id string) (*types.PaymentIntent, bool) {
	return g.intents.Consume(id)
}

// ActiveSession returns the live session for an agent, if any.
func (g *Gate) ActiveSession(agentID string) (*types.SessionRecord, bool) {
	return g.store.GetActive(agentID)
}

// ActiveSessions returns the live sessions among agentIDs.
func (g *Gate) ActiveSessions(agentIDs []string) map[string]types.SessionRecord {
	return g.store.GetAllActive(agentIDs)
}

// EndSession drops an agent's session.
func (g *Gate) EndSession(agentID string) {
	g.store.Clear(agentID)
}

// ConsumeMessage spends one message from an agent's session budget and
// reports whether the session is still live.
func (g *Gate) ConsumeMessage(agentID string) (*types.SessionRecord, bool) {
	return g.store.ConsumeMessage(agentID)
}

// Health reports whether any configured RPC endpoint answers.
func (g *Gate) Health(ctx context.Context) bool {
	return g.reader.GetHealth(ctx)
}

// Close stops background work. The Gate must not be used afterwards.
func (g *Gate) Close() {
	g.intents.Stop()
}
