// Package chain reads transactions and chain state from Solana RPC
// endpoints. A Reader walks an ordered endpoint list, preferring the
// first one that answers a health probe, and fails over on transport
// errors so a single dead endpoint never blocks payment verification.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/metrics"
)

var (
	// ErrNotFound means a node answered and the transaction does not
	// exist at the requested commitment. Callers must keep this
	// distinct from ErrUnavailable: a failed read proves nothing about
	// the transaction's existence.
	ErrNotFound = errors.New("transaction not found")

	// ErrUnavailable means every configured endpoint failed to serve
	// the call.
	ErrUnavailable = errors.New("rpc unavailable")
)

const (
	defaultProbeTimeout = 2 * time.Second
	defaultSelectionTTL = 30 * time.Second
)

// Endpoint is one candidate RPC endpoint. Headers carry provider API
// keys so they never reach the browser.
type Endpoint struct {
	URL     string
	Headers map[string]string
}

// DefaultFallbackEndpoints returns the public mainnet endpoints tried
// after the configured primary. Fallbacks must stay on the same
// cluster as the primary or lookups would report false not-founds.
func DefaultFallbackEndpoints() []Endpoint {
	return []Endpoint{
		{URL: rpc.MainNetBeta_RPC},
	}
}

// Reader routes read-only RPC calls through an ordered endpoint list.
// It is safe for concurrent use; the only shared state is the cached
// endpoint choice.
type Reader struct {
	endpoints []Endpoint
	clients   []*rpc.Client

	log          logger.Logger
	metrics      metrics.Recorder
	probeTimeout time.Duration
	selectionTTL time.Duration

	mu         sync.Mutex
	selected   int
	selectedAt time.Time
}

type Option func(*Reader)

func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Reader) {
		r.metrics = m
	}
}

// WithProbeTimeout bounds each endpoint health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Reader) {
		r.probeTimeout = d
	}
}

// WithSelectionTTL sets how long a healthy endpoint choice is reused
// before the priority order is re-probed.
func WithSelectionTTL(d time.Duration) Option {
	return func(r *Reader) {
		r.selectionTTL = d
	}
}

// NewReader builds a Reader over endpoints in priority order. At least
// one endpoint is required.
func NewReader(endpoints []Endpoint, opts ...Option) (*Reader, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one endpoint is required")
	}

	r := &Reader{
		endpoints:    endpoints,
		clients:      make([]*rpc.Client, len(endpoints)),
		log:          logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		probeTimeout: defaultProbeTimeout,
		selectionTTL: defaultSelectionTTL,
		selected:     -1,
	}

	for _, opt := range opts {
		opt(r)
	}

	for i, ep := range endpoints {
		if len(ep.Headers) > 0 {
			r.clients[i] = rpc.NewWithHeaders(ep.URL, ep.Headers)
		} else {
			r.clients[i] = rpc.New(ep.URL)
		}
	}

	return r, nil
}

// pick returns the index to try first. A cached healthy choice is
// reused until its TTL lapses; otherwise endpoints are probed in
// priority order and the first healthy one wins. Returns -1 when no
// endpoint probes healthy, in which case calls walk the full list.
func (r *Reader) pick(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected >= 0 && time.Since(r.selectedAt) < r.selectionTTL {
		return r.selected
	}

	for i, c := range r.clients {
		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		out, err := c.GetHealth(probeCtx)
		cancel()
		if err == nil && out == rpc.HealthOk {
			r.selected = i
			r.selectedAt = time.Now()
			return i
		}
		r.log.Debug("rpc endpoint failed health probe", map[string]any{
			"url":   r.endpoints[i].URL,
			"error": fmt.Sprint(err),
		})
	}

	r.selected = -1
	return -1
}

// invalidate drops the cached choice after idx failed a call, so the
// next call re-probes from the top of the priority order.
func (r *Reader) invalidate(idx int) {
	r.mu.Lock()
	if r.selected == idx {
		r.selected = -1
	}
	r.mu.Unlock()
}

// do runs fn against the preferred endpoint, advancing through the
// rest of the list on transport failure. Errors from a node that
// actually answered (JSON-RPC method errors, not-found) are returned
// as-is: failing over on those would just repeat the same question.
func (r *Reader) do(ctx context.Context, op string, fn func(c *rpc.Client) error) error {
	start := time.Now()
	first := r.pick(ctx)
	if first < 0 {
		first = 0
	}

	n := len(r.clients)
	var lastErr error
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		idx := (first + i) % n
		err := fn(r.clients[idx])
		if err == nil {
			r.metrics.ObserveLatency("rpc_call", time.Since(start), map[string]string{"endpoint": r.endpoints[idx].URL})
			return nil
		}

		if errors.Is(err, rpc.ErrNotFound) {
			return err
		}
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return err
		}

		r.log.Warn("rpc endpoint failed, trying next", map[string]any{
			"operation": op,
			"url":       r.endpoints[idx].URL,
			"error":     err.Error(),
		})
		r.invalidate(idx)
		lastErr = err
	}

	r.metrics.IncCounter("rpc_exhausted", map[string]string{"outcome": "error"})
	return fmt.Errorf("%w: %s failed on all %d endpoints: %v", ErrUnavailable, op, n, lastErr)
}

// GetTransaction fetches a transaction record at confirmed commitment
// with base64 encoding. Returns ErrNotFound when the node reports no
// such transaction and an error wrapping ErrUnavailable when every
// endpoint fails.
func (r *Reader) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	var out *rpc.GetTransactionResult

	err := r.do(ctx, "getTransaction", func(c *rpc.Client) error {
		res, err := c.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// GetHealth reports whether any configured endpoint answers its health
// probe. Used by liveness endpoints, never for call routing directly.
func (r *Reader) GetHealth(ctx context.Context) bool {
	for _, c := range r.clients {
		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		out, err := c.GetHealth(probeCtx)
		cancel()
		if err == nil && out == rpc.HealthOk {
			return true
		}
	}
	return false
}

// GetLatestBlockhash returns the latest finalized blockhash, used by
// clients assembling transactions.
func (r *Reader) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var out solana.Hash

	err := r.do(ctx, "getLatestBlockhash", func(c *rpc.Client) error {
		res, err := c.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty getLatestBlockhash response")
		}
		out = res.Value.Blockhash
		return nil
	})
	return out, err
}

// GetSignatureStatuses returns the statuses for the given signatures,
// searching full transaction history.
func (r *Reader) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	var out []*rpc.SignatureStatusesResult

	err := r.do(ctx, "getSignatureStatuses", func(c *rpc.Client) error {
		res, err := c.GetSignatureStatuses(ctx, true, sigs...)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("empty getSignatureStatuses response")
		}
		out = res.Value
		return nil
	})
	return out, err
}

// Call forwards a raw JSON-RPC method to the selected endpoint and
// returns the result payload untouched. This backs the server-side RPC
// proxy, which must not interpret what it relays.
func (r *Reader) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var out json.RawMessage

	err := r.do(ctx, method, func(c *rpc.Client) error {
		var res json.RawMessage
		if err := c.RPCCallForInto(ctx, &res, method, params); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}
