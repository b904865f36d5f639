// Package server exposes the payment gate over HTTP: payment
// verification, intent creation, an authenticated RPC passthrough and
// identity token issuance, instrumented with per-route prometheus
// metrics and request-scoped logging.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/agentgate/agentgate/auth"
	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/types"
)

const defaultProxyTimeout = 30 * time.Second

// Core is the part of the payment gate the HTTP layer depends on.
// *agentgate.Gate satisfies it.
type Core interface {
	Verify(ctx context.Context, expected types.ExpectedPayment) (*types.Verdict, error)
	CreateIntent(agentID string, amount decimal.Decimal, receiver, buyer string) (*types.PaymentIntent, error)
	Health(ctx context.Context) bool
}

type Server struct {
	core   Core
	issuer *auth.Issuer
	log    logger.Logger
	client *http.Client

	rpcUpstream string
	rpcAPIKey   string

	started time.Time
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithIssuer sets the identity token issuer. Without one the server
// falls back to an unsigned issuer, which marks every token unsafe.
func WithIssuer(i *auth.Issuer) Option {
	return func(s *Server) {
		s.issuer = i
	}
}

// WithRPCProxy enables the /solana-rpc passthrough to upstreamURL. The
// API key is attached server-side and never reaches clients.
func WithRPCProxy(upstreamURL, apiKey string) Option {
	return func(s *Server) {
		s.rpcUpstream = upstreamURL
		s.rpcAPIKey = apiKey
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.client = c
	}
}

func New(core Core, opts ...Option) *Server {
	s := &Server{
		core:    core,
		issuer:  auth.NewIssuer(nil),
		log:     logger.NoopLogger{},
		client:  &http.Client{Timeout: defaultProxyTimeout},
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP routes with middleware applied.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.observe, s.recovery)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/payment/verify", s.handleVerifyPayment).Methods(http.MethodPost)
	r.HandleFunc("/payment/create-intent", s.handleCreateIntent).Methods(http.MethodPost)
	r.HandleFunc("/solana-rpc", s.handleRPCProxy).Methods(http.MethodPost)
	r.HandleFunc("/auth/identity", s.handleIssueIdentity).Methods(http.MethodPost)
	return r
}
