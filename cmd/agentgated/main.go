// agentgated serves the payment gate over HTTP: verification, intent
// creation, the authenticated RPC passthrough and identity tokens.
// Configuration comes from the environment, see the config package.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	agentgate "github.com/agentgate/agentgate"
	"github.com/agentgate/agentgate/auth"
	"github.com/agentgate/agentgate/chain"
	"github.com/agentgate/agentgate/config"
	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/metrics"
	"github.com/agentgate/agentgate/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("agentgated: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var log logger.Logger
	if cfg.Production() {
		log = logger.NewZapLogger(cfg.LogLevel)
	} else {
		log = logger.NewDevelopmentLogger(cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	endpoints := []chain.Endpoint{rpcEndpoint(cfg.RPCURL, cfg.RPCAPIKey)}
	for _, u := range cfg.RPCFallbackURLs {
		endpoints = append(endpoints, chain.Endpoint{URL: u})
	}

	gate, err := agentgate.New(agentgate.Config{
		Endpoints:      endpoints,
		Token:          cfg.Token(),
		PlatformWallet: cfg.PlatformWallet,
		SessionFile:    cfg.SessionFile,
		VerifyTimeout:  cfg.VerifyTimeout,
	},
		agentgate.WithLogger(log),
		agentgate.WithMetrics(metrics.NewPrometheusRecorder()),
	)
	if err != nil {
		return err
	}
	defer gate.Close()

	issuer := auth.NewIssuer([]byte(cfg.SessionSecret))
	if issuer.Unsafe() {
		if cfg.Production() {
			return errors.New("SESSION_SIGNING_SECRET is required when ENVIRONMENT=production")
		}
		log.Warn("no session signing secret configured, identity tokens are unsafe", nil)
	}

	srv := server.New(gate,
		server.WithLogger(log),
		server.WithIssuer(issuer),
		server.WithRPCProxy(cfg.RPCURL, cfg.RPCAPIKey),
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.VerifyTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		done <- httpServer.ListenAndServe()
	}()

	log.Info("agentgated listening", map[string]any{
		"port":    cfg.Port,
		"mint":    cfg.USDCMint,
		"env":     cfg.Env,
		"version": agentgate.Version,
	})

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// rpcEndpoint attaches the API key header when one is configured.
func rpcEndpoint(url, apiKey string) chain.Endpoint {
	ep := chain.Endpoint{URL: url}
	if apiKey != "" {
		ep.Headers = map[string]string{"X-API-Key": apiKey}
	}
	return ep
}
