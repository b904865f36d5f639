package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	agentgate "github.com/agentgate/agentgate"
	"github.com/agentgate/agentgate/types"
	"github.com/agentgate/agentgate/utils"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

const maxBodyBytes = 1 << 20

type verifyRequest struct {
	Signature string      `json:"signature" validate:"required"`
	Receiver  string      `json:"receiver" validate:"required"`
	Amount    json.Number `json:"amount" validate:"required"`
	Buyer     string      `json:"buyer"`
	AgentID   string      `json:"agentId"`
}

type verifyResponse struct {
	Verified   bool            `json:"verified"`
	Signature  string          `json:"signature"`
	Amount     decimal.Decimal `json:"amount"`
	Receiver   string          `json:"receiver"`
	AgentID    string          `json:"agentId,omitempty"`
	VerifiedAt time.Time       `json:"verifiedAt"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": err.Error()})
		return
	}
	amount, err := utils.ValidateAmount(req.Amount.String())
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": "invalid amount"})
		return
	}

	verdict, err := s.core.Verify(r.Context(), types.ExpectedPayment{
		Signature: req.Signature,
		Receiver:  req.Receiver,
		Amount:    *amount,
		Buyer:     req.Buyer,
		AgentID:   req.AgentID,
	})
	if err != nil {
		s.requestLog(r).Error("verification errored", map[string]any{
			"signature": req.Signature,
			"error":     err.Error(),
		})
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"verified": false,
			"error":    "server error",
			"message":  publicMessage(err),
			"code":     types.CodeOf(err),
		})
		return
	}
	if !verdict.Valid {
		respondWithJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": verdict.Reason})
		return
	}

	respondWithJSON(w, http.StatusOK, verifyResponse{
		Verified:   true,
		Signature:  req.Signature,
		Amount:     verdict.Amount,
		Receiver:   verdict.Receiver,
		AgentID:    req.AgentID,
		VerifiedAt: verdict.VerifiedAt,
	})
}

type createIntentRequest struct {
	AgentID  string      `json:"agentId" validate:"required"`
	Amount   json.Number `json:"amount" validate:"required"`
	Receiver string      `json:"receiver"`
	Buyer    string      `json:"buyer" validate:"required"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := utils.ValidateAmount(req.Amount.String())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	pi, err := s.core.CreateIntent(req.AgentID, *amount, req.Receiver, req.Buyer)
	if err != nil {
		code := types.CodeOf(err)
		respondWithJSON(w, statusForCode(code), map[string]any{
			"success": false,
			"error":   publicMessage(err),
			"code":    code,
		})
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"paymentIntent": pi,
	})
}

// handleRPCProxy relays a JSON-RPC request to the configured upstream
// verbatim, attaching the API key server-side.
func (s *Server) handleRPCProxy(w http.ResponseWriter, r *http.Request) {
	if s.rpcUpstream == "" {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "rpc proxy not configured",
			"code":  types.ErrCodeServiceNotConfigured,
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.rpcUpstream, bytes.NewReader(body))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.rpcAPIKey != "" {
		req.Header.Set("X-API-Key", s.rpcAPIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.requestLog(r).Warn("rpc upstream unreachable", map[string]any{"error": err.Error()})
		respondWithJSON(w, http.StatusBadGateway, map[string]any{
			"error": "rpc upstream unreachable",
			"code":  types.ErrCodeRPCUnavailable,
		})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	chainUp := s.core.Health(ctx)
	status := "ok"
	if !chainUp {
		status = "degraded"
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"chain":   chainUp,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": agentgate.Version,
	})
}

type identityRequest struct {
	ViewerID string `json:"viewerId" validate:"required"`
}

func (s *Server) handleIssueIdentity(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.issuer.Issue(req.ViewerID)
	if err != nil {
		code := types.CodeOf(err)
		respondWithJSON(w, statusForCode(code), map[string]any{
			"error": publicMessage(err),
			"code":  code,
		})
		return
	}
	respondWithJSON(w, http.StatusOK, token)
}

// decodeJSON reads and validates a JSON request body. Numbers decode
// as json.Number so amounts keep their textual form.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %v", err)
	}
	return nil
}

// publicMessage returns the client-facing message for an error. Causes
// and stack context stay in the logs.
func publicMessage(err error) string {
	var gerr *types.GateError
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return "internal server error"
}

func statusForCode(code string) int {
	switch code {
	case types.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case types.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case types.ErrCodeServiceNotConfigured:
		return http.StatusServiceUnavailable
	case types.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case types.ErrCodeRPCUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]any{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
