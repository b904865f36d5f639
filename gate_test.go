package agentgate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/chain"
	"github.com/agentgate/agentgate/types"
)

const (
	testSig      = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	testReceiver = "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi"
	testBuyer    = "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR"
	testMint     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

// rpcStub answers getHealth with ok and getTransaction with the given
// result JSON.
func rpcStub(t *testing.T, getTransactionResult string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result string
		switch req.Method {
		case "getHealth":
			result = `"ok"`
		case "getTransaction":
			result = getTransactionResult
		default:
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
	}))
}

// paidTransactionJSON is a confirmed transaction whose post balances
// credit the receiver 0.3 tokens at 6 decimals.
func paidTransactionJSON() string {
	return fmt.Sprintf(`{
		"slot": 246700210,
		"blockTime": 1718000000,
		"transaction": ["", "base64"],
		"meta": {
			"err": null,
			"fee": 5000,
			"preTokenBalances": [
				{"accountIndex": 1, "mint": %q, "owner": %q,
				 "uiTokenAmount": {"amount": "1000000", "decimals": 6, "uiAmountString": "1"}}
			],
			"postTokenBalances": [
				{"accountIndex": 1, "mint": %q, "owner": %q,
				 "uiTokenAmount": {"amount": "1300000", "decimals": 6, "uiAmountString": "1.3"}}
			]
		}
	}`, testMint, testReceiver, testMint, testReceiver)
}

func newTestGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	gate, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(gate.Close)
	return gate
}

func TestNewRejectsBadPlatformWallet(t *testing.T) {
	_, err := New(Config{PlatformWallet: "0xdeadbeef"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidInput, types.CodeOf(err))
}

func TestCreateIntentReceiverFallback(t *testing.T) {
	gate := newTestGate(t, Config{PlatformWallet: testReceiver})

	pi, err := gate.CreateIntent("agent-1", decimal.RequireFromString("0.30"), "", testBuyer)
	require.NoError(t, err)
	assert.Equal(t, testReceiver, pi.Receiver)
	assert.Equal(t, types.USDCMintMainnet, pi.Mint)
	assert.Equal(t, int64(300000), pi.AmountRaw)

	pi, err = gate.CreateIntent("agent-1", decimal.RequireFromString("0.30"), testBuyer, testBuyer)
	require.NoError(t, err)
	assert.Equal(t, testBuyer, pi.Receiver, "explicit receiver wins over the platform wallet")
}

func TestCreateIntentWithoutAnyWallet(t *testing.T) {
	gate := newTestGate(t, Config{})

	_, err := gate.CreateIntent("agent-1", decimal.RequireFromString("0.30"), "", testBuyer)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeServiceNotConfigured, types.CodeOf(err))
}

func TestBeginPayment(t *testing.T) {
	gate := newTestGate(t, Config{})

	agent := types.Agent{
		ID:           "agent-1",
		PayoutWallet: testReceiver,
		PriceUSDC:    decimal.RequireFromString("0.50"),
	}
	pi, err := gate.BeginPayment(agent, testBuyer)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", pi.AgentID)
	assert.Equal(t, testReceiver, pi.Receiver)
	assert.True(t, pi.Amount.Equal(agent.PriceUSDC))

	_, err = gate.BeginPayment(types.Agent{ID: "free-agent"}, testBuyer)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidInput, types.CodeOf(err))
}

func TestConsumeIntentIsSingleUse(t *testing.T) {
	gate := newTestGate(t, Config{PlatformWallet: testReceiver})

	pi, err := gate.CreateIntent("agent-1", decimal.RequireFromString("0.30"), "", testBuyer)
	require.NoError(t, err)

	got, ok := gate.ConsumeIntent(pi.ID)
	require.True(t, ok)
	assert.Equal(t, pi.ID, got.ID)

	_, ok = gate.ConsumeIntent(pi.ID)
	assert.False(t, ok)
}

func TestVerifyAndUnlockRequiresAgentID(t *testing.T) {
	gate := newTestGate(t, Config{})

	_, _, err := gate.VerifyAndUnlock(context.Background(), types.ExpectedPayment{
		Signature: testSig,
		Receiver:  testReceiver,
		Amount:    decimal.RequireFromString("0.30"),
	}, types.SessionConfig{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidInput, types.CodeOf(err))
}

func TestVerifyAndUnlockEndToEnd(t *testing.T) {
	srv := rpcStub(t, paidTransactionJSON())
	defer srv.Close()

	gate := newTestGate(t, Config{
		Endpoints: []chain.Endpoint{{URL: srv.URL}},
		Token:     types.Token{Mint: testMint, Decimals: 6},
	})

	expected := types.ExpectedPayment{
		Signature: testSig,
		Receiver:  testReceiver,
		Amount:    decimal.RequireFromString("0.30"),
		AgentID:   "agent-1",
	}
	verdict, rec, err := gate.VerifyAndUnlock(context.Background(), expected, types.SessionConfig{
		MaxDurationMinutes: 60,
		MaxMessages:        2,
	})
	require.NoError(t, err)
	require.True(t, verdict.Valid, "reason: %s", verdict.Reason)
	require.NotNil(t, rec)
	assert.Equal(t, "agent-1", rec.AgentID)
	assert.Equal(t, testSig, rec.Signature)
	require.NotNil(t, rec.MessagesRemaining)
	assert.Equal(t, 2, *rec.MessagesRemaining)

	live, ok := gate.ActiveSession("agent-1")
	require.True(t, ok)
	assert.Equal(t, testSig, live.Signature)

	after, ok := gate.ConsumeMessage("agent-1")
	require.True(t, ok)
	assert.Equal(t, 1, *after.MessagesRemaining)

	gate.EndSession("agent-1")
	_, ok = gate.ActiveSession("agent-1")
	assert.False(t, ok)
}

func TestVerifyAndUnlockInvalidVerdictSkipsUnlock(t *testing.T) {
	srv := rpcStub(t, "null")
	defer srv.Close()

	gate := newTestGate(t, Config{
		Endpoints: []chain.Endpoint{{URL: srv.URL}},
		Token:     types.Token{Mint: testMint, Decimals: 6},
	})

	verdict, rec, err := gate.VerifyAndUnlock(context.Background(), types.ExpectedPayment{
		Signature: testSig,
		Receiver:  testReceiver,
		Amount:    decimal.RequireFromString("0.30"),
		AgentID:   "agent-1",
	}, types.SessionConfig{MaxDurationMinutes: 60})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Nil(t, rec)

	_, ok := gate.ActiveSession("agent-1")
	assert.False(t, ok)
}

func TestHealth(t *testing.T) {
	srv := rpcStub(t, "null")
	gate := newTestGate(t, Config{
		Endpoints: []chain.Endpoint{{URL: srv.URL}},
	})
	assert.True(t, gate.Health(context.Background()))

	srv.Close()
	down := newTestGate(t, Config{
		Endpoints: []chain.Endpoint{{URL: srv.URL}},
	})
	assert.False(t, down.Health(context.Background()))
}
