package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSig       = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	testBlockhash = "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi"
)

type rpcReply struct {
	status int    // 0 means 200
	result string // raw JSON result member
	rpcErr string // raw JSON error member
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcServer speaks just enough JSON-RPC for Reader tests. reply is
// called with the method name and the 1-based call count for that
// method, so tests can script "processed, then confirmed" sequences.
type rpcServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

func newRPCServer(t *testing.T, reply func(method string, call int) rpcReply) *rpcServer {
	t.Helper()

	s := &rpcServer{calls: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var r rpcRequest
		if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.calls[r.Method]++
		call := s.calls[r.Method]
		s.mu.Unlock()

		rep := reply(r.Method, call)
		if rep.status != 0 && rep.status != http.StatusOK {
			http.Error(w, "boom", rep.status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if rep.rpcErr != "" {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":%s}`, r.ID, rep.rpcErr)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, r.ID, rep.result)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *rpcServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func healthyWithBlockhash(method string, call int) rpcReply {
	switch method {
	case "getHealth":
		return rpcReply{result: `"ok"`}
	case "getLatestBlockhash":
		return rpcReply{result: fmt.Sprintf(
			`{"context":{"slot":5},"value":{"blockhash":"%s","lastValidBlockHeight":100}}`, testBlockhash)}
	}
	return rpcReply{status: http.StatusNotFound}
}

func TestNewReaderRequiresEndpoint(t *testing.T) {
	_, err := NewReader(nil)
	require.Error(t, err)
}

func TestReaderFailsOverToHealthyEndpoint(t *testing.T) {
	down := newRPCServer(t, func(string, int) rpcReply {
		return rpcReply{status: http.StatusInternalServerError}
	})
	up := newRPCServer(t, healthyWithBlockhash)

	r, err := NewReader(
		[]Endpoint{{URL: down.URL}, {URL: up.URL}},
		WithProbeTimeout(time.Second),
	)
	require.NoError(t, err)

	hash, err := r.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testBlockhash, hash.String())

	assert.Equal(t, 1, up.count("getLatestBlockhash"))
	assert.Zero(t, down.count("getLatestBlockhash"), "unhealthy endpoint should never serve the call")
}

func TestReaderFailsOverOnTransportErrorMidCall(t *testing.T) {
	// Probes healthy, then breaks on the real call.
	flaky := newRPCServer(t, func(method string, call int) rpcReply {
		if method == "getHealth" {
			return rpcReply{result: `"ok"`}
		}
		return rpcReply{status: http.StatusInternalServerError}
	})
	up := newRPCServer(t, healthyWithBlockhash)

	r, err := NewReader([]Endpoint{{URL: flaky.URL}, {URL: up.URL}})
	require.NoError(t, err)

	hash, err := r.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testBlockhash, hash.String())
	assert.Equal(t, 1, flaky.count("getLatestBlockhash"))
	assert.Equal(t, 1, up.count("getLatestBlockhash"))
}

func TestReaderCachesEndpointSelection(t *testing.T) {
	srv := newRPCServer(t, healthyWithBlockhash)

	r, err := NewReader([]Endpoint{{URL: srv.URL}}, WithSelectionTTL(time.Hour))
	require.NoError(t, err)

	_, err = r.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	_, err = r.GetLatestBlockhash(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, srv.count("getHealth"), "second call should reuse the cached endpoint")
	assert.Equal(t, 2, srv.count("getLatestBlockhash"))
}

func TestGetTransactionNotFoundIsAuthoritative(t *testing.T) {
	primary := newRPCServer(t, func(method string, call int) rpcReply {
		switch method {
		case "getHealth":
			return rpcReply{result: `"ok"`}
		case "getTransaction":
			return rpcReply{result: `null`}
		}
		return rpcReply{status: http.StatusNotFound}
	})
	secondary := newRPCServer(t, healthyWithBlockhash)

	r, err := NewReader([]Endpoint{{URL: primary.URL}, {URL: secondary.URL}})
	require.NoError(t, err)

	_, err = r.GetTransaction(context.Background(), solana.MustSignatureFromBase58(testSig))
	require.ErrorIs(t, err, ErrNotFound)

	// The node answered; asking another endpoint would be pointless.
	assert.Zero(t, secondary.count("getTransaction"))
}

func TestGetTransactionAllEndpointsDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewReader([]Endpoint{{URL: url}}, WithProbeTimeout(100*time.Millisecond))
	require.NoError(t, err)

	_, err = r.GetTransaction(context.Background(), solana.MustSignatureFromBase58(testSig))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGetTransactionReturnsRecord(t *testing.T) {
	srv := newRPCServer(t, func(method string, call int) rpcReply {
		switch method {
		case "getHealth":
			return rpcReply{result: `"ok"`}
		case "getTransaction":
			return rpcReply{result: `{"slot":987654,"blockTime":1700000000,"meta":{"err":null,"fee":5000,"preTokenBalances":[],"postTokenBalances":[]},"transaction":["","base64"]}`}
		}
		return rpcReply{status: http.StatusNotFound}
	})

	r, err := NewReader([]Endpoint{{URL: srv.URL}})
	require.NoError(t, err)

	out, err := r.GetTransaction(context.Background(), solana.MustSignatureFromBase58(testSig))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, uint64(987654), out.Slot)
	require.NotNil(t, out.Meta)
	assert.Nil(t, out.Meta.Err)
}

func TestCallReturnsMethodErrorWithoutFailover(t *testing.T) {
	primary := newRPCServer(t, func(method string, call int) rpcReply {
		if method == "getHealth" {
			return rpcReply{result: `"ok"`}
		}
		return rpcReply{rpcErr: `{"code":-32601,"message":"Method not found"}`}
	})
	secondary := newRPCServer(t, healthyWithBlockhash)

	r, err := NewReader([]Endpoint{{URL: primary.URL}, {URL: secondary.URL}})
	require.NoError(t, err)

	_, err = r.Call(context.Background(), "getFoo", []any{})
	require.Error(t, err)

	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Zero(t, secondary.count("getFoo"))
}

func TestCallForwardsResult(t *testing.T) {
	srv := newRPCServer(t, func(method string, call int) rpcReply {
		switch method {
		case "getHealth":
			return rpcReply{result: `"ok"`}
		case "getVersion":
			return rpcReply{result: `{"solana-core":"1.18.0"}`}
		}
		return rpcReply{status: http.StatusNotFound}
	})

	r, err := NewReader([]Endpoint{{URL: srv.URL}})
	require.NoError(t, err)

	raw, err := r.Call(context.Background(), "getVersion", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"solana-core":"1.18.0"}`, string(raw))
}

func TestGetHealth(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	up := newRPCServer(t, healthyWithBlockhash)

	r, err := NewReader(
		[]Endpoint{{URL: deadURL}, {URL: up.URL}},
		WithProbeTimeout(100*time.Millisecond),
	)
	require.NoError(t, err)
	assert.True(t, r.GetHealth(context.Background()))

	r2, err := NewReader([]Endpoint{{URL: deadURL}}, WithProbeTimeout(100*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, r2.GetHealth(context.Background()))
}

func TestWaitForConfirmation(t *testing.T) {
	srv := newRPCServer(t, func(method string, call int) rpcReply {
		switch method {
		case "getHealth":
			return rpcReply{result: `"ok"`}
		case "getSignatureStatuses":
			if call == 1 {
				return rpcReply{result: `{"context":{"slot":10},"value":[{"slot":10,"confirmations":0,"err":null,"confirmationStatus":"processed"}]}`}
			}
			return rpcReply{result: `{"context":{"slot":12},"value":[{"slot":12,"confirmations":3,"err":null,"confirmationStatus":"confirmed"}]}`}
		}
		return rpcReply{status: http.StatusNotFound}
	})

	r, err := NewReader([]Endpoint{{URL: srv.URL}})
	require.NoError(t, err)

	status, err := r.WaitForConfirmation(context.Background(), solana.MustSignatureFromBase58(testSig), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, rpc.ConfirmationStatusConfirmed, status.Commitment)
	assert.Equal(t, uint64(12), status.Slot)
	assert.False(t, status.Failed())
	assert.GreaterOrEqual(t, srv.count("getSignatureStatuses"), 2)
}

func TestWaitForConfirmationOnChainFailure(t *testing.T) {
	srv := newRPCServer(t, func(method string, call int) rpcReply {
		switch method {
		case "getHealth":
			return rpcReply{result: `"ok"`}
		case "getSignatureStatuses":
			return rpcReply{result: `{"context":{"slot":9},"value":[{"slot":9,"confirmations":null,"err":{"InstructionError":[0,{"Custom":1}]},"confirmationStatus":"confirmed"}]}`}
		}
		return rpcReply{status: http.StatusNotFound}
	})

	r, err := NewReader([]Endpoint{{URL: srv.URL}})
	require.NoError(t, err)

	status, err := r.WaitForConfirmation(context.Background(), solana.MustSignatureFromBase58(testSig), 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, status.Failed())
	assert.Equal(t, uint64(9), status.Slot)
}

func TestWaitForConfirmationDeadline(t *testing.T) {
	srv := newRPCServer(t, func(method string, call int) rpcReply {
		switch method {
		case "getHealth":
			return rpcReply{result: `"ok"`}
		case "getSignatureStatuses":
			// Node has never seen the signature.
			return rpcReply{result: `{"context":{"slot":1},"value":[null]}`}
		}
		return rpcReply{status: http.StatusNotFound}
	})

	r, err := NewReader([]Endpoint{{URL: srv.URL}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_, err = r.WaitForConfirmation(ctx, solana.MustSignatureFromBase58(testSig), 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
