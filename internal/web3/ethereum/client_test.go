package ethereum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func newRPCServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result string
		switch req.Method {
		case "eth_chainId":
			calls.Add(1)
			result = "0x2105"
		case "eth_blockNumber":
			result = "0x10"
		default:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientFetchChainSnapshot(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newRPCServer(t, &calls)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{Name: "base", RPCURL: srv.URL, Notes: "test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Name != "base" || snapshot.ChainID != "0x2105" || snapshot.BlockNumber != "0x10" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Int64() != 8453 {
		t.Fatalf("unexpected chain id %s", id)
	}
	if calls.Load() != 1 {
		t.Fatalf("chain id should be cached, got %d calls", calls.Load())
	}
	if client.Backend() == nil {
		t.Fatal("expected backend")
	}
}

func TestClientConfiguredChainIDSkipsRPC(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newRPCServer(t, &calls)

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL, ChainID: 84532})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	id, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Int64() != 84532 || calls.Load() != 0 {
		t.Fatalf("expected configured id without rpc, got %s after %d calls", id, calls.Load())
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), Config{RPCURL: "  "}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}

func TestClosedClientHasNoBackend(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newRPCServer(t, &calls)

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL, ChainID: 1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.Close()
	if client.Backend() != nil {
		t.Fatal("closed client must not expose a backend")
	}
	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
}
