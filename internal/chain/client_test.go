package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer answers JSON-RPC calls with handle. A non-zero status aborts
// the request with that HTTP status.
func newRPCServer(t *testing.T, handle func(req rpcRequest) (interface{}, int)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, status := handle(req)
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientFailsOverOnTransientError(t *testing.T) {
	var downCalls, upCalls atomic.Int32
	down := newRPCServer(t, func(rpcRequest) (interface{}, int) {
		downCalls.Add(1)
		return nil, http.StatusServiceUnavailable
	})
	up := newRPCServer(t, func(req rpcRequest) (interface{}, int) {
		upCalls.Add(1)
		return "0xaa", 0
	})

	client, err := Dial(context.Background(), []string{down.URL, up.URL}, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer client.Close()

	head, err := client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0xaa), head)

	// The healthy endpoint is preferred afterwards.
	_, err = client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), downCalls.Load())
	assert.Equal(t, int32(2), upCalls.Load())
}

func TestClientDoesNotFailOverOnClientError(t *testing.T) {
	var second atomic.Int32
	bad := newRPCServer(t, func(rpcRequest) (interface{}, int) {
		return nil, http.StatusBadRequest
	})
	other := newRPCServer(t, func(rpcRequest) (interface{}, int) {
		second.Add(1)
		return "0x1", 0
	})

	client, err := Dial(context.Background(), []string{bad.URL, other.URL}, Options{})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.LatestBlockNumber(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(0), second.Load())
}

func TestBlockTimestampIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := newRPCServer(t, func(req rpcRequest) (interface{}, int) {
		calls.Add(1)
		assert.Equal(t, "eth_getBlockByNumber", req.Method)
		return map[string]string{"number": "0x64", "timestamp": "0x6553f100"}, 0
	})

	client, err := Dial(context.Background(), []string{srv.URL}, Options{TimestampCacheSize: 8})
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 3; i++ {
		ts, err := client.BlockTimestamp(context.Background(), 100)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x6553f100), ts)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTokenMetadata(t *testing.T) {
	parsed, err := erc20ABI()
	require.NoError(t, err)

	decimalsOut, err := parsed.str.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	symbolOut, err := parsed.str.Methods["symbol"].Outputs.Pack("USDC")
	require.NoError(t, err)
	var rawName [32]byte
	copy(rawName[:], "Maker")
	nameOut, err := parsed.bytes32.Methods["name"].Outputs.Pack(rawName)
	require.NoError(t, err)

	selector := func(method string) string {
		return hexutil.Encode(parsed.str.Methods[method].ID)
	}

	srv := newRPCServer(t, func(req rpcRequest) (interface{}, int) {
		var call map[string]string
		if req.Method != "eth_call" || len(req.Params) == 0 || json.Unmarshal(req.Params[0], &call) != nil {
			return nil, http.StatusBadRequest
		}
		input := call["input"]
		if input == "" {
			input = call["data"]
		}
		switch {
		case strings.HasPrefix(input, selector("decimals")):
			return hexutil.Encode(decimalsOut), 0
		case strings.HasPrefix(input, selector("symbol")):
			return hexutil.Encode(symbolOut), 0
		case strings.HasPrefix(input, selector("name")):
			// The string decode of a bytes32 payload fails, forcing the fallback.
			return hexutil.Encode(nameOut), 0
		}
		return nil, http.StatusBadRequest
	})

	client, err := Dial(context.Background(), []string{srv.URL}, Options{})
	require.NoError(t, err)
	defer client.Close()

	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	meta, err := client.FetchTokenMetadata(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", meta.Address)
	assert.Equal(t, uint8(6), meta.Decimals)
	assert.Equal(t, "USDC", meta.Symbol)
	assert.Equal(t, "Maker", meta.Name)
}

func TestDialRequiresEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), []string{""}, Options{})
	require.Error(t, err)
}
