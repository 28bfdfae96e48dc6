package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeswap/runeswap-api/internal/types"
)

func TestGetRuneEntryCachesHits(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/runes/840000/3", r.URL.Path)
		json.NewEncoder(w).Encode(RuneEntry{
			RuneId:       types.RuneId{Block: 840000, Tx: 3},
			Divisibility: 2,
			Symbol:       "R",
			SpacedRune:   "TEST.RUNE",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 16, time.Minute)
	id := types.RuneId{Block: 840000, Tx: 3}

	entry, err := client.GetRuneEntry(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, uint8(2), entry.Divisibility)

	// Second read is served from cache
	_, err = client.GetRuneEntry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Invalidation forces a read-through
	client.Invalidate(id)
	_, err = client.GetRuneEntry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetRuneEntryNotIndexed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 16, time.Minute)
	entry, err := client.GetRuneEntry(context.Background(), types.RuneId{Block: 1, Tx: 1})
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetRuneEntryEndpointFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 16, time.Minute)
	_, err := client.GetRuneEntry(context.Background(), types.RuneId{Block: 1, Tx: 1})

	var rpcErr *types.RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, types.RpcEndpoint, rpcErr.Kind)
}

func TestGetRuneEntryDecodeFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 16, time.Minute)
	_, err := client.GetRuneEntry(context.Background(), types.RuneId{Block: 1, Tx: 1})

	var rpcErr *types.RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, types.RpcDecode, rpcErr.Kind)
}

func TestGetRuneEntryTransportFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewHTTPClient(server.URL, 16, time.Minute)
	_, err := client.GetRuneEntry(context.Background(), types.RuneId{Block: 1, Tx: 1})

	var rpcErr *types.RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, types.RpcIo, rpcErr.Kind)
}

func TestGetHeight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/height", r.URL.Path)
		json.NewEncoder(w).Encode(Height{Height: 800_123, BlockHash: "hash"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0, 0)
	height, err := client.GetHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(800_123), height.Height)
}

func TestGetHeightMissingChainView(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0, 0)
	_, err := client.GetHeight(context.Background())

	var rpcErr *types.RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, types.RpcEndpoint, rpcErr.Kind)
}

func TestGetRunesByUTXO(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/utxos/abc/1/runes", r.URL.Path)
		json.NewEncoder(w).Encode([]RuneBalance{
			{RuneId: types.RuneId{Block: 840000, Tx: 3}, Balance: 5000},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0, 0)
	balances, err := client.GetRunesByUTXO(context.Background(), "abc", 1)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, uint64(5000), balances[0].Balance)
}

func TestGetRunesByUTXOUnknownOutpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0, 0)
	_, err := client.GetRunesByUTXO(context.Background(), "abc", 1)
	assert.ErrorIs(t, err, types.ErrOutPointNotFound)
}
