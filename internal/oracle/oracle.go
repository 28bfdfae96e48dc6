// Package oracle is the read-only client to the external rune/height
// indexer. The core treats it as cacheable-with-invalidation and must
// tolerate it lagging the chain tip; confirmation-depth checks exist
// precisely because of that lag.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/runeswap/runeswap-api/internal/types"
)

// RuneEntry is the indexed metadata of a rune issuance.
type RuneEntry struct {
	RuneId       types.RuneId `json:"rune_id"`
	Divisibility uint8        `json:"divisibility"`
	Symbol       string       `json:"symbol"`
	SpacedRune   string       `json:"spaced_rune"`
}

// RuneBalance is a rune amount attached to a UTXO.
type RuneBalance struct {
	RuneId  types.RuneId `json:"rune_id"`
	Balance uint64       `json:"balance"`
}

// Height is the indexer's current chain view.
type Height struct {
	Height    uint64 `json:"height"`
	BlockHash string `json:"block_hash"`
}

// Client is the collaborator interface the engine consumes. All methods
// are read-only; a failed read is returned as an error, never as a zero
// value.
type Client interface {
	GetRuneEntry(ctx context.Context, id types.RuneId) (*RuneEntry, error)
	GetHeight(ctx context.Context) (*Height, error)
	GetRunesByUTXO(ctx context.Context, txid string, vout uint32) ([]RuneBalance, error)
}

// HTTPClient talks to the indexer over HTTP and caches rune entries in a
// constructor-injected expirable LRU. Rune metadata is immutable once
// etched, so a TTL cache only exists to bound staleness of late updates.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	entries *expirable.LRU[types.RuneId, *RuneEntry]
}

// NewHTTPClient builds a client for the indexer at baseURL. cacheSize and
// cacheTTL size the rune-entry cache; a zero size disables caching.
func NewHTTPClient(baseURL string, cacheSize int, cacheTTL time.Duration) *HTTPClient {
	var cache *expirable.LRU[types.RuneId, *RuneEntry]
	if cacheSize > 0 {
		cache = expirable.NewLRU[types.RuneId, *RuneEntry](cacheSize, nil, cacheTTL)
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		entries: cache,
	}
}

func (c *HTTPClient) GetRuneEntry(ctx context.Context, id types.RuneId) (*RuneEntry, error) {
	if c.entries != nil {
		if entry, ok := c.entries.Get(id); ok {
			return entry, nil
		}
	}

	endpoint := fmt.Sprintf("/runes/%d/%d", id.Block, id.Tx)
	var entry RuneEntry
	found, err := c.get(ctx, "get_rune_entry", endpoint, &entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	if c.entries != nil {
		c.entries.Add(id, &entry)
	}
	return &entry, nil
}

func (c *HTTPClient) GetHeight(ctx context.Context) (*Height, error) {
	var height Height
	found, err := c.get(ctx, "get_height", "/height", &height)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &types.RpcError{
			Kind: RpcKindEndpoint, Op: "get_height", Endpoint: c.baseURL,
			Err: fmt.Errorf("indexer has no chain view"),
		}
	}
	return &height, nil
}

func (c *HTTPClient) GetRunesByUTXO(ctx context.Context, txid string, vout uint32) ([]RuneBalance, error) {
	endpoint := fmt.Sprintf("/utxos/%s/%d/runes", url.PathEscape(txid), vout)
	var balances []RuneBalance
	found, err := c.get(ctx, "get_runes_by_utxo", endpoint, &balances)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.ErrOutPointNotFound
	}
	return balances, nil
}

// Invalidate drops a cached rune entry, forcing the next read through to
// the indexer.
func (c *HTTPClient) Invalidate(id types.RuneId) {
	if c.entries != nil {
		c.entries.Remove(id)
	}
}

// Shorthand for the error kinds so call sites read cleanly.
const (
	RpcKindIo       = types.RpcIo
	RpcKindEndpoint = types.RpcEndpoint
	RpcKindDecode   = types.RpcDecode
)

// get performs a GET and decodes the body into out. It reports found=false
// on 404 so callers can distinguish "not indexed" from transport failure.
func (c *HTTPClient) get(ctx context.Context, op, endpoint string, out interface{}) (bool, error) {
	u := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, &types.RpcError{Kind: RpcKindIo, Op: op, Endpoint: u, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, &types.RpcError{Kind: RpcKindIo, Op: op, Endpoint: u, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		log.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("oracle returned non-200")
		return false, &types.RpcError{
			Kind: RpcKindEndpoint, Op: op, Endpoint: u,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, &types.RpcError{Kind: RpcKindDecode, Op: op, Endpoint: u, Err: err}
	}
	return true, nil
}
