package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/runeswap/runeswap-api/internal/types"
)

// NativeLedgerClient submits transfers on the native ledger substrate.
type NativeLedgerClient interface {
	// Transfer moves amount from the custody subaccount to the
	// destination account identifier and returns the ledger txid.
	Transfer(ctx context.Context, fromSubaccount []byte, destination string, amount uint64) (uint64, error)
}

// Outpoint names one transaction output.
type Outpoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// BitcoinTransfer describes an outbound transfer for the bitcoin
// substrate. Rune-aware transfers set RuneId/RuneAmount and carry runic
// inputs alongside the fee-funding bitcoin inputs.
type BitcoinTransfer struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	Amount      uint64        `json:"amount"`
	FeePerVByte uint64        `json:"fee_per_vbyte"`
	Inputs      []Outpoint    `json:"inputs"`
	RuneId      *types.RuneId `json:"rune_id,omitempty"`
	RuneAmount  uint64        `json:"rune_amount,omitempty"`
	Divisibility uint8        `json:"divisibility,omitempty"`
}

// BitcoinClient constructs, signs and broadcasts bitcoin transactions
// through the chain-access service. Transaction construction itself is
// the collaborator's job; this core only selects inputs and records
// outcomes.
type BitcoinClient interface {
	// ListUTXOs returns the confirmed unspent outputs of an address.
	ListUTXOs(ctx context.Context, address string) ([]ChainUTXO, error)
	// FeePerVByte returns the current fee estimate.
	FeePerVByte(ctx context.Context) (uint64, error)
	// Submit constructs and broadcasts the transfer. The txid is the
	// hash of the constructed transaction and is known before the
	// broadcast, so Submit may return a non-empty txid together with an
	// error when the broadcast outcome is ambiguous.
	Submit(ctx context.Context, transfer BitcoinTransfer) (string, error)
	// OutPointSpent reports whether an outpoint has been consumed
	// on-chain, the reconciliation probe for ambiguous submissions.
	OutPointSpent(ctx context.Context, txid string, vout uint32) (bool, error)
}

// ChainUTXO is an unspent output as reported by the chain-access service.
type ChainUTXO struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Height uint64 `json:"height"`
}

// HTTPNativeLedger is the HTTP implementation of NativeLedgerClient.
type HTTPNativeLedger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPNativeLedger(baseURL string) *HTTPNativeLedger {
	return &HTTPNativeLedger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPNativeLedger) Transfer(ctx context.Context, fromSubaccount []byte, destination string, amount uint64) (uint64, error) {
	var result struct {
		Txid uint64 `json:"txid"`
	}
	err := postJSON(ctx, c.client, c.baseURL+"/transfer", "native_transfer", map[string]interface{}{
		"from_subaccount": fromSubaccount,
		"to":              destination,
		"amount":          amount,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.Txid, nil
}

// HTTPBitcoinClient is the HTTP implementation of BitcoinClient.
type HTTPBitcoinClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBitcoinClient(baseURL string) *HTTPBitcoinClient {
	return &HTTPBitcoinClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPBitcoinClient) ListUTXOs(ctx context.Context, address string) ([]ChainUTXO, error) {
	var utxos []ChainUTXO
	err := getJSON(ctx, c.client, fmt.Sprintf("%s/utxos/%s", c.baseURL, address), "list_utxos", &utxos)
	if err != nil {
		return nil, err
	}
	return utxos, nil
}

func (c *HTTPBitcoinClient) FeePerVByte(ctx context.Context) (uint64, error) {
	var result struct {
		FeePerVByte uint64 `json:"fee_per_vbyte"`
	}
	if err := getJSON(ctx, c.client, c.baseURL+"/fees", "fee_per_vbyte", &result); err != nil {
		return 0, err
	}
	return result.FeePerVByte, nil
}

func (c *HTTPBitcoinClient) Submit(ctx context.Context, transfer BitcoinTransfer) (string, error) {
	var result struct {
		Txid string `json:"txid"`
	}
	err := postJSON(ctx, c.client, c.baseURL+"/transactions", "submit_transaction", transfer, &result)
	if err != nil {
		return result.Txid, err
	}
	return result.Txid, nil
}

func (c *HTTPBitcoinClient) OutPointSpent(ctx context.Context, txid string, vout uint32) (bool, error) {
	var result struct {
		Spent bool `json:"spent"`
	}
	err := getJSON(ctx, c.client, fmt.Sprintf("%s/outpoints/%s/%d", c.baseURL, txid, vout), "outpoint_spent", &result)
	if err != nil {
		return false, err
	}
	return result.Spent, nil
}

func postJSON(ctx context.Context, client *http.Client, url, op string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &types.RpcError{Kind: types.RpcDecode, Op: op, Endpoint: url, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &types.RpcError{Kind: types.RpcIo, Op: op, Endpoint: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req, op, out)
}

func getJSON(ctx context.Context, client *http.Client, url, op string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &types.RpcError{Kind: types.RpcIo, Op: op, Endpoint: url, Err: err}
	}
	return doJSON(client, req, op, out)
}

func doJSON(client *http.Client, req *http.Request, op string, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return &types.RpcError{Kind: types.RpcIo, Op: op, Endpoint: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &types.RpcError{
			Kind: types.RpcEndpoint, Op: op, Endpoint: req.URL.String(),
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.RpcError{Kind: types.RpcDecode, Op: op, Endpoint: req.URL.String(), Err: err}
	}
	return nil
}
