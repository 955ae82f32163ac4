package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/ledger"
	"github.com/milanjovanovic/solana-chat/pkg/runtime"
)

// Client is a JSON-RPC client for the chat node's API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint URL.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// rpcRequest is the wire form of one outgoing call.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse is the wire form of one incoming response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call makes a JSON-RPC call and unmarshals the result.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	req := rpcRequest{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// GetSlot fetches the current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetHealth reports whether the node considers itself healthy.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("node health: %s", status)
	}
	return nil
}

// GetVersion fetches the node version strings.
func (c *Client) GetVersion(ctx context.Context) (*VersionResult, error) {
	var version VersionResult
	if err := c.call(ctx, "getVersion", nil, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// GetBalance fetches the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey types.Pubkey) (uint64, error) {
	var resp struct {
		Context Context `json:"context"`
		Value   uint64  `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{pubkey.String()}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// GetAccountInfo fetches an account. Returns ledger.ErrAccountNotFound when
// the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey types.Pubkey) (*ledger.Account, error) {
	params := []interface{}{
		pubkey.String(),
		map[string]interface{}{"encoding": "base64"},
	}

	var resp struct {
		Context Context `json:"context"`
		Value   *struct {
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
			RentEpoch  uint64   `json:"rentEpoch"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &resp); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, ledger.ErrAccountNotFound
	}

	owner, err := types.PubkeyFromBase58(resp.Value.Owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner in response: %w", err)
	}

	var data []byte
	if len(resp.Value.Data) >= 1 {
		encoding := EncodingBase64
		if len(resp.Value.Data) >= 2 {
			encoding = ParseEncoding(resp.Value.Data[1])
		}
		data, err = DecodeAccountData(resp.Value.Data[0], encoding)
		if err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
	}

	return &ledger.Account{
		Lamports:   resp.Value.Lamports,
		Data:       data,
		Owner:      owner,
		Executable: resp.Value.Executable,
		RentEpoch:  resp.Value.RentEpoch,
	}, nil
}

// GetMinimumBalanceForRentExemption fetches the rent-exempt minimum for an
// account of the given size.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (uint64, error) {
	var lamports uint64
	if err := c.call(ctx, "getMinimumBalanceForRentExemption", []interface{}{dataLen}, &lamports); err != nil {
		return 0, err
	}
	return lamports, nil
}

// GetLatestBlockhash fetches the blockhash new transactions should carry.
func (c *Client) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	var resp struct {
		Context Context               `json:"context"`
		Value   LatestBlockhashResult `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &resp); err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBase58(resp.Value.Blockhash)
}

// SendTransaction serializes and submits a transaction, returning its
// signature.
func (c *Client) SendTransaction(ctx context.Context, tx *runtime.Transaction) (types.Signature, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return types.Signature{}, err
	}

	params := []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{"encoding": "base64"},
	}

	var sigStr string
	if err := c.call(ctx, "sendTransaction", params, &sigStr); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sigStr)
}

// GetTransaction fetches the journaled record for a signature.
func (c *Client) GetTransaction(ctx context.Context, signature types.Signature) (*TransactionStatusResult, error) {
	var status TransactionStatusResult
	if err := c.call(ctx, "getTransaction", []interface{}{signature.String()}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetSignaturesForAddress fetches up to limit signatures that touched an
// address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address types.Pubkey, limit int) ([]SignatureInfo, error) {
	params := []interface{}{address.String()}
	if limit > 0 {
		params = append(params, map[string]interface{}{"limit": limit})
	}

	var infos []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", params, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// RequestAirdrop credits lamports to an account on a local cluster.
func (c *Client) RequestAirdrop(ctx context.Context, pubkey types.Pubkey, lamports uint64) (types.Signature, error) {
	var sigStr string
	if err := c.call(ctx, "requestAirdrop", []interface{}{pubkey.String(), lamports}, &sigStr); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sigStr)
}
