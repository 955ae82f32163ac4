// Package rpc provides the JSON-RPC 2.0 API of the chat node.
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with slot context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// AccountInfoConfig holds optional getAccountInfo parameters.
type AccountInfoConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// AccountInfoResult is the value returned by getAccountInfo.
type AccountInfoResult struct {
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	Data       interface{} `json:"data"`
	Executable bool        `json:"executable"`
	RentEpoch  uint64      `json:"rentEpoch"`
}

// LatestBlockhashResult is the value returned by getLatestBlockhash.
type LatestBlockhashResult struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// TransactionStatusResult is the value returned by getTransaction.
type TransactionStatusResult struct {
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	BlockTime int64    `json:"blockTime"`
	FeePayer  string   `json:"feePayer"`
	Err       *string  `json:"err"`
	Logs      []string `json:"logMessages"`
}

// SignatureInfo is one entry returned by getSignaturesForAddress.
type SignatureInfo struct {
	Signature string  `json:"signature"`
	Slot      uint64  `json:"slot"`
	Err       *string `json:"err"`
}

// VersionResult is the value returned by getVersion.
type VersionResult struct {
	SolanaCore  string `json:"solana-core"`
	ChatProgram string `json:"chatProgram"`
}
