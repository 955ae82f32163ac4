package rpc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/ledger"
	"github.com/milanjovanovic/solana-chat/pkg/runtime"
	"github.com/milanjovanovic/solana-chat/pkg/txstore"
)

// parseParams unmarshals the positional parameter array.
func parseParams(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(params) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("params must be an array")
	}
	return args, nil
}

// parsePubkeyParam decodes a base58 pubkey from the given positional argument.
func parsePubkeyParam(args []json.RawMessage, index int) (types.Pubkey, *RPCError) {
	if len(args) <= index {
		return types.Pubkey{}, InvalidParamsError("missing pubkey parameter")
	}
	var s string
	if err := json.Unmarshal(args[index], &s); err != nil {
		return types.Pubkey{}, InvalidParamsError("pubkey must be a string")
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid pubkey: %v", err)
	}
	return pubkey, nil
}

// getAccountInfo returns the full account for a pubkey, or null when the
// account does not exist.
func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyParam(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	encoding := EncodingBase64
	if len(args) > 1 {
		var cfg AccountInfoConfig
		if err := json.Unmarshal(args[1], &cfg); err == nil && cfg.Encoding != "" {
			encoding = cfg.Encoding
		}
	}

	ctx := Context{Slot: s.executor.Slot()}

	account, err := s.db.GetAccount(pubkey)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return ResponseWithContext{Context: ctx, Value: nil}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load account: %v", err)
	}

	data, err := EncodeAccountData(account.Data, encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode account data: %v", err)
	}

	return ResponseWithContext{
		Context: ctx,
		Value: AccountInfoResult{
			Lamports:   account.Lamports,
			Owner:      account.Owner.String(),
			Data:       data,
			Executable: account.Executable,
			RentEpoch:  account.RentEpoch,
		},
	}, nil
}

// getBalance returns the lamport balance of an account (zero when missing).
func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyParam(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	ctx := Context{Slot: s.executor.Slot()}

	account, err := s.db.GetAccount(pubkey)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return ResponseWithContext{Context: ctx, Value: uint64(0)}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load account: %v", err)
	}

	return ResponseWithContext{Context: ctx, Value: account.Lamports}, nil
}

// getMinimumBalanceForRentExemption returns the rent-exempt minimum for the
// given data length.
func (s *Server) getMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing data length parameter")
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	return ledger.RentMinimum(dataLen), nil
}

// getSlot returns the current slot.
func (s *Server) getSlot(params json.RawMessage) (interface{}, *RPCError) {
	return s.executor.Slot(), nil
}

// getHealth returns "ok" or an unhealthy error.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version strings.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionResult{
		SolanaCore:  SolanaCore,
		ChatProgram: ChatProgramVersion,
	}, nil
}

// getLatestBlockhash returns the blockhash transactions should carry.
func (s *Server) getLatestBlockhash(params json.RawMessage) (interface{}, *RPCError) {
	slot := s.executor.Slot()
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: LatestBlockhashResult{
			Blockhash:            s.executor.RecentBlockhash().String(),
			LastValidBlockHeight: slot + 150,
		},
	}, nil
}

// sendTransaction decodes a serialized transaction, executes it and journals
// the result. The signature is returned even when a program rejected the
// transaction; clients learn the outcome from getTransaction.
func (s *Server) sendTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing transaction parameter")
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("transaction must be a string")
	}

	encoding := EncodingBase64
	if len(args) > 1 {
		var cfg struct {
			Encoding string `json:"encoding"`
		}
		if err := json.Unmarshal(args[1], &cfg); err == nil && cfg.Encoding != "" {
			encoding = ParseEncoding(cfg.Encoding)
		}
	}

	raw, err := DecodeAccountData(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction encoding: %v", err)
	}

	tx, err := runtime.DecodeTransaction(raw)
	if err != nil {
		return nil, PreflightFailureError(err.Error())
	}

	result, err := s.executor.Execute(tx)
	if errors.Is(err, runtime.ErrSignatureVerification) {
		return nil, SignatureVerificationError()
	}
	if err != nil {
		return nil, PreflightFailureError(err.Error())
	}

	record := &txstore.TxRecord{
		Signature: result.Signature,
		Slot:      result.Slot,
		BlockTime: time.Now().Unix(),
		FeePayer:  result.FeePayer,
		Logs:      result.Logs,
	}
	if result.ProgramErr != nil {
		record.Err = result.ProgramErr.Error()
	}

	addresses := make([]types.Pubkey, 0, len(tx.Message.Accounts))
	for i := range tx.Message.Accounts {
		addresses = append(addresses, tx.Message.Accounts[i].Pubkey)
	}
	if err := s.txs.Put(record, addresses); err != nil {
		return nil, InternalServerErrorf("failed to journal transaction: %v", err)
	}

	return result.Signature.String(), nil
}

// getTransaction returns the journaled record for a signature.
func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing signature parameter")
	}
	var sigStr string
	if err := json.Unmarshal(args[0], &sigStr); err != nil {
		return nil, InvalidParamsError("signature must be a string")
	}
	signature, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid signature: %v", err)
	}

	record, err := s.txs.Get(signature)
	if errors.Is(err, txstore.ErrTransactionNotFound) {
		return nil, TransactionNotFoundError()
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load transaction: %v", err)
	}

	return recordToStatus(record), nil
}

// getSignaturesForAddress returns journaled signatures that touched an
// address, newest first.
func (s *Server) getSignaturesForAddress(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyParam(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	limit := 1000
	if len(args) > 1 {
		var cfg struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(args[1], &cfg); err == nil && cfg.Limit > 0 {
			limit = cfg.Limit
		}
	}

	signatures, err := s.txs.SignaturesForAddress(pubkey, limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to scan signatures: %v", err)
	}

	infos := make([]SignatureInfo, 0, len(signatures))
	for _, sig := range signatures {
		record, err := s.txs.Get(sig)
		if err != nil {
			continue
		}
		info := SignatureInfo{
			Signature: sig.String(),
			Slot:      record.Slot,
		}
		if !record.Succeeded() {
			errStr := record.Err
			info.Err = &errStr
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// requestAirdrop credits lamports to an account. Local-cluster faucet.
func (s *Server) requestAirdrop(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyParam(args, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 2 {
		return nil, InvalidParamsError("missing lamports parameter")
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil {
		return nil, InvalidParamsError("invalid lamports")
	}

	slot, err := s.executor.Airdrop(pubkey, lamports)
	if err != nil {
		return nil, InternalServerErrorf("airdrop failed: %v", err)
	}

	return airdropSignature(pubkey, lamports, slot).String(), nil
}

// airdropSignature derives a deterministic synthetic signature for an
// airdrop, since no signed transaction exists for it.
func airdropSignature(pubkey types.Pubkey, lamports, slot uint64) types.Signature {
	var buf [types.PubkeySize + 16]byte
	copy(buf[:], pubkey[:])
	binary.LittleEndian.PutUint64(buf[types.PubkeySize:], lamports)
	binary.LittleEndian.PutUint64(buf[types.PubkeySize+8:], slot)

	first := types.ComputeHash(buf[:])
	second := types.ComputeHash(first[:])

	var sig types.Signature
	copy(sig[:types.HashSize], first[:])
	copy(sig[types.HashSize:], second[:])
	return sig
}

// recordToStatus converts a journal record to its RPC form.
func recordToStatus(record *txstore.TxRecord) TransactionStatusResult {
	status := TransactionStatusResult{
		Signature: record.Signature.String(),
		Slot:      record.Slot,
		BlockTime: record.BlockTime,
		FeePayer:  record.FeePayer.String(),
		Logs:      record.Logs,
	}
	if !record.Succeeded() {
		errStr := record.Err
		status.Err = &errStr
	}
	return status
}
