package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/chat"
	"github.com/milanjovanovic/solana-chat/pkg/ledger"
	"github.com/milanjovanovic/solana-chat/pkg/program/system"
	"github.com/milanjovanovic/solana-chat/pkg/runtime"
	"github.com/milanjovanovic/solana-chat/pkg/txstore"
)

// testNode bundles a server with a client pointed at it over httptest.
type testNode struct {
	server   *Server
	client   *Client
	executor *runtime.Executor
	db       ledger.DB
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	db := ledger.NewMemoryDB()
	t.Cleanup(func() { db.Close() })

	txs, err := txstore.Open(txstore.Config{
		Path:   filepath.Join(t.TempDir(), "txstore.db"),
		NoSync: true,
	})
	if err != nil {
		t.Fatalf("open txstore: %v", err)
	}
	t.Cleanup(func() { txs.Close() })

	executor := runtime.New(db, runtime.DefaultConfig())
	server := New(DefaultConfig(), db, executor, txs)

	httpServer := httptest.NewServer(http.HandlerFunc(server.handleRPC))
	t.Cleanup(httpServer.Close)

	return &testNode{
		server:   server,
		client:   NewClient(httpServer.URL, 5*time.Second),
		executor: executor,
		db:       db,
	}
}

func fundedUser(t *testing.T, n *testNode) *types.Keypair {
	t.Helper()
	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}
	if _, err := n.client.RequestAirdrop(context.Background(),
		kp.Pubkey(), 10*ledger.RentMinimum(chat.AccountSize)); err != nil {
		t.Fatalf("RequestAirdrop failed: %v", err)
	}
	return kp
}

func TestGetVersionAndHealth(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	version, err := n.client.GetVersion(ctx)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if version.SolanaCore != SolanaCore || version.ChatProgram != ChatProgramVersion {
		t.Errorf("version = %+v", version)
	}

	if err := n.client.GetHealth(ctx); err != nil {
		t.Errorf("GetHealth failed: %v", err)
	}

	n.server.SetHealthy(false)
	err = n.client.GetHealth(ctx)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != NodeUnhealthy {
		t.Errorf("unhealthy node: got %v, want code %d", err, NodeUnhealthy)
	}
}

func TestGetSlotAndBlockhash(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	slot, err := n.client.GetSlot(ctx)
	if err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	if slot != 0 {
		t.Errorf("initial slot = %d, want 0", slot)
	}

	blockhash, err := n.client.GetLatestBlockhash(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlockhash failed: %v", err)
	}
	if blockhash != n.executor.RecentBlockhash() {
		t.Error("client blockhash differs from executor's")
	}
}

func TestAirdropAndBalance(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	pk := types.ComputeHash([]byte("wallet"))
	pubkey, _ := types.PubkeyFromBytes(pk[:])

	balance, err := n.client.GetBalance(ctx, pubkey)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance of missing account = %d, want 0", balance)
	}

	sig, err := n.client.RequestAirdrop(ctx, pubkey, 5000)
	if err != nil {
		t.Fatalf("RequestAirdrop failed: %v", err)
	}
	if sig.IsZero() {
		t.Error("airdrop returned a zero signature")
	}

	balance, err = n.client.GetBalance(ctx, pubkey)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 5000 {
		t.Errorf("balance = %d, want 5000", balance)
	}
}

func TestGetAccountInfo(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	pubkey := types.MustPubkeyFromBase58("11111111111111111111111111111112")

	if _, err := n.client.GetAccountInfo(ctx, pubkey); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want ErrAccountNotFound", err)
	}

	ownerHash := types.ComputeHash([]byte("owner"))
	owner, _ := types.PubkeyFromBytes(ownerHash[:])
	stored := &ledger.Account{
		Lamports: 777,
		Data:     []byte{1, 2, 3, 4},
		Owner:    owner,
	}
	if err := n.db.SetAccount(pubkey, stored); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}

	account, err := n.client.GetAccountInfo(ctx, pubkey)
	if err != nil {
		t.Fatalf("GetAccountInfo failed: %v", err)
	}
	if account.Lamports != 777 || !bytes.Equal(account.Data, stored.Data) || account.Owner != stored.Owner {
		t.Errorf("account = %+v", account)
	}
}

func TestGetMinimumBalanceForRentExemption(t *testing.T) {
	n := newTestNode(t)

	lamports, err := n.client.GetMinimumBalanceForRentExemption(context.Background(), chat.AccountSize)
	if err != nil {
		t.Fatalf("GetMinimumBalanceForRentExemption failed: %v", err)
	}
	if want := ledger.RentMinimum(chat.AccountSize); lamports != want {
		t.Errorf("got %d, want %d", lamports, want)
	}
}

func TestSendTransactionFlow(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	user := fundedUser(t, n)

	chatAccount := chat.DeriveAccount(user.Pubkey(), n.executor.ChatProgramID())
	openIn := chat.OpenAccount(chat.NewAccountMetadata("alice"))
	openData, err := openIn.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	sendIn := chat.SendMessages(chat.NewMessage(user.Pubkey(), "hi"))
	sendData, err := sendIn.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	blockhash, err := n.client.GetLatestBlockhash(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlockhash failed: %v", err)
	}

	tx, err := runtime.NewTransaction(blockhash, []runtime.Instruction{
		{
			ProgramID: types.SystemProgramAddr,
			Accounts: []runtime.AccountMeta{
				{Pubkey: user.Pubkey(), IsSigner: true, IsWritable: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: system.EncodeCreateAccountWithSeed(system.CreateAccountWithSeedParams{
				Base:     user.Pubkey(),
				Seed:     chat.Seed,
				Lamports: ledger.RentMinimum(chat.AccountSize),
				Space:    chat.AccountSize,
				Owner:    n.executor.ChatProgramID(),
			}),
		},
		{
			ProgramID: n.executor.ChatProgramID(),
			Accounts: []runtime.AccountMeta{
				{Pubkey: user.Pubkey(), IsSigner: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: openData,
		},
		{
			ProgramID: n.executor.ChatProgramID(),
			Accounts: []runtime.AccountMeta{
				{Pubkey: user.Pubkey(), IsSigner: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: sendData,
		},
	}, user)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	sig, err := n.client.SendTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}

	status, err := n.client.GetTransaction(ctx, sig)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if status.Err != nil {
		t.Fatalf("transaction failed: %s (logs: %v)", *status.Err, status.Logs)
	}
	if len(status.Logs) == 0 {
		t.Error("no program logs journaled")
	}

	account, err := n.client.GetAccountInfo(ctx, chatAccount)
	if err != nil {
		t.Fatalf("GetAccountInfo failed: %v", err)
	}
	md, messages, err := chat.DecodeAccountData(account.Data)
	if err != nil {
		t.Fatalf("DecodeAccountData failed: %v", err)
	}
	if md.AccountName != "alice" || len(messages) != 1 || messages[0].Msg != "hi" {
		t.Errorf("md = %+v, messages = %+v", md, messages)
	}

	infos, err := n.client.GetSignaturesForAddress(ctx, chatAccount, 10)
	if err != nil {
		t.Fatalf("GetSignaturesForAddress failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Signature != sig.String() {
		t.Errorf("infos = %+v", infos)
	}
}

func TestSendTransactionRejectsGarbage(t *testing.T) {
	n := newTestNode(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["!!!not-base64!!!"]}`
	resp := postRPC(t, n, body)
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("error = %+v, want InvalidParams", resp.Error)
	}
}

func TestSendTransactionPreflightFailure(t *testing.T) {
	n := newTestNode(t)

	// Valid base64, but not a decodable transaction.
	body := `{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["AAECAw==",{"encoding":"base64"}]}`
	resp := postRPC(t, n, body)
	if resp.Error == nil || resp.Error.Code != SendTransactionPreflightFailure {
		t.Errorf("error = %+v, want preflight failure", resp.Error)
	}
}

func TestSendTransactionBadSignature(t *testing.T) {
	n := newTestNode(t)
	user := fundedUser(t, n)

	tx, err := runtime.NewTransaction(types.Hash{}, []runtime.Instruction{
		{ProgramID: n.executor.ChatProgramID(), Data: []byte{0}},
	}, user)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	tx.Signature[0] ^= 1

	_, err = n.client.SendTransaction(context.Background(), tx)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != TransactionSignatureVerificationFailure {
		t.Errorf("got %v, want signature verification failure", err)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	n := newTestNode(t)

	var sig types.Signature
	sig[0] = 1
	_, err := n.client.GetTransaction(context.Background(), sig)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != TransactionHistoryNotAvailable {
		t.Errorf("got %v, want history-not-available", err)
	}
}

// postRPC posts a raw request body and decodes the envelope.
func postRPC(t *testing.T, n *testNode, body string) *Response {
	t.Helper()

	httpServer := httptest.NewServer(http.HandlerFunc(n.server.handleRPC))
	defer httpServer.Close()

	resp, err := http.Post(httpServer.URL, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &decoded
}

func TestMalformedRequests(t *testing.T) {
	n := newTestNode(t)

	t.Run("parse error", func(t *testing.T) {
		resp := postRPC(t, n, "{not json")
		if resp.Error == nil || resp.Error.Code != ParseError {
			t.Errorf("error = %+v, want ParseError", resp.Error)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		resp := postRPC(t, n, `{"jsonrpc":"1.0","id":1,"method":"getSlot"}`)
		if resp.Error == nil || resp.Error.Code != InvalidRequest {
			t.Errorf("error = %+v, want InvalidRequest", resp.Error)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := postRPC(t, n, `{"jsonrpc":"2.0","id":1,"method":"noSuchMethod"}`)
		if resp.Error == nil || resp.Error.Code != MethodNotFound {
			t.Errorf("error = %+v, want MethodNotFound", resp.Error)
		}
	})

	t.Run("bad pubkey param", func(t *testing.T) {
		resp := postRPC(t, n, `{"jsonrpc":"2.0","id":1,"method":"getBalance","params":["bogus"]}`)
		if resp.Error == nil || resp.Error.Code != InvalidParams {
			t.Errorf("error = %+v, want InvalidParams", resp.Error)
		}
	})
}

func TestBatchRequest(t *testing.T) {
	n := newTestNode(t)

	httpServer := httptest.NewServer(http.HandlerFunc(n.server.handleRPC))
	defer httpServer.Close()

	body := `[{"jsonrpc":"2.0","id":1,"method":"getSlot"},{"jsonrpc":"2.0","id":2,"method":"getHealth"}]`
	resp, err := http.Post(httpServer.URL, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var responses []Response
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		t.Fatalf("decode batch response: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	for i, r := range responses {
		if r.Error != nil {
			t.Errorf("response %d errored: %+v", i, r.Error)
		}
	}
}
