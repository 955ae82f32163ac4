// Package node provides the orchestrator for a chat node.
//
// The Node ties together all components:
// - Ledger for persistent account state
// - Executor for transaction processing
// - Txstore for the transaction journal
// - RPC server for the JSON-RPC API
// - Feed server for streaming stored messages to subscribers
//
// The node manages the lifecycle of these components and provides APIs for
// monitoring state and health.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/feed"
	"github.com/milanjovanovic/solana-chat/pkg/ledger"
	"github.com/milanjovanovic/solana-chat/pkg/rpc"
	"github.com/milanjovanovic/solana-chat/pkg/runtime"
	"github.com/milanjovanovic/solana-chat/pkg/txstore"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data. Subdirectories are
	// created for the ledger and the transaction journal.
	DataDir string

	// InMemory keeps all state in memory. Useful for tests and throwaway
	// local clusters; DataDir is ignored.
	InMemory bool

	// ChatProgramID overrides the default chat program address.
	ChatProgramID types.Pubkey

	// RPCAddr is the listen address for the JSON-RPC server (default ":8899").
	RPCAddr string

	// RPCLogRequests enables logging of RPC requests.
	RPCLogRequests bool

	// FeedEnabled enables the gRPC message feed.
	FeedEnabled bool

	// FeedAddr is the listen address for the feed server (default ":10799").
	FeedAddr string

	// OnError is called when a background component fails.
	OnError func(err error)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:     "./data",
		RPCAddr:     ":8899",
		FeedEnabled: true,
		FeedAddr:    ":10799",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.RPCAddr == "" {
		return fmt.Errorf("%w: RPC address is required", ErrConfigInvalid)
	}
	if c.FeedEnabled && c.FeedAddr == "" {
		return fmt.Errorf("%w: feed address is required", ErrConfigInvalid)
	}
	return nil
}

// Node is a complete chat node.
type Node struct {
	config Config

	// Core components
	db         ledger.DB
	txs        *txstore.Store
	executor   *runtime.Executor
	rpcServer  *rpc.Server
	feedServer *feed.Server

	// State management
	running     atomic.Bool
	startTime   time.Time
	lastError   error
	lastErrorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new chat node with the given configuration. The node is not
// started until Start is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}

	if config.DataDir == "" && !config.InMemory {
		config.DataDir = DefaultConfig().DataDir
	}
	if config.RPCAddr == "" {
		config.RPCAddr = DefaultConfig().RPCAddr
	}
	if config.FeedEnabled && config.FeedAddr == "" {
		config.FeedAddr = DefaultConfig().FeedAddr
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{config: *config}, nil
}

// Start initializes all components and begins serving. It returns once the
// servers are launched; use Stop to shut down.
func (n *Node) Start(ctx context.Context) error {
	if n.running.Load() {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()
	n.running.Store(true)

	if err := n.initialize(); err != nil {
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	// RPC server
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.rpcServer.Start(n.ctx); err != nil {
			n.setLastError(fmt.Errorf("RPC server error: %w", err))
			if n.config.OnError != nil {
				n.config.OnError(err)
			}
		}
	}()

	// Feed server
	if n.feedServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.feedServer.Start(); err != nil {
				n.setLastError(fmt.Errorf("feed server error: %w", err))
				if n.config.OnError != nil {
					n.config.OnError(err)
				}
			}
		}()
	}

	return nil
}

// initialize sets up storage and wires the components together.
func (n *Node) initialize() error {
	// Storage
	if n.config.InMemory {
		n.db = ledger.NewMemoryDB()

		txsPath := filepath.Join(os.TempDir(),
			fmt.Sprintf("chat-txstore-%d.db", time.Now().UnixNano()))
		txs, err := txstore.Open(txstore.Config{Path: txsPath, NoSync: true})
		if err != nil {
			return fmt.Errorf("open txstore: %w", err)
		}
		n.txs = txs
	} else {
		if err := os.MkdirAll(n.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}

		ledgerPath := filepath.Join(n.config.DataDir, "ledger")
		db, err := ledger.NewBadgerDB(ledger.DefaultBadgerDBConfig(ledgerPath))
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		n.db = db

		txsPath := filepath.Join(n.config.DataDir, "txstore.db")
		txs, err := txstore.Open(txstore.Config{Path: txsPath})
		if err != nil {
			db.Close()
			return fmt.Errorf("open txstore: %w", err)
		}
		n.txs = txs
	}

	// Executor
	execConfig := runtime.DefaultConfig()
	if !n.config.ChatProgramID.IsZero() {
		execConfig.ChatProgramID = n.config.ChatProgramID
	}
	n.executor = runtime.New(n.db, execConfig)

	// Feed server, fed by the executor's stored-message callback
	if n.config.FeedEnabled {
		feedConfig := feed.DefaultServerConfig()
		feedConfig.Addr = n.config.FeedAddr
		n.feedServer = feed.NewServer(feedConfig)

		n.executor.OnMessages = func(stored runtime.StoredMessages) {
			n.feedServer.Publish(&feed.Update{
				Slot:     stored.Slot,
				Account:  stored.Account,
				Messages: stored.Messages,
			})
		}
	}

	// RPC server
	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = n.config.RPCAddr
	rpcConfig.LogRequests = n.config.RPCLogRequests
	n.rpcServer = rpc.New(rpcConfig, n.db, n.executor, n.txs)

	return nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	if n.cancel != nil {
		n.cancel()
	}
	if n.feedServer != nil {
		n.feedServer.Stop()
	}
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}

	n.wg.Wait()

	if n.txs != nil {
		n.txs.Close()
	}
	if n.db != nil {
		n.db.Commit()
		n.db.Close()
	}

	n.running.Store(false)
	return nil
}

// Executor exposes the transaction executor, mainly for tests.
func (n *Node) Executor() *runtime.Executor {
	return n.executor
}

// ChatProgramID returns the address the chat program is registered under.
func (n *Node) ChatProgramID() types.Pubkey {
	return n.executor.ChatProgramID()
}

// Status contains the current node status.
type Status struct {
	// Slot is the current slot.
	Slot uint64

	// AccountsCount is the total number of accounts in the ledger.
	AccountsCount uint64

	// TransactionsCount is the total number of journaled transactions.
	TransactionsCount uint64

	// AccountsHash is the digest over the entire account state.
	AccountsHash types.Hash

	// Subscribers is the number of active feed streams.
	Subscribers int

	// IsRunning indicates if the node is running.
	IsRunning bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// LastError is the most recent error encountered.
	LastError error
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	status := &Status{
		IsRunning: n.running.Load(),
		Uptime:    time.Since(n.startTime),
		LastError: n.getLastError(),
	}

	if n.db != nil {
		status.Slot = n.db.GetSlot()
		status.AccountsCount, _ = n.db.AccountsCount()
		status.AccountsHash, _ = ledger.ComputeAccountsHash(n.db)
	}
	if n.txs != nil {
		status.TransactionsCount, _ = n.txs.Count()
	}
	if n.feedServer != nil {
		status.Subscribers = n.feedServer.SubscriberCount()
	}

	return status
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}
