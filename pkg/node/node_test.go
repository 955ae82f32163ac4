package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	cfg = DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("missing data dir: got %v, want ErrConfigInvalid", err)
	}

	cfg = DefaultConfig()
	cfg.DataDir = ""
	cfg.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("in-memory without data dir: %v", err)
	}

	cfg = DefaultConfig()
	cfg.RPCAddr = ""
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("missing RPC addr: got %v, want ErrConfigInvalid", err)
	}

	cfg = DefaultConfig()
	cfg.FeedAddr = ""
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("missing feed addr: got %v, want ErrConfigInvalid", err)
	}

	cfg = DefaultConfig()
	cfg.FeedEnabled = false
	cfg.FeedAddr = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled feed without addr: %v", err)
	}
}

func TestNewFillsDefaults(t *testing.T) {
	n, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) failed: %v", err)
	}
	if n.config.RPCAddr != DefaultConfig().RPCAddr {
		t.Errorf("RPCAddr = %q", n.config.RPCAddr)
	}

	n, err = New(&Config{InMemory: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n.config.RPCAddr == "" {
		t.Error("RPCAddr not defaulted")
	}
}

func TestNodeLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.RPCAddr = "127.0.0.1:0"
	cfg.FeedAddr = "127.0.0.1:0"

	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := n.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: got %v, want ErrAlreadyRunning", err)
	}

	if n.ChatProgramID().IsZero() {
		t.Error("chat program id is zero")
	}

	// Drive some state through the executor directly.
	var wallet types.Pubkey
	wallet[0] = 1
	if _, err := n.Executor().Airdrop(wallet, 1000); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}

	status := n.Status()
	if !status.IsRunning {
		t.Error("status reports not running")
	}
	if status.Slot != 1 {
		t.Errorf("slot = %d, want 1", status.Slot)
	}
	if status.AccountsCount != 1 {
		t.Errorf("accounts = %d, want 1", status.AccountsCount)
	}
	if status.Uptime <= 0 {
		t.Error("uptime not positive")
	}

	// Give the listeners a moment so Stop exercises a live server.
	time.Sleep(50 * time.Millisecond)

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := n.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop: got %v, want ErrNotRunning", err)
	}
}

func TestNodeCustomProgramID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.RPCAddr = "127.0.0.1:0"
	cfg.FeedEnabled = false

	var custom types.Pubkey
	custom[0] = 7
	cfg.ChatProgramID = custom

	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer n.Stop()

	if n.ChatProgramID() != custom {
		t.Errorf("program id = %s, want custom", n.ChatProgramID())
	}
}
