// chatd: a single-node Solana-style chat cluster.
//
// This is the main entry point for the chat daemon. It hosts the system and
// chat programs over a persistent ledger, serves the Solana-compatible
// JSON-RPC API, and streams stored messages to gRPC subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/node"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir     = flag.String("data-dir", "./data", "Data directory for the ledger and transaction journal")
	inMemory    = flag.Bool("in-memory", false, "Keep all state in memory (throwaway local cluster)")
	rpcAddr     = flag.String("rpc-addr", ":8899", "RPC server listen address")
	logRequests = flag.Bool("log-rpc", false, "Log incoming RPC requests")
	feedAddr    = flag.String("feed-addr", ":10799", "Message feed listen address")
	noFeed      = flag.Bool("no-feed", false, "Disable the gRPC message feed")
	programID   = flag.String("program", "", "Chat program address (default: derived built-in address)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatd %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting chatd %s", Version)

	config := node.DefaultConfig()
	config.DataDir = *dataDir
	config.InMemory = *inMemory
	config.RPCAddr = *rpcAddr
	config.RPCLogRequests = *logRequests
	config.FeedEnabled = !*noFeed
	config.FeedAddr = *feedAddr
	config.OnError = func(err error) {
		log.Printf("Component error: %v", err)
	}

	if *programID != "" {
		pubkey, err := types.PubkeyFromBase58(*programID)
		if err != nil {
			log.Fatalf("Invalid -program address: %v", err)
		}
		config.ChatProgramID = pubkey
	}

	n, err := node.New(&config)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	log.Printf("Chat program: %s", n.ChatProgramID())
	log.Printf("RPC listening on %s", *rpcAddr)
	if config.FeedEnabled {
		log.Printf("Feed listening on %s", *feedAddr)
	}

	// Print status periodically
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := n.Status()
				log.Printf("Status: slot=%d, accounts=%d, transactions=%d, subscribers=%d",
					status.Slot, status.AccountsCount, status.TransactionsCount, status.Subscribers)
			}
		}
	}()

	<-ctx.Done()

	if err := n.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("chatd stopped")
}
