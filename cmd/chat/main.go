// chat: command-line client for a chatd node.
//
// The client talks JSON-RPC to the node for account state and transaction
// submission, and gRPC for the live message feed. Each user has one chat
// account at a deterministic address derived from their pubkey, the fixed
// seed and the chat program id; sending a message to someone means writing
// into the recipient's chat account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/milanjovanovic/solana-chat/internal/types"
	"github.com/milanjovanovic/solana-chat/pkg/chat"
	"github.com/milanjovanovic/solana-chat/pkg/feed"
	"github.com/milanjovanovic/solana-chat/pkg/ledger"
	"github.com/milanjovanovic/solana-chat/pkg/program/chatprog"
	"github.com/milanjovanovic/solana-chat/pkg/program/system"
	"github.com/milanjovanovic/solana-chat/pkg/rpc"
	"github.com/milanjovanovic/solana-chat/pkg/runtime"
)

const defaultRPCURL = "http://127.0.0.1:8899"

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = cmdKeygen(os.Args[2:])
	case "address":
		err = cmdAddress(os.Args[2:])
	case "airdrop":
		err = cmdAirdrop(os.Args[2:])
	case "balance":
		err = cmdBalance(os.Args[2:])
	case "open":
		err = cmdOpen(os.Args[2:])
	case "send":
		err = cmdSend(os.Args[2:])
	case "receive":
		err = cmdReceive(os.Args[2:])
	case "delete":
		err = cmdDelete(os.Args[2:])
	case "watch":
		err = cmdWatch(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `chat - client for a chatd node

Usage: chat <command> [flags]

Commands:
  keygen    Generate a new keypair file
  address   Print your pubkey and chat account address
  airdrop   Request lamports from the local faucet
  balance   Print an account's lamport balance
  open      Open your chat account
  send      Send a message to another user
  receive   Read the messages in a chat account
  delete    Request deletion of a message by id
  watch     Stream messages live from the node feed

Run 'chat <command> -h' for command flags.
`)
}

// defaultKeypairPath mirrors the standard Solana CLI location.
func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

// commonFlags registers the flags every node-facing command shares.
type commonFlags struct {
	url     *string
	keypair *string
	program *string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		url:     fs.String("url", defaultRPCURL, "RPC endpoint URL"),
		keypair: fs.String("keypair", defaultKeypairPath(), "Keypair file"),
		program: fs.String("program", "", "Chat program address (default: built-in)"),
	}
}

func (c *commonFlags) load() (*types.Keypair, *rpc.Client, types.Pubkey, error) {
	keypair, err := types.ReadKeypairFile(*c.keypair)
	if err != nil {
		return nil, nil, types.Pubkey{}, fmt.Errorf("read keypair %s: %w", *c.keypair, err)
	}

	programID := chatprog.DefaultProgramID
	if *c.program != "" {
		programID, err = types.PubkeyFromBase58(*c.program)
		if err != nil {
			return nil, nil, types.Pubkey{}, fmt.Errorf("invalid program address: %w", err)
		}
	}

	client := rpc.NewClient(*c.url, 30*time.Second)
	return keypair, client, programID, nil
}

func cmdKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("o", defaultKeypairPath(), "Output keypair file")
	force := fs.Bool("force", false, "Overwrite an existing keypair file")
	fs.Parse(args)

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("refusing to overwrite %s (use -force)", *out)
		}
	}

	keypair, err := types.NewKeypair()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o700); err != nil {
		return err
	}
	if err := keypair.WriteKeypairFile(*out); err != nil {
		return err
	}

	fmt.Printf("Wrote new keypair to %s\n", *out)
	fmt.Printf("pubkey: %s\n", keypair.Pubkey())
	return nil
}

func cmdAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	common := registerCommon(fs)
	fs.Parse(args)

	keypair, _, programID, err := common.load()
	if err != nil {
		return err
	}

	fmt.Printf("pubkey:       %s\n", keypair.Pubkey())
	fmt.Printf("chat account: %s\n", chat.DeriveAccount(keypair.Pubkey(), programID))
	return nil
}

func cmdAirdrop(args []string) error {
	fs := flag.NewFlagSet("airdrop", flag.ExitOnError)
	common := registerCommon(fs)
	amount := fs.Uint64("amount", 1_000_000_000, "Lamports to request")
	fs.Parse(args)

	keypair, client, _, err := common.load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	sig, err := client.RequestAirdrop(ctx, keypair.Pubkey(), *amount)
	if err != nil {
		return err
	}
	fmt.Printf("Airdropped %d lamports to %s\n", *amount, keypair.Pubkey())
	fmt.Printf("signature: %s\n", sig)
	return nil
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	common := registerCommon(fs)
	pubkeyStr := fs.String("pubkey", "", "Account to query (default: own pubkey)")
	fs.Parse(args)

	keypair, client, _, err := common.load()
	if err != nil {
		return err
	}

	pubkey := keypair.Pubkey()
	if *pubkeyStr != "" {
		pubkey, err = types.PubkeyFromBase58(*pubkeyStr)
		if err != nil {
			return fmt.Errorf("invalid pubkey: %w", err)
		}
	}

	balance, err := client.GetBalance(context.Background(), pubkey)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d lamports\n", pubkey, balance)
	return nil
}

func cmdOpen(args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	common := registerCommon(fs)
	name := fs.String("name", "", "Display name for the chat account")
	fs.Parse(args)

	if *name == "" {
		return errors.New("-name is required")
	}

	keypair, client, programID, err := common.load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	chatAccount := chat.DeriveAccount(keypair.Pubkey(), programID)

	rentMin, err := client.GetMinimumBalanceForRentExemption(ctx, chat.AccountSize)
	if err != nil {
		return err
	}

	createData := system.EncodeCreateAccountWithSeed(system.CreateAccountWithSeedParams{
		Base:     keypair.Pubkey(),
		Seed:     chat.Seed,
		Lamports: rentMin,
		Space:    chat.AccountSize,
		Owner:    programID,
	})

	openIx := chat.OpenAccount(chat.NewAccountMetadata(*name))
	openData, err := openIx.Encode()
	if err != nil {
		return err
	}

	instructions := []runtime.Instruction{
		{
			ProgramID: types.SystemProgramAddr,
			Accounts: []runtime.AccountMeta{
				{Pubkey: keypair.Pubkey(), IsSigner: true, IsWritable: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: createData,
		},
		{
			ProgramID: programID,
			Accounts: []runtime.AccountMeta{
				{Pubkey: keypair.Pubkey(), IsSigner: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: openData,
		},
	}

	sig, err := submit(ctx, client, instructions, keypair)
	if err != nil {
		return err
	}

	fmt.Printf("Opened chat account %s as %q\n", chatAccount, *name)
	fmt.Printf("signature: %s\n", sig)
	return nil
}

func cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	common := registerCommon(fs)
	to := fs.String("to", "", "Recipient pubkey")
	msg := fs.String("msg", "", "Message text")
	fs.Parse(args)

	if *to == "" {
		return errors.New("-to is required")
	}
	if *msg == "" {
		return errors.New("-msg is required")
	}

	keypair, client, programID, err := common.load()
	if err != nil {
		return err
	}

	recipient, err := types.PubkeyFromBase58(*to)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	ctx := context.Background()
	chatAccount := chat.DeriveAccount(recipient, programID)

	sendIx := chat.SendMessages(chat.NewMessage(keypair.Pubkey(), *msg))
	sendData, err := sendIx.Encode()
	if err != nil {
		return err
	}

	instructions := []runtime.Instruction{
		{
			ProgramID: programID,
			Accounts: []runtime.AccountMeta{
				{Pubkey: keypair.Pubkey(), IsSigner: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: sendData,
		},
	}

	sig, err := submit(ctx, client, instructions, keypair)
	if err != nil {
		return err
	}

	fmt.Printf("Sent to %s (chat account %s)\n", recipient, chatAccount)
	fmt.Printf("signature: %s\n", sig)
	return nil
}

func cmdReceive(args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	common := registerCommon(fs)
	accountStr := fs.String("account", "", "Chat account to read (default: own)")
	fs.Parse(args)

	keypair, client, programID, err := common.load()
	if err != nil {
		return err
	}

	chatAccount := chat.DeriveAccount(keypair.Pubkey(), programID)
	if *accountStr != "" {
		chatAccount, err = types.PubkeyFromBase58(*accountStr)
		if err != nil {
			return fmt.Errorf("invalid account: %w", err)
		}
	}

	account, err := client.GetAccountInfo(context.Background(), chatAccount)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return fmt.Errorf("chat account %s does not exist (open it first)", chatAccount)
	}
	if err != nil {
		return err
	}

	metadata, messages, err := chat.DecodeAccountData(account.Data)
	if err != nil {
		return fmt.Errorf("decode chat account: %w", err)
	}

	fmt.Printf("Account %s (%q), %d message(s):\n", chatAccount, metadata.AccountName, len(messages))
	for i := range messages {
		m := &messages[i]
		fmt.Printf("  [%d] %s: %s\n", m.ID, m.From, m.Msg)
	}
	return nil
}

func cmdDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	common := registerCommon(fs)
	id := fs.Uint("id", 0, "Message id to delete")
	fs.Parse(args)

	keypair, client, programID, err := common.load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	chatAccount := chat.DeriveAccount(keypair.Pubkey(), programID)

	deleteIx := chat.DeleteMessages(uint32(*id))
	deleteData, err := deleteIx.Encode()
	if err != nil {
		return err
	}

	instructions := []runtime.Instruction{
		{
			ProgramID: programID,
			Accounts: []runtime.AccountMeta{
				{Pubkey: keypair.Pubkey(), IsSigner: true},
				{Pubkey: chatAccount, IsWritable: true},
			},
			Data: deleteData,
		},
	}

	// The program does not support deletion yet; a rejection here is the
	// expected outcome, so report it rather than failing.
	sig, err := submit(ctx, client, instructions, keypair)
	if err != nil && !sig.IsZero() {
		fmt.Printf("Delete rejected: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("signature: %s\n", sig)
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	common := registerCommon(fs)
	feedAddr := fs.String("feed", "127.0.0.1:10799", "Feed endpoint (host:port)")
	all := fs.Bool("all", false, "Watch every chat account, not just your own")
	accountStr := fs.String("account", "", "Chat account to watch (default: own)")
	fs.Parse(args)

	keypair, _, programID, err := common.load()
	if err != nil {
		return err
	}

	config := feed.DefaultClientConfig(*feedAddr)
	if !*all {
		config.Account = chat.DeriveAccount(keypair.Pubkey(), programID)
		if *accountStr != "" {
			config.Account, err = types.PubkeyFromBase58(*accountStr)
			if err != nil {
				return fmt.Errorf("invalid account: %w", err)
			}
		}
	}

	client := feed.NewClient(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if *all {
		fmt.Println("Watching all chat accounts...")
	} else {
		fmt.Printf("Watching chat account %s...\n", config.Account)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-client.Updates():
			if !ok {
				return errors.New("feed stream closed")
			}
			for i := range update.Messages {
				m := &update.Messages[i]
				fmt.Printf("[slot %d] %s -> %s [%d]: %s\n",
					update.Slot, m.From, update.Account, m.ID, m.Msg)
			}
		}
	}
}

// submit fetches a recent blockhash, signs and sends a transaction, and
// surfaces any program error recorded for it.
func submit(ctx context.Context, client *rpc.Client, instructions []runtime.Instruction, feePayer *types.Keypair) (types.Signature, error) {
	blockhash, err := client.GetLatestBlockhash(ctx)
	if err != nil {
		return types.Signature{}, err
	}

	tx, err := runtime.NewTransaction(blockhash, instructions, feePayer)
	if err != nil {
		return types.Signature{}, err
	}

	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		return types.Signature{}, err
	}

	status, err := client.GetTransaction(ctx, sig)
	if err != nil {
		// The transaction went through; status lookup is best effort.
		return sig, nil
	}
	if status.Err != nil {
		return sig, fmt.Errorf("transaction failed: %s", *status.Err)
	}
	return sig, nil
}
