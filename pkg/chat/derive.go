package chat

import "github.com/milanjovanovic/solana-chat/internal/types"

// Seed is the fixed seed used to derive a user's chat account address.
const Seed = "chat"

// DeriveAccount maps a user's pubkey and the chat program id to the user's
// chat account address. Deterministic, no I/O; collision resistance comes
// from the underlying create-with-seed derivation.
func DeriveAccount(user, program types.Pubkey) types.Pubkey {
	// Seed is a short constant, so derivation cannot fail.
	addr, _ := types.CreateWithSeed(user, Seed, program)
	return addr
}
