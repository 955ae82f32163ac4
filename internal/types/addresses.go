// Package types provides well-known program addresses for the chat ledger.
package types

// Native program addresses.
var (
	// SystemProgramAddr is the System Program address (all zeros).
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")
)
