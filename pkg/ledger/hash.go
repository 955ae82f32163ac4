package ledger

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/milanjovanovic/solana-chat/internal/types"
)

// ComputeAccountHash computes the integrity hash of a single account:
// blake3(lamports || rent_epoch || data || executable || owner || pubkey).
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	h := blake3.New()

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	h.Write(u64[:])

	binary.LittleEndian.PutUint64(u64[:], account.RentEpoch)
	h.Write(u64[:])

	h.Write(account.Data)

	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeAccountsHash hashes all accounts in the database in sorted pubkey
// order, producing a single digest over the entire state. Used for startup
// consistency checks and the daemon status line.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	h := blake3.New()
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hash := ComputeAccountHash(pubkey, account)
		h.Write(hash[:])
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
