package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidKeypair is returned when a keypair file is malformed.
var ErrInvalidKeypair = errors.New("invalid keypair: must be 64 bytes")

// Keypair is an Ed25519 signing key with its public key.
type Keypair struct {
	priv ed25519.PrivateKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromBytes reconstructs a keypair from the 64-byte seed||pubkey form
// used by Solana keypair files.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, b)
	return &Keypair{priv: priv}, nil
}

// ReadKeypairFile loads a keypair from a Solana-style JSON file: a JSON
// array of 64 byte values (32-byte seed followed by the 32-byte pubkey).
func ReadKeypairFile(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	// The file is a JSON array of numbers, not a base64 string, so it
	// cannot be unmarshaled directly into []byte.
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse keypair file %s: %w", path, err)
	}
	bytes := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, ErrInvalidKeypair
		}
		bytes[i] = byte(v)
	}
	return KeypairFromBytes(bytes)
}

// WriteKeypairFile writes the keypair in Solana's JSON byte-array format.
// The file is created with owner-only permissions.
func (k *Keypair) WriteKeypairFile(path string) error {
	values := make([]int, len(k.priv))
	for i, b := range k.priv {
		values[i] = int(b)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal keypair: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write keypair file: %w", err)
	}
	return nil
}

// Pubkey returns the public key of this keypair.
func (k *Keypair) Pubkey() Pubkey {
	var p Pubkey
	copy(p[:], k.priv.Public().(ed25519.PublicKey))
	return p
}

// Sign signs a message and returns the signature.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}

// Bytes returns the 64-byte seed||pubkey representation.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, len(k.priv))
	copy(out, k.priv)
	return out
}
