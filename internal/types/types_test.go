package types

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	var pk Pubkey
	for i := range pk {
		pk[i] = byte(i)
	}

	parsed, err := PubkeyFromBase58(pk.String())
	if err != nil {
		t.Fatalf("PubkeyFromBase58 failed: %v", err)
	}
	if parsed != pk {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, pk)
	}
}

func TestPubkeyFromBase58Invalid(t *testing.T) {
	if _, err := PubkeyFromBase58("not-base58-0OIl"); err == nil {
		t.Error("invalid base58 accepted")
	}
	// Valid base58 of the wrong decoded length.
	if _, err := PubkeyFromBase58("abc"); !errors.Is(err, ErrInvalidPubkey) {
		t.Errorf("short pubkey: got %v, want ErrInvalidPubkey", err)
	}
}

func TestPubkeyFromBytes(t *testing.T) {
	if _, err := PubkeyFromBytes(make([]byte, 31)); !errors.Is(err, ErrInvalidPubkey) {
		t.Errorf("got %v, want ErrInvalidPubkey", err)
	}
	pk, err := PubkeyFromBytes(bytes.Repeat([]byte{7}, PubkeySize))
	if err != nil {
		t.Fatalf("PubkeyFromBytes failed: %v", err)
	}
	if pk.IsZero() {
		t.Error("non-zero pubkey reported as zero")
	}
}

func TestPubkeyTextMarshaling(t *testing.T) {
	pk := MustPubkeyFromBase58("11111111111111111111111111111111")

	text, err := pk.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var parsed Pubkey
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if parsed != pk {
		t.Errorf("got %s, want %s", parsed, pk)
	}
}

func TestCreateWithSeed(t *testing.T) {
	var base, owner Pubkey
	for i := range base {
		base[i] = byte(i)
		owner[i] = byte(i + 100)
	}

	derived, err := CreateWithSeed(base, "chat", owner)
	if err != nil {
		t.Fatalf("CreateWithSeed failed: %v", err)
	}

	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte("chat"))
	h.Write(owner[:])
	var want Pubkey
	copy(want[:], h.Sum(nil))

	if derived != want {
		t.Errorf("got %s, want %s", derived, want)
	}

	// Different seeds must derive different addresses.
	other, err := CreateWithSeed(base, "chat2", owner)
	if err != nil {
		t.Fatalf("CreateWithSeed failed: %v", err)
	}
	if other == derived {
		t.Error("distinct seeds derived the same address")
	}
}

func TestCreateWithSeedTooLong(t *testing.T) {
	var base, owner Pubkey
	_, err := CreateWithSeed(base, strings.Repeat("x", MaxSeedLen+1), owner)
	if !errors.Is(err, ErrSeedTooLong) {
		t.Errorf("got %v, want ErrSeedTooLong", err)
	}
}

func TestSignatureVerify(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	message := []byte("the quick brown fox")
	sig := kp.Sign(message)

	if !sig.Verify(kp.Pubkey(), message) {
		t.Error("valid signature did not verify")
	}
	if sig.Verify(kp.Pubkey(), []byte("tampered")) {
		t.Error("signature verified against a different message")
	}

	other, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}
	if sig.Verify(other.Pubkey(), message) {
		t.Error("signature verified against a different key")
	}
}

func TestSignatureFromBytes(t *testing.T) {
	if _, err := SignatureFromBytes(make([]byte, 63)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
	sig, err := SignatureFromBytes(make([]byte, SignatureSize))
	if err != nil {
		t.Fatalf("SignatureFromBytes failed: %v", err)
	}
	if !sig.IsZero() {
		t.Error("zero signature not reported as zero")
	}
}

func TestHashRoundTrip(t *testing.T) {
	h := ComputeHash([]byte("data"))
	parsed, err := HashFromBase58(h.String())
	if err != nil {
		t.Fatalf("HashFromBase58 failed: %v", err)
	}
	if parsed != h {
		t.Errorf("got %s, want %s", parsed, h)
	}
	if len(h.Hex()) != 64 {
		t.Errorf("hex length = %d, want 64", len(h.Hex()))
	}
}

func TestKeypairFileRoundTrip(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id.json")
	if err := kp.WriteKeypairFile(path); err != nil {
		t.Fatalf("WriteKeypairFile failed: %v", err)
	}

	loaded, err := ReadKeypairFile(path)
	if err != nil {
		t.Fatalf("ReadKeypairFile failed: %v", err)
	}
	if loaded.Pubkey() != kp.Pubkey() {
		t.Errorf("pubkey mismatch: got %s, want %s", loaded.Pubkey(), kp.Pubkey())
	}
	if !bytes.Equal(loaded.Bytes(), kp.Bytes()) {
		t.Error("keypair bytes differ after file round trip")
	}

	// The loaded key must sign identically.
	msg := []byte("probe")
	if loaded.Sign(msg) != kp.Sign(msg) {
		t.Error("signatures differ after file round trip")
	}
}

func TestKeypairFromBytesInvalid(t *testing.T) {
	if _, err := KeypairFromBytes(make([]byte, 32)); !errors.Is(err, ErrInvalidKeypair) {
		t.Errorf("got %v, want ErrInvalidKeypair", err)
	}
}

func TestReadKeypairFileMissing(t *testing.T) {
	if _, err := ReadKeypairFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file did not error")
	}
}
