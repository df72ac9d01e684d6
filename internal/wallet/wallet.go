package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Wallet holds the signing keypair. The secret key never leaves the
// process: callers get the public key and a Sign operation, nothing else.
type Wallet struct {
	priv   ed25519.PrivateKey
	pubkey string
}

// Load reads a keypair file. Two layouts are accepted: the JSON byte-array
// keypair file written by standard tooling, and a bare base58-encoded
// 64-byte secret key.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("wallet file %s: %w", path, err)
	}
	return w, nil
}

// Parse decodes keypair material in either supported layout.
func Parse(data []byte) (*Wallet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty keypair data")
	}

	if trimmed[0] == '[' {
		var nums []int
		if err := json.Unmarshal(trimmed, &nums); err != nil {
			return nil, fmt.Errorf("parse keypair array: %w", err)
		}
		secret := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("keypair array entry %d out of byte range", i)
			}
			secret[i] = byte(n)
		}
		return New(secret)
	}

	secret, err := base58.Decode(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("decode base58 keypair: %w", err)
	}
	return New(secret)
}

// New builds a wallet from a 64-byte secret key (seed followed by public
// key). The embedded public key must be a canonical curve point and must
// match the key derived from the seed.
func New(secret []byte) (*Wallet, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}

	priv := ed25519.PrivateKey(append([]byte(nil), secret...))
	pub := priv.Public().(ed25519.PublicKey)

	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return nil, fmt.Errorf("public key is not a canonical curve point: %w", err)
	}

	derived := ed25519.NewKeyFromSeed(priv.Seed()).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, pub) {
		return nil, errors.New("public key does not match the seed")
	}

	return &Wallet{priv: priv, pubkey: base58.Encode(pub)}, nil
}

// PublicKey returns the base58 wallet address.
func (w *Wallet) PublicKey() string {
	return w.pubkey
}

// Sign signs message with the wallet key.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.priv, message)
}

// String identifies the wallet by its address. Key material is never
// printed or logged.
func (w *Wallet) String() string {
	return w.pubkey
}
