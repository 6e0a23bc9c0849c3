// Package wallet loads signing keys and signs transactions with them.
package wallet

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"solana-reward-distributor/internal/domain"
)

// ErrKeyMismatch is returned when a keypair file does not match the configured public key.
var ErrKeyMismatch = errors.New("keypair does not match configured public key")

// LoadKeypair reads a solana-keygen JSON keypair. When expected is non-empty the
// loaded key must derive to it.
func LoadKeypair(path, expected string) (solanago.PrivateKey, error) {
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load keypair %s: %w", domain.ErrConfiguration, path, err)
	}
	if expected != "" && key.PublicKey().String() != expected {
		return nil, fmt.Errorf("%w: %w: %s derives %s, want %s",
			domain.ErrConfiguration, ErrKeyMismatch, path, key.PublicKey(), expected)
	}
	return key, nil
}

// Keyring holds the private keys a transaction may need. Read-only after creation.
type Keyring struct {
	keys map[solanago.PublicKey]solanago.PrivateKey
}

// NewKeyring creates a Keyring from keys.
func NewKeyring(keys ...solanago.PrivateKey) *Keyring {
	k := &Keyring{keys: make(map[solanago.PublicKey]solanago.PrivateKey, len(keys))}
	for _, key := range keys {
		k.keys[key.PublicKey()] = key
	}
	return k
}

// Has reports whether the keyring can sign for pub.
func (k *Keyring) Has(pub solanago.PublicKey) bool {
	_, ok := k.keys[pub]
	return ok
}

// Sign signs tx with every required signer. Missing keys are an error.
func (k *Keyring) Sign(tx *solanago.Transaction) error {
	_, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		key, ok := k.keys[pub]
		if !ok {
			return nil
		}
		return &key
	})
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return nil
}
