package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrNoViableBump is returned when every bump seed lands on the curve.
var ErrNoViableBump = errors.New("no viable bump seed")

// FindAssociatedTokenAddress derives the associated token account of owner for mint
// under the classic token program.
func FindAssociatedTokenAddress(owner, mint string) (string, error) {
	ownerKey, err := decodeKey(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	mintKey, err := decodeKey(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	tokenProgram, _ := decodeKey(TokenProgramID)
	ataProgram, _ := decodeKey(AssociatedTokenProgramID)

	addr, _, err := FindProgramAddress([][]byte{ownerKey, tokenProgram, mintKey}, ataProgram)
	if err != nil {
		return "", err
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

func decodeKey(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", s, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key %q has %d bytes, want 32", s, len(b))
	}
	return b, nil
}
