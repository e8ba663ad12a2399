package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	pubkeySize    = 32
	maxSeedLength = 32
	maxSeeds      = 16
	pdaMarker     = "ProgramDerivedAddress"
)

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// DecodePubkey decodes a base58 public key and checks its length.
func DecodePubkey(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey %q: %w", address, err)
	}
	if len(b) != pubkeySize {
		return nil, fmt.Errorf("pubkey %q has %d bytes, want %d", address, len(b), pubkeySize)
	}
	return b, nil
}

// FindProgramAddress derives a Program Derived Address using the Solana algorithm.
// It tries bump seeds from 255 down to 0 and returns the first hash that is off
// the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	if len(seeds) > maxSeeds-1 {
		return "", 0, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return "", 0, fmt.Errorf("seed too long: %d bytes", len(seed))
		}
	}

	for b := 255; b >= 0; b-- {
		bump := byte(b)
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{bump})
		h.Write(programID)
		h.Write([]byte(pdaMarker))
		hash := h.Sum(nil)

		if !isOnCurve(hash) {
			return base58.Encode(hash), bump, nil
		}
	}

	return "", 0, ErrNoViableBump
}

// AssociatedTokenAddress derives the associated token account of owner for mint
// under the given token program.
func AssociatedTokenAddress(owner, mint, tokenProgram string) (string, error) {
	ownerBytes, err := DecodePubkey(owner)
	if err != nil {
		return "", err
	}
	mintBytes, err := DecodePubkey(mint)
	if err != nil {
		return "", err
	}
	programBytes, err := DecodePubkey(tokenProgram)
	if err != nil {
		return "", err
	}
	ataProgram, err := DecodePubkey(AssociatedTokenProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{ownerBytes, programBytes, mintBytes}, ataProgram)
	if err != nil {
		return "", fmt.Errorf("derive associated token address: %w", err)
	}
	return addr, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != pubkeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
