package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLength is the byte length of a decoded public key.
const PubkeyLength = 32

var errNoViableBump = errors.New("pda: unable to find a viable program address bump seed")

// DecodePubkey decodes a base58 public key and checks its length.
func DecodePubkey(key Pubkey) ([]byte, error) {
	raw, err := base58.Decode(string(key))
	if err != nil {
		return nil, fmt.Errorf("pubkey %q: %w", key, err)
	}
	if len(raw) != PubkeyLength {
		return nil, fmt.Errorf("pubkey %q: decoded length %d, want %d", key, len(raw), PubkeyLength)
	}
	return raw, nil
}

// ValidPubkey reports whether key is a well-formed 32-byte base58 address.
func ValidPubkey(key Pubkey) bool {
	_, err := DecodePubkey(key)
	return err == nil
}

// EncodePubkey encodes raw bytes as a base58 Pubkey.
func EncodePubkey(raw []byte) Pubkey {
	return Pubkey(base58.Encode(raw))
}

// FindProgramAddress derives a program address from seeds, searching bump
// seeds from 255 downwards for the first hash that lies off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	program, err := DecodePubkey(programID)
	if err != nil {
		return "", 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return EncodePubkey(sum), uint8(bump), nil
		}
	}
	return "", 0, errNoViableBump
}

// MetadataAddress returns the Metaplex metadata account for a mint.
func MetadataAddress(mint Pubkey) (Pubkey, error) {
	mintBytes, err := DecodePubkey(mint)
	if err != nil {
		return "", err
	}
	programBytes, err := DecodePubkey(MetaplexProgramID)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{
		[]byte("metadata"),
		programBytes,
		mintBytes,
	}, MetaplexProgramID)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != PubkeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
