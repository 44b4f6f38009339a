package onchain

import (
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/program/metaplex/token_metadata"
)

// MetadataDecoder extracts the is_mutable flag from a Metaplex metadata account.
type MetadataDecoder interface {
	IsMutable(data []byte) (bool, error)
}

const metadataKeyV1 = 4

var errTruncated = errors.New("metadata: truncated account data")

// MetaplexDecoder deserializes the full metadata account with the Metaplex
// token_metadata schema.
type MetaplexDecoder struct{}

// IsMutable implements MetadataDecoder.
func (MetaplexDecoder) IsMutable(data []byte) (mutable bool, err error) {
	if len(data) == 0 {
		return false, errTruncated
	}
	if data[0] != metadataKeyV1 {
		return false, fmt.Errorf("metadata: unexpected account key %d", data[0])
	}

	// Corrupt length prefixes can make the deserializer panic.
	defer func() {
		if r := recover(); r != nil {
			mutable, err = false, fmt.Errorf("metadata: decode panic: %v", r)
		}
	}()

	md, err := token_metadata.MetadataDeserialize(data)
	if err != nil {
		return false, fmt.Errorf("metadata: %w", err)
	}
	return md.IsMutable, nil
}

// FixedOffsetDecoder reads is_mutable at a fixed byte offset. It only holds
// for accounts whose variable-length fields match the assumed layout.
type FixedOffsetDecoder struct {
	Offset int
}

// IsMutable implements MetadataDecoder.
func (d FixedOffsetDecoder) IsMutable(data []byte) (bool, error) {
	if d.Offset < 0 || d.Offset >= len(data) {
		return false, fmt.Errorf("metadata: offset %d outside %d bytes", d.Offset, len(data))
	}
	return data[d.Offset] == 1, nil
}
