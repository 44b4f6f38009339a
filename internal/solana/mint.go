package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"
)

// MintLayoutSize is the size of the base mint layout shared by the SPL Token
// and Token-2022 programs. Token-2022 mints may carry extensions past it.
const MintLayoutSize = 82

// DecodeMint parses the base mint layout:
//
//	mintAuthority   COption<Pubkey>  4 + 32
//	supply          u64              8
//	decimals        u8               1
//	isInitialized   bool             1
//	freezeAuthority COption<Pubkey>  4 + 32
func DecodeMint(mint Pubkey, standard TokenStandard, data []byte) (*MintInfo, error) {
	if len(data) < MintLayoutSize {
		return nil, fmt.Errorf("mint %s: data too short: %d bytes", mint, len(data))
	}

	info := &MintInfo{
		Mint:          mint,
		Standard:      standard,
		Supply:        decimal.NewFromUint64(binary.LittleEndian.Uint64(data[36:44])),
		Decimals:      data[44],
		IsInitialized: data[45] == 1,
	}
	if binary.LittleEndian.Uint32(data[0:4]) == 1 {
		info.MintAuthority = EncodePubkey(data[4:36])
	}
	if binary.LittleEndian.Uint32(data[46:50]) == 1 {
		info.FreezeAuthority = EncodePubkey(data[50:82])
	}
	return info, nil
}
