package solana

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = Pubkey("So11111111111111111111111111111111111111112")

// buildMintData lays out a base mint account. Nil authorities are unset.
func buildMintData(mintAuthority []byte, supply uint64, decimals uint8, freezeAuthority []byte) []byte {
	data := make([]byte, MintLayoutSize)
	if mintAuthority != nil {
		binary.LittleEndian.PutUint32(data[0:4], 1)
		copy(data[4:36], mintAuthority)
	}
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1
	if freezeAuthority != nil {
		binary.LittleEndian.PutUint32(data[46:50], 1)
		copy(data[50:82], freezeAuthority)
	}
	return data
}

func TestDecodePubkey(t *testing.T) {
	raw, err := DecodePubkey(TokenProgramID)
	require.NoError(t, err)
	assert.Len(t, raw, PubkeyLength)
	assert.Equal(t, TokenProgramID, EncodePubkey(raw))

	t.Run("rejects bad alphabet", func(t *testing.T) {
		_, err := DecodePubkey("0OIl")
		assert.Error(t, err)
	})

	t.Run("rejects short key", func(t *testing.T) {
		_, err := DecodePubkey("abc")
		assert.Error(t, err)
		assert.False(t, ValidPubkey("abc"))
	})

	assert.True(t, ValidPubkey(testMint))
}

func TestMetadataAddress(t *testing.T) {
	addr, err := MetadataAddress(testMint)
	require.NoError(t, err)
	assert.True(t, ValidPubkey(addr))

	raw, err := DecodePubkey(addr)
	require.NoError(t, err)
	assert.False(t, isOnCurve(raw), "program addresses must be off the ed25519 curve")

	again, err := MetadataAddress(testMint)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	other, err := MetadataAddress(USDCMint)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)

	_, err = MetadataAddress("not-a-key")
	assert.Error(t, err)
}

func TestFindProgramAddress_BumpIsFirstOffCurve(t *testing.T) {
	seeds := [][]byte{[]byte("metadata")}
	addr, bump, err := FindProgramAddress(seeds, MetaplexProgramID)
	require.NoError(t, err)

	// Every higher bump must have landed on the curve.
	for b := 255; b > int(bump); b-- {
		program, _ := DecodePubkey(MetaplexProgramID)
		data := append([]byte("metadata"), byte(b))
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)
		sum := sha256.Sum256(data)
		assert.True(t, isOnCurve(sum[:]), "bump %d", b)
	}
	assert.NotEmpty(t, addr)
}

func TestIsOnCurve(t *testing.T) {
	raw, err := DecodePubkey(Pubkey("11111111111111111111111111111111"))
	require.NoError(t, err)
	assert.True(t, isOnCurve(raw)) // y = 0 is a valid encoding
	assert.False(t, isOnCurve([]byte{1, 2, 3}))
}

func TestDecodeMint(t *testing.T) {
	mintAuth := make([]byte, 32)
	mintAuth[31] = 9
	freezeAuth := make([]byte, 32)
	freezeAuth[0] = 3

	t.Run("both authorities set", func(t *testing.T) {
		info, err := DecodeMint(testMint, StandardToken2022, buildMintData(mintAuth, 42, 9, freezeAuth))
		require.NoError(t, err)
		assert.Equal(t, EncodePubkey(mintAuth), info.MintAuthority)
		assert.Equal(t, EncodePubkey(freezeAuth), info.FreezeAuthority)
		assert.Equal(t, "42", info.Supply.String())
		assert.Equal(t, uint8(9), info.Decimals)
		assert.True(t, info.IsInitialized)
		assert.Equal(t, StandardToken2022, info.Standard)
	})

	t.Run("renounced", func(t *testing.T) {
		info, err := DecodeMint(testMint, StandardSPL, buildMintData(nil, 1, 6, nil))
		require.NoError(t, err)
		assert.True(t, info.IsMintRenounced())
		assert.True(t, info.IsFreezeRenounced())
	})

	t.Run("token-2022 extensions are ignored", func(t *testing.T) {
		data := append(buildMintData(mintAuth, 1, 6, nil), make([]byte, 120)...)
		info, err := DecodeMint(testMint, StandardToken2022, data)
		require.NoError(t, err)
		assert.False(t, info.IsMintRenounced())
	})

	t.Run("short data", func(t *testing.T) {
		_, err := DecodeMint(testMint, StandardSPL, make([]byte, 40))
		assert.Error(t, err)
	})
}

func TestTokenStandard_ProgramID(t *testing.T) {
	assert.Equal(t, TokenProgramID, StandardSPL.ProgramID())
	assert.Equal(t, Token2022ProgramID, StandardToken2022.ProgramID())
}
