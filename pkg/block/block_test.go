package block

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockSealValidate(t *testing.T) {
	b := NewBlock()
	b.Seal()
	assert.NoError(t, b.Validate())
}

func TestBlockChecksumCoversEverythingPastIt(t *testing.T) {
	b := NewBlock()
	b.SetSequenceNumber(7)
	b.SetLocation(1234, 3)
	rand.New(rand.NewSource(1)).Read(b.Payload())
	b.Seal()
	require.NoError(t, b.Validate())

	// A sequence bump without resealing must invalidate.
	b.SetSequenceNumber(8)
	assert.ErrorIs(t, b.Validate(), ErrInvalidBlock)

	b.Seal()
	require.NoError(t, b.Validate())

	// So must a payload flip.
	b.Payload()[100] ^= 1
	assert.ErrorIs(t, b.Validate(), ErrInvalidBlock)
}

func TestBlockValidateMatchesChecksum(t *testing.T) {
	b := NewBlock()
	rand.New(rand.NewSource(2)).Read(b.Payload())
	b.Seal()
	assert.Equal(t, Checksum(b[4:BlockSize], 0), b.Checksum())
	assert.NoError(t, b.Validate())
}

func TestBlockLocation(t *testing.T) {
	b := NewBlock()
	stripe := uint64(0x00dead_beef_cafe) // 56-bit
	b.SetLocation(stripe, 0x42)
	assert.Equal(t, stripe, b.Stripe())
	assert.Equal(t, uint8(0x42), b.Shard())
	// The shard id is the byte at offset 8.
	assert.Equal(t, byte(0x42), b[8])
}

func TestBlockWrongLength(t *testing.T) {
	assert.ErrorIs(t, Block(make([]byte, 100)).Validate(), ErrInvalidBlock)
}

func TestChecksumChaining(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	buf := make([]byte, 300)
	rng.Read(buf)
	whole := Checksum(buf, 0)
	chained := Checksum(buf[120:], Checksum(buf[:120], 0))
	assert.Equal(t, whole, chained)
}

func newValidHeader(t *testing.T) Header {
	h := NewHeader()
	h.SetMagic()
	h.SetVersion(HeaderVersion)
	h.SetVolumePrefixID(MinVolumePrefix)
	h.Seal()
	require.NoError(t, h.Validate())
	return h
}

func TestHeaderValidate(t *testing.T) {
	h := newValidHeader(t)
	assert.True(t, h.HasMagic())

	// Any single-byte mutation before the trailing checksum invalidates:
	// the CRC covers the whole page, reserved fields and padding included.
	for off := 0; off < HeaderSize-4; off++ {
		h[off] ^= 0xff
		assert.Error(t, h.Validate(), "offset %d", off)
		h[off] ^= 0xff
	}
	require.NoError(t, h.Validate())
}

func TestHeaderVersionAndPrefixInvariants(t *testing.T) {
	h := NewHeader()
	h.SetVersion(2)
	h.SetVolumePrefixID(MinVolumePrefix)
	h.Seal()
	assert.ErrorIs(t, h.Validate(), ErrInvalidHeader)

	h.SetVersion(HeaderVersion)
	h.SetVolumePrefixID(MinVolumePrefix - 1)
	h.Seal()
	assert.ErrorIs(t, h.Validate(), ErrInvalidHeader)

	h.SetVolumePrefixID(MinVolumePrefix)
	h.Seal()
	assert.NoError(t, h.Validate())
}

func TestHeaderShardIDsMustAscend(t *testing.T) {
	h := NewHeader()
	h.SetVersion(HeaderVersion)
	h.SetVolumePrefixID(MinVolumePrefix)
	copy(h.ShardIDs(), []uint8{3, 1, 4, 4, 4, 4, 4, 4})
	h.Seal()
	assert.ErrorIs(t, h.Validate(), ErrInvalidHeader)

	assert.Error(t, h.SetShardIDs([]uint8{3, 1}))
}

func TestSetShardIDsPads(t *testing.T) {
	h := NewHeader()
	require.NoError(t, h.SetShardIDs([]uint8{1, 2, 3}))
	assert.Equal(t, []uint8{1, 2, 3, 3, 3, 3, 3, 3}, h.ShardIDs())
}

func TestKBlocksInStripe(t *testing.T) {
	for _, tc := range []struct {
		ids  []uint8
		want int
	}{
		{[]uint8{1, 2, 3, 3, 3, 3, 3, 3}, 3},
		{[]uint8{1, 2, 3, 4, 4, 4, 4, 4}, 4},
		{[]uint8{0, 0, 0, 0, 0, 0, 0, 0}, 1},
		{[]uint8{0, 1, 2, 3, 4, 5, 6, 7}, 8},
		{[]uint8{5, 5, 5, 5, 5, 5, 5, 5}, 1},
	} {
		h := NewHeader()
		copy(h.ShardIDs(), tc.ids)
		assert.Equal(t, tc.want, h.KBlocksInStripe(), "ids %v", tc.ids)
	}
}

func TestOffsetToBlock(t *testing.T) {
	h := NewHeader()
	require.NoError(t, h.SetShardIDs([]uint8{1, 2, 3}))

	// Stripe 0 begins just past the header page.
	off, err := h.OffsetToBlock(0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), off)

	off, err = h.OffsetToBlock(0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+2*BlockSize), off)

	off, err = h.OffsetToBlock(5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+BlockSize*(3*5+1)), off)

	_, err = h.OffsetToBlock(0, 7)
	assert.ErrorIs(t, err, ErrUnknownShard)
}
