package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the volume header page, the first 4096
	// bytes of every volume file.
	HeaderSize = 4096

	// HeaderVersion is the only on-disk format version.
	HeaderVersion = 1

	// MinVolumePrefix is the lower bound on the volume prefix id. Prefix
	// ids live above the range of plausible file offsets so a stray
	// pointer never aliases one.
	MinVolumePrefix = 1 << 24

	// MaxShardsPerVolume is the number of shard id slots in the header.
	MaxShardsPerVolume = 8

	// MagicSize is the length of the volume magic.
	MagicSize = 32

	headerMagicOff     = 0
	headerVersionOff   = 32
	headerPrefixOff    = 36
	headerPrimaryOff   = 40
	headerSecondaryOff = 48
	headerTailOff      = 56
	headerShardsOff    = 64
	headerReservedOff  = 72
	headerCRCOff       = HeaderSize - 4
)

// Magic identifies a stipe volume file. The header page past the reserved
// fields is zero up to the trailing checksum.
var Magic = [MagicSize]byte{
	's', 't', 'i', 'p', 'e', ' ', 'v', 'o', 'l', 'u', 'm', 'e', 0, 0, 0, 0,
	0xd6, 0x1b, 0x27, 0x4c, 0x83, 0x9e, 0xe5, 0x70, 0x1a, 0xc2, 0x48, 0xf1, 0x39, 0x07, 0xbd, 0x62,
}

var (
	// ErrInvalidHeader reports a header whose checksum or invariants do
	// not hold. Header corruption is fatal for the volume until an
	// administrative repair.
	ErrInvalidHeader = errors.New("block: invalid header")

	// ErrUnknownShard reports a shard id that is not stored on this
	// volume. Production code never asks.
	ErrUnknownShard = errors.New("block: unknown shard")
)

// Header is the 4096-byte volume header page:
//
//	offset 0  magic            32 bytes
//	offset 32 u32 version      always 1
//	offset 36 u32 prefix id    >= 2^24
//	offset 40 u64 primary index offset
//	offset 48 u64 secondary index offset
//	offset 56 u64 tail offset
//	offset 64   shard ids      8 bytes, ascending, last repeated to pad
//	offset 72   reserved       24 bytes, then zero padding to the checksum
//	offset 4092 u32 header CRC32C over bytes 0..4091
//
// The checksum sits at the end of the page and covers everything before it,
// padding included.
type Header []byte

// NewHeader allocates a zeroed header page.
func NewHeader() Header {
	return make(Header, HeaderSize)
}

// Magic returns the 32-byte magic. The slice aliases the header.
func (h Header) Magic() []byte {
	return h[headerMagicOff : headerMagicOff+MagicSize]
}

// SetMagic stamps the volume magic.
func (h Header) SetMagic() {
	copy(h.Magic(), Magic[:])
}

// Version returns the format version.
func (h Header) Version() uint32 {
	return binary.LittleEndian.Uint32(h[headerVersionOff:])
}

// SetVersion stores the format version.
func (h Header) SetVersion(v uint32) {
	binary.LittleEndian.PutUint32(h[headerVersionOff:], v)
}

// VolumePrefixID returns the volume's random prefix id.
func (h Header) VolumePrefixID() uint32 {
	return binary.LittleEndian.Uint32(h[headerPrefixOff:])
}

// SetVolumePrefixID stores the volume prefix id.
func (h Header) SetVolumePrefixID(id uint32) {
	binary.LittleEndian.PutUint32(h[headerPrefixOff:], id)
}

// PrimaryIndexOffset returns the byte offset of the primary index blob.
func (h Header) PrimaryIndexOffset() uint64 {
	return binary.LittleEndian.Uint64(h[headerPrimaryOff:])
}

// SetPrimaryIndexOffset stores the primary index offset.
func (h Header) SetPrimaryIndexOffset(off uint64) {
	binary.LittleEndian.PutUint64(h[headerPrimaryOff:], off)
}

// SecondaryIndexOffset returns the byte offset of the secondary index blob.
func (h Header) SecondaryIndexOffset() uint64 {
	return binary.LittleEndian.Uint64(h[headerSecondaryOff:])
}

// SetSecondaryIndexOffset stores the secondary index offset.
func (h Header) SetSecondaryIndexOffset(off uint64) {
	binary.LittleEndian.PutUint64(h[headerSecondaryOff:], off)
}

// TailOffset returns the byte offset where the volume tail begins. The tail
// holds the rollback area and append scratch; its layout is opaque here
// except that it is page-aligned.
func (h Header) TailOffset() uint64 {
	return binary.LittleEndian.Uint64(h[headerTailOff:])
}

// SetTailOffset stores the tail offset.
func (h Header) SetTailOffset(off uint64) {
	binary.LittleEndian.PutUint64(h[headerTailOff:], off)
}

// ShardIDs returns the 8 shard id slots. The slice aliases the header.
func (h Header) ShardIDs() []uint8 {
	return h[headerShardsOff : headerShardsOff+MaxShardsPerVolume]
}

// SetShardIDs stores the shard set of this volume. ids must be ascending and
// non-empty; fewer than 8 shards pad by repeating the last id.
func (h Header) SetShardIDs(ids []uint8) error {
	if len(ids) == 0 || len(ids) > MaxShardsPerVolume {
		return fmt.Errorf("%w: %d shard ids", ErrInvalidHeader, len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] < ids[i-1] {
			return fmt.Errorf("%w: shard ids not ascending", ErrInvalidHeader)
		}
	}
	slots := h.ShardIDs()
	for i := 0; i < MaxShardsPerVolume; i++ {
		if i < len(ids) {
			slots[i] = ids[i]
		} else {
			slots[i] = ids[len(ids)-1]
		}
	}
	return nil
}

// KBlocksInStripe returns the effective shard count on this volume. A run of
// equal ids at the end of the slot array encodes "shorter than 8".
func (h Header) KBlocksInStripe() int {
	ids := h.ShardIDs()
	count := MaxShardsPerVolume
	for count > 1 && ids[count-2] == ids[count-1] {
		count--
	}
	return count
}

// OffsetToBlock returns the file offset of the block for (stripe, shard) on
// this volume, header page included: the block just past the header is
// stripe 0 of the first listed shard. Asking for a shard this volume does
// not store is ErrUnknownShard.
func (h Header) OffsetToBlock(stripe uint64, shard uint8) (int64, error) {
	kv := h.KBlocksInStripe()
	offset := int64(HeaderSize) + int64(BlockSize)*int64(kv)*int64(stripe)
	for _, id := range h.ShardIDs()[:kv] {
		if id == shard {
			return offset, nil
		}
		offset += BlockSize
	}
	return 0, fmt.Errorf("%w: shard %d not on volume", ErrUnknownShard, shard)
}

// Seal computes and stores the header checksum. Call after every field is
// final.
func (h Header) Seal() {
	binary.LittleEndian.PutUint32(h[headerCRCOff:], Checksum(h[:headerCRCOff], 0))
}

// Validate verifies the header invariants and checksum. No partial
// acceptance.
func (h Header) Validate() error {
	if len(h) != HeaderSize {
		return fmt.Errorf("%w: length %d", ErrInvalidHeader, len(h))
	}
	if v := h.Version(); v != HeaderVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidHeader, v)
	}
	if p := h.VolumePrefixID(); p < MinVolumePrefix {
		return fmt.Errorf("%w: volume prefix %#x below 2^24", ErrInvalidHeader, p)
	}
	ids := h.ShardIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i] < ids[i-1] {
			return fmt.Errorf("%w: shard ids not ascending", ErrInvalidHeader)
		}
	}
	stored := binary.LittleEndian.Uint32(h[headerCRCOff:])
	if got := Checksum(h[:headerCRCOff], 0); got != stored {
		return fmt.Errorf("%w: checksum %08x, computed %08x", ErrInvalidHeader, stored, got)
	}
	return nil
}

// HasMagic reports whether the header carries the stipe volume magic.
func (h Header) HasMagic() bool {
	return bytes.Equal(h.Magic(), Magic[:])
}
