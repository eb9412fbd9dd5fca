// Package volume implements the one-file volume of the storage core: header
// lifecycle, stripe placement, and the read, write, and two-phase update
// paths that compose the interleave, the Reed-Solomon codec, and the async
// block I/O layer.
//
// A volume stores the shards its header lists, one block per shard per
// stripe, contiguously within the stripe. The region past the tail offset is
// the rollback area: stripe updates stage the pre-image there and wait for
// it to be durable before overwriting in place, which keeps crash recovery
// deterministic across out-of-order completions.
package volume

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kelpfs/stipe/internal/blockio"
	"github.com/kelpfs/stipe/pkg/block"
)

// ErrVolume reports a volume that cannot be created or opened.
var ErrVolume = errors.New("volume: unusable volume")

// Options configure volume creation.
type Options struct {
	// ShardIDs are the shards this volume stores, ascending, at most 8.
	ShardIDs []uint8

	// StripeCapacity is the number of stripes between the header and the
	// tail.
	StripeCapacity uint64

	// QueueDepth is the I/O queue depth; 0 means the blockio default.
	QueueDepth int

	// NoDirectIO opens the file without O_DIRECT. Meant for filesystems
	// without direct I/O support; production volumes leave it unset.
	NoDirectIO bool

	// Logger is an optional structured logger. If nil, a default one is
	// used.
	Logger *logrus.Logger
}

// Volume is one open volume file and its I/O context. Not safe for
// concurrent use; the submit/poll discipline is single-threaded.
type Volume struct {
	f    *os.File
	path string
	hdr  block.Header
	io   *blockio.Context
	log  *logrus.Logger
}

func openFile(path string, flag int, noDirect bool) (*os.File, error) {
	if noDirect {
		return os.OpenFile(path, flag, 0o644)
	}
	return blockio.OpenFile(path, flag, 0o644)
}

// Create initializes a new volume file at path: it stamps and seals the
// header, preallocates the stripe region plus one stripe of rollback area,
// and syncs. Fails if the file already exists.
func Create(path string, opts Options) (*Volume, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.StripeCapacity == 0 {
		return nil, fmt.Errorf("%w: zero stripe capacity", ErrVolume)
	}

	hdr := block.NewHeader()
	hdr.SetMagic()
	hdr.SetVersion(block.HeaderVersion)
	prefix, err := randomPrefix()
	if err != nil {
		return nil, fmt.Errorf("volume: prefix id: %w", err)
	}
	hdr.SetVolumePrefixID(prefix)
	if err := hdr.SetShardIDs(opts.ShardIDs); err != nil {
		return nil, err
	}
	kv := hdr.KBlocksInStripe()
	tail := uint64(block.HeaderSize) + uint64(block.BlockSize)*uint64(kv)*opts.StripeCapacity
	hdr.SetTailOffset(tail)
	hdr.Seal()

	f, err := openFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, opts.NoDirectIO)
	if err != nil {
		return nil, fmt.Errorf("volume: create %s: %w", path, err)
	}
	v := &Volume{
		f:    f,
		path: path,
		hdr:  hdr,
		io:   blockio.NewContext(opts.QueueDepth, opts.Logger),
		log:  opts.Logger,
	}

	// Rollback area: one stripe of pre-image past the tail.
	if err := preallocate(f, int64(tail)+int64(kv)*block.BlockSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("volume: preallocate %s: %w", path, err)
	}
	if _, err := v.io.SubmitWrite(f, 0, hdr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := v.io.WaitAll(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("volume: sync %s: %w", path, err)
	}

	v.log.WithFields(logrus.Fields{
		"path":    path,
		"prefix":  fmt.Sprintf("%#x", prefix),
		"shards":  opts.ShardIDs,
		"stripes": opts.StripeCapacity,
	}).Info("volume created")
	return v, nil
}

// Open opens an existing volume and validates its header.
func Open(path string, opts Options) (*Volume, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	f, err := openFile(path, os.O_RDWR, opts.NoDirectIO)
	if err != nil {
		return nil, fmt.Errorf("volume: open %s: %w", path, err)
	}
	v := &Volume{
		f:    f,
		path: path,
		io:   blockio.NewContext(opts.QueueDepth, opts.Logger),
		log:  opts.Logger,
	}

	req, err := v.io.SubmitRead(f, 0, 1)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := v.io.WaitAll(); err != nil {
		f.Close()
		return nil, err
	}
	hdr := block.Header(req.Buffer)
	if err := hdr.Validate(); err != nil {
		f.Close()
		return nil, fmt.Errorf("volume: %s: %w", path, err)
	}
	v.hdr = hdr
	return v, nil
}

// Header returns the volume header. Callers must not modify it.
func (v *Volume) Header() block.Header { return v.hdr }

// Path returns the backing file path.
func (v *Volume) Path() string { return v.path }

// KBlocks returns the shard count per stripe on this volume.
func (v *Volume) KBlocks() int { return v.hdr.KBlocksInStripe() }

// Close syncs and closes the backing file. Requests still in flight are the
// caller's bug.
func (v *Volume) Close() error {
	if n := v.io.Inflight(); n != 0 {
		v.log.WithField("inflight", n).Warn("volume closed with requests in flight")
	}
	if err := v.f.Sync(); err != nil {
		v.f.Close()
		return fmt.Errorf("volume: sync %s: %w", v.path, err)
	}
	return v.f.Close()
}

// Sync flushes completed writes to stable storage.
func (v *Volume) Sync() error {
	return v.f.Sync()
}

// submitBlockWrite queues a sealed block at its stripe position.
func (v *Volume) submitBlockWrite(b block.Block) (*blockio.Request, error) {
	off, err := v.hdr.OffsetToBlock(b.Stripe(), b.Shard())
	if err != nil {
		return nil, err
	}
	return v.io.SubmitWrite(v.f, off/block.BlockSize, b)
}

// submitStripeRead queues one read covering the whole stripe: the volume's
// blocks of a stripe are contiguous.
func (v *Volume) submitStripeRead(stripe uint64) (*blockio.Request, error) {
	first := v.hdr.ShardIDs()[0]
	off, err := v.hdr.OffsetToBlock(stripe, first)
	if err != nil {
		return nil, err
	}
	return v.io.SubmitRead(v.f, off/block.BlockSize, v.KBlocks())
}

// submitRollbackWrite queues pre-image blocks into the rollback area at the
// tail. Slot i of the area holds the volume's i-th stripe block.
func (v *Volume) submitRollbackWrite(preimage []byte) (*blockio.Request, error) {
	tailPage := int64(v.hdr.TailOffset()) / block.BlockSize
	return v.io.SubmitWrite(v.f, tailPage, preimage)
}

func randomPrefix() (uint32, error) {
	var raw [4]byte
	for {
		if _, err := rand.Read(raw[:]); err != nil {
			return 0, err
		}
		id := binary.LittleEndian.Uint32(raw[:])
		if id >= block.MinVolumePrefix {
			return id, nil
		}
	}
}
