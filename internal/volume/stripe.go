package volume

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kelpfs/stipe/internal/blockio"
	"github.com/kelpfs/stipe/pkg/block"
	"github.com/kelpfs/stipe/pkg/rs"
)

var (
	// ErrStripePayload reports a stripe payload of the wrong length.
	ErrStripePayload = errors.New("volume: bad stripe payload length")

	// ErrShardHomeless reports a codec shard no volume in the set stores.
	ErrShardHomeless = errors.New("volume: shard has no volume")
)

// Set groups the volumes that together hold a stripe's n shards and drives
// whole-stripe operations through the codec. Like Volume, a Set is
// single-threaded.
type Set struct {
	vols  []*Volume
	codec *rs.RS
	home  map[uint8]*Volume
	log   *logrus.Logger
}

// NewSet builds a set over vols for codec. Every shard id of the codec must
// be stored by exactly one volume.
func NewSet(vols []*Volume, codec *rs.RS, logger *logrus.Logger) (*Set, error) {
	if logger == nil {
		logger = logrus.New()
	}
	home := make(map[uint8]*Volume)
	for _, v := range vols {
		ids := v.hdr.ShardIDs()[:v.KBlocks()]
		for _, id := range ids {
			if int(id) >= codec.Shards {
				return nil, fmt.Errorf("%w: shard %d on %s outside codec range %d", ErrVolume, id, v.path, codec.Shards)
			}
			if other, ok := home[id]; ok {
				return nil, fmt.Errorf("%w: shard %d on both %s and %s", ErrVolume, id, other.path, v.path)
			}
			home[id] = v
		}
	}
	for id := 0; id < codec.Shards; id++ {
		if _, ok := home[uint8(id)]; !ok {
			return nil, fmt.Errorf("%w: shard %d", ErrShardHomeless, id)
		}
	}
	return &Set{vols: vols, codec: codec, home: home, log: logger}, nil
}

// PayloadSize returns the caller payload bytes per stripe: k data blocks'
// worth.
func (s *Set) PayloadSize() int {
	return s.codec.DataShards * block.PayloadSize
}

// WriteStripe spreads payload over the k data shards, encodes parity, stamps
// every block with (stripe, shard, seq), and writes all n blocks through the
// volumes' I/O contexts, waiting for completion. payload must be exactly
// PayloadSize bytes.
func (s *Set) WriteStripe(stripe uint64, seq uint32, payload []byte) error {
	if len(payload) != s.PayloadSize() {
		return fmt.Errorf("%w: %d, want %d", ErrStripePayload, len(payload), s.PayloadSize())
	}

	k, n := s.codec.DataShards, s.codec.Shards
	blocks := make([]block.Block, n)
	payloads := make([][]byte, n)
	for i := range blocks {
		blocks[i] = block.NewBlock()
		payloads[i] = blocks[i].Payload()
	}

	// PayloadSize is k*4080 = k*255*16, so the interleave precondition
	// holds by construction.
	block.Spread(payload, payloads[:k], k)
	if err := s.codec.Encode(payloads[:k], payloads[k:]); err != nil {
		return err
	}

	for id, b := range blocks {
		b.SetSequenceNumber(seq)
		b.SetLocation(stripe, uint8(id))
		b.Seal()
		if _, err := s.home[uint8(id)].submitBlockWrite(b); err != nil {
			s.drainAll()
			return err
		}
	}
	return s.drainAll()
}

// ReadStripe reads every volume's blocks for the stripe, validates them,
// decodes any missing or corrupt shards, and reassembles the caller
// payload. A block that fails validation is treated as erased; the read only
// fails when fewer than k shards survive.
func (s *Set) ReadStripe(stripe uint64) ([]byte, error) {
	shards, erasures, _, err := s.readShards(stripe)
	if err != nil {
		return nil, err
	}
	if err := s.codec.Decode(shards, erasures); err != nil {
		return nil, err
	}

	out := make([]byte, s.PayloadSize())
	block.Unspread(shards[:s.codec.DataShards], out, s.codec.DataShards)
	return out, nil
}

// UpdateStripe replaces a stripe's payload with two-phase durability: each
// volume's current stripe blocks, as read from disk, are staged into its
// rollback area and
// synced before the in-place rewrite is submitted. The new blocks carry the
// next sequence number after the largest one observed in the pre-image.
func (s *Set) UpdateStripe(stripe uint64, payload []byte) error {
	if len(payload) != s.PayloadSize() {
		return fmt.Errorf("%w: %d, want %d", ErrStripePayload, len(payload), s.PayloadSize())
	}

	// Phase 1: stage the pre-image at each volume's tail and make it
	// durable before touching the stripe in place.
	preimages, maxSeq, err := s.readPreimages(stripe)
	if err != nil {
		return err
	}
	for v, pre := range preimages {
		if _, err := v.submitRollbackWrite(pre); err != nil {
			s.drainAll()
			return err
		}
	}
	if err := s.drainAll(); err != nil {
		return err
	}
	for v := range preimages {
		if err := v.Sync(); err != nil {
			return err
		}
	}

	// Phase 2: the stripe itself.
	if err := s.WriteStripe(stripe, maxSeq+1, payload); err != nil {
		return err
	}
	for _, v := range s.vols {
		if err := v.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// readShards fetches and validates the stripe's blocks across all volumes.
// It returns one shard payload slot per codec shard with the erasure mask,
// plus the largest sequence number seen on a valid block.
func (s *Set) readShards(stripe uint64) ([][]byte, []bool, uint32, error) {
	reqs := make(map[*Volume]*blockio.Request, len(s.vols))
	for _, v := range s.vols {
		r, err := v.submitStripeRead(stripe)
		if err != nil {
			s.drainAll()
			return nil, nil, 0, err
		}
		reqs[v] = r
	}
	if err := s.drainAll(); err != nil {
		// Individual request failures degrade to erasures below; only
		// log here.
		s.log.WithError(err).Warn("stripe read completed with errors")
	}

	n := s.codec.Shards
	shards := make([][]byte, n)
	erasures := make([]bool, n)
	for i := range erasures {
		erasures[i] = true
	}
	var maxSeq uint32

	for v, req := range reqs {
		if req.Err() != nil {
			continue
		}
		ids := v.hdr.ShardIDs()[:v.KBlocks()]
		for i, id := range ids {
			b := block.Block(req.Buffer[i*block.BlockSize : (i+1)*block.BlockSize])
			if err := b.Validate(); err != nil {
				s.log.WithFields(logrus.Fields{
					"volume": v.path,
					"stripe": stripe,
					"shard":  id,
				}).WithError(err).Warn("block failed validation, treating as erased")
				continue
			}
			if b.Stripe() != stripe || b.Shard() != id {
				s.log.WithFields(logrus.Fields{
					"volume": v.path,
					"stripe": stripe,
					"shard":  id,
					"got":    fmt.Sprintf("%d/%d", b.Stripe(), b.Shard()),
				}).Warn("block identity mismatch, treating as erased")
				continue
			}
			shards[id] = b.Payload()
			erasures[id] = false
			if seq := b.SequenceNumber(); seq > maxSeq {
				maxSeq = seq
			}
		}
	}

	for id := range shards {
		if erasures[id] {
			shards[id] = make([]byte, block.PayloadSize)
		}
	}
	return shards, erasures, maxSeq, nil
}

// readPreimages collects each volume's raw stripe bytes for the rollback
// area, without validating them, and the largest sequence number among the
// blocks that validate.
func (s *Set) readPreimages(stripe uint64) (map[*Volume][]byte, uint32, error) {
	reqs := make(map[*Volume]*blockio.Request, len(s.vols))
	for _, v := range s.vols {
		r, err := v.submitStripeRead(stripe)
		if err != nil {
			s.drainAll()
			return nil, 0, err
		}
		reqs[v] = r
	}
	if err := s.drainAll(); err != nil {
		return nil, 0, err
	}

	pre := make(map[*Volume][]byte, len(s.vols))
	var maxSeq uint32
	for v, req := range reqs {
		pre[v] = req.Buffer
		for i := 0; i < v.KBlocks(); i++ {
			b := block.Block(req.Buffer[i*block.BlockSize : (i+1)*block.BlockSize])
			if b.Validate() == nil && b.SequenceNumber() > maxSeq {
				maxSeq = b.SequenceNumber()
			}
		}
	}
	return pre, maxSeq, nil
}

func (s *Set) drainAll() error {
	var errs []error
	for _, v := range s.vols {
		if _, err := v.io.WaitAll(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
