// Package rs implements systematic Reed-Solomon erasure coding over GF(2^8).
//
// A codec for (k data, m parity) shards owns an n x k generator matrix,
// n = k+m, whose top k x k block is the identity: encoding leaves the data
// shards verbatim and produces m parity shards, and any k surviving shards
// of the n reconstruct the rest. The generator is a Cauchy matrix normalized
// by the inverse of its top block, which preserves the MDS property, so
// every k x k submatrix is invertible.
//
// The codec never allocates shard storage; callers pass equally sized shard
// buffers and keep ownership. A codec is immutable after construction and
// safe for concurrent use with disjoint buffers.
package rs

import (
	"errors"
	"fmt"

	"github.com/kelpfs/stipe/pkg/gf"
	"github.com/kelpfs/stipe/pkg/matrix"
)

// MaxShards bounds data+parity: shard identities are field elements.
const MaxShards = 255

var (
	// ErrInvalidShardCount reports a codec constructed or invoked with
	// shard counts out of range.
	ErrInvalidShardCount = errors.New("rs: invalid shard count")

	// ErrInsufficientShards reports a decode with fewer than DataShards
	// survivors.
	ErrInsufficientShards = errors.New("rs: insufficient shards")

	// ErrNotInvertible reports an input submatrix that cannot be inverted,
	// so the requested outputs cannot be produced.
	ErrNotInvertible = matrix.ErrNotInvertible

	// ErrShardSize reports shard buffers of unequal length.
	ErrShardSize = errors.New("rs: shard buffers differ in length")
)

// RS is a Reed-Solomon codec instance for a fixed shard geometry.
type RS struct {
	// DataShards is k, the number of data shards.
	DataShards int
	// ParityShards is m, the number of parity shards.
	ParityShards int
	// Shards is n = k + m.
	Shards int

	// gen is the n x k generator matrix; gen[:k] is the identity.
	gen matrix.Matrix
}

// New constructs a codec for dataShards data and parityShards parity shards.
func New(dataShards, parityShards int) (*RS, error) {
	n := dataShards + parityShards
	// n+k <= 256: the Cauchy construction draws n row points and k column
	// points from the field, and they must stay disjoint.
	if dataShards <= 0 || parityShards <= 0 || n > MaxShards || n+dataShards > 256 {
		return nil, fmt.Errorf("%w: data=%d parity=%d", ErrInvalidShardCount, dataShards, parityShards)
	}

	// Normalize a Cauchy matrix by the inverse of its top block. The top
	// of the product is the identity, so the code is systematic, and the
	// normalization keeps every k x k submatrix invertible.
	c := matrix.Cauchy(n, dataShards)
	top := c.Sub(0, 0, dataShards, dataShards)
	if err := top.Invert(); err != nil {
		return nil, fmt.Errorf("rs: cauchy top block: %w", err)
	}
	gen, err := c.Multiply(top)
	if err != nil {
		return nil, fmt.Errorf("rs: build generator: %w", err)
	}

	return &RS{
		DataShards:   dataShards,
		ParityShards: parityShards,
		Shards:       n,
		gen:          gen,
	}, nil
}

// Generator returns the row of the generator matrix for shard id. The slice
// aliases codec state and must not be modified.
func (r *RS) Generator(id int) []byte {
	return r.gen[id]
}

// Encode computes the parity shards from the data shards. All shards must
// have equal length. Parity buffers are pure outputs: they are overwritten,
// never read, and need not be zeroed.
func (r *RS) Encode(data, parity [][]byte) error {
	if len(data) != r.DataShards || len(parity) != r.ParityShards {
		return fmt.Errorf("%w: got %d data, %d parity", ErrInvalidShardCount, len(data), len(parity))
	}
	if err := checkShardSizes(len(data[0]), data, parity); err != nil {
		return err
	}
	for i := 0; i < r.ParityShards; i++ {
		codeRow(r.gen[r.DataShards+i], data, parity[i])
	}
	return nil
}

// Decode reconstructs the missing shards in place. erasures[i] marks shard i
// as missing: its buffer is writable output storage. Present shards are
// read-only and come back byte-for-byte unchanged. Fails with
// ErrInsufficientShards when fewer than DataShards shards are present and
// ErrNotInvertible when the surviving rows are singular (cannot happen for
// a generator built by New, which is MDS).
func (r *RS) Decode(shards [][]byte, erasures []bool) error {
	if len(shards) != r.Shards || len(erasures) != r.Shards {
		return fmt.Errorf("%w: got %d shards, %d erasures", ErrInvalidShardCount, len(shards), len(erasures))
	}

	present := make([]int, 0, r.DataShards)
	for i := 0; i < r.Shards && len(present) < r.DataShards; i++ {
		if !erasures[i] {
			present = append(present, i)
		}
	}
	presentCount := 0
	for _, e := range erasures {
		if !e {
			presentCount++
		}
	}
	if presentCount < r.DataShards {
		return fmt.Errorf("%w: %d of %d present, need %d", ErrInsufficientShards, presentCount, r.Shards, r.DataShards)
	}
	if err := checkShardSizes(len(shards[0]), shards); err != nil {
		return err
	}

	// Rows of the first k survivors, inverted: data = dec * survivors.
	dec := matrix.New(r.DataShards, r.DataShards)
	inputs := make([][]byte, r.DataShards)
	for i, id := range present {
		copy(dec[i], r.gen[id])
		inputs[i] = shards[id]
	}
	if err := dec.Invert(); err != nil {
		return err
	}

	for i, erased := range erasures {
		if !erased {
			continue
		}
		codeRow(r.reconstructionRow(r.gen[i], dec), inputs, shards[i])
	}
	return nil
}

// Code is the generic coding step: it produces the outputCount shards named
// by shardIDs[inputCount:] from the inputCount shards named by
// shardIDs[:inputCount]. shards holds the input buffers followed by the
// output buffers, all equally sized. The inputs must linearly span the
// outputs; re-striping, generating extra parity, and partial decode are all
// this operation. Fails with ErrNotInvertible when the input rows are
// singular.
func (r *RS) Code(shardIDs []int, inputCount, outputCount int, shards [][]byte) error {
	if len(shardIDs) != inputCount+outputCount || len(shards) != inputCount+outputCount {
		return fmt.Errorf("%w: %d ids, %d shards for %d+%d", ErrInvalidShardCount, len(shardIDs), len(shards), inputCount, outputCount)
	}
	if inputCount < r.DataShards {
		return fmt.Errorf("%w: %d inputs, need %d", ErrInsufficientShards, inputCount, r.DataShards)
	}
	for _, id := range shardIDs {
		if id < 0 || id >= r.Shards {
			return fmt.Errorf("%w: shard id %d out of [0,%d)", ErrInvalidShardCount, id, r.Shards)
		}
	}
	if err := checkShardSizes(len(shards[0]), shards); err != nil {
		return err
	}

	// The first k inputs pin the coding basis.
	dec := matrix.New(r.DataShards, r.DataShards)
	for i := 0; i < r.DataShards; i++ {
		copy(dec[i], r.gen[shardIDs[i]])
	}
	if err := dec.Invert(); err != nil {
		return err
	}

	inputs := shards[:r.DataShards]
	for o := 0; o < outputCount; o++ {
		row := r.reconstructionRow(r.gen[shardIDs[inputCount+o]], dec)
		codeRow(row, inputs, shards[inputCount+o])
	}
	return nil
}

// reconstructionRow returns genRow * dec, the coefficients that rebuild the
// shard with generator row genRow from the survivors dec was inverted for.
func (r *RS) reconstructionRow(genRow []byte, dec matrix.Matrix) []byte {
	row := make([]byte, r.DataShards)
	for t, c := range genRow {
		if c != 0 {
			gf.MulAddSlice(c, dec[t], row)
		}
	}
	return row
}

// codeRow applies one coding row to the input shards. The first non-zero
// coefficient overwrites dst so it never needs pre-zeroing; later
// coefficients accumulate. Coefficient one short-circuits to copy/xor.
func codeRow(row []byte, inputs [][]byte, dst []byte) {
	first := true
	for j, c := range row {
		if c == 0 {
			continue
		}
		if first {
			first = false
			if c == 1 {
				copy(dst, inputs[j])
			} else {
				gf.MulSlice(c, inputs[j], dst)
			}
		} else {
			if c == 1 {
				gf.AddSlice(inputs[j], dst)
			} else {
				gf.MulAddSlice(c, inputs[j], dst)
			}
		}
	}
	if first {
		for i := range dst {
			dst[i] = 0
		}
	}
}

func checkShardSizes(want int, groups ...[][]byte) error {
	for _, g := range groups {
		for _, s := range g {
			if len(s) != want {
				return fmt.Errorf("%w: %d vs %d", ErrShardSize, len(s), want)
			}
		}
	}
	return nil
}
