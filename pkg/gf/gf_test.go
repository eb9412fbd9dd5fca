package gf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMulDivRoundTrip(t *testing.T) {
	// (a*b)/b == a for every pair with b != 0.
	for a := 0; a < 256; a++ {
		for b := 1; b < 256; b++ {
			p := Mul(byte(a), byte(b))
			assert.Equal(t, byte(a), Div(p, byte(b)), "a=%d b=%d", a, b)
		}
	}
}

func TestMulIdentities(t *testing.T) {
	for a := 0; a < 256; a++ {
		assert.Equal(t, byte(0), Mul(byte(a), 0))
		assert.Equal(t, byte(0), Mul(0, byte(a)))
		assert.Equal(t, byte(a), Mul(byte(a), 1))
		assert.Equal(t, byte(a), Mul(1, byte(a)))
	}
}

func TestMulCommutative(t *testing.T) {
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			assert.Equal(t, Mul(byte(a), byte(b)), Mul(byte(b), byte(a)))
		}
	}
}

func TestDivByZeroPanics(t *testing.T) {
	assert.Panics(t, func() { Div(1, 0) })
}

func TestInv(t *testing.T) {
	for a := 1; a < 256; a++ {
		inv := Inv(byte(a))
		assert.Equal(t, byte(1), Mul(byte(a), inv), "a=%d", a)
	}
}

func TestPow(t *testing.T) {
	for a := 0; a < 256; a++ {
		want := byte(1)
		for n := 0; n < 12; n++ {
			assert.Equal(t, want, Pow(byte(a), n), "a=%d n=%d", a, n)
			want = Mul(want, byte(a))
		}
	}
}

func TestExpCycle(t *testing.T) {
	// The duplicated top half avoids reductions on chained log lookups.
	for i := 0; i < 255; i++ {
		assert.Equal(t, Exp(i), Exp(i+255))
	}
	assert.Equal(t, byte(1), Exp(0))
	assert.Equal(t, byte(2), Exp(1))
}

// sliceSizes covers the SIMD body, the scalar tail, and every interesting
// residue around the 64-byte step.
var sliceSizes = []int{0, 1, 5, 15, 16, 31, 32, 63, 64, 65, 96, 127, 128, 129,
	255, 256, 1000, 4080, 4096, 10000}

func TestMulSliceMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range sliceSizes {
		for _, c := range []byte{0, 1, 2, 0x1d, 0x8e, 0xff, byte(rng.Intn(256))} {
			src := make([]byte, n)
			rng.Read(src)

			want := make([]byte, n)
			mulSliceScalar(c, src, want)

			got := make([]byte, n)
			MulSlice(c, src, got)
			require.Equal(t, want, got, "n=%d c=%d", n, c)
		}
	}
}

func TestMulAddSliceMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, n := range sliceSizes {
		for _, c := range []byte{0, 1, 2, 0x1d, 0x8e, 0xff, byte(rng.Intn(256))} {
			src := make([]byte, n)
			rng.Read(src)
			dst := make([]byte, n)
			rng.Read(dst)

			want := append([]byte(nil), dst...)
			mulAddSliceScalar(c, src, want)

			got := append([]byte(nil), dst...)
			MulAddSlice(c, src, got)
			require.Equal(t, want, got, "n=%d c=%d", n, c)
		}
	}
}

func TestAddSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range sliceSizes {
		src := make([]byte, n)
		rng.Read(src)
		dst := make([]byte, n)
		rng.Read(dst)

		want := make([]byte, n)
		for i := range want {
			want[i] = src[i] ^ dst[i]
		}

		AddSlice(src, dst)
		require.Equal(t, want, dst, "n=%d", n)
	}
}

func TestMulSliceRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := rapid.Byte().Draw(t, "c")
		src := rapid.SliceOfN(rapid.Byte(), 0, 10000).Draw(t, "src")

		want := make([]byte, len(src))
		for i, s := range src {
			want[i] = Mul(c, s)
		}

		got := make([]byte, len(src))
		MulSlice(c, src, got)
		require.Equal(t, want, got)
	})
}

func TestMulAddIsMulThenAdd(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := rapid.Byte().Draw(t, "c")
		src := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "src")
		dst := rapid.SliceOfN(rapid.Byte(), len(src), len(src)).Draw(t, "dst")

		want := append([]byte(nil), dst...)
		tmp := make([]byte, len(src))
		MulSlice(c, src, tmp)
		AddSlice(tmp, want)

		got := append([]byte(nil), dst...)
		MulAddSlice(c, src, got)
		require.Equal(t, want, got)
	})
}

func BenchmarkMulAddSlice4K(b *testing.B) {
	src := make([]byte, 4096)
	dst := make([]byte, 4096)
	rand.New(rand.NewSource(4)).Read(src)
	b.SetBytes(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MulAddSlice(0x8e, src, dst)
	}
}

func BenchmarkMulSlice4K(b *testing.B) {
	src := make([]byte, 4096)
	dst := make([]byte, 4096)
	rand.New(rand.NewSource(5)).Read(src)
	b.SetBytes(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MulSlice(0x8e, src, dst)
	}
}
