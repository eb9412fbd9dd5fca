//go:build amd64 && !noasm

package gf

import "github.com/klauspost/cpuid/v2"

// The AVX2 kernel consumes the split-nibble tables: the 16-byte low and high
// halves are broadcast across both 128-bit lanes and applied with VPSHUFB,
// 64 bytes per iteration. Anything past the largest multiple of 64 runs
// through the scalar table loop, which produces identical bytes.

var useAVX2 = cpuid.CPU.Has(cpuid.AVX2) && cpuid.CPU.Has(cpuid.SSSE3)

//go:noescape
func mulAVX2x64(low, high *byte, src, dst *byte, n int)

//go:noescape
func mulAddAVX2x64(low, high *byte, src, dst *byte, n int)

//go:noescape
func xorAVX2x64(src, dst *byte, n int)

func mulSlice(c byte, src, dst []byte) {
	if useAVX2 && len(src) >= 64 {
		done := len(src) &^ 63
		mulAVX2x64(&mulTableLow[c][0], &mulTableHigh[c][0], &src[0], &dst[0], done)
		src = src[done:]
		dst = dst[done:]
	}
	mulSliceScalar(c, src, dst)
}

func mulAddSlice(c byte, src, dst []byte) {
	if useAVX2 && len(src) >= 64 {
		done := len(src) &^ 63
		mulAddAVX2x64(&mulTableLow[c][0], &mulTableHigh[c][0], &src[0], &dst[0], done)
		src = src[done:]
		dst = dst[done:]
	}
	mulAddSliceScalar(c, src, dst)
}

func xorSlice(src, dst []byte) {
	if useAVX2 && len(src) >= 64 {
		done := len(src) &^ 63
		xorAVX2x64(&src[0], &dst[0], done)
		src = src[done:]
		dst = dst[done:]
	}
	xorSliceScalar(src, dst)
}
