//go:build !amd64 || noasm

package gf

func mulSlice(c byte, src, dst []byte) {
	mulSliceScalar(c, src, dst)
}

func mulAddSlice(c byte, src, dst []byte) {
	mulAddSliceScalar(c, src, dst)
}

func xorSlice(src, dst []byte) {
	xorSliceScalar(src, dst)
}
