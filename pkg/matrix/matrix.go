// Package matrix implements row-major byte matrices over GF(2^8): the
// Vandermonde and Cauchy generator constructions, submatrix extraction,
// multiplication, and in-place Gauss-Jordan inversion. These are the building
// blocks the Reed-Solomon codec assembles its generator matrix from.
package matrix

import (
	"errors"
	"fmt"

	"github.com/kelpfs/stipe/pkg/gf"
)

// ErrNotInvertible is returned by Invert when the matrix is singular.
// Singular inputs are an expected failure mode (a decode submatrix can be
// singular), never a crash.
var ErrNotInvertible = errors.New("matrix: not invertible")

// Matrix is a dense row-major matrix over GF(2^8). Rows share no storage;
// each row is an independent slice.
type Matrix [][]byte

// New returns a zeroed rows x cols matrix.
func New(rows, cols int) Matrix {
	m := make(Matrix, rows)
	backing := make([]byte, rows*cols)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}

// Identity returns the n x n identity matrix.
func Identity(n int) Matrix {
	m := New(n, n)
	for i := 0; i < n; i++ {
		m[i][i] = 1
	}
	return m
}

// Vandermonde returns the rows x cols Vandermonde matrix with entry
// (i, j) = 2^(i*j mod 255). The first row and column are all ones.
func Vandermonde(rows, cols int) Matrix {
	m := New(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if i == 0 || j == 0 {
				m[i][j] = 1
			} else {
				m[i][j] = gf.Exp(i * j % 255)
			}
		}
	}
	return m
}

// VandermondeSubmatrix returns the rows x cols matrix whose row i is the
// Vandermonde row for index rowList[i]. Used by re-striping callers that
// need generator rows for an arbitrary shard set.
func VandermondeSubmatrix(rows, cols int, rowList []uint8) Matrix {
	m := New(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if int(rowList[i]) == 0 || j == 0 {
				m[i][j] = 1
			} else {
				m[i][j] = gf.Exp(int(rowList[i]) * j % 255)
			}
		}
	}
	return m
}

// Cauchy returns the rows x cols Cauchy matrix with entry
// (i, j) = 1 / (i ^ (rows + j)). The + is integer addition; i < rows <=
// rows+j keeps the divisor non-zero, and a zero divisor is a programming
// error that panics in gf.Div.
func Cauchy(rows, cols int) Matrix {
	m := New(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m[i][j] = gf.Div(1, byte(i^(rows+j)))
		}
	}
	return m
}

// CauchySubmatrix returns a rows x cols matrix whose first sysRows rows are
// identity rows and whose remaining rows are the Cauchy rows for the indices
// in rowList.
func CauchySubmatrix(sysRows, rows, cols int, rowList []uint8) Matrix {
	m := New(rows, cols)
	for i := 0; i < rows; i++ {
		if i < sysRows {
			m[i][i] = 1
			continue
		}
		for j := 0; j < cols; j++ {
			m[i][j] = gf.Div(1, byte(int(rowList[i])^(rows+j)))
		}
	}
	return m
}

// Sub returns a copy of the rectangle [r0, r1) x [c0, c1).
func (m Matrix) Sub(r0, c0, r1, c1 int) Matrix {
	out := New(r1-r0, c1-c0)
	for i := r0; i < r1; i++ {
		copy(out[i-r0], m[i][c0:c1])
	}
	return out
}

// Multiply returns m x b. m is r x n, b is n x c, the result is r x c.
// The accumulating row runs through the arithmetic kernel.
func (m Matrix) Multiply(b Matrix) (Matrix, error) {
	if len(m) == 0 || len(b) == 0 {
		return nil, fmt.Errorf("matrix: multiply with empty operand")
	}
	if len(m[0]) != len(b) {
		return nil, fmt.Errorf("matrix: multiply %dx%d by %dx%d", len(m), len(m[0]), len(b), len(b[0]))
	}
	out := New(len(m), len(b[0]))
	for i := range m {
		for k, coeff := range m[i] {
			if coeff != 0 {
				gf.MulAddSlice(coeff, b[k], out[i])
			}
		}
	}
	return out, nil
}

// IsIdentity reports whether m is square and the identity.
func (m Matrix) IsIdentity() bool {
	for i := range m {
		if len(m[i]) != len(m) {
			return false
		}
		for j, v := range m[i] {
			if i == j {
				if v != 1 {
					return false
				}
			} else if v != 0 {
				return false
			}
		}
	}
	return true
}

// Invert replaces the square matrix m with its inverse using Gauss-Jordan
// elimination. It returns ErrNotInvertible if m is singular, leaving m in an
// unspecified state. A pivot that is already one is not rescaled, and rows
// whose entry in the pivot column is zero are skipped during elimination, so
// inverting the identity does no arithmetic; the common decode case of
// "nothing lost" stays free.
func (m Matrix) Invert() error {
	n := len(m)
	inv := Identity(n)

	for i := 0; i < n; i++ {
		if m[i][i] == 0 {
			j := i + 1
			for ; j < n; j++ {
				if m[j][i] != 0 {
					m[i], m[j] = m[j], m[i]
					inv[i], inv[j] = inv[j], inv[i]
					break
				}
			}
			if j == n {
				return ErrNotInvertible
			}
		}

		if p := m[i][i]; p != 1 {
			s := gf.Div(1, p)
			for j := 0; j < n; j++ {
				m[i][j] = gf.Mul(m[i][j], s)
				inv[i][j] = gf.Mul(inv[i][j], s)
			}
		}

		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if c := m[j][i]; c != 0 {
				gf.MulAddSlice(c, m[i], m[j])
				gf.MulAddSlice(c, inv[i], inv[j])
			}
		}
	}

	for i := range m {
		copy(m[i], inv[i])
	}
	return nil
}
