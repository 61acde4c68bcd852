package gmrf

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrZeroInterval is returned when two neighbouring coalescent
// intervals both have zero length.
var ErrZeroInterval = errors.New("zero-length coalescent intervals")

// SymTridiag is a symmetric tridiagonal matrix stored as a gonum
// symmetric band matrix with one super-diagonal.
type SymTridiag struct {
	n    int
	data []float64
	band *mat.SymBandDense
}

// NewSymTridiag creates a zero n×n matrix.
func NewSymTridiag(n int) *SymTridiag {
	if n < 1 {
		panic("matrix size should be > 0")
	}
	data := make([]float64, 2*n)
	return &SymTridiag{
		n:    n,
		data: data,
		band: mat.NewSymBandDense(n, 1, data),
	}
}

// N returns matrix size.
func (m *SymTridiag) N() int {
	return m.n
}

// Diag returns diagonal element i.
func (m *SymTridiag) Diag(i int) float64 {
	return m.data[2*i]
}

// Off returns off-diagonal element (i, i+1).
func (m *SymTridiag) Off(i int) float64 {
	if i >= m.n-1 {
		panic("off-diagonal index out of range")
	}
	return m.data[2*i+1]
}

// SetDiag sets diagonal element i.
func (m *SymTridiag) SetDiag(i int, v float64) {
	m.data[2*i] = v
}

// SetOff sets off-diagonal element (i, i+1).
func (m *SymTridiag) SetOff(i int, v float64) {
	if i >= m.n-1 {
		panic("off-diagonal index out of range")
	}
	m.data[2*i+1] = v
}

// At returns element (i, j).
func (m *SymTridiag) At(i, j int) float64 {
	return m.band.At(i, j)
}

// Matrix returns the gonum view of the matrix, it shares storage.
func (m *SymTridiag) Matrix() *mat.SymBandDense {
	return m.band
}

// Dense returns a dense copy of the matrix.
func (m *SymTridiag) Dense() *mat.Dense {
	d := mat.NewDense(m.n, m.n, nil)
	d.Copy(m.band)
	return d
}

// MulVec computes m*x and stores it in dst.
func (m *SymTridiag) MulVec(dst, x []float64) []float64 {
	if len(x) != m.n {
		panic(mat.ErrShape)
	}
	if len(dst) != m.n {
		dst = make([]float64, m.n)
	}
	y := mat.NewVecDense(m.n, dst)
	y.MulVec(m.band, mat.NewVecDense(m.n, x))
	return dst
}

// QuadForm computes xᵀ m x.
func (m *SymTridiag) QuadForm(x []float64) float64 {
	v := mat.NewVecDense(m.n, x)
	return mat.Inner(v, m.band, v)
}

// Copy returns a deep copy.
func (m *SymTridiag) Copy() *SymTridiag {
	c := NewSymTridiag(m.n)
	copy(c.data, m.data)
	return c
}

// CopyFrom copies src into m.
func (m *SymTridiag) CopyFrom(src *SymTridiag) {
	if m.n != src.n {
		panic(mat.ErrShape)
	}
	copy(m.data, src.data)
}

// Equal returns true if all the elements are equal.
func (m *SymTridiag) Equal(o *SymTridiag) bool {
	if m.n != o.n {
		return false
	}
	for i := 0; i < m.n; i++ {
		if m.Diag(i) != o.Diag(i) {
			return false
		}
		if i < m.n-1 && m.Off(i) != o.Off(i) {
			return false
		}
	}
	return true
}

func (m *SymTridiag) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.band, mat.Squeeze()))
}

// BuildWeights fills dst with the GMRF weight matrix built from field
// interval lengths. Off-diagonal i is -2/(l[i]+l[i+1]), multiplied by
// rootHeight when timeAware is set; the diagonal is minus the sum of
// the adjacent off-diagonals.
func BuildWeights(lengths []float64, timeAware bool, rootHeight float64, dst *SymTridiag) error {
	n := len(lengths)
	if dst.n != n {
		panic(mat.ErrShape)
	}
	scale := 1.0
	if timeAware {
		scale = rootHeight
	}
	for i := 0; i < n-1; i++ {
		s := lengths[i] + lengths[i+1]
		if s == 0 {
			return fmt.Errorf("%w: field indices %d and %d", ErrZeroInterval, i, i+1)
		}
		dst.SetOff(i, -2/s*scale)
	}
	if n == 1 {
		dst.SetDiag(0, 0)
		return nil
	}
	dst.SetDiag(0, -dst.Off(0))
	for i := 1; i < n-1; i++ {
		dst.SetDiag(i, -(dst.Off(i-1) + dst.Off(i)))
	}
	dst.SetDiag(n-1, -dst.Off(n-2))
	return nil
}

// ScaledBy fills dst with tau*w.
func ScaledBy(w *SymTridiag, tau float64, dst *SymTridiag) *SymTridiag {
	if dst == nil {
		dst = NewSymTridiag(w.n)
	}
	for i, v := range w.data {
		dst.data[i] = tau * v
	}
	return dst
}

// Scaled fills dst with the precision matrix mixing w and the
// identity: diagonal tau*(1-lambda+lambda*w[i,i]), off-diagonal
// tau*lambda*w[i,i+1]. lambda=1 is the plain scaling.
func Scaled(w *SymTridiag, tau, lambda float64, dst *SymTridiag) *SymTridiag {
	if lambda == 1 {
		return ScaledBy(w, tau, dst)
	}
	if dst == nil {
		dst = NewSymTridiag(w.n)
	}
	for i := 0; i < w.n; i++ {
		dst.SetDiag(i, tau*(1-lambda+lambda*w.Diag(i)))
		if i < w.n-1 {
			dst.SetOff(i, tau*lambda*w.Off(i))
		}
	}
	return dst
}
