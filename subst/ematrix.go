package subst

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrEigen is returned when the eigendecomposition fails.
var ErrEigen = errors.New("eigendecomposition failed")

// EigenSystem is a real block form of the eigendecomposition Q = V D V^-1.
// A complex conjugate pair λ±iμ occupies two consecutive positions
// with Imag set to μ and -μ, the corresponding columns of Vectors hold
// the real and the imaginary part of the eigenvector.
type EigenSystem struct {
	Vectors *mat.Dense
	Inverse *mat.Dense
	Real    []float64
	Imag    []float64
}

// Copy returns a deep copy.
func (es *EigenSystem) Copy() *EigenSystem {
	return &EigenSystem{
		Vectors: mat.DenseCopyOf(es.Vectors),
		Inverse: mat.DenseCopyOf(es.Inverse),
		Real:    append([]float64(nil), es.Real...),
		Imag:    append([]float64(nil), es.Imag...),
	}
}

// Complex returns true if there is at least one complex pair.
func (es *EigenSystem) Complex() bool {
	for _, v := range es.Imag {
		if v != 0 {
			return true
		}
	}
	return false
}

// scale multiplies all the eigenvalues by f.
func (es *EigenSystem) scale(f float64) {
	for i := range es.Real {
		es.Real[i] *= f
		es.Imag[i] *= f
	}
}

// Exp computes e^Dt in the block form and stores V e^Dt V^-1 into dst.
func (es *EigenSystem) Exp(t float64, dst *mat.Dense) {
	n := len(es.Real)
	// The stationary eigenvalue is exactly zero, so an infinite
	// branch keeps only its term.
	if math.IsInf(t, 1) {
		t = math.MaxFloat64
	}
	ed := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		e := math.Exp(es.Real[i] * t)
		if e == 0 {
			if es.Imag[i] != 0 {
				i++
			}
			continue
		}
		if es.Imag[i] == 0 {
			ed.Set(i, i, e)
			continue
		}
		c, s := math.Cos(es.Imag[i]*t), math.Sin(es.Imag[i]*t)
		ed.Set(i, i, e*c)
		ed.Set(i, i+1, e*s)
		ed.Set(i+1, i, -e*s)
		ed.Set(i+1, i+1, e*c)
		i++
	}
	var tmp mat.Dense
	tmp.Mul(es.Vectors, ed)
	dst.Mul(&tmp, es.Inverse)
}

// stationaryIndex returns the position of the largest real eigenvalue,
// which is zero for a rate matrix.
func (es *EigenSystem) stationaryIndex() int {
	k := 0
	for i := 1; i < len(es.Real); i++ {
		if es.Imag[i] == 0 && (es.Imag[k] != 0 || es.Real[i] > es.Real[k]) {
			k = i
		}
	}
	return k
}

// zeroStationary removes the rounding error of the stationary
// eigenvalue.
func (es *EigenSystem) zeroStationary() {
	if k := es.stationaryIndex(); es.Imag[k] == 0 {
		es.Real[k] = 0
	}
}

// stationary returns the normalized left eigenvector of the zero
// eigenvalue.
func (es *EigenSystem) stationary() []float64 {
	n := len(es.Real)
	k := es.stationaryIndex()
	pi := make([]float64, n)
	sum := 0.0
	for j := 0; j < n; j++ {
		pi[j] = es.Inverse.At(k, j)
		sum += pi[j]
	}
	for j := range pi {
		pi[j] = math.Max(0, pi[j]/sum)
	}
	return pi
}

// inverse computes V^-1. Ill-conditioning is not an error here, it
// is checked separately against the maximum condition number.
func inverse(v *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(v); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, err
		}
	}
	return &inv, nil
}

// decomposeGeneral decomposes an arbitrary real matrix.
func decomposeGeneral(q *mat.Dense) (*EigenSystem, error) {
	n, _ := q.Dims()
	var eig mat.Eigen
	if !eig.Factorize(q, mat.EigenRight) {
		return nil, ErrEigen
	}
	vals := eig.Values(nil)
	var cv mat.CDense
	eig.VectorsTo(&cv)

	es := &EigenSystem{
		Vectors: mat.NewDense(n, n, nil),
		Real:    make([]float64, n),
		Imag:    make([]float64, n),
	}
	for j := 0; j < n; j++ {
		lambda := vals[j]
		if imag(lambda) == 0 {
			for i := 0; i < n; i++ {
				es.Vectors.Set(i, j, real(cv.At(i, j)))
			}
			es.Real[j] = real(lambda)
			continue
		}
		if j+1 >= n {
			return nil, ErrEigen
		}
		mu, sign := imag(lambda), 1.0
		if mu < 0 {
			mu, sign = -mu, -1
		}
		for i := 0; i < n; i++ {
			v := cv.At(i, j)
			es.Vectors.Set(i, j, real(v))
			es.Vectors.Set(i, j+1, sign*imag(v))
		}
		es.Real[j], es.Real[j+1] = real(lambda), real(lambda)
		es.Imag[j], es.Imag[j+1] = mu, -mu
		j++
	}
	inv, err := inverse(es.Vectors)
	if err != nil {
		return nil, err
	}
	es.Inverse = inv
	es.zeroStationary()
	return es, nil
}

// decomposeReversible decomposes a reversible matrix through the
// symmetric matrix Π^1/2 Q Π^-1/2. All frequencies must be positive.
func decomposeReversible(q *mat.Dense, pi []float64) (*EigenSystem, error) {
	n, _ := q.Dims()
	sq := make([]float64, n)
	for i, p := range pi {
		sq[i] = math.Sqrt(p)
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// average both triangles to remove rounding asymmetry
			a := sq[i] * q.At(i, j) / sq[j]
			b := sq[j] * q.At(j, i) / sq[i]
			s.SetSym(i, j, (a+b)/2)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		return nil, ErrEigen
	}
	var u mat.Dense
	eig.VectorsTo(&u)
	es := &EigenSystem{
		Vectors: mat.NewDense(n, n, nil),
		Inverse: mat.NewDense(n, n, nil),
		Real:    eig.Values(nil),
		Imag:    make([]float64, n),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			es.Vectors.Set(i, j, u.At(i, j)/sq[i])
			es.Inverse.Set(i, j, u.At(j, i)*sq[j])
		}
	}
	es.zeroStationary()
	return es, nil
}
