package subst

import (
	"math"
	"strings"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/skyride/model"
)

const smallDiff = 1e-8

func init() {
	logging.SetLevel(logging.CRITICAL, "subst")
}

// cyclic returns a 3-state model with a strong 0->1->2->0 cycle, its
// rate matrix has a complex eigenvalue pair.
func cyclic(tst *testing.T) (*Model, *model.Parameter) {
	rates := model.NewParameter("rates", 1, 0.01, 1, 0.01, 1, 0.01)
	m, err := NewComplexSubstitutionModel("cyclic", rates, EqualFrequencies("pi", 3), Options{})
	require.NoError(tst, err)
	return m, rates
}

func checkRows(tst *testing.T, p []float64, n int) {
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += p[i*n+j]
		}
		assert.InDelta(tst, 1, sum, 1e-6, "row %d", i)
	}
}

func TestReadFrequencies(tst *testing.T) {
	f, err := ReadFrequencies(strings.NewReader("0.1 0.2\n0.3 0.4\n"))
	require.NoError(tst, err)
	assert.Equal(tst, []float64{0.1, 0.2, 0.3, 0.4}, f)

	_, err = ReadFrequencies(strings.NewReader("0.1 x"))
	assert.Error(tst, err)

	_, err = NewFrequencies(model.NewParameter("pi", 0.5, 0.6))
	assert.ErrorIs(tst, err, ErrFrequencies)
}

func TestIdentity(tst *testing.T) {
	freqs, err := NewFrequencies(model.NewParameter("pi", 0.1, 0.2, 0.3, 0.4))
	require.NoError(tst, err)
	m, err := NewHKY("hky", model.NewParameter("kappa", 2), freqs)
	require.NoError(tst, err)
	cm, _ := cyclic(tst)

	for _, sm := range []*Model{m, cm} {
		n := sm.StateCount()
		p, err := sm.TransitionProbabilities(0, nil)
		require.NoError(tst, err)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				exp := 0.0
				if i == j {
					exp = 1
				}
				assert.InDelta(tst, exp, p[i*n+j], smallDiff)
			}
		}
		for _, t := range []float64{0.01, 0.1, 1, 10} {
			p, err = sm.TransitionProbabilities(t, p)
			require.NoError(tst, err)
			checkRows(tst, p, n)
		}
	}
}

func TestLongBranches(tst *testing.T) {
	pi := []float64{0.1, 0.2, 0.3, 0.4}
	freqs, err := NewFrequencies(model.NewParameter("pi", pi...))
	require.NoError(tst, err)
	m, err := NewHKY("hky", model.NewParameter("kappa", 2), freqs)
	require.NoError(tst, err)
	cm, _ := cyclic(tst)

	for _, sm := range []*Model{m, cm} {
		n := sm.StateCount()
		stat, err := sm.StationaryDistribution()
		require.NoError(tst, err)
		if sm == m {
			assert.InDeltaSlice(tst, pi, stat, smallDiff)
		}
		for _, t := range []float64{1e6, math.Inf(1)} {
			p, err := sm.TransitionProbabilities(t, nil)
			require.NoError(tst, err)
			for i := 0; i < n; i++ {
				sum := 0.0
				for j := 0; j < n; j++ {
					sum += p[i*n+j]
					assert.InDelta(tst, stat[j], p[i*n+j], 1e-9, "%s P(%v)[%d,%d]", sm.Name(), t, i, j)
				}
				assert.InDelta(tst, 1, sum, 1e-9, "%s P(%v) row %d", sm.Name(), t, i)
			}
		}
	}
}

func TestJukesCantor(tst *testing.T) {
	m, err := NewTN93("tn93", model.NewParameter("kappa1", 1), model.NewParameter("kappa2", 1),
		EqualFrequencies("pi", 4))
	require.NoError(tst, err)
	for _, t := range []float64{0.05, 0.5, 2} {
		p, err := m.TransitionProbabilities(t, nil)
		require.NoError(tst, err)
		same := 0.25 + 0.75*math.Exp(-4*t/3)
		diff := 0.25 - 0.25*math.Exp(-4*t/3)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if i == j {
					assert.InDelta(tst, same, p[i*4+j], smallDiff)
				} else {
					assert.InDelta(tst, diff, p[i*4+j], smallDiff)
				}
			}
		}
	}
}

func TestNormalization(tst *testing.T) {
	freqs, err := NewFrequencies(model.NewParameter("pi", 0.1, 0.2, 0.3, 0.4))
	require.NoError(tst, err)
	m, err := NewTN93("tn93", model.NewParameter("kappa1", 3), model.NewParameter("kappa2", 5), freqs)
	require.NoError(tst, err)
	q, err := m.RateMatrix()
	require.NoError(tst, err)
	rate := 0.0
	for i, p := range freqs.Values() {
		rate -= p * q.At(i, i)
	}
	assert.InDelta(tst, 1, rate, smallDiff)

	m.SetNormalized(false)
	q, err = m.RateMatrix()
	require.NoError(tst, err)
	// transversion A->C
	assert.InDelta(tst, 0.2, q.At(0, 1), smallDiff)
	// transition A->G
	assert.InDelta(tst, 3*0.3, q.At(0, 2), smallDiff)
}

func TestComplexMatchesGeneral(tst *testing.T) {
	pi := []float64{0.1, 0.2, 0.3, 0.4}
	exch := []float64{1, 2, 3, 4, 5, 6}
	// the same exchangeabilities in the complex layout: upper
	// triangle by rows then lower triangle by columns
	complexRates := append(append([]float64(nil), exch...), exch...)

	f1, err := NewFrequencies(model.NewParameter("pi", pi...))
	require.NoError(tst, err)
	gm, err := NewGeneralSubstitutionModel("gtr", model.NewParameter("r", exch...), f1)
	require.NoError(tst, err)
	f2, err := NewFrequencies(model.NewParameter("pi", pi...))
	require.NoError(tst, err)
	cm, err := NewComplexSubstitutionModel("complex", model.NewParameter("r", complexRates...), f2, Options{})
	require.NoError(tst, err)

	st, err := cm.StationaryDistribution()
	require.NoError(tst, err)
	assert.InDeltaSlice(tst, pi, st, 1e-6)

	for _, t := range []float64{0.1, 1} {
		p1, err := gm.TransitionProbabilities(t, nil)
		require.NoError(tst, err)
		p2, err := cm.TransitionProbabilities(t, nil)
		require.NoError(tst, err)
		assert.InDeltaSlice(tst, p1, p2, 1e-6)
	}
}

func TestComplexEigenvalues(tst *testing.T) {
	m, _ := cyclic(tst)
	es, err := m.Eigen()
	require.NoError(tst, err)
	assert.True(tst, es.Complex())

	// V D V^-1 reconstructs Q
	n := m.StateCount()
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, es.Real[i])
		if es.Imag[i] > 0 {
			d.Set(i, i+1, es.Imag[i])
			d.Set(i+1, i, -es.Imag[i])
		}
	}
	var r mat.Dense
	r.Product(es.Vectors, d, es.Inverse)
	q, err := m.RateMatrix()
	require.NoError(tst, err)
	assert.True(tst, mat.EqualApprox(q, &r, 1e-8))

	for _, t := range []float64{0, 0.1, 0.5, 1, 3, 20} {
		p, err := m.TransitionProbabilities(t, nil)
		require.NoError(tst, err)
		for _, v := range p {
			assert.True(tst, v >= MinProb && v <= 1, "probability %v out of range", v)
		}
		checkRows(tst, p, n)
	}

	// the stationary distribution is a left null vector of Q
	st, err := m.StationaryDistribution()
	require.NoError(tst, err)
	for j := 0; j < n; j++ {
		s := 0.0
		for i := 0; i < n; i++ {
			s += st[i] * q.At(i, j)
		}
		assert.InDelta(tst, 0, s, 1e-8)
	}
}

func TestConditionNumber(tst *testing.T) {
	m, _ := cyclic(tst)
	assert.True(tst, m.WellConditioned())
	assert.Equal(tst, 0.0, m.LogLikelihood())
	assert.True(tst, m.ConditionNumber() >= 1)

	m.SetMaxConditionNumber(0.5)
	assert.False(tst, m.WellConditioned())
	assert.True(tst, math.IsInf(m.LogLikelihood(), -1))
	_, err := m.TransitionProbabilities(1, nil)
	assert.ErrorIs(tst, err, ErrIllConditioned)
}

func TestIndicators(tst *testing.T) {
	rates := model.NewParameterDim("r", 6, 1)
	ind := model.NewParameterDim("ind", 6, 1)
	m, err := NewComplexSubstitutionModel("bssvs", rates, EqualFrequencies("pi", 3), Options{Indicators: ind})
	require.NoError(tst, err)
	assert.Equal(tst, 0.0, m.LogLikelihood())

	// keep only the 0->1->2->0 cycle: (0,1) upper, (1,2) upper,
	// (2,0) lower
	require.NoError(tst, ind.SetValues([]float64{1, 0, 1, 0, 1, 0}))
	assert.Equal(tst, 0.0, m.LogLikelihood())

	// state 2 can't leave
	ind.SetValue(4, 0)
	assert.True(tst, math.IsInf(m.LogLikelihood(), -1))
}

func TestStoreRestore(tst *testing.T) {
	m, rates := cyclic(tst)
	p0, err := m.TransitionProbabilities(0.3, nil)
	require.NoError(tst, err)

	m.StoreState()
	rates.Store()
	rates.SetValue(0, 5)
	p1, err := m.TransitionProbabilities(0.3, nil)
	require.NoError(tst, err)
	assert.NotEqual(tst, p0, p1)

	m.RestoreState()
	rates.Restore()
	p2, err := m.TransitionProbabilities(0.3, nil)
	require.NoError(tst, err)
	assert.Equal(tst, p0, p2)

	m.MakeDirty()
	p3, err := m.TransitionProbabilities(0.3, nil)
	require.NoError(tst, err)
	assert.InDeltaSlice(tst, p0, p3, 1e-12)
}

func TestDimensionErrors(tst *testing.T) {
	_, err := NewComplexSubstitutionModel("c", model.NewParameterDim("r", 5, 1), EqualFrequencies("pi", 3), Options{})
	assert.ErrorIs(tst, err, model.ErrDimension)
	_, err = NewGeneralSubstitutionModel("g", model.NewParameterDim("r", 6, 1), EqualFrequencies("pi", 3))
	assert.ErrorIs(tst, err, model.ErrDimension)
	_, err = NewHKY("hky", model.NewParameter("kappa", 2), EqualFrequencies("pi", 3))
	assert.ErrorIs(tst, err, model.ErrDimension)
}
