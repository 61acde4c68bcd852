// Package subst implements continuous time Markov substitution models
// evaluated through the eigendecomposition of the rate matrix.
// Non-reversible matrices with complex eigenvalues are supported.
package subst

import (
	"errors"
	"math"
	"sync"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/skyride/model"
)

var log = logging.MustGetLogger("subst")

const (
	// DefaultMaxConditionNumber is the default maximum condition
	// number of the eigenvector matrix.
	DefaultMaxConditionNumber = 1000
	// MinProb is the smallest transition probability reported.
	MinProb = 1e-12
)

// ErrIllConditioned is returned when the eigenvector matrix has a too
// high condition number or the rate matrix is invalid.
var ErrIllConditioned = errors.New("ill-conditioned rate matrix")

// fillFunc fills off-diagonal elements of the unnormalized rate
// matrix.
type fillFunc func(q *mat.Dense, pi []float64)

type cache struct {
	q            *mat.Dense
	eigen        *EigenSystem
	stationary   []float64
	cond         float64
	valid        bool
	updateMatrix bool
}

func copyCache(dst, src *cache) {
	dst.q = nil
	if src.q != nil {
		dst.q = mat.DenseCopyOf(src.q)
	}
	dst.eigen = nil
	if src.eigen != nil {
		dst.eigen = src.eigen.Copy()
	}
	dst.stationary = model.CopyFloats(dst.stationary, src.stationary)
	dst.cond = src.cond
	dst.valid = src.valid
	dst.updateMatrix = src.updateMatrix
}

// Model is a substitution model. The rate matrix is rebuilt lazily
// after a parameter change.
type Model struct {
	name       string
	n          int
	freqs      *Frequencies
	fill       fillFunc
	reversible bool
	connected  bool
	normalized bool
	maxCond    float64

	// mu guards the matrix setup.
	mu    sync.Mutex
	state *model.State[cache]
}

func newModel(name string, freqs *Frequencies, fill fillFunc, reversible bool, params ...*model.Parameter) *Model {
	m := &Model{
		name:       name,
		n:          freqs.StateCount(),
		freqs:      freqs,
		fill:       fill,
		reversible: reversible,
		normalized: true,
		maxCond:    DefaultMaxConditionNumber,
	}
	m.state = model.NewState(cache{updateMatrix: true}, copyCache)
	freqs.Parameter().AddListener(m)
	for _, p := range params {
		if p != nil {
			p.AddListener(m)
		}
	}
	return m
}

// ModelChanged marks the matrix for recomputation.
func (m *Model) ModelChanged(ev model.ChangeEvent) {
	m.mu.Lock()
	m.state.Get().updateMatrix = true
	m.mu.Unlock()
}

// Name returns model name.
func (m *Model) Name() string {
	return m.name
}

// StateCount returns the number of states.
func (m *Model) StateCount() int {
	return m.n
}

// Frequencies returns the frequencies.
func (m *Model) Frequencies() *Frequencies {
	return m.freqs
}

// Normalized returns true if the matrix is normalized to one
// expected substitution per unit time.
func (m *Model) Normalized() bool {
	return m.normalized
}

// SetNormalized turns normalization on and off.
func (m *Model) SetNormalized(normalized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.normalized = normalized
	m.state.Get().updateMatrix = true
}

// SetMaxConditionNumber sets the maximum condition number of the
// eigenvector matrix.
func (m *Model) SetMaxConditionNumber(c float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxCond = c
}

// update rebuilds the rate matrix and its decomposition if needed.
// It must be called with the lock held.
func (m *Model) update() *cache {
	c := m.state.Get()
	if !c.updateMatrix {
		return c
	}
	c.updateMatrix = false
	c.valid = false

	pi := m.freqs.Values()
	if err := m.freqs.Validate(); err != nil {
		log.Debugf("%s: %v", m.name, err)
		return c
	}
	q := mat.NewDense(m.n, m.n, nil)
	m.fill(q, pi)
	for i := 0; i < m.n; i++ {
		q.Set(i, i, 0)
		sum := 0.0
		for j := 0; j < m.n; j++ {
			sum += q.At(i, j)
		}
		q.Set(i, i, -sum)
	}
	if m.connected && !stronglyConnected(q) {
		log.Debugf("%s: rate graph is not strongly connected", m.name)
		return c
	}

	var es *EigenSystem
	var err error
	stationary := pi
	if m.reversible && positive(pi) {
		es, err = decomposeReversible(q, pi)
	} else {
		es, err = decomposeGeneral(q)
		if err == nil && !m.reversible {
			stationary = es.stationary()
		}
	}
	if err != nil {
		log.Debugf("%s: %v", m.name, err)
		return c
	}

	if m.normalized {
		subst := 0.0
		for i := 0; i < m.n; i++ {
			subst -= stationary[i] * q.At(i, i)
		}
		if !(subst > 0) {
			log.Debugf("%s: cannot normalize, rate is %v", m.name, subst)
			return c
		}
		es.scale(1 / subst)
		q.Scale(1/subst, q)
	}

	c.q = q
	c.eigen = es
	c.stationary = append(c.stationary[:0], stationary...)
	c.cond = mat.Cond(es.Vectors, 2)
	c.valid = !math.IsNaN(c.cond)
	return c
}

func positive(pi []float64) bool {
	for _, p := range pi {
		if p <= 0 {
			return false
		}
	}
	return true
}

func (m *Model) wellConditioned(c *cache) bool {
	return c.valid && c.cond <= m.maxCond
}

// RateMatrix returns a copy of the (normalized) rate matrix.
func (m *Model) RateMatrix() (*mat.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.update()
	if !c.valid {
		return nil, ErrIllConditioned
	}
	return mat.DenseCopyOf(c.q), nil
}

// Eigen returns a copy of the eigendecomposition.
func (m *Model) Eigen() (*EigenSystem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.update()
	if !c.valid {
		return nil, ErrIllConditioned
	}
	return c.eigen.Copy(), nil
}

// StationaryDistribution returns the stationary distribution of the
// rate matrix.
func (m *Model) StationaryDistribution() ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.update()
	if !c.valid {
		return nil, ErrIllConditioned
	}
	return append([]float64(nil), c.stationary...), nil
}

// ConditionNumber returns the 2-norm condition number of the
// eigenvector matrix.
func (m *Model) ConditionNumber() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.update()
	if !c.valid {
		return math.Inf(1)
	}
	return c.cond
}

// WellConditioned returns false if the matrix is invalid or its
// eigenvectors are too close to singular.
func (m *Model) WellConditioned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wellConditioned(m.update())
}

// TransitionProbabilities computes the row-major n×n matrix
// P(t) = e^Qt and stores it into dst. Values below MinProb are set to
// MinProb.
func (m *Model) TransitionProbabilities(t float64, dst []float64) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.update()
	if !m.wellConditioned(c) {
		return nil, ErrIllConditioned
	}
	if len(dst) != m.n*m.n {
		dst = make([]float64, m.n*m.n)
	}
	p := mat.NewDense(m.n, m.n, dst)
	c.eigen.Exp(t, p)
	for i, v := range dst {
		dst[i] = math.Min(1, math.Max(MinProb, v))
	}
	return dst, nil
}

// LogLikelihood is 0 for a valid well-conditioned matrix and -Inf
// otherwise. It allows the model to reject proposals in a sampler.
func (m *Model) LogLikelihood() float64 {
	if !m.WellConditioned() {
		return math.Inf(-1)
	}
	return 0
}

// MakeDirty forces recomputation.
func (m *Model) MakeDirty() {
	m.mu.Lock()
	m.state.Get().updateMatrix = true
	m.mu.Unlock()
}

// StoreState saves the decomposition.
func (m *Model) StoreState() {
	m.mu.Lock()
	m.state.Begin()
	m.mu.Unlock()
}

// RestoreState brings back the saved decomposition.
func (m *Model) RestoreState() {
	m.mu.Lock()
	m.state.Rollback()
	m.mu.Unlock()
}

// AcceptState drops the saved decomposition.
func (m *Model) AcceptState() {
	m.mu.Lock()
	m.state.Commit()
	m.mu.Unlock()
}

// Columns returns the condition number column.
func (m *Model) Columns() []model.Column {
	return []model.Column{
		{Name: m.name + ".cond", Value: m.ConditionNumber},
	}
}
