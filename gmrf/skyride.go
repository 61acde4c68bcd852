// Package gmrf implements the Gaussian Markov random field smoothed
// coalescent (skyride) likelihood.
package gmrf

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/skyride/coalescent"
	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/tree"
)

var log = logging.MustGetLogger("gmrf")

var log2Pi = math.Log(2 * math.Pi)

// ErrNotBinary is returned for trees with polytomies.
var ErrNotBinary = errors.New("tree is not strictly bifurcating")

// Options controls the field prior.
type Options struct {
	// TimeAwareSmoothing multiplies the weights by the root height.
	TimeAwareSmoothing bool
	// Covariates is a fieldLength×p design matrix, the field mean
	// is Covariates*Beta.
	Covariates *mat.Dense
	// Beta is the vector of regression coefficients.
	Beta *model.Parameter
}

// cache holds every derived quantity subject to store/restore.
type cache struct {
	coalescentIntervals  []float64
	sufficientStatistics []float64
	weights              *SymTridiag
	rootHeight           float64
	logCoalescent        float64
	logField             float64
	intervalsKnown       bool
	likelihoodKnown      bool
	ill                  bool
}

func copyCache(dst, src *cache) {
	dst.coalescentIntervals = model.CopyFloats(dst.coalescentIntervals, src.coalescentIntervals)
	dst.sufficientStatistics = model.CopyFloats(dst.sufficientStatistics, src.sufficientStatistics)
	if dst.weights == nil || dst.weights.N() != src.weights.N() {
		dst.weights = src.weights.Copy()
	} else {
		dst.weights.CopyFrom(src.weights)
	}
	dst.rootHeight = src.rootHeight
	dst.logCoalescent = src.logCoalescent
	dst.logField = src.logField
	dst.intervalsKnown = src.intervalsKnown
	dst.likelihoodKnown = src.likelihoodKnown
	dst.ill = src.ill
}

// Skyride is the GMRF skyride likelihood. The field γ holds log
// effective population sizes, one per coalescent event.
type Skyride struct {
	intervals   *coalescent.TreeIntervals
	popSize     *model.Parameter
	precision   *model.Parameter
	lambda      *model.Parameter
	opts        Options
	fieldLength int
	state       *model.State[cache]

	// scratch
	gamma  []float64
	scaled *SymTridiag
}

// NewSkyride creates a new skyride likelihood. lambda may be nil, in
// which case it is fixed to 1.
func NewSkyride(trees []*tree.Tree, popSize, precision, lambda *model.Parameter, opts Options) (*Skyride, error) {
	if len(trees) == 0 {
		return nil, errors.New("no trees")
	}
	tips := 0
	for i, t := range trees {
		if !t.IsBinary() {
			return nil, fmt.Errorf("tree %d: %w", i, ErrNotBinary)
		}
		tips += t.NLeaves()
	}
	fieldLength := tips - len(trees)
	if fieldLength < 1 {
		return nil, errors.New("trees should have at least two tips")
	}
	if popSize.Dimension() != fieldLength {
		return nil, fmt.Errorf("%w: population size dimension %d, expected %d (tips-trees)",
			model.ErrDimension, popSize.Dimension(), fieldLength)
	}
	if precision.Dimension() != 1 {
		return nil, fmt.Errorf("%w: precision should be scalar", model.ErrDimension)
	}
	if lambda == nil {
		lambda = model.NewParameter("skyride.lambda", 1)
	}
	if lambda.Dimension() != 1 {
		return nil, fmt.Errorf("%w: lambda should be scalar", model.ErrDimension)
	}
	if l := lambda.Value(0); l < 0 || l > 1 {
		return nil, fmt.Errorf("lambda should be in [0, 1], got %v", l)
	}
	if opts.Covariates != nil {
		r, c := opts.Covariates.Dims()
		if r != fieldLength {
			return nil, fmt.Errorf("%w: covariates have %d rows, expected %d",
				model.ErrDimension, r, fieldLength)
		}
		if opts.Beta == nil || opts.Beta.Dimension() != c {
			return nil, fmt.Errorf("%w: beta should have dimension %d", model.ErrDimension, c)
		}
	}

	s := &Skyride{
		intervals:   coalescent.NewTreeIntervals(trees...),
		popSize:     popSize,
		precision:   precision,
		lambda:      lambda,
		opts:        opts,
		fieldLength: fieldLength,
		gamma:       make([]float64, fieldLength),
		scaled:      NewSymTridiag(fieldLength),
	}
	s.state = model.NewState(cache{
		coalescentIntervals:  make([]float64, fieldLength),
		sufficientStatistics: make([]float64, fieldLength),
		weights:              NewSymTridiag(fieldLength),
	}, copyCache)

	s.intervals.AddListener(model.ListenerFunc(s.treeChanged))
	popSize.AddListener(s)
	precision.AddListener(s)
	lambda.AddListener(s)
	if opts.Beta != nil {
		opts.Beta.AddListener(s)
	}
	return s, nil
}

// NewSkyline is the historic name of NewSkyride.
func NewSkyline(trees []*tree.Tree, popSize, precision, lambda *model.Parameter, opts Options) (*Skyride, error) {
	return NewSkyride(trees, popSize, precision, lambda, opts)
}

func (s *Skyride) treeChanged(ev model.ChangeEvent) {
	c := s.state.Get()
	c.intervalsKnown = false
	c.likelihoodKnown = false
}

// ModelChanged is called on parameter changes.
func (s *Skyride) ModelChanged(ev model.ChangeEvent) {
	s.state.Get().likelihoodKnown = false
}

// FieldLength returns the number of field elements.
func (s *Skyride) FieldLength() int {
	return s.fieldLength
}

// setup recomputes coalescent intervals, sufficient statistics and
// the weight matrix.
func (s *Skyride) setup(c *cache) error {
	in, err := s.intervals.Intervals()
	if err != nil {
		return err
	}
	length := 0.0
	weight := 0.0
	index := 0
	for i := 0; i < in.IntervalCount(); i++ {
		l := in.Interval(i)
		length += l
		weight += l * 2 * in.PairCount(i)
		if in.IntervalType(i) != coalescent.Coalescent {
			continue
		}
		if in.CoalescentEvents(i) != 1 {
			return ErrNotBinary
		}
		if index >= s.fieldLength {
			return fmt.Errorf("%w: too many coalescent events", model.ErrDimension)
		}
		c.coalescentIntervals[index] = length
		c.sufficientStatistics[index] = weight / 2
		index++
		length = 0
		weight = 0
	}
	if index != s.fieldLength {
		return fmt.Errorf("%w: %d coalescent events, expected %d",
			model.ErrDimension, index, s.fieldLength)
	}
	c.rootHeight = 0
	for _, t := range s.intervals.Trees() {
		c.rootHeight = math.Max(c.rootHeight, t.RootHeight())
	}
	return BuildWeights(c.coalescentIntervals, s.opts.TimeAwareSmoothing, c.rootHeight, c.weights)
}

func (s *Skyride) update() *cache {
	c := s.state.Get()
	if c.likelihoodKnown {
		return c
	}
	if !c.intervalsKnown {
		if err := s.setup(c); err != nil {
			log.Debugf("Cannot set up skyride intervals: %v", err)
			c.ill = true
		} else {
			c.ill = false
		}
		c.intervalsKnown = true
	}
	if c.ill {
		c.logCoalescent = math.Inf(-1)
		c.logField = 0
	} else {
		c.logCoalescent = s.calcCoalescent(c)
		c.logField = s.calcField(c)
	}
	c.likelihoodKnown = true
	return c
}

func (s *Skyride) calcCoalescent(c *cache) (res float64) {
	for i := 0; i < s.fieldLength; i++ {
		g := s.popSize.Value(i)
		res += -g - c.sufficientStatistics[i]*math.Exp(-g)
	}
	return
}

func (s *Skyride) calcField(c *cache) float64 {
	tau := s.precision.Value(0)
	lambda := s.lambda.Value(0)
	if tau <= 0 || lambda < 0 || lambda > 1 {
		return math.Inf(-1)
	}
	s.gamma = s.popSize.Values(s.gamma)
	if s.opts.Covariates != nil {
		beta := mat.NewVecDense(s.opts.Beta.Dimension(), s.opts.Beta.Values(nil))
		var mean mat.VecDense
		mean.MulVec(s.opts.Covariates, beta)
		floats.Sub(s.gamma, mean.RawVector().Data)
	}
	Scaled(c.weights, tau, lambda, s.scaled)
	n := float64(s.fieldLength)
	res := 0.5*(n-1)*math.Log(tau) - 0.5*s.scaled.QuadForm(s.gamma)
	if lambda == 1 {
		res -= (n - 1) / 2 * log2Pi
	} else {
		res -= n / 2 * log2Pi
	}
	return res
}

// LogLikelihood returns the sum of the coalescent and the field
// terms.
func (s *Skyride) LogLikelihood() float64 {
	c := s.update()
	return c.logCoalescent + c.logField
}

// LogCoalescentLikelihood returns the coalescent term.
func (s *Skyride) LogCoalescentLikelihood() float64 {
	return s.update().logCoalescent
}

// LogFieldLikelihood returns the GMRF prior term.
func (s *Skyride) LogFieldLikelihood() float64 {
	return s.update().logField
}

// CoalescentIntervals returns the lengths of the field intervals,
// each spanning the time between two consecutive coalescent events.
func (s *Skyride) CoalescentIntervals() []float64 {
	return s.update().coalescentIntervals
}

// SufficientStatistics returns per field interval sums of
// length×C(n,2).
func (s *Skyride) SufficientStatistics() []float64 {
	return s.update().sufficientStatistics
}

// WeightMatrix returns the unscaled weight matrix.
func (s *Skyride) WeightMatrix() *SymTridiag {
	return s.update().weights
}

// ScaledWeightMatrix returns tau*W.
func (s *Skyride) ScaledWeightMatrix(tau float64) *SymTridiag {
	return ScaledBy(s.WeightMatrix(), tau, nil)
}

// ScaledWeightMatrixLambda returns the precision matrix mixing W and
// the identity.
func (s *Skyride) ScaledWeightMatrixLambda(tau, lambda float64) *SymTridiag {
	return Scaled(s.WeightMatrix(), tau, lambda, nil)
}

// MakeDirty forces full recomputation.
func (s *Skyride) MakeDirty() {
	s.intervals.MakeDirty()
	c := s.state.Get()
	c.intervalsKnown = false
	c.likelihoodKnown = false
}

// StoreState saves the cached values.
func (s *Skyride) StoreState() {
	s.intervals.StoreState()
	s.state.Begin()
}

// RestoreState brings back the saved values.
func (s *Skyride) RestoreState() {
	s.intervals.RestoreState()
	s.state.Rollback()
}

// AcceptState drops the saved values.
func (s *Skyride) AcceptState() {
	s.intervals.AcceptState()
	s.state.Commit()
}

// PopSizeAt returns exp(γ) of the field interval covering time t.
// Times beyond the last coalescent event get the last value.
func (s *Skyride) PopSizeAt(t float64) float64 {
	ends := s.intervalEnds()
	i := sort.SearchFloat64s(ends, t)
	if i >= s.fieldLength {
		i = s.fieldLength - 1
	}
	return math.Exp(s.popSize.Value(i))
}

// GridPopSizes evaluates PopSizeAt over a time grid.
func (s *Skyride) GridPopSizes(grid []float64) []float64 {
	res := make([]float64, len(grid))
	for i, t := range grid {
		res[i] = s.PopSizeAt(t)
	}
	return res
}

// intervalEnds returns cumulative end times of the field intervals.
func (s *Skyride) intervalEnds() []float64 {
	ci := s.CoalescentIntervals()
	start := 0.0
	if in, err := s.intervals.Intervals(); err == nil && len(in.Events()) > 0 {
		start = in.StartTime(0)
	}
	ends := make([]float64, len(ci))
	for i, l := range ci {
		start += l
		ends[i] = start
	}
	return ends
}

// Columns returns trace columns: likelihood terms, population sizes
// and field interval end times.
func (s *Skyride) Columns() []model.Column {
	cols := []model.Column{
		{Name: "skyride.lnL", Value: s.LogLikelihood},
		{Name: "skyride.coalescent", Value: s.LogCoalescentLikelihood},
		{Name: "skyride.field", Value: s.LogFieldLikelihood},
	}
	for i := 0; i < s.fieldLength; i++ {
		i := i
		cols = append(cols, model.Column{
			Name:  "skyride.popSize" + strconv.Itoa(i+1),
			Value: func() float64 { return math.Exp(s.popSize.Value(i)) },
		})
	}
	for i := 0; i < s.fieldLength; i++ {
		i := i
		cols = append(cols, model.Column{
			Name:  "skyride.time" + strconv.Itoa(i+1),
			Value: func() float64 { return s.intervalEnds()[i] },
		})
	}
	return cols
}
