package coalescent

import (
	"errors"
	"math"

	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/tree"
)

// Likelihood is a coalescent likelihood under a constant or an
// exponentially growing population.
type Likelihood struct {
	intervals *TreeIntervals
	popSize   *model.Parameter
	growth    *model.Parameter

	state *model.State[cached]
}

// cached is the log likelihood with its validity flag.
type cached struct {
	logL            float64
	likelihoodKnown bool
}

func copyCached(dst, src *cached) {
	*dst = *src
}

// NewLikelihood creates a new coalescent likelihood. growth can be
// nil for a constant population.
func NewLikelihood(trees []*tree.Tree, popSize, growth *model.Parameter) (*Likelihood, error) {
	if len(trees) == 0 {
		return nil, errors.New("no trees")
	}
	if popSize.Dimension() != 1 || (growth != nil && growth.Dimension() != 1) {
		return nil, model.ErrDimension
	}
	l := &Likelihood{
		intervals: NewTreeIntervals(trees...),
		popSize:   popSize,
		growth:    growth,
		state:     model.NewState(cached{}, copyCached),
	}
	l.intervals.AddListener(l)
	popSize.AddListener(l)
	if growth != nil {
		growth.AddListener(l)
	}
	return l, nil
}

// ModelChanged marks the likelihood as unknown.
func (l *Likelihood) ModelChanged(ev model.ChangeEvent) {
	l.state.Get().likelihoodKnown = false
}

// Demographic returns the current demographic function.
func (l *Likelihood) Demographic() Demographic {
	if l.growth == nil {
		return ConstantPopulation{N0: l.popSize.Value(0)}
	}
	return ExponentialGrowth{N0: l.popSize.Value(0), Rate: l.growth.Value(0)}
}

// LogLikelihood returns the log likelihood.
func (l *Likelihood) LogLikelihood() float64 {
	c := l.state.Get()
	if !c.likelihoodKnown {
		c.logL = l.calculate()
		c.likelihoodKnown = true
	}
	return c.logL
}

func (l *Likelihood) calculate() float64 {
	if l.popSize.Value(0) <= 0 {
		return math.Inf(-1)
	}
	in, err := l.intervals.Intervals()
	if err != nil {
		log.Debug("coalescent likelihood:", err)
		return math.Inf(-1)
	}
	d := l.Demographic()
	logL := 0.0
	for i := 0; i < in.IntervalCount(); i++ {
		logL += IntervalLogLikelihood(d, in.StartTime(i), in.Interval(i), in.PairCount(i), in.IntervalType(i))
		// extra coalescences of a polytomy happen at the same time
		for k := 1; k < in.CoalescentEvents(i); k++ {
			logL += IntervalLogLikelihood(d, in.StartTime(i)+in.Interval(i), 0, 0, Coalescent)
		}
	}
	return logL
}

// MakeDirty forces recomputation.
func (l *Likelihood) MakeDirty() {
	l.state.Get().likelihoodKnown = false
	l.intervals.MakeDirty()
}

// StoreState stores cached values.
func (l *Likelihood) StoreState() {
	l.intervals.StoreState()
	l.state.Begin()
}

// RestoreState restores cached values.
func (l *Likelihood) RestoreState() {
	l.intervals.RestoreState()
	l.state.Rollback()
}

// AcceptState keeps the cached values.
func (l *Likelihood) AcceptState() {
	l.intervals.AcceptState()
	l.state.Commit()
}

// Columns returns trace columns.
func (l *Likelihood) Columns() []model.Column {
	return []model.Column{
		{Name: "coalescent.lnL", Value: l.LogLikelihood},
	}
}
