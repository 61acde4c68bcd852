// This code implements ideas and pseudocode presented by Xavier Meyer
// <Xavier.Meyer.2 at unil.ch>.

package mcmc

import (
	"math"
	"math/rand"
	"strconv"

	"bitbucket.org/Davydov/skyride/model"
)

// AdaptiveSettings are settings for an adaptive MCMC.
type AdaptiveSettings struct {
	// WSize window size to compute mean and variance.
	WSize int
	// K specifies how often Mu should be updated.
	K int
	// Skip is the number of iterations to skip before starting
	// adaptation.
	Skip int
	// MaxAdapt is the number of iterations to adapt.
	MaxAdapt int
	// MaxUpdate maximum number of update for a parameter.
	MaxUpdate int
	// Epsilon is part of stopping criteria for stopping
	// adaptation.
	Epsilon float64
	// C is a Robbins-Monro algorithm parameter
	C float64
	// Nu is a Robbins-Monro algorithm parameter
	Nu float64
	// Lambda is the proposal multiplier.
	Lambda float64
	// SD is initial standard deviation.
	SD float64
}

// NewAdaptiveSettings creates new settings for adaptive MCMC.
func NewAdaptiveSettings() *AdaptiveSettings {
	return &AdaptiveSettings{
		WSize:     10,
		K:         20,
		Skip:      500,
		MaxAdapt:  2000,
		MaxUpdate: 200,
		Epsilon:   5e-1,
		C:         1,
		Nu:        3,
		Lambda:    2.4,
		SD:        1e-2,
	}
}

// running keeps Welford running mean and sum of squared deviations.
type running struct {
	n    int
	mean float64
	m2   float64
}

func (r *running) add(x float64) {
	r.n++
	d := x - r.mean
	r.mean += d / float64(r.n)
	r.m2 += d * (x - r.mean)
}

// remove drops a value previously added.
func (r *running) remove(x float64) {
	if r.n <= 1 {
		*r = running{}
		return
	}
	r.n--
	d := x - r.mean
	r.mean -= d / float64(r.n)
	r.m2 -= d * (x - r.mean)
}

func (r *running) variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// AdaptiveRandomWalk is a normal random walk on a single parameter
// element which learns the proposal variance with the Robbins-Monro
// algorithm.
type AdaptiveRandomWalk struct {
	base
	index int

	// number of adaptation steps and of sign changes
	steps        int
	flips        int
	lastPositive bool

	mean     float64
	variance float64

	batch  running
	window running
	ring   []float64
	head   int

	converged bool

	*AdaptiveSettings
}

// NewAdaptiveRandomWalk creates a new adaptive operator for element
// index of param.
func NewAdaptiveRandomWalk(param *model.Parameter, index int, weight float64, as *AdaptiveSettings) *AdaptiveRandomWalk {
	if as.SD <= 0 {
		panic("SD should be > 0")
	}
	if as.K < 2 {
		panic("K should be >= 2")
	}
	name := param.Name()
	if param.Dimension() > 1 {
		name += strconv.Itoa(index + 1)
	}
	return &AdaptiveRandomWalk{
		base:             base{name: "adaptive(" + name + ")", param: param, weight: weight},
		index:            index,
		mean:             math.NaN(),
		variance:         as.SD * as.SD,
		ring:             make([]float64, 0, as.WSize),
		AdaptiveSettings: as,
	}
}

// NewAdaptiveRandomWalks creates one adaptive operator per element,
// the weight is split between them.
func NewAdaptiveRandomWalks(param *model.Parameter, weight float64, as *AdaptiveSettings) []Operator {
	n := param.Dimension()
	ops := make([]Operator, n)
	for i := range ops {
		ops[i] = NewAdaptiveRandomWalk(param, i, weight/float64(n), as)
	}
	return ops
}

// SD returns the current proposal standard deviation.
func (a *AdaptiveRandomWalk) SD() float64 {
	return math.Sqrt(a.variance) * a.Lambda
}

// Converged returns true if adaptation has stopped.
func (a *AdaptiveRandomWalk) Converged() bool {
	return a.converged
}

// Propose adds a normal deviate with the learned variance.
func (a *AdaptiveRandomWalk) Propose(r *rand.Rand) float64 {
	if !a.set(a.index, a.param.Value(a.index)+r.NormFloat64()*a.SD()) {
		return math.Inf(-1)
	}
	return 0
}

// Accept counts the acceptance and adapts inside of the adaptation
// window.
func (a *AdaptiveRandomWalk) Accept(iter int) {
	a.counter.Accept(iter)
	if iter >= a.Skip && iter < a.MaxAdapt {
		a.adapt()
	}
}

// gain is the Robbins-Monro step size. It decreases every time the
// batch mean crosses the running mean.
func (a *AdaptiveRandomWalk) gain() float64 {
	positive := a.batch.mean > a.mean
	if a.batch.mean != a.mean && positive != a.lastPositive {
		a.flips++
	}
	a.lastPositive = positive
	return a.C / math.Pow(float64(a.flips+1), 1/math.Max(1, 1+a.Nu))
}

// observe adds x to the convergence window and stops adaptation once
// the window is stable relative to its mean.
func (a *AdaptiveRandomWalk) observe(x float64) {
	if len(a.ring) == a.WSize {
		a.window.remove(a.ring[a.head])
		a.ring[a.head] = x
		a.head = (a.head + 1) % a.WSize
	} else {
		a.ring = append(a.ring, x)
	}
	a.window.add(x)

	if len(a.ring) < a.WSize {
		return
	}
	stable := math.Sqrt(a.window.variance())/math.Abs(a.window.mean) < a.Epsilon
	if stable || a.steps/a.K > a.MaxUpdate {
		a.converged = true
		reason := "max update"
		if stable {
			reason = "SD/mean"
		}
		log.Infof("%s converged, reason: %s", a.Name(), reason)
	}
}

// adapt adds the current value to the batch; after every K values
// the mean and the variance move towards the batch estimates.
func (a *AdaptiveRandomWalk) adapt() {
	if a.converged {
		return
	}
	x := a.param.Value(a.index)
	if math.IsNaN(a.mean) {
		a.mean = x
	}

	if a.steps > 0 && a.steps%a.K == 0 {
		g := a.gain()
		a.mean += g * (a.batch.mean - a.mean)
		a.variance += g * (a.batch.variance() - a.variance)
		a.observe(x)
		a.batch = running{}
	}

	a.batch.add(x)
	a.steps++
}
