package mcmc

import (
	"math"
	"math/rand"

	"bitbucket.org/Davydov/skyride/model"
)

// Operator proposes a new value for a parameter.
type Operator interface {
	Name() string
	Parameter() *model.Parameter
	// Weight is the relative probability of choosing the operator.
	Weight() float64
	// Propose changes the parameter and returns the log Hastings
	// ratio. -Inf means the proposal must be rejected.
	Propose(r *rand.Rand) float64
	Accept(iter int)
	Reject()
}

// counter tracks operator acceptance.
type counter struct {
	accepted int
	rejected int
}

func (c *counter) Accept(iter int) {
	c.accepted++
}

func (c *counter) Reject() {
	c.rejected++
}

// AcceptanceRate returns the fraction of accepted proposals.
func (c *counter) AcceptanceRate() float64 {
	total := c.accepted + c.rejected
	if total == 0 {
		return math.NaN()
	}
	return float64(c.accepted) / float64(total)
}

// base keeps the common operator fields.
type base struct {
	counter
	name   string
	param  *model.Parameter
	weight float64
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Parameter() *model.Parameter {
	return b.param
}

func (b *base) Weight() float64 {
	return b.weight
}

// set sets element i, out of bounds values are rejected.
func (b *base) set(i int, v float64) bool {
	if !b.param.ValueInBounds(v) {
		return false
	}
	b.param.SetValue(i, v)
	return true
}

// RandomWalk adds a normal deviate to a random element.
type RandomWalk struct {
	base
	SD float64
}

// NewRandomWalk creates a new random walk operator.
func NewRandomWalk(param *model.Parameter, sd, weight float64) *RandomWalk {
	if sd <= 0 {
		panic("sd should be > 0")
	}
	return &RandomWalk{
		base: base{name: "randomWalk(" + param.Name() + ")", param: param, weight: weight},
		SD:   sd,
	}
}

// Propose proposes a new value.
func (o *RandomWalk) Propose(r *rand.Rand) float64 {
	i := r.Intn(o.param.Dimension())
	if !o.set(i, o.param.Value(i)+r.NormFloat64()*o.SD) {
		return math.Inf(-1)
	}
	return 0
}

// Scale multiplies a random element by a factor drawn uniformly
// between Factor and 1/Factor.
type Scale struct {
	base
	Factor float64
}

// NewScale creates a new scale operator, factor must be in (0, 1).
func NewScale(param *model.Parameter, factor, weight float64) *Scale {
	if factor <= 0 || factor >= 1 {
		panic("scale factor should be in (0, 1)")
	}
	return &Scale{
		base:   base{name: "scale(" + param.Name() + ")", param: param, weight: weight},
		Factor: factor,
	}
}

// Propose proposes a new value.
func (o *Scale) Propose(r *rand.Rand) float64 {
	i := r.Intn(o.param.Dimension())
	s := o.Factor + r.Float64()*(1/o.Factor-o.Factor)
	if !o.set(i, o.param.Value(i)*s) {
		return math.Inf(-1)
	}
	return -math.Log(s)
}

// BitFlip flips a random 0/1 indicator.
type BitFlip struct {
	base
}

// NewBitFlip creates a new bit flip operator.
func NewBitFlip(param *model.Parameter, weight float64) *BitFlip {
	return &BitFlip{
		base: base{name: "bitFlip(" + param.Name() + ")", param: param, weight: weight},
	}
}

// Propose proposes a new value.
func (o *BitFlip) Propose(r *rand.Rand) float64 {
	i := r.Intn(o.param.Dimension())
	v := 1.0
	if o.param.Value(i) != 0 {
		v = 0
	}
	if !o.set(i, v) {
		return math.Inf(-1)
	}
	return 0
}
