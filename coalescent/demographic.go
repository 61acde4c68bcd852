package coalescent

import "math"

// smallRate is a growth rate treated as zero.
const smallRate = 1e-12

// Demographic is an effective population size function of time
// (going back from the present).
type Demographic interface {
	// PopSize returns N(t).
	PopSize(t float64) float64
	// Integral returns the integral of 1/N(t) between start and
	// finish.
	Integral(start, finish float64) float64
}

// ConstantPopulation has a constant size.
type ConstantPopulation struct {
	N0 float64
}

// PopSize returns N0.
func (c ConstantPopulation) PopSize(t float64) float64 {
	return c.N0
}

// Integral returns (finish-start)/N0.
func (c ConstantPopulation) Integral(start, finish float64) float64 {
	return (finish - start) / c.N0
}

// ExponentialGrowth grows exponentially towards the present with
// rate Rate: N(t) = N0*exp(-Rate*t).
type ExponentialGrowth struct {
	N0   float64
	Rate float64
}

// PopSize returns N(t).
func (e ExponentialGrowth) PopSize(t float64) float64 {
	return e.N0 * math.Exp(-e.Rate*t)
}

// Integral returns the integral of 1/N(t).
func (e ExponentialGrowth) Integral(start, finish float64) float64 {
	if math.Abs(e.Rate) < smallRate {
		return (finish - start) / e.N0
	}
	return (math.Exp(e.Rate*finish) - math.Exp(e.Rate*start)) / (e.N0 * e.Rate)
}

// LinearPiece changes linearly from N0 at T0 to N1 at T1 and is
// extrapolated outside.
type LinearPiece struct {
	T0, N0 float64
	T1, N1 float64
}

func (l LinearPiece) slope() float64 {
	if l.T1 == l.T0 {
		return 0
	}
	return (l.N1 - l.N0) / (l.T1 - l.T0)
}

// PopSize returns N(t).
func (l LinearPiece) PopSize(t float64) float64 {
	return l.N0 + l.slope()*(t-l.T0)
}

// Integral returns the integral of 1/N(t).
func (l LinearPiece) Integral(start, finish float64) float64 {
	s := l.slope()
	n0 := l.PopSize(start)
	if math.Abs(s*(finish-start)) < smallRate*n0 {
		return (finish - start) / n0
	}
	return math.Log(l.PopSize(finish)/n0) / s
}

// ExponentialPiece changes exponentially from N0 at T0 to N1 at T1
// (linearly on the log scale).
type ExponentialPiece struct {
	T0, N0 float64
	T1, N1 float64
}

func (e ExponentialPiece) rate() float64 {
	if e.T1 == e.T0 {
		return 0
	}
	return math.Log(e.N1/e.N0) / (e.T1 - e.T0)
}

// PopSize returns N(t).
func (e ExponentialPiece) PopSize(t float64) float64 {
	return e.N0 * math.Exp(e.rate()*(t-e.T0))
}

// Integral returns the integral of 1/N(t).
func (e ExponentialPiece) Integral(start, finish float64) float64 {
	g := e.rate()
	if math.Abs(g) < smallRate {
		return (finish - start) / e.N0
	}
	return (math.Exp(-g*(start-e.T0)) - math.Exp(-g*(finish-e.T0))) / (e.N0 * g)
}

// IntervalLogLikelihood returns Kingman coalescent log density of a
// single interval starting at start of a given length with pairs
// coalescible lineage pairs. For a coalescent interval the closing
// event contributes -log N(end).
func IntervalLogLikelihood(d Demographic, start, length, pairs float64, typ EventType) float64 {
	end := start + length
	l := 0.0
	if length > 0 {
		l = -pairs * d.Integral(start, end)
	}
	if typ == Coalescent {
		l -= math.Log(d.PopSize(end))
	}
	return l
}
