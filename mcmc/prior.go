package mcmc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"bitbucket.org/Davydov/skyride/model"
)

// Prior is a prior density of a parameter. It is a likelihood
// component of the posterior.
type Prior interface {
	model.Likelihood
	Parameter() *model.Parameter
}

// logProber is a distribution with a log density.
type logProber interface {
	LogProb(x float64) float64
}

// DistPrior applies a univariate distribution independently to every
// element of a parameter.
type DistPrior struct {
	name  string
	param *model.Parameter
	dist  logProber
}

// NewPrior creates a prior from any distribution with a LogProb
// method.
func NewPrior(name string, param *model.Parameter, dist logProber) *DistPrior {
	return &DistPrior{name: name, param: param, dist: dist}
}

// NewGammaPrior creates a gamma prior with given shape and scale.
func NewGammaPrior(param *model.Parameter, shape, scale float64) *DistPrior {
	if shape <= 0 || scale <= 0 {
		panic("shape and scale of gamma distribution must be > 0")
	}
	return NewPrior(param.Name()+".gammaPrior", param, distuv.Gamma{Alpha: shape, Beta: 1 / scale})
}

// NewExponentialPrior creates an exponential prior with given rate.
func NewExponentialPrior(param *model.Parameter, rate float64) *DistPrior {
	if rate <= 0 {
		panic("exponential rate should be > 0")
	}
	return NewPrior(param.Name()+".exponentialPrior", param, distuv.Exponential{Rate: rate})
}

// NewLogNormalPrior creates a log-normal prior.
func NewLogNormalPrior(param *model.Parameter, mu, sigma float64) *DistPrior {
	if sigma <= 0 {
		panic("sigma should be > 0")
	}
	return NewPrior(param.Name()+".logNormalPrior", param, distuv.LogNormal{Mu: mu, Sigma: sigma})
}

// NewNormalPrior creates a normal prior.
func NewNormalPrior(param *model.Parameter, mu, sigma float64) *DistPrior {
	if sigma <= 0 {
		panic("sigma should be > 0")
	}
	return NewPrior(param.Name()+".normalPrior", param, distuv.Normal{Mu: mu, Sigma: sigma})
}

// NewUniformPrior creates a uniform prior on [min, max].
func NewUniformPrior(param *model.Parameter, min, max float64) *DistPrior {
	if max <= min {
		panic("max <= min")
	}
	return NewPrior(param.Name()+".uniformPrior", param, distuv.Uniform{Min: min, Max: max})
}

// NewPriorByName creates a prior given a distribution name and its
// two parameters (the second one is ignored for the exponential).
func NewPriorByName(param *model.Parameter, dist string, a, b float64) (*DistPrior, error) {
	switch dist {
	case "gamma":
		if a <= 0 || b <= 0 {
			return nil, fmt.Errorf("gamma prior: shape and scale must be > 0")
		}
		return NewGammaPrior(param, a, b), nil
	case "exponential":
		if a <= 0 {
			return nil, fmt.Errorf("exponential prior: rate must be > 0")
		}
		return NewExponentialPrior(param, a), nil
	case "lognormal":
		if b <= 0 {
			return nil, fmt.Errorf("lognormal prior: sigma must be > 0")
		}
		return NewLogNormalPrior(param, a, b), nil
	case "normal":
		if b <= 0 {
			return nil, fmt.Errorf("normal prior: sigma must be > 0")
		}
		return NewNormalPrior(param, a, b), nil
	case "uniform":
		if b <= a {
			return nil, fmt.Errorf("uniform prior: max <= min")
		}
		return NewUniformPrior(param, a, b), nil
	}
	return nil, fmt.Errorf("unknown prior distribution: %q", dist)
}

// Parameter returns the parameter.
func (p *DistPrior) Parameter() *model.Parameter {
	return p.param
}

// LogLikelihood returns the sum of log densities of all the elements.
// Values outside of the parameter bounds have zero density.
func (p *DistPrior) LogLikelihood() (res float64) {
	for _, v := range p.param.Raw() {
		if !p.param.ValueInBounds(v) {
			return math.Inf(-1)
		}
		res += p.dist.LogProb(v)
	}
	if math.IsNaN(res) {
		return math.Inf(-1)
	}
	return
}

// MakeDirty does nothing, the prior is not cached.
func (p *DistPrior) MakeDirty() {
}

// Columns returns the prior density column.
func (p *DistPrior) Columns() []model.Column {
	return []model.Column{{Name: p.name, Value: p.LogLikelihood}}
}
