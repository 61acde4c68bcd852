package main

import (
	"errors"
	"fmt"
	"math"
	"os"

	"bitbucket.org/Davydov/skyride/coalescent"
	"bitbucket.org/Davydov/skyride/config"
	"bitbucket.org/Davydov/skyride/gmrf"
	"bitbucket.org/Davydov/skyride/mcmc"
	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/skyline"
	"bitbucket.org/Davydov/skyride/tree"
)

// analysis is a posterior assembled from the configuration together
// with its free parameters and operators.
type analysis struct {
	posterior  *model.Compound
	likelihood model.Likelihood
	params     model.Parameters
	fixed      model.Parameters
	indicators *model.Parameter
	operators  []mcmc.Operator
	adaptive   *mcmc.AdaptiveSettings
}

// readTrees reads all the trees from the newick files.
func readTrees(fileNames []string) ([]*tree.Tree, error) {
	if len(fileNames) == 0 {
		return nil, errors.New("no tree files")
	}
	var trees []*tree.Tree
	for _, fn := range fileNames {
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		ts, err := tree.ParseNewickAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
		log.Infof("Read %d tree(s) from %s", len(ts), fn)
		trees = append(trees, ts...)
	}
	return trees, nil
}

// coalescentEvents is the number of tips minus the number of trees.
func coalescentEvents(trees []*tree.Tree) (n int) {
	for _, t := range trees {
		n += t.NLeaves() - 1
	}
	return
}

// positive creates a parameter bounded below by zero.
func positive(name string, dim int, v float64) *model.Parameter {
	p := model.NewParameterDim(name, dim, v)
	p.SetBounds(0, math.Inf(+1))
	return p
}

// newAnalysis builds the likelihood, the priors and the operators.
func newAnalysis(cfg *config.Config, trees []*tree.Tree) (*analysis, error) {
	a := &analysis{}
	if cfg.MCMC.Adaptive {
		a.adaptive = mcmc.NewAdaptiveSettings()
		a.adaptive.Skip = cfg.MCMC.Iterations / 20
		a.adaptive.MaxAdapt = cfg.MCMC.Iterations / 5
		log.Infof("Setting adaptive parameters, skip=%v, maxAdapt=%v", a.adaptive.Skip, a.adaptive.MaxAdapt)
	}

	var err error
	switch cfg.Model.Type {
	case config.ModelSkyride:
		err = a.skyride(cfg.Model, trees)
	case config.ModelSkyline:
		err = a.skyline(cfg.Model, trees)
	case config.ModelConstant, config.ModelExponential:
		err = a.parametric(cfg.Model, trees)
	default:
		err = fmt.Errorf("%w, got %q", config.ErrModelType, cfg.Model.Type)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s model", cfg.Model.Type)

	a.posterior = model.NewCompound("posterior", a.likelihood)
	for _, pc := range cfg.Priors {
		p := a.params.Get(pc.Parameter)
		if p == nil {
			p = a.fixed.Get(pc.Parameter)
		}
		if p == nil {
			return nil, fmt.Errorf("prior on unknown parameter %q", pc.Parameter)
		}
		prior, err := mcmc.NewPriorByName(p, pc.Distribution, pc.A, pc.B)
		if err != nil {
			return nil, err
		}
		log.Infof("Prior %s(%v, %v) on %s", pc.Distribution, pc.A, pc.B, pc.Parameter)
		a.posterior.Add(prior)
	}
	return a, nil
}

// walk returns random walk operators, adaptive ones if requested.
func (a *analysis) walk(p *model.Parameter, sd float64) []mcmc.Operator {
	weight := float64(p.Dimension())
	if a.adaptive != nil {
		return mcmc.NewAdaptiveRandomWalks(p, weight, a.adaptive)
	}
	return []mcmc.Operator{mcmc.NewRandomWalk(p, sd, weight)}
}

func (a *analysis) skyride(mc config.ModelConfig, trees []*tree.Tree) error {
	n := coalescentEvents(trees)
	if n < 1 {
		return errors.New("trees should have at least two tips")
	}
	popSize := model.NewParameterDim("skyride.logPopSize", n, math.Log(mc.PopSize))
	precision := positive("skyride.precision", 1, mc.Precision)
	lambda := model.NewParameter("skyride.lambda", mc.Lambda)
	lambda.SetBounds(0, 1)

	sr, err := gmrf.NewSkyride(trees, popSize, precision, lambda,
		gmrf.Options{TimeAwareSmoothing: mc.TimeAwareSmoothing})
	if err != nil {
		return err
	}
	if mc.TimeAwareSmoothing {
		log.Info("Time aware smoothing")
	}
	a.likelihood = sr
	a.params = model.Parameters{popSize, precision}
	a.fixed = model.Parameters{lambda}
	a.operators = append(a.walk(popSize, 0.5), mcmc.NewScale(precision, 0.75, 1))
	return nil
}

func (a *analysis) skyline(mc config.ModelConfig, trees []*tree.Tree) error {
	typ, err := skyline.ParseType(mc.Skyline.Type)
	if err != nil {
		return err
	}
	if mc.Skyline.Classic && typ != skyline.Stepwise {
		log.Warningf("Classic skyline is stepwise, ignoring %v", typ)
		typ = skyline.Stepwise
	}
	n := coalescentEvents(trees)
	if n < 1 {
		return errors.New("trees should have at least two tips")
	}
	dim := n
	if typ != skyline.Stepwise {
		dim++
	}

	var popSize *model.Parameter
	if mc.Skyline.LogSpace {
		popSize = model.NewParameterDim("skyline.logN", dim, math.Log(mc.PopSize))
	} else {
		popSize = positive("skyline.N", dim, mc.PopSize)
	}

	var sl *skyline.VariableSkyline
	var indicators *model.Parameter
	if mc.Skyline.Classic {
		sl, err = skyline.NewClassicSkyline(trees, popSize)
	} else {
		if n > 1 {
			indicators = model.NewParameterDim("skyline.indicators", n-1, 1)
			indicators.SetBounds(0, 1)
		}
		sl, err = skyline.NewVariableSkyline(trees, popSize, indicators, typ, mc.Skyline.LogSpace)
	}
	if err != nil {
		return err
	}

	a.likelihood = sl
	a.params = model.Parameters{popSize}
	if mc.Skyline.LogSpace {
		a.operators = a.walk(popSize, 0.5)
	} else {
		a.operators = []mcmc.Operator{mcmc.NewScale(popSize, 0.75, float64(dim))}
	}
	if indicators != nil {
		a.indicators = indicators
		a.params.Append(indicators)
		a.operators = append(a.operators, mcmc.NewBitFlip(indicators, float64(n-1)))
	}
	return nil
}

func (a *analysis) parametric(mc config.ModelConfig, trees []*tree.Tree) error {
	popSize := positive("coalescent.popSize", 1, mc.PopSize)
	var growth *model.Parameter
	if mc.Type == config.ModelExponential {
		growth = model.NewParameter("coalescent.growth", mc.Growth)
	}
	cl, err := coalescent.NewLikelihood(trees, popSize, growth)
	if err != nil {
		return err
	}
	a.likelihood = cl
	a.params = model.Parameters{popSize}
	a.operators = []mcmc.Operator{mcmc.NewScale(popSize, 0.75, 1)}
	if growth != nil {
		a.params.Append(growth)
		a.operators = append(a.operators, a.walk(growth, 0.1)...)
	}
	return nil
}

// continuous returns the free parameters except the skyline
// indicators.
func (a *analysis) continuous() (params model.Parameters) {
	for _, p := range a.params {
		if p != a.indicators {
			params = append(params, p)
		}
	}
	return
}

// columns returns the trace columns: every component column followed
// by the free parameters.
func (a *analysis) columns() []model.Column {
	var cols []model.Column
	for _, comp := range a.posterior.Components() {
		if lg, ok := comp.(model.Loggable); ok {
			cols = append(cols, lg.Columns()...)
		}
	}
	return append(cols, mcmc.ParameterColumns(a.params)...)
}
