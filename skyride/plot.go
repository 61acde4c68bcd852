package main

import (
	"errors"
	"math"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/Davydov/skyride/mcmc"
)

// trajectoryPrefixes are the likelihoods writing popSize<i> and
// time<i> columns.
var trajectoryPrefixes = []string{"skyride.", "skyline."}

// trajectories extracts per-sample population sizes and event times.
func trajectories(td *mcmc.TraceData) (sizes, times [][]float64, err error) {
	for _, prefix := range trajectoryPrefixes {
		var sc, tc [][]float64
		for i := 1; ; i++ {
			s := td.Column(prefix + "popSize" + strconv.Itoa(i))
			t := td.Column(prefix + "time" + strconv.Itoa(i))
			if s == nil || t == nil {
				break
			}
			sc = append(sc, s)
			tc = append(tc, t)
		}
		if len(sc) == 0 {
			continue
		}
		// transpose into samples
		n := len(sc[0])
		sizes = make([][]float64, n)
		times = make([][]float64, n)
		for k := 0; k < n; k++ {
			sizes[k] = make([]float64, len(sc))
			times[k] = make([]float64, len(sc))
			for i := range sc {
				sizes[k][i] = sc[i][k]
				times[k][i] = tc[i][k]
			}
		}
		return sizes, times, nil
	}
	return nil, nil, errors.New("trace has no population size columns")
}

// stepAt returns the size of the interval covering t, times beyond
// the last event get the last size.
func stepAt(sizes, times []float64, t float64) float64 {
	i := sort.SearchFloat64s(times, t)
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return sizes[i]
}

// quantileTrajectory computes the median and the 95% interval of the
// population size over a time grid from zero to the median root
// time.
func quantileTrajectory(td *mcmc.TraceData, gridSize int) (median, lower, upper plotter.XYs, err error) {
	sizes, times, err := trajectories(td)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(sizes) == 0 {
		return nil, nil, nil, errors.New("trace has no samples")
	}
	if gridSize < 2 {
		gridSize = 2
	}
	roots := make([]float64, 0, len(times))
	for _, t := range times {
		if last := t[len(t)-1]; !math.IsNaN(last) {
			roots = append(roots, last)
		}
	}
	if len(roots) == 0 {
		return nil, nil, nil, errors.New("trace has no valid samples")
	}
	sort.Float64s(roots)
	maxT := stat.Quantile(0.5, stat.Empirical, roots, nil)

	median = make(plotter.XYs, gridSize)
	lower = make(plotter.XYs, gridSize)
	upper = make(plotter.XYs, gridSize)
	vals := make([]float64, 0, len(sizes))
	for g := 0; g < gridSize; g++ {
		t := maxT * float64(g) / float64(gridSize-1)
		vals = vals[:0]
		for k := range sizes {
			if v := stepAt(sizes[k], times[k], t); !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return nil, nil, nil, errors.New("trace has no valid samples")
		}
		sort.Float64s(vals)
		median[g].X, lower[g].X, upper[g].X = t, t, t
		median[g].Y = stat.Quantile(0.5, stat.Empirical, vals, nil)
		lower[g].Y = stat.Quantile(0.025, stat.Empirical, vals, nil)
		upper[g].Y = stat.Quantile(0.975, stat.Empirical, vals, nil)
	}
	return median, lower, upper, nil
}

// plotTrajectory reads the trace and saves the population size plot.
func plotTrajectory(traceFileName, outFileName string, burnin float64, gridSize int) error {
	f, err := os.Open(traceFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	td, err := mcmc.ReadTrace(f)
	if err != nil {
		return err
	}
	median, lower, upper, err := quantileTrajectory(td.Burnin(burnin), gridSize)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Effective population size"
	p.X.Label.Text = "time before present"
	p.Y.Label.Text = "Ne"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	err = plotutil.AddLines(p,
		"median", median,
		"2.5%", lower,
		"97.5%", upper)
	if err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, outFileName)
}
