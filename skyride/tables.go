package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/skyride/config"
	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/subst"
)

// columnsTable renders the current values of trace columns.
func columnsTable(cols []model.Column) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"column", "value"})
	for _, c := range cols {
		tbl.AppendRow(table.Row{c.Name, c.Value()})
	}
	return tbl.Render()
}

// acceptanceTable renders operator acceptance rates.
func acceptanceTable(acc map[string]float64) string {
	names := make([]string, 0, len(acc))
	for name := range acc {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"operator", "acceptance"})
	for _, name := range names {
		tbl.AppendRow(table.Row{name, fmt.Sprintf("%.2f%%", 100*acc[name])})
	}
	return tbl.Render()
}

// stateLabels returns nucleotides for four states and numbers
// otherwise.
func stateLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		if n == len(subst.Nucleotides) {
			labels[i] = subst.Nucleotides[i : i+1]
		} else {
			labels[i] = strconv.Itoa(i + 1)
		}
	}
	return labels
}

// matrixTable renders a square matrix with state labels.
func matrixTable(title string, m mat.Matrix) string {
	n, _ := m.Dims()
	labels := stateLabels(n)

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	header := table.Row{""}
	for _, l := range labels {
		header = append(header, l)
	}
	tbl.AppendHeader(header)
	for i := 0; i < n; i++ {
		row := table.Row{labels[i]}
		for j := 0; j < n; j++ {
			row = append(row, fmt.Sprintf("%.6f", m.At(i, j)))
		}
		tbl.AppendRow(row)
	}
	return tbl.Render()
}

// vectorTable renders a state vector.
func vectorTable(title string, v []float64) string {
	labels := stateLabels(len(v))

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	tbl.AppendHeader(table.Row{"state", "value"})
	for i, x := range v {
		tbl.AppendRow(table.Row{labels[i], fmt.Sprintf("%.6f", x)})
	}
	return tbl.Render()
}

// ones returns a slice of n ones.
func ones(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = 1
	}
	return res
}

// newSubstitution creates a substitution model from the
// configuration. Rates default to ones.
func newSubstitution(sc config.SubstitutionConfig, freqs []float64) (*subst.Model, error) {
	if len(freqs) == 0 {
		freqs = sc.Frequencies
	}
	n := sc.States
	if len(freqs) > 0 {
		n = len(freqs)
	}
	var f *subst.Frequencies
	if len(freqs) == 0 {
		f = subst.EqualFrequencies("frequencies", n)
	} else {
		var err error
		f, err = subst.NewFrequencies(model.NewParameter("frequencies", freqs...))
		if err != nil {
			return nil, err
		}
	}

	rates := func(dim int) []float64 {
		if len(sc.Rates) == 0 {
			return ones(dim)
		}
		return sc.Rates
	}

	var m *subst.Model
	var err error
	switch strings.ToLower(sc.Model) {
	case "jc":
		m, err = subst.NewHKY("JC", model.NewParameter("kappa", 1), subst.EqualFrequencies("frequencies", n))
	case "hky":
		m, err = subst.NewHKY("HKY", model.NewParameter("kappa", sc.Kappa), f)
	case "tn93":
		m, err = subst.NewTN93("TN93", model.NewParameter("kappa1", sc.Kappa), model.NewParameter("kappa2", sc.Kappa2), f)
	case "gtr":
		m, err = subst.NewGeneralSubstitutionModel("GTR", model.NewParameter("rates", rates(n*(n-1)/2)...), f)
	case "complex":
		m, err = subst.NewComplexSubstitutionModel("complex", model.NewParameter("rates", rates(n*(n-1))...), f, subst.Options{})
	default:
		err = fmt.Errorf("%w, got %q", config.ErrSubstitution, sc.Model)
	}
	if err != nil {
		return nil, err
	}
	m.SetMaxConditionNumber(sc.MaxConditionNumber)
	m.SetNormalized(sc.Normalize)
	return m, nil
}

// printSubstitution writes the rate matrix, the stationary
// distribution and the transition probabilities for every time.
func printSubstitution(w io.Writer, cfg *config.Config, modelName, freqFileName string, times []float64) error {
	sc := cfg.Substitution
	if modelName != "" {
		sc.Model = modelName
	}
	var freqs []float64
	if freqFileName != "" {
		f, err := os.Open(freqFileName)
		if err != nil {
			return err
		}
		freqs, err = subst.ReadFrequencies(f)
		f.Close()
		if err != nil {
			return err
		}
	}
	m, err := newSubstitution(sc, freqs)
	if err != nil {
		return err
	}
	log.Infof("Using %s substitution model with %d states", m.Name(), m.StateCount())

	q, err := m.RateMatrix()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, matrixTable("Q", q))

	pi, err := m.StationaryDistribution()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, vectorTable("stationary", pi))
	fmt.Fprintf(w, "condition number: %g\n", m.ConditionNumber())

	n := m.StateCount()
	for _, t := range times {
		p, err := m.TransitionProbabilities(t, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, matrixTable(fmt.Sprintf("P(%g)", t), mat.NewDense(n, n, p)))
	}
	return nil
}
