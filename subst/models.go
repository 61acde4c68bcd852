package subst

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/skyride/model"
)

// Nucleotides is the nucleotide state order.
const Nucleotides = "ACGT"

// Options are optional complex model settings.
type Options struct {
	// Indicators switch individual rates on and off (BSSVS).
	Indicators *model.Parameter
}

// NewComplexSubstitutionModel creates a model with an arbitrary
// (non-reversible) rate matrix. rates has n(n-1) elements: the upper
// triangle row by row followed by the lower triangle column by
// column; Q[i][j] = rate*pi[j].
func NewComplexSubstitutionModel(name string, rates *model.Parameter, freqs *Frequencies, opts Options) (*Model, error) {
	n := freqs.StateCount()
	if n < 2 {
		return nil, fmt.Errorf("%w: at least two states required", model.ErrDimension)
	}
	if rates.Dimension() != n*(n-1) {
		return nil, fmt.Errorf("%w: rates dimension %d, expected %d",
			model.ErrDimension, rates.Dimension(), n*(n-1))
	}
	ind := opts.Indicators
	if ind != nil && ind.Dimension() != rates.Dimension() {
		return nil, fmt.Errorf("%w: indicators dimension %d, expected %d",
			model.ErrDimension, ind.Dimension(), rates.Dimension())
	}
	rate := func(k int) float64 {
		if ind != nil {
			return rates.Value(k) * ind.Value(k)
		}
		return rates.Value(k)
	}
	fill := func(q *mat.Dense, pi []float64) {
		k := 0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				q.Set(i, j, rate(k)*pi[j])
				k++
			}
		}
		for j := 0; j < n; j++ {
			for i := j + 1; i < n; i++ {
				q.Set(i, j, rate(k)*pi[j])
				k++
			}
		}
	}
	m := newModel(name, freqs, fill, false, rates, ind)
	m.connected = ind != nil
	return m, nil
}

// NewGeneralSubstitutionModel creates a reversible model with n(n-1)/2
// exchangeabilities listed row by row over the upper triangle.
func NewGeneralSubstitutionModel(name string, rates *model.Parameter, freqs *Frequencies) (*Model, error) {
	n := freqs.StateCount()
	if n < 2 {
		return nil, fmt.Errorf("%w: at least two states required", model.ErrDimension)
	}
	if rates.Dimension() != n*(n-1)/2 {
		return nil, fmt.Errorf("%w: rates dimension %d, expected %d",
			model.ErrDimension, rates.Dimension(), n*(n-1)/2)
	}
	fill := func(q *mat.Dense, pi []float64) {
		k := 0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				r := rates.Value(k)
				q.Set(i, j, r*pi[j])
				q.Set(j, i, r*pi[i])
				k++
			}
		}
	}
	return newModel(name, freqs, fill, true, rates), nil
}

// NewTN93 creates the Tamura-Nei model: kappa1 is the A<->G rate,
// kappa2 is the C<->T rate, transversions have rate 1.
func NewTN93(name string, kappa1, kappa2 *model.Parameter, freqs *Frequencies) (*Model, error) {
	if freqs.StateCount() != len(Nucleotides) {
		return nil, fmt.Errorf("%w: nucleotide model requires 4 frequencies", model.ErrDimension)
	}
	if kappa1.Dimension() != 1 || kappa2.Dimension() != 1 {
		return nil, fmt.Errorf("%w: kappa should be scalar", model.ErrDimension)
	}
	// A=0, C=1, G=2, T=3
	fill := func(q *mat.Dense, pi []float64) {
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if i == j {
					continue
				}
				r := 1.0
				switch {
				case (i == 0 && j == 2) || (i == 2 && j == 0):
					r = kappa1.Value(0)
				case (i == 1 && j == 3) || (i == 3 && j == 1):
					r = kappa2.Value(0)
				}
				q.Set(i, j, r*pi[j])
			}
		}
	}
	params := []*model.Parameter{kappa1}
	if kappa2 != kappa1 {
		params = append(params, kappa2)
	}
	return newModel(name, freqs, fill, true, params...), nil
}

// NewHKY creates the HKY model, TN93 with equal transition rates.
func NewHKY(name string, kappa *model.Parameter, freqs *Frequencies) (*Model, error) {
	return NewTN93(name, kappa, kappa, freqs)
}

// stronglyConnected checks that every state is reachable from every
// other state through positive rates.
func stronglyConnected(q *mat.Dense) bool {
	n, _ := q.Dims()
	reach := func(forward bool) bool {
		seen := make([]bool, n)
		seen[0] = true
		queue := []int{0}
		count := 1
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			for j := 0; j < n; j++ {
				r := q.At(i, j)
				if !forward {
					r = q.At(j, i)
				}
				if i != j && r > 0 && !seen[j] {
					seen[j] = true
					count++
					queue = append(queue, j)
				}
			}
		}
		return count == n
	}
	return reach(true) && reach(false)
}
