package subst

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"bitbucket.org/Davydov/skyride/model"
)

// ErrFrequencies is returned for invalid state frequencies.
var ErrFrequencies = errors.New("invalid frequencies")

// freqTolerance is the allowed deviation of the sum from 1.
const freqTolerance = 1e-6

// Frequencies is a stationary distribution backed by a parameter.
type Frequencies struct {
	param *model.Parameter
}

// NewFrequencies wraps a parameter holding state frequencies.
func NewFrequencies(param *model.Parameter) (*Frequencies, error) {
	f := &Frequencies{param: param}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// EqualFrequencies creates a uniform distribution over n states.
func EqualFrequencies(name string, n int) *Frequencies {
	return &Frequencies{param: model.NewParameterDim(name, n, 1/float64(n))}
}

// ReadFrequencies reads whitespace separated frequencies.
func ReadFrequencies(rd io.Reader) ([]float64, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(bufio.ScanWords)
	var res []float64
	for scanner.Scan() {
		f, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: no frequencies", ErrFrequencies)
	}
	return res, nil
}

// Parameter returns the underlying parameter.
func (f *Frequencies) Parameter() *model.Parameter {
	return f.param
}

// StateCount returns number of states.
func (f *Frequencies) StateCount() int {
	return f.param.Dimension()
}

// Values returns frequencies.
func (f *Frequencies) Values() []float64 {
	return f.param.Raw()
}

// Validate checks that the frequencies are non-negative and sum to 1.
func (f *Frequencies) Validate() error {
	sum := 0.0
	for i, v := range f.param.Raw() {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: frequency %d is %v", ErrFrequencies, i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > freqTolerance {
		return fmt.Errorf("%w: sum is %v", ErrFrequencies, sum)
	}
	return nil
}
