package model

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrDimension is returned when dimensions do not match.
var ErrDimension = errors.New("dimension mismatch")

// Parameter is a named vector of real values. Every change is
// broadcasted to the registered listeners. Parameter keeps its own
// stored copy for the store/restore cycle of a sampler.
type Parameter struct {
	name      string
	values    []float64
	stored    []float64
	lower     float64
	upper     float64
	listeners Listeners
}

// NewParameter creates a new parameter with given values.
func NewParameter(name string, values ...float64) *Parameter {
	if len(values) == 0 {
		panic("parameter should have at least one value")
	}
	p := &Parameter{
		name:   name,
		values: make([]float64, len(values)),
		stored: make([]float64, len(values)),
		lower:  math.Inf(-1),
		upper:  math.Inf(+1),
	}
	copy(p.values, values)
	copy(p.stored, values)
	return p
}

// NewParameterDim creates a new parameter of dimension dim with all
// elements set to v.
func NewParameterDim(name string, dim int, v float64) *Parameter {
	if dim < 1 {
		panic("parameter dimension should be > 0")
	}
	values := make([]float64, dim)
	for i := range values {
		values[i] = v
	}
	return NewParameter(name, values...)
}

// Name returns parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Dimension returns number of elements.
func (p *Parameter) Dimension() int {
	return len(p.values)
}

// SetBounds sets lower and upper bound for all the elements.
func (p *Parameter) SetBounds(lower, upper float64) {
	if upper < lower {
		panic("upper < lower")
	}
	p.lower = lower
	p.upper = upper
}

// Bounds returns lower and upper bound.
func (p *Parameter) Bounds() (lower, upper float64) {
	return p.lower, p.upper
}

// InBounds returns true if all the values are within the bounds.
func (p *Parameter) InBounds() bool {
	for _, v := range p.values {
		if !p.ValueInBounds(v) {
			return false
		}
	}
	return true
}

// ValueInBounds checks a single value against the bounds.
func (p *Parameter) ValueInBounds(v float64) bool {
	return !math.IsNaN(v) && v >= p.lower && v <= p.upper
}

// AddListener registers a listener.
func (p *Parameter) AddListener(l Listener) {
	p.listeners.Add(l)
}

// Value returns element i.
func (p *Parameter) Value(i int) float64 {
	return p.values[i]
}

// Values returns a copy of all the elements. If dst has the right
// length it is reused.
func (p *Parameter) Values(dst []float64) []float64 {
	if len(dst) != len(p.values) {
		dst = make([]float64, len(p.values))
	}
	copy(dst, p.values)
	return dst
}

// Raw returns the underlying slice, it must not be modified.
func (p *Parameter) Raw() []float64 {
	return p.values
}

// SetValue sets element i and notifies listeners.
func (p *Parameter) SetValue(i int, v float64) {
	if p.values[i] == v {
		return
	}
	p.values[i] = v
	p.listeners.Fire(ChangeEvent{Kind: ValueChanged, Source: p, Index: i})
}

// SetValues replaces all the elements and notifies listeners once.
func (p *Parameter) SetValues(v []float64) error {
	if len(v) != len(p.values) {
		return fmt.Errorf("%s: %w (%d != %d)", p.name, ErrDimension, len(v), len(p.values))
	}
	copy(p.values, v)
	p.listeners.Fire(ChangeEvent{Kind: AllValuesChanged, Source: p, Index: -1})
	return nil
}

// Store saves the current values.
func (p *Parameter) Store() {
	copy(p.stored, p.values)
}

// Restore brings back the stored values. Listeners are not notified:
// dependent models restore their own cached state.
func (p *Parameter) Restore() {
	p.values, p.stored = p.stored, p.values
	copy(p.stored, p.values)
}

// Accept is a no-op, next Store overwrites the stored copy.
func (p *Parameter) Accept() {
}

func (p *Parameter) String() string {
	var b bytes.Buffer
	b.WriteString(p.name)
	b.WriteString("=[")
	for i, v := range p.values {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// Parameters is a list of parameters.
type Parameters []*Parameter

// Append adds a parameter.
func (ps *Parameters) Append(p ...*Parameter) {
	*ps = append(*ps, p...)
}

// Store stores all parameters.
func (ps Parameters) Store() {
	for _, p := range ps {
		p.Store()
	}
}

// Restore restores all parameters.
func (ps Parameters) Restore() {
	for _, p := range ps {
		p.Restore()
	}
}

// Get returns parameter by name or nil.
func (ps Parameters) Get(name string) *Parameter {
	for _, p := range ps {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Dimension returns the total number of elements.
func (ps Parameters) Dimension() (n int) {
	for _, p := range ps {
		n += p.Dimension()
	}
	return
}

// Flatten writes all elements into a single slice.
func (ps Parameters) Flatten(dst []float64) []float64 {
	n := ps.Dimension()
	if len(dst) != n {
		dst = make([]float64, n)
	}
	i := 0
	for _, p := range ps {
		i += copy(dst[i:], p.values)
	}
	return dst
}

// SetFlat sets all elements from a flattened slice.
func (ps Parameters) SetFlat(v []float64) error {
	if len(v) != ps.Dimension() {
		return fmt.Errorf("%w: %d != %d", ErrDimension, len(v), ps.Dimension())
	}
	i := 0
	for _, p := range ps {
		if err := p.SetValues(v[i : i+p.Dimension()]); err != nil {
			return err
		}
		i += p.Dimension()
	}
	return nil
}

// Names returns element names, vector elements are suffixed with
// their index.
func (ps Parameters) Names() (names []string) {
	for _, p := range ps {
		if p.Dimension() == 1 {
			names = append(names, p.name)
			continue
		}
		for i := 0; i < p.Dimension(); i++ {
			names = append(names, p.name+strconv.Itoa(i+1))
		}
	}
	return
}
