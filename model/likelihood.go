package model

import "math"

// Likelihood is a component contributing to the log posterior.
type Likelihood interface {
	// LogLikelihood returns the (cached if possible) log
	// likelihood. Numerical problems are reported as -Inf.
	LogLikelihood() float64
	// MakeDirty forces full recomputation.
	MakeDirty()
}

// Model is the state machine every cached component honours around a
// sampler proposal.
type Model interface {
	StoreState()
	RestoreState()
	AcceptState()
}

// Column is a named trace column.
type Column struct {
	Name  string
	Value func() float64
}

// Loggable exposes trace columns. Column values are pure functions
// of already computed state.
type Loggable interface {
	Columns() []Column
}

// Compound is a sum of likelihoods.
type Compound struct {
	name       string
	components []Likelihood
}

// NewCompound creates a new compound likelihood.
func NewCompound(name string, components ...Likelihood) *Compound {
	return &Compound{name: name, components: components}
}

// Add adds components.
func (c *Compound) Add(l ...Likelihood) {
	c.components = append(c.components, l...)
}

// Components returns the components.
func (c *Compound) Components() []Likelihood {
	return c.components
}

// LogLikelihood sums the components. It returns -Inf as soon as a
// component does.
func (c *Compound) LogLikelihood() (l float64) {
	for _, comp := range c.components {
		cl := comp.LogLikelihood()
		if math.IsInf(cl, -1) || math.IsNaN(cl) {
			return math.Inf(-1)
		}
		l += cl
	}
	return
}

// MakeDirty makes all components dirty.
func (c *Compound) MakeDirty() {
	for _, comp := range c.components {
		comp.MakeDirty()
	}
}

// StoreState stores all stateful components.
func (c *Compound) StoreState() {
	for _, comp := range c.components {
		if m, ok := comp.(Model); ok {
			m.StoreState()
		}
	}
}

// RestoreState restores all stateful components.
func (c *Compound) RestoreState() {
	for _, comp := range c.components {
		if m, ok := comp.(Model); ok {
			m.RestoreState()
		}
	}
}

// AcceptState accepts all stateful components.
func (c *Compound) AcceptState() {
	for _, comp := range c.components {
		if m, ok := comp.(Model); ok {
			m.AcceptState()
		}
	}
}

// Columns returns the compound column followed by the component
// columns.
func (c *Compound) Columns() []Column {
	cols := []Column{{Name: c.name, Value: c.LogLikelihood}}
	for _, comp := range c.components {
		if lg, ok := comp.(Loggable); ok {
			cols = append(cols, lg.Columns()...)
		}
	}
	return cols
}
