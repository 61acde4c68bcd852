package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constL struct {
	l      float64
	stored int
	dirty  bool
}

func (c *constL) LogLikelihood() float64 { return c.l }
func (c *constL) MakeDirty()             { c.dirty = true }
func (c *constL) StoreState()            { c.stored++ }
func (c *constL) RestoreState()          { c.stored-- }
func (c *constL) AcceptState()           {}

func TestParameterEvents(tst *testing.T) {
	p := NewParameter("x", 1, 2, 3)
	var events []ChangeEvent
	p.AddListener(ListenerFunc(func(ev ChangeEvent) {
		events = append(events, ev)
	}))

	p.SetValue(1, 5)
	p.SetValue(1, 5) // no change, no event
	require.Len(tst, events, 1)
	assert.Equal(tst, ValueChanged, events[0].Kind)
	assert.Equal(tst, 1, events[0].Index)
	assert.Same(tst, p, events[0].Source)

	require.NoError(tst, p.SetValues([]float64{0, 0, 0}))
	require.Len(tst, events, 2)
	assert.Equal(tst, AllValuesChanged, events[1].Kind)

	err := p.SetValues([]float64{1})
	assert.True(tst, errors.Is(err, ErrDimension))
}

func TestParameterStoreRestore(tst *testing.T) {
	p := NewParameter("x", 1, 2)
	p.Store()
	p.SetValue(0, 10)
	p.Restore()
	assert.Equal(tst, []float64{1, 2}, p.Values(nil))

	p.SetValue(1, 7)
	p.Store()
	p.Restore()
	assert.Equal(tst, []float64{1, 7}, p.Values(nil))
}

func TestParameterBounds(tst *testing.T) {
	p := NewParameterDim("tau", 2, 1)
	p.SetBounds(0, math.Inf(1))
	assert.True(tst, p.InBounds())
	p.SetValue(0, -1)
	assert.False(tst, p.InBounds())
	assert.False(tst, p.ValueInBounds(math.NaN()))
}

func TestParametersFlatten(tst *testing.T) {
	var ps Parameters
	ps.Append(NewParameter("a", 1), NewParameter("b", 2, 3))
	assert.Equal(tst, []string{"a", "b1", "b2"}, ps.Names())
	assert.Equal(tst, []float64{1, 2, 3}, ps.Flatten(nil))
	require.NoError(tst, ps.SetFlat([]float64{4, 5, 6}))
	assert.Equal(tst, 6.0, ps.Get("b").Value(1))
	assert.Error(tst, ps.SetFlat([]float64{1}))
}

type cache struct {
	xs []float64
	l  float64
}

func copyCache(dst, src *cache) {
	dst.xs = CopyFloats(dst.xs, src.xs)
	dst.l = src.l
}

func TestStateRollback(tst *testing.T) {
	s := NewState(cache{xs: []float64{1, 2}, l: -3}, copyCache)
	s.Begin()
	s.Get().xs[0] = 100
	s.Get().l = 0
	s.Rollback()
	assert.Equal(tst, []float64{1, 2}, s.Get().xs)
	assert.Equal(tst, -3.0, s.Get().l)

	s.Begin()
	s.Get().l = 1
	s.Commit()
	assert.Equal(tst, 1.0, s.Get().l)
	assert.Panics(tst, func() { s.Rollback() })
}

func TestCompound(tst *testing.T) {
	a := &constL{l: -1}
	b := &constL{l: -2}
	c := NewCompound("posterior", a, b)
	assert.Equal(tst, -3.0, c.LogLikelihood())
	c.StoreState()
	assert.Equal(tst, 1, a.stored)
	c.RestoreState()
	assert.Equal(tst, 0, b.stored)
	c.MakeDirty()
	assert.True(tst, a.dirty && b.dirty)

	b.l = math.Inf(-1)
	assert.True(tst, math.IsInf(c.LogLikelihood(), -1))
	assert.Equal(tst, "posterior", c.Columns()[0].Name)
}
