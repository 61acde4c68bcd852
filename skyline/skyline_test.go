package skyline

import (
	"bytes"
	"math"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/tree"
)

const (
	smallDiff = 1e-9

	// coalescent events at 1, 2 and 3
	tree4    = "(((a:1,b:1):1,c:2):1,d:3);"
	treeHet  = "(((a:0.3,b:1.0):0.5,c:0.2):1.0,(d:0.7,e:0.4):0.9);"
	polytomy = "(a:1,b:1,c:1);"
)

func init() {
	logging.SetLevel(logging.WARNING, "skyline")
}

func parse(tst *testing.T, s string) []*tree.Tree {
	t, err := tree.ParseNewick(bytes.NewBufferString(s))
	require.NoError(tst, err)
	return []*tree.Tree{t}
}

func TestParseType(tst *testing.T) {
	for _, typ := range []Type{Stepwise, Linear, Exponential} {
		p, err := ParseType(typ.String())
		require.NoError(tst, err)
		assert.Equal(tst, typ, p)
	}
	_, err := ParseType("spline")
	assert.Error(tst, err)
}

func TestClassic(tst *testing.T) {
	popSize := model.NewParameter("skyline.popSize", 1, 2, 4)
	s, err := NewClassicSkyline(parse(tst, tree4), popSize)
	require.NoError(tst, err)

	assert.InDelta(tst, -7.75-3*math.Ln2, s.LogLikelihood(), smallDiff)
	assert.Equal(tst, 3, s.GroupCount())
	assert.Equal(tst, []int{1, 1, 1}, s.GroupSizes())
	assert.InDeltaSlice(tst, []float64{1, 2, 3}, s.GroupHeights(), smallDiff)
	assert.InDelta(tst, 2, s.PopSizeAt(1.5), smallDiff)
	assert.InDelta(tst, 4, s.PopSizeAt(5), smallDiff)

	popSize.SetValue(0, -1)
	assert.True(tst, math.IsInf(s.LogLikelihood(), -1))
}

func TestGroups(tst *testing.T) {
	popSize := model.NewParameter("skyline.popSize", 1, 2, 4)
	indicators := model.NewParameter("skyline.indicators", 0, 1)
	s, err := NewVariableSkyline(parse(tst, tree4), popSize, indicators, Stepwise, false)
	require.NoError(tst, err)

	assert.Equal(tst, 2, s.GroupCount())
	assert.Equal(tst, []int{2, 1}, s.GroupSizes())
	assert.InDeltaSlice(tst, []float64{2, 3}, s.GroupHeights(), smallDiff)
	assert.InDelta(tst, -4.75-4*math.Ln2, s.LogLikelihood(), smallDiff)

	indicators.SetValue(1, 0)
	assert.Equal(tst, 1, s.GroupCount())
	assert.Equal(tst, []int{3}, s.GroupSizes())
	assert.InDelta(tst, -2.5-3*math.Log(4), s.LogLikelihood(), smallDiff)
}

func TestLinear(tst *testing.T) {
	// N(t) = 1 + t
	popSize := model.NewParameter("skyline.popSize", 1, 2, 3, 4)
	s, err := NewVariableSkyline(parse(tst, tree4), popSize, nil, Linear, false)
	require.NoError(tst, err)

	exp := -6*math.Ln2 - math.Ln2 - 3*math.Log(1.5) - math.Log(3) - math.Log(4.0/3) - math.Log(4)
	assert.InDelta(tst, exp, s.LogLikelihood(), smallDiff)
	assert.InDelta(tst, 2.5, s.PopSizeAt(1.5), smallDiff)

	require.NoError(tst, popSize.SetValues([]float64{1, 1, 1, 1}))
	assert.InDelta(tst, -10, s.LogLikelihood(), smallDiff)
}

func TestExponential(tst *testing.T) {
	// N(t) = 2^t
	popSize := model.NewParameter("skyline.logPopSize", 0, math.Ln2, 2*math.Ln2, 3*math.Ln2)
	s, err := NewVariableSkyline(parse(tst, tree4), popSize, nil, Exponential, true)
	require.NoError(tst, err)

	exp := -(3+0.75+0.125)/math.Ln2 - 6*math.Ln2
	assert.InDelta(tst, exp, s.LogLikelihood(), smallDiff)
	assert.InDelta(tst, math.Pow(2, 2.5), s.PopSizeAt(2.5), smallDiff)

	require.NoError(tst, popSize.SetValues([]float64{math.Ln2, math.Ln2, math.Ln2, math.Ln2}))
	assert.InDelta(tst, -5-3*math.Ln2, s.LogLikelihood(), smallDiff)
}

func TestPolytomy(tst *testing.T) {
	popSize := model.NewParameter("skyline.popSize", 1, 2)
	s, err := NewClassicSkyline(parse(tst, polytomy), popSize)
	require.NoError(tst, err)
	assert.InDelta(tst, -3-math.Ln2, s.LogLikelihood(), smallDiff)
}

func TestDimensions(tst *testing.T) {
	trees := parse(tst, tree4)
	_, err := NewVariableSkyline(trees, model.NewParameterDim("p", 3, 1), nil, Linear, false)
	assert.ErrorIs(tst, err, model.ErrDimension)

	_, err = NewVariableSkyline(trees, model.NewParameterDim("p", 3, 1), model.NewParameterDim("i", 3, 1), Stepwise, false)
	assert.ErrorIs(tst, err, model.ErrDimension)
}

func TestStoreRestore(tst *testing.T) {
	trees := parse(tst, treeHet)
	t := trees[0]
	popSize := model.NewParameter("skyline.popSize", 1, 2, 3, 4)
	indicators := model.NewParameter("skyline.indicators", 1, 0, 1)
	s, err := NewVariableSkyline(trees, popSize, indicators, Stepwise, false)
	require.NoError(tst, err)

	l0 := s.LogLikelihood()
	require.False(tst, math.IsInf(l0, 0))
	groups := s.GroupCount()

	s.StoreState()
	t.StoreState()
	popSize.Store()
	indicators.Store()

	t.SetHeight(t.Root(), t.RootHeight()*2)
	indicators.SetValue(1, 1)
	popSize.SetValue(3, 10)
	assert.NotEqual(tst, l0, s.LogLikelihood())
	assert.NotEqual(tst, groups, s.GroupCount())

	s.RestoreState()
	t.RestoreState()
	popSize.Restore()
	indicators.Restore()
	assert.Equal(tst, l0, s.LogLikelihood())
	assert.Equal(tst, groups, s.GroupCount())

	s.MakeDirty()
	assert.InDelta(tst, l0, s.LogLikelihood(), smallDiff)

	cols := s.Columns()
	require.Len(tst, cols, 2+2*4)
	assert.Equal(tst, "skyline.lnL", cols[0].Name)
	assert.InDelta(tst, l0, cols[0].Value(), smallDiff)
}
