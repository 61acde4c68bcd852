package mcmc

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"bitbucket.org/Davydov/skyride/checkpoint"
	"bitbucket.org/Davydov/skyride/model"
)

func init() {
	logging.SetLevel(logging.WARNING, "mcmc")
	logging.SetLevel(logging.WARNING, "checkpoint")
}

// cachedPosterior is a compound with a store/restore counter, it
// checks that the sampler keeps the state machine balanced.
type cachedPosterior struct {
	*model.Compound
	stored, restored, accepted int
	onStore                    func(n int)
}

func (c *cachedPosterior) StoreState() {
	c.stored++
	if c.onStore != nil {
		c.onStore(c.stored)
	}
	c.Compound.StoreState()
}

func (c *cachedPosterior) RestoreState() {
	c.restored++
	c.Compound.RestoreState()
}

func (c *cachedPosterior) AcceptState() {
	c.accepted++
	c.Compound.AcceptState()
}

func TestPriors(tst *testing.T) {
	p := model.NewParameter("x", 2)
	g := NewGammaPrior(p, 2, 3)
	// x e^{-x/3} / (Γ(2) 3²)
	assert.InDelta(tst, math.Log(2)-2.0/3-2*math.Log(3), g.LogLikelihood(), 1e-12)

	e := NewExponentialPrior(p, 0.5)
	assert.InDelta(tst, math.Log(0.5)-1, e.LogLikelihood(), 1e-12)

	u := NewUniformPrior(p, 0, 4)
	assert.InDelta(tst, -math.Log(4), u.LogLikelihood(), 1e-12)
	p.SetValue(0, 5)
	assert.True(tst, math.IsInf(u.LogLikelihood(), -1))

	p.SetValue(0, -1)
	assert.True(tst, math.IsInf(g.LogLikelihood(), -1))

	v := model.NewParameter("v", 0, 1)
	n := NewNormalPrior(v, 0, 1)
	assert.InDelta(tst, -math.Log(2*math.Pi)-0.5, n.LogLikelihood(), 1e-12)
	v.SetBounds(0.5, 2)
	assert.True(tst, math.IsInf(n.LogLikelihood(), -1))

	_, err := NewPriorByName(p, "cauchy", 0, 1)
	assert.Error(tst, err)
	ln, err := NewPriorByName(model.NewParameter("y", 1), "lognormal", 0, 1)
	require.NoError(tst, err)
	assert.InDelta(tst, -0.5*math.Log(2*math.Pi), ln.LogLikelihood(), 1e-12)
}

func TestOperators(tst *testing.T) {
	r := rand.New(rand.NewSource(1))
	p := model.NewParameter("x", 1, 2)
	p.SetBounds(0, 10)

	s := NewScale(p, 0.5, 1)
	for i := 0; i < 100; i++ {
		old := p.Values(nil)
		h := s.Propose(r)
		for j, v := range p.Raw() {
			if v != old[j] {
				ratio := v / old[j]
				assert.True(tst, ratio >= 0.5 && ratio <= 2)
				assert.InDelta(tst, -math.Log(ratio), h, 1e-9)
			}
		}
	}

	ind := model.NewParameter("ind", 0, 0, 0)
	b := NewBitFlip(ind, 1)
	b.Propose(r)
	sum := 0.0
	for _, v := range ind.Raw() {
		sum += v
	}
	assert.Equal(tst, 1.0, sum)

	w := NewRandomWalk(p, 100, 1)
	rejected := false
	for i := 0; i < 100 && !rejected; i++ {
		rejected = math.IsInf(w.Propose(r), -1)
	}
	assert.True(tst, rejected)
	assert.True(tst, p.InBounds())
}

func sample(tst *testing.T, post *cachedPosterior, params model.Parameters, ops []Operator, n int) *TraceData {
	m, err := NewMH(post, params, ops, 42)
	require.NoError(tst, err)
	var buf bytes.Buffer
	m.SetTrace(NewTrace(&buf, 10, ParameterColumns(params)))
	require.NoError(tst, m.Run(n))
	assert.Equal(tst, n, post.stored)
	assert.Equal(tst, n, post.restored+post.accepted)
	td, err := ReadTrace(&buf)
	require.NoError(tst, err)
	iters := td.Column("iteration")
	require.Len(tst, iters, n/10+1)
	assert.Equal(tst, float64(n), iters[len(iters)-1])
	return td.Burnin(0.1)
}

func TestMHNormal(tst *testing.T) {
	x := model.NewParameter("x", 0)
	post := &cachedPosterior{Compound: model.NewCompound("posterior", NewNormalPrior(x, 3, 1))}
	td := sample(tst, post, model.Parameters{x}, []Operator{NewRandomWalk(x, 1, 1)}, 50000)
	mean, sd := stat.MeanStdDev(td.Column("x"), nil)
	assert.InDelta(tst, 3, mean, 0.1)
	assert.InDelta(tst, 1, sd, 0.1)
}

func TestMHGamma(tst *testing.T) {
	x := model.NewParameter("x", 1)
	x.SetBounds(0, math.Inf(1))
	post := &cachedPosterior{Compound: model.NewCompound("posterior", NewGammaPrior(x, 3, 2))}
	td := sample(tst, post, model.Parameters{x}, []Operator{NewScale(x, 0.5, 1)}, 50000)
	// mean is shape*scale
	assert.InDelta(tst, 6, stat.Mean(td.Column("x"), nil), 0.4)
}

func TestMHAdaptive(tst *testing.T) {
	x := model.NewParameter("x", 0, 0)
	post := &cachedPosterior{Compound: model.NewCompound("posterior", NewNormalPrior(x, -2, 0.5))}
	as := NewAdaptiveSettings()
	as.SD = 0.3
	ops := NewAdaptiveRandomWalks(x, 1, as)
	td := sample(tst, post, model.Parameters{x}, ops, 50000)
	assert.InDelta(tst, -2, stat.Mean(td.Column("x1"), nil), 0.15)
	assert.InDelta(tst, -2, stat.Mean(td.Column("x2"), nil), 0.15)
	for _, op := range ops {
		a := op.(*AdaptiveRandomWalk)
		assert.True(tst, a.SD() > 0)
		assert.True(tst, a.AcceptanceRate() > 0)
	}
}

func TestMHCheckpoint(tst *testing.T) {
	path := filepath.Join(tst.TempDir(), "cp.db")
	cp, err := checkpoint.Open(path, "run", 0)
	require.NoError(tst, err)
	defer cp.Close()

	x := model.NewParameter("x", 0)
	post := &cachedPosterior{Compound: model.NewCompound("posterior", NewNormalPrior(x, 0, 1))}
	m, err := NewMH(post, model.Parameters{x}, []Operator{NewRandomWalk(x, 1, 1)}, 1)
	require.NoError(tst, err)
	m.SetCheckpoint(cp)
	require.NoError(tst, m.Run(100))
	final := x.Value(0)

	s := m.Summary()
	assert.Equal(tst, 100, s.Iterations)
	assert.True(tst, s.MaxLogPosterior >= s.LogPosterior)
	assert.Len(tst, s.MaxParameters["x"], 1)

	y := model.NewParameter("x", 10)
	post2 := &cachedPosterior{Compound: model.NewCompound("posterior", NewNormalPrior(y, 0, 1))}
	m2, err := NewMH(post2, model.Parameters{y}, []Operator{NewRandomWalk(y, 1, 1)}, 1)
	require.NoError(tst, err)
	m2.SetCheckpoint(cp)
	ok, err := m2.Resume()
	require.NoError(tst, err)
	assert.True(tst, ok)
	assert.Equal(tst, final, y.Value(0))
	require.NoError(tst, m2.Run(150))
	assert.Equal(tst, 50, post2.stored)
}

func TestMHResumeTrace(tst *testing.T) {
	dir := tst.TempDir()
	cp, err := checkpoint.Open(filepath.Join(dir, "cp.db"), "run", 0)
	require.NoError(tst, err)
	defer cp.Close()
	traceFile := filepath.Join(dir, "trace.log")

	// interrupted after 40 iterations
	x := model.NewParameter("x", 0)
	post := &cachedPosterior{Compound: model.NewCompound("posterior", NewNormalPrior(x, 0, 1))}
	m, err := NewMH(post, model.Parameters{x}, []Operator{NewRandomWalk(x, 1, 1)}, 1)
	require.NoError(tst, err)
	m.SetCheckpoint(cp)
	m.sig = make(chan os.Signal, 1)
	post.onStore = func(n int) {
		switch n {
		case 20:
			// 19 iterations are complete
			data, err := cp.Load()
			require.NoError(tst, err)
			require.NotNil(tst, data)
			assert.Equal(tst, 19, data.Iter)
			assert.False(tst, data.Final)
		case 40:
			m.sig <- os.Interrupt
		}
	}
	f, err := os.Create(traceFile)
	require.NoError(tst, err)
	m.SetTrace(NewTrace(f, 3, ParameterColumns(model.Parameters{x})))
	require.NoError(tst, m.Run(100))
	require.NoError(tst, f.Close())
	assert.Equal(tst, 40, m.Summary().Iterations)
	stopped := x.Value(0)

	y := model.NewParameter("x", 10)
	post2 := &cachedPosterior{Compound: model.NewCompound("posterior", NewNormalPrior(y, 0, 1))}
	m2, err := NewMH(post2, model.Parameters{y}, []Operator{NewRandomWalk(y, 1, 1)}, 2)
	require.NoError(tst, err)
	m2.SetCheckpoint(cp)
	ok, err := m2.Resume()
	require.NoError(tst, err)
	require.True(tst, ok)
	assert.Equal(tst, stopped, y.Value(0))
	f, err = os.OpenFile(traceFile, os.O_WRONLY|os.O_APPEND, 0666)
	require.NoError(tst, err)
	m2.SetTrace(NewTrace(f, 3, ParameterColumns(model.Parameters{y})))
	require.NoError(tst, m2.Run(100))
	require.NoError(tst, f.Close())
	assert.Equal(tst, 60, post2.stored)

	f, err = os.Open(traceFile)
	require.NoError(tst, err)
	defer f.Close()
	td, err := ReadTrace(f)
	require.NoError(tst, err)
	var exp []float64
	for i := 0; i <= 100; i++ {
		if i%3 == 0 || i == 40 || i == 100 {
			exp = append(exp, float64(i))
		}
	}
	iters := td.Column("iteration")
	assert.Equal(tst, exp, iters)
	for i, it := range iters {
		if it == 40 {
			assert.Equal(tst, stopped, td.Column("x")[i])
		}
	}
}

func TestLBFGSB(tst *testing.T) {
	x := model.NewParameter("x", 0, 0)
	y := model.NewParameter("y", 1)
	y.SetBounds(0, 10)
	post := model.NewCompound("posterior",
		NewNormalPrior(x, 3, 1),
		NewGammaPrior(y, 3, 1))
	opt := NewLBFGSB(post, model.Parameters{x, y})
	opt.Run()

	// the gamma mode is (shape-1)*scale
	assert.InDelta(tst, 3, x.Value(0), 1e-3)
	assert.InDelta(tst, 3, x.Value(1), 1e-3)
	assert.InDelta(tst, 2, y.Value(0), 1e-3)
	assert.InDelta(tst, post.LogLikelihood(), opt.MaxLogPosterior(), 1e-12)
	s := opt.Summary()
	assert.Len(tst, s.MaxParameters["x"], 2)
	assert.True(tst, s.Calls > 0)
}
