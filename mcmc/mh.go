// Package mcmc drives cached likelihood models with a
// Metropolis-Hastings sampler and an L-BFGS-B optimizer.
package mcmc

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/skyride/checkpoint"
	"bitbucket.org/Davydov/skyride/model"
)

var log = logging.MustGetLogger("mcmc")

// Posterior is a cached log posterior honouring the store/restore
// state machine.
type Posterior interface {
	model.Likelihood
	model.Model
}

// Summary is a result of a sampler or optimizer run.
type Summary struct {
	Iterations      int                  `json:"iterations"`
	LogPosterior    float64              `json:"logPosterior"`
	MaxLogPosterior float64              `json:"maxLogPosterior"`
	MaxParameters   map[string][]float64 `json:"maxParameters"`
	Acceptance      map[string]float64   `json:"acceptance,omitempty"`
	Calls           int                  `json:"calls"`
	Time            float64              `json:"time"`
}

// MH is a Metropolis-Hastings sampler.
type MH struct {
	posterior   Posterior
	params      model.Parameters
	operators   []Operator
	totalWeight float64
	r           *rand.Rand

	trace *Trace
	cp    *checkpoint.IO
	sig   chan os.Signal

	// AccPeriod is the acceptance rate report period.
	AccPeriod int
	// RepPeriod is the log report period.
	RepPeriod int

	start   int
	resumed bool
	i       int
	l       float64
	maxL    float64
	maxLPar []float64
	calls   int
	deltaT  time.Duration
}

// NewMH creates a new sampler over params changed by operators.
func NewMH(posterior Posterior, params model.Parameters, operators []Operator, seed int64) (*MH, error) {
	if len(operators) == 0 {
		return nil, errors.New("no operators")
	}
	m := &MH{
		posterior: posterior,
		params:    params,
		operators: operators,
		r:         rand.New(rand.NewSource(seed)),
		AccPeriod: 1000,
		RepPeriod: 1000,
		maxL:      math.Inf(-1),
	}
	for _, op := range operators {
		if op.Weight() <= 0 {
			return nil, errors.New("operator weight should be > 0")
		}
		m.totalWeight += op.Weight()
	}
	return m, nil
}

// SetTrace sets the trace writer.
func (m *MH) SetTrace(t *Trace) {
	m.trace = t
}

// SetCheckpoint sets the checkpoint saver.
func (m *MH) SetCheckpoint(cp *checkpoint.IO) {
	m.cp = cp
}

// WatchSignals makes the sampler stop after receiving one of the
// signals.
func (m *MH) WatchSignals(sigs ...os.Signal) {
	m.sig = make(chan os.Signal, 1)
	signal.Notify(m.sig, sigs...)
}

// Resume loads parameter values and the iteration from the
// checkpoint. It returns false if there is nothing to resume.
func (m *MH) Resume() (bool, error) {
	if m.cp == nil {
		return false, nil
	}
	data, err := m.cp.Load()
	if err != nil || data == nil {
		return false, err
	}
	for _, p := range m.params {
		v, ok := data.Parameters[p.Name()]
		if !ok {
			return false, errors.New("checkpoint has no parameter " + p.Name())
		}
		if err := p.SetValues(v); err != nil {
			return false, err
		}
	}
	m.start = data.Iter
	m.resumed = true
	m.posterior.MakeDirty()
	return true, nil
}

func (m *MH) choose() Operator {
	u := m.r.Float64() * m.totalWeight
	for _, op := range m.operators {
		u -= op.Weight()
		if u < 0 {
			return op
		}
	}
	return m.operators[len(m.operators)-1]
}

// saveCheckpoint stores the state after iter completed iterations.
// The trace is flushed first so that it has every line up to iter.
func (m *MH) saveCheckpoint(iter int, final bool) error {
	if m.cp == nil || (!final && !m.cp.Old()) {
		return nil
	}
	if m.trace != nil {
		if err := m.trace.Flush(); err != nil {
			return err
		}
	}
	data := &checkpoint.Data{
		Parameters:   make(map[string][]float64, len(m.params)),
		LogPosterior: m.l,
		Iter:         iter,
		Final:        final,
	}
	for _, p := range m.params {
		data.Parameters[p.Name()] = p.Values(nil)
	}
	// errors are logged by checkpoint
	_ = m.cp.Save(data)
	return nil
}

// Run runs the sampler until the given total number of iterations.
func (m *MH) Run(iterations int) error {
	startTime := time.Now()
	defer func() { m.deltaT = time.Since(startTime) }()

	m.l = m.posterior.LogLikelihood()
	m.calls++
	if math.IsInf(m.l, -1) || math.IsNaN(m.l) {
		return errors.New("initial posterior is zero")
	}
	if m.l > m.maxL {
		m.maxL = m.l
		m.maxLPar = m.params.Flatten(m.maxLPar)
	}
	// a resumed trace already has the header and the starting line
	if m.trace != nil && !m.resumed {
		if err := m.trace.Header(); err != nil {
			return err
		}
		if err := m.trace.Line(m.start, m.l); err != nil {
			return err
		}
	}
	accepted := 0
Iter:
	for m.i = m.start; m.i < iterations; m.i++ {
		if m.i > m.start && m.i%m.AccPeriod == 0 {
			log.Infof("Acceptance rate %.2f%%", 100*float64(accepted)/float64(m.AccPeriod))
			accepted = 0
		}
		if m.i%m.RepPeriod == 0 {
			log.Debugf("%d: lnP=%f", m.i, m.l)
		}

		op := m.choose()
		par := op.Parameter()
		m.posterior.StoreState()
		par.Store()

		logH := op.Propose(m.r)
		newL := math.Inf(-1)
		if !math.IsInf(logH, -1) {
			newL = m.posterior.LogLikelihood()
			m.calls++
		}

		a := newL - m.l + logH
		if !math.IsNaN(a) && (a > 0 || math.Log(m.r.Float64()) < a) {
			m.posterior.AcceptState()
			par.Accept()
			op.Accept(m.i)
			m.l = newL
			accepted++
			if m.l > m.maxL {
				m.maxL = m.l
				m.maxLPar = m.params.Flatten(m.maxLPar)
			}
		} else {
			op.Reject()
			par.Restore()
			m.posterior.RestoreState()
		}

		if m.trace != nil {
			if err := m.trace.Line(m.i+1, m.l); err != nil {
				return err
			}
		}
		if err := m.saveCheckpoint(m.i+1, false); err != nil {
			return err
		}

		select {
		case s := <-m.sig:
			log.Warningf("Received signal %v, exiting.", s)
			m.i++
			break Iter
		default:
		}
	}
	if m.trace != nil {
		var err error
		if m.i == m.start && m.resumed {
			err = m.trace.Flush()
		} else {
			err = m.trace.Last(m.i, m.l)
		}
		if err != nil {
			return err
		}
	}
	return m.saveCheckpoint(m.i, true)
}

// LogPosterior returns the current log posterior.
func (m *MH) LogPosterior() float64 {
	return m.l
}

// Summary returns run summary.
func (m *MH) Summary() Summary {
	s := Summary{
		Iterations:      m.i,
		LogPosterior:    m.l,
		MaxLogPosterior: m.maxL,
		MaxParameters:   unflatten(m.params, m.maxLPar),
		Acceptance:      make(map[string]float64, len(m.operators)),
		Calls:           m.calls,
		Time:            m.deltaT.Seconds(),
	}
	for _, op := range m.operators {
		if ar, ok := op.(interface{ AcceptanceRate() float64 }); ok {
			if rate := ar.AcceptanceRate(); !math.IsNaN(rate) {
				s.Acceptance[op.Name()] = rate
			}
		}
	}
	return s
}

// unflatten splits a flat vector into per-parameter values.
func unflatten(params model.Parameters, flat []float64) map[string][]float64 {
	res := make(map[string][]float64, len(params))
	if len(flat) != params.Dimension() {
		return res
	}
	k := 0
	for _, p := range params {
		res[p.Name()] = append([]float64(nil), flat[k:k+p.Dimension()]...)
		k += p.Dimension()
	}
	return res
}
