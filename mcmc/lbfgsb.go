package mcmc

import (
	"math"
	"os"
	"os/signal"
	"time"

	lbfgsb "github.com/idavydov/go-lbfgsb"

	"bitbucket.org/Davydov/skyride/model"
)

// LBFGSB finds the maximum a posteriori estimate with the bounded
// L-BFGS quasi-Newton method and finite difference gradients.
type LBFGSB struct {
	posterior model.Likelihood
	params    model.Parameters
	dH        float64
	grad      []float64
	lower     []float64
	upper     []float64
	sig       chan os.Signal
	stopped   bool

	// RepPeriod is the log report period.
	RepPeriod int

	i       int
	calls   int
	maxL    float64
	maxLPar []float64
	deltaT  time.Duration
}

// NewLBFGSB creates a new optimizer over params.
func NewLBFGSB(posterior model.Likelihood, params model.Parameters) *LBFGSB {
	l := &LBFGSB{
		posterior: posterior,
		params:    params,
		dH:        1e-6,
		RepPeriod: 10,
		maxL:      math.Inf(-1),
	}
	for _, p := range params {
		lo, up := p.Bounds()
		for i := 0; i < p.Dimension(); i++ {
			l.lower = append(l.lower, lo)
			l.upper = append(l.upper, up)
		}
	}
	return l
}

// WatchSignals makes the optimizer stop evaluating after receiving
// one of the signals.
func (l *LBFGSB) WatchSignals(sigs ...os.Signal) {
	l.sig = make(chan os.Signal, 1)
	signal.Notify(l.sig, sigs...)
}

func (l *LBFGSB) inRange(x []float64) bool {
	for i, v := range x {
		if v < l.lower[i] || v > l.upper[i] || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func (l *LBFGSB) checkSignal() {
	select {
	case s := <-l.sig:
		log.Warningf("Received signal %v, stopping.", s)
		l.stopped = true
	default:
	}
}

// Logger is called by the optimizer after every iteration.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	if l.i%l.RepPeriod == 0 {
		log.Debugf("%d: lnP=%f", l.i, -info.F)
	}
	l.checkSignal()
}

// EvaluateFunction returns the negative log posterior.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if l.stopped || !l.inRange(x) {
		return math.Inf(+1)
	}
	if err := l.params.SetFlat(x); err != nil {
		panic(err)
	}
	L := l.posterior.LogLikelihood()
	l.calls++
	if L > l.maxL {
		l.maxL = L
		l.maxLPar = l.params.Flatten(l.maxLPar)
	}
	if math.IsNaN(L) {
		return math.Inf(+1)
	}
	return -L
}

// EvaluateGradient returns central finite difference gradient of the
// negative log posterior.
func (l *LBFGSB) EvaluateGradient(x []float64) []float64 {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	y := append([]float64(nil), x...)
	for i := range x {
		lo, up := x[i]-l.dH, x[i]+l.dH
		y[i] = lo
		f1 := l.EvaluateFunction(y)
		y[i] = up
		f2 := l.EvaluateFunction(y)
		y[i] = x[i]
		l.grad[i] = (f2 - f1) / 2 / l.dH
	}
	// leave the parameters at x
	l.EvaluateFunction(x)
	l.checkSignal()
	return l.grad
}

// Run optimizes and leaves the parameters at the best point found.
func (l *LBFGSB) Run() {
	startTime := time.Now()
	bounds := make([][2]float64, len(l.lower))
	for i := range bounds {
		bounds[i][0] = l.lower[i]
		bounds[i][1] = l.upper[i]
		if !math.IsInf(l.lower[i], 0) {
			bounds[i][0] += 1e-5
		}
		if !math.IsInf(l.upper[i], 0) {
			bounds[i][1] -= 1e-5
		}
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)
	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.params.Flatten(nil))
	log.Infof("Exit status: %v", exitStatus)

	if l.maxLPar != nil {
		if err := l.params.SetFlat(l.maxLPar); err != nil {
			panic(err)
		}
	}
	l.deltaT = time.Since(startTime)
	log.Infof("Maximum log posterior: %v", l.maxL)
	log.Infof("Function calls: %v", l.calls)
}

// MaxLogPosterior returns the best value found.
func (l *LBFGSB) MaxLogPosterior() float64 {
	return l.maxL
}

// Summary returns run summary.
func (l *LBFGSB) Summary() Summary {
	return Summary{
		Iterations:      l.i,
		LogPosterior:    l.maxL,
		MaxLogPosterior: l.maxL,
		MaxParameters:   unflatten(l.params, l.maxLPar),
		Calls:           l.calls,
		Time:            l.deltaT.Seconds(),
	}
}
