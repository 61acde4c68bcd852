// Package skyline implements the variable (and classic) skyline
// coalescent likelihood. Coalescent events are grouped by a vector of
// indicators, each group shares a piece of the demographic function.
package skyline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/skyride/coalescent"
	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/tree"
)

var log = logging.MustGetLogger("skyline")

// Type is the shape of population size within a group.
type Type int

const (
	// Stepwise is a constant population within a group.
	Stepwise Type = iota
	// Linear changes linearly between group boundaries.
	Linear
	// Exponential changes linearly on the log scale.
	Exponential
)

func (t Type) String() string {
	switch t {
	case Stepwise:
		return "stepwise"
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType converts a type name into Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "stepwise", "step":
		return Stepwise, nil
	case "linear":
		return Linear, nil
	case "exponential", "exp":
		return Exponential, nil
	}
	return 0, fmt.Errorf("unknown skyline type: %q", s)
}

type cache struct {
	eventTimes      []float64
	groupEnds       []int
	groupSizes      []int
	groupHeights    []float64
	startTime       float64
	groupsValid     bool
	intervalsKnown  bool
	logL            float64
	likelihoodKnown bool
	ill             bool
}

func copyCache(dst, src *cache) {
	dst.eventTimes = model.CopyFloats(dst.eventTimes, src.eventTimes)
	dst.groupEnds = append(dst.groupEnds[:0], src.groupEnds...)
	dst.groupSizes = append(dst.groupSizes[:0], src.groupSizes...)
	dst.groupHeights = model.CopyFloats(dst.groupHeights, src.groupHeights)
	dst.startTime = src.startTime
	dst.groupsValid = src.groupsValid
	dst.intervalsKnown = src.intervalsKnown
	dst.logL = src.logL
	dst.likelihoodKnown = src.likelihoodKnown
	dst.ill = src.ill
}

// VariableSkyline is the variable skyline likelihood.
type VariableSkyline struct {
	intervals  *coalescent.TreeIntervals
	popSize    *model.Parameter
	indicators *model.Parameter
	typ        Type
	logSpace   bool
	events     int
	state      *model.State[cache]
}

// NewVariableSkyline creates a new variable skyline likelihood. The
// number of coalescent events is the number of tips minus the number
// of trees. popSize has one value per event for Stepwise and one more
// for Linear and Exponential. indicators has one value less than the
// number of events, a zero merges the next event into the group of
// the current one. With logSpace popSize holds log sizes.
func NewVariableSkyline(trees []*tree.Tree, popSize, indicators *model.Parameter, typ Type, logSpace bool) (*VariableSkyline, error) {
	if len(trees) == 0 {
		return nil, errors.New("no trees")
	}
	tips := 0
	for _, t := range trees {
		tips += t.NLeaves()
	}
	events := tips - len(trees)
	if events < 1 {
		return nil, errors.New("trees should have at least two tips")
	}
	popDim := events
	if typ != Stepwise {
		popDim++
	}
	if popSize.Dimension() != popDim {
		return nil, fmt.Errorf("%w: population size dimension %d, expected %d",
			model.ErrDimension, popSize.Dimension(), popDim)
	}
	if indicators == nil {
		if events > 1 {
			indicators = model.NewParameterDim("skyline.indicators", events-1, 1)
		}
	} else if indicators.Dimension() != events-1 {
		return nil, fmt.Errorf("%w: indicators dimension %d, expected %d",
			model.ErrDimension, indicators.Dimension(), events-1)
	}

	s := &VariableSkyline{
		intervals:  coalescent.NewTreeIntervals(trees...),
		popSize:    popSize,
		indicators: indicators,
		typ:        typ,
		logSpace:   logSpace,
		events:     events,
	}
	s.state = model.NewState(cache{}, copyCache)
	s.intervals.AddListener(model.ListenerFunc(s.treeChanged))
	popSize.AddListener(s)
	if indicators != nil {
		indicators.AddListener(model.ListenerFunc(s.indicatorsChanged))
	}
	log.Debugf("%v skyline with %d coalescent events", typ, events)
	return s, nil
}

// NewClassicSkyline creates a stepwise skyline with a separate
// population size for every coalescent interval.
func NewClassicSkyline(trees []*tree.Tree, popSize *model.Parameter) (*VariableSkyline, error) {
	return NewVariableSkyline(trees, popSize, nil, Stepwise, false)
}

func (s *VariableSkyline) treeChanged(ev model.ChangeEvent) {
	c := s.state.Get()
	c.intervalsKnown = false
	c.likelihoodKnown = false
}

func (s *VariableSkyline) indicatorsChanged(ev model.ChangeEvent) {
	c := s.state.Get()
	c.groupsValid = false
	c.likelihoodKnown = false
}

// ModelChanged is called on population size changes.
func (s *VariableSkyline) ModelChanged(ev model.ChangeEvent) {
	s.state.Get().likelihoodKnown = false
}

// Type returns skyline type.
func (s *VariableSkyline) Type() Type {
	return s.typ
}

// EventCount returns the number of coalescent events.
func (s *VariableSkyline) EventCount() int {
	return s.events
}

// setupEvents computes coalescent event times, a polytomy yields
// several events at the same time.
func (s *VariableSkyline) setupEvents(c *cache) error {
	in, err := s.intervals.Intervals()
	if err != nil {
		return err
	}
	c.eventTimes = c.eventTimes[:0]
	for i := 0; i < in.IntervalCount(); i++ {
		end := in.StartTime(i) + in.Interval(i)
		for k := 0; k < in.CoalescentEvents(i); k++ {
			c.eventTimes = append(c.eventTimes, end)
		}
	}
	if len(c.eventTimes) != s.events {
		return fmt.Errorf("%w: %d coalescent events, expected %d",
			model.ErrDimension, len(c.eventTimes), s.events)
	}
	c.startTime = in.StartTime(0)
	return nil
}

// setupGroups recomputes group ends, sizes and heights.
func (s *VariableSkyline) setupGroups(c *cache) {
	c.groupEnds = c.groupEnds[:0]
	c.groupSizes = c.groupSizes[:0]
	c.groupHeights = c.groupHeights[:0]
	size := 0
	for i := 0; i < s.events; i++ {
		size++
		if i == s.events-1 || s.indicators.Value(i) != 0 {
			c.groupEnds = append(c.groupEnds, i)
			c.groupSizes = append(c.groupSizes, size)
			c.groupHeights = append(c.groupHeights, c.eventTimes[i])
			size = 0
		}
	}
	c.groupsValid = true
}

func (s *VariableSkyline) update() *cache {
	c := s.state.Get()
	if c.likelihoodKnown {
		return c
	}
	if !c.intervalsKnown {
		if err := s.setupEvents(c); err != nil {
			log.Debugf("Cannot set up skyline events: %v", err)
			c.ill = true
		} else {
			c.ill = false
		}
		c.intervalsKnown = true
		c.groupsValid = false
	}
	if c.ill {
		c.logL = math.Inf(-1)
		c.likelihoodKnown = true
		return c
	}
	if !c.groupsValid {
		s.setupGroups(c)
	}
	c.logL = s.calculate(c)
	c.likelihoodKnown = true
	return c
}

func (s *VariableSkyline) size(i int) float64 {
	if s.logSpace {
		return math.Exp(s.popSize.Value(i))
	}
	return s.popSize.Value(i)
}

// demographic returns the population function of group g.
func (s *VariableSkyline) demographic(c *cache, g int) coalescent.Demographic {
	end := c.groupEnds[g]
	if s.typ == Stepwise {
		return coalescent.ConstantPopulation{N0: s.size(end)}
	}
	t0, n0 := c.startTime, s.size(0)
	if g > 0 {
		t0 = c.groupHeights[g-1]
		n0 = s.size(c.groupEnds[g-1] + 1)
	}
	t1, n1 := c.groupHeights[g], s.size(end+1)
	if s.typ == Linear {
		return coalescent.LinearPiece{T0: t0, N0: n0, T1: t1, N1: n1}
	}
	return coalescent.ExponentialPiece{T0: t0, N0: n0, T1: t1, N1: n1}
}

func (s *VariableSkyline) calculate(c *cache) float64 {
	for i := 0; i < s.popSize.Dimension(); i++ {
		if s.size(i) <= 0 {
			return math.Inf(-1)
		}
	}
	in, err := s.intervals.Intervals()
	if err != nil {
		return math.Inf(-1)
	}
	logL := 0.0
	event := 0
	g := 0
	for i := 0; i < in.IntervalCount(); i++ {
		for g < len(c.groupEnds)-1 && event > c.groupEnds[g] {
			g++
		}
		d := s.demographic(c, g)
		start := in.StartTime(i)
		logL += coalescent.IntervalLogLikelihood(d, start, in.Interval(i), in.PairCount(i), in.IntervalType(i))
		ce := in.CoalescentEvents(i)
		event += ce
		// the remaining coalescences of a polytomy are zero-length
		// intervals
		for k := 1; k < ce; k++ {
			for g < len(c.groupEnds)-1 && event-ce+k > c.groupEnds[g] {
				g++
			}
			d = s.demographic(c, g)
			logL += coalescent.IntervalLogLikelihood(d, start+in.Interval(i), 0, 0, coalescent.Coalescent)
		}
		if math.IsNaN(logL) {
			return math.Inf(-1)
		}
	}
	return logL
}

// LogLikelihood returns the log likelihood.
func (s *VariableSkyline) LogLikelihood() float64 {
	return s.update().logL
}

// GroupCount returns the number of groups.
func (s *VariableSkyline) GroupCount() int {
	return len(s.update().groupEnds)
}

// GroupSizes returns number of coalescent events in every group.
func (s *VariableSkyline) GroupSizes() []int {
	return s.update().groupSizes
}

// GroupHeights returns the end time of every group.
func (s *VariableSkyline) GroupHeights() []float64 {
	return s.update().groupHeights
}

// PopSizeAt returns population size at time t. Times beyond the last
// group use the last group.
func (s *VariableSkyline) PopSizeAt(t float64) float64 {
	c := s.update()
	if c.ill || len(c.groupHeights) == 0 {
		return math.NaN()
	}
	g := sort.SearchFloat64s(c.groupHeights, t)
	if g >= len(c.groupHeights) {
		g = len(c.groupHeights) - 1
	}
	return s.demographic(c, g).PopSize(t)
}

// MakeDirty forces full recomputation.
func (s *VariableSkyline) MakeDirty() {
	s.intervals.MakeDirty()
	c := s.state.Get()
	c.intervalsKnown = false
	c.groupsValid = false
	c.likelihoodKnown = false
}

// StoreState saves the cached values.
func (s *VariableSkyline) StoreState() {
	s.intervals.StoreState()
	s.state.Begin()
}

// RestoreState brings back the saved values.
func (s *VariableSkyline) RestoreState() {
	s.intervals.RestoreState()
	s.state.Rollback()
}

// AcceptState drops the saved values.
func (s *VariableSkyline) AcceptState() {
	s.intervals.AcceptState()
	s.state.Commit()
}

// Columns returns trace columns: the likelihood, the number of
// groups and the population size at every coalescent event.
func (s *VariableSkyline) Columns() []model.Column {
	cols := []model.Column{
		{Name: "skyline.lnL", Value: s.LogLikelihood},
		{Name: "skyline.groups", Value: func() float64 { return float64(s.GroupCount()) }},
	}
	for i := 0; i < s.events; i++ {
		i := i
		cols = append(cols, model.Column{
			Name: "skyline.popSize" + strconv.Itoa(i+1),
			Value: func() float64 {
				c := s.update()
				if c.ill {
					return math.NaN()
				}
				return s.PopSizeAt(c.eventTimes[i])
			},
		}, model.Column{
			Name: "skyline.time" + strconv.Itoa(i+1),
			Value: func() float64 {
				c := s.update()
				if c.ill {
					return math.NaN()
				}
				return c.eventTimes[i]
			},
		})
	}
	return cols
}
