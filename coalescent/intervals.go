// Package coalescent extracts coalescent intervals from time trees and
// computes Kingman coalescent densities.
package coalescent

import (
	"fmt"
	"sort"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/skyride/tree"
)

// log is a global logging variable.
var log = logging.MustGetLogger("coalescent")

// EventType is a type of a tree event.
type EventType int

// Event types.
const (
	// Sample is a tip sampled at a given time.
	Sample EventType = iota
	// Coalescent is a merge of lineages at an internal node.
	Coalescent
)

func (t EventType) String() string {
	switch t {
	case Sample:
		return "sample"
	case Coalescent:
		return "coalescent"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is a sampling or coalescent event.
type Event struct {
	Time float64
	Type EventType
	// Count is the number of coalescences (children-1) for a
	// coalescent event, 1 for a sample.
	Count int
	// Tree is the index of the tree the event belongs to.
	Tree int
	// Lineages is the total number of lineages right after the
	// event (going back in time).
	Lineages int
	// Pairs is the number of lineage pairs which can coalesce
	// right after the event. For a single tree it is
	// Lineages*(Lineages-1)/2, for several trees pairs are only
	// counted within a tree.
	Pairs float64
}

// Intervals is an ordered sequence of intervals between consecutive
// events. Interval i spans events i and i+1 and has the type of the
// closing event.
type Intervals struct {
	events []Event
	nTrees int
}

// choose2 returns n*(n-1)/2.
func choose2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// Extract walks the trees and builds the merged sequence of events.
// A tree with a child older than its parent is an error.
func Extract(trees ...*tree.Tree) (*Intervals, error) {
	var events []Event
	for ti, t := range trees {
		if err := t.Check(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", ti, err)
		}
		for _, node := range t.NodeOrder() {
			if node.IsTerminal() {
				events = append(events, Event{Time: node.Height(), Type: Sample, Count: 1, Tree: ti})
			} else {
				events = append(events, Event{Time: node.Height(), Type: Coalescent, Count: len(node.ChildNodes()) - 1, Tree: ti})
			}
		}
	}
	// samples go first at ties, the lineage count must never go
	// below one
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return events[i].Type == Sample && events[j].Type == Coalescent
	})

	perTree := make([]int, len(trees))
	lineages := 0
	pairs := 0.0
	for i := range events {
		ev := &events[i]
		n := perTree[ev.Tree]
		pairs -= choose2(n)
		switch ev.Type {
		case Sample:
			n++
		case Coalescent:
			n -= ev.Count
			if n < 1 {
				return nil, fmt.Errorf("%w: coalescence without lineages at %v", tree.ErrHeight, ev.Time)
			}
		}
		lineages += n - perTree[ev.Tree]
		perTree[ev.Tree] = n
		pairs += choose2(n)
		ev.Lineages = lineages
		ev.Pairs = pairs
	}
	log.Debugf("extracted %d events from %d tree(s)", len(events), len(trees))
	return &Intervals{events: events, nTrees: len(trees)}, nil
}

// Events returns all events ordered by time.
func (in *Intervals) Events() []Event {
	return in.events
}

// TreeCount returns number of trees used.
func (in *Intervals) TreeCount() int {
	return in.nTrees
}

// IntervalCount returns number of intervals.
func (in *Intervals) IntervalCount() int {
	if len(in.events) == 0 {
		return 0
	}
	return len(in.events) - 1
}

// Interval returns the length of interval i.
func (in *Intervals) Interval(i int) float64 {
	return in.events[i+1].Time - in.events[i].Time
}

// StartTime returns the start time of interval i.
func (in *Intervals) StartTime(i int) float64 {
	return in.events[i].Time
}

// LineageCount returns number of lineages during interval i.
func (in *Intervals) LineageCount(i int) int {
	return in.events[i].Lineages
}

// PairCount returns number of coalescible pairs during interval i.
func (in *Intervals) PairCount(i int) float64 {
	return in.events[i].Pairs
}

// IntervalType returns the type of the event closing interval i.
func (in *Intervals) IntervalType(i int) EventType {
	return in.events[i+1].Type
}

// CoalescentEvents returns number of coalescences closing interval
// i, zero for sample intervals.
func (in *Intervals) CoalescentEvents(i int) int {
	ev := in.events[i+1]
	if ev.Type != Coalescent {
		return 0
	}
	return ev.Count
}

// TotalHeight returns the time between the first and the last event.
func (in *Intervals) TotalHeight() float64 {
	if len(in.events) == 0 {
		return 0
	}
	return in.events[len(in.events)-1].Time - in.events[0].Time
}

// SampleCount returns number of sampling events.
func (in *Intervals) SampleCount() (n int) {
	for _, ev := range in.events {
		if ev.Type == Sample {
			n++
		}
	}
	return
}

// CoalescentCount returns number of coalescences.
func (in *Intervals) CoalescentCount() (n int) {
	for _, ev := range in.events {
		if ev.Type == Coalescent {
			n += ev.Count
		}
	}
	return
}

// CoalescentIntervalCount returns number of intervals closed by a
// coalescent event.
func (in *Intervals) CoalescentIntervalCount() (n int) {
	for _, ev := range in.events {
		if ev.Type == Coalescent {
			n++
		}
	}
	return
}
