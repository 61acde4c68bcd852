package coalescent

import (
	"bitbucket.org/Davydov/skyride/model"
	"bitbucket.org/Davydov/skyride/tree"
)

// TreeIntervals caches intervals of a set of trees. The cache is
// invalidated by any tree change and the event is forwarded to own
// listeners.
type TreeIntervals struct {
	trees       []*tree.Tree
	intervals   *Intervals
	stored      *Intervals
	eventsKnown bool
	storedKnown bool
	listeners   model.Listeners
}

// NewTreeIntervals creates a new interval cache and registers it with
// the trees.
func NewTreeIntervals(trees ...*tree.Tree) *TreeIntervals {
	ti := &TreeIntervals{trees: trees}
	for _, t := range trees {
		t.AddListener(ti)
	}
	return ti
}

// Trees returns the trees.
func (ti *TreeIntervals) Trees() []*tree.Tree {
	return ti.trees
}

// AddListener adds a listener notified on tree changes.
func (ti *TreeIntervals) AddListener(l model.Listener) {
	ti.listeners.Add(l)
}

// ModelChanged invalidates the cache.
func (ti *TreeIntervals) ModelChanged(ev model.ChangeEvent) {
	switch ev.Kind {
	case model.HeightChanged, model.TopologyChanged, model.NodeChanged:
		ti.eventsKnown = false
	}
	ti.listeners.Fire(ev)
}

// Intervals returns cached intervals, recomputing them if needed.
func (ti *TreeIntervals) Intervals() (*Intervals, error) {
	if !ti.eventsKnown {
		in, err := Extract(ti.trees...)
		if err != nil {
			return nil, err
		}
		ti.intervals = in
		ti.eventsKnown = true
	}
	return ti.intervals, nil
}

// MakeDirty forces recomputation.
func (ti *TreeIntervals) MakeDirty() {
	ti.eventsKnown = false
}

// StoreState keeps a reference to the current intervals. Intervals
// are never modified in place, so no copy is needed.
func (ti *TreeIntervals) StoreState() {
	ti.stored = ti.intervals
	ti.storedKnown = ti.eventsKnown
}

// RestoreState brings back the stored intervals.
func (ti *TreeIntervals) RestoreState() {
	ti.intervals, ti.stored = ti.stored, ti.intervals
	ti.eventsKnown = ti.storedKnown
}

// AcceptState does nothing.
func (ti *TreeIntervals) AcceptState() {
}
