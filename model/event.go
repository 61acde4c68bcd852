// Package model provides the parameter, change-event and
// store/restore machinery shared by all likelihood components.
package model

import "fmt"

// EventKind is a kind of change event.
type EventKind int

// Change event kinds.
const (
	// ValueChanged is fired when a single parameter element
	// changes. ChangeEvent.Index holds the element index.
	ValueChanged EventKind = iota
	// AllValuesChanged is fired when the whole parameter vector
	// is replaced.
	AllValuesChanged
	// HeightChanged is fired when a node height changes.
	HeightChanged
	// TopologyChanged is fired when the tree topology changes.
	TopologyChanged
	// NodeChanged is fired when a node-level quantity other than
	// the height changes.
	NodeChanged
)

func (k EventKind) String() string {
	switch k {
	case ValueChanged:
		return "value"
	case AllValuesChanged:
		return "all-values"
	case HeightChanged:
		return "height"
	case TopologyChanged:
		return "topology"
	case NodeChanged:
		return "node"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ChangeEvent describes a change of an upstream variable.
type ChangeEvent struct {
	Kind EventKind
	// Source is the parameter or tree which fired the event.
	Source interface{}
	// Index is the parameter element or node id, -1 if not
	// applicable.
	Index int
}

// Listener receives change events.
type Listener interface {
	ModelChanged(ChangeEvent)
}

// ListenerFunc is a function implementing Listener.
type ListenerFunc func(ChangeEvent)

// ModelChanged calls f(ev).
func (f ListenerFunc) ModelChanged(ev ChangeEvent) {
	f(ev)
}

// Listeners is a list of listeners.
type Listeners []Listener

// Add appends a listener.
func (ls *Listeners) Add(l Listener) {
	if l == nil {
		panic("nil listener")
	}
	*ls = append(*ls, l)
}

// Fire sends the event to every listener.
func (ls Listeners) Fire(ev ChangeEvent) {
	for _, l := range ls {
		l.ModelChanged(ev)
	}
}
