// Package tree implements rooted time trees with node heights and
// change notification.
package tree

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"bitbucket.org/Davydov/skyride/model"
)

// ErrHeight is returned when a node is older than its parent.
var ErrHeight = errors.New("node height inconsistency")

// Tree is a rooted tree with node heights. Height is the time before
// the present (the youngest tip has height 0 unless the tree says
// otherwise).
type Tree struct {
	*Node
	nodes     []*Node
	nodeOrder []*Node
	listeners model.Listeners

	// store/restore
	storedHeights  []float64
	storedChildren [][]*Node
	storedParents  []*Node
	storedRoot     *Node
}

// Node is a tree node.
type Node struct {
	Name       string
	Parent     *Node
	childNodes []*Node
	ID         int
	LeafID     int
	height     float64
}

// NewNode creates a new node.
func NewNode(parent *Node, nodeID int) (node *Node) {
	node = &Node{Parent: parent, ID: nodeID, LeafID: -1}
	return
}

// New creates a tree from the root node. Node ids must be unique and
// dense (0..n-1).
func New(root *Node) (*Tree, error) {
	t := &Tree{Node: root}
	ids := make(map[int]bool)
	leafID := 0
	for node := range t.Walker(nil) {
		if ids[node.ID] {
			return nil, fmt.Errorf("duplicate node id %d", node.ID)
		}
		ids[node.ID] = true
		node.LeafID = -1
		if node.IsTerminal() {
			node.LeafID = leafID
			leafID++
		}
	}
	for i := 0; i < len(ids); i++ {
		if !ids[i] {
			return nil, fmt.Errorf("node id %d is missing", i)
		}
	}
	return t, t.Check()
}

// AddListener registers a listener for height and topology changes.
func (tree *Tree) AddListener(l model.Listener) {
	tree.listeners.Add(l)
}

// ClearCache clears node list caches.
func (tree *Tree) ClearCache() {
	tree.nodes = nil
	tree.nodeOrder = nil
}

// Root returns the root node.
func (tree *Tree) Root() *Node {
	return tree.Node
}

// RootHeight returns the height of the root.
func (tree *Tree) RootHeight() float64 {
	return tree.Node.height
}

// NNodes returns number of nodes.
func (tree *Tree) NNodes() int {
	return len(tree.Nodes())
}

// Nodes returns nodes indexed by ID.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NSubNodes())
		for node := range tree.Walker(nil) {
			tree.nodes[node.ID] = node
		}
	}
	return tree.nodes
}

// Terminals returns channel with terminal nodes.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(n *Node) bool {
		return n.IsTerminal()
	})
}

// NonTerminals returns channel with internal nodes.
func (tree *Tree) NonTerminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return !node.IsTerminal()
	})
}

// NLeaves returns number of leaves.
func (tree *Tree) NLeaves() (i int) {
	for range tree.Terminals() {
		i++
	}
	return
}

// Walker returns a channel iterating over the nodes (preorder) for
// which filter returns true.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NSubNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// NodeOrder returns nodes in postorder (children before parents).
func (tree *Tree) NodeOrder() []*Node {
	if tree.nodeOrder == nil {
		tree.nodeOrder = make([]*Node, 0, tree.NNodes())
		var visit func(*Node)
		visit = func(node *Node) {
			for _, child := range node.childNodes {
				visit(child)
			}
			tree.nodeOrder = append(tree.nodeOrder, node)
		}
		visit(tree.Node)
	}
	return tree.nodeOrder
}

// IsBinary returns true if every internal node has two children.
func (tree *Tree) IsBinary() bool {
	for node := range tree.NonTerminals() {
		if len(node.childNodes) != 2 {
			return false
		}
	}
	return true
}

// Check verifies that no node is older than its parent.
func (tree *Tree) Check() error {
	for _, node := range tree.Nodes() {
		if node.Parent != nil && node.height > node.Parent.height {
			return fmt.Errorf("%w: node %d (%v) is older than its parent (%v)",
				ErrHeight, node.ID, node.height, node.Parent.height)
		}
		if math.IsNaN(node.height) {
			return fmt.Errorf("%w: node %d height is NaN", ErrHeight, node.ID)
		}
	}
	return nil
}

// SetHeight changes node height and notifies listeners.
func (tree *Tree) SetHeight(node *Node, h float64) {
	if node.height == h {
		return
	}
	node.height = h
	tree.listeners.Fire(model.ChangeEvent{Kind: model.HeightChanged, Source: tree, Index: node.ID})
}

// SwapSubtrees exchanges subtrees a and b between their parents.
// Heights are not changed, so the result must still be consistent.
func (tree *Tree) SwapSubtrees(a, b *Node) error {
	pa, pb := a.Parent, b.Parent
	if pa == nil || pb == nil {
		return errors.New("cannot swap the root")
	}
	if pa == pb {
		return nil
	}
	for n := pa; n != nil; n = n.Parent {
		if n == b {
			return errors.New("cannot swap a node with its ancestor")
		}
	}
	for n := pb; n != nil; n = n.Parent {
		if n == a {
			return errors.New("cannot swap a node with its ancestor")
		}
	}
	if a.height > pb.height || b.height > pa.height {
		return fmt.Errorf("%w: swap violates node order", ErrHeight)
	}
	pa.replaceChild(a, b)
	pb.replaceChild(b, a)
	tree.nodeOrder = nil
	tree.listeners.Fire(model.ChangeEvent{Kind: model.TopologyChanged, Source: tree, Index: -1})
	return nil
}

// StoreState saves heights and topology.
func (tree *Tree) StoreState() {
	nodes := tree.Nodes()
	if tree.storedHeights == nil {
		tree.storedHeights = make([]float64, len(nodes))
		tree.storedChildren = make([][]*Node, len(nodes))
		tree.storedParents = make([]*Node, len(nodes))
	}
	for i, node := range nodes {
		tree.storedHeights[i] = node.height
		tree.storedChildren[i] = append(tree.storedChildren[i][:0], node.childNodes...)
		tree.storedParents[i] = node.Parent
	}
	tree.storedRoot = tree.Node
}

// RestoreState brings back heights and topology saved by
// StoreState. Listeners are not notified.
func (tree *Tree) RestoreState() {
	if tree.storedHeights == nil {
		panic("restore without store")
	}
	nodes := tree.Nodes()
	for i, node := range nodes {
		node.height = tree.storedHeights[i]
		node.childNodes = append(node.childNodes[:0], tree.storedChildren[i]...)
		node.Parent = tree.storedParents[i]
	}
	tree.Node = tree.storedRoot
	tree.nodeOrder = nil
}

// AcceptState does nothing.
func (tree *Tree) AcceptState() {
}

// Copy creates independent copy of the tree without listeners.
func (tree *Tree) Copy() (newTree *Tree) {
	nodes := tree.Nodes()
	newTree = &Tree{nodes: make([]*Node, len(nodes))}

	for i, node := range nodes {
		newTree.nodes[i] = node.Copy()
	}

	for i, node := range nodes {
		newNode := newTree.nodes[i]
		for _, child := range node.childNodes {
			newNode.AddChild(newTree.nodes[child.ID])
		}
	}

	newTree.Node = newTree.nodes[tree.Node.ID]
	return
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:       node.Name,
		childNodes: make([]*Node, 0, len(node.childNodes)),
		ID:         node.ID,
		LeafID:     node.LeafID,
		height:     node.height,
	}
}

// AddChild adds a child node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

func (node *Node) replaceChild(old, new *Node) {
	for i, c := range node.childNodes {
		if c == old {
			node.childNodes[i] = new
			new.Parent = node
			return
		}
	}
	panic("child not found")
}

// Height returns node height.
func (node *Node) Height() float64 {
	return node.height
}

// BranchLength returns the length of the branch above the node.
func (node *Node) BranchLength() float64 {
	if node.Parent == nil {
		return 0
	}
	return node.Parent.height - node.height
}

// ChildNodes returns children.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Walk sends nodes to the channel in preorder.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// NSubNodes returns the number of nodes in the subtree.
func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// IsRoot returns true for the root node.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for leaves.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

func (node *Node) String() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s:%0.6f", node.Name, node.BranchLength())
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.String()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf("):%0.6f", node.BranchLength())
	if node.IsRoot() {
		s += ";"
	}
	return s
}

// LongString returns node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("ID=%v, Height=%v", node.ID, node.height)
	if node.IsTerminal() {
		s += fmt.Sprintf(", LeafID=%v", node.LeafID)
	}
	s += ">"
	return
}

// FullString returns indented description of the subtree.
func (node *Node) FullString() string {
	return strings.TrimSpace(node.prefixString(""))
}

func (node *Node) prefixString(prefix string) (s string) {
	s = prefix + node.LongString() + "\n"
	for _, node := range node.childNodes {
		s += node.prefixString(prefix + "    ")
	}
	return
}
