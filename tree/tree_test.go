package tree

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"bitbucket.org/Davydov/skyride/model"
)

const (
	tree1 = "((((a001:0.242690,a002:0.268555):0.073424,a003:0.252510):0.198740,((((((a004:0.001000,a005:0.014869):0.045007,a006:0.050606):0.056908,a007:0.166439):0.023217,a008:0.094788):0.429852,a009:0.558116):0.130317,(a010:0.009332,a011:0.024271):0.315124):0.217376):0.464470,a012:0.144369):0.0;"
	tree2 = "((a:1,b:1):2,c:3);"
	// heterochronous: b sampled 0.5 before a and c
	tree3 = "((a:1,b:0.5):2,c:3);"

	smallDiff = 1e-9
)

func TestParseHeights(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree2))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	if t.NNodes() != 5 || t.NLeaves() != 3 {
		tst.Errorf("wrong node count: %d nodes, %d leaves", t.NNodes(), t.NLeaves())
	}
	if math.Abs(t.RootHeight()-3) > smallDiff {
		tst.Error("Expected root height 3, got", t.RootHeight())
	}
	if t.String() != "((a:1.000000,b:1.000000):2.000000,c:3.000000):0.000000;" {
		tst.Error("Wrong tree string:", t)
	}
	if !t.IsBinary() {
		tst.Error("tree should be binary")
	}
}

func TestParseHeterochronous(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree3))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	for node := range t.Terminals() {
		want := 0.0
		if node.Name == "b" {
			want = 0.5
		}
		if math.Abs(node.Height()-want) > smallDiff {
			tst.Errorf("%s: expected height %v, got %v", node.Name, want, node.Height())
		}
	}
}

func TestParseErrors(tst *testing.T) {
	for _, s := range []string{"((a:1,b:1);", "(a:1,b:1", "(a:x,b:1);", "(a:-1,b:1);"} {
		if _, err := ParseNewick(bytes.NewBufferString(s)); err == nil {
			tst.Errorf("%q: expected error", s)
		}
	}
}

func TestParseAll(tst *testing.T) {
	trees, err := ParseNewickAll(bytes.NewBufferString(tree2 + "\n[comment]" + tree1 + "\n"))
	if err != nil {
		tst.Fatal("Error parsing trees", err)
	}
	if len(trees) != 2 {
		tst.Fatal("Expected 2 trees, got", len(trees))
	}
	if trees[1].NLeaves() != 12 {
		tst.Error("Expected 12 leaves, got", trees[1].NLeaves())
	}
}

func TestNodeOrder(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree1))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	seen := make(map[*Node]bool)
	for _, node := range t.NodeOrder() {
		for _, child := range node.ChildNodes() {
			if !seen[child] {
				tst.Fatal("child visited after parent")
			}
		}
		seen[node] = true
	}
	if len(seen) != t.NNodes() {
		tst.Error("not all nodes visited")
	}
}

func TestCopy(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree1))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	t1 := t.Copy()
	tNodes := t.Nodes()
	t1Nodes := t1.Nodes()
	for i := range tNodes {
		if tNodes[i] == t1Nodes[i] {
			tst.Error("node pointers match between trees")
		}
		if tNodes[i].Height() != t1Nodes[i].Height() {
			tst.Error("node heights differ")
		}
	}
	if t.String() != t1.String() {
		tst.Error("tree strings differ:", t, t1)
	}
}

func TestHeightEvents(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(tree2))
	if err != nil {
		tst.Fatal("Error parsing tree", err)
	}
	var events []model.ChangeEvent
	t.AddListener(model.ListenerFunc(func(ev model.ChangeEvent) {
		events = append(events, ev)
	}))
	t.StoreState()
	t.SetHeight(t.Root(), 4)
	if len(events) != 1 || events[0].Kind != model.HeightChanged || events[0].Index != t.Root().ID {
		tst.Fatal("expected a height event, got", events)
	}
	t.RestoreState()
	if t.RootHeight() != 3 {
		tst.Error("height not restored:", t.RootHeight())
	}
	t.SetHeight(t.Root(), 0.5)
	if err := t.Check(); !errors.Is(err, ErrHeight) {
		tst.Error("expected height error, got", err)
	}
}

func TestSwapSubtrees(tst *testing.T) {
	root := NewInternal(0, 3,
		NewInternal(1, 1, NewLeaf(2, "a", 0), NewLeaf(3, "b", 0)),
		NewLeaf(4, "c", 0))
	t, err := New(root)
	if err != nil {
		tst.Fatal(err)
	}
	topo := 0
	t.AddListener(model.ListenerFunc(func(ev model.ChangeEvent) {
		if ev.Kind == model.TopologyChanged {
			topo++
		}
	}))
	nodes := t.Nodes()
	t.StoreState()
	if err := t.SwapSubtrees(nodes[2], nodes[4]); err != nil {
		tst.Fatal(err)
	}
	if topo != 1 {
		tst.Error("expected a topology event")
	}
	if nodes[4].Parent != nodes[1] || nodes[2].Parent != nodes[0] {
		tst.Error("swap failed:", t.FullString())
	}
	t.RestoreState()
	if nodes[2].Parent != nodes[1] || t.String() != "((a:1.000000,b:1.000000):2.000000,c:3.000000):0.000000;" {
		tst.Error("restore failed:", t)
	}
	if err := t.SwapSubtrees(nodes[1], nodes[2]); err == nil {
		tst.Error("expected ancestor error")
	}
}

func TestNewErrors(tst *testing.T) {
	root := NewInternal(0, 1, NewLeaf(1, "a", 0), NewLeaf(1, "b", 0))
	if _, err := New(root); err == nil {
		tst.Error("expected duplicate id error")
	}
	root = NewInternal(0, 1, NewLeaf(1, "a", 0), NewLeaf(3, "b", 0))
	if _, err := New(root); err == nil {
		tst.Error("expected missing id error")
	}
}
