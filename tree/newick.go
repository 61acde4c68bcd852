package tree

import (
	"bufio"
	"errors"
	"io"
	"math"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Newick parser modes.
type mode int

const (
	normal mode = iota
	length
	comment
)

// heightEpsilon is the tolerance used to snap heights computed from
// branch lengths to zero.
const heightEpsilon = 1e-10

// NewLeaf creates a terminal node at a given height.
func NewLeaf(id int, name string, height float64) *Node {
	return &Node{Name: name, ID: id, height: height}
}

// NewInternal creates an internal node with children.
func NewInternal(id int, height float64, children ...*Node) *Node {
	node := &Node{ID: id, LeafID: -1, height: height}
	for _, child := range children {
		node.AddChild(child)
	}
	return node
}

// IsSpecial returns true for Newick control characters.
func IsSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', ';', ',', '[', ']':
		return true
	}
	return false
}

// NewickSplit is a bufio.SplitFunc for Newick tokens.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if IsSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || IsSpecial(r) {
			return i, data[start:i], nil
		}
	}
	// If we're at EOF, we have a final, non-empty, non-terminated word. Return it.
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick reads the first tree from rd. Node heights are computed
// from branch lengths: the tip furthest from the root gets height 0.
func ParseNewick(rd io.Reader) (*Tree, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(NewickSplit)
	t, err := parseNewick(scanner)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New("no tree found")
	}
	return t, nil
}

// ParseNewickAll reads all the trees from rd.
func ParseNewickAll(rd io.Reader) (trees []*Tree, err error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(NewickSplit)
	for {
		t, err := parseNewick(scanner)
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		trees = append(trees, t)
	}
	if len(trees) == 0 {
		return nil, errors.New("no tree found")
	}
	return trees, nil
}

// parseNewick reads a single tree; nil tree is returned on EOF.
func parseNewick(scanner *bufio.Scanner) (tree *Tree, err error) {
	nodeID := 0
	leafID := 0
	var node *Node
	var root *Node
	brlen := make(map[*Node]float64)

	m := normal
	seen := false

	for scanner.Scan() {
		text := scanner.Text()
		if m == comment {
			if text == "]" {
				m = normal
			}
			continue
		}
		if text == "[" {
			m = comment
			continue
		}
		seen = true
		if root == nil {
			root = NewNode(nil, nodeID)
			nodeID++
			node = root
		}
		switch text {
		case "(":
			subNode := NewNode(nil, nodeID)
			nodeID++
			node.AddChild(subNode)
			node = subNode

		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			subNode := NewNode(nil, nodeID)
			nodeID++

			node.Parent.AddChild(subNode)
			node = subNode

		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
		case ":":
			m = length
		case ";":
			if node != root {
				return nil, errors.New("brackets mismatch")
			}
			return finishTree(root, brlen, leafID)
		default:
			switch m {
			case length:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				brlen[node] = l
				m = normal
			default:
				node.Name = text
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if seen {
		return nil, errors.New("tree is not terminated with ';'")
	}
	return nil, nil
}

// finishTree assigns leaf ids and computes heights.
func finishTree(root *Node, brlen map[*Node]float64, leafID int) (*Tree, error) {
	tree := &Tree{Node: root}
	depth := make(map[*Node]float64)
	maxDepth := 0.0
	for node := range tree.Walker(nil) {
		if node.Parent != nil {
			l := brlen[node]
			if l < 0 {
				return nil, errors.New("negative branch length")
			}
			depth[node] = depth[node.Parent] + l
		}
		if node.IsTerminal() {
			node.LeafID = leafID
			leafID++
			maxDepth = math.Max(maxDepth, depth[node])
		}
	}
	for node := range tree.Walker(nil) {
		h := maxDepth - depth[node]
		if h < heightEpsilon {
			h = 0
		}
		node.height = h
	}
	return tree, tree.Check()
}
