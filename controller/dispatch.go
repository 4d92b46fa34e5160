package controller

import "strings"

// Handler processes one line received from the machine.
type Handler func(line string)

type dispatchNode struct {
	prefix   string
	handler  Handler
	children []*dispatchNode
}

// DecisionTree routes lines to the handler registered for their longest
// known prefix. Nodes are nested so that every child prefix extends its
// parent prefix.
type DecisionTree struct {
	root dispatchNode
}

// NewDecisionTree returns a tree calling def for lines no prefix matches.
// def may be nil.
func NewDecisionTree(def Handler) *DecisionTree {
	return &DecisionTree{root: dispatchNode{handler: def}}
}

// descend returns the deepest node whose prefix starts s.
func (t *DecisionTree) descend(s string) *dispatchNode {
	pos := &t.root
	for {
		next := pos.child(s)
		if next == nil {
			return pos
		}
		pos = next
	}
}

func (n *dispatchNode) child(s string) *dispatchNode {
	for _, c := range n.children {
		if strings.HasPrefix(s, c.prefix) {
			return c
		}
	}
	return nil
}

// Insert registers h for lines starting with prefix. Existing nodes whose
// prefix extends the new one are moved below it.
func (t *DecisionTree) Insert(prefix string, h Handler) {
	pos := t.descend(prefix)
	if pos != &t.root && pos.prefix == prefix {
		pos.handler = h
		return
	}
	node := &dispatchNode{prefix: prefix, handler: h}
	kept := pos.children[:0]
	for _, c := range pos.children {
		if strings.HasPrefix(c.prefix, prefix) {
			node.children = append(node.children, c)
		} else {
			kept = append(kept, c)
		}
	}
	pos.children = append(kept, node)
}

// Dispatch calls the handler of the deepest node matching line.
func (t *DecisionTree) Dispatch(line string) {
	if n := t.descend(line); n.handler != nil {
		n.handler(line)
	}
}
