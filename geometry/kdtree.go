package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// endpoint is one end of an open polyline during aggregation.
type endpoint struct {
	pos   r2.Vec
	pline *Polyline
	start bool

	opp    *endpoint
	next   *endpoint
	marked bool
}

func connect(a, b *endpoint) {
	a.next = b
	b.next = a
}

func (e *endpoint) disconnect() {
	if e.next != nil {
		e.next.next = nil
		e.next = nil
	}
}

func (e *endpoint) mark() {
	e.marked = true
	if e.next != nil {
		e.next.marked = true
	}
}

// polyline returns the polyline oriented to leave from this end.
func (e *endpoint) polyline() *Polyline {
	if e.start {
		return e.pline
	}
	return e.pline.Reverse()
}

// kdNode gathers the endpoints found at one location.
type kdNode struct {
	pos      r2.Vec
	vertical bool
	ends     []*endpoint
	complex  bool

	left, right *kdNode
}

func (n *kdNode) add(e *endpoint) {
	switch {
	case n.complex:
	case len(n.ends) == 1:
		connect(n.ends[0], e)
	case len(n.ends) == 2:
		// three ends meet, the topology is ambiguous
		n.complex = true
		for _, o := range n.ends {
			o.disconnect()
		}
	}
	n.ends = append(n.ends, e)
}

func (n *kdNode) key(p r2.Vec) float64 {
	if n.vertical {
		return p.Y - n.pos.Y
	}
	return p.X - n.pos.X
}

// kdTree indexes endpoints by position, splitting alternately on x and y.
type kdTree struct {
	root      *kdNode
	precision float64
}

func (t *kdTree) near(a, b r2.Vec) bool {
	return math.Abs(a.X-b.X) <= t.precision && math.Abs(a.Y-b.Y) <= t.precision
}

func (t *kdTree) find(n *kdNode, p r2.Vec) *kdNode {
	if n == nil {
		return nil
	}
	if t.near(n.pos, p) {
		return n
	}
	k := n.key(p)
	if k < 0 {
		if found := t.find(n.left, p); found != nil {
			return found
		}
		if -k <= t.precision {
			return t.find(n.right, p)
		}
		return nil
	}
	if found := t.find(n.right, p); found != nil {
		return found
	}
	if k <= t.precision {
		return t.find(n.left, p)
	}
	return nil
}

func (t *kdTree) insert(e *endpoint) {
	if n := t.find(t.root, e.pos); n != nil {
		n.add(e)
		return
	}
	leaf := &kdNode{pos: e.pos, ends: []*endpoint{e}}
	if t.root == nil {
		t.root = leaf
		return
	}
	n := t.root
	for {
		child := &n.right
		if n.key(e.pos) < 0 {
			child = &n.left
		}
		if *child == nil {
			leaf.vertical = !n.vertical
			*child = leaf
			return
		}
		n = *child
	}
}
