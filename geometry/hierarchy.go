package geometry

import (
	"errors"
	"fmt"
)

var (
	ErrOverlappingContours = errors.New("overlapping contours")
	ErrSelfCrossing        = errors.New("self crossing geometry")
)

type node struct {
	pline    *Polyline
	children []*node
}

func (n *node) contains(o *node) bool {
	return n.pline.Contains(o.pline)
}

// insert places n into the forest below the nodes containing it and
// above the nodes it contains.
func insert(forest []*node, n *node) []*node {
	var rest []*node
	for _, h := range forest {
		if n.contains(h) {
			n.children = append(n.children, h)
		} else {
			rest = append(rest, h)
		}
	}
	if len(n.children) > 0 {
		return append(rest, n)
	}
	for _, h := range forest {
		if h.contains(n) {
			h.children = insert(h.children, n)
			return forest
		}
	}
	return append(forest, n)
}

// groups flattens the forest into exterior and immediate-hole groups, one
// nesting level at a time. Each group lists its holes first and its
// exterior last.
func groups(forest []*node) [][]*Polyline {
	var out [][]*Polyline
	for len(forest) > 0 {
		var next []*node
		for _, n := range forest {
			g := make([]*Polyline, 0, len(n.children)+1)
			for _, c := range n.children {
				g = append(g, c.pline)
				next = append(next, c.children...)
			}
			out = append(out, append(g, n.pline))
		}
		forest = next
	}
	return out
}

// GroupContours nests the polylines by containment and returns one group
// per part. Self crossing paths and closed contours whose boundaries cross
// are rejected.
func GroupContours(plines []*Polyline) ([][]*Polyline, error) {
	var valid []*Polyline
	for _, p := range plines {
		if !p.Empty() {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil, ErrEmptyGeometry
	}
	for _, p := range valid {
		if p.SelfCrossing() {
			return nil, fmt.Errorf("%w: %v", ErrSelfCrossing, p.Bounds())
		}
	}
	for i, p := range valid {
		if !p.Closed() {
			continue
		}
		for _, q := range valid[i+1:] {
			if q.Closed() && p.Intersects(q) {
				return nil, fmt.Errorf("%w: contours %v and %v", ErrOverlappingContours, p.Bounds(), q.Bounds())
			}
		}
	}
	var forest []*node
	for _, p := range valid {
		forest = insert(forest, &node{pline: p})
	}
	return groups(forest), nil
}
