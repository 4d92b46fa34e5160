package geometry

import (
	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r2"
	"lukechampine.com/frand"
)

const (
	// JoinPrecision is the distance under which two open ends are joined.
	JoinPrecision = 1e-2
	// closePrecision is the distance under which a chain closes on itself.
	closePrecision = 1e-3
)

// Aggregate joins open polylines whose ends coincide into longer chains.
// A chain whose two free ends meet becomes a closed polyline. Closed
// inputs are returned untouched, first. Where three or more ends meet
// none of them is joined.
func Aggregate(plines []*Polyline) []*Polyline {
	closed := lo.Filter(plines, func(p *Polyline, _ int) bool { return p.Closed() })
	open := lo.Filter(plines, func(p *Polyline, _ int) bool { return !p.Closed() && !p.Empty() })

	// random order keeps the tree balanced on sorted input
	frand.Shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })

	ends := make([]*endpoint, 0, 2*len(open))
	tree := &kdTree{precision: JoinPrecision}
	for _, p := range open {
		first := p.vertices[0].Pos()
		last := p.vertices[len(p.vertices)-1].Pos()
		s := &endpoint{pos: first, pline: p, start: true}
		e := &endpoint{pos: last, pline: p}
		s.opp, e.opp = e, s
		tree.insert(s)
		tree.insert(e)
		ends = append(ends, s, e)
	}

	out := append([]*Polyline(nil), closed...)
	for updated := true; updated; {
		updated = false
		for _, e := range ends {
			if e.next != nil || e.marked {
				continue
			}
			updated = true
			out = append(out, walk(e))
		}
		if updated {
			continue
		}
		// only cycles are left: open one of them
		for _, e := range ends {
			if e.next != nil && !e.marked {
				e.disconnect()
				updated = true
				break
			}
		}
	}
	return out
}

// walk follows the chain starting at the free end e.
func walk(e *endpoint) *Polyline {
	var parts []*Polyline
	for cur := e; cur != nil; {
		cur.mark()
		parts = append(parts, cur.polyline())
		far := cur.opp
		far.mark()
		cur = far.next
	}
	var vs []Vertex
	for i, part := range parts {
		pv := part.vertices
		if i < len(parts)-1 {
			pv = pv[:len(pv)-1]
		}
		vs = append(vs, pv...)
	}
	closed := false
	if len(vs) > 2 {
		first, last := vs[0].Pos(), vs[len(vs)-1].Pos()
		if r2.Norm(r2.Sub(first, last)) <= closePrecision {
			closed = true
			vs = vs[:len(vs)-1]
		}
	}
	return NewPolyline(vs, closed)
}
