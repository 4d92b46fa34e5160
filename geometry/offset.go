package geometry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// offset pieces closer than the offset distance minus this tolerance
	// to the source polyline are discarded.
	offsetDistEps = 1e-4
	// endpoints closer than this are joined.
	joinEps = 1e-6
)

// Offset returns the polylines parallel to p at the given distance.
// Positive distances offset to the right of the direction of travel, so
// a counter-clockwise polyline grows and a clockwise one shrinks. The
// result may hold several polylines, or none when the shape vanishes.
func (p *Polyline) Offset(distance float64) []*Polyline {
	if p.Empty() {
		return nil
	}
	if math.Abs(distance) < joinEps {
		return []*Polyline{NewPolyline(p.vertices, p.closed)}
	}
	raw := rawOffset(p, distance)
	if len(raw) == 0 {
		return nil
	}
	cuts := selfIntersections(raw, p.closed)
	dist := math.Abs(distance)
	if len(cuts) == 0 {
		if !validPiece(raw, p, dist) {
			return nil
		}
		res := fromSegments(raw, p.closed)
		if p.closed && (res.Area() >= 0) != p.IsCCW() {
			return nil
		}
		return []*Polyline{res}
	}
	var pieces [][]segment
	for _, piece := range split(raw, cuts, p.closed) {
		if validPiece(piece, p, dist) {
			pieces = append(pieces, piece)
		}
	}
	return stitch(pieces, p.closed)
}

func offsetSegment(s segment, d float64) segment {
	if s.isLine() {
		n := r2.Scale(d, rightNormal(r2.Unit(r2.Sub(s.b, s.a))))
		return segment{a: r2.Add(s.a, n), b: r2.Add(s.b, n)}
	}
	g := s.arc()
	r := g.radius + d*math.Copysign(1, g.sweep)
	k := r / g.radius
	a := r2.Add(g.center, r2.Scale(k, r2.Sub(s.a, g.center)))
	b := r2.Add(g.center, r2.Scale(k, r2.Sub(s.b, g.center)))
	if r < joinEps {
		// collapsed arc
		return segment{a: a, b: b}
	}
	return segment{a: a, b: b, bulge: s.bulge}
}

// rawOffset offsets every segment and joins consecutive ones: convex
// corners get an arc around the source vertex, concave corners a straight
// connector whose overlap is removed later.
func rawOffset(p *Polyline, d float64) []segment {
	src := p.segments()
	offs := make([]segment, len(src))
	for i, s := range src {
		offs[i] = offsetSegment(s, d)
	}
	out := make([]segment, 0, 2*len(offs))
	for i, cur := range offs {
		if r2.Norm(r2.Sub(cur.b, cur.a)) > joinEps {
			out = append(out, cur)
		}
		if i == len(offs)-1 && !p.closed {
			break
		}
		j := (i + 1) % len(offs)
		out = appendJoin(out, cur.b, offs[j].a, src[i].b, src[i].endTangent(), src[j].startTangent(), d)
	}
	return out
}

func appendJoin(out []segment, from, to, vertex, tin, tout r2.Vec, d float64) []segment {
	if r2.Norm(r2.Sub(to, from)) < joinEps {
		return out
	}
	turn := r2.Cross(tin, tout)
	uturn := math.Abs(turn) < 1e-9 && r2.Dot(tin, tout) < 0
	if turn*d > 0 || uturn {
		u, v := r2.Sub(from, vertex), r2.Sub(to, vertex)
		sweep := math.Atan2(r2.Cross(u, v), r2.Dot(u, v))
		if uturn {
			sweep = math.Copysign(math.Pi, d)
		}
		return append(out, segment{a: from, b: to, bulge: math.Tan(sweep / 4)})
	}
	return append(out, segment{a: from, b: to})
}

// cut is a position along a segment list.
type cut struct {
	seg int
	t   float64
}

func (c cut) less(o cut) bool {
	if c.seg != o.seg {
		return c.seg < o.seg
	}
	return c.t < o.t
}

// selfIntersections returns the sorted, deduplicated positions where the
// path crosses itself.
func selfIntersections(segs []segment, closed bool) []cut {
	n := len(segs)
	boxes := make([]r2.Box, n)
	for i, s := range segs {
		boxes[i] = s.bounds()
	}
	var cuts []cut
	add := func(seg int, t float64) {
		if t >= 1-1e-9 {
			seg, t = seg+1, 0
			if seg == n {
				if !closed {
					return
				}
				seg = 0
			}
		}
		if t <= 1e-9 {
			t = 0
			if seg == 0 && !closed {
				return
			}
		}
		cuts = append(cuts, cut{seg: seg, t: t})
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if !boxesOverlap(boxes[i], boxes[j], joinEps) {
				continue
			}
			next := j == i+1
			wrap := closed && i == 0 && j == n-1
			for _, x := range intersect(segs[i], segs[j]) {
				if next && x.t1 > 1-1e-9 && x.t2 < 1e-9 {
					continue
				}
				if wrap && x.t1 < 1e-9 && x.t2 > 1-1e-9 {
					continue
				}
				add(i, x.t1)
				add(j, x.t2)
			}
		}
	}
	sort.Slice(cuts, func(a, b int) bool { return cuts[a].less(cuts[b]) })
	dedup := cuts[:0]
	for _, c := range cuts {
		if len(dedup) > 0 {
			last := dedup[len(dedup)-1]
			if last.seg == c.seg && c.t-last.t < 1e-9 {
				continue
			}
		}
		dedup = append(dedup, c)
	}
	return dedup
}

// between returns the path from position from to position to, walking
// forward and wrapping around a closed path.
func between(segs []segment, from, to cut, wrapAround bool) []segment {
	var out []segment
	push := func(s segment) {
		if r2.Norm(r2.Sub(s.b, s.a)) > joinEps {
			out = append(out, s)
		}
	}
	n := len(segs)
	if from.seg == to.seg && from.t < to.t && !wrapAround {
		push(segs[from.seg].sub(from.t, to.t))
		return out
	}
	push(segs[from.seg].sub(from.t, 1))
	for i := (from.seg + 1) % n; i != to.seg; i = (i + 1) % n {
		push(segs[i])
	}
	if to.t > 0 {
		push(segs[to.seg].sub(0, to.t))
	}
	return out
}

// split breaks the path at every cut.
func split(segs []segment, cuts []cut, closed bool) [][]segment {
	var pieces [][]segment
	if closed {
		if len(cuts) == 1 {
			return [][]segment{between(segs, cuts[0], cuts[0], true)}
		}
		for i, c := range cuts {
			next := cuts[(i+1)%len(cuts)]
			pieces = append(pieces, between(segs, c, next, false))
		}
		return pieces
	}
	start := cut{}
	for _, c := range cuts {
		pieces = append(pieces, between(segs, start, c, false))
		start = c
	}
	end := cut{seg: len(segs) - 1, t: 1}
	pieces = append(pieces, between(segs, start, end, false))
	return pieces
}

// validPiece reports whether every part of piece keeps its distance to
// the source polyline and never crosses it.
func validPiece(piece []segment, src *Polyline, dist float64) bool {
	if len(piece) == 0 {
		return false
	}
	limit := dist - offsetDistEps
	for i, s := range piece {
		if src.distance(s.midpoint()) < limit {
			return false
		}
		if i > 0 && src.distance(s.a) < limit {
			return false
		}
	}
	srcSegs := src.segments()
	for _, s := range piece {
		box := s.bounds()
		for _, o := range srcSegs {
			if !boxesOverlap(box, o.bounds(), joinEps) {
				continue
			}
			if len(intersect(s, o)) > 0 {
				return false
			}
		}
	}
	return true
}

// stitch chains pieces whose ends meet into polylines.
func stitch(pieces [][]segment, closed bool) []*Polyline {
	used := make([]bool, len(pieces))
	var out []*Polyline
	for i := range pieces {
		if used[i] {
			continue
		}
		used[i] = true
		chain := append([]segment(nil), pieces[i]...)
		start := chain[0].a
		isClosed := false
		for {
			end := chain[len(chain)-1].b
			if closed && r2.Norm(r2.Sub(end, start)) < 1e-5 {
				isClosed = true
				break
			}
			next := -1
			best := 1e-5
			for j := range pieces {
				if used[j] {
					continue
				}
				if d := r2.Norm(r2.Sub(pieces[j][0].a, end)); d < best {
					next, best = j, d
				}
			}
			if next < 0 {
				break
			}
			used[next] = true
			chain = append(chain, pieces[next]...)
		}
		res := fromSegments(chain, isClosed)
		if !res.Empty() {
			out = append(out, res)
		}
	}
	return out
}
