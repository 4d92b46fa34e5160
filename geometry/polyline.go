// Package geometry implements bulge-encoded polylines and the tool-path
// operations built on them: discretization, offsetting, corner loops,
// open-path aggregation and contour nesting.
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

// Precision is the maximum chord deviation when arcs are discretized.
const Precision = 1e-3

var ErrEmptyGeometry = errors.New("empty geometry")

// Vertex is a polyline vertex. Bulge describes the segment starting at
// this vertex: tan(θ/4) of the included angle θ, zero for a line,
// positive when the arc turns counter-clockwise.
type Vertex struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Bulge float64 `yaml:"bulge,omitempty"`
}

func (v Vertex) Pos() r2.Vec {
	return r2.Vec{X: v.X, Y: v.Y}
}

// Polyline is an immutable sequence of vertices. Every operation returns
// a new Polyline.
type Polyline struct {
	vertices []Vertex
	closed   bool

	lines []r2.Vec
}

func closeTo(a, b r2.Vec) bool {
	return scalar.EqualWithinAbsOrRel(a.X, b.X, 1e-8, 1e-5) &&
		scalar.EqualWithinAbsOrRel(a.Y, b.Y, 1e-8, 1e-5)
}

// NewPolyline builds a polyline, dropping consecutive duplicate vertices.
// For a closed polyline a last vertex equal to the first is dropped too.
func NewPolyline(vertices []Vertex, closed bool) *Polyline {
	vs := make([]Vertex, 0, len(vertices))
	for i, v := range vertices {
		if i < len(vertices)-1 && closeTo(v.Pos(), vertices[i+1].Pos()) {
			continue
		}
		vs = append(vs, v)
	}
	if closed && len(vs) > 1 && closeTo(vs[0].Pos(), vs[len(vs)-1].Pos()) {
		vs = vs[:len(vs)-1]
	}
	if !closed && len(vs) > 0 {
		vs[len(vs)-1].Bulge = 0
	}
	return &Polyline{vertices: vs, closed: closed}
}

// FromPoints builds a polyline made of straight segments.
func FromPoints(pts []r2.Vec, closed bool) *Polyline {
	vs := make([]Vertex, len(pts))
	for i, p := range pts {
		vs[i] = Vertex{X: p.X, Y: p.Y}
	}
	return NewPolyline(vs, closed)
}

func (p *Polyline) Closed() bool { return p.closed }

func (p *Polyline) Len() int { return len(p.vertices) }

func (p *Polyline) Vertex(i int) Vertex { return p.vertices[i] }

// Vertices returns a copy of the vertex list.
func (p *Polyline) Vertices() []Vertex {
	return append([]Vertex(nil), p.vertices...)
}

// Empty reports whether the polyline has no extent.
func (p *Polyline) Empty() bool {
	return len(p.vertices) < 2
}

func (p *Polyline) segmentCount() int {
	n := len(p.vertices)
	if n < 2 {
		return 0
	}
	if p.closed {
		return n
	}
	return n - 1
}

func (p *Polyline) segment(i int) segment {
	n := len(p.vertices)
	v := p.vertices[i]
	return segment{a: v.Pos(), b: p.vertices[(i+1)%n].Pos(), bulge: v.Bulge}
}

func (p *Polyline) segments() []segment {
	segs := make([]segment, p.segmentCount())
	for i := range segs {
		segs[i] = p.segment(i)
	}
	return segs
}

// Reverse returns the polyline traced in the opposite direction. Each
// bulge moves to the vertex that starts its segment in the new order.
func (p *Polyline) Reverse() *Polyline {
	n := len(p.vertices)
	if n == 0 {
		return &Polyline{closed: p.closed}
	}
	vs := make([]Vertex, n)
	if p.closed {
		vs[0] = Vertex{X: p.vertices[0].X, Y: p.vertices[0].Y, Bulge: -p.vertices[n-1].Bulge}
		for i := 1; i < n; i++ {
			src := p.vertices[n-i]
			vs[i] = Vertex{X: src.X, Y: src.Y, Bulge: -p.vertices[n-i-1].Bulge}
		}
	} else {
		for i := 0; i < n; i++ {
			src := p.vertices[n-1-i]
			vs[i] = Vertex{X: src.X, Y: src.Y}
			if i < n-1 {
				vs[i].Bulge = -p.vertices[n-2-i].Bulge
			}
		}
	}
	return &Polyline{vertices: vs, closed: p.closed}
}

// Affine scales uniformly around the origin, rotates by degrees and then
// translates by offset. Bulges are preserved.
func (p *Polyline) Affine(offset r2.Vec, degrees, scale float64) *Polyline {
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	vs := make([]Vertex, len(p.vertices))
	for i, v := range p.vertices {
		x, y := v.X*scale, v.Y*scale
		vs[i] = Vertex{
			X:     offset.X + x*cos - y*sin,
			Y:     offset.Y + x*sin + y*cos,
			Bulge: v.Bulge,
		}
	}
	return &Polyline{vertices: vs, closed: p.closed}
}

// ToLines discretizes the polyline into points whose chords stay within
// Precision of the arcs. A closed polyline ends with its first point. The
// returned slice is cached and must not be modified.
func (p *Polyline) ToLines() []r2.Vec {
	if p.lines != nil || len(p.vertices) == 0 {
		return p.lines
	}
	var pts []r2.Vec
	for _, s := range p.segments() {
		if len(pts) > 0 {
			// drop the joint, the segment re-emits it
			pts = pts[:len(pts)-1]
		}
		pts = append(pts, discretize(s, Precision)...)
	}
	if len(pts) == 0 {
		pts = []r2.Vec{p.vertices[0].Pos()}
	}
	p.lines = pts
	return p.lines
}

func discretize(s segment, tol float64) []r2.Vec {
	if s.isLine() {
		return []r2.Vec{s.a, s.b}
	}
	g := s.arc()
	maxAngle := math.Pi
	if g.radius > tol {
		maxAngle = 2 * math.Acos(1-tol/g.radius)
	}
	n := int(math.Ceil(math.Abs(g.sweep)/maxAngle)) + 1
	if n < 2 {
		n = 2
	}
	angles := floats.Span(make([]float64, n), g.start, g.start+g.sweep)
	pts := make([]r2.Vec, n)
	for i, ang := range angles {
		pts[i] = r2.Vec{X: g.center.X + g.radius*math.Cos(ang), Y: g.center.Y + g.radius*math.Sin(ang)}
	}
	pts[0], pts[n-1] = s.a, s.b
	return pts
}

// Area returns the signed enclosed area, positive for counter-clockwise
// polylines. Open polylines have no area.
func (p *Polyline) Area() float64 {
	if !p.closed || len(p.vertices) < 2 {
		return 0
	}
	var area float64
	for _, s := range p.segments() {
		area += (s.a.X*s.b.Y - s.b.X*s.a.Y) / 2
		if s.isLine() {
			continue
		}
		g := s.arc()
		sweep := math.Abs(g.sweep)
		area += math.Copysign(g.radius*g.radius*(sweep-math.Sin(sweep))/2, s.bulge)
	}
	return area
}

// IsCCW reports whether the signed area is non-negative.
func (p *Polyline) IsCCW() bool {
	return p.Area() >= 0
}

// Length returns the path length.
func (p *Polyline) Length() float64 {
	var l float64
	for _, s := range p.segments() {
		l += s.length()
	}
	return l
}

// SelfCrossing reports whether the path crosses or touches itself away
// from the vertices shared by consecutive segments.
func (p *Polyline) SelfCrossing() bool {
	return len(selfIntersections(p.segments(), p.closed)) > 0
}

// Bounds returns the tight bounding box.
func (p *Polyline) Bounds() r2.Box {
	if len(p.vertices) == 0 {
		return r2.Box{}
	}
	v := p.vertices[0].Pos()
	box := r2.Box{Min: v, Max: v}
	for _, s := range p.segments() {
		box = UnionBox(box, s.exactBounds())
	}
	return box
}

// Centroid returns the area centroid of a closed polyline, or the center
// of the bounding box of an open one.
func (p *Polyline) Centroid() r2.Vec {
	pts := p.ToLines()
	if !p.closed || len(pts) < 3 {
		return p.Bounds().Center()
	}
	var a, cx, cy float64
	for i := 0; i < len(pts)-1; i++ {
		c := pts[i].X*pts[i+1].Y - pts[i+1].X*pts[i].Y
		a += c
		cx += (pts[i].X + pts[i+1].X) * c
		cy += (pts[i].Y + pts[i+1].Y) * c
	}
	if scalar.EqualWithinAbs(a, 0, 1e-12) {
		return p.Bounds().Center()
	}
	return r2.Vec{X: cx / (3 * a), Y: cy / (3 * a)}
}

// winding returns the winding number of the discretized polyline around pt.
func (p *Polyline) winding(pt r2.Vec) int {
	pts := p.ToLines()
	wn := 0
	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		side := (b.X-a.X)*(pt.Y-a.Y) - (pt.X-a.X)*(b.Y-a.Y)
		if a.Y <= pt.Y {
			if b.Y > pt.Y && side > 0 {
				wn++
			}
		} else if b.Y <= pt.Y && side < 0 {
			wn--
		}
	}
	return wn
}

// ContainsPoint reports whether pt lies inside the closed polyline.
func (p *Polyline) ContainsPoint(pt r2.Vec) bool {
	if !p.closed {
		return false
	}
	return p.winding(pt) != 0
}

// Contains reports whether other lies entirely inside p without touching
// its boundary.
func (p *Polyline) Contains(other *Polyline) bool {
	if !p.closed || other.Empty() {
		return false
	}
	outer, inner := p.Bounds(), other.Bounds()
	if inner.Min.X < outer.Min.X || inner.Min.Y < outer.Min.Y ||
		inner.Max.X > outer.Max.X || inner.Max.Y > outer.Max.Y {
		return false
	}
	for _, pt := range other.ToLines() {
		if !p.ContainsPoint(pt) {
			return false
		}
	}
	return !p.Intersects(other)
}

// Intersects reports whether the two polylines cross or touch.
func (p *Polyline) Intersects(other *Polyline) bool {
	if !boxesOverlap(p.Bounds(), other.Bounds(), eps) {
		return false
	}
	osegs := other.segments()
	oboxes := make([]r2.Box, len(osegs))
	for i, s := range osegs {
		oboxes[i] = s.bounds()
	}
	for _, s := range p.segments() {
		box := s.bounds()
		for j, o := range osegs {
			if !boxesOverlap(box, oboxes[j], eps) {
				continue
			}
			if len(intersect(s, o)) > 0 {
				return true
			}
		}
	}
	return false
}

// distance returns the shortest distance from pt to the polyline.
func (p *Polyline) distance(pt r2.Vec) float64 {
	d := math.Inf(1)
	for _, s := range p.segments() {
		d = math.Min(d, s.distance(pt))
	}
	return d
}

func fromSegments(segs []segment, closed bool) *Polyline {
	vs := make([]Vertex, 0, len(segs)+1)
	for _, s := range segs {
		vs = append(vs, Vertex{X: s.a.X, Y: s.a.Y, Bulge: s.bulge})
	}
	if !closed && len(segs) > 0 {
		last := segs[len(segs)-1].b
		vs = append(vs, Vertex{X: last.X, Y: last.Y})
	}
	return NewPolyline(vs, closed)
}
