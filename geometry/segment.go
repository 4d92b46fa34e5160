package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// bulges closer to zero than this are straight lines.
	bulgeEps = 1e-8
	// geometric tolerance for coincident points and parameters.
	eps = 1e-9
)

// segment is a line or circular arc from a to b. A bulge of zero is a
// line; otherwise it is tan(sweep/4), positive for counter-clockwise.
type segment struct {
	a, b  r2.Vec
	bulge float64
}

type arcGeom struct {
	center r2.Vec
	radius float64
	start  float64
	sweep  float64
}

func isLineBulge(b float64) bool {
	return scalar.EqualWithinAbs(b, 0, bulgeEps)
}

func (s segment) isLine() bool {
	return isLineBulge(s.bulge)
}

func (s segment) length() float64 {
	if s.isLine() {
		return r2.Norm(r2.Sub(s.b, s.a))
	}
	g := s.arc()
	return g.radius * math.Abs(g.sweep)
}

func leftNormal(u r2.Vec) r2.Vec  { return r2.Vec{X: -u.Y, Y: u.X} }
func rightNormal(u r2.Vec) r2.Vec { return r2.Vec{X: u.Y, Y: -u.X} }

func (s segment) arc() arcGeom {
	sweep := 4 * math.Atan(s.bulge)
	chord := r2.Sub(s.b, s.a)
	c := r2.Norm(chord)
	half := sweep / 2
	radius := c / (2 * math.Abs(math.Sin(half)))
	mid := r2.Add(s.a, r2.Scale(0.5, chord))
	h := radius * math.Cos(half) * math.Copysign(1, sweep)
	center := r2.Add(mid, r2.Scale(h/c, leftNormal(chord)))
	d := r2.Sub(s.a, center)
	return arcGeom{
		center: center,
		radius: radius,
		start:  math.Atan2(d.Y, d.X),
		sweep:  sweep,
	}
}

func (g arcGeom) pointAt(t float64) r2.Vec {
	ang := g.start + t*g.sweep
	return r2.Vec{
		X: g.center.X + g.radius*math.Cos(ang),
		Y: g.center.Y + g.radius*math.Sin(ang),
	}
}

// param returns the normalized position of angle ang along the arc and
// whether it lies on the arc.
func (g arcGeom) param(ang float64) (float64, bool) {
	var d float64
	if g.sweep > 0 {
		d = math.Mod(ang-g.start, 2*math.Pi)
	} else {
		d = math.Mod(g.start-ang, 2*math.Pi)
	}
	if d < 0 {
		d += 2 * math.Pi
	}
	sweep := math.Abs(g.sweep)
	tol := 1e-9
	if 2*math.Pi-d < tol {
		d = 0
	}
	if d > sweep+tol {
		return 0, false
	}
	return math.Min(d/sweep, 1), true
}

func (s segment) pointAt(t float64) r2.Vec {
	if s.isLine() {
		return r2.Add(s.a, r2.Scale(t, r2.Sub(s.b, s.a)))
	}
	return s.arc().pointAt(t)
}

func (s segment) midpoint() r2.Vec {
	return s.pointAt(0.5)
}

// sub returns the part of s between parameters t0 and t1.
func (s segment) sub(t0, t1 float64) segment {
	if s.isLine() {
		return segment{a: s.pointAt(t0), b: s.pointAt(t1)}
	}
	g := s.arc()
	a, b := s.a, s.b
	if t0 > 0 {
		a = g.pointAt(t0)
	}
	if t1 < 1 {
		b = g.pointAt(t1)
	}
	return segment{a: a, b: b, bulge: math.Tan((t1 - t0) * g.sweep / 4)}
}

func (s segment) startTangent() r2.Vec {
	if s.isLine() {
		return r2.Unit(r2.Sub(s.b, s.a))
	}
	g := s.arc()
	return g.tangentAt(g.start)
}

func (s segment) endTangent() r2.Vec {
	if s.isLine() {
		return r2.Unit(r2.Sub(s.b, s.a))
	}
	g := s.arc()
	return g.tangentAt(g.start + g.sweep)
}

func (g arcGeom) tangentAt(ang float64) r2.Vec {
	t := r2.Vec{X: -math.Sin(ang), Y: math.Cos(ang)}
	if g.sweep < 0 {
		return r2.Scale(-1, t)
	}
	return t
}

func (s segment) bounds() r2.Box {
	if s.isLine() {
		return r2.NewBox(s.a.X, s.a.Y, s.b.X, s.b.Y)
	}
	g := s.arc()
	return r2.Box{
		Min: r2.Vec{X: g.center.X - g.radius, Y: g.center.Y - g.radius},
		Max: r2.Vec{X: g.center.X + g.radius, Y: g.center.Y + g.radius},
	}
}

// exactBounds is the tight bounding box of the segment, including arc
// extremes that fall inside the sweep.
func (s segment) exactBounds() r2.Box {
	box := r2.NewBox(s.a.X, s.a.Y, s.b.X, s.b.Y)
	if s.isLine() {
		return box
	}
	g := s.arc()
	for k := 0; k < 4; k++ {
		ang := float64(k) * math.Pi / 2
		if _, ok := g.param(ang); ok {
			p := r2.Vec{X: g.center.X + g.radius*math.Cos(ang), Y: g.center.Y + g.radius*math.Sin(ang)}
			box = UnionBox(box, r2.Box{Min: p, Max: p})
		}
	}
	return box
}

// UnionBox returns the smallest box holding a and b. Unlike r2.Box.Union
// it keeps boxes of zero area, such as points and axis-aligned lines.
func UnionBox(a, b r2.Box) r2.Box {
	return r2.Box{
		Min: r2.Vec{X: math.Min(a.Min.X, b.Min.X), Y: math.Min(a.Min.Y, b.Min.Y)},
		Max: r2.Vec{X: math.Max(a.Max.X, b.Max.X), Y: math.Max(a.Max.Y, b.Max.Y)},
	}
}

func boxesOverlap(a, b r2.Box, tol float64) bool {
	return a.Min.X <= b.Max.X+tol && b.Min.X <= a.Max.X+tol &&
		a.Min.Y <= b.Max.Y+tol && b.Min.Y <= a.Max.Y+tol
}

// distance returns the shortest distance from p to the segment.
func (s segment) distance(p r2.Vec) float64 {
	if s.isLine() {
		ab := r2.Sub(s.b, s.a)
		l2 := r2.Norm2(ab)
		if l2 == 0 {
			return r2.Norm(r2.Sub(p, s.a))
		}
		t := math.Max(0, math.Min(1, r2.Dot(r2.Sub(p, s.a), ab)/l2))
		return r2.Norm(r2.Sub(p, r2.Add(s.a, r2.Scale(t, ab))))
	}
	g := s.arc()
	d := r2.Sub(p, g.center)
	if _, ok := g.param(math.Atan2(d.Y, d.X)); ok {
		return math.Abs(r2.Norm(d) - g.radius)
	}
	return math.Min(r2.Norm(r2.Sub(p, s.a)), r2.Norm(r2.Sub(p, s.b)))
}

type intersection struct {
	p      r2.Vec
	t1, t2 float64
}

// intersect returns the points where s1 and s2 cross or touch, with the
// normalized parameter of each point along both segments.
func intersect(s1, s2 segment) []intersection {
	switch {
	case s1.isLine() && s2.isLine():
		return intersectLines(s1, s2)
	case s1.isLine():
		return intersectLineArc(s1, s2)
	case s2.isLine():
		res := intersectLineArc(s2, s1)
		for i := range res {
			res[i].t1, res[i].t2 = res[i].t2, res[i].t1
		}
		return res
	}
	return intersectArcs(s1, s2)
}

func inUnit(t float64) bool {
	return t >= -1e-9 && t <= 1+1e-9
}

func clampUnit(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

func intersectLines(s1, s2 segment) []intersection {
	d1 := r2.Sub(s1.b, s1.a)
	d2 := r2.Sub(s2.b, s2.a)
	w := r2.Sub(s2.a, s1.a)
	denom := r2.Cross(d1, d2)
	n1, n2 := r2.Norm(d1), r2.Norm(d2)
	if n1 == 0 || n2 == 0 {
		return nil
	}
	if math.Abs(denom) <= 1e-12*n1*n2 {
		if math.Abs(r2.Cross(w, d1)) > 1e-9*n1 {
			return nil
		}
		// collinear: report the overlapping endpoints
		var res []intersection
		add := func(p r2.Vec) {
			for _, r := range res {
				if r2.Norm(r2.Sub(r.p, p)) < eps {
					return
				}
			}
			t1 := r2.Dot(r2.Sub(p, s1.a), d1) / (n1 * n1)
			t2 := r2.Dot(r2.Sub(p, s2.a), d2) / (n2 * n2)
			if inUnit(t1) && inUnit(t2) {
				res = append(res, intersection{p: p, t1: clampUnit(t1), t2: clampUnit(t2)})
			}
		}
		add(s1.a)
		add(s1.b)
		add(s2.a)
		add(s2.b)
		return res
	}
	t := r2.Cross(w, d2) / denom
	u := r2.Cross(w, d1) / denom
	if !inUnit(t) || !inUnit(u) {
		return nil
	}
	t, u = clampUnit(t), clampUnit(u)
	return []intersection{{p: r2.Add(s1.a, r2.Scale(t, d1)), t1: t, t2: u}}
}

func intersectLineArc(line, arc segment) []intersection {
	g := arc.arc()
	d := r2.Sub(line.b, line.a)
	f := r2.Sub(line.a, g.center)
	a := r2.Dot(d, d)
	if a == 0 {
		return nil
	}
	b := 2 * r2.Dot(f, d)
	c := r2.Dot(f, f) - g.radius*g.radius
	disc := b*b - 4*a*c
	if disc < 0 {
		if disc < -1e-9*a*g.radius*g.radius {
			return nil
		}
		disc = 0
	}
	sq := math.Sqrt(disc)
	ts := []float64{(-b - sq) / (2 * a)}
	if sq > 0 {
		ts = append(ts, (-b+sq)/(2*a))
	}
	var res []intersection
	for _, t := range ts {
		if !inUnit(t) {
			continue
		}
		t = clampUnit(t)
		p := r2.Add(line.a, r2.Scale(t, d))
		rel := r2.Sub(p, g.center)
		u, ok := g.param(math.Atan2(rel.Y, rel.X))
		if !ok {
			continue
		}
		res = append(res, intersection{p: p, t1: t, t2: u})
	}
	return res
}

func intersectArcs(s1, s2 segment) []intersection {
	g1, g2 := s1.arc(), s2.arc()
	dc := r2.Sub(g2.center, g1.center)
	d := r2.Norm(dc)
	if d < eps {
		return nil
	}
	if d > g1.radius+g2.radius+eps || d < math.Abs(g1.radius-g2.radius)-eps {
		return nil
	}
	a := (g1.radius*g1.radius - g2.radius*g2.radius + d*d) / (2 * d)
	h := math.Sqrt(math.Max(0, g1.radius*g1.radius-a*a))
	base := r2.Add(g1.center, r2.Scale(a/d, dc))
	perp := r2.Scale(h/d, leftNormal(dc))
	pts := []r2.Vec{r2.Add(base, perp)}
	if h > eps {
		pts = append(pts, r2.Sub(base, perp))
	}
	var res []intersection
	for _, p := range pts {
		r1 := r2.Sub(p, g1.center)
		r2v := r2.Sub(p, g2.center)
		t1, ok1 := g1.param(math.Atan2(r1.Y, r1.X))
		t2, ok2 := g2.param(math.Atan2(r2v.Y, r2v.X))
		if ok1 && ok2 {
			res = append(res, intersection{p: p, t1: t1, t2: t2})
		}
	}
	return res
}
