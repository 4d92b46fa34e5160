package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

// Loop replaces sharp corner arcs by a teardrop loop of radius loopRadius.
// A vertex qualifies when its arc turns by more than π-limitAngle and its
// radius equals selectedRadius, which is the case for corner arcs added
// by an offset of that distance. The path runs past the corner along the
// incoming tangent, turns around the loop and comes back on the outgoing
// tangent.
func (p *Polyline) Loop(limitAngle, selectedRadius, loopRadius float64) *Polyline {
	limitBulge := math.Tan((math.Pi - limitAngle) / 4)
	n := len(p.vertices)
	out := make([]Vertex, 0, n)
	for i, v := range p.vertices {
		last := i == n-1 && !p.closed
		if last || math.Abs(v.Bulge) < limitBulge {
			out = append(out, v)
			continue
		}
		next := p.vertices[(i+1)%n]
		a := v.Pos()
		ab := r2.Sub(next.Pos(), a)
		d := r2.Norm(ab)
		halfTheta := 2 * math.Atan(math.Abs(v.Bulge))
		radius := d / (2 * math.Sin(halfTheta))
		if !scalar.EqualWithinAbsOrRel(radius, selectedRadius, 1e-8, 1e-5) {
			out = append(out, v)
			continue
		}
		u := r2.Scale(1/d, ab)
		// the loop grows on the side the arc bulges to
		normal := rightNormal(u)
		if v.Bulge < 0 {
			normal = r2.Scale(-1, normal)
		}
		h := (d + 2*loopRadius*math.Sin(halfTheta)) * math.Tan(halfTheta) / 2
		top := r2.Add(r2.Add(a, r2.Scale(0.5, ab)), r2.Scale(h, normal))
		shift := r2.Scale(loopRadius*math.Sin(halfTheta), u)
		loopStart := r2.Add(top, shift)
		loopEnd := r2.Sub(top, shift)
		out = append(out,
			Vertex{X: v.X, Y: v.Y},
			Vertex{X: loopStart.X, Y: loopStart.Y, Bulge: -1 / v.Bulge},
			Vertex{X: loopEnd.X, Y: loopEnd.Y},
		)
	}
	return NewPolyline(out, p.closed)
}
