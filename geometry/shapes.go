package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Line returns the open polyline from a to b.
func Line(a, b r2.Vec) *Polyline {
	return FromPoints([]r2.Vec{a, b}, false)
}

// Arc returns the counter-clockwise arc around center from angle start to
// angle end, in radians. Arcs wider than a half turn are split.
func Arc(center r2.Vec, radius, start, end float64) *Polyline {
	sweep := math.Mod(end-start, 2*math.Pi)
	if sweep <= 0 {
		sweep += 2 * math.Pi
	}
	n := int(math.Ceil(sweep / math.Pi))
	step := sweep / float64(n)
	bulge := math.Tan(step / 4)
	vs := make([]Vertex, n+1)
	for i := range vs {
		ang := start + float64(i)*step
		vs[i] = Vertex{
			X:     center.X + radius*math.Cos(ang),
			Y:     center.Y + radius*math.Sin(ang),
			Bulge: bulge,
		}
	}
	return NewPolyline(vs, false)
}

// Circle returns a closed counter-clockwise circle made of two half arcs.
func Circle(center r2.Vec, radius float64) *Polyline {
	return NewPolyline([]Vertex{
		{X: center.X - radius, Y: center.Y, Bulge: 1},
		{X: center.X + radius, Y: center.Y, Bulge: 1},
	}, true)
}

// Rectangle returns the closed counter-clockwise rectangle spanned by box.
func Rectangle(box r2.Box) *Polyline {
	return FromPoints([]r2.Vec{
		box.Min,
		{X: box.Max.X, Y: box.Min.Y},
		box.Max,
		{X: box.Min.X, Y: box.Max.Y},
	}, true)
}
