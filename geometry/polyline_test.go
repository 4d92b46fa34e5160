package geometry

import (
	"math"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func square(x0, y0, size float64) *Polyline {
	return Rectangle(r2.Box{Min: r2.Vec{X: x0, Y: y0}, Max: r2.Vec{X: x0 + size, Y: y0 + size}})
}

func slot() *Polyline {
	return NewPolyline([]Vertex{
		{X: 0, Y: 0},
		{X: 20, Y: 0, Bulge: 1},
		{X: 20, Y: 10},
		{X: 0, Y: 10, Bulge: 1},
	}, true)
}

func assertSamePoints(t *testing.T, expected, actual []r2.Vec) {
	t.Helper()
	require.Equal(t, len(expected), len(actual))
	for i := range expected {
		assert.InDelta(t, expected[i].X, actual[i].X, 1e-9)
		assert.InDelta(t, expected[i].Y, actual[i].Y, 1e-9)
	}
}

func TestNewPolylineCollapsesDuplicates(t *testing.T) {
	is := is.New(t)
	p := NewPolyline([]Vertex{
		{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 0, Y: 0},
	}, true)
	is.Equal(p.Len(), 3)
	is.True(p.Closed())

	open := NewPolyline([]Vertex{{X: 0, Y: 0}, {X: 1, Y: 0, Bulge: 0.5}}, false)
	is.Equal(open.Vertex(1).Bulge, 0.0)
}

func TestReverseInvolution(t *testing.T) {
	cases := []*Polyline{
		slot(),
		square(0, 0, 10),
		Arc(r2.Vec{X: 1, Y: 2}, 3, 0.2, 4.5),
		NewPolyline([]Vertex{{X: 0, Y: 0, Bulge: 0.3}, {X: 5, Y: 0}, {X: 5, Y: 5, Bulge: -0.7}, {X: 0, Y: 8}}, false),
	}
	for _, p := range cases {
		assertSamePoints(t, p.ToLines(), p.Reverse().Reverse().ToLines())
	}
}

func TestReverseTracesSameGeometry(t *testing.T) {
	p := slot()
	r := p.Reverse()
	assert.InDelta(t, -p.Area(), r.Area(), 1e-9)
	assert.InDelta(t, p.Length(), r.Length(), 1e-9)

	fwd := p.ToLines()
	back := r.ToLines()
	require.Equal(t, len(fwd), len(back))
	// same ring traced backwards from the same start point
	for i := range fwd {
		j := (len(back) - 1 - i) % (len(back) - 1)
		assert.InDelta(t, fwd[i].X, back[j].X, 1e-6)
		assert.InDelta(t, fwd[i].Y, back[j].Y, 1e-6)
	}

	open := NewPolyline([]Vertex{{X: 0, Y: 0, Bulge: 0.4}, {X: 10, Y: 0}, {X: 10, Y: 10}}, false)
	ro := open.Reverse()
	assert.Equal(t, Vertex{X: 10, Y: 10}, ro.Vertex(0))
	assert.Equal(t, Vertex{X: 10, Y: 0, Bulge: -0.4}, ro.Vertex(1))
	assert.Equal(t, Vertex{X: 0, Y: 0}, ro.Vertex(2))
}

func TestAreaAndOrientation(t *testing.T) {
	is := is.New(t)
	c := Circle(r2.Vec{X: 3, Y: -2}, 5)
	assert.InDelta(t, math.Pi*25, c.Area(), 1e-9)
	is.True(c.IsCCW())
	is.True(!c.Reverse().IsCCW())

	assert.InDelta(t, 200+math.Pi*25, slot().Area(), 1e-9)
	assert.InDelta(t, 0.0, Line(r2.Vec{}, r2.Vec{X: 1}).Area(), 0)
}

func TestToLinesChordError(t *testing.T) {
	c := Circle(r2.Vec{}, 50)
	pts := c.ToLines()
	require.Greater(t, len(pts), 100)
	assert.Equal(t, pts[0], pts[len(pts)-1])
	for i := 0; i < len(pts)-1; i++ {
		assert.InDelta(t, 50, r2.Norm(pts[i]), 1e-9)
		mid := r2.Scale(0.5, r2.Add(pts[i], pts[i+1]))
		assert.LessOrEqual(t, 50-r2.Norm(mid), Precision+1e-12)
	}

	l := Line(r2.Vec{X: 1, Y: 1}, r2.Vec{X: 4, Y: 5})
	assertSamePoints(t, []r2.Vec{{X: 1, Y: 1}, {X: 4, Y: 5}}, l.ToLines())
}

func TestAffine(t *testing.T) {
	p := slot()
	q := p.Affine(r2.Vec{X: 100, Y: 50}, 90, 2)
	assert.InDelta(t, 4*p.Area(), q.Area(), 1e-6)
	v := q.Vertex(1)
	assert.InDelta(t, 100.0, v.X, 1e-9)
	assert.InDelta(t, 90.0, v.Y, 1e-9)
	assert.Equal(t, p.Vertex(1).Bulge, v.Bulge)
}

func TestBoundsAndCentroid(t *testing.T) {
	c := Circle(r2.Vec{X: 10, Y: 20}, 5)
	b := c.Bounds()
	assert.InDelta(t, 5.0, b.Min.X, 1e-9)
	assert.InDelta(t, 15.0, b.Min.Y, 1e-9)
	assert.InDelta(t, 15.0, b.Max.X, 1e-9)
	assert.InDelta(t, 25.0, b.Max.Y, 1e-9)

	sq := square(0, 0, 100).Bounds()
	assert.Equal(t, r2.Vec{X: 0, Y: 0}, sq.Min)
	assert.Equal(t, r2.Vec{X: 100, Y: 100}, sq.Max)

	open := FromPoints([]r2.Vec{{X: 3, Y: 1}, {X: 3, Y: 9}, {X: -2, Y: 9}}, false).Bounds()
	assert.Equal(t, r2.Vec{X: -2, Y: 1}, open.Min)
	assert.Equal(t, r2.Vec{X: 3, Y: 9}, open.Max)

	ctr := square(2, 4, 6).Centroid()
	assert.InDelta(t, 5.0, ctr.X, 1e-9)
	assert.InDelta(t, 7.0, ctr.Y, 1e-9)
}

func TestContainment(t *testing.T) {
	is := is.New(t)
	outer := square(0, 0, 100)
	is.True(outer.ContainsPoint(r2.Vec{X: 50, Y: 50}))
	is.True(outer.Reverse().ContainsPoint(r2.Vec{X: 50, Y: 50}))
	is.True(!outer.ContainsPoint(r2.Vec{X: 150, Y: 50}))

	is.True(outer.Contains(Circle(r2.Vec{X: 50, Y: 50}, 10)))
	is.True(outer.Contains(Line(r2.Vec{X: 10, Y: 10}, r2.Vec{X: 20, Y: 30})))
	is.True(!outer.Contains(square(90, 90, 20)))
	is.True(!outer.Contains(square(200, 0, 10)))
	is.True(!Line(r2.Vec{}, r2.Vec{X: 1}).Contains(square(0, 0, 0.1)))

	is.True(outer.Intersects(square(90, 90, 20)))
	is.True(!outer.Intersects(square(10, 10, 5)))
	is.True(Circle(r2.Vec{}, 5).Intersects(Line(r2.Vec{X: -10}, r2.Vec{X: 10})))
}

func TestUnionBox(t *testing.T) {
	is := is.New(t)
	pt := r2.Box{Min: r2.Vec{X: 5, Y: 5}, Max: r2.Vec{X: 5, Y: 5}}
	vline := r2.Box{Min: r2.Vec{X: 0, Y: 0}, Max: r2.Vec{X: 0, Y: 10}}
	is.Equal(UnionBox(pt, vline), r2.Box{Min: r2.Vec{X: 0, Y: 0}, Max: r2.Vec{X: 5, Y: 10}})
	is.Equal(UnionBox(vline, pt), UnionBox(pt, vline))
}
