package loader

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
)

const drawingSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200">
  <g transform="translate(96,0)">
    <rect x="0" y="0" width="96" height="48"/>
    <circle cx="48" cy="24" r="9.6"/>
  </g>
  <path d="M0 0 L96 0 M0 10 h96 v96 z"/>
  <path d="M 0,0 A 48 48 0 0 1 96,0"/>
</svg>`

func TestReadSVG(t *testing.T) {
	plines, err := ReadSVG(strings.NewReader(drawingSVG))
	require.NoError(t, err)
	require.Len(t, plines, 5)

	rect, circle, line, triangle, arc := plines[0], plines[1], plines[2], plines[3], plines[4]
	assert.True(t, rect.Closed())
	assert.Equal(t, 4, rect.Len())
	assert.InDelta(t, 25.4*12.7, math.Abs(rect.Area()), 1e-9)
	assert.InDelta(t, 25.4, rect.Bounds().Min.X, 1e-9)

	assert.True(t, circle.Closed())
	assert.Equal(t, 2, circle.Len())
	assert.InDelta(t, math.Pi*2.54*2.54, math.Abs(circle.Area()), 1e-9)

	assert.False(t, line.Closed())
	assert.InDelta(t, 25.4, line.Length(), 1e-9)

	assert.True(t, triangle.Closed())
	assert.Equal(t, 3, triangle.Len())

	assert.False(t, arc.Closed())
	assert.InDelta(t, 1.0, arc.Vertex(0).Bulge, 1e-12)
	assert.InDelta(t, math.Pi*12.7, arc.Length(), 1e-9)
}

func TestPathNumbers(t *testing.T) {
	is := is.New(t)
	b := &pathBuilder{t: identity}
	is.NoErr(b.parse("M10-5L.5.5l1e1 0"))
	b.flush(false)
	is.Equal(len(b.out), 1)
	is.Equal(b.out[0].Vertices(), []geometry.Vertex{
		{X: 10, Y: -5},
		{X: 0.5, Y: 0.5},
		{X: 10.5, Y: 0.5},
	})

	b = &pathBuilder{t: identity}
	is.True(b.parse("M0 0 S1 1 2 2") != nil)
	b = &pathBuilder{t: identity}
	is.True(b.parse("M0 0 A 5 6 0 0 1 10 0") != nil)
}

func TestCubicFlattening(t *testing.T) {
	b := &pathBuilder{t: identity}
	// a quarter of a unit-ish circle
	require.NoError(t, b.parse("M100 0 C100 55.23 55.23 100 0 100"))
	b.flush(false)
	require.Len(t, b.out, 1)
	p := b.out[0]
	assert.Greater(t, p.Len(), 8)
	last := p.Vertex(p.Len() - 1).Pos()
	assert.InDelta(t, 0, r2.Norm(r2.Sub(last, r2.Vec{Y: 100})), 1e-9)
	for _, v := range p.Vertices() {
		assert.InDelta(t, 100, r2.Norm(v.Pos()), 0.1)
	}
}

func TestTransforms(t *testing.T) {
	is := is.New(t)
	tr, err := parseTransform("translate(10) scale(2)")
	is.NoErr(err)
	is.Equal(tr.apply(r2.Vec{X: 1, Y: 1}), r2.Vec{X: 12, Y: 2})
	is.True(!tr.mirrors())

	tr, err = parseTransform("matrix(1 0 0 -1 0 0)")
	is.NoErr(err)
	is.True(tr.mirrors())

	_, err = parseTransform("rotate(45)")
	is.True(err != nil)
}

func TestYAMLRoundTrip(t *testing.T) {
	src := []*geometry.Polyline{
		geometry.Circle(r2.Vec{X: 5, Y: 5}, 2),
		geometry.Line(r2.Vec{}, r2.Vec{X: 3, Y: 4}),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, src))
	got, err := ReadYAML(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range src {
		assert.Equal(t, src[i].Closed(), got[i].Closed())
		assert.Equal(t, src[i].Vertices(), got[i].Vertices())
	}
}

// dxfDrawing builds an ENTITIES-only DXF document from group code/value
// pairs.
func dxfDrawing(pairs ...string) string {
	lines := []string{"0", "SECTION", "2", "ENTITIES"}
	lines = append(lines, pairs...)
	lines = append(lines, "0", "ENDSEC", "0", "EOF")
	return strings.Join(lines, "\n") + "\n"
}

func TestReadDXF(t *testing.T) {
	doc := dxfDrawing(
		"0", "LINE", "8", "0",
		"10", "1.5", "20", "2", "30", "0",
		"11", "11.5", "21", "2", "31", "0",
		"0", "LWPOLYLINE", "8", "0", "90", "4", "70", "1",
		"10", "0", "20", "0",
		"10", "20", "20", "0", "42", "1",
		"10", "20", "20", "10",
		"10", "0", "20", "10", "42", "1",
		"0", "CIRCLE", "8", "0",
		"10", "50", "20", "60", "30", "0", "40", "5",
	)
	plines, err := ReadDXF(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, plines, 3)

	line := plines[0]
	assert.False(t, line.Closed())
	require.Equal(t, 2, line.Len())
	assert.Equal(t, r2.Vec{X: 1.5, Y: 2}, line.Vertex(0).Pos())
	assert.Equal(t, r2.Vec{X: 11.5, Y: 2}, line.Vertex(1).Pos())

	slot := plines[1]
	assert.True(t, slot.Closed())
	require.Equal(t, 4, slot.Len())
	assert.Equal(t, 1.0, slot.Vertex(1).Bulge)
	assert.InDelta(t, 200+math.Pi*25, slot.Area(), 1e-9)

	circle := plines[2]
	assert.True(t, circle.Closed())
	assert.InDelta(t, math.Pi*25, circle.Area(), 1e-9)
	b := circle.Bounds()
	assert.InDelta(t, 45, b.Min.X, 1e-9)
	assert.InDelta(t, 65, b.Max.Y, 1e-9)

	_, err = ReadDXF(strings.NewReader(dxfDrawing("0", "POINT", "8", "0", "10", "1", "20", "1")))
	assert.ErrorIs(t, err, ErrUnsupportedEntity)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "part.YAML")
	require.NoError(t, os.WriteFile(path, []byte(`
polylines:
  - closed: true
    vertices:
      - {x: 0, y: 0}
      - {x: 10, y: 0}
      - {x: 10, y: 10}
`), 0o644))
	assert.True(t, Supported(path))
	plines, err := Load(path)
	require.NoError(t, err)
	require.Len(t, plines, 1)
	assert.InDelta(t, 50, plines[0].Area(), 1e-9)

	_, err = Load(filepath.Join(dir, "part.step"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.False(t, Supported("part.step"))

	_, err = Load(filepath.Join(dir, "missing.svg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
