package loader

import (
	"fmt"
	"io"
	"math"

	"github.com/rpaloschi/dxf-go/core"
	"github.com/rpaloschi/dxf-go/document"
	"github.com/rpaloschi/dxf-go/entities"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
)

func vec(p core.Point) r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ReadDXF converts the LINE, ARC, CIRCLE, LWPOLYLINE and POLYLINE entities
// of a DXF drawing. Any other entity is an error.
func ReadDXF(r io.Reader) ([]*geometry.Polyline, error) {
	doc, err := document.DxfDocumentFromStream(r)
	if err != nil {
		return nil, fmt.Errorf("parsing dxf: %w", err)
	}
	var plines []*geometry.Polyline
	for _, e := range doc.Entities.Entities {
		var p *geometry.Polyline
		switch ent := e.(type) {
		case *entities.Line:
			p = geometry.Line(vec(ent.Start), vec(ent.End))
		case *entities.Arc:
			p = geometry.Arc(vec(ent.Center), ent.Radius, radians(ent.StartAngle), radians(ent.EndAngle))
		case *entities.Circle:
			p = geometry.Circle(vec(ent.Center), ent.Radius)
		case *entities.LWPolyline:
			vs := make([]geometry.Vertex, len(ent.Points))
			for i, pt := range ent.Points {
				vs[i] = geometry.Vertex{X: pt.Point.X, Y: pt.Point.Y, Bulge: pt.Bulge}
			}
			p = geometry.NewPolyline(vs, ent.Closed)
		case *entities.Polyline:
			vs := make([]geometry.Vertex, len(ent.Vertices))
			for i, v := range ent.Vertices {
				vs[i] = geometry.Vertex{X: v.Location.X, Y: v.Location.Y, Bulge: v.Bulge}
			}
			p = geometry.NewPolyline(vs, ent.Closed)
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedEntity, e)
		}
		plines = append(plines, p)
	}
	return plines, nil
}
