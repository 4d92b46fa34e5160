package loader

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kerfworks/kerf/geometry"
)

// drawing is the YAML layout of a polyline drawing:
//
//	polylines:
//	  - closed: true
//	    vertices:
//	      - {x: 0, y: 0, bulge: 1}
//	      - {x: 10, y: 0, bulge: 1}
type drawing struct {
	Polylines []yamlPolyline `yaml:"polylines"`
}

type yamlPolyline struct {
	Closed   bool              `yaml:"closed"`
	Vertices []geometry.Vertex `yaml:"vertices"`
}

// ReadYAML reads polylines stored as vertex lists.
func ReadYAML(r io.Reader) ([]*geometry.Polyline, error) {
	var d drawing
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	out := make([]*geometry.Polyline, 0, len(d.Polylines))
	for _, p := range d.Polylines {
		out = append(out, geometry.NewPolyline(p.Vertices, p.Closed))
	}
	return out, nil
}

// WriteYAML stores polylines in the layout ReadYAML reads.
func WriteYAML(w io.Writer, plines []*geometry.Polyline) error {
	var d drawing
	for _, p := range plines {
		d.Polylines = append(d.Polylines, yamlPolyline{Closed: p.Closed(), Vertices: p.Vertices()})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}
