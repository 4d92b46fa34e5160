// Package loader reads drawing files into raw polylines.
package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kerfworks/kerf/geometry"
)

var (
	ErrUnknownFormat     = errors.New("unknown file format")
	ErrUnsupportedEntity = errors.New("unsupported entity")
)

type reader func(io.Reader) ([]*geometry.Polyline, error)

var readers = map[string]reader{
	".dxf":  ReadDXF,
	".svg":  ReadSVG,
	".yaml": ReadYAML,
	".yml":  ReadYAML,
}

// Supported tells whether Load knows the format of path.
func Supported(path string) bool {
	_, ok := readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads the polylines of a DXF, SVG or YAML drawing.
func Load(path string) ([]*geometry.Polyline, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := readers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	plines, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return plines, nil
}
