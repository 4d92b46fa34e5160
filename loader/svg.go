package loader

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kerfworks/kerf/geometry"
)

// SVG user units are pixels at 96 dpi.
const pxPerMM = 96 / 25.4

// curveFlatness is the tolerance, in user units, of flattened Bézier
// curves.
const curveFlatness = 1e-2

var ErrBadPath = errors.New("bad svg path data")

// affine is the 2x3 matrix [a c e; b d f].
type affine struct {
	a, b, c, d, e, f float64
}

var identity = affine{a: 1, d: 1}

// then returns the transform applying u first, then t.
func (t affine) then(u affine) affine {
	return affine{
		a: t.a*u.a + t.c*u.b,
		b: t.b*u.a + t.d*u.b,
		c: t.a*u.c + t.c*u.d,
		d: t.b*u.c + t.d*u.d,
		e: t.a*u.e + t.c*u.f + t.e,
		f: t.b*u.e + t.d*u.f + t.f,
	}
}

func (t affine) apply(p r2.Vec) r2.Vec {
	return r2.Vec{X: t.a*p.X + t.c*p.Y + t.e, Y: t.b*p.X + t.d*p.Y + t.f}
}

// mirrors tells whether t reverses orientation.
func (t affine) mirrors() bool {
	return t.a*t.d-t.b*t.c < 0
}

func parseNumbers(s string) ([]float64, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseTransform reads a list of translate, scale and matrix functions.
func parseTransform(s string) (affine, error) {
	t := identity
	s = strings.TrimSpace(s)
	for s != "" {
		open := strings.IndexByte(s, '(')
		end := strings.IndexByte(s, ')')
		if open < 0 || end < open {
			return t, fmt.Errorf("bad transform %q", s)
		}
		name := strings.TrimSpace(strings.Trim(s[:open], ", "))
		args, err := parseNumbers(s[open+1 : end])
		if err != nil {
			return t, fmt.Errorf("bad transform %q: %w", s, err)
		}
		var u affine
		switch {
		case name == "translate" && len(args) == 1:
			u = affine{a: 1, d: 1, e: args[0]}
		case name == "translate" && len(args) == 2:
			u = affine{a: 1, d: 1, e: args[0], f: args[1]}
		case name == "scale" && len(args) == 1:
			u = affine{a: args[0], d: args[0]}
		case name == "scale" && len(args) == 2:
			u = affine{a: args[0], d: args[1]}
		case name == "matrix" && len(args) == 6:
			u = affine{args[0], args[1], args[2], args[3], args[4], args[5]}
		default:
			return t, fmt.Errorf("unsupported transform %s(%v)", name, args)
		}
		t = t.then(u)
		s = strings.TrimSpace(s[end+1:])
	}
	return t, nil
}

type svgShape struct {
	D         string  `xml:"d,attr"`
	Points    string  `xml:"points,attr"`
	Transform string  `xml:"transform,attr"`
	X         float64 `xml:"x,attr"`
	Y         float64 `xml:"y,attr"`
	Width     float64 `xml:"width,attr"`
	Height    float64 `xml:"height,attr"`
	X1        float64 `xml:"x1,attr"`
	Y1        float64 `xml:"y1,attr"`
	X2        float64 `xml:"x2,attr"`
	Y2        float64 `xml:"y2,attr"`
	CX        float64 `xml:"cx,attr"`
	CY        float64 `xml:"cy,attr"`
	R         float64 `xml:"r,attr"`
}

// ReadSVG converts the path, polyline, polygon, line, rect and circle
// elements of an SVG drawing, in millimeters.
func ReadSVG(r io.Reader) ([]*geometry.Polyline, error) {
	dec := xml.NewDecoder(r)
	stack := []affine{identity}
	var out []*geometry.Polyline
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding svg: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := stack[len(stack)-1]
			switch t.Name.Local {
			case "g":
				var tr string
				for _, a := range t.Attr {
					if a.Name.Local == "transform" {
						tr = a.Value
					}
				}
				gt, err := parseTransform(tr)
				if err != nil {
					return nil, err
				}
				stack = append(stack, parent.then(gt))
			case "path", "polyline", "polygon", "line", "rect", "circle":
				var sh svgShape
				if err := dec.DecodeElement(&sh, &t); err != nil {
					return nil, fmt.Errorf("decoding <%s>: %w", t.Name.Local, err)
				}
				st, err := parseTransform(sh.Transform)
				if err != nil {
					return nil, err
				}
				plines, err := shapePolylines(t.Name.Local, sh, parent.then(st))
				if err != nil {
					return nil, fmt.Errorf("<%s>: %w", t.Name.Local, err)
				}
				out = append(out, plines...)
			}
		case xml.EndElement:
			if t.Name.Local == "g" && len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for i, p := range out {
		out[i] = p.Affine(r2.Vec{}, 0, 1/pxPerMM)
	}
	return out, nil
}

func shapePolylines(kind string, sh svgShape, t affine) ([]*geometry.Polyline, error) {
	b := &pathBuilder{t: t}
	switch kind {
	case "path":
		if err := b.parse(sh.D); err != nil {
			return nil, err
		}
	case "polyline", "polygon":
		nums, err := parseNumbers(sh.Points)
		if err != nil || len(nums)%2 != 0 {
			return nil, fmt.Errorf("%w: points %q", ErrBadPath, sh.Points)
		}
		for i := 0; i < len(nums); i += 2 {
			p := r2.Vec{X: nums[i], Y: nums[i+1]}
			if i == 0 {
				b.moveTo(p)
			} else {
				b.lineTo(p)
			}
		}
		if kind == "polygon" {
			b.close()
		}
	case "line":
		b.moveTo(r2.Vec{X: sh.X1, Y: sh.Y1})
		b.lineTo(r2.Vec{X: sh.X2, Y: sh.Y2})
	case "rect":
		b.moveTo(r2.Vec{X: sh.X, Y: sh.Y})
		b.lineTo(r2.Vec{X: sh.X + sh.Width, Y: sh.Y})
		b.lineTo(r2.Vec{X: sh.X + sh.Width, Y: sh.Y + sh.Height})
		b.lineTo(r2.Vec{X: sh.X, Y: sh.Y + sh.Height})
		b.close()
	case "circle":
		c := r2.Vec{X: sh.CX, Y: sh.CY}
		b.moveTo(r2.Add(c, r2.Vec{X: -sh.R}))
		b.arcTo(r2.Add(c, r2.Vec{X: sh.R}), 1)
		b.arcTo(r2.Add(c, r2.Vec{X: -sh.R}), 1)
		b.close()
	}
	b.flush(false)
	return b.out, nil
}

// pathBuilder collects the subpaths of one element.
type pathBuilder struct {
	t          affine
	out        []*geometry.Polyline
	vs         []geometry.Vertex
	cur, start r2.Vec
}

func (b *pathBuilder) vertex(p r2.Vec) geometry.Vertex {
	q := b.t.apply(p)
	return geometry.Vertex{X: q.X, Y: q.Y}
}

func (b *pathBuilder) flush(closed bool) {
	if len(b.vs) > 1 {
		b.out = append(b.out, geometry.NewPolyline(b.vs, closed))
	}
	b.vs = nil
}

func (b *pathBuilder) moveTo(p r2.Vec) {
	b.flush(false)
	b.vs = []geometry.Vertex{b.vertex(p)}
	b.cur, b.start = p, p
}

func (b *pathBuilder) lineTo(p r2.Vec) {
	if len(b.vs) == 0 {
		b.vs = []geometry.Vertex{b.vertex(b.cur)}
	}
	b.vs = append(b.vs, b.vertex(p))
	b.cur = p
}

func (b *pathBuilder) arcTo(p r2.Vec, bulge float64) {
	b.lineTo(p)
	if b.t.mirrors() {
		bulge = -bulge
	}
	b.vs[len(b.vs)-2].Bulge = bulge
}

func (b *pathBuilder) close() {
	b.flush(true)
	b.cur = b.start
}

// arcBulge returns the bulge of the circular arc of an SVG arc command.
// Elliptical arcs are rejected.
func arcBulge(from, to r2.Vec, rx, ry float64, large, sweep bool) (float64, error) {
	rx, ry = math.Abs(rx), math.Abs(ry)
	if math.Abs(rx-ry) > 1e-6*math.Max(rx, ry) {
		return 0, fmt.Errorf("%w: elliptical arc", ErrBadPath)
	}
	chord := r2.Norm(r2.Sub(to, from))
	if chord == 0 || rx == 0 {
		return 0, nil
	}
	ratio := math.Min(1, chord/(2*rx))
	angle := 2 * math.Asin(ratio)
	if large && ratio < 1 {
		angle = 2*math.Pi - angle
	}
	bulge := math.Tan(angle / 4)
	if !sweep {
		bulge = -bulge
	}
	return bulge, nil
}

type pathScanner struct {
	s string
	i int
}

func (sc *pathScanner) skip() {
	for sc.i < len(sc.s) && strings.IndexByte(" \t\r\n,", sc.s[sc.i]) >= 0 {
		sc.i++
	}
}

func (sc *pathScanner) done() bool {
	sc.skip()
	return sc.i >= len(sc.s)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// command returns the next command letter, if the next token is one.
func (sc *pathScanner) command() (byte, bool) {
	sc.skip()
	if sc.i < len(sc.s) && isLetter(sc.s[sc.i]) && sc.s[sc.i] != 'e' && sc.s[sc.i] != 'E' {
		c := sc.s[sc.i]
		sc.i++
		return c, true
	}
	return 0, false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (sc *pathScanner) number() (float64, error) {
	sc.skip()
	start := sc.i
	if sc.i < len(sc.s) && (sc.s[sc.i] == '+' || sc.s[sc.i] == '-') {
		sc.i++
	}
	dot := false
	for sc.i < len(sc.s) {
		c := sc.s[sc.i]
		if isDigit(c) {
			sc.i++
		} else if c == '.' && !dot {
			dot = true
			sc.i++
		} else {
			break
		}
	}
	if sc.i < len(sc.s) && (sc.s[sc.i] == 'e' || sc.s[sc.i] == 'E') {
		sc.i++
		if sc.i < len(sc.s) && (sc.s[sc.i] == '+' || sc.s[sc.i] == '-') {
			sc.i++
		}
		for sc.i < len(sc.s) && isDigit(sc.s[sc.i]) {
			sc.i++
		}
	}
	v, err := strconv.ParseFloat(sc.s[start:sc.i], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: number at %d", ErrBadPath, start)
	}
	return v, nil
}

func (sc *pathScanner) flag() (bool, error) {
	sc.skip()
	if sc.i < len(sc.s) && (sc.s[sc.i] == '0' || sc.s[sc.i] == '1') {
		sc.i++
		return sc.s[sc.i-1] == '1', nil
	}
	return false, fmt.Errorf("%w: flag at %d", ErrBadPath, sc.i)
}

func (sc *pathScanner) numbers(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := sc.number()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// hasArg tells whether another argument follows for the current command.
func (sc *pathScanner) hasArg() bool {
	sc.skip()
	if sc.i >= len(sc.s) {
		return false
	}
	c := sc.s[sc.i]
	return isDigit(c) || c == '-' || c == '+' || c == '.'
}

// parse reads path data with the M, L, H, V, C, Q, A and Z commands.
func (b *pathBuilder) parse(d string) error {
	sc := &pathScanner{s: d}
	var cmd byte
	for !sc.done() {
		if c, ok := sc.command(); ok {
			cmd = c
			if cmd == 'Z' || cmd == 'z' {
				b.close()
				continue
			}
		} else if cmd == 0 || !sc.hasArg() {
			return fmt.Errorf("%w: unexpected %q", ErrBadPath, d[sc.i:sc.i+1])
		}
		rel := cmd >= 'a'
		at := func(x, y float64) r2.Vec {
			if rel {
				return r2.Vec{X: b.cur.X + x, Y: b.cur.Y + y}
			}
			return r2.Vec{X: x, Y: y}
		}
		switch cmd {
		case 'M', 'm':
			n, err := sc.numbers(2)
			if err != nil {
				return err
			}
			b.moveTo(at(n[0], n[1]))
			// further pairs are line-tos
			cmd = 'L' + (cmd - 'M')
		case 'L', 'l':
			n, err := sc.numbers(2)
			if err != nil {
				return err
			}
			b.lineTo(at(n[0], n[1]))
		case 'H', 'h':
			x, err := sc.number()
			if err != nil {
				return err
			}
			p := r2.Vec{X: x, Y: b.cur.Y}
			if rel {
				p.X += b.cur.X
			}
			b.lineTo(p)
		case 'V', 'v':
			y, err := sc.number()
			if err != nil {
				return err
			}
			p := r2.Vec{X: b.cur.X, Y: y}
			if rel {
				p.Y += b.cur.Y
			}
			b.lineTo(p)
		case 'C', 'c':
			n, err := sc.numbers(6)
			if err != nil {
				return err
			}
			p0 := b.cur
			var pts []r2.Vec
			flattenCubic(p0, at(n[0], n[1]), at(n[2], n[3]), at(n[4], n[5]), &pts)
			for _, p := range pts {
				b.lineTo(p)
			}
		case 'Q', 'q':
			n, err := sc.numbers(4)
			if err != nil {
				return err
			}
			p0, c, p := b.cur, at(n[0], n[1]), at(n[2], n[3])
			// degree elevation to a cubic
			c1 := r2.Add(p0, r2.Scale(2.0/3, r2.Sub(c, p0)))
			c2 := r2.Add(p, r2.Scale(2.0/3, r2.Sub(c, p)))
			var pts []r2.Vec
			flattenCubic(p0, c1, c2, p, &pts)
			for _, q := range pts {
				b.lineTo(q)
			}
		case 'A', 'a':
			n, err := sc.numbers(3)
			if err != nil {
				return err
			}
			large, err := sc.flag()
			if err != nil {
				return err
			}
			sweep, err := sc.flag()
			if err != nil {
				return err
			}
			xy, err := sc.numbers(2)
			if err != nil {
				return err
			}
			p := at(xy[0], xy[1])
			bulge, err := arcBulge(b.cur, p, n[0], n[1], large, sweep)
			if err != nil {
				return err
			}
			b.arcTo(p, bulge)
		default:
			return fmt.Errorf("%w: unsupported command %q", ErrBadPath, cmd)
		}
	}
	return nil
}

// flattenCubic appends the end points of a line approximation of a cubic
// Bézier curve by De Casteljau subdivision.
func flattenCubic(p0, p1, p2, p3 r2.Vec, out *[]r2.Vec) {
	if lineDistance(p1, p0, p3) <= curveFlatness && lineDistance(p2, p0, p3) <= curveFlatness {
		*out = append(*out, p3)
		return
	}
	mid := func(a, b r2.Vec) r2.Vec { return r2.Scale(0.5, r2.Add(a, b)) }
	m01, m12, m23 := mid(p0, p1), mid(p1, p2), mid(p2, p3)
	m012, m123 := mid(m01, m12), mid(m12, m23)
	m := mid(m012, m123)
	flattenCubic(p0, m01, m012, m, out)
	flattenCubic(m, m123, m23, p3, out)
}

func lineDistance(p, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	n := r2.Norm(ab)
	if n == 0 {
		return r2.Norm(r2.Sub(p, a))
	}
	return math.Abs(r2.Cross(ab, r2.Sub(p, a))) / n
}
