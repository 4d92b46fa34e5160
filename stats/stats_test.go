package stats

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

const epsilon = 1e-6

func fuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestRunning(t *testing.T) {
	is := is.New(t)
	type tc struct {
		readings []float64
		mean     float64
		stdev    float64
	}
	cases := []tc{
		{[]float64{10, 12, 23, 23, 16, 23, 21, 16}, 18, 5.2372293656638},
		{[]float64{-0.4, 0.1, 0.3, -0.2}, -0.05, 0.31091263510296},
		{[]float64{1}, 1, 0},
		{nil, 0, 0},
		{[]float64{1, 1}, 1, 0},
	}
	for _, c := range cases {
		r := Of(c.readings)
		is.Equal(r.Count(), len(c.readings))
		is.True(fuzzyEqual(r.Mean(), c.mean))
		is.True(fuzzyEqual(r.Stdev(), c.stdev))
	}
}

func TestInterval(t *testing.T) {
	is := is.New(t)
	r := Of([]float64{10, 12, 23, 23, 16, 23, 21, 16})
	lo, hi := r.Interval(95)
	is.True(fuzzyEqual(hi-r.Mean(), r.Mean()-lo))
	is.True(fuzzyEqual(hi-lo, 2*1.959963984540054*r.StandardError()))
	is.True(fuzzyEqual(ZVal(95), 1.959963984540054))
	is.Equal(r.Last(), 16.0)
}
