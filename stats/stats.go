// Package stats summarizes streams of machine readings.
package stats

import "math"

// Running keeps the mean and spread of a stream of readings without
// storing them (Welford).
type Running struct {
	n    int
	last float64
	mean float64
	m2   float64
}

// Of returns the summary of vals.
func Of(vals []float64) *Running {
	r := &Running{}
	for _, v := range vals {
		r.Push(v)
	}
	return r
}

func (r *Running) Push(v float64) {
	r.n++
	r.last = v
	delta := v - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (v - r.mean)
}

func (r *Running) Count() int {
	return r.n
}

func (r *Running) Last() float64 {
	return r.last
}

func (r *Running) Mean() float64 {
	return r.mean
}

// Variance is the sample variance; zero with fewer than two readings.
func (r *Running) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

func (r *Running) Stdev() float64 {
	return math.Sqrt(r.Variance())
}

func (r *Running) StandardError() float64 {
	if r.n == 0 {
		return 0
	}
	return math.Sqrt(r.Variance() / float64(r.n))
}

// Interval returns the two-sided confidence interval of the mean at the
// given percentage.
func (r *Running) Interval(confidence float64) (lo, hi float64) {
	half := ZVal(confidence) * r.StandardError()
	return r.mean - half, r.mean + half
}
