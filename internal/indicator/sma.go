// Package indicator provides incremental price indicators.
package indicator

import (
	"errors"
	"math"
)

// ErrInvalidPeriod is returned when a moving average window is not positive.
var ErrInvalidPeriod = errors.New("indicator: period must be positive")

// SMA is a simple moving average over the last Period values.
// Updates are O(1): the window lives in a ring buffer and the sum is kept running.
type SMA struct {
	period int
	window []float64
	next   int
	count  int
	sum    float64
}

// NewSMA creates an SMA with the given window length.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return &SMA{
		period: period,
		window: make([]float64, period),
	}, nil
}

// Period returns the window length.
func (s *SMA) Period() int { return s.period }

// Update pushes a new value and returns the average. ok is false while fewer
// than Period values have been seen.
func (s *SMA) Update(v float64) (value float64, ok bool) {
	if s.count == s.period {
		s.sum -= s.window[s.next]
	} else {
		s.count++
	}
	s.window[s.next] = v
	s.sum += v
	s.next = (s.next + 1) % s.period
	return s.Value()
}

// Value returns the current average without pushing anything.
func (s *SMA) Value() (float64, bool) {
	if s.count < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

// Sum returns the running sum of the window.
func (s *SMA) Sum() float64 { return s.sum }

// Restore loads a window saved elsewhere. values are the most recent inputs,
// oldest first, and sum is the running sum Sum reported after the last of
// them was pushed. Only the last Period values are kept.
func (s *SMA) Restore(values []float64, sum float64) {
	if len(values) > s.period {
		values = values[len(values)-s.period:]
	}
	s.Reset()
	copy(s.window, values)
	s.count = len(values)
	s.next = s.count % s.period
	s.sum = sum
}

// Reset clears the window.
func (s *SMA) Reset() {
	for i := range s.window {
		s.window[i] = 0
	}
	s.next = 0
	s.count = 0
	s.sum = 0
}

// SimpleAverage computes the SMA of x over p points. The result is aligned with
// x and holds NaN for the first p-1 entries.
func SimpleAverage(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}
