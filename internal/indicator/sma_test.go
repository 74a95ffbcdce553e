package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMARejectsNonPositivePeriod(t *testing.T) {
	for _, p := range []int{0, -1} {
		s, err := NewSMA(p)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	}
}

func TestSMAWarmupAndRolling(t *testing.T) {
	s, err := NewSMA(3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Period())

	_, ok := s.Update(1)
	assert.False(t, ok)
	_, ok = s.Update(2)
	assert.False(t, ok)

	v, ok := s.Update(3)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-12)

	v, ok = s.Update(10)
	require.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-12) // (2+3+10)/3

	cur, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, v, cur)
}

func TestSMAPeriodOne(t *testing.T) {
	s, err := NewSMA(1)
	require.NoError(t, err)
	for _, x := range []float64{4, 7, 1} {
		v, ok := s.Update(x)
		require.True(t, ok)
		assert.Equal(t, x, v)
	}
}

func TestSMAReset(t *testing.T) {
	s, err := NewSMA(2)
	require.NoError(t, err)
	s.Update(5)
	s.Update(7)
	s.Reset()

	_, ok := s.Value()
	assert.False(t, ok)
	_, ok = s.Update(1)
	assert.False(t, ok)
	v, ok := s.Update(3)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestSMAMatchesBatch(t *testing.T) {
	closes := []float64{10, 12, 8, 15, 6, 9.5, 11.25, 14, 13, 7}
	for _, p := range []int{1, 2, 3, 5, 10, 11} {
		batch := SimpleAverage(closes, p)
		require.Len(t, batch, len(closes))

		s, err := NewSMA(p)
		require.NoError(t, err)
		for i, c := range closes {
			v, ok := s.Update(c)
			if i < p-1 {
				assert.False(t, ok, "period %d index %d", p, i)
				assert.True(t, math.IsNaN(batch[i]))
				continue
			}
			require.True(t, ok, "period %d index %d", p, i)
			assert.InDelta(t, batch[i], v, 1e-9, "period %d index %d", p, i)
		}
	}
}

func TestSimpleAverageInvalidPeriod(t *testing.T) {
	assert.Nil(t, SimpleAverage([]float64{1, 2}, 0))
}

func TestSMARestoreContinuesExactly(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 7.3*math.Sin(float64(i)/3) + 0.01*float64(i%7)
	}
	for _, p := range []int{1, 3, 20} {
		for _, cut := range []int{1, p - 1, p, 57} {
			if cut <= 0 {
				continue
			}
			a, err := NewSMA(p)
			require.NoError(t, err)
			for _, c := range closes[:cut] {
				a.Update(c)
			}

			b, err := NewSMA(p)
			require.NoError(t, err)
			b.Update(999) // restored state replaces whatever was there
			b.Restore(closes[:cut], a.Sum())

			va, oka := a.Value()
			vb, okb := b.Value()
			assert.Equal(t, oka, okb, "period %d cut %d", p, cut)
			assert.Equal(t, va, vb, "period %d cut %d", p, cut)
			for _, c := range closes[cut:] {
				va, oka = a.Update(c)
				vb, okb = b.Update(c)
				require.Equal(t, oka, okb)
				require.Equal(t, va, vb, "period %d cut %d", p, cut)
			}
		}
	}
}
