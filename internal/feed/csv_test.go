package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const klineCSV = `open_time,open,high,low,close,volume,close_time
1709285400000,10,11,9,10.5,100,1709285459999
1709285460000,10.5,12.5,10,12,80,1709285519999
1709285520000,12,12,7.5,bad,90,1709285579999
1709285580000,8,8.5,7,8,70,1709285639999
`

func TestReadCSVSkipsMalformedRows(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	bars, err := ReadCSV(strings.NewReader(klineCSV), zap.New(core))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	for i, b := range bars {
		assert.Equal(t, i, b.Index)
	}
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, 12.5, bars[1].High)
	assert.Equal(t, 8.0, bars[2].Close)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 1, logs.Len())
}

func TestReadCSVSkipsNonFinitePrices(t *testing.T) {
	in := "time,close\n" +
		"2024-03-01T09:30:00Z,10\n" +
		"2024-03-01T09:31:00Z,NaN\n" +
		"2024-03-01T09:32:00Z,+Inf\n" +
		"2024-03-01T09:33:00Z,-inf\n" +
		"2024-03-01T09:34:00Z,12\n"
	core, logs := observer.New(zap.WarnLevel)

	bars, err := ReadCSV(strings.NewReader(in), zap.New(core))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 12.0, bars[1].Close)
	assert.Equal(t, 1, bars[1].Index)
	assert.Equal(t, 3, logs.Len())
}

func TestParsePrice(t *testing.T) {
	v, err := ParsePrice(" 12.25 ")
	require.NoError(t, err)
	assert.Equal(t, 12.25, v)

	for _, s := range []string{"NaN", "nan", "Inf", "-Infinity", "1e400"} {
		_, err := ParsePrice(s)
		assert.Error(t, err, s)
	}
	_, err = ParsePrice("NaN")
	assert.ErrorIs(t, err, ErrNonFinitePrice)
}

func TestReadCSVTwoColumns(t *testing.T) {
	in := "time,close\n2024-03-01T09:30:00Z,10\n2024-03-01T09:31:00Z,12\n2024-03-01T09:31:00Z,13\n"
	bars, err := ReadCSV(strings.NewReader(in), nil)
	require.NoError(t, err)
	require.Len(t, bars, 2, "duplicate timestamp is dropped")
	assert.Equal(t, 12.0, bars[1].Close)
	assert.Equal(t, 12.0, bars[1].Open)
}

func TestLoadCSVErrors(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadCSV(strings.NewReader("open_time,open,high,low,close\n"), nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLoadCSVFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "BTCUSDT.csv")
	require.NoError(t, os.WriteFile(path, []byte(klineCSV), 0o644))

	bars, err := LoadCSV(path, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, bars, 3)
}
