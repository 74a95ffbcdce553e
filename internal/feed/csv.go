// Package feed turns kline sources (CSV files, exchange websocket streams)
// into indexed bars.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"ma-crossover-bot-go/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNoData 表示文件中没有可用的K线
	ErrNoData = errors.New("feed: no usable rows")
	// ErrNonFinitePrice 表示价格为 NaN 或 Inf
	ErrNonFinitePrice = errors.New("feed: price is not finite")
)

// LoadCSV 读取K线CSV文件 (open_time 毫秒, open, high, low, close, ...)。
// 也接受只有两列的 time,close 文件。无法解析的行记录警告后跳过，
// 返回的K线按文件顺序从 0 开始编号。
func LoadCSV(path string, logger *zap.Logger) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, logger)
}

// ReadCSV 同 LoadCSV，从任意 reader 读取
func ReadCSV(r io.Reader, logger *zap.Logger) ([]models.Bar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取CSV失败: %w", err)
	}

	var bars []models.Bar
	for i, rec := range records {
		bar, err := parseRecord(rec)
		if err != nil {
			// 表头行不算错误
			if i == 0 {
				continue
			}
			logger.Warn("skip malformed kline row", zap.Int("line", i+1), zap.Error(err))
			continue
		}
		if n := len(bars); n > 0 && !bar.Time.IsZero() && !bar.Time.After(bars[n-1].Time) {
			logger.Warn("skip kline row out of time order", zap.Int("line", i+1), zap.Time("time", bar.Time))
			continue
		}
		bar.Index = len(bars)
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

func parseRecord(rec []string) (models.Bar, error) {
	var bar models.Bar
	switch {
	case len(rec) >= 5:
		ts, err := parseTime(rec[0])
		if err != nil {
			return bar, err
		}
		vals := make([]float64, 4)
		for j := range vals {
			v, err := ParsePrice(rec[j+1])
			if err != nil {
				return bar, fmt.Errorf("column %d: %w", j+2, err)
			}
			vals[j] = v
		}
		bar = models.Bar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
	case len(rec) >= 2:
		ts, err := parseTime(rec[0])
		if err != nil {
			return bar, err
		}
		c, err := ParsePrice(rec[1])
		if err != nil {
			return bar, fmt.Errorf("close: %w", err)
		}
		bar = models.Bar{Time: ts, Open: c, High: c, Low: c, Close: c}
	default:
		return bar, fmt.Errorf("expected at least 2 columns, got %d", len(rec))
	}
	return bar, nil
}

// ParsePrice 解析一个价格字段，NaN 和 Inf 视为无效
func ParsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNonFinitePrice, s)
	}
	return v, nil
}

// parseTime 支持毫秒时间戳和 RFC3339 两种格式
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, err)
	}
	return ts.UTC(), nil
}
