// Package export writes the per-bar series and the trade ledger to files
// for charting and offline analysis.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ma-crossover-bot-go/internal/models"

	"github.com/parquet-go/parquet-go"
)

// SeriesRecord is the Parquet schema for one processed bar.
type SeriesRecord struct {
	Index      int64   `parquet:"index"`
	// Unix ms
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"`
	Close      float64 `parquet:"close"`
	EntryMA    float64 `parquet:"entry_ma"`
	ExitMA     float64 `parquet:"exit_ma"`
	EntryReady bool    `parquet:"entry_ready"`
	ExitReady  bool    `parquet:"exit_ready"`
	// 1 多, -1 空, 0 空仓
	Position   int32   `parquet:"position"`
	NetProfit  string  `parquet:"net_profit"`
	Trades     int32   `parquet:"trades"`
	// 本根K线上的动作, 以 ';' 分隔
	Events     string  `parquet:"events"`
}

// ToSeriesRecords converts snapshots to their on-disk form.
func ToSeriesRecords(snaps []models.BarSnapshot) []SeriesRecord {
	records := make([]SeriesRecord, len(snaps))
	for i, s := range snaps {
		var events string
		for j, ev := range s.Events {
			if j > 0 {
				events += ";"
			}
			events += string(ev.Action)
		}
		records[i] = SeriesRecord{
			Index:      int64(s.Index),
			Timestamp:  s.Time.UnixMilli(),
			Close:      s.Close,
			EntryMA:    s.EntryMA,
			ExitMA:     s.ExitMA,
			EntryReady: s.EntryReady,
			ExitReady:  s.ExitReady,
			Position:   int32(s.Position),
			NetProfit:  s.Stats.NetProfit.String(),
			Trades:     int32(s.Stats.TotalTrades),
			Events:     events,
		}
	}
	return records
}

// WriteSeriesParquet writes the per-bar series to path, creating parent directories.
func WriteSeriesParquet(path string, snaps []models.BarSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	return parquet.WriteFile(path, ToSeriesRecords(snaps))
}

// ReadSeriesParquet reads a series written by WriteSeriesParquet.
func ReadSeriesParquet(path string) ([]SeriesRecord, error) {
	return parquet.ReadFile[SeriesRecord](path)
}

var tradeHeader = []string{"seq", "side", "entry_index", "entry_time", "entry_price", "exit_index", "exit_time", "exit_price", "hold", "profit"}

// WriteTradesCSV writes the trade ledger as CSV with a header row.
func WriteTradesCSV(w io.Writer, trades []models.CompletedTrade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for i, tr := range trades {
		rec := []string{
			strconv.Itoa(i + 1),
			tr.Side.String(),
			strconv.Itoa(tr.EntryIndex),
			tr.EntryTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(tr.EntryPrice, 'f', -1, 64),
			strconv.Itoa(tr.ExitIndex),
			tr.ExitTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(tr.ExitPrice, 'f', -1, 64),
			tr.HoldDuration.String(),
			tr.Profit.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesCSVFile is WriteTradesCSV to a file.
func WriteTradesCSVFile(path string, trades []models.CompletedTrade) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(f, trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
