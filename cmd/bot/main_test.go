package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ma-crossover-bot-go/internal/export"
	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/statemanager"
	"ma-crossover-bot-go/internal/storage"
	"ma-crossover-bot-go/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractSymbolFromPath(t *testing.T) {
	assert.Equal(t, "BNBUSDT", extractSymbolFromPath("data/BNBUSDT-2025-03-15-2025-06-15.csv"))
	assert.Equal(t, "ETHUSDT", extractSymbolFromPath("/tmp/ethusdt.csv"))
}

func TestResolveDataPath(t *testing.T) {
	cfg := &models.Config{}
	_, err := resolveDataPath(cfg, cliOptions{})
	assert.Error(t, err)

	path, err := resolveDataPath(cfg, cliOptions{dataPath: "data/x.csv"})
	require.NoError(t, err)
	assert.Equal(t, "data/x.csv", path)

	_, err = downloadData(&models.Config{Symbol: "BTCUSDT"}, cliOptions{startDate: "2024/01/01", endDate: "2024-02-01"})
	assert.Error(t, err)
	_, err = downloadData(&models.Config{Symbol: "BTCUSDT"}, cliOptions{startDate: "2024-02-01", endDate: "2024-01-01"})
	assert.Error(t, err)
}

func TestRunBacktestWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := &models.Config{
		Symbol:      "BTCUSDT",
		JournalPath: filepath.Join(dir, "journal.db"),
		Strategy:    models.StrategyConfig{EntryPeriod: 2, ExitPeriod: 2, WarmupMode: models.WarmupZero},
	}
	opts := cliOptions{
		seriesPath: filepath.Join(dir, "series.parquet"),
		tradesPath: filepath.Join(dir, "trades.csv"),
	}
	t0 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	var bars []models.Bar
	for i, c := range []float64{10, 12, 8, 15, 6} {
		bars = append(bars, models.Bar{Index: i, Time: t0.Add(time.Duration(i) * time.Minute), Close: c})
	}
	sink := strategy.NewMemorySink(0)

	res, err := runBacktest(cfg, bars, opts, sink, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Report.TotalTrades)
	assert.Equal(t, "-20", res.Report.NetProfit.String())
	assert.Equal(t, models.Short, res.Report.Position)

	msgs := sink.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "open long\ntime: 2024-03-01 09:31:00\nprice: 12.00", msgs[0])
	assert.Contains(t, msgs[len(msgs)-2], "Net profit: -20.00")

	records, err := export.ReadSeriesParquet(opts.seriesPath)
	require.NoError(t, err)
	assert.Len(t, records, 5)

	_, err = os.Stat(opts.tradesPath)
	require.NoError(t, err)

	db, err := storage.InitDB(cfg.JournalPath)
	require.NoError(t, err)
	defer db.Close()
	run, err := storage.LoadRun(db, res.RunID)
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, 3, run.Report.TotalTrades)
	trades, err := storage.ListTrades(db, res.RunID)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestResumable(t *testing.T) {
	cfg := &models.Config{Symbol: "BTCUSDT", Strategy: models.StrategyConfig{EntryPeriod: 20, ExitPeriod: 10, WarmupMode: models.WarmupZero}}
	assert.False(t, resumable(nil, cfg))
	assert.True(t, resumable(&models.StrategyState{Symbol: "BTCUSDT", Config: cfg.Strategy}, cfg))
	assert.False(t, resumable(&models.StrategyState{Symbol: "ETHUSDT", Config: cfg.Strategy}, cfg))
	other := cfg.Strategy
	other.ExitPeriod = 5
	assert.False(t, resumable(&models.StrategyState{Symbol: "BTCUSDT", Config: other}, cfg))
}

func TestAttachJournalFollowsRevisions(t *testing.T) {
	db, err := storage.InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	cfg := models.StrategyConfig{EntryPeriod: 2, ExitPeriod: 2, WarmupMode: models.WarmupZero}
	tracker := strategy.NewTracker(nil, zap.NewNop())
	require.NoError(t, tracker.Initialize(cfg))
	sm := statemanager.NewStateManager(tracker, storage.NewRunID(), "BTCUSDT", nil, zap.NewNop())
	require.NoError(t, storage.CreateRun(db, storage.RunRecord{ID: sm.RunID(), Symbol: "BTCUSDT", Mode: "live", Config: cfg, StartedAt: time.Now()}))

	// 日志中残留检查点没有的记录
	stale := []models.CompletedTrade{{Side: models.Long, EntryIndex: 1, ExitIndex: 2, Profit: decimal.NewFromInt(1)}}
	require.NoError(t, storage.SaveTrades(db, sm.RunID(), 0, stale))

	attachJournal(sm, db, zap.NewNop())
	n, err := storage.CountTrades(db, sm.RunID())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	t0 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	bar := func(i int, c float64) models.Bar {
		return models.Bar{Index: i, Time: t0.Add(time.Duration(i) * time.Minute), Close: c}
	}
	sm.Start()
	for i, c := range []float64{10, 12, 8, 15, 6} {
		sm.DispatchBar(bar(i, c))
	}
	sm.DispatchBar(bar(2, 13))
	sm.DispatchBar(bar(3, 5))
	sm.Stop()

	trades, err := storage.ListTrades(db, sm.RunID())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Len(t, sm.Trades(), 1)
	assert.Equal(t, models.Long, trades[0].Side)
	assert.Equal(t, 3, trades[0].ExitIndex)
	assert.True(t, trades[0].Profit.Equal(decimal.NewFromInt(-7)))
}
