// Package strategy implements the dual moving-average position tracker.
//
// The tracker is driven one bar at a time through an explicit lifecycle:
// Initialize, then ProcessBar for every bar in order, then Finalize at the end
// of the series. It is not safe for concurrent use; callers serialise access
// (see the statemanager package).
package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ma-crossover-bot-go/internal/indicator"
	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/reporter"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized    = errors.New("strategy: tracker not initialized")
	ErrBarOutOfOrder     = errors.New("strategy: bar index out of order")
	ErrNoBars            = errors.New("strategy: no bars processed")
	ErrInvalidWarmupMode = errors.New("strategy: invalid warmup mode")
	ErrInvalidPrice      = errors.New("strategy: close price is not finite")
)

// State is the running position record carried from bar to bar.
type State struct {
	Position   models.Position
	EntryPrice float64
	EntryIndex int
	EntryTime  time.Time
	Stats      models.TradeStats
}

// barMark 记录每根K线处理后的均线累计和与持仓入场信息，用于修订时恢复
type barMark struct {
	entrySum   float64
	exitSum    float64
	entryIndex int
	entryTime  time.Time
}

// Tracker applies the crossover rule to a bar series and keeps the trade ledger.
type Tracker struct {
	cfg         models.StrategyConfig
	sink        LogSink
	logger      *zap.Logger
	entryMA     *indicator.SMA
	exitMA      *indicator.SMA
	state       State
	bars        []models.Bar
	snapshots   []models.BarSnapshot
	trades      []models.CompletedTrade
	marks       []barMark
	initialized bool
}

// NewTracker creates a tracker. A nil sink discards text output and a nil
// logger is replaced with a no-op logger.
func NewTracker(sink LogSink, logger *zap.Logger) *Tracker {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{sink: sink, logger: logger}
}

// ValidateConfig checks the moving average windows and warmup mode.
// An empty warmup mode is accepted and means WarmupZero.
func ValidateConfig(cfg models.StrategyConfig) error {
	if cfg.EntryPeriod <= 0 {
		return fmt.Errorf("entry period %d: %w", cfg.EntryPeriod, indicator.ErrInvalidPeriod)
	}
	if cfg.ExitPeriod <= 0 {
		return fmt.Errorf("exit period %d: %w", cfg.ExitPeriod, indicator.ErrInvalidPeriod)
	}
	if cfg.WarmupMode != "" && !cfg.WarmupMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidWarmupMode, cfg.WarmupMode)
	}
	return nil
}

// Initialize validates cfg and resets the tracker to an empty series.
func (t *Tracker) Initialize(cfg models.StrategyConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	if cfg.WarmupMode == "" {
		cfg.WarmupMode = models.WarmupZero
	}
	entryMA, err := indicator.NewSMA(cfg.EntryPeriod)
	if err != nil {
		return err
	}
	exitMA, err := indicator.NewSMA(cfg.ExitPeriod)
	if err != nil {
		return err
	}

	t.cfg = cfg
	t.entryMA = entryMA
	t.exitMA = exitMA
	t.reset()
	t.initialized = true

	t.logger.Info("tracker initialized",
		zap.Int("entry_period", cfg.EntryPeriod),
		zap.Int("exit_period", cfg.ExitPeriod),
		zap.String("warmup_mode", string(cfg.WarmupMode)))
	return nil
}

func (t *Tracker) reset() {
	t.entryMA.Reset()
	t.exitMA.Reset()
	t.state = State{}
	t.bars = nil
	t.snapshots = nil
	t.trades = nil
	t.marks = nil
}

// ProcessBar evaluates one bar. bar.Index must be the next index in the series,
// or the index of an already processed bar: in that case the series is cut at
// that index and the bar is evaluated again, so the result equals a fresh run
// over the revised data.
func (t *Tracker) ProcessBar(bar models.Bar) (models.BarSnapshot, error) {
	if !t.initialized {
		return models.BarSnapshot{}, ErrNotInitialized
	}
	if math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) {
		return models.BarSnapshot{}, fmt.Errorf("%w: bar %d", ErrInvalidPrice, bar.Index)
	}

	n := len(t.bars)
	if bar.Index < 0 || bar.Index > n {
		return models.BarSnapshot{}, fmt.Errorf("%w: got %d, expected %d", ErrBarOutOfOrder, bar.Index, n)
	}

	if bar.Index < n {
		t.logger.Debug("bar revised",
			zap.Int("index", bar.Index),
			zap.Int("bars", n))
		t.truncate(bar.Index)
	}

	return t.step(bar, t.sink), nil
}

// TradesBefore returns how many ledger entries were closed before bar i.
// Revising bar i leaves exactly those entries in place.
func (t *Tracker) TradesBefore(i int) int {
	if i <= 0 || len(t.snapshots) == 0 {
		return 0
	}
	if i > len(t.snapshots) {
		i = len(t.snapshots)
	}
	return t.snapshots[i-1].Stats.TotalTrades
}

// truncate cuts the series back to its first k bars. Position and statistics
// come from snapshot k-1, the averages are refilled from the last closes with
// the running sums recorded at k-1. Cost is bounded by the longer period.
func (t *Tracker) truncate(k int) {
	if k == 0 {
		t.reset()
		return
	}
	prev := t.snapshots[k-1]
	mark := t.marks[k-1]

	t.state = State{
		Position:   prev.Position,
		EntryPrice: prev.EntryPrice,
		EntryIndex: mark.entryIndex,
		EntryTime:  mark.entryTime,
		Stats:      prev.Stats,
	}
	t.trades = t.trades[:prev.Stats.TotalTrades]
	t.bars = t.bars[:k]
	t.snapshots = t.snapshots[:k]
	t.marks = t.marks[:k]

	t.entryMA.Restore(t.lastCloses(t.entryMA.Period()), mark.entrySum)
	t.exitMA.Restore(t.lastCloses(t.exitMA.Period()), mark.exitSum)
}

func (t *Tracker) lastCloses(p int) []float64 {
	from := len(t.bars) - p
	if from < 0 {
		from = 0
	}
	out := make([]float64, 0, len(t.bars)-from)
	for _, b := range t.bars[from:] {
		out = append(out, b.Close)
	}
	return out
}

// Replay resets the series and processes bars without writing to the sink.
// Bars must be indexed 0..len(bars)-1 in order.
func (t *Tracker) Replay(bars []models.Bar) error {
	if !t.initialized {
		return ErrNotInitialized
	}
	for i, b := range bars {
		if b.Index != i {
			return fmt.Errorf("%w: got %d, expected %d", ErrBarOutOfOrder, b.Index, i)
		}
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			return fmt.Errorf("%w: bar %d", ErrInvalidPrice, i)
		}
	}
	t.reset()
	for _, b := range bars {
		t.step(b, nopSink{})
	}
	return nil
}

func (t *Tracker) step(bar models.Bar, sink LogSink) models.BarSnapshot {
	entryMA, entryReady := t.entryMA.Update(bar.Close)
	exitMA, exitReady := t.exitMA.Update(bar.Close)
	t.bars = append(t.bars, bar)

	// 第一根K线只做初始化
	var events []models.TradeEvent
	if bar.Index > 0 && t.shouldEvaluate(entryReady, exitReady) {
		events = t.transition(bar, entryMA, exitMA)
	}
	for _, ev := range events {
		sink.AddMessage(reporter.FormatEvent(ev))
	}

	snap := models.BarSnapshot{
		Index:      bar.Index,
		Time:       bar.Time,
		Close:      bar.Close,
		EntryMA:    entryMA,
		ExitMA:     exitMA,
		EntryReady: entryReady,
		ExitReady:  exitReady,
		Position:   t.state.Position,
		EntryPrice: t.state.EntryPrice,
		Stats:      t.state.Stats,
		Events:     events,
	}
	t.snapshots = append(t.snapshots, snap)
	t.marks = append(t.marks, barMark{
		entrySum:   t.entryMA.Sum(),
		exitSum:    t.exitMA.Sum(),
		entryIndex: t.state.EntryIndex,
		entryTime:  t.state.EntryTime,
	})

	if len(events) > 0 {
		t.logger.Debug("bar processed",
			zap.Int("index", bar.Index),
			zap.Float64("close", bar.Close),
			zap.Float64("entry_ma", entryMA),
			zap.Float64("exit_ma", exitMA),
			zap.Stringer("position", t.state.Position),
			zap.Int("events", len(events)))
	}
	return snap
}

func (t *Tracker) shouldEvaluate(entryReady, exitReady bool) bool {
	if t.cfg.WarmupMode == models.WarmupSkip {
		return entryReady && exitReady
	}
	// WarmupZero: an unready average is reported as 0 and compared as such.
	return true
}

// transition applies the crossover rule. The long branch wins when both
// conditions hold.
func (t *Tracker) transition(bar models.Bar, entryMA, exitMA float64) []models.TradeEvent {
	price := bar.Close
	var events []models.TradeEvent

	switch {
	case price > entryMA:
		if t.state.Position == models.Short {
			profit := decimal.NewFromFloat(t.state.EntryPrice).Sub(decimal.NewFromFloat(price))
			events = append(events, t.closePosition(bar, profit, models.CloseShort))
		}
		if t.state.Position != models.Long {
			events = append(events, t.openPosition(bar, models.Long, models.OpenLong))
		}
	case price < exitMA:
		if t.state.Position == models.Long {
			profit := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(t.state.EntryPrice))
			events = append(events, t.closePosition(bar, profit, models.CloseLong))
		}
		if t.state.Position != models.Short {
			events = append(events, t.openPosition(bar, models.Short, models.OpenShort))
		}
	}
	return events
}

func (t *Tracker) closePosition(bar models.Bar, profit decimal.Decimal, action models.TradeAction) models.TradeEvent {
	RecordTrade(&t.state.Stats, profit)
	t.trades = append(t.trades, models.CompletedTrade{
		Side:         t.state.Position,
		EntryIndex:   t.state.EntryIndex,
		ExitIndex:    bar.Index,
		EntryTime:    t.state.EntryTime,
		ExitTime:     bar.Time,
		HoldDuration: bar.Time.Sub(t.state.EntryTime),
		EntryPrice:   t.state.EntryPrice,
		ExitPrice:    bar.Close,
		Profit:       profit,
	})
	t.state.Position = models.Flat
	return models.TradeEvent{Action: action, Index: bar.Index, Time: bar.Time, Price: bar.Close, Profit: profit}
}

func (t *Tracker) openPosition(bar models.Bar, side models.Position, action models.TradeAction) models.TradeEvent {
	t.state.Position = side
	t.state.EntryPrice = bar.Close
	t.state.EntryIndex = bar.Index
	t.state.EntryTime = bar.Time
	return models.TradeEvent{Action: action, Index: bar.Index, Time: bar.Time, Price: bar.Close}
}

// Report builds the statistics report for the bars processed so far.
func (t *Tracker) Report() (models.Report, error) {
	if !t.initialized {
		return models.Report{}, ErrNotInitialized
	}
	if len(t.bars) == 0 {
		return models.Report{}, ErrNoBars
	}
	return BuildReport(t.bars[0], t.bars[len(t.bars)-1], len(t.bars), t.state.Position, t.state.Stats), nil
}

// Finalize builds the report and writes the summary to the sink. It does not
// end the series; more bars may follow.
func (t *Tracker) Finalize() (models.Report, error) {
	r, err := t.Report()
	if err != nil {
		return r, err
	}
	t.sink.AddMessage(reporter.FormatSummary(r))
	return r, nil
}

// Config returns the active configuration.
func (t *Tracker) Config() models.StrategyConfig { return t.cfg }

// Len returns the number of bars processed.
func (t *Tracker) Len() int { return len(t.bars) }

// State returns the current position record.
func (t *Tracker) State() State { return t.state }

// Bars returns a copy of the processed bars.
func (t *Tracker) Bars() []models.Bar {
	out := make([]models.Bar, len(t.bars))
	copy(out, t.bars)
	return out
}

// Snapshots returns a copy of the per-bar history.
func (t *Tracker) Snapshots() []models.BarSnapshot {
	out := make([]models.BarSnapshot, len(t.snapshots))
	copy(out, t.snapshots)
	return out
}

// Snapshot returns the state after bar i.
func (t *Tracker) Snapshot(i int) (models.BarSnapshot, bool) {
	if i < 0 || i >= len(t.snapshots) {
		return models.BarSnapshot{}, false
	}
	return t.snapshots[i], true
}

// Trades returns a copy of the completed trade ledger.
func (t *Tracker) Trades() []models.CompletedTrade {
	out := make([]models.CompletedTrade, len(t.trades))
	copy(out, t.trades)
	return out
}
