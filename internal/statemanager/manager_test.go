package statemanager

import (
	"sync"
	"testing"
	"time"

	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/persistence"
	"ma-crossover-bot-go/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	savedState   *models.StrategyState
	saveCount    int
	loadState    *models.StrategyState
	loadError    error
	saveError    error
	saveDoneChan chan bool // Channel to signal when SaveState is done
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{
		saveDoneChan: make(chan bool, 64),
	}
}

func (m *mockStateRepository) SaveState(state *models.StrategyState) error {
	m.Lock()
	defer m.Unlock()

	copied := *state
	copied.Bars = append([]models.Bar(nil), state.Bars...)
	m.savedState = &copied
	m.saveCount++

	select {
	case m.saveDoneChan <- true:
	default:
	}
	return m.saveError
}

func (m *mockStateRepository) LoadState() (*models.StrategyState, error) {
	m.Lock()
	defer m.Unlock()
	return m.loadState, m.loadError
}

func (m *mockStateRepository) Close() error {
	return nil
}

func (m *mockStateRepository) getSavedState() *models.StrategyState {
	m.Lock()
	defer m.Unlock()
	return m.savedState
}

func (m *mockStateRepository) getSaveCount() int {
	m.Lock()
	defer m.Unlock()
	return m.saveCount
}

func (m *mockStateRepository) waitSaves(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.saveDoneChan:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for save %d of %d", i+1, n)
		}
	}
}

var (
	baseTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	cfg22    = models.StrategyConfig{EntryPeriod: 2, ExitPeriod: 2, WarmupMode: models.WarmupZero}
)

func makeBars(closes ...float64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Index: i, Time: baseTime.Add(time.Duration(i) * time.Minute), Close: c}
	}
	return bars
}

func newManager(t *testing.T, repo persistence.StateRepository) (*StateManager, *strategy.MemorySink) {
	t.Helper()
	sink := strategy.NewMemorySink(0)
	tr := strategy.NewTracker(sink, zap.NewNop())
	require.NoError(t, tr.Initialize(cfg22))
	return NewStateManager(tr, "run-test", "BTCUSDT", repo, zap.NewNop()), sink
}

// TestNewStateManager verifies that the StateManager is initialized correctly.
func TestNewStateManager(t *testing.T) {
	sm, _ := newManager(t, newMockStateRepository())
	require.NotNil(t, sm)

	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, "run-test", snapshot.RunID)
	assert.Equal(t, models.StateVersion, snapshot.Version)
	assert.Empty(t, snapshot.Bars)
	assert.Equal(t, 0, sm.NextIndex())

	assert.NotNil(t, sm.eventChannel)
	assert.NotNil(t, sm.persistenceChan)
	assert.NotNil(t, sm.stopChan)
}

// TestBarEventsAreProcessedAndPersisted dispatches a short series and checks
// both the in-memory state and the last saved checkpoint.
func TestBarEventsAreProcessedAndPersisted(t *testing.T) {
	repo := newMockStateRepository()
	sm, sink := newManager(t, repo)

	var mu sync.Mutex
	var journaled []models.CompletedTrade
	sm.OnTrades(func(fromSeq int, trades []models.CompletedTrade) {
		mu.Lock()
		defer mu.Unlock()
		journaled = append(journaled[:fromSeq], trades...)
	})

	sm.Start()
	defer sm.Stop()

	for _, b := range makeBars(10, 12, 8, 15, 6) {
		sm.DispatchBar(b)
	}
	repo.waitSaves(t, 5)

	snap, ok := sm.LatestSnapshot()
	require.True(t, ok)
	assert.Equal(t, 4, snap.Index)
	assert.Equal(t, models.Short, snap.Position)
	assert.Equal(t, 5, sm.NextIndex())

	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Len(t, saved.Bars, 5)
	assert.Equal(t, models.Short, saved.Position)
	assert.Equal(t, 3, saved.Stats.TotalTrades)
	assert.True(t, saved.Stats.NetProfit.Equal(decimal.NewFromInt(-20)))

	mu.Lock()
	assert.Len(t, journaled, 3)
	mu.Unlock()
	assert.Len(t, sm.Trades(), 3)
	assert.NotEmpty(t, sink.Messages())

	r, err := sm.Report()
	require.NoError(t, err)
	assert.Equal(t, 5, r.Bars)
	assert.Equal(t, 0.0, r.ProfitFactor)
}

// TestAsyncPersistence verifies that checkpoint writes happen off the caller's goroutine.
func TestAsyncPersistence(t *testing.T) {
	repo := newMockStateRepository()
	sm, _ := newManager(t, repo)
	sm.Start()
	defer sm.Stop()

	sm.DispatchBar(makeBars(10)[0])
	assert.Equal(t, 0, repo.getSaveCount(), "SaveState should not be called synchronously with DispatchBar")

	repo.waitSaves(t, 1)
	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Len(t, saved.Bars, 1)
}

func TestOutOfOrderBarIsIgnored(t *testing.T) {
	repo := newMockStateRepository()
	sm, _ := newManager(t, repo)

	sm.processEvent(NormalizedEvent{Type: BarClosedEvent, Timestamp: time.Now(), Data: models.Bar{Index: 3, Close: 1}})
	assert.Equal(t, 0, sm.NextIndex())

	sm.processEvent(NormalizedEvent{Type: BarClosedEvent, Timestamp: time.Now(), Data: "not a bar"})
	assert.Equal(t, 0, sm.NextIndex())
}

func TestResetEvent(t *testing.T) {
	repo := newMockStateRepository()
	sm, _ := newManager(t, repo)
	sm.Start()
	defer sm.Stop()

	for _, b := range makeBars(10, 12, 8) {
		sm.DispatchBar(b)
	}
	newCfg := models.StrategyConfig{EntryPeriod: 5, ExitPeriod: 3, WarmupMode: models.WarmupSkip}
	sm.DispatchEvent(NormalizedEvent{Type: ResetEvent, Timestamp: time.Now(), Data: newCfg})
	repo.waitSaves(t, 4)

	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Empty(t, saved.Bars)
	assert.Equal(t, newCfg, saved.Config)
}

func TestRestoreReplaysCheckpoint(t *testing.T) {
	repo := newMockStateRepository()
	sm, _ := newManager(t, repo)
	sm.Start()
	for _, b := range makeBars(10, 12, 8, 15, 6) {
		sm.DispatchBar(b)
	}
	repo.waitSaves(t, 5)
	sm.Stop()

	checkpoint := repo.getSavedState()
	require.NotNil(t, checkpoint)

	restored, _ := newManager(t, nil)
	require.NoError(t, restored.Restore(checkpoint))
	assert.Equal(t, sm.Snapshots(), restored.Snapshots())
	assert.Equal(t, sm.Trades(), restored.Trades())
	assert.Equal(t, 5, restored.NextIndex())

	// 继续处理新K线时与不中断的运行一致
	next := models.Bar{Index: 5, Time: baseTime.Add(5 * time.Minute), Close: 20}
	restored.processEvent(NormalizedEvent{Type: BarClosedEvent, Timestamp: time.Now(), Data: next})
	snap, ok := restored.LatestSnapshot()
	require.True(t, ok)
	assert.Equal(t, models.Long, snap.Position)
}

func TestRestoreDetectsMismatch(t *testing.T) {
	sm, _ := newManager(t, nil)
	state := &models.StrategyState{
		Version:  models.StateVersion,
		Config:   cfg22,
		Bars:     makeBars(10, 12),
		Position: models.Short, // replay gives long
	}
	assert.ErrorIs(t, sm.Restore(state), ErrCheckpointMismatch)
	assert.NoError(t, sm.Restore(nil))
}

func TestStopWritesFinalCheckpoint(t *testing.T) {
	repo := newMockStateRepository()
	sm, _ := newManager(t, repo)
	sm.Start()
	sm.Stop()
	sm.Stop()

	assert.Equal(t, 1, repo.getSaveCount())
	// 停止后投递的事件被丢弃而不是阻塞
	sm.DispatchBar(makeBars(10)[0])
	assert.Empty(t, sm.eventChannel)
	assert.Equal(t, 0, sm.NextIndex())
}

// TestStopProcessesQueuedBars checks that bars already queued when Stop is
// called end up in the final checkpoint.
func TestStopProcessesQueuedBars(t *testing.T) {
	const n = 500
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i%17) - float64(i%5)
	}

	repo := newMockStateRepository()
	sm, _ := newManager(t, repo)
	sm.Start()
	for _, b := range makeBars(closes...) {
		sm.DispatchBar(b)
	}
	sm.Stop()

	assert.Equal(t, n, sm.NextIndex())
	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Len(t, saved.Bars, n)
	assert.Equal(t, len(sm.Trades()), saved.Stats.TotalTrades)
}

// TestRevisedBarResyncsJournal revises a processed bar and checks that the
// journal kept through OnTrades follows the tracker ledger.
func TestRevisedBarResyncsJournal(t *testing.T) {
	sm, _ := newManager(t, newMockStateRepository())

	var journal []models.CompletedTrade
	calls := 0
	sm.OnTrades(func(fromSeq int, trades []models.CompletedTrade) {
		calls++
		journal = append(journal[:fromSeq], trades...)
	})

	dispatch := func(b models.Bar) {
		sm.processEvent(NormalizedEvent{Type: BarClosedEvent, Timestamp: time.Now(), Data: b})
	}
	for _, b := range makeBars(10, 12, 8, 15, 6) {
		dispatch(b)
	}
	require.Len(t, journal, 3)
	assert.Equal(t, sm.Trades(), journal)

	// 13 > ma(12,13)：第2根起一直持多，之前的三笔交易都不存在了
	dispatch(models.Bar{Index: 2, Time: baseTime.Add(2 * time.Minute), Close: 13})
	assert.Equal(t, 3, sm.NextIndex())
	assert.Empty(t, sm.Trades())
	assert.Empty(t, journal)

	// 平多 12 -> 5
	callsBefore := calls
	dispatch(models.Bar{Index: 3, Time: baseTime.Add(3 * time.Minute), Close: 5})
	assert.Equal(t, callsBefore+1, calls)
	require.Len(t, journal, 1)
	assert.Equal(t, sm.Trades(), journal)
	assert.Equal(t, models.Long, journal[0].Side)
	assert.True(t, journal[0].Profit.Equal(decimal.NewFromInt(-7)))

	// 修订最后一根K线，之前的记录保持不变
	dispatch(models.Bar{Index: 3, Time: baseTime.Add(3 * time.Minute), Close: 14})
	assert.Empty(t, journal)
	dispatch(models.Bar{Index: 3, Time: baseTime.Add(3 * time.Minute), Close: 4})
	require.Len(t, journal, 1)
	assert.True(t, journal[0].Profit.Equal(decimal.NewFromInt(-8)))

	// 重置清空交易记录
	sm.processEvent(NormalizedEvent{Type: ResetEvent, Timestamp: time.Now(), Data: cfg22})
	assert.Empty(t, journal)
	assert.Equal(t, 0, sm.NextIndex())
}
