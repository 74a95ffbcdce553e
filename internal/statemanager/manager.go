package statemanager

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/persistence"
	"ma-crossover-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// ErrCheckpointMismatch 表示重放检查点得到的状态与保存时记录的不一致
var ErrCheckpointMismatch = errors.New("statemanager: replayed state does not match checkpoint")

// EventType defines the type of a normalized event
type EventType int

const (
	BarClosedEvent EventType = iota
	ResetEvent
)

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TradeHandler 在交易记录变化后被调用 (在事件循环的 goroutine 中)。
// 序号 fromSeq 及之后的记录应整体替换为 trades；K线修订或重置时 trades 可能为空。
type TradeHandler func(fromSeq int, trades []models.CompletedTrade)

// StateManager owns the tracker. All mutations go through the event loop so
// bars are processed serially; readers take a snapshot under the lock.
type StateManager struct {
	mu      sync.RWMutex
	tracker *strategy.Tracker
	runID   string
	symbol  string

	repo            persistence.StateRepository
	onTrades        TradeHandler
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.StrategyState
	stopChan        chan struct{}
	stopMu          sync.RWMutex // 保证 stopChan 关闭后不再有事件入队
	stopped         bool
	stopOnce        sync.Once
	wg              sync.WaitGroup
	lastUpdate      time.Time
	logger          *zap.Logger
}

// NewStateManager creates a StateManager around an initialized tracker.
func NewStateManager(tracker *strategy.Tracker, runID, symbol string, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		tracker:         tracker,
		runID:           runID,
		symbol:          symbol,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan *models.StrategyState, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// OnTrades registers a handler for ledger changes. Must be called before Start.
func (sm *StateManager) OnTrades(h TradeHandler) {
	sm.onTrades = h
}

// Restore rebuilds the tracker from a checkpoint by replaying its bars and
// checks the result against the recorded position and statistics.
// Must be called before Start.
func (sm *StateManager) Restore(state *models.StrategyState) error {
	if state == nil {
		return nil
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.tracker.Initialize(state.Config); err != nil {
		return fmt.Errorf("恢复策略参数失败: %w", err)
	}
	if err := sm.tracker.Replay(state.Bars); err != nil {
		return fmt.Errorf("重放K线失败: %w", err)
	}

	got := sm.tracker.State()
	if got.Position != state.Position ||
		got.Stats.TotalTrades != state.Stats.TotalTrades ||
		got.Stats.WinningTrades != state.Stats.WinningTrades ||
		!got.Stats.NetProfit.Equal(state.Stats.NetProfit) {
		return fmt.Errorf("%w: position %s/%s, trades %d/%d", ErrCheckpointMismatch,
			got.Position, state.Position, got.Stats.TotalTrades, state.Stats.TotalTrades)
	}

	if state.RunID != "" {
		sm.runID = state.RunID
	}
	if state.Symbol != "" {
		sm.symbol = state.Symbol
	}
	sm.lastUpdate = state.LastUpdateTime
	sm.logger.Info("checkpoint restored",
		zap.String("run_id", sm.runID),
		zap.Int("bars", len(state.Bars)),
		zap.Stringer("position", got.Position),
		zap.Int("trades", got.Stats.TotalTrades))
	return nil
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Info("StateManager started.")
}

// Stop shuts down both loops and writes a final checkpoint. Events queued
// before Stop are processed first. Safe to call more than once.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		sm.stopMu.Lock()
		sm.stopped = true
		close(sm.stopChan)
		sm.stopMu.Unlock()
		sm.wg.Wait()
		if err := sm.SaveCheckpoint(); err != nil {
			sm.logger.Error("failed to save final checkpoint", zap.Error(err))
		}
		sm.logger.Info("StateManager stopped.")
	})
}

// DispatchEvent sends an event to the StateManager for processing.
// Events dispatched after Stop are dropped.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.stopMu.RLock()
	defer sm.stopMu.RUnlock()
	if sm.stopped {
		sm.logger.Warn("event dropped, manager stopped", zap.Int("type", int(event.Type)))
		return
	}
	sm.eventChannel <- event
}

// DispatchBar queues a closed bar for processing.
func (sm *StateManager) DispatchBar(bar models.Bar) {
	sm.DispatchEvent(NormalizedEvent{Type: BarClosedEvent, Timestamp: time.Now(), Data: bar})
}

// NextIndex returns the index the next appended bar must carry.
func (sm *StateManager) NextIndex() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.tracker.Len()
}

// RunID returns the identifier of the current run.
func (sm *StateManager) RunID() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.runID
}

// LatestSnapshot returns the state after the most recent bar.
func (sm *StateManager) LatestSnapshot() (models.BarSnapshot, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.tracker.Snapshot(sm.tracker.Len() - 1)
}

// Snapshots returns a copy of the per-bar history.
func (sm *StateManager) Snapshots() []models.BarSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.tracker.Snapshots()
}

// Trades returns a copy of the completed trades.
func (sm *StateManager) Trades() []models.CompletedTrade {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.tracker.Trades()
}

// Report builds the statistics for the bars seen so far.
func (sm *StateManager) Report() (models.Report, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.tracker.Report()
}

// Finalize writes the summary to the tracker's sink.
func (sm *StateManager) Finalize() (models.Report, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.tracker.Finalize()
}

// GetStateSnapshot returns a deep copy of the checkpoint for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.StrategyState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.checkpoint()
}

// SaveCheckpoint writes the current state synchronously.
func (sm *StateManager) SaveCheckpoint() error {
	if sm.repo == nil {
		return nil
	}
	return sm.repo.SaveState(sm.GetStateSnapshot())
}

// checkpoint 构造检查点；Bars 为拷贝，调用方需持有锁
func (sm *StateManager) checkpoint() *models.StrategyState {
	st := sm.tracker.State()
	return &models.StrategyState{
		RunID:          sm.runID,
		Symbol:         sm.symbol,
		Version:        models.StateVersion,
		Config:         sm.tracker.Config(),
		Bars:           sm.tracker.Bars(),
		Position:       st.Position,
		EntryPrice:     st.EntryPrice,
		Stats:          st.Stats,
		LastUpdateTime: sm.lastUpdate,
	}
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			// 处理停止前已入队的事件，最终检查点需要包含它们
			for {
				select {
				case event := <-sm.eventChannel:
					sm.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of checkpoints.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			if sm.repo != nil {
				if err := sm.repo.SaveState(stateToSave); err != nil {
					sm.logger.Error("CRITICAL: failed to save checkpoint", zap.Error(err))
				}
			}
		case <-sm.stopChan:
			return
		}
	}
}

// processEvent mutates the tracker and queues a checkpoint.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	var (
		changed []models.CompletedTrade
		fromSeq int
		resync  bool
	)

	sm.mu.Lock()
	switch event.Type {
	case BarClosedEvent:
		bar, ok := event.Data.(models.Bar)
		if !ok {
			sm.mu.Unlock()
			sm.logger.Warn("BarClosedEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		// 修订已处理的K线会截断交易记录，之后的记录需要重写
		resync = bar.Index < sm.tracker.Len()
		fromSeq = sm.tracker.TradesBefore(bar.Index)
		if _, err := sm.tracker.ProcessBar(bar); err != nil {
			sm.mu.Unlock()
			sm.logger.Error("failed to process bar", zap.Int("index", bar.Index), zap.Error(err))
			return
		}
		if trades := sm.tracker.Trades(); len(trades) > fromSeq {
			changed = trades[fromSeq:]
		}
	case ResetEvent:
		cfg, ok := event.Data.(models.StrategyConfig)
		if !ok {
			sm.mu.Unlock()
			sm.logger.Warn("ResetEvent with unexpected data type", zap.String("type", fmt.Sprintf("%T", event.Data)))
			return
		}
		if err := sm.tracker.Initialize(cfg); err != nil {
			sm.mu.Unlock()
			sm.logger.Error("failed to reset tracker", zap.Error(err))
			return
		}
		// 交易记录清空
		fromSeq, resync = 0, true
		sm.logger.Info("tracker has been reset.")
	default:
		sm.mu.Unlock()
		sm.logger.Warn("unknown event type", zap.Int("type", int(event.Type)))
		return
	}
	sm.lastUpdate = event.Timestamp
	stateCopy := sm.checkpoint()
	sm.mu.Unlock()

	if sm.onTrades != nil && (resync || len(changed) > 0) {
		sm.onTrades(fromSeq, changed)
	}

	select {
	case sm.persistenceChan <- stateCopy:
	case <-sm.stopChan:
	}
}
