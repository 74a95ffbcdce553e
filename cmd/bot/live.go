package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ma-crossover-bot-go/internal/feed"
	"ma-crossover-bot-go/internal/httpapi"
	"ma-crossover-bot-go/internal/logger"
	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/persistence"
	"ma-crossover-bot-go/internal/reporter"
	"ma-crossover-bot-go/internal/statemanager"
	"ma-crossover-bot-go/internal/storage"
	"ma-crossover-bot-go/internal/strategy"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runLiveMode 订阅实时K线运行策略，直到收到中断信号
func runLiveMode(cfg *models.Config) error {
	logger.S().Info("--- 启动实时模式 ---")
	if cfg.Symbol == "" {
		return errors.New("实时模式需要在配置或 -symbol 参数中指定交易对")
	}
	log := logger.L().With(zap.String("symbol", cfg.Symbol))

	// --- 检查点仓库 ---
	var repo persistence.StateRepository
	var err error
	if cfg.DBPath != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
	} else {
		log.Warn("未配置 db_path，检查点只保存在内存中")
		repo, err = persistence.NewInMemoryRepository()
	}
	if err != nil {
		return fmt.Errorf("打开检查点数据库失败: %w", err)
	}
	defer repo.Close()

	memSink := strategy.NewMemorySink(500)
	sink := strategy.MultiSink{logger.NewZapSink(log), memSink}
	tracker := strategy.NewTracker(sink, log)
	if err := tracker.Initialize(cfg.Strategy); err != nil {
		return err
	}
	sm := statemanager.NewStateManager(tracker, storage.NewRunID(), cfg.Symbol, repo, log)

	// --- 从检查点恢复 ---
	state, err := repo.LoadState()
	if err != nil {
		return fmt.Errorf("读取检查点失败: %w", err)
	}
	if resumable(state, cfg) {
		if err := sm.Restore(state); err != nil {
			log.Warn("检查点恢复失败，将以全新状态启动", zap.Error(err))
			if err := tracker.Initialize(cfg.Strategy); err != nil {
				return err
			}
		}
	} else if state != nil {
		log.Info("检查点与当前配置不符，将以全新状态启动",
			zap.String("checkpoint_symbol", state.Symbol))
	}

	// --- 交易日志 ---
	var journal *sql.DB
	if cfg.JournalPath != "" {
		journal, err = openLiveJournal(cfg, sm.RunID())
		if err != nil {
			return err
		}
		defer journal.Close()
		attachJournal(sm, journal, log)
	}

	sm.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 定时打印状态 ---
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.StatusCron, func() { printStatus(sm, log) }); err != nil {
		sm.Stop()
		return fmt.Errorf("无效的 status_cron %q: %w", cfg.StatusCron, err)
	}
	scheduler.Start()

	// --- HTTP 接口 ---
	var server *httpapi.Server
	if cfg.HTTPAddr != "" {
		server = httpapi.NewServer(cfg.HTTPAddr, sm, memSink, log)
		server.Start()
	}

	// --- K线流 ---
	stream := feed.NewKlineStream(cfg.LiveWSURL, cfg.Symbol, cfg.Interval, feed.StreamConfig{
		PingInterval:   time.Duration(cfg.WebSocketPingIntervalSec) * time.Second,
		PongTimeout:    time.Duration(cfg.WebSocketPongTimeoutSec) * time.Second,
		ReconnectDelay: time.Duration(cfg.ReconnectDelaySec) * time.Second,
	}, log)

	// 序号由这里分配，事件循环可能尚未处理完上一根K线
	nextIndex := sm.NextIndex()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stream.Run(ctx, func(bar models.Bar) {
			bar.Index = nextIndex
			nextIndex++
			sm.DispatchBar(bar)
		})
	}()

	<-ctx.Done()
	log.Info("收到退出信号，正在停止...")

	wg.Wait()
	<-scheduler.Stop().Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server forced to shutdown", zap.Error(err))
		}
		cancel()
	}

	// 停止状态管理器会写入最终检查点
	sm.Stop()

	report, err := sm.Report()
	if errors.Is(err, strategy.ErrNoBars) {
		log.Info("未处理任何K线，退出。")
		return nil
	}
	if err != nil {
		return err
	}
	reporter.GenerateReport(sink, report, sm.Trades())
	if journal != nil {
		if err := storage.FinishRun(journal, sm.RunID(), report, time.Now()); err != nil {
			log.Error("写入运行统计失败", zap.Error(err))
		}
	}
	log.Info("已成功停止，检查点已保存。")
	return nil
}

// resumable 判断检查点是否属于当前交易对和策略参数
func resumable(state *models.StrategyState, cfg *models.Config) bool {
	if state == nil {
		return false
	}
	return state.Symbol == cfg.Symbol && state.Config == cfg.Strategy
}

// openLiveJournal 打开交易日志，恢复的运行沿用原有记录
func openLiveJournal(cfg *models.Config, runID string) (*sql.DB, error) {
	db, err := storage.InitDB(cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	_, err = storage.LoadRun(db, runID)
	if errors.Is(err, sql.ErrNoRows) {
		err = storage.CreateRun(db, storage.RunRecord{
			ID:        runID,
			Symbol:    cfg.Symbol,
			Mode:      "live",
			Config:    cfg.Strategy,
			StartedAt: time.Now(),
		})
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// attachJournal 让交易日志跟随策略的交易记录：新交易追加，K线修订或重置时重写尾部
func attachJournal(sm *statemanager.StateManager, db *sql.DB, log *zap.Logger) {
	runID := sm.RunID()
	seq, err := storage.CountTrades(db, runID)
	if err != nil {
		log.Error("读取交易日志失败", zap.Error(err))
	}
	// 恢复后检查点与日志条数不一致时，以检查点为准
	if trades := sm.Trades(); err == nil && len(trades) != seq {
		from := min(seq, len(trades))
		if err := storage.ReplaceTradesFrom(db, runID, from, trades[from:]); err != nil {
			log.Error("同步交易日志失败", zap.Error(err))
		}
	}
	sm.OnTrades(func(fromSeq int, trades []models.CompletedTrade) {
		if err := storage.ReplaceTradesFrom(db, runID, fromSeq, trades); err != nil {
			log.Error("写入交易日志失败", zap.Int("from_seq", fromSeq), zap.Error(err))
		}
	})
}

// printStatus 打印当前状态
func printStatus(sm *statemanager.StateManager, log *zap.Logger) {
	snap, ok := sm.LatestSnapshot()
	if !ok {
		log.Info("等待第一根K线...")
		return
	}
	log.Info("========== 策略状态 ==========",
		zap.Int("bar", snap.Index),
		zap.Time("bar_time", snap.Time),
		zap.Float64("close", snap.Close),
		zap.Float64("entry_ma", snap.EntryMA),
		zap.Float64("exit_ma", snap.ExitMA),
		zap.Stringer("position", snap.Position),
		zap.Float64("entry_price", snap.EntryPrice),
		zap.Int("trades", snap.Stats.TotalTrades),
		zap.String("net_profit", snap.Stats.NetProfit.StringFixed(2)))
}
