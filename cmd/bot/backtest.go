package main

import (
	"fmt"
	"time"

	"ma-crossover-bot-go/internal/export"
	"ma-crossover-bot-go/internal/feed"
	"ma-crossover-bot-go/internal/logger"
	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/reporter"
	"ma-crossover-bot-go/internal/storage"
	"ma-crossover-bot-go/internal/strategy"

	"go.uber.org/zap"
)

// backtestResult 汇总一次回测的输出
type backtestResult struct {
	RunID  string
	Report models.Report
	Trades []models.CompletedTrade
}

// runBacktestMode 读取历史数据并运行回测
func runBacktestMode(cfg *models.Config, dataPath string, opts cliOptions) (*backtestResult, error) {
	logger.S().Info("--- 启动回测模式 ---")

	if cfg.Symbol == "" {
		cfg.Symbol = extractSymbolFromPath(dataPath)
	}

	bars, err := feed.LoadCSV(dataPath, logger.L())
	if err != nil {
		return nil, fmt.Errorf("无法加载历史数据 %s: %w", dataPath, err)
	}
	logger.L().Info("历史数据已加载", zap.String("file", dataPath), zap.Int("bars", len(bars)))

	return runBacktest(cfg, bars, opts, logger.NewZapSink(logger.L()), logger.L())
}

// runBacktest 依次处理全部K线，输出报告并按配置写入交易日志和导出文件
func runBacktest(cfg *models.Config, bars []models.Bar, opts cliOptions, sink strategy.LogSink, log *zap.Logger) (*backtestResult, error) {
	tracker := strategy.NewTracker(sink, log)
	if err := tracker.Initialize(cfg.Strategy); err != nil {
		return nil, err
	}

	for _, bar := range bars {
		if _, err := tracker.ProcessBar(bar); err != nil {
			return nil, err
		}
	}
	log.Info("回测结束。")

	report, err := tracker.Report()
	if err != nil {
		return nil, err
	}
	trades := tracker.Trades()
	reporter.GenerateReport(sink, report, trades)

	res := &backtestResult{RunID: storage.NewRunID(), Report: report, Trades: trades}

	if cfg.JournalPath != "" {
		if err := journalBacktest(cfg, res); err != nil {
			return nil, err
		}
		log.Info("回测结果已写入交易日志", zap.String("journal", cfg.JournalPath), zap.String("run_id", res.RunID))
	}
	if opts.seriesPath != "" {
		if err := export.WriteSeriesParquet(opts.seriesPath, tracker.Snapshots()); err != nil {
			return nil, fmt.Errorf("导出逐K线数据失败: %w", err)
		}
		log.Info("逐K线数据已导出", zap.String("file", opts.seriesPath))
	}
	if opts.tradesPath != "" {
		if err := export.WriteTradesCSVFile(opts.tradesPath, trades); err != nil {
			return nil, fmt.Errorf("导出交易明细失败: %w", err)
		}
		log.Info("交易明细已导出", zap.String("file", opts.tradesPath))
	}
	return res, nil
}

func journalBacktest(cfg *models.Config, res *backtestResult) error {
	db, err := storage.InitDB(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer db.Close()

	run := storage.RunRecord{
		ID:        res.RunID,
		Symbol:    cfg.Symbol,
		Mode:      "backtest",
		Config:    cfg.Strategy,
		StartedAt: time.Now(),
	}
	if err := storage.CreateRun(db, run); err != nil {
		return err
	}
	if err := storage.SaveTrades(db, run.ID, 0, res.Trades); err != nil {
		return err
	}
	return storage.FinishRun(db, run.ID, res.Report, time.Now())
}
