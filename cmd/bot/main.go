package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ma-crossover-bot-go/internal/config"
	"ma-crossover-bot-go/internal/downloader"
	"ma-crossover-bot-go/internal/logger"
	"ma-crossover-bot-go/internal/models"

	"github.com/joho/godotenv"
)

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ToUpper(strings.Split(name, "-")[0])
}

// cliOptions 是命令行参数
type cliOptions struct {
	configPath string
	mode       string
	dataPath   string
	symbol     string
	startDate  string
	endDate    string
	seriesPath string
	tradesPath string
	journal    string
}

func main() {
	// --- 命令行参数定义 ---
	var opts cliOptions
	flag.StringVar(&opts.configPath, "config", "config.json", "path to the config file (.json or .yaml)")
	flag.StringVar(&opts.mode, "mode", "backtest", "running mode: backtest, live or download")
	flag.StringVar(&opts.dataPath, "data", "", "path to historical kline CSV for backtesting")
	flag.StringVar(&opts.symbol, "symbol", "", "symbol to download/backtest (e.g., BNBUSDT)")
	flag.StringVar(&opts.startDate, "start", "", "start date for downloading (YYYY-MM-DD)")
	flag.StringVar(&opts.endDate, "end", "", "end date for downloading (YYYY-MM-DD)")
	flag.StringVar(&opts.seriesPath, "series", "", "write the per-bar series to this parquet file")
	flag.StringVar(&opts.tradesPath, "trades", "", "write the trade ledger to this CSV file")
	flag.StringVar(&opts.journal, "journal", "", "SQLite trade journal path (overrides journal_path)")
	flag.Parse()

	// 先用默认配置初始化日志，加载配置后再重新初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	if opts.symbol != "" {
		cfg.Symbol = strings.ToUpper(opts.symbol)
	}
	if opts.journal != "" {
		cfg.JournalPath = opts.journal
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch opts.mode {
	case "backtest":
		dataPath, err := resolveDataPath(cfg, opts)
		if err != nil {
			logger.S().Fatal(err)
		}
		if _, err := runBacktestMode(cfg, dataPath, opts); err != nil {
			logger.S().Fatalf("回测失败: %v", err)
		}
	case "live":
		if err := runLiveMode(cfg); err != nil {
			logger.S().Fatalf("实时模式异常退出: %v", err)
		}
	case "download":
		path, err := downloadData(cfg, opts)
		if err != nil {
			logger.S().Fatal(err)
		}
		logger.S().Infof("数据已保存到 %s", path)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'backtest', 'live' 或 'download'。", opts.mode)
	}
}

// resolveDataPath 决定回测使用的数据文件；给出了 symbol/start/end 时先下载
func resolveDataPath(cfg *models.Config, opts cliOptions) (string, error) {
	if opts.symbol != "" && opts.startDate != "" && opts.endDate != "" {
		return downloadData(cfg, opts)
	}
	if opts.dataPath == "" {
		return "", fmt.Errorf("回测模式需要通过 -data 或 -symbol/-start/-end 参数指定数据源")
	}
	return opts.dataPath, nil
}

// downloadData 下载K线到 data/<SYMBOL>-<start>-<end>.csv，已存在则直接使用缓存
func downloadData(cfg *models.Config, opts cliOptions) (string, error) {
	if cfg.Symbol == "" || opts.startDate == "" || opts.endDate == "" {
		return "", fmt.Errorf("下载数据需要 -symbol, -start 和 -end 参数")
	}
	startTime, err1 := time.Parse("2006-01-02", opts.startDate)
	endTime, err2 := time.Parse("2006-01-02", opts.endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	if !endTime.After(startTime) {
		return "", fmt.Errorf("结束日期必须晚于开始日期")
	}

	fileName := filepath.Join("data", fmt.Sprintf("%s-%s-%s.csv", cfg.Symbol, opts.startDate, opts.endDate))
	d := downloader.NewKlineDownloader(logger.L())
	if err := d.DownloadKlines(context.Background(), cfg.Symbol, cfg.Interval, fileName, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return fileName, nil
}
