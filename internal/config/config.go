package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ma-crossover-bot-go/internal/models"
	"ma-crossover-bot-go/internal/strategy"

	"gopkg.in/yaml.v3"
)

// 默认参数
const (
	DefaultEntryPeriod = 20
	DefaultExitPeriod  = 10
	DefaultInterval    = "1m"
	DefaultLiveWSURL   = "wss://stream.binance.com:9443"
	DefaultStatusCron  = "@every 1m"
)

// LoadConfig 从指定路径加载配置文件 (.json 或 .yaml/.yml)，
// 依次应用默认值、环境变量覆盖，最后校验。
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	ApplyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.LiveWSURL == "" {
		cfg.LiveWSURL = DefaultLiveWSURL
	}
	if cfg.StatusCron == "" {
		cfg.StatusCron = DefaultStatusCron
	}
	if cfg.Strategy.EntryPeriod == 0 {
		cfg.Strategy.EntryPeriod = DefaultEntryPeriod
	}
	if cfg.Strategy.ExitPeriod == 0 {
		cfg.Strategy.ExitPeriod = DefaultExitPeriod
	}
	if cfg.Strategy.WarmupMode == "" {
		cfg.Strategy.WarmupMode = models.WarmupZero
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
	if cfg.WebSocketPingIntervalSec == 0 {
		cfg.WebSocketPingIntervalSec = 54
	}
	if cfg.WebSocketPongTimeoutSec == 0 {
		cfg.WebSocketPongTimeoutSec = 60
	}
	if cfg.ReconnectDelaySec == 0 {
		cfg.ReconnectDelaySec = 5
	}
}

// applyEnvOverrides 用环境变量覆盖配置文件中的值
func applyEnvOverrides(cfg *models.Config) error {
	if v := os.Getenv("MA_SYMBOL"); v != "" {
		cfg.Symbol = v
	}
	if v := os.Getenv("MA_INTERVAL"); v != "" {
		cfg.Interval = v
	}
	if v := os.Getenv("MA_STATE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MA_JOURNAL_DB"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("MA_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MA_LOG_LEVEL"); v != "" {
		cfg.LogConfig.Level = v
	}
	if v := os.Getenv("MA_WARMUP_MODE"); v != "" {
		cfg.Strategy.WarmupMode = models.WarmupMode(v)
	}
	if v := os.Getenv("MA_ENTRY_PERIOD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MA_ENTRY_PERIOD=%q 不是整数: %w", v, err)
		}
		cfg.Strategy.EntryPeriod = n
	}
	if v := os.Getenv("MA_EXIT_PERIOD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MA_EXIT_PERIOD=%q 不是整数: %w", v, err)
		}
		cfg.Strategy.ExitPeriod = n
	}
	return nil
}

// Validate 校验配置
func Validate(cfg *models.Config) error {
	if err := strategy.ValidateConfig(cfg.Strategy); err != nil {
		return fmt.Errorf("策略参数无效: %w", err)
	}
	if cfg.Symbol != "" && strings.ContainsAny(cfg.Symbol, " /") {
		return fmt.Errorf("交易对格式无效: %q", cfg.Symbol)
	}
	return nil
}
