package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config 结构体定义了程序的所有配置参数
type Config struct {
	Symbol      string         `json:"symbol" yaml:"symbol"`             // 交易对，如 "BTCUSDT"
	Interval    string         `json:"interval" yaml:"interval"`         // K线周期，如 "1m"
	DBPath      string         `json:"db_path" yaml:"db_path"`           // 策略检查点 (BadgerDB) 目录
	JournalPath string         `json:"journal_path" yaml:"journal_path"` // 交易日志 (SQLite) 文件路径
	HTTPAddr    string         `json:"http_addr" yaml:"http_addr"`       // 图表/状态 HTTP 接口监听地址，留空则不启动
	LiveWSURL   string         `json:"live_ws_url" yaml:"live_ws_url"`   // 实时K线 WebSocket 基础地址
	StatusCron  string         `json:"status_cron" yaml:"status_cron"`   // 实时模式下打印状态的 cron 表达式
	Strategy    StrategyConfig `json:"strategy" yaml:"strategy"`         // 双均线策略参数
	LogConfig   LogConfig      `json:"log" yaml:"log"`                   // 日志配置

	WebSocketPingIntervalSec int `json:"websocket_ping_interval_sec,omitempty" yaml:"websocket_ping_interval_sec,omitempty"` // WebSocket Ping 间隔(秒)
	WebSocketPongTimeoutSec  int `json:"websocket_pong_timeout_sec,omitempty" yaml:"websocket_pong_timeout_sec,omitempty"`   // WebSocket Pong 超时(秒)
	ReconnectDelaySec        int `json:"reconnect_delay_sec,omitempty" yaml:"reconnect_delay_sec,omitempty"`                 // 断线重连等待(秒)
}

// StrategyConfig 定义了双均线策略的输入参数
type StrategyConfig struct {
	EntryPeriod int        `json:"entry_period" yaml:"entry_period"` // 入场(快)均线周期，默认 20
	ExitPeriod  int        `json:"exit_period" yaml:"exit_period"`   // 出场(慢)均线周期，默认 10
	WarmupMode  WarmupMode `json:"warmup_mode" yaml:"warmup_mode"`   // 均线未就绪时的处理方式
}

// WarmupMode 决定均线数据不足时是否仍然执行交易规则
type WarmupMode string

const (
	// WarmupZero 未就绪的均线按 0 参与比较 (默认)
	WarmupZero WarmupMode = "zero"
	// WarmupSkip 两条均线都就绪之前不执行交易规则
	WarmupSkip WarmupMode = "skip"
)

// Valid 判断模式是否受支持
func (m WarmupMode) Valid() bool {
	return m == WarmupZero || m == WarmupSkip
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// Bar 代表一根K线。追加之后不再修改。
type Bar struct {
	Index int       `json:"index"` // 在序列中的序号，从 0 开始
	Time  time.Time `json:"time"`
	Open  float64   `json:"open,omitempty"`
	High  float64   `json:"high,omitempty"`
	Low   float64   `json:"low,omitempty"`
	Close float64   `json:"close"`
}

// Position 定义了持仓方向
type Position int

const (
	Flat  Position = 0
	Long  Position = 1
	Short Position = -1
)

func (p Position) String() string {
	switch p {
	case Long:
		return "long"
	case Short:
		return "short"
	case Flat:
		return "flat"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// TradeAction 是写入日志的开平仓动作
type TradeAction string

const (
	OpenLong   TradeAction = "open long"
	CloseLong  TradeAction = "close long"
	OpenShort  TradeAction = "open short"
	CloseShort TradeAction = "close short"
)

// IsClose 判断该动作是否为平仓
func (a TradeAction) IsClose() bool {
	return a == CloseLong || a == CloseShort
}

// TradeEvent 记录某根K线上触发的一次开仓或平仓
type TradeEvent struct {
	Action TradeAction     `json:"action"`
	Index  int             `json:"index"`
	Time   time.Time       `json:"time"`
	Price  float64         `json:"price"`
	Profit decimal.Decimal `json:"profit"` // 仅平仓事件有意义
}

// CompletedTrade 记录一笔完成的交易（开仓和平仓）
type CompletedTrade struct {
	Side         Position        `json:"side"`
	EntryIndex   int             `json:"entry_index"`
	ExitIndex    int             `json:"exit_index"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	HoldDuration time.Duration   `json:"hold_duration"` // 持仓时长
	EntryPrice   float64         `json:"entry_price"`
	ExitPrice    float64         `json:"exit_price"`
	Profit       decimal.Decimal `json:"profit"` // 单位仓位盈亏
}

// TradeStats 是累计交易统计。除 NetProfit 外只增不减。
type TradeStats struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	TotalProfit   decimal.Decimal `json:"total_profit"` // 盈利交易之和
	TotalLoss     decimal.Decimal `json:"total_loss"`   // 非盈利交易亏损绝对值之和
	NetProfit     decimal.Decimal `json:"net_profit"`   // 全部交易盈亏之和
}

// LosingTrades 返回未盈利的交易数 (包含盈亏为 0 的交易)
func (s TradeStats) LosingTrades() int {
	return s.TotalTrades - s.WinningTrades
}

// BarSnapshot 是处理完某根K线之后的策略状态，用于图表输出和重算校验
type BarSnapshot struct {
	Index      int          `json:"index"`
	Time       time.Time    `json:"time"`
	Close      float64      `json:"close"`
	EntryMA    float64      `json:"entry_ma"`
	ExitMA     float64      `json:"exit_ma"`
	EntryReady bool         `json:"entry_ready"` // 入场均线是否已有足够数据
	ExitReady  bool         `json:"exit_ready"`  // 出场均线是否已有足够数据
	Position   Position     `json:"position"`
	EntryPrice float64      `json:"entry_price"`
	Stats      TradeStats   `json:"stats"`
	Events     []TradeEvent `json:"events,omitempty"`
}

// Report 是序列结束时的统计报告
type Report struct {
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Bars          int             `json:"bars"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       float64         `json:"win_rate"` // 百分比, [0, 100]
	TotalProfit   decimal.Decimal `json:"total_profit"`
	TotalLoss     decimal.Decimal `json:"total_loss"`
	ProfitFactor  float64         `json:"profit_factor"` // TotalLoss 为 0 时为 0
	NetProfit     decimal.Decimal `json:"net_profit"`
	Position      Position        `json:"position"` // 报告时仍持有的仓位
}
