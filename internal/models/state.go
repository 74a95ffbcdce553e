package models

import "time"

// StateVersion 是检查点结构的版本号，用于未来迁移
const StateVersion = 1

// StrategyState 定义了需要持久化的策略检查点。
// 恢复时按顺序重放 Bars，得到与中断前完全一致的状态。
type StrategyState struct {
	RunID          string         `json:"run_id"`           // 运行的唯一标识符
	Symbol         string         `json:"symbol"`           // 交易对, e.g., "BTCUSDT"
	Version        int            `json:"version"`          // 检查点结构版本号
	Config         StrategyConfig `json:"config"`           // 策略参数 (运行期间不变)
	Bars           []Bar          `json:"bars"`             // 已处理的K线序列
	Position       Position       `json:"position"`         // 保存时的持仓方向，恢复后用于校验
	EntryPrice     float64        `json:"entry_price"`      // 保存时的开仓价格
	Stats          TradeStats     `json:"stats"`            // 保存时的累计统计，恢复后用于校验
	LastUpdateTime time.Time      `json:"last_update_time"` // 状态最后更新的时间戳
}
