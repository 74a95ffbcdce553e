package strategy

import (
	"ma-crossover-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// RecordTrade folds one realized trade into the running statistics.
// A zero-profit trade counts as a trade but adds nothing to TotalLoss.
func RecordTrade(s *models.TradeStats, profit decimal.Decimal) {
	s.TotalTrades++
	if profit.IsPositive() {
		s.WinningTrades++
		s.TotalProfit = s.TotalProfit.Add(profit)
	} else {
		s.TotalLoss = s.TotalLoss.Sub(profit)
	}
	s.NetProfit = s.NetProfit.Add(profit)
}

// WinRate returns winning/total as a percentage, or 0 with no trades.
func WinRate(s models.TradeStats) float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.TotalTrades) * 100
}

// ProfitFactor returns TotalProfit/TotalLoss. It is 0 whenever TotalLoss is 0,
// including the case of only winning trades.
func ProfitFactor(s models.TradeStats) float64 {
	if !s.TotalLoss.IsPositive() {
		return 0
	}
	return s.TotalProfit.Div(s.TotalLoss).InexactFloat64()
}

// BuildReport assembles the end-of-series report.
func BuildReport(first, last models.Bar, bars int, pos models.Position, s models.TradeStats) models.Report {
	return models.Report{
		StartTime:     first.Time,
		EndTime:       last.Time,
		Bars:          bars,
		TotalTrades:   s.TotalTrades,
		WinningTrades: s.WinningTrades,
		LosingTrades:  s.LosingTrades(),
		WinRate:       WinRate(s),
		TotalProfit:   s.TotalProfit,
		TotalLoss:     s.TotalLoss,
		ProfitFactor:  ProfitFactor(s),
		NetProfit:     s.NetProfit,
		Position:      pos,
	}
}
