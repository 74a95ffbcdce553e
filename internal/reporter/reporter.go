package reporter

import (
	"fmt"
	"strings"

	"ma-crossover-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Sink 接收格式化好的日志文本
type Sink interface {
	AddMessage(text string)
}

const (
	eventTimeLayout   = "2006-01-02 15:04:05"
	summaryTimeLayout = "2006-01-02 15:04"
)

// FormatEvent 生成单次开平仓的日志文本。盈亏为 0 时不输出盈亏行 (开仓事件总是如此)。
func FormatEvent(ev models.TradeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ev.Action)
	fmt.Fprintf(&b, "time: %s\n", ev.Time.Format(eventTimeLayout))
	fmt.Fprintf(&b, "price: %.2f", ev.Price)
	if !ev.Profit.IsZero() {
		fmt.Fprintf(&b, "\nprofit: %s", ev.Profit.StringFixed(2))
	}
	return b.String()
}

// FormatSummary 生成序列结束时的统计文本
func FormatSummary(r models.Report) string {
	var b strings.Builder
	b.WriteString("\n=== Strategy Statistics ===\n")
	b.WriteString("Backtesting time range:\n")
	fmt.Fprintf(&b, "  Start: %s\n", r.StartTime.Format(summaryTimeLayout))
	fmt.Fprintf(&b, "  End: %s\n", r.EndTime.Format(summaryTimeLayout))
	fmt.Fprintf(&b, "Total bars: %d\n", r.Bars)
	fmt.Fprintf(&b, "Total trades: %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "Winning trades: %d\n", r.WinningTrades)
	fmt.Fprintf(&b, "Win rate: %.2f%%\n", r.WinRate)
	fmt.Fprintf(&b, "Total profit: %s\n", r.TotalProfit.StringFixed(2))
	fmt.Fprintf(&b, "Total loss: %s\n", r.TotalLoss.StringFixed(2))
	fmt.Fprintf(&b, "Profit factor: %.2f\n", r.ProfitFactor)
	fmt.Fprintf(&b, "Net profit: %s\n", r.NetProfit.StringFixed(2))
	b.WriteString("===============")
	return b.String()
}

// RenderTrades 将交易明细渲染成表格
func RenderTrades(trades []models.CompletedTrade) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Side", "Entry Time", "Entry", "Exit Time", "Exit", "Held", "Profit"})
	for i, tr := range trades {
		t.AppendRow(table.Row{
			i + 1,
			tr.Side.String(),
			tr.EntryTime.Format(summaryTimeLayout),
			fmt.Sprintf("%.2f", tr.EntryPrice),
			tr.ExitTime.Format(summaryTimeLayout),
			fmt.Sprintf("%.2f", tr.ExitPrice),
			tr.HoldDuration.String(),
			tr.Profit.StringFixed(2),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Trades", len(trades)})
	return t.Render()
}

// GenerateReport 把统计摘要和交易明细写入日志输出
func GenerateReport(sink Sink, r models.Report, trades []models.CompletedTrade) {
	sink.AddMessage(FormatSummary(r))
	if len(trades) > 0 {
		sink.AddMessage("\n" + RenderTrades(trades))
	}
}
