package storage

import (
	"database/sql"
	"fmt"
	"time"

	"ma-crossover-bot-go/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// RunRecord 是 runs 表中的一行
type RunRecord struct {
	ID         string
	Symbol     string
	Mode       string
	Config     models.StrategyConfig
	StartedAt  time.Time
	FinishedAt time.Time // 未结束时为零值
	Report     models.Report
}

// Finished 判断该次运行是否已写入最终统计
func (r RunRecord) Finished() bool { return !r.FinishedAt.IsZero() }

// NewRunID 生成一个短的运行标识 (UUID 的 base62 编码)
func NewRunID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

// InitDB initializes the journal database and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
// 时间统一存为 Unix 毫秒，金额存为十进制字符串。
func createTables(db *sql.DB) error {
	createRunsTableSQL := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		entry_period INTEGER NOT NULL,
		exit_period INTEGER NOT NULL,
		warmup_mode TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		range_start INTEGER NOT NULL DEFAULT 0,
		range_end INTEGER NOT NULL DEFAULT 0,
		bars INTEGER NOT NULL DEFAULT 0,
		total_trades INTEGER NOT NULL DEFAULT 0,
		winning_trades INTEGER NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		total_profit TEXT NOT NULL DEFAULT '0',
		total_loss TEXT NOT NULL DEFAULT '0',
		profit_factor REAL NOT NULL DEFAULT 0,
		net_profit TEXT NOT NULL DEFAULT '0',
		position INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := db.Exec(createRunsTableSQL); err != nil {
		return err
	}

	// 每次运行中完成的交易，seq 为该运行内的顺序号
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		side INTEGER NOT NULL,
		entry_index INTEGER NOT NULL,
		exit_index INTEGER NOT NULL,
		entry_time INTEGER NOT NULL,
		exit_time INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		profit TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}
	return nil
}

// CreateRun inserts a new run row.
func CreateRun(db *sql.DB, run RunRecord) error {
	query := `
	INSERT INTO runs (id, symbol, mode, entry_period, exit_period, warmup_mode, started_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Exec(query,
		run.ID, run.Symbol, run.Mode,
		run.Config.EntryPeriod, run.Config.ExitPeriod, string(run.Config.WarmupMode),
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// SaveTrades writes trades for a run starting at sequence number firstSeq.
// Existing rows with the same sequence number are replaced.
func SaveTrades(db *sql.DB, runID string, firstSeq int, trades []models.CompletedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	return writeTrades(db, runID, firstSeq, trades, false)
}

// ReplaceTradesFrom makes the journal of a run from sequence number firstSeq on
// equal to trades: later rows are deleted and the new ones written in the same
// transaction. Used when a revised bar rewrites the end of the ledger.
func ReplaceTradesFrom(db *sql.DB, runID string, firstSeq int, trades []models.CompletedTrade) error {
	return writeTrades(db, runID, firstSeq, trades, true)
}

func writeTrades(db *sql.DB, runID string, firstSeq int, trades []models.CompletedTrade, truncate bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if truncate {
		if _, err := tx.Exec(`DELETE FROM trades WHERE run_id = ? AND seq >= ?`, runID, firstSeq); err != nil {
			return fmt.Errorf("failed to delete trades from %d of run %s: %w", firstSeq, runID, err)
		}
	}

	stmt, err := tx.Prepare(`
	INSERT OR REPLACE INTO trades (run_id, seq, side, entry_index, exit_index, entry_time, exit_time, entry_price, exit_price, profit)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for i, tr := range trades {
		if _, err := stmt.Exec(
			runID, firstSeq+i, int(tr.Side), tr.EntryIndex, tr.ExitIndex,
			tr.EntryTime.UnixMilli(), tr.ExitTime.UnixMilli(),
			tr.EntryPrice, tr.ExitPrice, tr.Profit.String(),
		); err != nil {
			return fmt.Errorf("failed to insert trade %d of run %s: %w", firstSeq+i, runID, err)
		}
	}
	return tx.Commit()
}

// CountTrades returns how many trades have been journaled for a run.
func CountTrades(db *sql.DB, runID string) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM trades WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// FinishRun stores the final report of a run.
func FinishRun(db *sql.DB, runID string, r models.Report, finishedAt time.Time) error {
	query := `
	UPDATE runs SET
		finished_at = ?, range_start = ?, range_end = ?, bars = ?,
		total_trades = ?, winning_trades = ?, win_rate = ?,
		total_profit = ?, total_loss = ?, profit_factor = ?, net_profit = ?, position = ?
	WHERE id = ?`

	res, err := db.Exec(query,
		finishedAt.UnixMilli(), r.StartTime.UnixMilli(), r.EndTime.UnixMilli(), r.Bars,
		r.TotalTrades, r.WinningTrades, r.WinRate,
		r.TotalProfit.String(), r.TotalLoss.String(), r.ProfitFactor, r.NetProfit.String(), int(r.Position),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// LoadRun retrieves a run by id. It returns sql.ErrNoRows if not found.
func LoadRun(db *sql.DB, runID string) (*RunRecord, error) {
	query := `
	SELECT id, symbol, mode, entry_period, exit_period, warmup_mode, started_at, finished_at,
		range_start, range_end, bars, total_trades, winning_trades, win_rate,
		total_profit, total_loss, profit_factor, net_profit, position
	FROM runs WHERE id = ?`

	var (
		run                               RunRecord
		warmup                            string
		startedAt, finishedAt             int64
		rangeStart, rangeEnd              int64
		totalProfit, totalLoss, netProfit string
		position                          int
	)
	err := db.QueryRow(query, runID).Scan(
		&run.ID, &run.Symbol, &run.Mode, &run.Config.EntryPeriod, &run.Config.ExitPeriod, &warmup,
		&startedAt, &finishedAt, &rangeStart, &rangeEnd,
		&run.Report.Bars, &run.Report.TotalTrades, &run.Report.WinningTrades, &run.Report.WinRate,
		&totalProfit, &totalLoss, &run.Report.ProfitFactor, &netProfit, &position,
	)
	if err != nil {
		return nil, err
	}

	run.Config.WarmupMode = models.WarmupMode(warmup)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt != 0 {
		run.FinishedAt = time.UnixMilli(finishedAt).UTC()
		run.Report.StartTime = time.UnixMilli(rangeStart).UTC()
		run.Report.EndTime = time.UnixMilli(rangeEnd).UTC()
	}
	run.Report.LosingTrades = run.Report.TotalTrades - run.Report.WinningTrades
	run.Report.Position = models.Position(position)
	if run.Report.TotalProfit, err = decimal.NewFromString(totalProfit); err != nil {
		return nil, fmt.Errorf("run %s total_profit: %w", runID, err)
	}
	if run.Report.TotalLoss, err = decimal.NewFromString(totalLoss); err != nil {
		return nil, fmt.Errorf("run %s total_loss: %w", runID, err)
	}
	if run.Report.NetProfit, err = decimal.NewFromString(netProfit); err != nil {
		return nil, fmt.Errorf("run %s net_profit: %w", runID, err)
	}
	return &run, nil
}

// ListTrades returns the journaled trades of a run in sequence order.
func ListTrades(db *sql.DB, runID string) ([]models.CompletedTrade, error) {
	query := `
	SELECT side, entry_index, exit_index, entry_time, exit_time, entry_price, exit_price, profit
	FROM trades WHERE run_id = ? ORDER BY seq`

	rows, err := db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.CompletedTrade
	for rows.Next() {
		var (
			tr                  models.CompletedTrade
			side                int
			entryTime, exitTime int64
			profit              string
		)
		if err := rows.Scan(&side, &tr.EntryIndex, &tr.ExitIndex, &entryTime, &exitTime,
			&tr.EntryPrice, &tr.ExitPrice, &profit); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		tr.Side = models.Position(side)
		tr.EntryTime = time.UnixMilli(entryTime).UTC()
		tr.ExitTime = time.UnixMilli(exitTime).UTC()
		tr.HoldDuration = tr.ExitTime.Sub(tr.EntryTime)
		if tr.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("failed to parse trade profit %q: %w", profit, err)
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}
