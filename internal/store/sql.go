package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// dialect holds the statements that differ between drivers.
type dialect struct {
	name        string
	schema      string
	upsertDaily string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// sqlStore implements Store on database/sql. SQLiteStore and PostgresStore
// differ only in dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dbError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrDatabaseError, err)
}

// SetClock replaces the time source used for the daily rollup.
func (s *sqlStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return dbError("ping "+s.dialect.name, err)
	}
	return nil
}

// RecordTrade upserts a trade by trade ID.
func (s *sqlStore) RecordTrade(ctx context.Context, t models.TradeRecord) error {
	var exit sql.NullFloat64
	if t.ExitPrice != nil {
		exit = sql.NullFloat64{Float64: *t.ExitPrice, Valid: true}
	}
	var closedAt sql.NullTime
	if t.ClosedAt != nil {
		closedAt = sql.NullTime{Time: t.ClosedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO trades (trade_id, symbol, side, quantity, entry_price, stop_price, take_profit_price, exit_price, profit_loss, state, order_id, timestamp, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			quantity = excluded.quantity,
			exit_price = excluded.exit_price,
			profit_loss = excluded.profit_loss,
			state = excluded.state,
			closed_at = excluded.closed_at
	`), t.ID, t.Symbol, string(t.Side), t.Quantity, t.EntryPrice, t.StopPrice, t.TakeProfitPrice,
		exit, t.ProfitLoss, string(t.State), t.OrderID, t.OpenedAt.UTC(), closedAt)
	if err != nil {
		return dbError("record trade "+t.ID, err)
	}
	return nil
}

type aggregate struct {
	total   int
	winning int
	profit  float64
	minPL   float64
	avgPL   float64
}

// aggregateClosed summarises trades closed in [since, until).
func (s *sqlStore) aggregateClosed(ctx context.Context, symbol string, since, until time.Time) (aggregate, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN profit_loss > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(profit_loss), 0),
			COALESCE(MIN(profit_loss), 0),
			COALESCE(AVG(profit_loss), 0)
		FROM trades
		WHERE exit_price IS NOT NULL AND closed_at >= ? AND closed_at < ?`
	args := []interface{}{since.UTC(), until.UTC()}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}

	var a aggregate
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&a.total, &a.winning, &a.profit, &a.minPL, &a.avgPL)
	if err != nil {
		return aggregate{}, dbError("aggregate trades", err)
	}
	return a, nil
}

// UpdateDailyPerformance replaces today's rollup.
func (s *sqlStore) UpdateDailyPerformance(ctx context.Context, capitalEnd float64) error {
	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	a, err := s.aggregateClosed(ctx, "", day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(s.dialect.upsertDaily),
		day.Format("2006-01-02"), a.total, a.winning, a.profit, a.minPL, capitalEnd)
	if err != nil {
		return dbError("update daily performance", err)
	}
	return nil
}

// GetPerformanceMetrics summarises closed trades of the last days days.
func (s *sqlStore) GetPerformanceMetrics(ctx context.Context, symbol string, days int) (models.PerformanceSummary, error) {
	if days <= 0 {
		days = DefaultPerformanceDays
	}
	now := s.now()
	a, err := s.aggregateClosed(ctx, symbol, now.AddDate(0, 0, -days), now.Add(time.Second))
	if err != nil {
		return models.PerformanceSummary{}, err
	}
	return models.PerformanceSummary{
		Symbol:             symbol,
		Days:               days,
		TotalTrades:        a.total,
		WinningTrades:      a.winning,
		TotalProfit:        a.profit,
		MaxDrawdown:        a.minPL,
		AverageTradeProfit: a.avgPL,
	}, nil
}

// GetTrades returns trades newest first.
func (s *sqlStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := `SELECT trade_id, symbol, side, quantity, entry_price, stop_price, take_profit_price, exit_price, profit_loss, state, order_id, timestamp, closed_at FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.OnlyClosed {
		query += " AND exit_price IS NOT NULL"
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, dbError("query trades", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var (
			t        models.TradeRecord
			side     string
			state    string
			orderID  sql.NullString
			stop     sql.NullFloat64
			target   sql.NullFloat64
			exit     sql.NullFloat64
			closedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &stop, &target, &exit, &t.ProfitLoss, &state, &orderID, &t.OpenedAt, &closedAt); err != nil {
			return nil, dbError("scan trade", err)
		}
		t.Side = models.Side(side)
		t.State = models.TradeState(state)
		t.OrderID = orderID.String
		t.StopPrice = stop.Float64
		t.TakeProfitPrice = target.Float64
		if exit.Valid {
			v := exit.Float64
			t.ExitPrice = &v
		}
		if closedAt.Valid {
			v := closedAt.Time
			t.ClosedAt = &v
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate trades", err)
	}
	return trades, nil
}

// GetDailyPerformance returns the rollups of the last days days, newest first.
func (s *sqlStore) GetDailyPerformance(ctx context.Context, days int) ([]models.DailyPerformance, error) {
	if days <= 0 {
		days = DefaultPerformanceDays
	}
	since := s.now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT date, total_trades, winning_trades, total_profit, max_drawdown, capital_end
		FROM daily_performance
		WHERE date >= ?
		ORDER BY date DESC
	`), since)
	if err != nil {
		return nil, dbError("query daily performance", err)
	}
	defer rows.Close()

	var out []models.DailyPerformance
	for rows.Next() {
		var d models.DailyPerformance
		var date time.Time
		if err := rows.Scan(&date, &d.TotalTrades, &d.WinningTrades, &d.TotalProfit, &d.MaxDrawdown, &d.CapitalEnd); err != nil {
			return nil, dbError("scan daily performance", err)
		}
		d.Date = date.Format("2006-01-02")
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate daily performance", err)
	}
	return out, nil
}
