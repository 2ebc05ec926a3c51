package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"okx-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based journal store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Signals table: fused and per-source signals with outcome evaluation
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		strength REAL NOT NULL,
		confidence REAL NOT NULL,
		entry_price REAL,
		stop_loss REAL,
		take_profit REAL,
		reason TEXT,
		market_condition TEXT,
		consensus REAL,
		conflict INTEGER DEFAULT 0,
		evaluated INTEGER DEFAULT 0,
		actual_kind TEXT,
		pnl REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Orders table: terminal order tracker snapshots
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		client_order_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		size REAL NOT NULL,
		price REAL,
		state TEXT NOT NULL,
		filled_size REAL DEFAULT 0,
		avg_fill_price REAL DEFAULT 0,
		slippage REAL DEFAULT 0,
		retry_count INTEGER DEFAULT 0,
		submit_time DATETIME NOT NULL,
		last_update DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Risk events table: stop updates, take-profits, emergency exits
	CREATE TABLE IF NOT EXISTS risk_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		stop_price REAL,
		close_size REAL,
		price REAL,
		timestamp DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);
	CREATE INDEX IF NOT EXISTS idx_signals_source ON signals(source);
	CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals(timestamp);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);
	CREATE INDEX IF NOT EXISTS idx_risk_events_position ON risk_events(position_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSignal inserts or replaces a signal record.
func (s *SQLiteStore) SaveSignal(ctx context.Context, record *SignalRecord) error {
	conflict := 0
	if record.Conflict {
		conflict = 1
	}
	evaluated := 0
	if record.Evaluated {
		evaluated = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (id, timestamp, symbol, source, kind, strength, confidence, entry_price, stop_loss, take_profit, reason, market_condition, consensus, conflict, evaluated, actual_kind, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Timestamp, record.Symbol, record.Source,
		string(record.Signal.Kind), record.Signal.Strength, record.Signal.Confidence,
		record.Signal.EntryPrice, record.Signal.StopLoss, record.Signal.TakeProfit,
		record.Signal.Reason, string(record.MarketCondition), record.Consensus,
		conflict, evaluated, string(record.ActualKind), record.PnL)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// GetSignals returns signal records matching the filter, newest first.
func (s *SQLiteStore) GetSignals(ctx context.Context, filter SignalFilter) ([]SignalRecord, error) {
	query := `SELECT id, timestamp, symbol, source, kind, strength, confidence, entry_price, stop_loss, take_profit, reason, market_condition, consensus, conflict, evaluated, actual_kind, pnl FROM signals WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Evaluated != nil {
		query += " AND evaluated = ?"
		if *filter.Evaluated {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var records []SignalRecord
	for rows.Next() {
		var r SignalRecord
		var kind, condition, actualKind string
		var conflict, evaluated int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Symbol, &r.Source,
			&kind, &r.Signal.Strength, &r.Signal.Confidence,
			&r.Signal.EntryPrice, &r.Signal.StopLoss, &r.Signal.TakeProfit,
			&r.Signal.Reason, &condition, &r.Consensus,
			&conflict, &evaluated, &actualKind, &r.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		r.Signal.Kind = models.SignalKind(kind)
		r.MarketCondition = models.MarketCondition(condition)
		r.ActualKind = models.SignalKind(actualKind)
		r.Conflict = conflict == 1
		r.Evaluated = evaluated == 1
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpdateSignalOutcome marks a signal evaluated with the realized direction
// and profit.
func (s *SQLiteStore) UpdateSignalOutcome(ctx context.Context, id string, actual models.SignalKind, pnl float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET evaluated = 1, actual_kind = ?, pnl = ? WHERE id = ?
	`, string(actual), pnl, id)
	if err != nil {
		return fmt.Errorf("failed to update signal outcome: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("signal %s not found", id)
	}
	return nil
}

// GetSignalStats aggregates per-source signal outcomes inside the range.
func (s *SQLiteStore) GetSignalStats(ctx context.Context, dateRange DateRange) (map[string]SourceStats, error) {
	query := `
		SELECT source,
		       COUNT(*) AS total,
		       SUM(evaluated) AS evaluated,
		       SUM(CASE WHEN evaluated = 1 AND actual_kind = kind THEN 1 ELSE 0 END) AS correct,
		       AVG(confidence) AS avg_confidence,
		       COALESCE(SUM(CASE WHEN evaluated = 1 THEN pnl ELSE 0 END), 0) AS total_pnl
		FROM signals WHERE 1=1`
	var args []interface{}

	if !dateRange.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, dateRange.Start)
	}
	if !dateRange.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, dateRange.End)
	}
	query += " GROUP BY source"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]SourceStats)
	for rows.Next() {
		var st SourceStats
		if err := rows.Scan(&st.Source, &st.Total, &st.Evaluated, &st.Correct, &st.AvgConfidence, &st.TotalPnL); err != nil {
			return nil, fmt.Errorf("failed to scan signal stats: %w", err)
		}
		stats[st.Source] = st
	}
	return stats, rows.Err()
}

// SaveOrder inserts or replaces an order record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, record *OrderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (order_id, client_order_id, symbol, side, type, size, price, state, filled_size, avg_fill_price, slippage, retry_count, submit_time, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.OrderID, record.ClientOrderID, record.Symbol, string(record.Side),
		string(record.Type), record.Size, record.Price, strings.ToLower(record.State),
		record.FilledSize, record.AvgFillPrice, record.Slippage, record.RetryCount,
		record.SubmitTime, record.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrders returns order records matching the filter, newest first.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]OrderRecord, error) {
	query := `SELECT order_id, client_order_id, symbol, side, type, size, price, state, filled_size, avg_fill_price, slippage, retry_count, submit_time, last_update FROM orders WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	// States are stored lowercase, matching the executor's state values.
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, strings.ToLower(filter.State))
	}
	if !filter.StartDate.IsZero() {
		query += " AND submit_time >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND submit_time <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY submit_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var side, orderType string
		if err := rows.Scan(&r.OrderID, &r.ClientOrderID, &r.Symbol, &side,
			&orderType, &r.Size, &r.Price, &r.State, &r.FilledSize,
			&r.AvgFillPrice, &r.Slippage, &r.RetryCount, &r.SubmitTime,
			&r.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		r.Side = models.OrderSide(side)
		r.Type = models.OrderType(orderType)
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveRiskEvent appends a risk action to the journal.
func (s *SQLiteStore) SaveRiskEvent(ctx context.Context, event *RiskEventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (position_id, symbol, action, stop_price, close_size, price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.PositionID, event.Symbol, event.Action, event.StopPrice,
		event.CloseSize, event.Price, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}

// GetRiskEvents returns a position's risk actions, newest first.
func (s *SQLiteStore) GetRiskEvents(ctx context.Context, positionID string, limit int) ([]RiskEventRecord, error) {
	query := `SELECT position_id, symbol, action, stop_price, close_size, price, timestamp FROM risk_events WHERE position_id = ? ORDER BY timestamp DESC`
	args := []interface{}{positionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	var events []RiskEventRecord
	for rows.Next() {
		var e RiskEventRecord
		if err := rows.Scan(&e.PositionID, &e.Symbol, &e.Action, &e.StopPrice,
			&e.CloseSize, &e.Price, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
