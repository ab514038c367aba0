// Package store provides plan persistence and the SQLite trade journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bracket-trader/internal/models"
)

// Journal records bracket lifecycle transitions, fills, realized PnL and
// risk breaches in SQLite. It is an audit log: the plan file stays the
// source of truth for plan state.
type Journal struct {
	db *sql.DB
}

// GroupEvent is one journaled lifecycle transition.
type GroupEvent struct {
	ID        int64
	GroupID   string
	Symbol    string
	Event     string
	Status    models.LifecycleStatus
	Detail    string
	CreatedAt time.Time
}

// Breach is one journaled risk breach.
type Breach struct {
	Window       models.RiskWindow
	PnL          float64
	LossPercent  float64
	LimitPercent float64
	CreatedAt    time.Time
}

// NewJournal opens (or creates) the journal database at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	-- Latest known state of every bracket group
	CREATE TABLE IF NOT EXISTS bracket_groups (
		group_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss_price REAL NOT NULL,
		take_profit_price REAL NOT NULL,
		entry_method TEXT NOT NULL,
		lifecycle_status TEXT NOT NULL,
		role TEXT,
		entry_order_id TEXT,
		stop_loss_order_id TEXT,
		take_profit_order_id TEXT,
		fill_price REAL,
		exit_price REAL,
		partial_fill INTEGER DEFAULT 0,
		simulated INTEGER DEFAULT 0,
		failure_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Append-only transition log
	CREATE TABLE IF NOT EXISTS group_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		event TEXT NOT NULL,
		lifecycle_status TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	-- Realized PnL per closed group
	CREATE TABLE IF NOT EXISTS pnl_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		amount REAL NOT NULL,
		simulated INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS risk_breaches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		risk_window TEXT NOT NULL,
		pnl REAL NOT NULL,
		loss_percent REAL NOT NULL,
		limit_percent REAL NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_groups_status ON bracket_groups(lifecycle_status);
	CREATE INDEX IF NOT EXISTS idx_events_group ON group_events(group_id);
	CREATE INDEX IF NOT EXISTS idx_pnl_created ON pnl_events(created_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordTransition upserts the group's current state and appends an event.
func (j *Journal) RecordTransition(ctx context.Context, group *models.BracketOrderGroup, event, detail string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated := group.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	created := group.CreatedAt
	if created.IsZero() {
		created = updated
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bracket_groups (group_id, symbol, side, quantity, entry_price, stop_loss_price, take_profit_price, entry_method, lifecycle_status, role, entry_order_id, stop_loss_order_id, take_profit_order_id, fill_price, exit_price, partial_fill, simulated, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			lifecycle_status = excluded.lifecycle_status,
			role = excluded.role,
			entry_order_id = excluded.entry_order_id,
			stop_loss_order_id = excluded.stop_loss_order_id,
			take_profit_order_id = excluded.take_profit_order_id,
			fill_price = excluded.fill_price,
			exit_price = excluded.exit_price,
			partial_fill = excluded.partial_fill,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
	`, group.GroupID, group.Symbol, string(group.Side), group.Quantity, group.EntryPrice, group.StopLossPrice, group.TakeProfitPrice,
		string(group.EntryMethod), string(group.Status), string(group.Role), group.EntryOrderID, group.StopLossOrderID, group.TakeProfitOrderID,
		group.FillPrice, group.ExitPrice, boolInt(group.PartialFill), boolInt(group.Simulated), group.FailureReason, created, updated)
	if err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_events (group_id, symbol, event, lifecycle_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, group.GroupID, group.Symbol, event, string(group.Status), detail, updated)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordPnL logs realized PnL for a closed group.
func (j *Journal) RecordPnL(ctx context.Context, groupID, symbol string, amount float64, simulated bool, at time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO pnl_events (group_id, symbol, amount, simulated, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, groupID, symbol, amount, boolInt(simulated), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to log pnl: %w", err)
	}
	return nil
}

// RecordBreach logs a loss-limit breach.
func (j *Journal) RecordBreach(ctx context.Context, b Breach) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO risk_breaches (risk_window, pnl, loss_percent, limit_percent, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(b.Window), b.PnL, b.LossPercent, b.LimitPercent, b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to log breach: %w", err)
	}
	return nil
}

const groupColumns = `group_id, symbol, side, quantity, entry_price, stop_loss_price, take_profit_price, entry_method, lifecycle_status, role, entry_order_id, stop_loss_order_id, take_profit_order_id, fill_price, exit_price, partial_fill, simulated, failure_reason, created_at, updated_at`

func scanGroup(rows *sql.Rows) (models.BracketOrderGroup, error) {
	var (
		g                    models.BracketOrderGroup
		side, method, status string
		role, failure        sql.NullString
		entryID, slID, tpID  sql.NullString
		fill, exit           sql.NullFloat64
		partial, simulated   int
	)
	err := rows.Scan(&g.GroupID, &g.Symbol, &side, &g.Quantity, &g.EntryPrice, &g.StopLossPrice, &g.TakeProfitPrice,
		&method, &status, &role, &entryID, &slID, &tpID, &fill, &exit, &partial, &simulated, &failure, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return g, fmt.Errorf("failed to scan group: %w", err)
	}
	g.Side = models.Side(side)
	g.EntryMethod = models.EntryMethod(method)
	g.Status = models.LifecycleStatus(status)
	g.Role = models.LegRole(role.String)
	g.EntryOrderID = entryID.String
	g.StopLossOrderID = slID.String
	g.TakeProfitOrderID = tpID.String
	g.FillPrice = fill.Float64
	g.ExitPrice = exit.Float64
	g.PartialFill = partial == 1
	g.Simulated = simulated == 1
	g.FailureReason = failure.String
	return g, nil
}

func (j *Journal) queryGroups(ctx context.Context, query string, args ...interface{}) ([]models.BracketOrderGroup, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.BracketOrderGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// OpenGroups returns groups that were placed or filled and not yet closed,
// so a restarted process can keep reconciling them.
func (j *Journal) OpenGroups(ctx context.Context) ([]models.BracketOrderGroup, error) {
	return j.queryGroups(ctx, `SELECT `+groupColumns+` FROM bracket_groups
		WHERE lifecycle_status IN (?, ?) ORDER BY created_at ASC`,
		string(models.StatusPlaced), string(models.StatusFilled))
}

// RecentGroups returns the most recently updated groups.
func (j *Journal) RecentGroups(ctx context.Context, limit int) ([]models.BracketOrderGroup, error) {
	if limit <= 0 {
		limit = 20
	}
	return j.queryGroups(ctx, `SELECT `+groupColumns+` FROM bracket_groups
		ORDER BY updated_at DESC LIMIT ?`, limit)
}

// Events returns the transition log for one group, oldest first.
func (j *Journal) Events(ctx context.Context, groupID string) ([]GroupEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, group_id, symbol, event, lifecycle_status, detail, created_at
		FROM group_events WHERE group_id = ? ORDER BY id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []GroupEvent
	for rows.Next() {
		var (
			e      GroupEvent
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Symbol, &e.Event, &status, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Status = models.LifecycleStatus(status)
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RealizedPnLSince sums realized PnL recorded at or after since.
func (j *Journal) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := j.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM pnl_events WHERE created_at >= ?
	`, since.UTC()).Scan(&total)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to sum pnl: %w", err)
	}
	return total.Float64, nil
}

// RecentBreaches returns the latest breaches, newest first.
func (j *Journal) RecentBreaches(ctx context.Context, limit int) ([]Breach, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT risk_window, pnl, loss_percent, limit_percent, created_at
		FROM risk_breaches ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query breaches: %w", err)
	}
	defer rows.Close()

	var out []Breach
	for rows.Next() {
		var (
			b      Breach
			window string
		)
		if err := rows.Scan(&window, &b.PnL, &b.LossPercent, &b.LimitPercent, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan breach: %w", err)
		}
		b.Window = models.RiskWindow(window)
		out = append(out, b)
	}
	return out, rows.Err()
}
