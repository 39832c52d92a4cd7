package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	table   string
	timer   metrics.StoreTimer
}

// NewPostgresStore opens a connection pool and creates the orders table if needed.
func NewPostgresStore(ctx context.Context, connectionString, table string, pool config.PostgresPoolConfig, m *metrics.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)

	store, err := NewPostgresStoreWithDB(ctx, db, table, m)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB uses an existing pool. The caller keeps ownership of db only until Close.
func NewPostgresStoreWithDB(ctx context.Context, db *sql.DB, table string, m *metrics.Metrics) (*PostgresStore, error) {
	if table == "" {
		table = "terminal_orders"
	}
	store := &PostgresStore{db: db, table: table, timer: m.StoreTimer("postgres")}
	if err := store.createTable(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			order_key TEXT NOT NULL,
			total NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			paid_at TIMESTAMPTZ,
			payment_method TEXT NOT NULL DEFAULT '',
			captured BOOLEAN NOT NULL DEFAULT FALSE,
			payment_meta JSONB NOT NULL DEFAULT '{}'::jsonb,
			notes JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_intent_idx ON %s ((payment_meta->>'%s'));
	`, s.table, s.table, s.table, MetaPaymentIntentID)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (Order, error) {
	defer s.timer.Start("get_order")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, order_key, total, currency, status, transaction_id, paid_at,
		       payment_method, captured, payment_meta, notes, created_at, updated_at
		FROM %s WHERE id = $1`, s.table)

	var (
		order     Order
		total     string
		status    string
		paidAt    sql.NullTime
		metaJSON  []byte
		notesJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.Key, &total, &order.Currency, &status, &order.TransactionID, &paidAt,
		&order.PaymentMethod, &order.Captured, &metaJSON, &notesJSON, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}

	order.Status = Status(status)
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("parse order total %q: %w", total, err)
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}

	var meta map[string]string
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return Order{}, fmt.Errorf("decode payment meta: %w", err)
	}
	if order.Payment, err = RecordFromMeta(meta); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(notesJSON, &order.Notes); err != nil {
		return Order{}, fmt.Errorf("decode notes: %w", err)
	}
	return order, nil
}

// SaveOrder upserts every column except notes, which only AddNote and inserts write.
func (s *PostgresStore) SaveOrder(ctx context.Context, order Order) error {
	if err := prepareForSave(&order); err != nil {
		return err
	}
	defer s.timer.Start("save_order")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	metaJSON, err := json.Marshal(order.Payment.Meta())
	if err != nil {
		return fmt.Errorf("encode payment meta: %w", err)
	}
	notes := order.Notes
	if notes == nil {
		notes = []Note{}
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}
	var paidAt sql.NullTime
	if order.PaidAt != nil {
		paidAt = sql.NullTime{Time: *order.PaidAt, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, order_key, total, currency, status, transaction_id, paid_at,
		                payment_method, captured, payment_meta, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			order_key = EXCLUDED.order_key,
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			transaction_id = EXCLUDED.transaction_id,
			paid_at = EXCLUDED.paid_at,
			payment_method = EXCLUDED.payment_method,
			captured = EXCLUDED.captured,
			payment_meta = EXCLUDED.payment_meta,
			updated_at = EXCLUDED.updated_at`, s.table)

	_, err = s.db.ExecContext(ctx, query,
		order.ID, order.Key, order.Total.String(), order.Currency, string(order.Status), order.TransactionID, paidAt,
		order.PaymentMethod, order.Captured, string(metaJSON), string(notesJSON), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// SavePayment updates the payment columns in one statement. With IfUnpaid the paid
// check is part of the WHERE clause, so a concurrent completion is never overwritten.
func (s *PostgresStore) SavePayment(ctx context.Context, orderID string, update PaymentUpdate) (Order, bool, error) {
	if err := update.Record.Validate(); err != nil {
		return Order{}, false, err
	}
	metaJSON, err := json.Marshal(update.Record.Meta())
	if err != nil {
		return Order{}, false, fmt.Errorf("encode payment meta: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			payment_meta = $2::jsonb,
			transaction_id = CASE WHEN $3 <> '' THEN $3 ELSE transaction_id END,
			captured = CASE WHEN $3 <> '' THEN $4 ELSE captured END,
			status = CASE WHEN $5 THEN '%s' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		  AND (NOT $6 OR (
			paid_at IS NULL
			AND status NOT IN ('%s', '%s')
			AND COALESCE(payment_meta->>'%s', '') <> '%s'))`,
		s.table, StatusFailed, StatusProcessing, StatusCompleted, MetaPaymentStatus, PaymentStatusSucceeded)

	stop := s.timer.Start("save_payment")
	qctx, cancel := withQueryTimeout(ctx)
	res, err := s.db.ExecContext(qctx, query, orderID, string(metaJSON), update.TransactionID,
		update.Captured, update.MarkFailed, update.IfUnpaid)
	cancel()
	stop()
	if err != nil {
		return Order{}, false, fmt.Errorf("save payment of order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Order{}, false, fmt.Errorf("save payment of order %s: %w", orderID, err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, false, err
	}
	return order, n > 0, nil
}

func (s *PostgresStore) AddNote(ctx context.Context, orderID string, note Note) error {
	defer s.timer.Start("add_note")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	noteJSON, err := json.Marshal([]Note{note})
	if err != nil {
		return fmt.Errorf("encode note: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET notes = notes || $2::jsonb, updated_at = NOW() WHERE id = $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, orderID, string(noteJSON))
	if err != nil {
		return fmt.Errorf("add note to order %s: %w", orderID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
