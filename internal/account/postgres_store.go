package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a Postgres-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed store using an existing
// connection pool. Schema is managed by the migrate command.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const cardholderColumns = `id, name, phone, active, single_txn_limit, daily_limit,
	daily_spent, daily_reset_at, last_used_at, created_at, updated_at`

const cardColumns = `id, cardholder_id, pan_hash, cvv_hash, last4, exp_month, exp_year,
	status, daily_limit, monthly_limit, daily_spent, monthly_spent,
	daily_reset_at, monthly_reset_at, last_used_at, created_at, updated_at`

func (s *PostgresStore) CreateCardholder(ctx context.Context, holder *Cardholder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cardholders (`+cardholderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		holder.ID, holder.Name, holder.Phone, holder.Active,
		holder.SingleTxnLimit, holder.DailyLimit, holder.DailySpent,
		holder.DailyResetAt, nullTime(holder.LastUsedAt),
		holder.CreatedAt, holder.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrCardholderExists
	}
	if err != nil {
		return fmt.Errorf("insert cardholder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCardholder(ctx context.Context, id string) (*Cardholder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardholderColumns+` FROM cardholders WHERE id = $1`, id)
	return scanCardholder(row)
}

func (s *PostgresStore) CreateCard(ctx context.Context, card *Card) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		card.ID, card.CardholderID, card.PANHash, card.CVVHash, card.Last4,
		card.ExpMonth, card.ExpYear, card.Status,
		card.DailyLimit, card.MonthlyLimit, card.DailySpent, card.MonthlySpent,
		card.DailyResetAt, card.MonthlyResetAt, nullTime(card.LastUsedAt),
		card.CreatedAt, card.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrCardExists
	}
	if isForeignKeyViolation(err) {
		return ErrCardholderNotFound
	}
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCard(ctx context.Context, id string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
	return scanCard(row)
}

func (s *PostgresStore) GetCardByPANHash(ctx context.Context, panHash string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE pan_hash = $1`, panHash)
	return scanCard(row)
}

// FreshenWindows resets stale counters with conditional UPDATEs so concurrent
// limit checks at a window boundary settle on a single reset.
func (s *PostgresStore) FreshenWindows(ctx context.Context, holderID, cardID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cardholders
		SET daily_spent = 0, daily_reset_at = $2, updated_at = $2
		WHERE id = $1 AND date_trunc('day', daily_reset_at) <> date_trunc('day', $2::timestamptz)`,
		holderID, now,
	)
	if err != nil {
		return fmt.Errorf("freshen cardholder window: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either fresh already or missing; disambiguate for the caller.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cardholders WHERE id = $1)`, holderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check cardholder: %w", err)
		}
		if !exists {
			return ErrCardholderNotFound
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE cards
		SET daily_spent = 0, daily_reset_at = $2, updated_at = $2
		WHERE id = $1 AND date_trunc('day', daily_reset_at) <> date_trunc('day', $2::timestamptz)`,
		cardID, now,
	)
	if err != nil {
		return fmt.Errorf("freshen card daily window: %w", err)
	}
	res, err = s.db.ExecContext(ctx, `
		UPDATE cards
		SET monthly_spent = 0, monthly_reset_at = $2, updated_at = $2
		WHERE id = $1 AND date_trunc('month', monthly_reset_at) <> date_trunc('month', $2::timestamptz)`,
		cardID, now,
	)
	if err != nil {
		return fmt.Errorf("freshen card monthly window: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cards WHERE id = $1)`, cardID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check card: %w", err)
		}
		if !exists {
			return ErrCardNotFound
		}
	}
	return nil
}

// ApplyApprovedSpend claims the entry ID and increments counters in one
// transaction. The applied_spend primary key is the idempotency guard: if the
// insert affects zero rows, another delivery already applied this entry.
func (s *PostgresStore) ApplyApprovedSpend(ctx context.Context, holderID, cardID string, amount float64, entryID string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO applied_spend (entry_id, cardholder_id, card_id, amount, applied_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entry_id) DO NOTHING`,
		entryID, holderID, cardID, amount, now,
	)
	if err != nil {
		return false, fmt.Errorf("claim entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE cardholders
		SET daily_spent = daily_spent + $2, last_used_at = $3, updated_at = $3
		WHERE id = $1`,
		holderID, amount, now,
	)
	if err != nil {
		return false, fmt.Errorf("apply cardholder spend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrCardholderNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET daily_spent = daily_spent + $2, monthly_spent = monthly_spent + $2,
		    last_used_at = $3, updated_at = $3
		WHERE id = $1`,
		cardID, amount, now,
	)
	if err != nil {
		return false, fmt.Errorf("apply card spend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrCardNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func scanCardholder(row *sql.Row) (*Cardholder, error) {
	var h Cardholder
	var lastUsed sql.NullTime
	err := row.Scan(
		&h.ID, &h.Name, &h.Phone, &h.Active,
		&h.SingleTxnLimit, &h.DailyLimit, &h.DailySpent,
		&h.DailyResetAt, &lastUsed, &h.CreatedAt, &h.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardholderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cardholder: %w", err)
	}
	if lastUsed.Valid {
		h.LastUsedAt = &lastUsed.Time
	}
	return &h, nil
}

func scanCard(row *sql.Row) (*Card, error) {
	var c Card
	var lastUsed sql.NullTime
	err := row.Scan(
		&c.ID, &c.CardholderID, &c.PANHash, &c.CVVHash, &c.Last4,
		&c.ExpMonth, &c.ExpYear, &c.Status,
		&c.DailyLimit, &c.MonthlyLimit, &c.DailySpent, &c.MonthlySpent,
		&c.DailyResetAt, &c.MonthlyResetAt, &lastUsed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	if lastUsed.Valid {
		c.LastUsedAt = &lastUsed.Time
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

var _ Store = (*PostgresStore)(nil)
