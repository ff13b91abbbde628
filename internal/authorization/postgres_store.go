package authorization

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a Postgres-backed Store. Transition holds a row lock for
// the check-then-write, and the UPDATE re-checks the terminal guard so a
// finalized entry can never be overwritten.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed store using an existing
// connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, reference, cardholder_id, card_id, amount, currency,
	settlement_amount, settlement_currency, merchant_name, merchant_id,
	merchant_category, status, merchant_request_id, checkout_request_id,
	result_code, result_description, receipt_id, authorization_code,
	decline_code, decline_reason, metadata, created_at, push_sent_at,
	responded_at, completed_at, expires_at, updated_at`

var terminalStatuses = []string{
	string(StatusApproved), string(StatusDeclined), string(StatusFailed),
	string(StatusExpired), string(StatusCancelled),
}

func (s *PostgresStore) Create(ctx context.Context, txn *Transaction) error {
	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO card_transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		txn.ID, txn.Reference, txn.CardholderID, txn.CardID,
		txn.Amount, txn.Currency, txn.SettlementAmount, txn.SettlementCurrency,
		txn.MerchantName, nullString(txn.MerchantID), nullString(txn.MerchantCategory),
		txn.Status, nullString(txn.MerchantRequestID), nullString(txn.CheckoutRequestID),
		nullString(txn.ResultCode), nullString(txn.ResultDescription),
		nullString(txn.ReceiptID), nullString(txn.AuthorizationCode),
		nullString(txn.DeclineCode), nullString(txn.DeclineReason),
		metadata, txn.CreatedAt, nullTime(txn.PushSentAt),
		nullTime(txn.RespondedAt), nullTime(txn.CompletedAt),
		txn.ExpiresAt, txn.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+` FROM card_transactions WHERE reference = $1`, reference)
	return scanTransaction(row)
}

func (s *PostgresStore) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+` FROM card_transactions WHERE checkout_request_id = $1`, checkoutRequestID)
	return scanTransaction(row)
}

func (s *PostgresStore) ListRecentByCard(ctx context.Context, cardID string, limit int) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM card_transactions
		WHERE card_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent by card: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM card_transactions
		WHERE status <> ALL($1) AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`, pq.Array(terminalStatuses), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, mut Mutation) (*Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+txnColumns+` FROM card_transactions WHERE id = $1 FOR UPDATE`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return nil, ErrAlreadyFinalized
	}

	applyTransition(txn, to, mut, time.Now())
	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE card_transactions
		SET status = $2, merchant_request_id = $3, checkout_request_id = $4,
		    result_code = $5, result_description = $6, receipt_id = $7,
		    authorization_code = $8, decline_code = $9, decline_reason = $10,
		    metadata = $11, push_sent_at = $12, responded_at = $13,
		    completed_at = $14, updated_at = $15
		WHERE id = $1 AND status <> ALL($16)`,
		txn.ID, txn.Status,
		nullString(txn.MerchantRequestID), nullString(txn.CheckoutRequestID),
		nullString(txn.ResultCode), nullString(txn.ResultDescription),
		nullString(txn.ReceiptID), nullString(txn.AuthorizationCode),
		nullString(txn.DeclineCode), nullString(txn.DeclineReason),
		metadata, nullTime(txn.PushSentAt), nullTime(txn.RespondedAt),
		nullTime(txn.CompletedAt), txn.UpdatedAt,
		pq.Array(terminalStatuses),
	)
	if err != nil {
		return nil, fmt.Errorf("transition update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyFinalized
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return txn, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var txn Transaction
	var merchantID, merchantCategory, merchantReqID, checkoutReqID sql.NullString
	var resultCode, resultDesc, receiptID, authCode, declineCode, declineReason sql.NullString
	var metadata []byte
	var pushSentAt, respondedAt, completedAt sql.NullTime

	err := row.Scan(
		&txn.ID, &txn.Reference, &txn.CardholderID, &txn.CardID,
		&txn.Amount, &txn.Currency, &txn.SettlementAmount, &txn.SettlementCurrency,
		&txn.MerchantName, &merchantID, &merchantCategory,
		&txn.Status, &merchantReqID, &checkoutReqID,
		&resultCode, &resultDesc, &receiptID, &authCode,
		&declineCode, &declineReason, &metadata,
		&txn.CreatedAt, &pushSentAt, &respondedAt, &completedAt,
		&txn.ExpiresAt, &txn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	txn.MerchantID = merchantID.String
	txn.MerchantCategory = merchantCategory.String
	txn.MerchantRequestID = merchantReqID.String
	txn.CheckoutRequestID = checkoutReqID.String
	txn.ResultCode = resultCode.String
	txn.ResultDescription = resultDesc.String
	txn.ReceiptID = receiptID.String
	txn.AuthorizationCode = authCode.String
	txn.DeclineCode = declineCode.String
	txn.DeclineReason = declineReason.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if pushSentAt.Valid {
		txn.PushSentAt = &pushSentAt.Time
	}
	if respondedAt.Valid {
		txn.RespondedAt = &respondedAt.Time
	}
	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Time
	}
	return &txn, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
