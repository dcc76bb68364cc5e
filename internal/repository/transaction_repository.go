package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

const transactionColumns = `id, sep, kind, status,
	amount_in, amount_in_asset, amount_out, amount_out_asset, amount_fee, amount_fee_asset, amount_expected,
	fee_details, quote, external_transaction_id, stellar_transaction_id, transfer_received_at,
	memo, memo_type, source_account, destination_account, withdraw_anchor_account,
	refunds, message, payload, started_at, updated_at, completed_at, version`

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) WithTransaction(ctx context.Context, fn func(repo domain.TransactionRepository) error) error {
	// Only sql.DB can begin transactions
	db, ok := r.db.(DB)
	if !ok {
		return errors.ErrCannotBeginTx
	}
	return withTransaction(ctx, db, func(tx *sql.Tx) error {
		return fn(&transactionRepository{db: tx, logger: r.logger})
	})
}

func (r *transactionRepository) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	cols, err := encodeJSONColumns(txn)
	if err != nil {
		return err
	}

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28)`

	_, err = r.db.ExecContext(ctx, query,
		txn.ID, txn.Protocol, txn.Kind, txn.Status,
		txn.AmountIn, txn.AmountInAsset, txn.AmountOut, txn.AmountOutAsset, txn.AmountFee, txn.AmountFeeAsset, txn.AmountExpected,
		cols.feeDetails, cols.quote, txn.ExternalTransactionID, txn.OnChainTransactionID, nullTime(txn.TransferReceivedAt),
		txn.Memo, txn.MemoType, txn.FromAccount, txn.ToAccount, txn.WithdrawAnchorAccount,
		cols.refunds, txn.Message, cols.payload, txn.StartedAt, txn.UpdatedAt, nullTime(txn.CompletedAt), txn.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			r.logger.Warn("Duplicate transaction creation attempt", "transaction_id", txn.ID)
			return errors.ErrDuplicateTransaction
		}
		r.logger.Error("Failed to create transaction", "transaction_id", txn.ID, "error", err)
		return errors.Wrap(errors.InternalError, "failed to create transaction", err)
	}

	r.logger.Info("Transaction created", "transaction_id", txn.ID, "sep", txn.Protocol, "kind", txn.Kind)
	return nil
}

func (r *transactionRepository) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.scanTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *transactionRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.scanTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func (r *transactionRepository) UpdateTransaction(ctx context.Context, txn *domain.Transaction, expectedVersion int64) error {
	cols, err := encodeJSONColumns(txn)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions SET
			status = $2,
			amount_in = $3, amount_in_asset = $4, amount_out = $5, amount_out_asset = $6,
			amount_fee = $7, amount_fee_asset = $8, amount_expected = $9,
			fee_details = $10, quote = $11, external_transaction_id = $12, stellar_transaction_id = $13,
			transfer_received_at = $14, memo = $15, memo_type = $16, source_account = $17,
			destination_account = $18, withdraw_anchor_account = $19, refunds = $20, message = $21,
			payload = $22, updated_at = $23, completed_at = $24, version = version + 1
		WHERE id = $1 AND version = $25
	`

	res, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.Status,
		txn.AmountIn, txn.AmountInAsset, txn.AmountOut, txn.AmountOutAsset,
		txn.AmountFee, txn.AmountFeeAsset, txn.AmountExpected,
		cols.feeDetails, cols.quote, txn.ExternalTransactionID, txn.OnChainTransactionID,
		nullTime(txn.TransferReceivedAt), txn.Memo, txn.MemoType, txn.FromAccount,
		txn.ToAccount, txn.WithdrawAnchorAccount, cols.refunds, txn.Message,
		cols.payload, txn.UpdatedAt, nullTime(txn.CompletedAt), expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update transaction", "transaction_id", txn.ID, "error", err)
		return errors.Wrap(errors.InternalError, "failed to update transaction", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to update transaction", err)
	}
	if n == 0 {
		r.logger.Warn("Stale transaction version", "transaction_id", txn.ID, "expected_version", expectedVersion)
		return errors.ErrConcurrentUpdate
	}

	txn.Version = expectedVersion + 1
	r.logger.Info("Transaction updated", "transaction_id", txn.ID, "status", txn.Status, "version", txn.Version)
	return nil
}

func (r *transactionRepository) FindTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	column, ok := orderColumns[filter.OrderBy]
	if !ok {
		column = orderColumns[domain.OrderByCreatedAt]
	}
	direction := "ASC"
	if filter.Descending {
		direction = "DESC"
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE sep = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY ` + column + ` ` + direction + `, id
		OFFSET $3`
	args := []any{filter.Protocol, pq.Array(statusStrings(filter.Statuses)), max(filter.Offset, 0)}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to find transactions", "sep", filter.Protocol, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to find transactions", err)
	}
	defer rows.Close()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		txn, err := decodeTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to find transactions", err)
	}
	return out, nil
}

var orderColumns = map[domain.TransactionOrderBy]string{
	domain.OrderByCreatedAt:          "started_at",
	domain.OrderByUpdatedAt:          "updated_at",
	domain.OrderByTransferReceivedAt: "transfer_received_at",
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *transactionRepository) scanTransaction(ctx context.Context, query string, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := decodeTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrTransactionNotFound
		}
		if _, ok := errors.AsAppError(err); !ok {
			r.logger.Error("Failed to get transaction", "transaction_id", id, "error", err)
			return nil, errors.Wrap(errors.InternalError, "failed to get transaction", err)
		}
		return nil, err
	}
	return txn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// decodeTransaction reads one row selected with transactionColumns.
func decodeTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		txn                                 domain.Transaction
		feeDetails, quote, refunds, payload []byte
		transferReceivedAt, completedAt     sql.NullTime
	)

	err := row.Scan(
		&txn.ID, &txn.Protocol, &txn.Kind, &txn.Status,
		&txn.AmountIn, &txn.AmountInAsset, &txn.AmountOut, &txn.AmountOutAsset, &txn.AmountFee, &txn.AmountFeeAsset, &txn.AmountExpected,
		&feeDetails, &quote, &txn.ExternalTransactionID, &txn.OnChainTransactionID, &transferReceivedAt,
		&txn.Memo, &txn.MemoType, &txn.FromAccount, &txn.ToAccount, &txn.WithdrawAnchorAccount,
		&refunds, &txn.Message, &payload, &txn.StartedAt, &txn.UpdatedAt, &completedAt, &txn.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(feeDetails, &txn.FeeDetails); err != nil {
		return nil, err
	}
	if err := decodeJSON(quote, &txn.Quote); err != nil {
		return nil, err
	}
	if err := decodeJSON(refunds, &txn.Refunds); err != nil {
		return nil, err
	}
	if err := decodeJSON(payload, &txn.Payload); err != nil {
		return nil, err
	}
	if transferReceivedAt.Valid {
		t := transferReceivedAt.Time.UTC()
		txn.TransferReceivedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		txn.CompletedAt = &t
	}
	txn.StartedAt = txn.StartedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()

	return &txn, nil
}

// jsonColumns holds JSONB parameters; absent values stay nil so they are stored as NULL.
type jsonColumns struct {
	feeDetails, quote, refunds, payload any
}

func encodeJSONColumns(txn *domain.Transaction) (jsonColumns, error) {
	var cols jsonColumns
	encode := func(name string, v any) (any, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(errors.InternalError, "failed to encode "+name, err)
		}
		return string(raw), nil
	}

	var err error
	if txn.FeeDetails != nil {
		if cols.feeDetails, err = encode("fee details", txn.FeeDetails); err != nil {
			return cols, err
		}
	}
	if txn.Quote != nil {
		if cols.quote, err = encode("quote", txn.Quote); err != nil {
			return cols, err
		}
	}
	if txn.Refunds != nil {
		if cols.refunds, err = encode("refunds", txn.Refunds); err != nil {
			return cols, err
		}
	}
	if cols.payload, err = encode("payload", txn.Payload); err != nil {
		return cols, err
	}
	return cols, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(errors.InternalError, fmt.Sprintf("failed to decode %T", dst), err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
