package domain

import (
	"context"

	"github.com/google/uuid"
)

type TransactionOrderBy string

const (
	OrderByCreatedAt          TransactionOrderBy = "created_at"
	OrderByUpdatedAt          TransactionOrderBy = "updated_at"
	OrderByTransferReceivedAt TransactionOrderBy = "transfer_received_at"
)

// TransactionFilter selects one page of transactions of a single protocol family.
// An empty Statuses matches every status.
type TransactionFilter struct {
	Protocol   Protocol
	Statuses   []Status
	OrderBy    TransactionOrderBy
	Descending bool
	Offset     int
	Limit      int
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// GetTransactionForUpdate loads the row and holds it until the surrounding
	// WithTransaction returns.
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// UpdateTransaction persists txn when the stored version still equals
	// expectedVersion, and bumps txn.Version on success.
	UpdateTransaction(ctx context.Context, txn *Transaction, expectedVersion int64) error
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
	WithTransaction(ctx context.Context, fn func(repo TransactionRepository) error) error
}
