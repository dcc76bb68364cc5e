package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositInfo is where the user must send funds to start the on-chain leg.
type DepositInfo struct {
	Address  string `json:"address"`
	Memo     string `json:"memo,omitempty"`
	MemoType string `json:"memo_type,omitempty"`
}

// ErrDepositInfoDisabled is returned by generators configured as "none".
var ErrDepositInfoDisabled = errors.New("deposit info generation is disabled")

type DepositInfoGenerator interface {
	Generate(ctx context.Context, txn *Transaction) (DepositInfo, error)
}

type CustodyService interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	CreateTransactionPayment(ctx context.Context, txn *Transaction) error
	CreateTransactionRefund(ctx context.Context, txn *Transaction, refund RefundRequest) error
	IsMemoTypeSupported(memoType string) bool
}

// RefundRequest is an on-chain refund custody submits back to the sender.
type RefundRequest struct {
	Amount         decimal.Decimal
	AmountAsset    string
	AmountFee      decimal.Decimal
	AmountFeeAsset string
	Memo           string
	MemoType       string
}

type StatusChangedEvent struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Protocol      Protocol  `json:"sep"`
	Method        string    `json:"method"`
	OldStatus     Status    `json:"old_status"`
	NewStatus     Status    `json:"new_status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event StatusChangedEvent) error
}
