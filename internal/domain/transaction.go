package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID       uuid.UUID `json:"id"`
	Protocol Protocol  `json:"sep"`
	Kind     Kind      `json:"kind"`
	Status   Status    `json:"status"`

	AmountIn       decimal.NullDecimal `json:"amount_in"`
	AmountInAsset  string              `json:"amount_in_asset,omitempty"`
	AmountOut      decimal.NullDecimal `json:"amount_out"`
	AmountOutAsset string              `json:"amount_out_asset,omitempty"`
	AmountFee      decimal.NullDecimal `json:"amount_fee"`
	AmountFeeAsset string              `json:"amount_fee_asset,omitempty"`
	AmountExpected decimal.NullDecimal `json:"amount_expected"`
	FeeDetails     []FeeDetail         `json:"fee_details,omitempty"`
	Quote          *Quote              `json:"quote,omitempty"`

	ExternalTransactionID string     `json:"external_transaction_id,omitempty"`
	OnChainTransactionID  string     `json:"stellar_transaction_id,omitempty"`
	TransferReceivedAt    *time.Time `json:"transfer_received_at,omitempty"`

	Memo                  string   `json:"memo,omitempty"`
	MemoType              string   `json:"memo_type,omitempty"`
	FromAccount           string   `json:"source_account,omitempty"`
	ToAccount             string   `json:"destination_account,omitempty"`
	WithdrawAnchorAccount string   `json:"withdraw_anchor_account,omitempty"`
	Refunds               *Refunds `json:"refunds,omitempty"`
	Message               string   `json:"message,omitempty"`

	Payload ProtocolPayload `json:"payload"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int64      `json:"-"`
}

type FeeDetail struct {
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// Quote is the firm-quote snapshot attached at intake.
type Quote struct {
	ID         string          `json:"id"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	SellAsset  string          `json:"sell_asset"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`
	BuyAsset   string          `json:"buy_asset"`
	Fee        decimal.Decimal `json:"fee"`
	FeeAsset   string          `json:"fee_asset"`
}

type RefundIDType string

const (
	RefundOnChain  RefundIDType = "stellar"
	RefundOffChain RefundIDType = "external"
)

type RefundPayment struct {
	ID          string          `json:"id"`
	IDType      RefundIDType    `json:"id_type"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	RequestedAt *time.Time      `json:"requested_at,omitempty"`
	RefundedAt  *time.Time      `json:"refunded_at,omitempty"`
}

type Refunds struct {
	AmountRefunded decimal.Decimal `json:"amount_refunded"`
	AmountFee      decimal.Decimal `json:"amount_fee"`
	Payments       []RefundPayment `json:"payments"`
}

// Total is the sum of refunded amounts and refund fees over all payments.
func (r *Refunds) Total() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return r.AmountRefunded.Add(r.AmountFee)
}

func (r *Refunds) Payment(id string) (int, bool) {
	if r == nil {
		return -1, false
	}
	for i, p := range r.Payments {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Recalculate recomputes the totals from the payment list.
func (r *Refunds) Recalculate() {
	amount, fee := decimal.Zero, decimal.Zero
	for _, p := range r.Payments {
		amount = amount.Add(p.Amount)
		fee = fee.Add(p.Fee)
	}
	r.AmountRefunded = amount
	r.AmountFee = fee
}

// ProtocolPayload carries fields that only exist for one protocol family.
// Exactly the member matching Transaction.Protocol may be non-nil.
type ProtocolPayload struct {
	SEP6  *SEP6Payload  `json:"sep6,omitempty"`
	SEP31 *SEP31Payload `json:"sep31,omitempty"`
}

type SEP6Payload struct {
	Instructions map[string]Instruction `json:"instructions,omitempty"`
	CustomerID   string                 `json:"customer_id,omitempty"`
}

type Instruction struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

type SEP31Payload struct {
	CustomerID     string `json:"customer_id,omitempty"`
	CustomerStatus string `json:"customer_status,omitempty"`
}

// NewTransactionParams holds everything an intake step knows about a transaction.
type NewTransactionParams struct {
	Protocol       Protocol
	Kind           Kind
	AmountIn       decimal.NullDecimal
	AmountInAsset  string
	AmountOutAsset string
	AmountFeeAsset string
	Quote          *Quote
	FromAccount    string
	ToAccount      string
}

// NewTransaction builds an incomplete transaction for a legal protocol/kind pair.
func NewTransaction(p NewTransactionParams, now time.Time) (*Transaction, error) {
	if !p.Protocol.Valid() {
		return nil, fmt.Errorf("unknown protocol %q", p.Protocol)
	}
	if !p.Protocol.Supports(p.Kind) {
		return nil, fmt.Errorf("kind %q is not supported by protocol %q", p.Kind, p.Protocol)
	}

	txn := &Transaction{
		ID:             uuid.New(),
		Protocol:       p.Protocol,
		Kind:           p.Kind,
		Status:         StatusIncomplete,
		AmountIn:       p.AmountIn,
		AmountInAsset:  p.AmountInAsset,
		AmountOutAsset: p.AmountOutAsset,
		AmountFeeAsset: p.AmountFeeAsset,
		Quote:          p.Quote,
		FromAccount:    p.FromAccount,
		ToAccount:      p.ToAccount,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	switch p.Protocol {
	case ProtocolSEP6:
		txn.Payload.SEP6 = &SEP6Payload{}
	case ProtocolSEP31:
		txn.Payload.SEP31 = &SEP31Payload{}
		txn.Status = StatusPendingReceiver
	}
	return txn, nil
}

// FundsReceived reports whether incoming funds were confirmed.
func (t *Transaction) FundsReceived() bool {
	return t.TransferReceivedAt != nil
}

// MarkFundsReceived records the first confirmation time; later calls are no-ops.
func (t *Transaction) MarkFundsReceived(at time.Time) {
	if t.TransferReceivedAt != nil {
		return
	}
	at = at.UTC()
	t.TransferReceivedAt = &at
}

// SetExternalTransactionID keeps the first non-empty value written.
func (t *Transaction) SetExternalTransactionID(id string) {
	if t.ExternalTransactionID == "" {
		t.ExternalTransactionID = id
	}
}

// SetOnChainTransactionID keeps the first non-empty value written.
func (t *Transaction) SetOnChainTransactionID(id string) {
	if t.OnChainTransactionID == "" {
		t.OnChainTransactionID = id
	}
}

// Clone returns a deep copy; mutations of the copy never reach t.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.FeeDetails = slices.Clone(t.FeeDetails)
	if t.Quote != nil {
		q := *t.Quote
		cp.Quote = &q
	}
	cp.TransferReceivedAt = cloneTime(t.TransferReceivedAt)
	cp.CompletedAt = cloneTime(t.CompletedAt)
	if t.Refunds != nil {
		r := *t.Refunds
		r.Payments = make([]RefundPayment, len(t.Refunds.Payments))
		for i, p := range t.Refunds.Payments {
			p.RequestedAt = cloneTime(p.RequestedAt)
			p.RefundedAt = cloneTime(p.RefundedAt)
			r.Payments[i] = p
		}
		cp.Refunds = &r
	}
	if t.Payload.SEP6 != nil {
		p := *t.Payload.SEP6
		if t.Payload.SEP6.Instructions != nil {
			p.Instructions = make(map[string]Instruction, len(t.Payload.SEP6.Instructions))
			for k, v := range t.Payload.SEP6.Instructions {
				p.Instructions[k] = v
			}
		}
		cp.Payload.SEP6 = &p
	}
	if t.Payload.SEP31 != nil {
		p := *t.Payload.SEP31
		cp.Payload.SEP31 = &p
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
