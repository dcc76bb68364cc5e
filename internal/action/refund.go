package action

import (
	"context"
	"slices"
	"time"

	"anchor-platform/internal/domain"
)

type RefundParams struct {
	ID        string      `json:"id" validate:"required"`
	Amount    AmountAsset `json:"amount" validate:"required"`
	AmountFee AmountAsset `json:"amount_fee" validate:"required"`
}

var depositOrWithdrawal = append(slices.Clone(domain.DepositKinds), domain.WithdrawalKinds...)

// refundPayment validates r against the transaction's assets and converts it to a payment.
func (p *Processor) refundPayment(txn *domain.Transaction, r *RefundParams, idType domain.RefundIDType) (domain.RefundPayment, error) {
	if !txn.AmountIn.Valid {
		return domain.RefundPayment{}, invalidParams("amount_in is not set on the transaction")
	}
	if r.Amount.Asset != "" && r.Amount.Asset != txn.AmountInAsset {
		return domain.RefundPayment{}, invalidParams("refund.amount.asset does not match transaction amount_in_asset")
	}
	amount, err := p.assets.ValidateAmount("refund.amount", r.Amount.Amount, txn.AmountInAsset, false)
	if err != nil {
		return domain.RefundPayment{}, invalidParams("%s", err.Error())
	}

	feeAsset := txn.AmountFeeAsset
	if feeAsset == "" {
		feeAsset = txn.AmountInAsset
	}
	if r.AmountFee.Asset != "" && r.AmountFee.Asset != feeAsset {
		return domain.RefundPayment{}, invalidParams("refund.amount_fee.asset does not match transaction amount_fee_asset")
	}
	fee, err := p.assets.ValidateAmount("refund.amount_fee", r.AmountFee.Amount, feeAsset, true)
	if err != nil {
		return domain.RefundPayment{}, invalidParams("%s", err.Error())
	}
	return domain.RefundPayment{ID: r.ID, IDType: idType, Amount: amount, Fee: fee}, nil
}

// mergeRefund returns txn's refunds with payment inserted or replacing the one with the same
// id. txn is not modified.
func mergeRefund(txn *domain.Transaction, payment domain.RefundPayment) *domain.Refunds {
	var out domain.Refunds
	if txn.Refunds != nil {
		out.Payments = slices.Clone(txn.Refunds.Payments)
	}
	if i, ok := out.Payment(payment.ID); ok {
		if payment.RequestedAt == nil {
			payment.RequestedAt = out.Payments[i].RequestedAt
		}
		out.Payments[i] = payment
	} else {
		out.Payments = append(out.Payments, payment)
	}
	out.Recalculate()
	return &out
}

func checkRefundTotal(txn *domain.Transaction, refunds *domain.Refunds) error {
	if refunds.Total().GreaterThan(txn.AmountIn.Decimal) {
		return invalidParams("Refund amount exceeds amount_in")
	}
	return nil
}

func refundIDType(txn *domain.Transaction) domain.RefundIDType {
	if txn.Kind.IsDeposit() {
		return domain.RefundOffChain
	}
	return domain.RefundOnChain
}

func ptrTime(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

type NotifyRefundPendingParams struct {
	BaseParams
	Refund *RefundParams `json:"refund,omitempty"`
}

type notifyRefundPending struct {
	descriptor
	defaults[*NotifyRefundPendingParams]
	processor *Processor
}

func newNotifyRefundPending(p *Processor) *notifyRefundPending {
	return &notifyRefundPending{
		descriptor: descriptor{MethodNotifyRefundPending, sep6And24, depositOrWithdrawal},
		processor:  p,
	}
}

func (h *notifyRefundPending) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if txn.Kind.IsDeposit() {
		return domain.NewStatusSet(domain.StatusPendingAnchor)
	}
	return domain.NewStatusSet(domain.StatusPendingUserTransferComplete, domain.StatusPendingExternal)
}

func (h *notifyRefundPending) NextStatus(txn *domain.Transaction, _ *NotifyRefundPendingParams) (domain.Status, error) {
	if txn.Kind.IsDeposit() {
		return domain.StatusPendingExternal, nil
	}
	return domain.StatusPendingAnchor, nil
}

func (h *notifyRefundPending) Validate(txn *domain.Transaction, params *NotifyRefundPendingParams) error {
	if params.Refund == nil {
		if txn.Kind.IsDeposit() {
			return invalidParams("refund is required")
		}
		return nil
	}
	payment, err := h.processor.refundPayment(txn, params.Refund, refundIDType(txn))
	if err != nil {
		return err
	}
	if _, exists := txn.Refunds.Payment(payment.ID); exists {
		return invalidParams("Refund with id[%s] already exists", payment.ID)
	}
	return checkRefundTotal(txn, mergeRefund(txn, payment))
}

// Apply records the refund for deposits only; a withdrawal refund is paid on-chain and
// confirmed by notify_refund_sent.
func (h *notifyRefundPending) Apply(_ context.Context, txn *domain.Transaction, params *NotifyRefundPendingParams) error {
	if params.Refund == nil || !txn.Kind.IsDeposit() {
		return nil
	}
	payment, err := h.processor.refundPayment(txn, params.Refund, refundIDType(txn))
	if err != nil {
		return err
	}
	payment.RequestedAt = ptrTime(h.processor.now())
	txn.Refunds = mergeRefund(txn, payment)
	return nil
}

type NotifyRefundSentParams struct {
	BaseParams
	Refund *RefundParams `json:"refund,omitempty"`
}

type notifyRefundSent struct {
	descriptor
	defaults[*NotifyRefundSentParams]
	processor *Processor
}

func newNotifyRefundSent(p *Processor) *notifyRefundSent {
	return &notifyRefundSent{
		descriptor: descriptor{MethodNotifyRefundSent, domain.AllProtocols, domain.AllKinds},
		processor:  p,
	}
}

func (h *notifyRefundSent) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	switch {
	case isSEP31(txn):
		return domain.NewStatusSet(domain.StatusPendingStellar, domain.StatusPendingReceiver)
	case txn.Kind.IsDeposit():
		return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingExternal, domain.StatusPendingAnchor)...)
	default:
		return domain.NewStatusSet(domain.StatusPendingStellar).With(ifReceived(txn, domain.StatusPendingAnchor)...)
	}
}

// refundRequired reports whether the call must carry the refund itself rather than confirm
// one recorded earlier.
func (h *notifyRefundSent) refundRequired(txn *domain.Transaction) bool {
	return isSEP31(txn) || txn.Status == domain.StatusPendingAnchor
}

func (h *notifyRefundSent) Validate(txn *domain.Transaction, params *NotifyRefundSentParams) error {
	if !txn.AmountIn.Valid {
		return invalidParams("amount_in is not set on the transaction")
	}
	if params.Refund == nil {
		if h.refundRequired(txn) {
			return invalidParams("refund is required")
		}
		return nil
	}
	hasPayments := txn.Refunds != nil && len(txn.Refunds.Payments) > 0
	if isSEP31(txn) && txn.Status == domain.StatusPendingReceiver && hasPayments {
		return invalidParams("Multiple refunds aren't supported for kind[%s], protocol[%s] and action[%s]",
			txn.Kind, txn.Protocol, h.Method())
	}

	payment, err := h.processor.refundPayment(txn, params.Refund, refundIDType(txn))
	if err != nil {
		return err
	}
	if !h.refundRequired(txn) && hasPayments {
		if _, ok := txn.Refunds.Payment(payment.ID); !ok {
			return invalidParams("Invalid refund id")
		}
	}
	return checkRefundTotal(txn, mergeRefund(txn, payment))
}

func (h *notifyRefundSent) NextStatus(txn *domain.Transaction, params *NotifyRefundSentParams) (domain.Status, error) {
	refunds := txn.Refunds
	if params.Refund != nil {
		payment, err := h.processor.refundPayment(txn, params.Refund, refundIDType(txn))
		if err != nil {
			return "", err
		}
		refunds = mergeRefund(txn, payment)
	}
	if refunds.Total().Equal(txn.AmountIn.Decimal) {
		return domain.StatusRefunded, nil
	}
	if isSEP31(txn) {
		return domain.StatusPendingReceiver, nil
	}
	return domain.StatusPendingAnchor, nil
}

func (h *notifyRefundSent) Apply(_ context.Context, txn *domain.Transaction, params *NotifyRefundSentParams) error {
	now := ptrTime(h.processor.now())
	if params.Refund == nil {
		// Confirm every outstanding payment recorded by notify_refund_pending.
		if txn.Refunds != nil {
			for i := range txn.Refunds.Payments {
				if txn.Refunds.Payments[i].RefundedAt == nil {
					txn.Refunds.Payments[i].RefundedAt = now
				}
			}
		}
		return nil
	}
	payment, err := h.processor.refundPayment(txn, params.Refund, refundIDType(txn))
	if err != nil {
		return err
	}
	payment.RefundedAt = now
	if _, exists := txn.Refunds.Payment(payment.ID); !exists {
		payment.RequestedAt = now
	}
	txn.Refunds = mergeRefund(txn, payment)
	return nil
}

type DoStellarRefundParams struct {
	BaseParams
	Refund   *StellarRefundParams `json:"refund" validate:"required"`
	Memo     string               `json:"memo,omitempty"`
	MemoType string               `json:"memo_type,omitempty"`
}

type StellarRefundParams struct {
	Amount    AmountAsset `json:"amount" validate:"required"`
	AmountFee AmountAsset `json:"amount_fee" validate:"required"`
}

// doStellarRefund hands an on-chain refund to custody. The refund itself is recorded when
// custody reports it through notify_refund_sent.
type doStellarRefund struct {
	descriptor
	defaults[*DoStellarRefundParams]
	processor *Processor
}

func newDoStellarRefund(p *Processor) *doStellarRefund {
	return &doStellarRefund{
		descriptor: descriptor{
			MethodDoStellarRefund,
			[]domain.Protocol{domain.ProtocolSEP24, domain.ProtocolSEP31},
			withdrawalOrReceive,
		},
		processor: p,
	}
}

func (h *doStellarRefund) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if isSEP31(txn) {
		return domain.NewStatusSet(domain.StatusPendingReceiver)
	}
	return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *doStellarRefund) NextStatus(*domain.Transaction, *DoStellarRefundParams) (domain.Status, error) {
	return domain.StatusPendingStellar, nil
}

func (h *doStellarRefund) Validate(txn *domain.Transaction, params *DoStellarRefundParams) error {
	if !h.processor.custodyEnabled() {
		return invalidParams("Action[%s] requires enabled custody integration", h.Method())
	}
	refund, err := h.refund(txn, params)
	if err != nil {
		return err
	}
	if err := domain.ValidateMemo(refund.Memo, refund.MemoType); err != nil {
		return invalidParams("%s", err.Error())
	}
	if refund.MemoType != "" && !h.processor.custody.IsMemoTypeSupported(refund.MemoType) {
		return invalidParams("Memo type[%s] is not supported by custody", refund.MemoType)
	}

	hasPayments := txn.Refunds != nil && len(txn.Refunds.Payments) > 0
	if isSEP31(txn) && hasPayments {
		return invalidParams("Multiple refunds aren't supported for kind[%s], protocol[%s] and action[%s]",
			txn.Kind, txn.Protocol, h.Method())
	}

	total := refund.Amount.Add(refund.AmountFee)
	if txn.Refunds != nil {
		total = total.Add(txn.Refunds.Total())
	}
	switch {
	case total.GreaterThan(txn.AmountIn.Decimal):
		return invalidParams("Refund amount exceeds amount_in")
	case isSEP31(txn) && total.LessThan(txn.AmountIn.Decimal):
		return invalidParams("Refund amount is less than amount_in")
	}
	return nil
}

func (h *doStellarRefund) SideEffect(ctx context.Context, txn *domain.Transaction, params *DoStellarRefundParams) error {
	refund, err := h.refund(txn, params)
	if err != nil {
		return err
	}
	return h.processor.custody.CreateTransactionRefund(ctx, txn, refund)
}

// refund checks the requested amounts against the transaction's assets. The memo defaults
// to the one the sender paid with.
func (h *doStellarRefund) refund(txn *domain.Transaction, params *DoStellarRefundParams) (domain.RefundRequest, error) {
	if !txn.AmountIn.Valid {
		return domain.RefundRequest{}, invalidParams("amount_in is not set on the transaction")
	}
	r := params.Refund
	if r.Amount.Asset != txn.AmountInAsset {
		return domain.RefundRequest{}, invalidParams("refund.amount.asset does not match transaction amount_in_asset")
	}
	if r.AmountFee.Asset != txn.AmountFeeAsset {
		return domain.RefundRequest{}, invalidParams("refund.amount_fee.asset does not match transaction amount_fee_asset")
	}
	amount, err := h.processor.assets.ValidateAmount("refund.amount", r.Amount.Amount, txn.AmountInAsset, false)
	if err != nil {
		return domain.RefundRequest{}, invalidParams("%s", err.Error())
	}
	fee, err := h.processor.assets.ValidateAmount("refund.amount_fee", r.AmountFee.Amount, txn.AmountInAsset, true)
	if err != nil {
		return domain.RefundRequest{}, invalidParams("%s", err.Error())
	}

	memo, memoType := params.Memo, params.MemoType
	if memo == "" && memoType == "" {
		memo, memoType = txn.Memo, txn.MemoType
	}
	return domain.RefundRequest{
		Amount:         amount,
		AmountAsset:    txn.AmountInAsset,
		AmountFee:      fee,
		AmountFeeAsset: txn.AmountFeeAsset,
		Memo:           memo,
		MemoType:       memoType,
	}, nil
}
