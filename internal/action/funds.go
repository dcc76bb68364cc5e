package action

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"anchor-platform/internal/domain"
)

type RequestOffchainFundsParams struct {
	BaseParams
	Amounts
	Instructions map[string]domain.Instruction `json:"instructions,omitempty"`
}

type requestOffchainFunds struct {
	descriptor
	defaults[*RequestOffchainFundsParams]
	processor *Processor
}

func newRequestOffchainFunds(p *Processor) *requestOffchainFunds {
	return &requestOffchainFunds{
		descriptor: descriptor{MethodRequestOffchainFunds, sep6And24, domain.DepositKinds},
		processor:  p,
	}
}

func (h *requestOffchainFunds) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	set := domain.NewStatusSet(domain.StatusIncomplete).With(ifNotReceived(txn, domain.StatusPendingAnchor)...)
	if txn.Protocol == domain.ProtocolSEP6 {
		set = set.With(ifNotReceived(txn, domain.StatusPendingCustomerInfoUpdate)...)
	}
	return set
}

func (h *requestOffchainFunds) NextStatus(*domain.Transaction, *RequestOffchainFundsParams) (domain.Status, error) {
	return domain.StatusPendingUserTransferStart, nil
}

func (h *requestOffchainFunds) Validate(txn *domain.Transaction, params *RequestOffchainFundsParams) error {
	if err := params.allOrNone(); err != nil {
		return err
	}
	rules := amountRules{in: offchainAsset, out: stellarAsset, fee: offchainAsset}
	if err := h.processor.validateAmounts(txn, &params.Amounts, rules); err != nil {
		return err
	}
	if err := requireAmounts(txn, &params.Amounts); err != nil {
		return err
	}
	if len(params.Instructions) > 0 && txn.Protocol != domain.ProtocolSEP6 {
		return invalidParams("instructions are only supported for protocol[%s]", domain.ProtocolSEP6)
	}
	return nil
}

func (h *requestOffchainFunds) Apply(_ context.Context, txn *domain.Transaction, params *RequestOffchainFundsParams) error {
	h.processor.applyAmounts(txn, &params.Amounts)
	if len(params.Instructions) > 0 {
		if txn.Payload.SEP6 == nil {
			txn.Payload.SEP6 = &domain.SEP6Payload{}
		}
		txn.Payload.SEP6.Instructions = params.Instructions
	}
	return nil
}

// requireAmounts makes sure the transaction ends up with the amounts a user needs to see
// before sending funds.
func requireAmounts(txn *domain.Transaction, a *Amounts) error {
	if a.AmountIn == nil && !txn.AmountIn.Valid {
		return invalidParams("amount_in is required")
	}
	if a.AmountOut == nil && !txn.AmountOut.Valid && txn.Quote != nil {
		return invalidParams("amount_out is required for transactions with firm quotes")
	}
	if !a.hasFee() && !txn.AmountFee.Valid {
		return invalidParams("amount_fee or fee_details is required")
	}
	return nil
}

type RequestOnchainFundsParams struct {
	BaseParams
	Amounts
	Memo               string `json:"memo,omitempty"`
	MemoType           string `json:"memo_type,omitempty"`
	DestinationAccount string `json:"destination_account,omitempty"`
}

type requestOnchainFunds struct {
	descriptor
	defaults[*RequestOnchainFundsParams]
	processor *Processor
}

func newRequestOnchainFunds(p *Processor) *requestOnchainFunds {
	return &requestOnchainFunds{
		descriptor: descriptor{MethodRequestOnchainFunds, domain.AllProtocols, withdrawalOrReceive},
		processor:  p,
	}
}

func (h *requestOnchainFunds) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if isSEP31(txn) {
		return domain.NewStatusSet(ifNotReceived(txn, domain.StatusPendingReceiver)...)
	}
	set := domain.NewStatusSet(domain.StatusIncomplete).With(ifNotReceived(txn, domain.StatusPendingAnchor)...)
	if txn.Protocol == domain.ProtocolSEP6 {
		// A SEP-6 withdrawal may be asked for more customer info even after funds arrived.
		set = set.With(domain.StatusPendingCustomerInfoUpdate)
	}
	return set
}

func (h *requestOnchainFunds) NextStatus(txn *domain.Transaction, _ *RequestOnchainFundsParams) (domain.Status, error) {
	if isSEP31(txn) {
		return domain.StatusPendingSender, nil
	}
	return domain.StatusPendingUserTransferStart, nil
}

func (h *requestOnchainFunds) Validate(txn *domain.Transaction, params *RequestOnchainFundsParams) error {
	if err := params.allOrNone(); err != nil {
		return err
	}
	rules := amountRules{in: stellarAsset, out: offchainAsset, fee: stellarAsset}
	if err := h.processor.validateAmounts(txn, &params.Amounts, rules); err != nil {
		return err
	}
	if err := requireAmounts(txn, &params.Amounts); err != nil {
		return err
	}
	if params.MemoType != "" || params.Memo != "" {
		if err := domain.ValidateMemo(params.Memo, params.MemoType); err != nil {
			return invalidParams("%s", err.Error())
		}
	}
	return nil
}

func (h *requestOnchainFunds) Apply(ctx context.Context, txn *domain.Transaction, params *RequestOnchainFundsParams) error {
	h.processor.applyAmounts(txn, &params.Amounts)

	info, err := h.depositInfo(ctx, txn, params)
	if err != nil {
		return err
	}
	if h.processor.custodyEnabled() && !h.processor.custody.IsMemoTypeSupported(info.MemoType) {
		return invalidParams("Memo type[%s] is not supported for custody", info.MemoType)
	}

	txn.Memo, txn.MemoType = info.Memo, info.MemoType
	if isSEP31(txn) {
		txn.ToAccount = info.Address
	} else {
		txn.WithdrawAnchorAccount = info.Address
		txn.ToAccount = info.Address
	}
	return nil
}

func (h *requestOnchainFunds) depositInfo(ctx context.Context, txn *domain.Transaction, params *RequestOnchainFundsParams) (domain.DepositInfo, error) {
	gen := h.processor.depositInfo[txn.Protocol]
	if gen != nil {
		info, err := gen.Generate(ctx, txn)
		if err == nil {
			return info, nil
		}
		if !stderrors.Is(err, domain.ErrDepositInfoDisabled) {
			return domain.DepositInfo{}, fmt.Errorf("generate deposit info: %w", err)
		}
	}
	if params.DestinationAccount == "" {
		return domain.DepositInfo{}, invalidParams("destination_account is required")
	}
	if params.MemoType == "" {
		return domain.DepositInfo{}, invalidParams("memo_type is required")
	}
	if params.MemoType != domain.MemoTypeNone && params.Memo == "" {
		return domain.DepositInfo{}, invalidParams("memo is required")
	}
	return domain.DepositInfo{Address: params.DestinationAccount, Memo: params.Memo, MemoType: params.MemoType}, nil
}

func (h *requestOnchainFunds) SideEffect(ctx context.Context, txn *domain.Transaction, _ *RequestOnchainFundsParams) error {
	if !h.processor.custodyEnabled() {
		return nil
	}
	return h.processor.custody.CreateTransaction(ctx, txn)
}

type NotifyOffchainFundsReceivedParams struct {
	BaseParams
	Amounts
	FundsReceivedAt       *time.Time `json:"funds_received_at,omitempty"`
	ExternalTransactionID string     `json:"external_transaction_id,omitempty"`
}

type notifyOffchainFundsReceived struct {
	descriptor
	defaults[*NotifyOffchainFundsReceivedParams]
	processor *Processor
}

func newNotifyOffchainFundsReceived(p *Processor) *notifyOffchainFundsReceived {
	return &notifyOffchainFundsReceived{
		descriptor: descriptor{MethodNotifyOffchainFundsReceived, sep6And24, domain.DepositKinds},
		processor:  p,
	}
}

func (h *notifyOffchainFundsReceived) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(domain.StatusPendingUserTransferStart, domain.StatusOnHold).
		With(ifNotReceived(txn, domain.StatusPendingExternal)...)
}

func (h *notifyOffchainFundsReceived) NextStatus(*domain.Transaction, *NotifyOffchainFundsReceivedParams) (domain.Status, error) {
	return domain.StatusPendingAnchor, nil
}

func (h *notifyOffchainFundsReceived) Validate(txn *domain.Transaction, params *NotifyOffchainFundsReceivedParams) error {
	if err := params.allOrNone(); err != nil {
		return err
	}
	rules := amountRules{in: offchainAsset, out: stellarAsset, fee: offchainAsset}
	return h.processor.validateAmounts(txn, &params.Amounts, rules)
}

func (h *notifyOffchainFundsReceived) Apply(_ context.Context, txn *domain.Transaction, params *NotifyOffchainFundsReceivedParams) error {
	txn.SetExternalTransactionID(params.ExternalTransactionID)
	txn.MarkFundsReceived(h.processor.receivedAt(params.FundsReceivedAt))
	h.processor.applyAmounts(txn, &params.Amounts)
	return nil
}

func (h *notifyOffchainFundsReceived) SideEffect(ctx context.Context, txn *domain.Transaction, _ *NotifyOffchainFundsReceivedParams) error {
	if !h.processor.custodyEnabled() {
		return nil
	}
	return h.processor.custody.CreateTransaction(ctx, txn)
}

type NotifyOnchainFundsReceivedParams struct {
	BaseParams
	Amounts
	StellarTransactionID string `json:"stellar_transaction_id" validate:"required"`
}

type notifyOnchainFundsReceived struct {
	descriptor
	defaults[*NotifyOnchainFundsReceivedParams]
	processor *Processor
}

func newNotifyOnchainFundsReceived(p *Processor) *notifyOnchainFundsReceived {
	return &notifyOnchainFundsReceived{
		descriptor: descriptor{MethodNotifyOnchainFundsReceived, domain.AllProtocols, withdrawalOrReceive},
		processor:  p,
	}
}

func (h *notifyOnchainFundsReceived) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if isSEP31(txn) {
		return domain.NewStatusSet(domain.StatusPendingSender)
	}
	return domain.NewStatusSet(domain.StatusPendingUserTransferStart, domain.StatusOnHold)
}

func (h *notifyOnchainFundsReceived) NextStatus(txn *domain.Transaction, _ *NotifyOnchainFundsReceivedParams) (domain.Status, error) {
	if isSEP31(txn) {
		return domain.StatusPendingReceiver, nil
	}
	return domain.StatusPendingAnchor, nil
}

func (h *notifyOnchainFundsReceived) Validate(txn *domain.Transaction, params *NotifyOnchainFundsReceivedParams) error {
	if err := params.allOrNone(); err != nil {
		return err
	}
	rules := amountRules{in: stellarAsset, out: offchainAsset, fee: stellarAsset}
	return h.processor.validateAmounts(txn, &params.Amounts, rules)
}

func (h *notifyOnchainFundsReceived) Apply(_ context.Context, txn *domain.Transaction, params *NotifyOnchainFundsReceivedParams) error {
	txn.SetOnChainTransactionID(params.StellarTransactionID)
	txn.MarkFundsReceived(h.processor.now())
	h.processor.applyAmounts(txn, &params.Amounts)
	return nil
}

type NotifyOnchainFundsSentParams struct {
	BaseParams
	StellarTransactionID string `json:"stellar_transaction_id" validate:"required"`
}

type notifyOnchainFundsSent struct {
	descriptor
	defaults[*NotifyOnchainFundsSentParams]
}

func newNotifyOnchainFundsSent() *notifyOnchainFundsSent {
	return &notifyOnchainFundsSent{
		descriptor: descriptor{MethodNotifyOnchainFundsSent, sep6And24, domain.DepositKinds},
	}
}

func (h *notifyOnchainFundsSent) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(domain.StatusPendingStellar).With(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *notifyOnchainFundsSent) NextStatus(*domain.Transaction, *NotifyOnchainFundsSentParams) (domain.Status, error) {
	return domain.StatusCompleted, nil
}

func (h *notifyOnchainFundsSent) Apply(_ context.Context, txn *domain.Transaction, params *NotifyOnchainFundsSentParams) error {
	txn.SetOnChainTransactionID(params.StellarTransactionID)
	return nil
}

type NotifyOffchainFundsSentParams struct {
	BaseParams
	FundsSentAt           *time.Time `json:"funds_sent_at,omitempty"`
	ExternalTransactionID string     `json:"external_transaction_id,omitempty"`
}

type notifyOffchainFundsSent struct {
	descriptor
	defaults[*NotifyOffchainFundsSentParams]
	processor *Processor
}

func newNotifyOffchainFundsSent(p *Processor) *notifyOffchainFundsSent {
	return &notifyOffchainFundsSent{
		descriptor: descriptor{MethodNotifyOffchainFundsSent, domain.AllProtocols, withdrawalOrReceive},
		processor:  p,
	}
}

func (h *notifyOffchainFundsSent) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if isSEP31(txn) {
		return domain.NewStatusSet(domain.StatusPendingReceiver, domain.StatusPendingExternal)
	}
	return domain.NewStatusSet(domain.StatusPendingExternal, domain.StatusPendingUserTransferComplete).
		With(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *notifyOffchainFundsSent) NextStatus(*domain.Transaction, *NotifyOffchainFundsSentParams) (domain.Status, error) {
	return domain.StatusCompleted, nil
}

func (h *notifyOffchainFundsSent) Apply(_ context.Context, txn *domain.Transaction, params *NotifyOffchainFundsSentParams) error {
	txn.SetExternalTransactionID(params.ExternalTransactionID)
	txn.MarkFundsReceived(h.processor.receivedAt(params.FundsSentAt))
	return nil
}

type NotifyOffchainFundsPendingParams struct {
	BaseParams
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
}

type notifyOffchainFundsPending struct {
	descriptor
	defaults[*NotifyOffchainFundsPendingParams]
}

func newNotifyOffchainFundsPending() *notifyOffchainFundsPending {
	return &notifyOffchainFundsPending{
		descriptor: descriptor{MethodNotifyOffchainFundsPending, domain.AllProtocols, withdrawalOrReceive},
	}
}

func (h *notifyOffchainFundsPending) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if isSEP31(txn) {
		return domain.NewStatusSet(domain.StatusPendingReceiver)
	}
	return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *notifyOffchainFundsPending) NextStatus(*domain.Transaction, *NotifyOffchainFundsPendingParams) (domain.Status, error) {
	return domain.StatusPendingExternal, nil
}

func (h *notifyOffchainFundsPending) Apply(_ context.Context, txn *domain.Transaction, params *NotifyOffchainFundsPendingParams) error {
	txn.SetExternalTransactionID(params.ExternalTransactionID)
	return nil
}

type NotifyOffchainFundsAvailableParams struct {
	BaseParams
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
}

type notifyOffchainFundsAvailable struct {
	descriptor
	defaults[*NotifyOffchainFundsAvailableParams]
}

func newNotifyOffchainFundsAvailable() *notifyOffchainFundsAvailable {
	return &notifyOffchainFundsAvailable{
		descriptor: descriptor{MethodNotifyOffchainFundsAvailable, sep6And24, domain.WithdrawalKinds},
	}
}

func (h *notifyOffchainFundsAvailable) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingAnchor, domain.StatusOnHold)...)
}

func (h *notifyOffchainFundsAvailable) NextStatus(*domain.Transaction, *NotifyOffchainFundsAvailableParams) (domain.Status, error) {
	return domain.StatusPendingUserTransferComplete, nil
}

func (h *notifyOffchainFundsAvailable) Apply(_ context.Context, txn *domain.Transaction, params *NotifyOffchainFundsAvailableParams) error {
	txn.SetExternalTransactionID(params.ExternalTransactionID)
	return nil
}

type NotifyInteractiveFlowCompletedParams struct {
	BaseParams
	Amounts
}

type notifyInteractiveFlowCompleted struct {
	descriptor
	defaults[*NotifyInteractiveFlowCompletedParams]
	processor *Processor
}

func newNotifyInteractiveFlowCompleted(p *Processor) *notifyInteractiveFlowCompleted {
	return &notifyInteractiveFlowCompleted{
		descriptor: descriptor{MethodNotifyInteractiveFlowCompleted, sep24Only, []domain.Kind{domain.KindDeposit, domain.KindWithdrawal}},
		processor:  p,
	}
}

func (h *notifyInteractiveFlowCompleted) SupportedStatuses(*domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(domain.StatusIncomplete)
}

func (h *notifyInteractiveFlowCompleted) NextStatus(*domain.Transaction, *NotifyInteractiveFlowCompletedParams) (domain.Status, error) {
	return domain.StatusPendingAnchor, nil
}

func (h *notifyInteractiveFlowCompleted) Validate(txn *domain.Transaction, params *NotifyInteractiveFlowCompletedParams) error {
	if params.AmountIn == nil {
		return invalidParams("amount_in is required")
	}
	if !params.hasFee() {
		return invalidParams("amount_fee or fee_details is required")
	}
	rules := amountRules{in: offchainAsset, out: stellarAsset, fee: offchainAsset}
	if txn.Kind.IsWithdrawal() {
		rules = amountRules{in: stellarAsset, out: offchainAsset, fee: stellarAsset}
	}
	return h.processor.validateAmounts(txn, &params.Amounts, rules)
}

func (h *notifyInteractiveFlowCompleted) Apply(_ context.Context, txn *domain.Transaction, params *NotifyInteractiveFlowCompletedParams) error {
	h.processor.applyAmounts(txn, &params.Amounts)
	return nil
}

type NotifyAmountsUpdatedParams struct {
	BaseParams
	AmountOut  *AmountAsset `json:"amount_out" validate:"required"`
	AmountFee  *AmountAsset `json:"amount_fee,omitempty"`
	FeeDetails *FeeDetails  `json:"fee_details,omitempty"`
}

func (p *NotifyAmountsUpdatedParams) amounts() *Amounts {
	return &Amounts{AmountOut: p.AmountOut, AmountFee: p.AmountFee, FeeDetails: p.FeeDetails}
}

// notifyAmountsUpdated corrects amount_out and the fee after funds arrived; it is the only
// action allowed to lower an amount.
type notifyAmountsUpdated struct {
	descriptor
	defaults[*NotifyAmountsUpdatedParams]
	processor *Processor
}

func newNotifyAmountsUpdated(p *Processor) *notifyAmountsUpdated {
	return &notifyAmountsUpdated{
		descriptor: descriptor{MethodNotifyAmountsUpdated, sep6And24, domain.WithdrawalKinds},
		processor:  p,
	}
}

func (h *notifyAmountsUpdated) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *notifyAmountsUpdated) NextStatus(*domain.Transaction, *NotifyAmountsUpdatedParams) (domain.Status, error) {
	return domain.StatusPendingAnchor, nil
}

func (h *notifyAmountsUpdated) Validate(txn *domain.Transaction, params *NotifyAmountsUpdatedParams) error {
	if params.AmountFee == nil && params.FeeDetails == nil {
		return invalidParams("amount_fee or fee_details is required")
	}
	rules := amountRules{in: stellarAsset, out: offchainAsset, fee: stellarAsset}
	return h.processor.validateAmounts(txn, params.amounts(), rules)
}

func (h *notifyAmountsUpdated) Apply(_ context.Context, txn *domain.Transaction, params *NotifyAmountsUpdatedParams) error {
	h.processor.applyAmounts(txn, params.amounts())
	return nil
}

type NotifyAmountsAssetsUpdatedParams struct {
	BaseParams
	AmountIn  *AmountAsset `json:"amount_in" validate:"required"`
	AmountOut *AmountAsset `json:"amount_out" validate:"required"`
	AmountFee *AmountAsset `json:"amount_fee" validate:"required"`
}

func (p *NotifyAmountsAssetsUpdatedParams) amounts() *Amounts {
	return &Amounts{AmountIn: p.AmountIn, AmountOut: p.AmountOut, AmountFee: p.AmountFee}
}

// notifyAmountsAssetsUpdated replaces all three amounts of a SEP-6 transaction together with
// their assets, e.g. once the customer picked the asset they are paid in.
type notifyAmountsAssetsUpdated struct {
	descriptor
	defaults[*NotifyAmountsAssetsUpdatedParams]
	processor *Processor
}

func newNotifyAmountsAssetsUpdated(p *Processor) *notifyAmountsAssetsUpdated {
	return &notifyAmountsAssetsUpdated{
		descriptor: descriptor{
			MethodNotifyAmountsAssetsUpdated,
			[]domain.Protocol{domain.ProtocolSEP6},
			domain.ProtocolSEP6.Kinds(),
		},
		processor: p,
	}
}

func (h *notifyAmountsAssetsUpdated) SupportedStatuses(*domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(domain.StatusIncomplete, domain.StatusPendingAnchor, domain.StatusPendingCustomerInfoUpdate)
}

func (h *notifyAmountsAssetsUpdated) NextStatus(*domain.Transaction, *NotifyAmountsAssetsUpdatedParams) (domain.Status, error) {
	return domain.StatusPendingAnchor, nil
}

// Validate requires an explicit asset on every amount; nothing falls back to the stored ones.
func (h *notifyAmountsAssetsUpdated) Validate(_ *domain.Transaction, params *NotifyAmountsAssetsUpdatedParams) error {
	for _, a := range []struct {
		field     string
		value     *AmountAsset
		allowZero bool
	}{
		{"amount_in", params.AmountIn, false},
		{"amount_out", params.AmountOut, false},
		{"amount_fee", params.AmountFee, true},
	} {
		if a.value.Asset == "" {
			return invalidParams("%s.asset is required", a.field)
		}
		if err := h.processor.checkAmount(a.field, a.value, "", a.allowZero, anyAsset); err != nil {
			return err
		}
	}
	return nil
}

func (h *notifyAmountsAssetsUpdated) Apply(_ context.Context, txn *domain.Transaction, params *NotifyAmountsAssetsUpdatedParams) error {
	h.processor.applyAmounts(txn, params.amounts())
	return nil
}

// receivedAt picks the caller-supplied time when present.
func (p *Processor) receivedAt(at *time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return *at
	}
	return p.now()
}
