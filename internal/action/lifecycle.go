package action

import (
	"context"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

type NotifyTrustSetParams struct {
	BaseParams
	// Success defaults to true when omitted.
	Success *bool `json:"success,omitempty"`
}

func (p *NotifyTrustSetParams) succeeded() bool {
	return p.Success == nil || *p.Success
}

type notifyTrustSet struct {
	descriptor
	defaults[*NotifyTrustSetParams]
	processor *Processor
}

func newNotifyTrustSet(p *Processor) *notifyTrustSet {
	return &notifyTrustSet{
		descriptor: descriptor{MethodNotifyTrustSet, sep24Only, []domain.Kind{domain.KindDeposit}},
		processor:  p,
	}
}

func (h *notifyTrustSet) SupportedStatuses(*domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(domain.StatusPendingTrust)
}

func (h *notifyTrustSet) NextStatus(_ *domain.Transaction, params *NotifyTrustSetParams) (domain.Status, error) {
	if h.processor.custodyEnabled() && params.succeeded() {
		return domain.StatusPendingStellar, nil
	}
	return domain.StatusPendingAnchor, nil
}

func (h *notifyTrustSet) SideEffect(ctx context.Context, txn *domain.Transaction, params *NotifyTrustSetParams) error {
	if !h.processor.custodyEnabled() || !params.succeeded() {
		return nil
	}
	return h.processor.custody.CreateTransactionPayment(ctx, txn)
}

type RequestTrustParams struct {
	BaseParams
}

type requestTrust struct {
	descriptor
	defaults[*RequestTrustParams]
}

func newRequestTrust() *requestTrust {
	return &requestTrust{
		descriptor: descriptor{MethodRequestTrust, sep24Only, []domain.Kind{domain.KindDeposit}},
	}
}

func (h *requestTrust) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *requestTrust) NextStatus(*domain.Transaction, *RequestTrustParams) (domain.Status, error) {
	return domain.StatusPendingTrust, nil
}

type DoStellarPaymentParams struct {
	BaseParams
}

type doStellarPayment struct {
	descriptor
	defaults[*DoStellarPaymentParams]
	processor *Processor
}

func newDoStellarPayment(p *Processor) *doStellarPayment {
	return &doStellarPayment{
		descriptor: descriptor{MethodDoStellarPayment, sep6And24, domain.DepositKinds},
		processor:  p,
	}
}

func (h *doStellarPayment) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(ifReceived(txn, domain.StatusPendingAnchor)...)
}

func (h *doStellarPayment) NextStatus(*domain.Transaction, *DoStellarPaymentParams) (domain.Status, error) {
	return domain.StatusPendingStellar, nil
}

func (h *doStellarPayment) Validate(*domain.Transaction, *DoStellarPaymentParams) error {
	if !h.processor.custodyEnabled() {
		return errors.ErrCustodyDisabled
	}
	return nil
}

func (h *doStellarPayment) SideEffect(ctx context.Context, txn *domain.Transaction, _ *DoStellarPaymentParams) error {
	return h.processor.custody.CreateTransactionPayment(ctx, txn)
}

const (
	CustomerStatusAccepted   = "accepted"
	CustomerStatusProcessing = "processing"
	CustomerStatusNeedsInfo  = "needs_info"
	CustomerStatusRejected   = "rejected"
)

type NotifyCustomerInfoUpdatedParams struct {
	BaseParams
	CustomerID     string `json:"customer_id,omitempty"`
	CustomerStatus string `json:"customer_status,omitempty" validate:"omitempty,oneof=accepted processing needs_info rejected"`
}

type notifyCustomerInfoUpdated struct {
	descriptor
	defaults[*NotifyCustomerInfoUpdatedParams]
}

func newNotifyCustomerInfoUpdated() *notifyCustomerInfoUpdated {
	return &notifyCustomerInfoUpdated{
		descriptor: descriptor{
			MethodNotifyCustomerInfoUpdated,
			[]domain.Protocol{domain.ProtocolSEP6, domain.ProtocolSEP31},
			domain.AllKinds,
		},
	}
}

func (h *notifyCustomerInfoUpdated) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	if isSEP31(txn) {
		return domain.NewStatusSet(domain.StatusPendingReceiver, domain.StatusPendingCustomerInfoUpdate)
	}
	return domain.NewStatusSet(domain.StatusIncomplete, domain.StatusPendingAnchor, domain.StatusPendingCustomerInfoUpdate)
}

func (h *notifyCustomerInfoUpdated) NextStatus(txn *domain.Transaction, params *NotifyCustomerInfoUpdatedParams) (domain.Status, error) {
	switch params.CustomerStatus {
	case CustomerStatusNeedsInfo:
		return domain.StatusPendingCustomerInfoUpdate, nil
	case CustomerStatusRejected:
		return domain.StatusError, nil
	}
	if isSEP31(txn) {
		return domain.StatusPendingReceiver, nil
	}
	return domain.StatusPendingAnchor, nil
}

func (h *notifyCustomerInfoUpdated) Apply(_ context.Context, txn *domain.Transaction, params *NotifyCustomerInfoUpdatedParams) error {
	switch txn.Protocol {
	case domain.ProtocolSEP6:
		if txn.Payload.SEP6 == nil {
			txn.Payload.SEP6 = &domain.SEP6Payload{}
		}
		if params.CustomerID != "" {
			txn.Payload.SEP6.CustomerID = params.CustomerID
		}
	case domain.ProtocolSEP31:
		if txn.Payload.SEP31 == nil {
			txn.Payload.SEP31 = &domain.SEP31Payload{}
		}
		if params.CustomerID != "" {
			txn.Payload.SEP31.CustomerID = params.CustomerID
		}
		if params.CustomerStatus != "" {
			txn.Payload.SEP31.CustomerStatus = params.CustomerStatus
		}
	}
	return nil
}

type NotifyTransactionOnHoldParams struct {
	BaseParams
}

type notifyTransactionOnHold struct {
	descriptor
	defaults[*NotifyTransactionOnHoldParams]
}

func newNotifyTransactionOnHold() *notifyTransactionOnHold {
	return &notifyTransactionOnHold{
		descriptor: descriptor{MethodNotifyTransactionOnHold, sep6And24, depositOrWithdrawal},
	}
}

func (h *notifyTransactionOnHold) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	set := domain.NewStatusSet(domain.StatusPendingUserTransferStart)
	if txn.Kind.IsWithdrawal() {
		set = set.With(domain.StatusPendingAnchor)
	}
	return set
}

func (h *notifyTransactionOnHold) NextStatus(*domain.Transaction, *NotifyTransactionOnHoldParams) (domain.Status, error) {
	return domain.StatusOnHold, nil
}

type NotifyTransactionErrorParams struct {
	BaseParams
}

type notifyTransactionError struct {
	descriptor
	defaults[*NotifyTransactionErrorParams]
}

func newNotifyTransactionError() *notifyTransactionError {
	return &notifyTransactionError{
		descriptor: descriptor{MethodNotifyTransactionError, domain.AllProtocols, domain.AllKinds},
	}
}

func (h *notifyTransactionError) SupportedStatuses(*domain.Transaction) domain.StatusSet {
	var set domain.StatusSet
	for _, s := range domain.NonTerminal() {
		if !s.IsError() {
			set = append(set, s)
		}
	}
	return set
}

func (h *notifyTransactionError) NextStatus(*domain.Transaction, *NotifyTransactionErrorParams) (domain.Status, error) {
	return domain.StatusError, nil
}

func (h *notifyTransactionError) RequiresMessage() bool { return true }

type NotifyTransactionRecoveryParams struct {
	BaseParams
}

type notifyTransactionRecovery struct {
	descriptor
	defaults[*NotifyTransactionRecoveryParams]
}

func newNotifyTransactionRecovery() *notifyTransactionRecovery {
	return &notifyTransactionRecovery{
		descriptor: descriptor{MethodNotifyTransactionRecovery, domain.AllProtocols, domain.AllKinds},
	}
}

func (h *notifyTransactionRecovery) SupportedStatuses(txn *domain.Transaction) domain.StatusSet {
	return domain.NewStatusSet(ifReceived(txn, domain.StatusError)...)
}

func (h *notifyTransactionRecovery) NextStatus(txn *domain.Transaction, _ *NotifyTransactionRecoveryParams) (domain.Status, error) {
	if isSEP31(txn) {
		return domain.StatusPendingReceiver, nil
	}
	return domain.StatusPendingAnchor, nil
}

type NotifyTransactionExpiredParams struct {
	BaseParams
}

type notifyTransactionExpired struct {
	descriptor
	defaults[*NotifyTransactionExpiredParams]
}

func newNotifyTransactionExpired() *notifyTransactionExpired {
	return &notifyTransactionExpired{
		descriptor: descriptor{MethodNotifyTransactionExpired, domain.AllProtocols, domain.AllKinds},
	}
}

func (h *notifyTransactionExpired) SupportedStatuses(*domain.Transaction) domain.StatusSet {
	return domain.NonTerminal()
}

func (h *notifyTransactionExpired) NextStatus(*domain.Transaction, *NotifyTransactionExpiredParams) (domain.Status, error) {
	return domain.StatusExpired, nil
}

func (h *notifyTransactionExpired) RequiresMessage() bool { return true }
