// Package action implements the transaction state machine: one handler per RPC method,
// each declaring which protocols, kinds and source statuses it accepts, and a processor
// that applies a handler to a locked transaction as a single atomic update.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

type Method string

const (
	MethodRequestOffchainFunds           Method = "request_offchain_funds"
	MethodRequestOnchainFunds            Method = "request_onchain_funds"
	MethodNotifyOffchainFundsReceived    Method = "notify_offchain_funds_received"
	MethodNotifyOnchainFundsReceived     Method = "notify_onchain_funds_received"
	MethodNotifyOnchainFundsSent         Method = "notify_onchain_funds_sent"
	MethodNotifyOffchainFundsSent        Method = "notify_offchain_funds_sent"
	MethodNotifyOffchainFundsPending     Method = "notify_offchain_funds_pending"
	MethodNotifyOffchainFundsAvailable   Method = "notify_offchain_funds_available"
	MethodNotifyRefundPending            Method = "notify_refund_pending"
	MethodNotifyRefundSent               Method = "notify_refund_sent"
	MethodNotifyTrustSet                 Method = "notify_trust_set"
	MethodRequestTrust                   Method = "request_trust"
	MethodDoStellarPayment               Method = "do_stellar_payment"
	MethodNotifyInteractiveFlowCompleted Method = "notify_interactive_flow_completed"
	MethodNotifyAmountsUpdated           Method = "notify_amounts_updated"
	MethodNotifyCustomerInfoUpdated      Method = "notify_customer_info_updated"
	MethodNotifyTransactionOnHold        Method = "notify_transaction_on_hold"
	MethodNotifyTransactionError         Method = "notify_transaction_error"
	MethodNotifyTransactionRecovery      Method = "notify_transaction_recovery"
	MethodNotifyTransactionExpired       Method = "notify_transaction_expired"
	MethodDoStellarRefund                Method = "do_stellar_refund"
	MethodNotifyAmountsAssetsUpdated     Method = "notify_amounts_assets_updated"
	MethodGetTransactions                Method = "get_transactions"
)

// Params is implemented by every request payload through an embedded BaseParams.
type Params interface {
	base() *BaseParams
}

type BaseParams struct {
	TransactionID string `json:"transaction_id" validate:"required,uuid"`
	Message       string `json:"message,omitempty"`
}

func (b *BaseParams) base() *BaseParams { return b }

// Handler is the legality table and mutation logic of one method.
//
// SupportedStatuses must be a pure function of the transaction's protocol, kind and
// TransferReceivedAt. Validate and NextStatus must not mutate txn. Apply writes fields on a
// copy of the stored transaction; SideEffect runs after the new status is set and before
// anything is persisted.
type Handler[P Params] interface {
	Method() Method
	Protocols() []domain.Protocol
	Kinds() []domain.Kind
	SupportedStatuses(txn *domain.Transaction) domain.StatusSet
	NextStatus(txn *domain.Transaction, params P) (domain.Status, error)
	RequiresMessage() bool
	Validate(txn *domain.Transaction, params P) error
	Apply(ctx context.Context, txn *domain.Transaction, params P) error
	SideEffect(ctx context.Context, txn *domain.Transaction, params P) error
}

// defaults provides the no-op parts of Handler.
type defaults[P Params] struct{}

func (defaults[P]) RequiresMessage() bool { return false }

func (defaults[P]) Validate(*domain.Transaction, P) error { return nil }

func (defaults[P]) Apply(context.Context, *domain.Transaction, P) error { return nil }

func (defaults[P]) SideEffect(context.Context, *domain.Transaction, P) error { return nil }

// Action is a handler bound to a processor, callable with raw JSON params. State-changing
// actions return the updated *domain.Transaction; queries return their own result type.
type Action interface {
	Method() Method
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

type boundAction[T any, P interface {
	*T
	Params
}] struct {
	processor *Processor
	handler   Handler[P]
}

// Bind adapts a typed handler to the untyped Action used by the dispatcher.
func Bind[T any, P interface {
	*T
	Params
}](processor *Processor, handler Handler[P]) Action {
	return &boundAction[T, P]{processor: processor, handler: handler}
}

func (a *boundAction[T, P]) Method() Method {
	return a.handler.Method()
}

func (a *boundAction[T, P]) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	params := P(new(T))
	if err := decodeParams(a.processor, raw, params); err != nil {
		return nil, err
	}
	txn, err := run(ctx, a.processor, a.handler, params)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func decodeParams(p *Processor, raw json.RawMessage, params any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return errors.NewAppError(errors.InvalidParams, "params are required")
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return errors.Wrap(errors.InvalidParams, "malformed params", err)
	}
	if err := p.validate.Struct(params); err != nil {
		return errors.Wrap(errors.InvalidParams, "invalid params", err)
	}
	return nil
}

// Registry maps method names to actions. It is built once at start-up.
type Registry struct {
	actions map[Method]Action
}

func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{actions: make(map[Method]Action, len(actions))}
	for _, a := range actions {
		if _, dup := r.actions[a.Method()]; dup {
			return nil, fmt.Errorf("action %s registered twice", a.Method())
		}
		r.actions[a.Method()] = a
	}
	return r, nil
}

func (r *Registry) Lookup(method string) (Action, bool) {
	a, ok := r.actions[Method(method)]
	return a, ok
}

func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.actions))
	for m := range r.actions {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// NewDefaultRegistry binds every built-in handler to processor.
func NewDefaultRegistry(p *Processor) (*Registry, error) {
	return NewRegistry(
		Bind[RequestOffchainFundsParams, *RequestOffchainFundsParams](p, newRequestOffchainFunds(p)),
		Bind[RequestOnchainFundsParams, *RequestOnchainFundsParams](p, newRequestOnchainFunds(p)),
		Bind[NotifyOffchainFundsReceivedParams, *NotifyOffchainFundsReceivedParams](p, newNotifyOffchainFundsReceived(p)),
		Bind[NotifyOnchainFundsReceivedParams, *NotifyOnchainFundsReceivedParams](p, newNotifyOnchainFundsReceived(p)),
		Bind[NotifyOnchainFundsSentParams, *NotifyOnchainFundsSentParams](p, newNotifyOnchainFundsSent()),
		Bind[NotifyOffchainFundsSentParams, *NotifyOffchainFundsSentParams](p, newNotifyOffchainFundsSent(p)),
		Bind[NotifyOffchainFundsPendingParams, *NotifyOffchainFundsPendingParams](p, newNotifyOffchainFundsPending()),
		Bind[NotifyOffchainFundsAvailableParams, *NotifyOffchainFundsAvailableParams](p, newNotifyOffchainFundsAvailable()),
		Bind[NotifyRefundPendingParams, *NotifyRefundPendingParams](p, newNotifyRefundPending(p)),
		Bind[NotifyRefundSentParams, *NotifyRefundSentParams](p, newNotifyRefundSent(p)),
		Bind[NotifyTrustSetParams, *NotifyTrustSetParams](p, newNotifyTrustSet(p)),
		Bind[RequestTrustParams, *RequestTrustParams](p, newRequestTrust()),
		Bind[DoStellarPaymentParams, *DoStellarPaymentParams](p, newDoStellarPayment(p)),
		Bind[NotifyInteractiveFlowCompletedParams, *NotifyInteractiveFlowCompletedParams](p, newNotifyInteractiveFlowCompleted(p)),
		Bind[NotifyAmountsUpdatedParams, *NotifyAmountsUpdatedParams](p, newNotifyAmountsUpdated(p)),
		Bind[NotifyCustomerInfoUpdatedParams, *NotifyCustomerInfoUpdatedParams](p, newNotifyCustomerInfoUpdated()),
		Bind[NotifyTransactionOnHoldParams, *NotifyTransactionOnHoldParams](p, newNotifyTransactionOnHold()),
		Bind[NotifyTransactionErrorParams, *NotifyTransactionErrorParams](p, newNotifyTransactionError()),
		Bind[NotifyTransactionRecoveryParams, *NotifyTransactionRecoveryParams](p, newNotifyTransactionRecovery()),
		Bind[NotifyTransactionExpiredParams, *NotifyTransactionExpiredParams](p, newNotifyTransactionExpired()),
		Bind[DoStellarRefundParams, *DoStellarRefundParams](p, newDoStellarRefund(p)),
		Bind[NotifyAmountsAssetsUpdatedParams, *NotifyAmountsAssetsUpdatedParams](p, newNotifyAmountsAssetsUpdated(p)),
		newGetTransactions(p),
	)
}
