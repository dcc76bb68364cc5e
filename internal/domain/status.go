package domain

import "slices"

type Status string

const (
	StatusIncomplete                   Status = "incomplete"
	StatusPendingUserTransferStart     Status = "pending_user_transfer_start"
	StatusPendingUserTransferComplete  Status = "pending_user_transfer_complete"
	StatusPendingAnchor                Status = "pending_anchor"
	StatusPendingTrust                 Status = "pending_trust"
	StatusPendingUser                  Status = "pending_user"
	StatusPendingExternal              Status = "pending_external"
	StatusPendingStellar               Status = "pending_stellar"
	StatusPendingSender                Status = "pending_sender"
	StatusPendingReceiver              Status = "pending_receiver"
	StatusPendingCustomerInfoUpdate    Status = "pending_customer_info_update"
	StatusPendingTransactionInfoUpdate Status = "pending_transaction_info_update"
	StatusOnHold                       Status = "on_hold"
	StatusNoMarket                     Status = "no_market"
	StatusTooSmall                     Status = "too_small"
	StatusTooLarge                     Status = "too_large"
	StatusCompleted                    Status = "completed"
	StatusRefunded                     Status = "refunded"
	StatusExpired                      Status = "expired"
	StatusError                        Status = "error"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusIncomplete,
	StatusPendingUserTransferStart,
	StatusPendingUserTransferComplete,
	StatusPendingAnchor,
	StatusPendingTrust,
	StatusPendingUser,
	StatusPendingExternal,
	StatusPendingStellar,
	StatusPendingSender,
	StatusPendingReceiver,
	StatusPendingCustomerInfoUpdate,
	StatusPendingTransactionInfoUpdate,
	StatusOnHold,
	StatusNoMarket,
	StatusTooSmall,
	StatusTooLarge,
	StatusCompleted,
	StatusRefunded,
	StatusExpired,
	StatusError,
}

func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// IsTerminal reports whether no action may move the transaction out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// IsError reports statuses that require a human-readable message.
func (s Status) IsError() bool {
	return s == StatusError || s == StatusExpired
}

// IsFinal reports statuses that stamp CompletedAt.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// StatusSet is the set of statuses an action accepts as its source.
type StatusSet []Status

func NewStatusSet(statuses ...Status) StatusSet {
	return StatusSet(statuses)
}

func (s StatusSet) Has(status Status) bool {
	return slices.Contains(s, status)
}

// With returns a new set with extra appended; s is left untouched.
func (s StatusSet) With(extra ...Status) StatusSet {
	out := make(StatusSet, 0, len(s)+len(extra))
	out = append(out, s...)
	for _, st := range extra {
		if !out.Has(st) {
			out = append(out, st)
		}
	}
	return out
}

// NonTerminal returns every status from which the transaction can still move.
func NonTerminal() StatusSet {
	out := make(StatusSet, 0, len(AllStatuses))
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}
