package action

import (
	"slices"

	"anchor-platform/internal/domain"
)

// descriptor carries the static routing data of a handler.
type descriptor struct {
	method    Method
	protocols []domain.Protocol
	kinds     []domain.Kind
}

func (d descriptor) Method() Method { return d.method }

func (d descriptor) Protocols() []domain.Protocol { return d.protocols }

func (d descriptor) Kinds() []domain.Kind { return d.kinds }

var (
	sep6And24 = []domain.Protocol{domain.ProtocolSEP6, domain.ProtocolSEP24}
	sep24Only = []domain.Protocol{domain.ProtocolSEP24}

	withdrawalOrReceive = append(slices.Clone(domain.WithdrawalKinds), domain.KindReceive)
)

func isSEP31(txn *domain.Transaction) bool {
	return txn.Protocol == domain.ProtocolSEP31
}

// ifReceived returns statuses only when incoming funds were confirmed.
func ifReceived(txn *domain.Transaction, statuses ...domain.Status) []domain.Status {
	if txn.FundsReceived() {
		return statuses
	}
	return nil
}

// ifNotReceived returns statuses only while incoming funds are still outstanding.
func ifNotReceived(txn *domain.Transaction, statuses ...domain.Status) []domain.Status {
	if txn.FundsReceived() {
		return nil
	}
	return statuses
}
