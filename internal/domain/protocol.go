package domain

import "slices"

// Protocol is the transaction's protocol family. It never changes after intake.
type Protocol string

const (
	ProtocolSEP6  Protocol = "sep6"
	ProtocolSEP24 Protocol = "sep24"
	ProtocolSEP31 Protocol = "sep31"
)

var AllProtocols = []Protocol{ProtocolSEP6, ProtocolSEP24, ProtocolSEP31}

type Kind string

const (
	KindDeposit            Kind = "deposit"
	KindWithdrawal         Kind = "withdrawal"
	KindDepositExchange    Kind = "deposit-exchange"
	KindWithdrawalExchange Kind = "withdrawal-exchange"
	KindReceive            Kind = "receive"
)

var (
	DepositKinds    = []Kind{KindDeposit, KindDepositExchange}
	WithdrawalKinds = []Kind{KindWithdrawal, KindWithdrawalExchange}
	AllKinds        = []Kind{KindDeposit, KindWithdrawal, KindDepositExchange, KindWithdrawalExchange, KindReceive}
)

var protocolKinds = map[Protocol][]Kind{
	ProtocolSEP6:  {KindDeposit, KindWithdrawal, KindDepositExchange, KindWithdrawalExchange},
	ProtocolSEP24: {KindDeposit, KindWithdrawal},
	ProtocolSEP31: {KindReceive},
}

func (p Protocol) Valid() bool {
	_, ok := protocolKinds[p]
	return ok
}

// Kinds returns the kinds a protocol family can carry.
func (p Protocol) Kinds() []Kind {
	return slices.Clone(protocolKinds[p])
}

func (p Protocol) Supports(k Kind) bool {
	return slices.Contains(protocolKinds[p], k)
}

func (k Kind) IsDeposit() bool {
	return k == KindDeposit || k == KindDepositExchange
}

func (k Kind) IsWithdrawal() bool {
	return k == KindWithdrawal || k == KindWithdrawalExchange
}

func (k Kind) IsExchange() bool {
	return k == KindDepositExchange || k == KindWithdrawalExchange
}
