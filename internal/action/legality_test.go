package action

import (
	stderrors "errors"
	"slices"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

// legalityTable is the part of a handler that decides whether it may run at all.
type legalityTable interface {
	Protocols() []domain.Protocol
	Kinds() []domain.Kind
	SupportedStatuses(txn *domain.Transaction) domain.StatusSet
}

func (a *boundAction[T, P]) legality() legalityTable {
	return a.handler
}

// anyMethodParams satisfies the struct tags of every handler, so a request always gets as far
// as the legality check.
func anyMethodParams(id string) map[string]any {
	return map[string]any{
		"transaction_id":         id,
		"message":                "matrix",
		"stellar_transaction_id": "abc",
		"amount_in":              amount("10", usd),
		"amount_out":             amount("9", usdc),
		"amount_fee":             amount("1", usd),
		"refund": map[string]any{
			"id":         "r1",
			"amount":     amount("1", usd),
			"amount_fee": amount("0", usd),
		},
	}
}

func (s *ActionSuite) TestIllegalCombinationsLeaveTransactionUntouched() {
	for _, method := range s.registry.Methods() {
		a, _ := s.registry.Lookup(string(method))
		bound, ok := a.(interface{ legality() legalityTable })
		if !ok {
			continue
		}
		table := bound.legality()

		s.Run(string(method), func() {
			legal := 0
			for _, protocol := range domain.AllProtocols {
				for _, kind := range protocol.Kinds() {
					for _, status := range domain.AllStatuses {
						for _, funds := range []bool{false, true} {
							var mutate []func(*domain.Transaction)
							if funds {
								mutate = append(mutate, received)
							}
							txn := s.seed(protocol, kind, status, mutate...)

							want := errors.IllegalTransition
							switch {
							case !slices.Contains(table.Protocols(), protocol):
								want = errors.UnsupportedProtocol
							case !slices.Contains(table.Kinds(), kind):
								want = errors.UnsupportedActionForKind
							case !status.IsTerminal() && table.SupportedStatuses(txn).Has(status):
								legal++
								continue
							}

							before := s.stored(txn)
							_, err := s.exec(method, anyMethodParams(txn.ID.String()))
							s.requireCode(err, want)
							s.Equal(before, s.stored(txn), "%s/%s/%s funds received[%t]", protocol, kind, status, funds)
						}
					}
				}
			}
			s.Positive(legal, "%s accepts no combination at all", method)
		})
	}
	s.Empty(s.publisher.all())
}

func (s *ActionSuite) TestDepositInfoFailureKeepsAmounts() {
	s.depositGen = fixedDepositInfo{err: stderrors.New("address service down")}
	s.useProcessor(s.repo, nil)
	txn := s.seed(domain.ProtocolSEP24, domain.KindWithdrawal, domain.StatusIncomplete)
	before := s.stored(txn)

	_, err := s.exec(MethodRequestOnchainFunds, map[string]any{
		"transaction_id": txn.ID.String(),
		"amount_in":      amount("100", usdc),
		"amount_out":     amount("95", usd),
		"amount_fee":     amount("5", usdc),
	})

	s.requireCode(err, errors.DownstreamFailure)
	got := s.stored(txn)
	s.False(got.AmountIn.Valid)
	s.False(got.AmountOut.Valid)
	s.False(got.AmountFee.Valid)
	s.Equal(before.AmountIn, got.AmountIn)
	s.Equal(before.AmountOut, got.AmountOut)
	s.Equal(before.AmountFee, got.AmountFee)
	s.Equal(domain.StatusIncomplete, got.Status)
	s.Equal(before.UpdatedAt, got.UpdatedAt)
	s.Equal(before, got)
	s.Empty(s.publisher.all())
}
