package action

import (
	"context"
	"encoding/json"
	"time"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

func (s *ActionSuite) getTransactions(params map[string]any) (*GetTransactionsResult, error) {
	a, ok := s.registry.Lookup(string(MethodGetTransactions))
	s.Require().True(ok)
	raw, err := json.Marshal(params)
	s.Require().NoError(err)
	result, err := a.Execute(context.Background(), raw)
	if err != nil {
		return nil, err
	}
	records, ok := result.(*GetTransactionsResult)
	s.Require().True(ok, "got %T", result)
	return records, nil
}

func startedAt(offset time.Duration) func(*domain.Transaction) {
	return func(txn *domain.Transaction) {
		txn.StartedAt = fixedNow.Add(offset)
	}
}

func (s *ActionSuite) TestGetTransactions() {
	first := s.seed(domain.ProtocolSEP24, domain.KindDeposit, domain.StatusPendingAnchor, startedAt(-3*time.Hour))
	second := s.seed(domain.ProtocolSEP24, domain.KindWithdrawal, domain.StatusPendingAnchor, startedAt(-2*time.Hour))
	third := s.seed(domain.ProtocolSEP24, domain.KindDeposit, domain.StatusCompleted, startedAt(-time.Hour))
	s.seed(domain.ProtocolSEP31, domain.KindReceive, domain.StatusPendingAnchor)

	got, err := s.getTransactions(map[string]any{"sep": "sep24"})
	s.Require().NoError(err)
	s.Equal([]string{first.ID.String(), second.ID.String(), third.ID.String()}, ids(got.Records))

	got, err = s.getTransactions(map[string]any{
		"sep":      "sep24",
		"statuses": []string{"pending_anchor"},
		"order":    "desc",
	})
	s.Require().NoError(err)
	s.Equal([]string{second.ID.String(), first.ID.String()}, ids(got.Records))

	got, err = s.getTransactions(map[string]any{"sep": "sep24", "page_size": 2, "page_number": 1})
	s.Require().NoError(err)
	s.Equal([]string{third.ID.String()}, ids(got.Records))

	got, err = s.getTransactions(map[string]any{"sep": "sep6"})
	s.Require().NoError(err)
	s.NotNil(got.Records)
	s.Empty(got.Records)
}

func (s *ActionSuite) TestGetTransactionsRejectsBadParams() {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing sep", map[string]any{"order": "asc"}},
		{"unknown sep", map[string]any{"sep": "sep12"}},
		{"unknown status", map[string]any{"sep": "sep24", "statuses": []string{"pending_nothing"}}},
		{"unknown order", map[string]any{"sep": "sep24", "order": "sideways"}},
		{"page too large", map[string]any{"sep": "sep24", "page_size": 500}},
		{"negative page", map[string]any{"sep": "sep24", "page_number": -1}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.getTransactions(tt.params)
			s.requireCode(err, errors.InvalidParams)
		})
	}
}

func ids(records []*domain.Transaction) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID.String())
	}
	return out
}
