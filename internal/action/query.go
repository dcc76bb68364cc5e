package action

import (
	"context"
	"encoding/json"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

type GetTransactionsParams struct {
	Protocol   domain.Protocol           `json:"sep" validate:"required,oneof=sep6 sep24 sep31"`
	OrderBy    domain.TransactionOrderBy `json:"order_by,omitempty" validate:"omitempty,oneof=created_at updated_at transfer_received_at"`
	Order      string                    `json:"order,omitempty" validate:"omitempty,oneof=asc desc"`
	Statuses   []domain.Status           `json:"statuses,omitempty"`
	PageNumber int                       `json:"page_number,omitempty" validate:"min=0,max=1000000"`
	PageSize   *int                      `json:"page_size,omitempty" validate:"omitempty,min=1,max=200"`
}

type GetTransactionsResult struct {
	Records []*domain.Transaction `json:"records"`
}

// getTransactions is a read-only action. It takes no transaction lock and publishes nothing.
type getTransactions struct {
	processor *Processor
}

func newGetTransactions(p *Processor) *getTransactions {
	return &getTransactions{processor: p}
}

func (a *getTransactions) Method() Method {
	return MethodGetTransactions
}

func (a *getTransactions) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var params GetTransactionsParams
	if err := decodeParams(a.processor, raw, &params); err != nil {
		return nil, err
	}
	for _, s := range params.Statuses {
		if !s.Valid() {
			return nil, errors.NewAppErrorf(errors.InvalidParams, "unknown status %q", s)
		}
	}

	filter := domain.TransactionFilter{
		Protocol:   params.Protocol,
		Statuses:   params.Statuses,
		OrderBy:    params.OrderBy,
		Descending: params.Order == "desc",
		Limit:      defaultPageSize,
	}
	if filter.OrderBy == "" {
		filter.OrderBy = domain.OrderByCreatedAt
	}
	if params.PageSize != nil {
		filter.Limit = min(*params.PageSize, maxPageSize)
	}
	filter.Offset = params.PageNumber * filter.Limit

	records, err := a.processor.repo.FindTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*domain.Transaction{}
	}
	return &GetTransactionsResult{Records: records}, nil
}
