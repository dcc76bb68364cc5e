package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"anchor-platform/internal/asset"
	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

// TransactionService handles intake and lookup. Every later change goes through actions.
type TransactionService struct {
	repo     domain.TransactionRepository
	assets   *asset.Catalog
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

func NewTransactionService(repo domain.TransactionRepository, assets *asset.Catalog, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		repo:     repo,
		assets:   assets,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		logger:   logger,
	}
}

type CreateTransactionRequest struct {
	Protocol           domain.Protocol `json:"sep" validate:"required,oneof=sep6 sep24 sep31"`
	Kind               domain.Kind     `json:"kind" validate:"required"`
	AmountIn           string          `json:"amount_in,omitempty"`
	AmountInAsset      string          `json:"amount_in_asset,omitempty"`
	AmountOutAsset     string          `json:"amount_out_asset,omitempty"`
	AmountFeeAsset     string          `json:"amount_fee_asset,omitempty"`
	Quote              *domain.Quote   `json:"quote,omitempty"`
	SourceAccount      string          `json:"source_account,omitempty"`
	DestinationAccount string          `json:"destination_account,omitempty"`
}

func (s *TransactionService) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing transaction intake",
		"sep", req.Protocol,
		"kind", req.Kind,
		"amount_in", req.AmountIn,
		"amount_in_asset", req.AmountInAsset)

	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(errors.InvalidRequest, "invalid transaction request", err)
	}

	params := domain.NewTransactionParams{
		Protocol:       req.Protocol,
		Kind:           req.Kind,
		AmountInAsset:  req.AmountInAsset,
		AmountOutAsset: req.AmountOutAsset,
		AmountFeeAsset: req.AmountFeeAsset,
		Quote:          req.Quote,
		FromAccount:    req.SourceAccount,
		ToAccount:      req.DestinationAccount,
	}
	if err := s.validateAssets(req); err != nil {
		return nil, err
	}
	if req.AmountIn != "" {
		amountIn, err := s.assets.ValidateAmount("amount_in", req.AmountIn, req.AmountInAsset, false)
		if err != nil {
			return nil, errors.NewAppError(errors.InvalidRequest, err.Error())
		}
		params.AmountIn = decimal.NewNullDecimal(amountIn)
	}
	if err := validateQuote(req, params.AmountIn); err != nil {
		return nil, err
	}

	txn, err := domain.NewTransaction(params, s.now().UTC())
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidRequest, err.Error())
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		s.logger.Error("Transaction intake failed", "transaction_id", txn.ID, "error", err)
		return nil, err
	}

	s.logger.Info("Transaction accepted", "transaction_id", txn.ID, "status", txn.Status)
	return txn, nil
}

func (s *TransactionService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txnID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidRequest, "invalid transaction id format")
	}
	return s.repo.GetTransactionByID(ctx, txnID)
}

func (s *TransactionService) validateAssets(req *CreateTransactionRequest) error {
	for _, a := range []struct{ field, id string }{
		{"amount_in_asset", req.AmountInAsset},
		{"amount_out_asset", req.AmountOutAsset},
		{"amount_fee_asset", req.AmountFeeAsset},
	} {
		if a.id == "" {
			continue
		}
		if _, ok := s.assets.Lookup(a.id); !ok {
			return errors.NewAppErrorf(errors.InvalidRequest, "%s '%s' is not a supported asset", a.field, a.id)
		}
	}
	return nil
}

// validateQuote checks that a firm quote agrees with the request it is attached to.
// Exchange kinds price their legs through the quote, so they cannot be taken without one.
func validateQuote(req *CreateTransactionRequest, amountIn decimal.NullDecimal) error {
	q := req.Quote
	if q == nil {
		if req.Kind.IsExchange() {
			return errors.NewAppErrorf(errors.InvalidRequest, "kind %s requires a quote", req.Kind)
		}
		return nil
	}
	if q.ID == "" {
		return errors.NewAppError(errors.InvalidRequest, "quote.id cannot be empty")
	}
	for _, v := range []struct {
		field string
		value decimal.Decimal
	}{
		{"sell_amount", q.SellAmount},
		{"buy_amount", q.BuyAmount},
		{"fee", q.Fee},
	} {
		if !asset.InRange(v.value) {
			return errors.NewAppErrorf(errors.InvalidRequest, "quote[%s] %s is out of range", q.ID, v.field)
		}
	}
	if req.AmountInAsset != "" && q.SellAsset != req.AmountInAsset {
		return errors.NewAppErrorf(errors.InvalidRequest, "quote[%s] sell_asset does not match amount_in_asset", q.ID)
	}
	if req.AmountOutAsset != "" && q.BuyAsset != req.AmountOutAsset {
		return errors.NewAppErrorf(errors.InvalidRequest, "quote[%s] buy_asset does not match amount_out_asset", q.ID)
	}
	if amountIn.Valid && !amountIn.Decimal.Equal(q.SellAmount) {
		return errors.NewAppErrorf(errors.InvalidRequest, "quote[%s] sell_amount does not match amount_in", q.ID)
	}
	return nil
}
