package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"anchor-platform/internal/domain"
)

const (
	createTransactionPath        = "/transactions"
	createTransactionPaymentPath = "/transactions/%s/payments"
	createTransactionRefundPath  = "/transactions/%s/refunds"
	generateDepositAddressPath   = "/transactions/payments/assets/%s/address"
)

// ResponseError is returned when the custody service answers with a non-2xx status.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("custody responded %d: %s", e.StatusCode, e.Body)
}

type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Client talks to the custody service over HTTP. Calls go through a circuit breaker that
// opens after consecutive transport failures or 5xx answers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, bs BreakerSettings, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "custody",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				return respErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type createTransactionRequest struct {
	ID          string `json:"id"`
	Protocol    string `json:"sep"`
	Kind        string `json:"kind"`
	Memo        string `json:"memo,omitempty"`
	MemoType    string `json:"memo_type,omitempty"`
	FromAccount string `json:"from_account,omitempty"`
	ToAccount   string `json:"to_account,omitempty"`
	Amount      string `json:"amount,omitempty"`
	AmountAsset string `json:"amount_asset,omitempty"`
}

// CreateTransaction registers the transaction with custody so it can track the on-chain leg.
func (c *Client) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	req := createTransactionRequest{
		ID:          txn.ID.String(),
		Protocol:    string(txn.Protocol),
		Kind:        string(txn.Kind),
		Memo:        txn.Memo,
		MemoType:    txn.MemoType,
		FromAccount: txn.FromAccount,
		ToAccount:   txn.ToAccount,
	}
	if txn.Kind.IsDeposit() {
		if txn.AmountOut.Valid {
			req.Amount = txn.AmountOut.Decimal.String()
		}
		req.AmountAsset = txn.AmountOutAsset
	} else {
		switch {
		case txn.AmountExpected.Valid:
			req.Amount = txn.AmountExpected.Decimal.String()
		case txn.AmountIn.Valid:
			req.Amount = txn.AmountIn.Decimal.String()
		}
		req.AmountAsset = txn.AmountInAsset
	}
	return c.post(ctx, createTransactionPath, req, nil)
}

// CreateTransactionPayment asks custody to submit the outgoing on-chain payment.
func (c *Client) CreateTransactionPayment(ctx context.Context, txn *domain.Transaction) error {
	return c.post(ctx, fmt.Sprintf(createTransactionPaymentPath, url.PathEscape(txn.ID.String())), struct{}{}, nil)
}

type createRefundRequest struct {
	Amount         string `json:"amount"`
	AmountAsset    string `json:"amount_asset"`
	AmountFee      string `json:"amount_fee"`
	AmountFeeAsset string `json:"amount_fee_asset"`
	Memo           string `json:"memo,omitempty"`
	MemoType       string `json:"memo_type,omitempty"`
}

// CreateTransactionRefund asks custody to send refund back to the transaction's sender.
func (c *Client) CreateTransactionRefund(ctx context.Context, txn *domain.Transaction, refund domain.RefundRequest) error {
	req := createRefundRequest{
		Amount:         refund.Amount.String(),
		AmountAsset:    refund.AmountAsset,
		AmountFee:      refund.AmountFee.String(),
		AmountFeeAsset: refund.AmountFeeAsset,
		Memo:           refund.Memo,
		MemoType:       refund.MemoType,
	}
	return c.post(ctx, fmt.Sprintf(createTransactionRefundPath, url.PathEscape(txn.ID.String())), req, nil)
}

type depositAddressResponse struct {
	Address  string `json:"address"`
	Memo     string `json:"memo"`
	MemoType string `json:"memoType"`
}

func (c *Client) GenerateDepositAddress(ctx context.Context, assetID string) (domain.DepositInfo, error) {
	var resp depositAddressResponse
	if err := c.post(ctx, fmt.Sprintf(generateDepositAddressPath, url.PathEscape(assetID)), nil, &resp); err != nil {
		return domain.DepositInfo{}, err
	}
	return domain.DepositInfo{Address: resp.Address, Memo: resp.Memo, MemoType: resp.MemoType}, nil
}

// IsMemoTypeSupported reports whether custody can watch for payments with memoType.
func (c *Client) IsMemoTypeSupported(memoType string) bool {
	switch memoType {
	case "", domain.MemoTypeNone, domain.MemoTypeID, domain.MemoTypeText:
		return true
	}
	return false
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("custody service unavailable: %w", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode custody request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("custody request failed", "path", path, "error", err)
		return fmt.Errorf("custody request %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read custody response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("custody request rejected", "path", path, "status", resp.StatusCode)
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode custody response: %w", err)
		}
	}
	return nil
}
