package action

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"anchor-platform/internal/asset"
	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
	"anchor-platform/internal/lock"
)

type Options struct {
	Repo        domain.TransactionRepository
	Locker      lock.Locker
	Publisher   domain.EventPublisher
	Assets      *asset.Catalog
	// Custody is nil when the custody integration is disabled.
	Custody     domain.CustodyService
	DepositInfo map[domain.Protocol]domain.DepositInfoGenerator
	MaxRetries  int
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Processor runs handlers against stored transactions.
type Processor struct {
	repo        domain.TransactionRepository
	locker      lock.Locker
	publisher   domain.EventPublisher
	assets      *asset.Catalog
	custody     domain.CustodyService
	depositInfo map[domain.Protocol]domain.DepositInfoGenerator
	validate    *validator.Validate
	maxRetries  int
	now         func() time.Time
	logger      *slog.Logger
}

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		repo:        opts.Repo,
		locker:      opts.Locker,
		publisher:   opts.Publisher,
		assets:      opts.Assets,
		custody:     opts.Custody,
		depositInfo: opts.DepositInfo,
		validate:    newValidator(),
		maxRetries:  opts.MaxRetries,
		now:         opts.Clock,
		logger:      opts.Logger,
	}
	if p.locker == nil {
		p.locker = lock.NewLocal()
	}
	if p.assets == nil {
		p.assets = asset.NewCatalog()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && asset.InRange(d)
	})
	return v
}

// correctsAmounts reports whether method may lower or clear amounts already on record.
func correctsAmounts(method Method) bool {
	return method == MethodNotifyAmountsUpdated || method == MethodNotifyAmountsAssetsUpdated
}

func (p *Processor) custodyEnabled() bool {
	return p.custody != nil
}

// run executes steps 2-7 of an action under the per-transaction lock, retrying the whole
// sequence when the stored version moved underneath it.
func run[P Params](ctx context.Context, p *Processor, h Handler[P], params P) (*domain.Transaction, error) {
	id, err := uuid.Parse(params.base().TransactionID)
	if err != nil {
		return nil, errors.NewAppErrorf(errors.InvalidParams, "invalid transaction_id %q", params.base().TransactionID)
	}

	var (
		result    *domain.Transaction
		oldStatus domain.Status
		attempt   int
	)
	op := func() error {
		attempt++
		err := p.locker.WithLock(ctx, id.String(), func(ctx context.Context) error {
			return p.repo.WithTransaction(ctx, func(repo domain.TransactionRepository) error {
				txn, err := repo.GetTransactionForUpdate(ctx, id)
				if err != nil {
					return err
				}
				updated, err := transition(ctx, p, h, txn, params)
				if err != nil {
					return err
				}
				if err := repo.UpdateTransaction(ctx, updated, txn.Version); err != nil {
					return err
				}
				result, oldStatus = updated, txn.Status
				return nil
			})
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, errors.ErrConcurrentUpdate) {
			p.logger.Warn("Retrying action after concurrent update",
				"method", h.Method(), "transaction_id", id, "attempt", attempt)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.maxRetries, 0))), ctx)); err != nil {
		return nil, classify(err)
	}

	p.logger.Info("Action applied",
		"method", h.Method(), "transaction_id", id, "old_status", oldStatus, "new_status", result.Status)
	p.publish(ctx, h.Method(), oldStatus, result)
	return result, nil
}

// transition checks legality against the freshly loaded txn and returns the mutated copy.
// txn itself is never modified.
func transition[P Params](ctx context.Context, p *Processor, h Handler[P], txn *domain.Transaction, params P) (*domain.Transaction, error) {
	method := h.Method()
	if !slices.Contains(h.Protocols(), txn.Protocol) {
		return nil, errors.NewAppErrorf(errors.UnsupportedProtocol,
			"RPC method[%s] is not supported for protocol[%s]", method, txn.Protocol)
	}
	if !slices.Contains(h.Kinds(), txn.Kind) {
		return nil, errors.NewAppErrorf(errors.UnsupportedActionForKind,
			"RPC method[%s] is not supported for kind[%s] and protocol[%s]", method, txn.Kind, txn.Protocol)
	}
	if txn.Status.IsTerminal() || !h.SupportedStatuses(txn).Has(txn.Status) {
		return nil, errors.NewAppErrorf(errors.IllegalTransition,
			"RPC method[%s] is not supported. Status[%s], kind[%s], protocol[%s], funds received[%t]",
			method, txn.Status, txn.Kind, txn.Protocol, txn.FundsReceived())
	}

	message := strings.TrimSpace(params.base().Message)
	if h.RequiresMessage() && message == "" {
		return nil, errors.ErrMessageRequired
	}
	if err := h.Validate(txn, params); err != nil {
		return nil, asInvalidParams(err)
	}
	next, err := h.NextStatus(txn, params)
	if err != nil {
		return nil, asInvalidParams(err)
	}

	updated := txn.Clone()
	if err := h.Apply(ctx, updated, params); err != nil {
		return nil, asDownstream(method, err)
	}
	if err := domain.CheckAmounts(txn, updated, correctsAmounts(method)); err != nil {
		return nil, errors.Wrap(errors.InvalidParams, err.Error(), err)
	}

	now := p.now().UTC()
	updated.Status = next
	updated.UpdatedAt = now
	if next.IsFinal() {
		updated.CompletedAt = &now
	}
	switch {
	case message != "":
		updated.Message = message
	case txn.Status.IsError() && !next.IsError():
		updated.Message = ""
	}

	if err := h.SideEffect(ctx, updated, params); err != nil {
		return nil, asDownstream(method, err)
	}
	return updated, nil
}

func (p *Processor) publish(ctx context.Context, method Method, oldStatus domain.Status, txn *domain.Transaction) {
	if p.publisher == nil {
		return
	}
	event := domain.StatusChangedEvent{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		Protocol:      txn.Protocol,
		Method:        string(method),
		OldStatus:     oldStatus,
		NewStatus:     txn.Status,
		OccurredAt:    txn.UpdatedAt,
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("Failed to publish status change", "transaction_id", txn.ID, "event_id", event.ID, "error", err)
	}
}

func asInvalidParams(err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.Wrap(errors.InvalidParams, err.Error(), err)
}

func asDownstream(method Method, err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.Wrap(errors.DownstreamFailure, fmt.Sprintf("%s side effect failed", method), err)
}

// classify makes sure every error leaving the processor carries a code.
func classify(err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.InternalError, "action interrupted", err)
	}
	return errors.Wrap(errors.InternalError, "action failed", err)
}

func invalidParams(format string, args ...any) error {
	return errors.NewAppErrorf(errors.InvalidParams, format, args...)
}
