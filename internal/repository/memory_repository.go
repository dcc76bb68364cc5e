package repository

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
)

var (
	_ domain.TransactionRepository = (*MemoryRepository)(nil)
	_ domain.TransactionRepository = (*memoryTx)(nil)
)

// MemoryRepository keeps transactions in process memory. Writes made inside WithTransaction
// become visible only when fn returns without error. GetTransactionForUpdate locks the one
// row it reads, so store transactions on different rows never wait for each other.
type MemoryRepository struct {
	mu       sync.RWMutex
	rows     map[uuid.UUID]*domain.Transaction
	rowLocks map[uuid.UUID]*sync.Mutex
	logger   *slog.Logger
}

func NewMemoryRepository(logger *slog.Logger) *MemoryRepository {
	return &MemoryRepository{
		rows:     make(map[uuid.UUID]*domain.Transaction),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
		logger:   logger,
	}
}

// rowLock returns the lock of a committed row; unknown ids have none.
func (m *MemoryRepository) rowLock(id uuid.UUID) (*sync.Mutex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return nil, false
	}
	l, ok := m.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.rowLocks[id] = l
	}
	return l, true
}

func (m *MemoryRepository) CreateTransaction(_ context.Context, txn *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[txn.ID]; ok {
		return errors.ErrDuplicateTransaction
	}
	m.rows[txn.ID] = txn.Clone()
	return nil
}

func (m *MemoryRepository) GetTransactionByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txn, ok := m.rows[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return txn.Clone(), nil
}

// GetTransactionForUpdate behaves like GetTransactionByID outside a store transaction.
func (m *MemoryRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return m.GetTransactionByID(ctx, id)
}

func (m *MemoryRepository) UpdateTransaction(_ context.Context, txn *domain.Transaction, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(txn, expectedVersion)
}

func (m *MemoryRepository) update(txn *domain.Transaction, expectedVersion int64) error {
	current, ok := m.rows[txn.ID]
	if !ok {
		return errors.ErrTransactionNotFound
	}
	if current.Version != expectedVersion {
		return errors.ErrConcurrentUpdate
	}
	txn.Version = expectedVersion + 1
	m.rows[txn.ID] = txn.Clone()
	return nil
}

func (m *MemoryRepository) FindTransactions(_ context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	m.mu.RLock()
	matched := make([]*domain.Transaction, 0)
	for _, txn := range m.rows {
		if txn.Protocol != filter.Protocol {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, txn.Status) {
			continue
		}
		matched = append(matched, txn.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *domain.Transaction) int {
		c := compareOrderKey(orderKey(a, filter.OrderBy), orderKey(b, filter.OrderBy))
		if filter.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	start := min(max(filter.Offset, 0), len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, end)
	}
	return matched[start:end], nil
}

func orderKey(txn *domain.Transaction, by domain.TransactionOrderBy) *time.Time {
	switch by {
	case domain.OrderByUpdatedAt:
		return &txn.UpdatedAt
	case domain.OrderByTransferReceivedAt:
		return txn.TransferReceivedAt
	default:
		return &txn.StartedAt
	}
}

// compareOrderKey sorts missing times last. Descending order flips that, matching postgres NULL ordering.
func compareOrderKey(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func (m *MemoryRepository) WithTransaction(ctx context.Context, fn func(repo domain.TransactionRepository) error) error {
	tx := &memoryTx{parent: m, pending: make(map[uuid.UUID]*stagedWrite), locked: make(map[uuid.UUID]*sync.Mutex)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range tx.pending {
		current, exists := m.rows[id]
		switch {
		case w.created && exists:
			return errors.ErrDuplicateTransaction
		case !w.created && !exists:
			return errors.ErrTransactionNotFound
		case !w.created && current.Version != w.baseVersion:
			return errors.ErrConcurrentUpdate
		}
	}
	for id, w := range tx.pending {
		m.rows[id] = w.txn
	}
	m.logger.Debug("Memory transaction committed", "rows", len(tx.pending))
	return nil
}

// stagedWrite is the latest uncommitted state of one row. baseVersion is the committed
// version the transaction started from.
type stagedWrite struct {
	txn         *domain.Transaction
	created     bool
	baseVersion int64
}

type memoryTx struct {
	parent  *MemoryRepository
	pending map[uuid.UUID]*stagedWrite
	locked  map[uuid.UUID]*sync.Mutex
}

func (t *memoryTx) release() {
	for _, l := range t.locked {
		l.Unlock()
	}
}

func (t *memoryTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	if _, err := t.GetTransactionByID(ctx, txn.ID); err == nil {
		return errors.ErrDuplicateTransaction
	}
	t.pending[txn.ID] = &stagedWrite{txn: txn.Clone(), created: true}
	return nil
}

func (t *memoryTx) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if w, ok := t.pending[id]; ok {
		return w.txn.Clone(), nil
	}
	return t.parent.GetTransactionByID(ctx, id)
}

func (t *memoryTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if _, ok := t.locked[id]; !ok {
		if l, exists := t.parent.rowLock(id); exists {
			l.Lock()
			t.locked[id] = l
		}
	}
	return t.GetTransactionByID(ctx, id)
}

func (t *memoryTx) FindTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	return t.parent.FindTransactions(ctx, filter)
}

func (t *memoryTx) UpdateTransaction(ctx context.Context, txn *domain.Transaction, expectedVersion int64) error {
	current, err := t.GetTransactionByID(ctx, txn.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return errors.ErrConcurrentUpdate
	}

	w, ok := t.pending[txn.ID]
	if !ok {
		w = &stagedWrite{baseVersion: expectedVersion}
		t.pending[txn.ID] = w
	}
	txn.Version = expectedVersion + 1
	w.txn = txn.Clone()
	return nil
}

func (t *memoryTx) WithTransaction(context.Context, func(repo domain.TransactionRepository) error) error {
	return errors.ErrCannotBeginTx
}
