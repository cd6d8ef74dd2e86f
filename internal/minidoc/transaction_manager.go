package minidoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransactionManager hands out single-writer transactions. At most one
// transaction is active at a time; pages dirtied under a transaction stay
// in the cache until Commit flushes them or Rollback discards them.
type TransactionManager struct {
	mu             sync.Mutex
	nextTxID       TransactionID
	activeTx       *Transaction
	pager          *Pager
	dbFilePath     string
	journalEnabled bool
	needsRecovery  bool
	logger         *zap.Logger
	metrics        *Metrics
}

func NewTransactionManager(logger *zap.Logger, pager *Pager, dbFilePath string, journalEnabled bool, metrics *Metrics) *TransactionManager {
	return &TransactionManager{
		nextTxID:       1,
		pager:          pager,
		dbFilePath:     dbFilePath,
		journalEnabled: journalEnabled,
		logger:         logger,
		metrics:        metrics,
	}
}

// Begin starts a new transaction. Fails with ErrTransactionActive if
// another transaction is already in progress.
func (m *TransactionManager) Begin(ctx context.Context) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.needsRecovery {
		return nil, ErrNeedsRecovery
	}
	if m.activeTx != nil {
		return nil, ErrTransactionActive
	}

	tx := &Transaction{
		ID:                 m.nextTxID,
		StartTime:          time.Now(),
		Status:             TxActive,
		touched:            make(map[PageIndex]struct{}),
		headerSnapshot:     m.pager.Header(),
		totalPagesSnapshot: m.pager.TotalPages(),
	}
	m.nextTxID += 1
	m.activeTx = tx

	m.logger.Debug("transaction started", zap.Uint64("tx_id", uint64(tx.ID)))

	return tx, nil
}

// Commit applies the transaction's pending page frees, journals the
// original content of every page about to be overwritten, flushes the
// header and all dirty pages to disk and finally deletes the journal.
func (m *TransactionManager) Commit(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx == nil || tx.Status != TxActive || tx != m.activeTx {
		return ErrNoTransaction
	}

	ctx = WithTransaction(ctx, tx)

	if err := m.pager.applyPendingFrees(ctx, tx); err != nil {
		m.rollbackLocked(ctx, tx)
		return fmt.Errorf("apply pending frees: %w", err)
	}

	dirtyPages := m.pager.cache.DirtyPages()
	if len(dirtyPages) == 0 && !tx.HeaderDirty() {
		// Read-only transaction, nothing to flush
		tx.Status = TxCommitted
		m.activeTx = nil
		m.metrics.incTxCommitted()
		return nil
	}

	var journal *RollbackJournal
	if m.journalEnabled {
		var err error
		journal, err = m.writeJournal(ctx, tx, dirtyPages)
		if err != nil {
			m.rollbackLocked(ctx, tx)
			return fmt.Errorf("write journal: %w", err)
		}
	}

	if tx.HeaderDirty() {
		if err := m.pager.FlushHeader(ctx); err != nil {
			m.undoFailedFlush(ctx, tx, journal)
			return fmt.Errorf("flush header: %w", err)
		}
	}

	if err := m.pager.cache.FlushDirty(ctx); err != nil {
		m.undoFailedFlush(ctx, tx, journal)
		return fmt.Errorf("flush dirty pages: %w", err)
	}

	if journal != nil {
		if err := journal.Delete(); err != nil {
			// The flush already succeeded, the transaction is durable. A
			// stale journal file cannot undo it because Delete invalidates
			// the journal before removing it.
			m.logger.Warn("delete journal", zap.Error(err))
		}
	}

	tx.Status = TxCommitted
	m.activeTx = nil
	m.metrics.incTxCommitted()

	m.logger.Debug("transaction committed",
		zap.Uint64("tx_id", uint64(tx.ID)),
		zap.Int("dirty_pages", len(dirtyPages)),
		zap.Duration("elapsed", time.Since(tx.StartTime)))

	return nil
}

// writeJournal records the pre-modification content of the header and of
// every dirty page that existed before the transaction started. Newly
// allocated pages have no pre-image, recovery truncates them away instead.
func (m *TransactionManager) writeJournal(ctx context.Context, tx *Transaction, dirtyPages []PageIndex) (*RollbackJournal, error) {
	journal, err := CreateJournal(m.dbFilePath, tx.totalPagesSnapshot)
	if err != nil {
		return nil, err
	}

	if err := journal.WriteDBHeaderBefore(ctx, tx.headerSnapshot); err != nil {
		journal.Close()
		return nil, err
	}

	buf := make([]byte, PageSize)
	for _, pageIdx := range dirtyPages {
		if uint32(pageIdx) >= tx.totalPagesSnapshot {
			continue
		}
		if _, err := m.pager.file.ReadAt(buf, int64(pageIdx)*int64(PageSize)); err != nil {
			journal.Close()
			return nil, fmt.Errorf("read original page %d: %w", pageIdx, err)
		}
		if err := journal.WritePageBefore(ctx, pageIdx, buf); err != nil {
			journal.Close()
			return nil, err
		}
	}

	if err := journal.Finalize(ctx); err != nil {
		journal.Close()
		return nil, err
	}

	return journal, nil
}

// Rollback discards all in-memory changes made by the transaction. Dirty
// pages are dropped from the cache and the header and page count revert to
// their values as of Begin.
func (m *TransactionManager) Rollback(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx == nil || tx.Status != TxActive || tx != m.activeTx {
		return ErrNoTransaction
	}

	m.rollbackLocked(ctx, tx)

	return nil
}

// undoFailedFlush handles a commit whose flush failed after some pages may
// already have been written. The journal's pre-images are replayed into the
// database file right away so in-process reads never observe the
// half-committed state. Without a journal, or if the replay itself fails,
// the on-disk state is unknown and the manager refuses further
// transactions.
func (m *TransactionManager) undoFailedFlush(ctx context.Context, tx *Transaction, journal *RollbackJournal) {
	m.rollbackLocked(ctx, tx)

	if journal == nil {
		m.needsRecovery = true
		m.logger.Error("commit flush failed with the journal disabled, database file state is unknown")
		return
	}
	if err := journal.Replay(ctx, m.pager.file); err != nil {
		m.needsRecovery = true
		m.logger.Error("replay journal after failed flush", zap.Error(err))
		return
	}
	m.pager.cache.Clear()
	if err := journal.Delete(); err != nil {
		m.logger.Warn("delete journal after replay", zap.Error(err))
	}
}

func (m *TransactionManager) rollbackLocked(ctx context.Context, tx *Transaction) {
	m.pager.cache.DiscardDirty()
	m.pager.restoreSnapshot(tx)

	tx.Status = TxRolledBack
	m.activeTx = nil
	m.metrics.incTxRolledBack()

	m.logger.Debug("transaction rolled back", zap.Uint64("tx_id", uint64(tx.ID)))
}

// ExecuteInTransaction runs fn within a transaction. If the context already
// carries an active transaction it is reused and left for the outer caller
// to finish. Otherwise a new transaction is started, committed if fn
// succeeds and rolled back if it fails.
func (m *TransactionManager) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil && tx.Status == TxActive {
		return fn(ctx)
	}

	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	ctx = WithTransaction(ctx, tx)

	if err := fn(ctx); err != nil {
		m.logger.Error("transaction failed",
			zap.Uint64("tx_id", uint64(tx.ID)),
			zap.Error(err))
		if rollbackErr := m.Rollback(ctx, tx); rollbackErr != nil {
			m.logger.Error("rollback failed", zap.Error(rollbackErr))
		}
		return err
	}

	return m.Commit(ctx, tx)
}
