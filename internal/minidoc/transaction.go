package minidoc

import (
	"context"
	"time"
)

type txKeyType struct{}

var txKey = txKeyType{}

func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

func TxFromContext(ctx context.Context) *Transaction {
	if tx, ok := ctx.Value(txKey).(*Transaction); ok {
		return tx
	}
	return nil
}

func MustTxFromContext(ctx context.Context) *Transaction {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	panic("no transaction in context")
}

// avoidDirtyRead asserts that the caller is inside an active transaction
// before any page lookup, preventing reads of in-flight cache state outside
// transactional context.
func avoidDirtyRead(ctx context.Context) (*Transaction, error) {
	tx := TxFromContext(ctx)
	if tx == nil || tx.Status != TxActive {
		return nil, ErrNoTransaction
	}
	return tx, nil
}

type TransactionID uint64

type TransactionStatus int

const (
	TxActive TransactionStatus = iota + 1
	TxCommitted
	TxRolledBack
)

// Transaction is the unit of atomicity wrapping one engine operation.
// It records the pages touched, the pages freed (applied to the free list
// only at commit) and the pager state snapshot restored on rollback.
type Transaction struct {
	ID        TransactionID
	StartTime time.Time
	Status    TransactionStatus

	touched     map[PageIndex]struct{}
	pendingFree []PageIndex
	headerDirty bool

	headerSnapshot     DatabaseHeader
	totalPagesSnapshot uint32
}

func (tx *Transaction) TrackTouched(pageIdx PageIndex) {
	tx.touched[pageIdx] = struct{}{}
}

func (tx *Transaction) Touched() []PageIndex {
	indexes := make([]PageIndex, 0, len(tx.touched))
	for pageIdx := range tx.touched {
		indexes = append(indexes, pageIdx)
	}
	return indexes
}

// TrackFree records a page freed by this transaction. The page must not be
// reused before the transaction commits, so the free list is only updated
// at commit time; on rollback the record is simply discarded.
func (tx *Transaction) TrackFree(pageIdx PageIndex) {
	tx.pendingFree = append(tx.pendingFree, pageIdx)
}

func (tx *Transaction) PendingFree() []PageIndex {
	return tx.pendingFree
}

func (tx *Transaction) MarkHeaderDirty() {
	tx.headerDirty = true
}

func (tx *Transaction) HeaderDirty() bool {
	return tx.headerDirty
}
