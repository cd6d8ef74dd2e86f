package minidoc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DataManager stores serialized documents as chains of data pages. A
// record's head page index is its stable reference, index entries and
// sibling links always point at heads. Updates reuse the existing chain
// in place so the head never moves.
type DataManager struct {
	pager  *Pager
	logger *zap.Logger
}

func NewDataManager(logger *zap.Logger, pager *Pager) *DataManager {
	return &DataManager{
		pager:  pager,
		logger: logger,
	}
}

// Insert writes a record into a freshly allocated chain and returns the
// head page index. Sibling links of the head are left unset, the caller
// threads the record into its collection.
func (m *DataManager) Insert(ctx context.Context, record []byte) (PageIndex, error) {
	headPage, err := m.pager.AllocatePage(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate head page: %w", err)
	}
	headPage.DataPage = &DataPage{
		RecordLength: uint32(len(record)),
		Data:         firstChunk(record),
	}

	remaining := record[len(headPage.DataPage.Data):]
	prevPage := headPage
	for len(remaining) > 0 {
		nextPage, err := m.pager.AllocatePage(ctx)
		if err != nil {
			return 0, fmt.Errorf("allocate chain page: %w", err)
		}
		nextPage.DataPage = &DataPage{
			Data: firstChunk(remaining),
		}
		remaining = remaining[len(nextPage.DataPage.Data):]

		prevPage.DataPage.Next = nextPage.Index
		prevPage = nextPage
	}

	m.logger.Debug("record inserted",
		zap.Uint32("head_page", uint32(headPage.Index)),
		zap.Int("record_length", len(record)))

	return headPage.Index, nil
}

func firstChunk(record []byte) []byte {
	if len(record) > MaxDataPayload {
		return record[:MaxDataPayload]
	}
	return record
}

// Read reassembles the record stored at the given head page.
func (m *DataManager) Read(ctx context.Context, headIdx PageIndex) ([]byte, error) {
	headPage, err := m.pager.GetPage(ctx, headIdx)
	if err != nil {
		return nil, fmt.Errorf("get head page: %w", err)
	}
	head := headPage.DataPage
	if head == nil {
		return nil, corruptPageError(headIdx, "expected data page")
	}

	record := make([]byte, 0, head.RecordLength)
	record = append(record, head.Data...)

	nextIdx := head.Next
	for nextIdx != 0 {
		aPage, err := m.pager.GetPage(ctx, nextIdx)
		if err != nil {
			return nil, fmt.Errorf("get chain page: %w", err)
		}
		if aPage.DataPage == nil {
			return nil, corruptPageError(nextIdx, "expected data page")
		}
		record = append(record, aPage.DataPage.Data...)
		nextIdx = aPage.DataPage.Next
	}

	if uint32(len(record)) != head.RecordLength {
		return nil, corruptPageError(headIdx, "record chain has %d bytes, header says %d", len(record), head.RecordLength)
	}

	return record, nil
}

// Update rewrites the record in place. Existing chain pages are reused,
// surplus pages are freed and extra pages are allocated as needed. The
// head page index and its sibling links are preserved.
func (m *DataManager) Update(ctx context.Context, headIdx PageIndex, record []byte) error {
	headPage, err := m.pager.ModifyPage(ctx, headIdx)
	if err != nil {
		return fmt.Errorf("get head page: %w", err)
	}
	head := headPage.DataPage
	if head == nil {
		return corruptPageError(headIdx, "expected data page")
	}

	head.RecordLength = uint32(len(record))
	head.Data = firstChunk(record)
	remaining := record[len(head.Data):]

	prevPage := headPage
	nextIdx := head.Next
	for len(remaining) > 0 {
		var chainPage *Page
		if nextIdx != 0 {
			chainPage, err = m.pager.ModifyPage(ctx, nextIdx)
			if err != nil {
				return fmt.Errorf("get chain page: %w", err)
			}
			if chainPage.DataPage == nil {
				return corruptPageError(nextIdx, "expected data page")
			}
			nextIdx = chainPage.DataPage.Next
		} else {
			chainPage, err = m.pager.AllocatePage(ctx)
			if err != nil {
				return fmt.Errorf("allocate chain page: %w", err)
			}
			chainPage.DataPage = &DataPage{}
		}

		chainPage.DataPage.Data = firstChunk(remaining)
		remaining = remaining[len(chainPage.DataPage.Data):]

		prevPage.DataPage.Next = chainPage.Index
		prevPage = chainPage
	}
	prevPage.DataPage.Next = 0

	// Free surplus pages of the old chain
	return m.freeChain(ctx, nextIdx)
}

// Delete frees the whole chain starting at the head page. The caller
// unlinks the record from its collection's sibling list first.
func (m *DataManager) Delete(ctx context.Context, headIdx PageIndex) error {
	return m.freeChain(ctx, headIdx)
}

func (m *DataManager) freeChain(ctx context.Context, pageIdx PageIndex) error {
	for pageIdx != 0 {
		aPage, err := m.pager.GetPage(ctx, pageIdx)
		if err != nil {
			return fmt.Errorf("get chain page: %w", err)
		}
		if aPage.DataPage == nil {
			return corruptPageError(pageIdx, "expected data page")
		}
		nextIdx := aPage.DataPage.Next
		if err := m.pager.FreePage(ctx, pageIdx); err != nil {
			return fmt.Errorf("free chain page: %w", err)
		}
		pageIdx = nextIdx
	}
	return nil
}
