package minidoc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters on a caller supplied prometheus
// registerer. A nil *Metrics is valid and records nothing, so the engine
// works without any metrics setup.
type Metrics struct {
	pagesRead      prometheus.Counter
	pagesWritten   prometheus.Counter
	pagesAllocated prometheus.Counter
	pagesFreed     prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	txCommitted    prometheus.Counter
	txRolledBack   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pagesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "pages_read_total",
			Help:      "Number of pages read from disk.",
		}),
		pagesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "pages_written_total",
			Help:      "Number of pages written to disk.",
		}),
		pagesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "pages_allocated_total",
			Help:      "Number of pages allocated, from the free list or by extending the file.",
		}),
		pagesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "pages_freed_total",
			Help:      "Number of pages returned to the free list.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "page_cache_hits_total",
			Help:      "Number of page cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "page_cache_misses_total",
			Help:      "Number of page cache misses.",
		}),
		txCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "transactions_committed_total",
			Help:      "Number of committed transactions.",
		}),
		txRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "minidoc",
			Name:      "transactions_rolled_back_total",
			Help:      "Number of rolled back transactions.",
		}),
	}

	reg.MustRegister(
		m.pagesRead, m.pagesWritten, m.pagesAllocated, m.pagesFreed,
		m.cacheHits, m.cacheMisses, m.txCommitted, m.txRolledBack,
	)

	return m
}

func (m *Metrics) incPagesRead() {
	if m != nil {
		m.pagesRead.Inc()
	}
}

func (m *Metrics) incPagesWritten() {
	if m != nil {
		m.pagesWritten.Inc()
	}
}

func (m *Metrics) incPagesAllocated() {
	if m != nil {
		m.pagesAllocated.Inc()
	}
}

func (m *Metrics) incPagesFreed() {
	if m != nil {
		m.pagesFreed.Inc()
	}
}

func (m *Metrics) incCacheHits() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) incCacheMisses() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) incTxCommitted() {
	if m != nil {
		m.txCommitted.Inc()
	}
}

func (m *Metrics) incTxRolledBack() {
	if m != nil {
		m.txRolledBack.Inc()
	}
}
