// Package telemetry records local query statistics: search modes, latency
// buckets, frequent terms and queries that found nothing. Nothing leaves
// the machine; counters are flushed into the index database.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// Buckets lists the latency buckets in ascending order.
var Buckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one executed search.
type QueryEvent struct {
	Query       string
	Mode        search.Mode
	ResultCount int
	Degraded    bool // a source failed and the other answered
	Latency     time.Duration
	Timestamp   time.Time
}

// ExtractTerms lowercases query and keeps words of at least 3 bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a copy of the counters.
type Snapshot struct {
	ModeCounts          map[search.Mode]int64   `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms,omitempty"`
	ZeroResultQueries   []string                `json:"zero_result_queries,omitempty"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	DegradedCount       int64                   `json:"degraded_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since,omitzero"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Batch is the set of counters recorded between two flushes.
type Batch struct {
	At          time.Time
	Modes       map[search.Mode]int64
	Latencies   map[LatencyBucket]int64
	Terms       map[string]int64
	ZeroResults []string
	Degraded    int64
}

// Store persists flushed counters. Save must apply a batch atomically.
type Store interface {
	Save(ctx context.Context, b Batch) error
	Load(ctx context.Context, topTerms, zeroResults int) (Snapshot, error)
}

// Config configures QueryMetrics.
type Config struct {
	TopTermsCapacity      int           // default 100
	ZeroResultsCapacity   int           // default 100
	RecentQueriesCapacity int           // default 500
	FlushInterval         time.Duration // 0 disables the background flush
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         time.Minute,
	}
}

// QueryMetrics aggregates query events in memory and flushes deltas to a
// Store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	// totals since start, reported by Snapshot
	total Snapshot

	// deltas not yet flushed
	modes     map[search.Mode]int64
	latencies map[LatencyBucket]int64
	terms     map[string]int64
	zero      []string
	degraded  int64

	topTerms      *lru.Cache[string, int64]
	recentQueries *lru.Cache[string, struct{}]
	zeroRing      []string

	store  Store
	cfg    Config
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config, logger *slog.Logger) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	m := &QueryMetrics{
		total: Snapshot{
			ModeCounts:          make(map[search.Mode]int64),
			LatencyDistribution: make(map[LatencyBucket]int64),
			Since:               time.Now(),
		},
		modes:         make(map[search.Mode]int64),
		latencies:     make(map[LatencyBucket]int64),
		terms:         make(map[string]int64),
		topTerms:      topTerms,
		recentQueries: recent,
		store:         store,
		cfg:           cfg,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.wg.Add(1)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("query metrics flush failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record adds one event.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total.TotalQueries++
	m.total.ModeCounts[ev.Mode]++
	m.modes[ev.Mode]++

	bucket := LatencyToBucket(ev.Latency)
	m.total.LatencyDistribution[bucket]++
	m.latencies[bucket]++

	for _, term := range ExtractTerms(ev.Query) {
		n, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, n+1)
		m.terms[term]++
	}

	if ev.ResultCount == 0 {
		m.total.ZeroResultCount++
		m.zero = append(m.zero, ev.Query)
		m.zeroRing = append(m.zeroRing, ev.Query)
		if len(m.zeroRing) > m.cfg.ZeroResultsCapacity {
			m.zeroRing = m.zeroRing[len(m.zeroRing)-m.cfg.ZeroResultsCapacity:]
		}
	}
	if ev.Degraded {
		m.total.DegradedCount++
		m.degraded++
	}

	key := hashQuery(ev.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.total.ExactRepeatCount++
	}
	m.recentQueries.Add(key, struct{}{})
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the in-memory counters since New.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.total
	s.ModeCounts = make(map[search.Mode]int64, len(m.total.ModeCounts))
	for k, v := range m.total.ModeCounts {
		s.ModeCounts[k] = v
	}
	s.LatencyDistribution = make(map[LatencyBucket]int64, len(m.total.LatencyDistribution))
	for k, v := range m.total.LatencyDistribution {
		s.LatencyDistribution[k] = v
	}
	for _, term := range m.topTerms.Keys() {
		if n, ok := m.topTerms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	SortTerms(s.TopTerms)
	s.ZeroResultQueries = append([]string(nil), m.zeroRing...)
	return s
}

// SortTerms orders terms by count descending, then alphabetically.
func SortTerms(terms []TermCount) {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
}

// Flush writes the counters recorded since the last flush. On error the
// batch is kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	b := Batch{
		At:          time.Now(),
		Modes:       m.modes,
		Latencies:   m.latencies,
		Terms:       m.terms,
		ZeroResults: m.zero,
		Degraded:    m.degraded,
	}
	m.modes = make(map[search.Mode]int64)
	m.latencies = make(map[LatencyBucket]int64)
	m.terms = make(map[string]int64)
	m.zero = nil
	m.degraded = 0
	m.mu.Unlock()

	if len(b.Modes) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, b); err != nil {
		m.restore(b)
		return err
	}
	return nil
}

func (m *QueryMetrics) restore(b Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range b.Modes {
		m.modes[k] += v
	}
	for k, v := range b.Latencies {
		m.latencies[k] += v
	}
	for k, v := range b.Terms {
		m.terms[k] += v
	}
	m.zero = append(b.ZeroResults, m.zero...)
	m.degraded += b.Degraded
}

// Close stops the background flush and flushes once more.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return m.Flush()
}
