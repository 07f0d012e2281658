// Package telemetry tracks in-process query metrics: how questions hit
// the index, where latency lands, and which queries come back empty.
// Counters live for the process lifetime and are surfaced through the
// stats endpoint.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryKind classifies which retrieval legs served a query.
type QueryKind string

const (
	// KindHybrid means both the lexical and vector leg contributed.
	KindHybrid QueryKind = "hybrid"
	// KindLexicalOnly means the vector leg was degraded or empty.
	KindLexicalOnly QueryKind = "lexical_only"
	// KindVectorOnly means the lexical leg produced no match expression.
	KindVectorOnly QueryKind = "vector_only"
)

// LatencyBucket is one histogram bucket.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt_10ms"
	BucketUnder50ms  LatencyBucket = "lt_50ms"
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketSlow       LatencyBucket = "gte_500ms"
)

// LatencyToBucket maps a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// QueryEvent is one answered query.
type QueryEvent struct {
	Question    string
	Kind        QueryKind
	ResultCount int
	Latency     time.Duration
}

// TermCount pairs a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the metrics, JSON-ready.
type Snapshot struct {
	TotalQueries     int64                   `json:"total_queries"`
	ZeroResultCount  int64                   `json:"zero_result_count"`
	ZeroResultRate   float64                 `json:"zero_result_rate"`
	KindCounts       map[QueryKind]int64     `json:"kind_counts"`
	Latency          map[LatencyBucket]int64 `json:"latency"`
	TopTerms         []TermCount             `json:"top_terms"`
	ZeroResultRecent []string                `json:"zero_result_recent"`
	Since            time.Time               `json:"since"`
}

const (
	// termCacheSize caps term cardinality; rare terms age out LRU-style.
	termCacheSize = 1024
	// zeroResultKeep is how many recent zero-result questions are retained.
	zeroResultKeep = 50
	// topTermsLimit caps the snapshot's term list.
	topTermsLimit = 20
)

// QueryMetrics accumulates query telemetry. A nil *QueryMetrics is a
// valid no-op recorder.
type QueryMetrics struct {
	mu         sync.Mutex
	total      int64
	zeroCount  int64
	kinds      map[QueryKind]int64
	latency    map[LatencyBucket]int64
	terms      *lru.Cache[string, int64]
	zeroRecent *ring[string]
	since      time.Time
}

// NewQueryMetrics creates an empty recorder.
func NewQueryMetrics() *QueryMetrics {
	terms, _ := lru.New[string, int64](termCacheSize)
	return &QueryMetrics{
		kinds:      make(map[QueryKind]int64),
		latency:    make(map[LatencyBucket]int64),
		terms:      terms,
		zeroRecent: newRing[string](zeroResultKeep),
		since:      time.Now(),
	}
}

// Record folds one query event into the counters.
func (m *QueryMetrics) Record(event QueryEvent) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.kinds[event.Kind]++
	m.latency[LatencyToBucket(event.Latency)]++

	for _, term := range extractTerms(event.Question) {
		count, _ := m.terms.Get(term)
		m.terms.Add(term, count+1)
	}

	if event.ResultCount == 0 {
		m.zeroCount++
		m.zeroRecent.add(event.Question)
	}
}

// Snapshot copies the current counters.
func (m *QueryMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{
			KindCounts:       map[QueryKind]int64{},
			Latency:          map[LatencyBucket]int64{},
			TopTerms:         []TermCount{},
			ZeroResultRecent: []string{},
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		TotalQueries:     m.total,
		ZeroResultCount:  m.zeroCount,
		KindCounts:       make(map[QueryKind]int64, len(m.kinds)),
		Latency:          make(map[LatencyBucket]int64, len(m.latency)),
		TopTerms:         []TermCount{},
		ZeroResultRecent: m.zeroRecent.items(),
		Since:            m.since,
	}
	if m.total > 0 {
		snap.ZeroResultRate = float64(m.zeroCount) / float64(m.total)
	}
	for k, v := range m.kinds {
		snap.KindCounts[k] = v
	}
	for k, v := range m.latency {
		snap.Latency[k] = v
	}

	for _, term := range m.terms.Keys() {
		if count, ok := m.terms.Peek(term); ok {
			snap.TopTerms = append(snap.TopTerms, TermCount{Term: term, Count: count})
		}
	}
	sort.Slice(snap.TopTerms, func(i, j int) bool {
		if snap.TopTerms[i].Count != snap.TopTerms[j].Count {
			return snap.TopTerms[i].Count > snap.TopTerms[j].Count
		}
		return snap.TopTerms[i].Term < snap.TopTerms[j].Term
	})
	if len(snap.TopTerms) > topTermsLimit {
		snap.TopTerms = snap.TopTerms[:topTermsLimit]
	}
	return snap
}

// extractTerms lowercases the question and keeps words of three or more
// characters.
func extractTerms(question string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// ring is a fixed-capacity FIFO of the most recent values.
type ring[T any] struct {
	values []T
	head   int
	size   int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{values: make([]T, capacity)}
}

func (r *ring[T]) add(v T) {
	r.values[r.head] = v
	r.head = (r.head + 1) % len(r.values)
	if r.size < len(r.values) {
		r.size++
	}
}

// items returns the retained values, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, r.size)
	if r.size < len(r.values) {
		return append(out, r.values[:r.size]...)
	}
	out = append(out, r.values[r.head:]...)
	return append(out, r.values[:r.head]...)
}
