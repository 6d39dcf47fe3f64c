// Package testutil provides a configurable mock paginated API server
// for end-to-end run tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockAPI serves a fixed record set as pages. It understands both
// page-number and record-offset addressing and can inject failures
// per request index.
type MockAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	records   []map[string]any
	dataKey   string
	totalKey  string
	pageParam string
	skipParam string
	sizeParam string
	startPage int

	// failures maps 1-based request numbers to a forced HTTP status.
	failures map[int]int

	// etag, when set, enables conditional request handling: a matching
	// If-None-Match answers 304 without a body.
	etag string

	RequestCount     int
	ConditionalCount int
	LastHeader       http.Header
}

// NewMockAPI starts a mock server over the given records. The response
// shape is {"total": N, "<dataKey>": [...]}.
func NewMockAPI(records []map[string]any) *MockAPI {
	mock := &MockAPI{
		records:   records,
		dataKey:   "data",
		totalKey:  "total",
		pageParam: "page",
		skipParam: "skip",
		sizeParam: "limit",
		startPage: 1,
		failures:  make(map[int]int),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// FailRequest forces the nth request (1-based) to answer with status.
func (m *MockAPI) FailRequest(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[n] = status
}

// SetRecords replaces the served record set.
func (m *MockAPI) SetRecords(records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// SetETag enables conditional request handling with the given ETag.
func (m *MockAPI) SetETag(etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.etag = etag
}

// GetConditionalCount returns the number of conditional requests seen.
func (m *MockAPI) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// SetStartPage changes the page number the first page is served under.
func (m *MockAPI) SetStartPage(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startPage = n
}

// GetRequestCount returns the number of requests served so far.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	n := m.RequestCount
	m.LastHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.ConditionalCount++
	}
	forced := m.failures[n]
	records := m.records
	startPage := m.startPage
	etag := m.etag
	m.mu.Unlock()

	if forced != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(forced)
		fmt.Fprintf(w, `{"error": %d}`, forced)
		return
	}

	if etag != "" {
		if r.Header.Get("If-None-Match") == etag {
			w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	}

	q := r.URL.Query()
	limit := atoiDefault(q.Get(m.sizeParam), len(records))

	var offset int
	if skip := q.Get(m.skipParam); skip != "" {
		offset = atoiDefault(skip, 0)
	} else {
		page := atoiDefault(q.Get(m.pageParam), startPage)
		offset = (page - startPage) * limit
	}

	end := offset + limit
	if offset > len(records) {
		offset = len(records)
	}
	if end > len(records) {
		end = len(records)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		m.totalKey: len(records),
		m.dataKey:  records[offset:end],
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Records builds n sequential test records with id and rev fields.
func Records(n int) []map[string]any {
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = map[string]any{
			"id":   i + 1,
			"rev":  1,
			"name": fmt.Sprintf("record-%d", i+1),
		}
	}
	return records
}
