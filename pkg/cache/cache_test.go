package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client, skipping when Redis is
// unavailable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "url without params",
			key:  CacheKey{Method: "GET", URL: "https://api.example.org/items"},
			want: "apibackuper:GET:https://api.example.org/items",
		},
		{
			name: "params sorted",
			key: CacheKey{
				Method: "GET",
				URL:    "https://api.example.org/items",
				Params: url.Values{
					"page":  []string{"3"},
					"limit": []string{"100"},
				},
			},
			want: "apibackuper:GET:https://api.example.org/items:limit=100:page=3",
		},
		{
			name: "method normalized",
			key:  CacheKey{Method: "get", URL: "https://api.example.org/items"},
			want: "apibackuper:GET:https://api.example.org/items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	entry := &CacheEntry{Expires: time.Now().Add(time.Hour)}

	ttl := entry.TTL()
	if ttl <= 59*time.Minute || ttl > time.Hour {
		t.Errorf("TTL() = %v, want about 1h", ttl)
	}

	expired := &CacheEntry{Expires: time.Now().Add(-time.Minute)}
	if expired.TTL() != 0 {
		t.Errorf("expired TTL() = %v, want 0", expired.TTL())
	}
	if !expired.IsExpired() {
		t.Error("IsExpired() = false for past expiry")
	}
}

func TestResponseToEntry(t *testing.T) {
	body := `{"data": [1, 2, 3]}`
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Etag":          []string{`"abc123"`},
			"Last-Modified": []string{"Mon, 02 Jan 2006 15:04:05 GMT"},
			"Expires":       []string{time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)},
		},
		Body: io.NopCloser(bytes.NewReader([]byte(body))),
	}

	entry, err := ResponseToEntry(resp)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}

	if string(entry.Data) != body {
		t.Errorf("Data = %q, want %q", entry.Data, body)
	}
	if entry.ETag != `"abc123"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if entry.LastModified.IsZero() {
		t.Error("LastModified not parsed")
	}
	if entry.TTL() <= 0 {
		t.Error("entry should not be expired")
	}

	// Body must be restored for the caller.
	restored, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != body {
		t.Errorf("restored body = %q, want %q", restored, body)
	}
}

func TestConditionalRequestHelpers(t *testing.T) {
	tests := []struct {
		name        string
		entry       *CacheEntry
		conditional bool
		wantHeader  string
	}{
		{name: "nil entry", entry: nil, conditional: false},
		{name: "no validators", entry: &CacheEntry{}, conditional: false},
		{
			name:        "etag preferred",
			entry:       &CacheEntry{ETag: `"v1"`, LastModified: time.Now()},
			conditional: true,
			wantHeader:  "If-None-Match",
		},
		{
			name:        "last modified fallback",
			entry:       &CacheEntry{LastModified: time.Now()},
			conditional: true,
			wantHeader:  "If-Modified-Since",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldMakeConditionalRequest(tt.entry); got != tt.conditional {
				t.Fatalf("ShouldMakeConditionalRequest() = %v, want %v", got, tt.conditional)
			}
			if !tt.conditional {
				return
			}

			req, _ := http.NewRequest("GET", "https://api.example.org/items", nil)
			AddConditionalHeaders(req, tt.entry)
			if req.Header.Get(tt.wantHeader) == "" {
				t.Errorf("expected %s header to be set", tt.wantHeader)
			}
		})
	}
}

func TestManager_SetGetDelete(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient)
	ctx := context.Background()

	key := CacheKey{Method: "GET", URL: "https://api.example.org/items", Params: url.Values{"page": []string{"1"}}}

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Fatalf("Get() on empty cache error = %v, want ErrCacheMiss", err)
	}

	entry := &CacheEntry{
		Data:       []byte(`{"ok": true}`),
		ETag:       `"e1"`,
		StatusCode: http.StatusOK,
		Expires:    time.Now().Add(time.Hour),
		CachedAt:   time.Now(),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != `{"ok": true}` || got.ETag != `"e1"` {
		t.Errorf("Get() = %+v", got)
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() after delete error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StaleEntryKeepsValidators(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient)
	ctx := context.Background()

	key := CacheKey{Method: "GET", URL: "https://api.example.org/items"}
	entry := &CacheEntry{
		Data:    []byte("body"),
		ETag:    `"stale-ok"`,
		Expires: time.Now().Add(-time.Minute),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v, stale entries should still be served for validators", err)
	}
	if !got.IsExpired() {
		t.Error("entry should be stale")
	}
	if got.ETag != `"stale-ok"` {
		t.Errorf("ETag = %q", got.ETag)
	}
}
