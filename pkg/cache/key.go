package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies one cached page response. Two requests for the
// same method, URL and parameters map to the same key across runs.
type CacheKey struct {
	// Method is the HTTP method (only GET responses are cached).
	Method string

	// URL is the request URL without query parameters.
	URL string

	// Params are the query parameters.
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: apibackuper:METHOD:url:param1=val1:param2=val2
//
// Example:
//
//	apibackuper:GET:https://api.example.org/items:limit=100:page=3
func (k CacheKey) String() string {
	parts := []string{"apibackuper", strings.ToUpper(k.Method), k.URL}

	// Sorted for determinism.
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
