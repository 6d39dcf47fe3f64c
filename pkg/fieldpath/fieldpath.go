// Package fieldpath resolves dot-separated field paths against decoded
// JSON trees. A path is an ordered sequence of segments split by a
// configurable splitter, so field names that legitimately contain a dot
// can be addressed by overriding the splitter.
package fieldpath

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultSplitter separates path segments unless overridden.
const DefaultSplitter = "."

// Path is a parsed field path.
type Path struct {
	segments []string
	splitter string
}

// New parses a path expression using the given splitter.
// An empty splitter falls back to DefaultSplitter.
func New(expr, splitter string) Path {
	if splitter == "" {
		splitter = DefaultSplitter
	}
	if expr == "" {
		return Path{splitter: splitter}
	}
	return Path{
		segments: strings.Split(expr, splitter),
		splitter: splitter,
	}
}

// IsZero reports whether the path is empty.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// Segments returns the parsed path segments in order.
func (p Path) Segments() []string {
	return p.segments
}

// String returns the path expression in its original form.
func (p Path) String() string {
	return strings.Join(p.segments, p.splitter)
}

// Resolve walks the decoded JSON tree along the path. It descends into
// maps only; sequences and scalars terminate the walk. The second return
// value reports whether every segment was present.
func Resolve(tree any, p Path) (any, bool) {
	if p.IsZero() {
		return tree, true
	}
	node := tree
	for _, seg := range p.segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// FormatScalar renders a resolved leaf value as its canonical string
// form for fingerprint construction. Maps and sequences are not scalars
// and return false, as does nil.
func FormatScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// ToInt converts a resolved numeric leaf to an int64. APIs report totals
// as JSON numbers or numeric strings; both are accepted.
func ToInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
