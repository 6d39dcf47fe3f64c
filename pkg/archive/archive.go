// Package archive implements the durable local record store. Records
// live in a single append-only container file of JSON-line envelopes;
// with compression enabled every page batch becomes an independent
// gzip member, so batches appended by resumed runs concatenate into
// one valid stream.
package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ruarxive/apibackuper/pkg/logging"
)

// Prometheus metrics for archive operations.
var (
	entriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_archive_entries_written_total",
		Help: "Total archive entries appended",
	})

	checkpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_archive_checkpoints_total",
		Help: "Total durable archive checkpoints",
	})

	archiveBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apibackuper_archive_size_bytes",
		Help: "Current archive container size in bytes",
	})
)

// Entry is one archived record envelope. Record holds the bytes the
// API returned, untouched.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Change      string          `json:"change,omitempty"`
	WrittenAt   time.Time       `json:"written_at"`
	SourcePage  int             `json:"source_page"`
	Record      json.RawMessage `json:"record"`
}

// Stats summarizes the archive for the info command.
type Stats struct {
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	Entries    int    `json:"entries"`
	Unique     int    `json:"unique_records"`
	Compressed bool   `json:"compressed"`
}

// Archive is the open container. One process owns it exclusively for
// the duration of a run, enforced by an advisory lock released on both
// normal completion and process death.
type Archive struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	compress bool

	// index maps fingerprint to the latest change marker; entries
	// counts every envelope including superseded versions.
	index   map[string]string
	entries int

	logger zerolog.Logger
}

// Path returns the container file location for a project storage dir.
func Path(storageDir, name string, compress bool) string {
	filename := name + ".jsonl"
	if compress {
		filename += ".gz"
	}
	return filepath.Join(storageDir, filename)
}

// Open opens or creates the container and takes the exclusive lock.
// The fingerprint index is rebuilt by a full scan; a corrupt tail left
// by a crash is truncated away so appends continue from the last
// complete entry.
func Open(path string, compress bool) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &Error{Kind: KindWriteFailed, Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &Error{Kind: KindWriteFailed, Path: path, Err: err}
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	a := &Archive{
		f:        f,
		path:     path,
		compress: compress,
		index:    make(map[string]string),
		logger:   logging.NewLogger("archive").With().Str("path", path).Logger(),
	}

	goodEnd, err := a.scanFrom(f, func(e Entry) error {
		a.index[e.Fingerprint] = e.Change
		a.entries++
		return nil
	})
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, &Error{Kind: KindWriteFailed, Path: path, Err: err}
	}

	if goodEnd < size {
		a.logger.Warn().
			Int64("truncated_bytes", size-goodEnd).
			Msg("Dropping incomplete tail left by an interrupted run")
		if err := f.Truncate(goodEnd); err != nil {
			unlockFile(f)
			f.Close()
			return nil, &Error{Kind: KindWriteFailed, Path: path, Err: err}
		}
		if _, err := f.Seek(goodEnd, io.SeekStart); err != nil {
			unlockFile(f)
			f.Close()
			return nil, &Error{Kind: KindWriteFailed, Path: path, Err: err}
		}
		size = goodEnd
	}

	archiveBytes.Set(float64(size))
	a.logger.Debug().
		Int("entries", a.entries).
		Int("unique", len(a.index)).
		Msg("Archive opened")

	return a, nil
}

// Exists reports whether a record with this identity fingerprint has
// been archived.
func (a *Archive) Exists(fingerprint string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.index[fingerprint]
	return ok
}

// ChangeMarker returns the latest change fingerprint stored for the
// identity, and whether the identity is present at all.
func (a *Archive) ChangeMarker(fingerprint string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	marker, ok := a.index[fingerprint]
	return marker, ok
}

// AppendPage appends one page batch of entries. With compression on,
// the batch is written as a self-contained gzip member. Entry naming
// is stable by fingerprint, so an entry appended again supersedes the
// earlier version rather than duplicating it.
func (a *Archive) AppendPage(entries []Entry, sourcePage int) error {
	if len(entries) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		entries[i].WrittenAt = now
		entries[i].SourcePage = sourcePage
		if err := enc.Encode(&entries[i]); err != nil {
			return &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
		}
	}

	payload := buf.Bytes()
	if a.compress {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(payload); err != nil {
			return &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
		}
		if err := zw.Close(); err != nil {
			return &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
		}
		payload = zbuf.Bytes()
	}

	if _, err := a.f.Write(payload); err != nil {
		return &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
	}

	for i := range entries {
		a.index[entries[i].Fingerprint] = entries[i].Change
	}
	a.entries += len(entries)
	entriesWritten.Add(float64(len(entries)))

	a.logger.Debug().
		Int("records", len(entries)).
		Int("page", sourcePage).
		Msg("Page batch appended")

	return nil
}

// Checkpoint forces appended batches to durable storage. After it
// returns, a crash cannot lose the entries written so far.
func (a *Archive) Checkpoint() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.f.Sync(); err != nil {
		return &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
	}

	if size, err := a.f.Seek(0, io.SeekCurrent); err == nil {
		archiveBytes.Set(float64(size))
	}
	checkpointsTotal.Inc()
	return nil
}

// Stats returns a summary of the open archive.
func (a *Archive) Stats() (Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fi, err := a.f.Stat()
	if err != nil {
		return Stats{}, &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
	}

	return Stats{
		Path:       a.path,
		SizeBytes:  fi.Size(),
		Entries:    a.entries,
		Unique:     len(a.index),
		Compressed: a.compress,
	}, nil
}

// ReadStats summarizes a container without taking the lock, so a
// read-only inspection can run alongside an active run. A missing file
// yields empty stats.
func ReadStats(path string, compress bool) (Stats, error) {
	stats := Stats{Path: path, Compressed: compress}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, &Error{Kind: KindWriteFailed, Path: path, Err: err}
	}
	defer f.Close()

	a := &Archive{
		path:     path,
		compress: compress,
		index:    make(map[string]string),
		logger:   logging.NewLogger("archive"),
	}
	if _, err := a.scanFrom(f, func(e Entry) error {
		a.index[e.Fingerprint] = e.Change
		a.entries++
		return nil
	}); err != nil {
		return stats, err
	}

	fi, err := f.Stat()
	if err != nil {
		return stats, &Error{Kind: KindWriteFailed, Path: path, Err: err}
	}

	stats.SizeBytes = fi.Size()
	stats.Entries = a.entries
	stats.Unique = len(a.index)
	return stats, nil
}

// Close syncs, releases the lock, and closes the container.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.f == nil {
		return nil
	}

	syncErr := a.f.Sync()
	unlockFile(a.f)
	closeErr := a.f.Close()
	a.f = nil

	if syncErr != nil {
		return &Error{Kind: KindWriteFailed, Path: a.path, Err: syncErr}
	}
	if closeErr != nil {
		return &Error{Kind: KindWriteFailed, Path: a.path, Err: closeErr}
	}
	return nil
}
