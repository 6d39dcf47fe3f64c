package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
)

// Scan replays every envelope in write order through fn, including
// superseded versions of rewritten records. It reads through a second
// handle, so the write position is unaffected.
func (a *Archive) Scan(fn func(Entry) error) error {
	f, err := os.Open(a.path)
	if err != nil {
		return &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
	}
	defer f.Close()

	_, err = a.scanFrom(f, fn)
	return err
}

// scanFrom reads entries from the start of f and returns the byte
// offset just past the last complete unit (line, or gzip member when
// compressed). An incomplete tail is reported via the offset, not as
// an error; corruption before the tail is a CorruptEntry error.
func (a *Archive) scanFrom(f *os.File, fn func(Entry) error) (int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
	}
	if a.compress {
		return a.scanCompressed(f, fn)
	}
	return a.scanPlain(f, fn)
}

func (a *Archive) scanPlain(f *os.File, fn func(Entry) error) (int64, error) {
	br := bufio.NewReaderSize(f, 1<<20)
	var offset int64

	for {
		line, err := br.ReadBytes('\n')
		if err == nil {
			var e Entry
			if uerr := json.Unmarshal(line, &e); uerr != nil {
				// A malformed complete line means the tail from
				// here on is unusable.
				return offset, nil
			}
			if cerr := fn(e); cerr != nil {
				return offset, cerr
			}
			offset += int64(len(line))
			continue
		}
		if errors.Is(err, io.EOF) {
			// A partial last line without its newline is the
			// residue of an interrupted write.
			return offset, nil
		}
		return offset, &Error{Kind: KindWriteFailed, Path: a.path, Err: err}
	}
}

func (a *Archive) scanCompressed(f *os.File, fn func(Entry) error) (int64, error) {
	cr := &countingReader{r: f}

	zr, err := gzip.NewReader(cr)
	if err != nil {
		// Empty file or a header fragment from a dead first write.
		return 0, nil
	}
	defer zr.Close()

	var goodEnd int64
	for {
		zr.Multistream(false)
		member, err := io.ReadAll(zr)
		if err != nil {
			return goodEnd, nil
		}

		for _, line := range bytes.Split(member, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			var e Entry
			if uerr := json.Unmarshal(line, &e); uerr != nil {
				return goodEnd, &Error{Kind: KindCorruptEntry, Path: a.path, Err: uerr}
			}
			if cerr := fn(e); cerr != nil {
				return goodEnd, cerr
			}
		}
		goodEnd = cr.n

		err = zr.Reset(cr)
		if errors.Is(err, io.EOF) {
			return goodEnd, nil
		}
		if err != nil {
			// Next member header is damaged; everything before it
			// is intact.
			return goodEnd, nil
		}
	}
}

// countingReader tracks the exact byte offset consumed from the
// underlying file. It implements io.ByteReader so gzip does not add
// its own read-ahead buffering, which would make the count overshoot
// member boundaries.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := c.r.Read(b[:])
		if n == 1 {
			c.n++
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}
