// Package extract parses page bodies into records and derives their
// identity and change fingerprints from configured field paths.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ruarxive/apibackuper/pkg/config"
	"github.com/ruarxive/apibackuper/pkg/fieldpath"
)

// fingerprintSep joins the formatted values of a multi-field key.
const fingerprintSep = "|"

// Reason classifies an extraction failure.
type Reason string

const (
	// ReasonMissingDataKey means the configured data container path is
	// absent from the page body, or the body is not a record list.
	ReasonMissingDataKey Reason = "missing_data_key"

	// ReasonMissingIdentityField means a record lacks one of its
	// configured identity fields.
	ReasonMissingIdentityField Reason = "missing_identity_field"
)

// Error is a fatal extraction failure. A malformed record aborts the
// run rather than silently skipping, so a partial archive never looks
// complete.
type Error struct {
	Reason Reason
	Field  string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Reason {
	case ReasonMissingDataKey:
		if e.Err != nil {
			return fmt.Sprintf("extract: data key %q not found: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("extract: data key %q not found in page body", e.Field)
	case ReasonMissingIdentityField:
		return fmt.Sprintf("extract: record is missing identity field %q", e.Field)
	default:
		return fmt.Sprintf("extract: %s: %s", e.Reason, e.Field)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Record is one extracted record with its fingerprints. Raw holds the
// record bytes exactly as the API returned them. HasChange is false
// when no change key is configured or the record lacks one of its
// change fields; such records are treated as always-changed in update
// mode.
type Record struct {
	Fingerprint string
	Change      string
	HasChange   bool
	Raw         json.RawMessage
}

// Page is the parsed form of one page body. Total and Pages are -1
// when the body does not declare them.
type Page struct {
	Records []Record
	Total   int
	Pages   int
}

// Extractor parses page bodies according to the project field paths.
// It is stateless and safe for concurrent use.
type Extractor struct {
	dataKey    fieldpath.Path
	itemKeys   []fieldpath.Path
	changeKeys []fieldpath.Path
	totalKey   fieldpath.Path
	pagesKey   fieldpath.Path
}

// New builds an extractor from the project configuration.
func New(cfg *config.Config) *Extractor {
	e := &Extractor{
		dataKey:  fieldpath.New(cfg.DataKey, cfg.Splitter),
		totalKey: fieldpath.New(cfg.TotalNumberKey, cfg.Splitter),
		pagesKey: fieldpath.New(cfg.PagesNumberKey, cfg.Splitter),
	}
	for _, k := range cfg.ItemKey {
		e.itemKeys = append(e.itemKeys, fieldpath.New(k, cfg.Splitter))
	}
	for _, k := range cfg.ChangeKey {
		e.changeKeys = append(e.changeKeys, fieldpath.New(k, cfg.Splitter))
	}
	return e
}

// ExtractPage parses one page body. The declared total is advisory;
// callers must treat an empty Records slice as the authoritative
// end-of-data signal.
func (e *Extractor) ExtractPage(body []byte) (*Page, error) {
	items, err := e.locateItems(body)
	if err != nil {
		return nil, err
	}

	page := &Page{Total: -1, Pages: -1}

	if !e.totalKey.IsZero() || !e.pagesKey.IsZero() {
		tree, err := decodeTree(body)
		if err == nil {
			if !e.totalKey.IsZero() {
				if v, ok := fieldpath.Resolve(tree, e.totalKey); ok {
					if n, ok := fieldpath.ToInt(v); ok {
						page.Total = int(n)
					}
				}
			}
			if !e.pagesKey.IsZero() {
				if v, ok := fieldpath.Resolve(tree, e.pagesKey); ok {
					if n, ok := fieldpath.ToInt(v); ok {
						page.Pages = int(n)
					}
				}
			}
		}
	}

	for _, raw := range items {
		rec, err := e.extractRecord(raw)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, rec)
	}

	return page, nil
}

func (e *Extractor) extractRecord(raw json.RawMessage) (Record, error) {
	tree, err := decodeTree(raw)
	if err != nil {
		return Record{}, &Error{Reason: ReasonMissingIdentityField, Field: e.itemKeys[0].String(), Err: err}
	}

	identity := make([]string, 0, len(e.itemKeys))
	for _, p := range e.itemKeys {
		v, ok := fieldpath.Resolve(tree, p)
		if !ok {
			return Record{}, &Error{Reason: ReasonMissingIdentityField, Field: p.String()}
		}
		s, ok := fieldpath.FormatScalar(v)
		if !ok {
			return Record{}, &Error{Reason: ReasonMissingIdentityField, Field: p.String()}
		}
		identity = append(identity, s)
	}

	// Change fields are tolerant of absence: a record missing one is
	// treated as always-changed rather than rejected.
	var change string
	hasChange := len(e.changeKeys) > 0
	if len(e.changeKeys) > 0 {
		parts := make([]string, 0, len(e.changeKeys))
		for _, p := range e.changeKeys {
			v, ok := fieldpath.Resolve(tree, p)
			if !ok {
				hasChange = false
				parts = append(parts, "")
				continue
			}
			formatted, ok := fieldpath.FormatScalar(v)
			if !ok {
				hasChange = false
				parts = append(parts, "")
				continue
			}
			parts = append(parts, formatted)
		}
		change = strings.Join(parts, fingerprintSep)
	}

	return Record{
		Fingerprint: strings.Join(identity, fingerprintSep),
		Change:      change,
		HasChange:   hasChange,
		Raw:         raw,
	}, nil
}

// locateItems walks the data key through the body and returns the raw
// record list. Record bytes are kept verbatim for archival.
func (e *Extractor) locateItems(body []byte) ([]json.RawMessage, error) {
	node := json.RawMessage(body)

	for _, seg := range e.dataKey.Segments() {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(node, &obj); err != nil {
			return nil, &Error{Reason: ReasonMissingDataKey, Field: e.dataKey.String(), Err: err}
		}
		next, ok := obj[seg]
		if !ok {
			return nil, &Error{Reason: ReasonMissingDataKey, Field: e.dataKey.String()}
		}
		node = next
	}

	var items []json.RawMessage
	if err := json.Unmarshal(node, &items); err != nil {
		return nil, &Error{Reason: ReasonMissingDataKey, Field: e.dataKey.String(), Err: err}
	}
	return items, nil
}

// decodeTree parses JSON preserving number precision.
func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}
