// Package cursor tracks pagination position across a run. It supports
// page-number and record-offset addressing and decides when the source
// is exhausted.
package cursor

import (
	"strconv"

	"github.com/ruarxive/apibackuper/pkg/config"
)

// Position is the serializable cursor state stored in a checkpoint.
type Position struct {
	Page     int  `json:"page"`
	Skip     int  `json:"skip"`
	Fetched  int  `json:"fetched"`
	Requests int  `json:"requests"`
	Total    int  `json:"total"`
	Pages    int  `json:"pages"`
	Done     bool `json:"done"`
}

// Cursor drives pagination for one run. A zero-record page is the
// authoritative end-of-data signal; declared totals only let the loop
// stop without fetching the trailing empty page.
type Cursor struct {
	mode      config.IterateBy
	limit     int
	sizeParam string
	numParam  string
	skipParam string

	pos Position
}

// New starts a cursor at the beginning of the source.
func New(cfg *config.Config) *Cursor {
	return Resume(cfg, Position{
		Page:  cfg.StartPage,
		Total: -1,
		Pages: -1,
	})
}

// Resume rebuilds a cursor from a checkpointed position.
func Resume(cfg *config.Config, pos Position) *Cursor {
	return &Cursor{
		mode:      cfg.IterateBy,
		limit:     cfg.PageLimit,
		sizeParam: cfg.PageSizeParam,
		numParam:  cfg.PageNumberParam,
		skipParam: cfg.CountSkipParam,
		pos:       pos,
	}
}

// Params returns the pagination parameters for the next page request.
func (c *Cursor) Params() map[string]string {
	params := make(map[string]string, 2)
	if c.sizeParam != "" {
		params[c.sizeParam] = strconv.Itoa(c.limit)
	}
	switch c.mode {
	case config.IterateBySkip:
		params[c.skipParam] = strconv.Itoa(c.pos.Skip)
	default:
		params[c.numParam] = strconv.Itoa(c.pos.Page)
	}
	return params
}

// Advance moves the cursor past a fetched page. returned is the actual
// record count of the page; declaredTotal and declaredPages are the
// page's advisory counters, -1 when absent.
func (c *Cursor) Advance(returned, declaredTotal, declaredPages int) {
	c.pos.Requests++
	c.pos.Fetched += returned

	if declaredTotal >= 0 {
		c.pos.Total = declaredTotal
	}
	if declaredPages >= 0 {
		c.pos.Pages = declaredPages
	}

	switch c.mode {
	case config.IterateBySkip:
		c.pos.Skip += returned
	default:
		c.pos.Page++
	}

	if returned == 0 {
		c.pos.Done = true
		return
	}
	if c.pos.Total >= 0 && c.pos.Fetched >= c.pos.Total {
		c.pos.Done = true
		return
	}
	if c.pos.Pages >= 0 && c.pos.Requests >= c.pos.Pages {
		c.pos.Done = true
	}
}

// Done reports whether the source is exhausted.
func (c *Cursor) Done() bool {
	return c.pos.Done
}

// Fetched returns the number of records seen so far.
func (c *Cursor) Fetched() int {
	return c.pos.Fetched
}

// Requests returns the number of pages fetched so far.
func (c *Cursor) Requests() int {
	return c.pos.Requests
}

// Position returns the serializable cursor state.
func (c *Cursor) Position() Position {
	return c.pos
}

// Estimate returns the number of page requests needed for total records
// at pageLimit records per page.
func Estimate(total, pageLimit int) int {
	if total <= 0 || pageLimit <= 0 {
		return 0
	}
	return (total + pageLimit - 1) / pageLimit
}
