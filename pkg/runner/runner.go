// Package runner owns run orchestration: it drives the fetch, extract,
// archive loop page by page, persists a checkpoint after every page,
// and decides the terminal run status.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ruarxive/apibackuper/pkg/archive"
	"github.com/ruarxive/apibackuper/pkg/auth"
	"github.com/ruarxive/apibackuper/pkg/cache"
	"github.com/ruarxive/apibackuper/pkg/config"
	"github.com/ruarxive/apibackuper/pkg/cursor"
	"github.com/ruarxive/apibackuper/pkg/extract"
	"github.com/ruarxive/apibackuper/pkg/fieldpath"
	"github.com/ruarxive/apibackuper/pkg/logging"
	"github.com/ruarxive/apibackuper/pkg/ratelimit"
	"github.com/ruarxive/apibackuper/pkg/transport"
)

// Prometheus metrics for run progress.
var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_pages_fetched_total",
		Help: "Total pages fetched across runs",
	})

	recordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_records_written_total",
		Help: "Total records written to the archive",
	})

	recordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_records_skipped_total",
		Help: "Total records skipped as already archived or unchanged",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apibackuper_runs_total",
		Help: "Total runs by terminal status",
	}, []string{"status"})
)

// Runner drives backup runs for one project.
type Runner struct {
	cfg       *config.Config
	transport *transport.Client
	extractor *extract.Extractor
	logger    zerolog.Logger
}

// New composes a runner from a validated project configuration.
func New(cfg *config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger("runner")

	authn, err := auth.FromConfig(cfg.Auth, &http.Client{Timeout: cfg.Request.Timeout}, logger)
	if err != nil {
		return nil, err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.BurstSize,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
		}, logging.NewLogger("ratelimit"))
	}

	var cacheMgr *cache.Manager
	if cfg.Cache.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		cacheMgr = cache.NewManager(redisClient)
	}

	tr, err := transport.New(cfg, authn, limiter, cacheMgr)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:       cfg,
		transport: tr,
		extractor: extract.New(cfg),
		logger:    logger,
	}, nil
}

// Run starts a fresh run in the given mode.
func (r *Runner) Run(ctx context.Context, mode Mode) (*RunState, error) {
	state := &RunState{
		Mode:      mode,
		Status:    StatusRunning,
		Cursor:    cursor.New(r.cfg).Position(),
		StartedAt: time.Now().UTC(),
	}
	return r.drive(ctx, state, cursor.New(r.cfg))
}

// Continue resumes the last checkpointed run at its stored cursor
// position. Already-archived entries are never duplicated because page
// state is only checkpointed after its batch is durable.
func (r *Runner) Continue(ctx context.Context) (*RunState, error) {
	state, err := loadState(r.cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	if !state.Resumable() {
		return nil, fmt.Errorf("last run already %s; nothing to continue", state.Status)
	}

	r.logger.Info().
		Str("mode", string(state.Mode)).
		Int("requests_done", state.Cursor.Requests).
		Int("records_written", state.RecordsWritten).
		Msg("Resuming run from checkpoint")

	state.Status = StatusRunning
	state.Error = ""
	return r.drive(ctx, state, cursor.Resume(r.cfg, state.Cursor))
}

func (r *Runner) drive(ctx context.Context, state *RunState, cur *cursor.Cursor) (*RunState, error) {
	arch, err := archive.Open(r.archivePath(), r.cfg.Compression)
	if err != nil {
		// A held lock or unreadable container fails before the run
		// starts; the previous checkpoint stays untouched.
		return nil, err
	}
	defer arch.Close()

	for !cur.Done() {
		// Cancellation is observed between pages only, so a page
		// that made it into the archive is never lost.
		if ctx.Err() != nil {
			return r.finish(state, StatusInterrupted, ctx.Err())
		}

		sourcePage := cur.Requests() + 1
		result, err := r.transport.Send(ctx, r.pageRequest(cur.Params()))
		if err != nil {
			return r.finish(state, r.statusFor(ctx, err), err)
		}
		pagesFetched.Inc()

		page, err := r.extractor.ExtractPage(result.Body)
		if err != nil {
			return r.finish(state, StatusFailed, err)
		}

		batch, skipped := r.selectRecords(state.Mode, arch, page.Records)
		if err := arch.AppendPage(batch, sourcePage); err != nil {
			return r.finish(state, StatusFailed, err)
		}
		if err := arch.Checkpoint(); err != nil {
			return r.finish(state, StatusFailed, err)
		}

		cur.Advance(len(page.Records), page.Total, page.Pages)
		state.Cursor = cur.Position()
		state.RecordsWritten += len(batch)
		state.RecordsSkipped += skipped
		recordsWritten.Add(float64(len(batch)))
		recordsSkipped.Add(float64(skipped))

		if err := saveState(r.cfg.StoragePath, state); err != nil {
			return state, err
		}

		r.logger.Info().
			Int("page", sourcePage).
			Int("records", len(page.Records)).
			Int("written", len(batch)).
			Int("skipped", skipped).
			Bool("from_cache", result.FromCache).
			Msg("Page archived")
	}

	return r.finish(state, StatusCompleted, nil)
}

// statusFor distinguishes resumable interruptions from fatal failures.
// Cancellation and exhausted transient retries leave a resumable
// checkpoint; everything else is a hard failure.
func (r *Runner) statusFor(ctx context.Context, err error) Status {
	if ctx.Err() != nil || errors.Is(err, transport.ErrContextCancelled) {
		return StatusInterrupted
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.Retriable(r.cfg.RetriableStatuses()) {
		return StatusInterrupted
	}
	return StatusFailed
}

func (r *Runner) finish(state *RunState, status Status, cause error) (*RunState, error) {
	state.Status = status
	if cause != nil {
		state.Error = cause.Error()
	}
	runsTotal.WithLabelValues(string(status)).Inc()

	if err := saveState(r.cfg.StoragePath, state); err != nil {
		if cause != nil {
			return state, errors.Join(cause, err)
		}
		return state, err
	}

	event := r.logger.Info()
	if status == StatusFailed {
		event = r.logger.Error().Err(cause)
	}
	event.
		Str("status", string(status)).
		Int("records_written", state.RecordsWritten).
		Int("records_skipped", state.RecordsSkipped).
		Int("pages", state.Cursor.Requests).
		Msg("Run finished")

	return state, cause
}

// selectRecords applies the mode semantics to one page of records.
func (r *Runner) selectRecords(mode Mode, arch *archive.Archive, records []extract.Record) ([]archive.Entry, int) {
	batch := make([]archive.Entry, 0, len(records))
	skipped := 0

	for _, rec := range records {
		switch mode {
		case ModeIncremental:
			if arch.Exists(rec.Fingerprint) {
				skipped++
				continue
			}
		case ModeUpdate:
			// Records without a change marker are always rewritten.
			if marker, ok := arch.ChangeMarker(rec.Fingerprint); ok && rec.HasChange && marker == rec.Change {
				skipped++
				continue
			}
		}
		batch = append(batch, archive.Entry{
			Fingerprint: rec.Fingerprint,
			Change:      rec.Change,
			Record:      rec.Raw,
		})
	}
	return batch, skipped
}

// pageRequest merges the project's static parameters with the cursor's
// pagination parameters. GET sends them as query parameters, POST as a
// JSON body.
func (r *Runner) pageRequest(pagination map[string]string) transport.PageRequest {
	req := transport.PageRequest{
		Method:  r.cfg.HTTPMode,
		URL:     r.cfg.URL,
		Headers: r.cfg.Headers,
	}

	if r.cfg.HTTPMode == http.MethodPost {
		body := make(map[string]any, len(r.cfg.Params)+len(pagination))
		for k, v := range r.cfg.Params {
			body[k] = v
		}
		for k, v := range pagination {
			body[k] = v
		}
		// Parameter maps hold scalars only, so this cannot fail.
		req.Body, _ = json.Marshal(body)
		return req
	}

	query := url.Values{}
	for k, v := range r.cfg.Params {
		// FormatScalar keeps large numbers in plain notation where
		// fmt.Sprint would emit exponent form for float64 >= 1e6.
		if s, ok := fieldpath.FormatScalar(v); ok {
			query.Set(k, s)
		} else {
			query.Set(k, fmt.Sprint(v))
		}
	}
	for k, v := range pagination {
		query.Set(k, v)
	}
	req.Query = query
	return req
}

// EstimateResult is the outcome of a read-only estimate probe. Size
// and duration are projected from the sample page: average record
// bytes times the declared total, and sample request latency times the
// projected request count.
type EstimateResult struct {
	Total                    int     `json:"estimated_total_records"`
	PageLimit                int     `json:"page_limit"`
	TotalRequests            int     `json:"estimated_total_requests"`
	FirstPageRecords         int     `json:"first_page_records"`
	AvgRecordBytes           int     `json:"avg_record_bytes"`
	EstimatedSizeBytes       int64   `json:"estimated_size_bytes"`
	EstimatedDurationSeconds float64 `json:"estimated_duration_seconds"`
}

// Estimate fetches one page and projects the work a full run would do.
// Total is -1 when the source does not declare a count.
func (r *Runner) Estimate(ctx context.Context) (*EstimateResult, error) {
	cur := cursor.New(r.cfg)

	start := time.Now()
	result, err := r.transport.Send(ctx, r.pageRequest(cur.Params()))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	page, err := r.extractor.ExtractPage(result.Body)
	if err != nil {
		return nil, err
	}

	est := &EstimateResult{
		Total:            page.Total,
		PageLimit:        r.cfg.PageLimit,
		FirstPageRecords: len(page.Records),
	}
	switch {
	case page.Total >= 0:
		est.TotalRequests = cursor.Estimate(page.Total, r.cfg.PageLimit)
	case page.Pages >= 0:
		est.TotalRequests = page.Pages
	}

	if len(page.Records) > 0 {
		sample := 0
		for _, rec := range page.Records {
			sample += len(rec.Raw)
		}
		est.AvgRecordBytes = sample / len(page.Records)
	}
	switch {
	case page.Total >= 0:
		est.EstimatedSizeBytes = int64(est.AvgRecordBytes) * int64(page.Total)
	case est.TotalRequests > 0:
		est.EstimatedSizeBytes = int64(est.AvgRecordBytes) * int64(est.TotalRequests) * int64(len(page.Records))
	}
	est.EstimatedDurationSeconds = latency.Seconds() * float64(est.TotalRequests)

	return est, nil
}

// InfoResult summarizes the archive and the last run for the info
// command.
type InfoResult struct {
	Project string        `json:"project"`
	URL     string        `json:"url"`
	Archive archive.Stats `json:"archive"`
	LastRun *RunState     `json:"last_run,omitempty"`
}

// Info reads the archive and checkpoint without taking the run lock.
func (r *Runner) Info() (*InfoResult, error) {
	stats, err := archive.ReadStats(r.archivePath(), r.cfg.Compression)
	if err != nil {
		return nil, err
	}

	info := &InfoResult{
		Project: r.cfg.Name,
		URL:     r.cfg.URL,
		Archive: stats,
	}

	state, err := loadState(r.cfg.StoragePath)
	if err != nil && !errors.Is(err, ErrNoCheckpoint) {
		return nil, err
	}
	info.LastRun = state
	return info, nil
}

func (r *Runner) archivePath() string {
	name := r.cfg.Name
	if name == "" {
		name = "archive"
	}
	return archive.Path(r.cfg.StoragePath, name, r.cfg.Compression)
}
