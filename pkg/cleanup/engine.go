// Package cleanup drives the proposal lifecycle: it selects records the
// ledger has not seen, asks the generator for a formatted version, stores the
// result as a pending proposal and marks the record processed. Approval and
// rejection are delegated to the store.
//
// Per record the pass moves selected → generating → proposed | failed. A
// failed record gets no proposal and no ledger entry, so the next pass
// retries it. A proposed record always has its proposal written before its
// ledger entry.
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/japaniel/lexicon/pkg/config"
	"github.com/japaniel/lexicon/pkg/db"
	"github.com/japaniel/lexicon/pkg/ledger"
	"github.com/japaniel/lexicon/pkg/llm"
)

// Generator produces a formatting proposal for one record.
type Generator interface {
	GenerateFormatting(ctx context.Context, rec db.Record) (*llm.Generated, error)
}

// pinger is implemented by generators that can check reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Report summarizes one cleanup pass.
type Report struct {
	Selected int
	Proposed int
	Failed   int
	// Skipped counts selected records never attempted because the pass was
	// cancelled or aborted.
	Skipped int
	// Proposals maps record id to the id of the proposal created for it.
	Proposals map[int64]string
	// Failures maps record id to the generation or store error.
	Failures map[int64]error
	Duration time.Duration
}

// Engine orchestrates cleanup passes and proposal decisions.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	conn       *sql.DB
	ownsConn   bool
	gen        Generator
	ledger     *ledger.Ledger
	ownsLedger bool
	metrics    *Metrics

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface

	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	initialized bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDB uses an already open store. The engine does not close it.
func WithDB(conn *sql.DB) Option {
	return func(e *Engine) { e.conn = conn }
}

// WithGenerator replaces the HTTP generation client.
func WithGenerator(g Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithLedger uses the given ledger instead of loading one from config.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPoolFactory overrides worker pool construction.
func WithPoolFactory(f func(workers, queue int) WorkerPoolInterface) Option {
	return func(e *Engine) { e.PoolFactory = f }
}

// New creates an engine. Nothing is opened until Initialize.
func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}
	return e
}

// Initialize opens the store, checks the generation service and loads the
// ledger. On failure everything acquired so far is released and a
// *ConnectionError is returned.
func (e *Engine) Initialize(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	defer func() {
		if err != nil {
			e.closeLocked()
		}
	}()

	if e.conn == nil {
		conn, err := db.Open(e.cfg.Database.Path)
		if err != nil {
			return &ConnectionError{Component: "store", Err: err}
		}
		e.conn = conn
		e.ownsConn = true
	} else if err := e.conn.PingContext(ctx); err != nil {
		return &ConnectionError{Component: "store", Err: err}
	}

	if e.gen == nil {
		e.gen = llm.NewClient(e.cfg.LLM.URL, e.cfg.LLM.Model,
			llm.WithAPIKey(e.cfg.LLM.APIKey),
			llm.WithTemperature(e.cfg.LLM.Temperature),
			llm.WithMaxTokens(e.cfg.LLM.MaxTokens),
			llm.WithTimeout(e.cfg.LLM.Timeout),
			llm.WithLogger(e.logger),
		)
	}
	if p, ok := e.gen.(pinger); ok && !e.cfg.LLM.SkipPing {
		if err := p.Ping(ctx); err != nil {
			return &ConnectionError{Component: "generator", Err: err}
		}
	}

	if e.ledger == nil {
		e.ledger = ledger.Load(e.cfg.Ledger.Path, e.logger)
		e.ownsLedger = true
	}

	e.initialized = true
	e.logger.Debug("Cleanup engine initialized",
		"database", e.cfg.Database.Path,
		"ledger", e.ledger.Path(),
		"processed", e.ledger.Len())
	return nil
}

// Close closes the store it opened. The ledger is not written here: every
// mutation already flushed it, and a stale snapshot must not overwrite entries
// another engine wrote since Initialize. Close is safe to call more than once
// and after a failed Initialize.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	var err error
	if e.ownsLedger {
		e.ledger = nil
		e.ownsLedger = false
	}
	if e.ownsConn && e.conn != nil {
		err = e.conn.Close()
		e.conn = nil
		e.ownsConn = false
	}
	e.initialized = false
	return err
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Ledger returns the engine's ledger, nil before Initialize.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// RunPass generates proposals for up to batchSize unprocessed records
// (the configured batch size when batchSize <= 0). Generation failures are
// logged and reported per record, never returned. A failure to store a
// proposal or its ledger entry stops the pass and is returned, as is
// cancellation of ctx.
func (e *Engine) RunPass(ctx context.Context, batchSize int) (*Report, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = e.cfg.Generation.BatchSize
	}
	start := time.Now()

	records, err := db.GetUnprocessedRecords(e.conn, e.ledger.ProcessedSet(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("select unprocessed records: %w", err)
	}

	report := &Report{
		Selected:  len(records),
		Proposals: make(map[int64]string),
		Failures:  make(map[int64]error),
	}

	workers := e.cfg.Generation.Workers
	if workers < 1 {
		workers = 1
	}
	e.logger.Info("Starting cleanup pass",
		"selected", len(records),
		"batch_size", batchSize,
		"workers", workers)

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pool WorkerPoolInterface
	if e.PoolFactory != nil {
		pool = e.PoolFactory(workers, workers*2)
	} else {
		pool = NewWorkerPool(workers, workers*2)
	}
	pool.Start(passCtx)

	var mu sync.Mutex
	var abortErr error
	attempted := 0

	// Each record id appears once in records, so no two jobs share a record.
	for _, rec := range records {
		job := func(ctx context.Context) error {
			proposalID, err := e.processRecord(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			attempted++
			var rerr *recordError
			switch {
			case err == nil:
				report.Proposed++
				report.Proposals[rec.ID] = proposalID
			case errors.As(err, &rerr):
				if abortErr == nil {
					abortErr = err
				}
				cancel()
			default:
				report.Failed++
				report.Failures[rec.ID] = err
			}
			return err
		}
		if err := pool.SubmitCtx(passCtx, job); err != nil {
			e.logger.Warn("Stopped submitting records", "error", err)
			mu.Lock()
			if abortErr == nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				abortErr = fmt.Errorf("submit record %d: %w", rec.ID, err)
			}
			mu.Unlock()
			break
		}
	}
	pool.Close()

	mu.Lock()
	report.Skipped = report.Selected - attempted
	passErr := abortErr
	mu.Unlock()
	if passErr == nil {
		passErr = ctx.Err()
	}

	report.Duration = time.Since(start)
	e.metrics.observePass(report, e.ledger.Len())
	if path := e.cfg.Metrics.TextfilePath; path != "" {
		if err := e.metrics.WriteTextfile(path); err != nil {
			e.logger.Warn("Failed to write metrics", "path", path, "error", err)
		}
	}

	e.logger.Info("Cleanup pass finished",
		"selected", report.Selected,
		"proposed", report.Proposed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration)

	return report, passErr
}

// processRecord runs one record through generation, proposal write and
// ledger mark, in that order.
func (e *Engine) processRecord(ctx context.Context, rec db.Record) (string, error) {
	log := e.logger.With("record_id", rec.ID)

	gen, err := e.generate(ctx, rec, log)
	if err != nil {
		log.Warn("Generation failed, record left for next pass", "error", err)
		return "", err
	}

	p, err := db.CreateProposal(ctx, e.conn, rec.ID, db.Draft{
		Title:            gen.Title,
		Body:             gen.FormattedText,
		Model:            gen.Metadata.Model,
		PromptTokens:     gen.Metadata.PromptTokens,
		CompletionTokens: gen.Metadata.CompletionTokens,
		LatencyMs:        gen.Metadata.Latency.Milliseconds(),
		GeneratedAt:      gen.Metadata.GeneratedAt,
	})
	if err != nil {
		log.Error("Storing proposal failed", "error", err)
		return "", &recordError{recordID: rec.ID, op: "store proposal", err: err}
	}

	if err := e.ledger.MarkProcessed(db.RecordKey(rec.ID)); err != nil {
		log.Error("Ledger write failed after proposal was stored", "proposal_id", p.ID, "error", err)
		return p.ID, &recordError{recordID: rec.ID, op: "mark processed", err: err}
	}

	log.Info("Proposal created", "proposal_id", p.ID, "model", p.Model)
	return p.ID, nil
}

// generate calls the generator, retrying retryable failures with
// exponential backoff up to the configured number of attempts.
func (e *Engine) generate(ctx context.Context, rec db.Record, log *slog.Logger) (*llm.Generated, error) {
	maxAttempts := e.cfg.Generation.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		gen, err := e.gen.GenerateFormatting(ctx, rec)
		if err == nil && (gen == nil || gen.FormattedText == "") {
			err = llm.NewGenerationError(rec.ID, errors.New("empty generation result"), false)
		}
		if err == nil {
			e.metrics.observeAttempt("success")
			return gen, nil
		}
		if !llm.IsGenerationError(err) {
			err = llm.NewGenerationError(rec.ID, err, false)
		}
		e.metrics.observeAttempt("failure")

		if !llm.IsRetryable(err) || attempt >= maxAttempts {
			return nil, err
		}
		backoff := e.backoff(attempt)
		log.Debug("Generation failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", backoff,
			"error", err)
		if serr := e.sleep(ctx, backoff); serr != nil {
			return nil, llm.NewGenerationError(rec.ID, serr, false)
		}
	}
}

// backoff computes exponential backoff with +/- 25% jitter.
func (e *Engine) backoff(attempt int) time.Duration {
	base := e.cfg.Generation.BackoffBase
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if limit := e.cfg.Generation.MaxBackoff; limit > 0 && d > limit {
		d = limit
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Review lists pending proposals, optionally only those changing field.
// It never mutates state.
func (e *Engine) Review(ctx context.Context, field string) ([]db.PendingProposal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return db.ListPending(e.conn, field)
}

// Approve applies a pending proposal to its record. db.ErrNotFound and
// db.ErrInvalidState are returned unchanged.
func (e *Engine) Approve(ctx context.Context, proposalID string) (*db.Proposal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	p, err := db.ApproveProposal(ctx, e.conn, proposalID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Proposal approved", "proposal_id", p.ID, "record_id", p.RecordID)
	return p, nil
}

// Reject closes a pending proposal without touching its record.
func (e *Engine) Reject(ctx context.Context, proposalID, reason string) (*db.Proposal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	p, err := db.RejectProposal(ctx, e.conn, proposalID, reason)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Proposal rejected", "proposal_id", p.ID, "record_id", p.RecordID, "reason", reason)
	return p, nil
}

// ResetLedger clears the ledger so the next pass reconsiders every record.
func (e *Engine) ResetLedger() error {
	if err := e.ready(); err != nil {
		return err
	}
	n := e.ledger.Len()
	if err := e.ledger.Reset(); err != nil {
		return err
	}
	e.logger.Info("Ledger reset", "cleared", n)
	return nil
}
