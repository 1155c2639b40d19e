// Package scheduler drives a run: it walks partitions in order, fans
// each one out through a small worker pool, assembles multi-stage
// records, and funnels everything through a single writer so output,
// enrichment and the dedup ledger stay consistent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataharvest/reaper/internal/config"
	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/ledger"
	"github.com/dataharvest/reaper/internal/partition"
	"github.com/dataharvest/reaper/internal/session"
	"github.com/dataharvest/reaper/internal/sink"
	"github.com/dataharvest/reaper/internal/types"
)

// Fetcher retrieves documents for the scheduler.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.FetchRequest) (*types.Response, error)
	Close() error
}

// sessionSetter is implemented by fetchers that wear a session bundle.
type sessionSetter interface {
	SetSession(*types.SessionBundle)
}

// Acquirer produces session bundles from a navigation plan.
type Acquirer interface {
	Acquire(ctx context.Context, plan *session.Plan) (*types.SessionBundle, error)
}

// Enricher appends derived columns to a record before it is written.
type Enricher interface {
	Enrich(ctx context.Context, rec *types.Record) error
}

// Scheduler orchestrates one site run.
type Scheduler struct {
	cfg      *config.Config
	site     extract.Extractor
	store    *partition.Store
	ledger   *ledger.Ledger
	sink     sink.Sink
	fetcher  Fetcher
	acquirer Acquirer
	enricher Enricher
	report   *Report
	skips    *skipList
	logger   *slog.Logger

	sessMu       sync.Mutex
	sessGen      atomic.Int64
	expiry       time.Time
	partRenewals atomic.Int64

	capHit atomic.Bool

	// asm tracks records waiting on child fetches: record -> number of
	// outstanding children. Reset per partition.
	asmMu sync.Mutex
	asm   map[*types.Record]int
}

// A bundle the server keeps rejecting is replaced at most this many
// times per partition before the partition is given up.
const partitionRenewalLimit = 1

// drainTimeout is how long in-flight fetches may run after the run is
// cancelled before they are cut off.
const drainTimeout = 10 * time.Second

// errSessionRejected abandons the current partition without aborting
// the run; the next run retries it since it is never marked complete.
var errSessionRejected = errors.New("session rejected repeatedly")

// Options carries the scheduler's collaborators. Enricher and Acquirer
// are optional.
type Options struct {
	Config   *config.Config
	Site     extract.Extractor
	Store    *partition.Store
	Ledger   *ledger.Ledger
	Sink     sink.Sink
	Fetcher  Fetcher
	Acquirer Acquirer
	Enricher Enricher
	Report   *Report
	SkipDir  string
	Logger   *slog.Logger
}

// New assembles a Scheduler.
func New(opts Options) (*Scheduler, error) {
	skips, err := loadSkipList(opts.SkipDir, opts.Site.Site())
	if err != nil {
		return nil, fmt.Errorf("load skip list: %w", err)
	}
	return &Scheduler{
		cfg:      opts.Config,
		site:     opts.Site,
		store:    opts.Store,
		ledger:   opts.Ledger,
		sink:     opts.Sink,
		fetcher:  opts.Fetcher,
		acquirer: opts.Acquirer,
		enricher: opts.Enricher,
		report:   opts.Report,
		skips:    skips,
		logger:   opts.Logger.With("component", "scheduler"),
		asm:      map[*types.Record]int{},
	}, nil
}

// CapReached reports whether the run stopped at the record cap.
func (s *Scheduler) CapReached() bool { return s.capHit.Load() }

// Run executes the site against every partition in order. Partitions
// are strictly sequential, so each partition's records land in the
// output as one contiguous block. Returns types.ErrSessionExhausted
// when session acquisition fails beyond its budget; a record cap is a
// clean stop, not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.report.PartitionsTotal.Store(int64(s.store.Len()))
	s.report.Event(TagInit, "site=%s partitions=%d workers=%d resume=%v cap=%d",
		s.site.Site(), s.store.Len(), s.cfg.Run.Workers, s.cfg.Run.Resume, s.cfg.Run.MaxRecords)

	var runErr error
	for p := s.store.Next(); p != nil; p = s.store.Next() {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if s.cfg.Run.Resume && s.ledger.CompletedPartition(p.ID) {
			s.logger.Info("partition already scraped", "partition", p.ID)
			s.report.Event(TagInfo, "partition %s already scraped, skipping", p.ID)
			s.report.PartitionsSkipped.Add(1)
			continue
		}

		if err := s.ensureSession(ctx); err != nil {
			runErr = err
			break
		}

		before := s.report.RecordsEmitted.Load()
		err := s.runPartition(ctx, p)
		if errors.Is(err, errSessionRejected) {
			s.logger.Error("partition abandoned", "partition", p.ID, "error", err)
			s.report.Event(TagError, "partition %s abandoned: %v", p.ID, err)
			s.report.PartitionsSkipped.Add(1)
			continue
		}
		if errors.Is(err, types.ErrCapReached) {
			s.capHit.Store(true)
			s.report.Event(TagInfo, "record cap %d reached, stopping cleanly", s.cfg.Run.MaxRecords)
			break
		}
		if err != nil {
			runErr = err
			break
		}

		if err := s.ledger.MarkPartitionDone(p.ID); err != nil {
			s.logger.Warn("mark partition done", "partition", p.ID, "error", err)
		}
		s.report.PartitionsDone.Add(1)
		if s.report.RecordsEmitted.Load() == before {
			s.report.EmptyPartition(p.ID)
		}
		s.report.Event(TagInfo, "partition %s complete, %d records so far",
			p.ID, s.report.RecordsEmitted.Load())
	}

	s.finish(runErr)
	return runErr
}

// finish flushes and closes the sink, logs the export, and writes the
// summary block. Runs on every exit path, cancellation included, so a
// stopped run still leaves a valid artifact.
func (s *Scheduler) finish(runErr error) {
	if err := s.sink.Close(); err != nil {
		s.logger.Error("sink close", "error", err)
		s.report.Event(TagError, "finalizing output: %v", err)
	} else {
		s.report.Event(TagExport, "%d records exported via %s",
			s.report.RecordsEmitted.Load(), s.sink.Name())
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		s.report.Event(TagError, "run aborted: %v", runErr)
	}
	s.report.Summary(s.terminationReason(runErr))
	s.skips.Close()
}

func (s *Scheduler) terminationReason(runErr error) string {
	switch {
	case s.capHit.Load():
		return "stopped at record cap"
	case errors.Is(runErr, context.Canceled):
		return "interrupted"
	case runErr != nil:
		return "aborted"
	default:
		return "run complete"
	}
}

// ensureSession acquires a bundle when the site needs one and the
// current bundle is missing or past its expiry hint.
func (s *Scheduler) ensureSession(ctx context.Context) error {
	planner, ok := s.site.(extract.SessionPlanner)
	if !ok || !planner.RequiresSession() || s.acquirer == nil {
		return nil
	}
	setter, ok := s.fetcher.(sessionSetter)
	if !ok {
		return nil
	}
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.sessGen.Load() > 0 && !s.sessionStale() {
		return nil
	}
	return s.acquireLocked(ctx, setter)
}

// renewSession replaces a rejected bundle. observedGen is the
// generation the caller fetched with; if another worker already
// renewed, the call is a no-op.
func (s *Scheduler) renewSession(ctx context.Context, observedGen int64) error {
	setter, ok := s.fetcher.(sessionSetter)
	if !ok {
		return types.ErrSessionExhausted
	}
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.sessGen.Load() != observedGen {
		return nil
	}
	if s.partRenewals.Add(1) > partitionRenewalLimit {
		return fmt.Errorf("%w: %d replacements in one partition", errSessionRejected, partitionRenewalLimit)
	}
	s.report.SessionRenewals.Add(1)
	s.report.Event(TagWarn, "session rejected by server, re-acquiring")
	return s.acquireLocked(ctx, setter)
}

func (s *Scheduler) acquireLocked(ctx context.Context, setter sessionSetter) error {
	plan, ok := session.PlanFor(s.site.Site())
	if !ok {
		return fmt.Errorf("site %s requires a session but has no navigation plan", s.site.Site())
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Session.AcquireAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bundle, err := s.acquirer.Acquire(ctx, plan)
		if err == nil {
			setter.SetSession(bundle)
			s.sessGen.Add(1)
			s.expiry = bundle.ExpiryHint
			s.logger.Info("session ready", "site", s.site.Site(), "attempt", attempt)
			return nil
		}
		lastErr = err
		s.logger.Warn("session acquisition failed", "attempt", attempt, "error", err)
		s.report.Event(TagWarn, "session acquisition attempt %d failed: %v", attempt, err)
	}
	s.report.Event(TagError, "session acquisition exhausted after %d attempts", s.cfg.Session.AcquireAttempts)
	return fmt.Errorf("%w: %v", types.ErrSessionExhausted, lastErr)
}

func (s *Scheduler) sessionStale() bool {
	return !s.expiry.IsZero() && time.Now().After(s.expiry)
}

// runPartition drains one partition through the worker pool. pctx is
// detached from the run's cancellation: a stop signal lets in-flight
// fetches finish, up to drainTimeout, before cutting them off.
func (s *Scheduler) runPartition(ctx context.Context, p *types.Partition) error {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopDrain := context.AfterFunc(ctx, func() {
		select {
		case <-pctx.Done():
		case <-time.After(drainTimeout):
			cancel()
		}
	})
	defer stopDrain()

	s.asmMu.Lock()
	s.asm = map[*types.Record]int{}
	s.asmMu.Unlock()
	s.partRenewals.Store(0)

	first, err := s.site.InitialRequest(p)
	if err != nil {
		return fmt.Errorf("initial request for partition %s: %w", p.ID, err)
	}

	q := newQueue()
	q.Push(first)

	recCh := make(chan *types.Record, 64)
	writerDone := make(chan error, 1)
	go func() { writerDone <- s.writeRecords(pctx, cancel, recCh) }()

	var fatal atomic.Pointer[fatalErr]
	abort := func(err error) {
		fatal.CompareAndSwap(nil, &fatalErr{err})
		cancel()
	}

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Run.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req := q.Pop(pctx)
				if req == nil {
					return
				}
				// After a stop signal only in-flight fetches drain;
				// queued work is discarded so the pool winds down.
				if ctx.Err() != nil {
					q.Done()
					continue
				}
				s.process(pctx, q, recCh, req, abort)
			}
		}()
	}
	wg.Wait()
	close(recCh)

	if err := <-writerDone; err != nil {
		return err
	}
	if f := fatal.Load(); f != nil {
		return f.err
	}
	return ctx.Err()
}

type fatalErr struct{ err error }

// process handles one fetch: retrieve, classify failures, parse, fold
// assembly fragments, and hand finished records to the writer.
func (s *Scheduler) process(ctx context.Context, q *queue, recCh chan<- *types.Record, req *types.FetchRequest, abort func(error)) {
	defer q.Done()

	if s.skips.Contains(req.URL) {
		s.logger.Info("skipping known-bad url", "url", req.URL)
		s.abandonParent(req, "previously failed")
		return
	}

	gen := s.sessGen.Load()
	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSessionInvalid):
			if rerr := s.renewSession(ctx, gen); rerr != nil {
				abort(rerr)
				return
			}
			// Requeue under the fresh session; retry budget starts over.
			req.Attempt = 0
			q.Push(req)
			return
		case ctx.Err() != nil:
			return
		default:
			s.report.FetchFailures.Add(1)
			s.report.Event(TagError, "fetch failed for %s: %v", req.URL, err)
			s.logger.Error("fetch failed", "url", req.URL, "stage", req.Stage, "error", err)
			s.abandonParent(req, "fetch failed")
			return
		}
	}

	if resp.StatusCode >= 400 {
		// Fatal for the record on every site; remembered so later runs
		// skip the URL without a fetch.
		s.report.FetchFailures.Add(1)
		s.report.Event(TagError, "HTTP %d for %s, skipping permanently", resp.StatusCode, req.URL)
		s.logger.Error("fatal status", "url", req.URL, "status", resp.StatusCode)
		s.skips.Add(req.URL)
		s.abandonParent(req, "fatal status")
		return
	}

	result, err := s.site.Parse(resp)
	if err != nil {
		s.report.ParseFailures.Add(1)
		s.report.Event(TagError, "parse failed for %s: %v", req.URL, err)
		s.logger.Error("parse failed, advancing", "url", req.URL, "error", err)
		s.skips.Add(req.URL)
		s.abandonParent(req, "parse failed")
		return
	}

	// Children that name a parent keep that record open until they all
	// come back.
	newParents := map[*types.Record]int{}
	for _, child := range result.Children {
		if pr := parentOf(child); pr != nil {
			newParents[pr]++
		}
	}
	if len(newParents) > 0 {
		s.asmMu.Lock()
		for pr, n := range newParents {
			s.asm[pr] += n
		}
		s.asmMu.Unlock()
	}

	parent := parentOf(req)
	for _, rec := range result.Records {
		if parent != nil {
			parent.Merge(rec)
			continue
		}
		if _, open := newParents[rec]; open {
			continue
		}
		s.emit(ctx, recCh, rec)
	}

	if parent != nil {
		if s.retireChild(parent) {
			s.emit(ctx, recCh, parent)
		}
	}

	for _, child := range result.Children {
		q.Push(child)
	}
}

func parentOf(req *types.FetchRequest) *types.Record {
	if req.Meta == nil {
		return nil
	}
	rec, _ := req.Meta[extract.ParentKey].(*types.Record)
	return rec
}

// retireChild decrements the parent's outstanding-children count and
// reports whether the parent just completed.
func (s *Scheduler) retireChild(parent *types.Record) bool {
	s.asmMu.Lock()
	defer s.asmMu.Unlock()
	s.asm[parent]--
	if s.asm[parent] <= 0 {
		delete(s.asm, parent)
		return true
	}
	return false
}

// abandonParent drops the assembly a failed child belonged to. A
// record missing one of its fragments is not emitted partially.
func (s *Scheduler) abandonParent(req *types.FetchRequest, reason string) {
	parent := parentOf(req)
	if parent == nil {
		return
	}
	s.asmMu.Lock()
	_, open := s.asm[parent]
	delete(s.asm, parent)
	s.asmMu.Unlock()
	if open {
		s.logger.Error("abandoning record under assembly", "url", req.URL, "reason", reason)
		s.report.Event(TagError, "record abandoned (%s): %s", reason, req.URL)
	}
}

func (s *Scheduler) emit(ctx context.Context, recCh chan<- *types.Record, rec *types.Record) {
	select {
	case recCh <- rec:
	case <-ctx.Done():
	}
}

// writeRecords is the single writer: dedup gate, enrichment, sink
// append, ledger entry, cap check, strictly in that order and one
// record at a time. cancel stops the workers once the cap is hit; the
// channel is still drained so no sender blocks.
func (s *Scheduler) writeRecords(ctx context.Context, cancel context.CancelFunc, recCh <-chan *types.Record) error {
	var result error
	for rec := range recCh {
		if result != nil || s.capHit.Load() {
			continue
		}

		if rec.Fingerprint == "" {
			s.logger.Warn("record without fingerprint dropped", "url", rec.URL)
			continue
		}
		if s.ledger.Contains(rec.Fingerprint) {
			s.report.Duplicates.Add(1)
			s.logger.Info("already scraped", "fingerprint", rec.Fingerprint, "url", rec.URL)
			continue
		}

		if s.enricher != nil {
			if err := s.enricher.Enrich(ctx, rec); err != nil {
				var ee *types.EnrichError
				if errors.As(err, &ee) {
					s.report.EnrichFailures.Add(1)
					s.report.Event(TagError, "enrichment failed for %s: %v", rec.URL, err)
					s.logger.Error("enrichment failed, emitting unenriched", "url", rec.URL, "error", err)
				} else if ctx.Err() == nil {
					s.logger.Warn("enrichment error", "url", rec.URL, "error", err)
				}
			}
		}

		if err := s.sink.Append(rec); err != nil {
			result = fmt.Errorf("append record: %w", err)
			s.report.Event(TagError, "output append failed: %v", err)
			cancel()
			continue
		}
		if err := s.ledger.Record(rec.Fingerprint); err != nil {
			s.logger.Warn("ledger append", "error", err)
		}

		emitted := s.report.RecordsEmitted.Add(1)
		if max := int64(s.cfg.Run.MaxRecords); max > 0 && emitted >= max {
			s.capHit.Store(true)
			result = types.ErrCapReached
			cancel()
		}
	}
	return result
}
