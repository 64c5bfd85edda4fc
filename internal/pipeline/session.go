package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"procstream/internal/extract"
	"procstream/internal/logging"
	"procstream/internal/observability"
	"procstream/internal/reconcile"
	"procstream/internal/stream"
)

// session is the state of one request. Everything except the timer callbacks
// runs on the request goroutine; the callbacks only post to checks.
type session struct {
	p    *Pipeline
	req  *Request
	log  *logging.RequestLogger
	rlog *logging.Logger

	acc      extract.Accumulator
	scanner  *extract.Scanner
	debounce *reconcile.Debouncer
	last     extract.Result

	checks chan struct{}
	exit   chan struct{}
	timers []func() bool

	reconciles int
}

func newSession(p *Pipeline, req *Request, log *logging.RequestLogger) *session {
	scanner := extract.NewScanner()
	if p.settings.IncrementalScan {
		scanner = extract.NewIncrementalScanner()
	}
	return &session{
		p:        p,
		req:      req,
		log:      log,
		rlog:     logging.Get(logging.CategoryReconcile).With("req", req.ID),
		scanner:  scanner,
		debounce: reconcile.NewDebouncer(p.settings.QuietThreshold),
		checks:   make(chan struct{}),
		exit:     make(chan struct{}),
	}
}

func (s *session) loop(ctx context.Context) (*Outcome, error) {
	defer s.stopTimers()

	events, errs := s.p.source.Events(ctx, s.req.Task)
	for {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)

		case <-s.checks:
			s.check(ctx)

		case ev, ok := <-events:
			if !ok {
				return nil, s.streamClosed(ctx, errs)
			}
			switch ev.Type {
			case stream.EventChunk:
				s.chunk(ctx, ev.Data)
			case stream.EventStatus:
				info := stream.ParseStatus(ev.Data, s.p.settings.Auditor.Cached)
				s.log.Debug("status: %q (parallel=%d done=%d/%d cached=%v)", info.Text, info.Parallel, info.Done, info.Total, info.Cached)
				s.p.publishStatus(s.req.gen, func(sink StatusSink) { sink.Status(ev.Data) })
			case stream.EventProgress:
				if pct, ok := ev.Progress(); ok {
					s.p.publishStatus(s.req.gen, func(sink StatusSink) { sink.Progress(pct) })
				}
			case stream.EventComplete:
				return s.complete(ctx, ev.Data)
			case stream.EventError:
				return nil, fmt.Errorf("%w: %s", ErrTransport, ev.Data)
			default:
				s.log.Debug("ignoring %q event", ev.Type)
			}
		}
	}
}

// streamClosed maps the end of the event channel to an error. A stream that
// ends without a complete event is a transport failure even when the source
// reports nothing.
func (s *session) streamClosed(ctx context.Context, errs <-chan error) error {
	var err error
	if errs != nil {
		err = <-errs
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return fmt.Errorf("%w: stream ended before completion", ErrTransport)
}

func (s *session) chunk(ctx context.Context, fragment string) {
	s.req.setState(StateStreaming)
	s.acc.Append(fragment)
	s.debounce.Arrive(s.p.clock.Now())
	s.p.metrics.RecordChunk(ctx)

	stop := s.p.clock.AfterFunc(s.p.settings.CheckDelay, func() {
		select {
		case s.checks <- struct{}{}:
		case <-s.exit:
		}
	})
	s.timers = append(s.timers, stop)
}

// check handles one scheduled timer. All timers share the same delay so they
// fire in scheduling order.
func (s *session) check(ctx context.Context) {
	if len(s.timers) > 0 {
		s.timers = s.timers[1:]
	}
	if !s.p.isCurrent(s.req.gen) {
		return
	}
	if !s.debounce.Due(s.p.clock.Now()) {
		s.p.metrics.RecordSkippedCheck(ctx)
		return
	}
	s.reconcile(ctx)
	s.req.setState(StateIdle)
}

// reconcile extracts the best plan from the buffer and renders it if it
// differs from the last one. The sentinel wins over structural scanning.
func (s *session) reconcile(ctx context.Context) {
	s.req.setState(StateReconciling)
	started := s.p.clock.Now()
	buf := s.acc.String()

	var next extract.Result
	stats := observability.ReconcileStats{}
	if plan, ok := s.p.settings.Sentinel.Extract(buf); ok {
		next = extract.FromSentinel(plan)
	} else {
		plan, _ := s.scanner.Last(buf)
		next = extract.FromScan(plan)
		sc := s.scanner.Stats()
		stats.Retained, stats.Discarded = sc.Retained, sc.Discarded
	}

	// A sentinel payload is taken exactly as sent.
	if next.Source == extract.SourceScan && !next.Empty() && s.last.Plan != nil {
		if merged := extract.KeepSteps(s.last.Plan, next.Plan); merged != next.Plan {
			s.rlog.Debug("kept steps from previous snapshot")
			next = extract.FromScan(merged)
		}
	}

	s.reconciles++
	stats.Kind = next.Kind.String()
	stats.Source = next.Source.String()
	stats.Duration = s.p.clock.Now().Sub(started)
	s.p.metrics.RecordReconcile(ctx, stats)

	if next.Empty() {
		s.rlog.Debug("reconcile #%d: nothing parseable in %d bytes", s.reconciles, len(buf))
		return
	}
	if s.last.Kind == next.Kind && s.last.Source == next.Source && cmp.Equal(s.last.Plan, next.Plan) {
		s.rlog.Debug("reconcile #%d: unchanged", s.reconciles)
		return
	}

	s.last = next
	withSteps, _ := next.Plan.StepCounts()
	s.rlog.Debug("reconcile #%d: %s %s, %d/%d processes with steps",
		s.reconciles, next.Source, next.Kind, withSteps, len(next.Plan.Processes))
	s.p.publish(s.req.gen, next.Plan.Clone(), true)
}

// complete flushes any pending reconciliation, audits the last-known result
// and resolves it, refetching when the audit says so.
func (s *session) complete(ctx context.Context, completion string) (*Outcome, error) {
	s.req.setState(StateCompleted)
	if s.debounce.Flush() {
		s.reconcile(ctx)
	}
	s.p.publishStatus(s.req.gen, func(sink StatusSink) { sink.Status(completion) })

	auditor := s.p.settings.Auditor
	cached := auditor.Cached(completion)
	decision := auditor.Audit(s.last, completion)
	logging.Get(logging.CategoryAudit).With("req", s.req.ID).Info(
		"audit: decision=%s cached=%v source=%s kind=%s", decision, cached, s.last.Source, s.last.Kind)

	if decision == extract.DecisionRefetch {
		s.req.setState(StateRefetching)
		plan, err := s.refetch(ctx)
		s.p.metrics.RecordRefetch(ctx, err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, err
		}
		s.last = extract.FromRefetch(plan)
	}

	var final *extract.Plan
	if s.last.Plan != nil {
		final = s.last.Plan.Clone()
	}
	s.p.publish(s.req.gen, final, false)

	_, _, discarded := s.debounce.Stats()
	s.rlog.Debug("debounce discarded %d checks", discarded)

	return &Outcome{
		RequestID:  s.req.ID,
		Task:       s.req.Task,
		Result:     s.last,
		Decision:   decision,
		Cached:     cached,
		Completion: completion,
		Fragments:  s.acc.Fragments(),
		Reconciles: s.reconciles,
	}, nil
}

func (s *session) refetch(ctx context.Context) (*extract.Plan, error) {
	if s.p.refetcher == nil {
		return nil, fmt.Errorf("%w: no refetcher configured", ErrRefetch)
	}
	plan, err := s.p.refetcher.Fetch(ctx, s.req.Task)
	if err != nil {
		if errors.Is(err, ErrRefetch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRefetch, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: empty response", ErrRefetch)
	}
	return plan, nil
}

func (s *session) stopTimers() {
	close(s.exit)
	for _, stop := range s.timers {
		stop()
	}
	s.timers = nil
}
