// Package pipeline turns a decomposition event stream into a sequence of
// renders: approximate ones while chunks arrive, and one final render once
// the stream completes and the result has been audited.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"procstream/internal/extract"
	"procstream/internal/logging"
	"procstream/internal/observability"
	"procstream/internal/reconcile"
)

// Settings holds the tunables of a pipeline.
type Settings struct {
	QuietThreshold  time.Duration
	CheckDelay      time.Duration
	IncrementalScan bool
	Sentinel        extract.Sentinel
	Auditor         *extract.Auditor
}

// DefaultSettings matches the service's chunk cadence.
func DefaultSettings() Settings {
	return Settings{
		QuietThreshold:  reconcile.DefaultQuietThreshold,
		CheckDelay:      reconcile.DefaultCheckDelay,
		IncrementalScan: true,
		Sentinel:        extract.DefaultSentinel(),
		Auditor:         extract.NewAuditor(),
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(p *Pipeline) { p.settings = s }
}

// WithClock injects the clock used for debounce checks.
func WithClock(c reconcile.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStatusSink forwards status and progress events.
func WithStatusSink(s StatusSink) Option {
	return func(p *Pipeline) { p.status = s }
}

// Pipeline runs at most one request at a time. Starting a request cancels
// the previous one.
type Pipeline struct {
	source    Source
	refetcher Refetcher
	projector Projector
	status    StatusSink
	clock     reconcile.Clock
	metrics   *observability.PipelineMetrics
	settings  Settings

	// mu guards gen and current, and serializes every projection so that
	// only the current generation renders.
	mu      sync.Mutex
	gen     uint64
	current *Request
}

// New creates a pipeline.
func New(source Source, refetcher Refetcher, projector Projector, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    source,
		refetcher: refetcher,
		projector: projector,
		clock:     reconcile.RealClock{},
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.settings.Auditor == nil {
		p.settings.Auditor = extract.NewAuditor()
	}
	if p.settings.Sentinel.Start == "" || p.settings.Sentinel.End == "" {
		p.settings.Sentinel = extract.DefaultSentinel()
	}
	if p.settings.CheckDelay <= 0 {
		p.settings.CheckDelay = reconcile.DefaultCheckDelay
	}

	if sp, ok := source.(SnapshotProducer); ok && !sp.Snapshots() {
		logging.PipelineWarn("source does not emit full snapshots; last-candidate selection may drop earlier processes")
	}
	return p
}

// Outcome is the resolved result of a request.
type Outcome struct {
	RequestID  string
	Task       string
	Result     extract.Result
	Decision   extract.Decision
	Cached     bool
	Completion string
	Fragments  int
	Reconciles int
	Duration   time.Duration
}

// Request is a running or finished decomposition.
type Request struct {
	ID   string
	Task string

	gen    uint64
	cancel context.CancelCauseFunc
	done   chan struct{}
	state  atomic.Int32

	outcome *Outcome
	err     error
}

// Wait blocks until the request finishes.
func (r *Request) Wait() (*Outcome, error) {
	<-r.done
	return r.outcome, r.err
}

// Done is closed when the request finishes.
func (r *Request) Done() <-chan struct{} { return r.done }

// State returns the current lifecycle state.
func (r *Request) State() State { return State(r.state.Load()) }

// Cancel stops the request.
func (r *Request) Cancel() { r.cancel(context.Canceled) }

func (r *Request) setState(s State) { r.state.Store(int32(s)) }

// Start cancels any running request, waits for it to release its stream, and
// starts decomposing task.
func (p *Pipeline) Start(ctx context.Context, task string) *Request {
	rctx, cancel := context.WithCancelCause(ctx)

	p.mu.Lock()
	prev := p.current
	p.gen++
	req := &Request{
		ID:     uuid.NewString(),
		Task:   task,
		gen:    p.gen,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.current = req
	p.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	req.setState(StateStreaming)
	go p.run(rctx, req)
	return req
}

// Decompose runs a request to completion.
func (p *Pipeline) Decompose(ctx context.Context, task string) (*Outcome, error) {
	return p.Start(ctx, task).Wait()
}

// Stop cancels the current request, if any, and waits for it.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur != nil {
		cur.Cancel()
		<-cur.done
	}
}

func (p *Pipeline) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// publish renders plan if gen is still current. It reports whether the
// render happened.
func (p *Pipeline) publish(gen uint64, plan *extract.Plan, approximate bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.projector == nil {
		return false
	}
	p.projector.Project(plan, approximate)
	return true
}

func (p *Pipeline) publishStatus(gen uint64, f func(StatusSink)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.status == nil {
		return
	}
	f(p.status)
}

func (p *Pipeline) run(ctx context.Context, req *Request) {
	defer close(req.done)

	log := logging.WithRequestID(logging.CategoryPipeline, req.ID).WithField("task", req.Task)
	log.Info("request started (generation %d)", req.gen)
	p.metrics.RequestStarted(ctx)
	started := p.clock.Now()

	s := newSession(p, req, log)
	out, err := s.loop(ctx)
	// Release the source even when the stream resolved on its own.
	req.cancel(context.Canceled)

	outcome := "resolved"
	decision := ""
	cached := false
	switch {
	case err == nil:
		out.Duration = p.clock.Now().Sub(started)
		decision = out.Decision.String()
		cached = out.Cached
		req.setState(StateResolved)
		processes := 0
		if out.Result.Plan != nil {
			processes = len(out.Result.Plan.Processes)
		}
		log.Info("request resolved: source=%s decision=%s processes=%d", out.Result.Source, out.Decision, processes)
	case errors.Is(err, ErrSuperseded):
		outcome = "superseded"
		req.setState(StateFailed)
		log.Info("request superseded")
	default:
		outcome = "failed"
		req.setState(StateFailed)
		log.Warn("request failed: %v", err)
	}

	p.metrics.RecordRequest(context.WithoutCancel(ctx), observability.RequestStats{
		Outcome:  outcome,
		Decision: decision,
		Cached:   cached,
		Duration: p.clock.Now().Sub(started),
	})

	req.outcome, req.err = out, err
}
