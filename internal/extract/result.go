package extract

// Kind classifies how far an extraction has progressed.
type Kind int

const (
	// KindNone means nothing parseable has been seen yet.
	KindNone Kind = iota
	// KindPartial means a plan was found but at least one process lacks steps.
	KindPartial
	// KindComplete means every process carries at least one step, or the plan
	// came from an authoritative source.
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindComplete:
		return "complete"
	default:
		return "none"
	}
}

// Source records which extraction path produced a result.
type Source int

const (
	SourceNone Source = iota
	SourceScan
	SourceSentinel
	SourceRefetch
)

func (s Source) String() string {
	switch s {
	case SourceScan:
		return "scan"
	case SourceSentinel:
		return "sentinel"
	case SourceRefetch:
		return "refetch"
	default:
		return "none"
	}
}

// Result is the best currently-known extraction for one request.
type Result struct {
	Kind   Kind
	Plan   *Plan
	Source Source
}

// Empty reports whether the result carries no plan.
func (r Result) Empty() bool { return r.Kind == KindNone || r.Plan == nil }

// FromScan classifies a structurally scanned plan.
func FromScan(plan *Plan) Result {
	if plan == nil {
		return Result{}
	}
	kind := KindPartial
	if plan.Complete() {
		kind = KindComplete
	}
	return Result{Kind: kind, Plan: plan, Source: SourceScan}
}

// FromSentinel wraps a sentinel payload. The producer only emits the sentinel
// once the plan is final, so it is complete regardless of step population.
func FromSentinel(plan *Plan) Result {
	if plan == nil {
		return Result{}
	}
	return Result{Kind: KindComplete, Plan: plan, Source: SourceSentinel}
}

// FromRefetch wraps the ground-truth plan returned by a synchronous refetch.
func FromRefetch(plan *Plan) Result {
	if plan == nil {
		return Result{}
	}
	return Result{Kind: KindComplete, Plan: plan, Source: SourceRefetch}
}

// KeepSteps carries steps forward from prev into next for every process (by
// process_id) that had steps in prev but arrives empty in next. Snapshots only
// grow, so an empty step list after a populated one is a truncated snapshot,
// not a retraction. It returns next unchanged when nothing needed carrying.
func KeepSteps(prev, next *Plan) *Plan {
	if prev == nil || next == nil {
		return next
	}
	known := make(map[ID][]Step, len(prev.Processes))
	for _, proc := range prev.Processes {
		if proc.HasSteps() && proc.ProcessID != "" {
			known[proc.ProcessID] = proc.Steps
		}
	}
	if len(known) == 0 {
		return next
	}

	var out *Plan
	for i, proc := range next.Processes {
		if proc.HasSteps() {
			continue
		}
		steps, ok := known[proc.ProcessID]
		if !ok {
			continue
		}
		if out == nil {
			out = next.Clone()
		}
		out.Processes[i].Steps = append([]Step(nil), steps...)
	}
	if out == nil {
		return next
	}
	return out
}
