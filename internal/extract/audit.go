package extract

import "strings"

// Decision is the auditor's verdict on the last-known result once the stream
// reports completion.
type Decision int

const (
	// DecisionUseAsIs keeps the last-known result as final.
	DecisionUseAsIs Decision = iota
	// DecisionRefetch requests the full payload synchronously.
	DecisionRefetch
)

func (d Decision) String() string {
	if d == DecisionRefetch {
		return "refetch"
	}
	return "use_as_is"
}

// DefaultCacheMarkers are the completion-text substrings the producer uses to
// say the result was served from its cache.
var DefaultCacheMarkers = []string{"缓存"}

// Auditor decides whether a streamed result is good enough to keep.
type Auditor struct {
	CacheMarkers []string
}

// NewAuditor returns an auditor using the given cache markers, or the
// defaults when none are given.
func NewAuditor(markers ...string) *Auditor {
	if len(markers) == 0 {
		markers = DefaultCacheMarkers
	}
	return &Auditor{CacheMarkers: markers}
}

// Cached reports whether the completion text contains a cache marker.
func (a *Auditor) Cached(completion string) bool {
	for _, m := range a.CacheMarkers {
		if m != "" && strings.Contains(completion, m) {
			return true
		}
	}
	return false
}

// Audit runs once per request, when the stream signals completion. Cached
// results are final by definition, and so is a sentinel payload; otherwise
// the result must have at least one process and every process must carry
// steps.
func (a *Auditor) Audit(last Result, completion string) Decision {
	if a.Cached(completion) {
		return DecisionUseAsIs
	}
	if last.Source == SourceSentinel && last.Plan != nil {
		return DecisionUseAsIs
	}
	if last.Plan.Complete() {
		return DecisionUseAsIs
	}
	return DecisionRefetch
}
