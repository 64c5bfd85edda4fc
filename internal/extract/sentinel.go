package extract

import "strings"

// Default sentinel markers wrapping the producer's final payload.
const (
	DefaultStartMarker = "===FINAL_JSON_START==="
	DefaultEndMarker   = "===FINAL_JSON_END==="
)

// Sentinel detects an explicit start/end marker pair around an authoritative
// final payload.
type Sentinel struct {
	Start string
	End   string
}

// DefaultSentinel returns the producer's standard marker pair.
func DefaultSentinel() Sentinel {
	return Sentinel{Start: DefaultStartMarker, End: DefaultEndMarker}
}

// Payload returns the trimmed text strictly between the first start marker
// and the first end marker that follows it.
func (s Sentinel) Payload(buf string) (string, bool) {
	if s.Start == "" || s.End == "" {
		return "", false
	}
	i := strings.Index(buf, s.Start)
	if i < 0 {
		return "", false
	}
	body := buf[i+len(s.Start):]
	j := strings.Index(body, s.End)
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(body[:j]), true
}

// Extract returns the decoded sentinel payload. A missing marker pair, or a
// payload that is not a plan document with a "processes" member, reports
// absence so the caller can fall back to structural scanning.
func (s Sentinel) Extract(buf string) (*Plan, bool) {
	payload, ok := s.Payload(buf)
	if !ok || !strings.HasPrefix(payload, "{") {
		return nil, false
	}
	return parseCandidate(payload)
}
