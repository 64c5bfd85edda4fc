package extract

import (
	"iter"

	"github.com/tidwall/gjson"
)

// scanState is the scanner position plus the flags that survive a depth-0
// boundary. Depth is always zero at a checkpoint.
type scanState struct {
	pos      int
	inString bool
	escape   bool
}

// scanObjects walks buf from st and calls emit with the text of every
// top-level object that closes. It returns the state at the last depth-0
// boundary it passed, so a later call over a longer buffer can resume there.
//
// The escape flag is tracked for every byte, inside and outside strings: it is
// true only for the byte right after an unescaped backslash, and a quote
// toggles the in-string flag only when that flag is false. A closing brace at
// depth zero is ignored.
//
// Iterating bytes is safe for the ASCII delimiters because UTF-8 never uses
// them inside a multi-byte sequence.
func scanObjects(buf string, st scanState, emit func(text string) bool) scanState {
	checkpoint := st
	depth := 0
	start := -1
	inString, escape := st.inString, st.escape

	for i := st.pos; i < len(buf); i++ {
		b := buf[i]

		switch {
		case b == '"' && !escape:
			inString = !inString
		case inString:
		case b == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case b == '}' && depth > 0:
			depth--
			if depth == 0 {
				text := buf[start : i+1]
				start = -1
				escape = false
				checkpoint = scanState{pos: i + 1, inString: inString, escape: escape}
				if !emit(text) {
					return checkpoint
				}
				continue
			}
		}

		escape = !escape && b == '\\'
		if depth == 0 {
			checkpoint = scanState{pos: i + 1, inString: inString, escape: escape}
		}
	}
	return checkpoint
}

// parseCandidate decodes candidate object text as a plan. Text without a
// non-null top-level "processes" member, or text that fails to decode, is not
// a plan; both are expected while a snapshot is still arriving.
func parseCandidate(text string) (*Plan, bool) {
	procs := gjson.Get(text, "processes")
	if !procs.Exists() || procs.Type == gjson.Null {
		return nil, false
	}
	plan, err := DecodePlan(text)
	if err != nil {
		return nil, false
	}
	return plan, true
}

// Candidates lazily yields every plan found in buf, in scan order.
func Candidates(buf string) iter.Seq[*Plan] {
	return func(yield func(*Plan) bool) {
		scanObjects(buf, scanState{}, func(text string) bool {
			plan, ok := parseCandidate(text)
			if !ok {
				return true
			}
			return yield(plan)
		})
	}
}

// ScanStats counts what the most recent scan saw.
type ScanStats struct {
	Objects   int // balanced top-level objects
	Retained  int // objects that decoded as plans
	Discarded int // objects rejected by the probe or the decoder
	Scanned   int // bytes walked
}

// Scanner selects the authoritative plan in a growing buffer: the last
// retained candidate wins, because the producer emits progressively larger
// snapshots rather than deltas.
//
// A Scanner built with NewScanner rescans the whole buffer on every call. One
// built with NewIncrementalScanner checkpoints the last depth-0 boundary and
// the last retained plan, and only walks bytes appended since; the buffer it
// is given must only ever grow.
type Scanner struct {
	incremental bool
	state       scanState
	last        *Plan
	stats       ScanStats
}

// NewScanner returns a scanner that rescans the full buffer on every call.
func NewScanner() *Scanner { return &Scanner{} }

// NewIncrementalScanner returns a checkpointing scanner.
func NewIncrementalScanner() *Scanner { return &Scanner{incremental: true} }

// Last returns the last plan in buf.
func (s *Scanner) Last(buf string) (*Plan, bool) {
	from := scanState{}
	last := (*Plan)(nil)
	if s.incremental {
		if len(buf) < s.state.pos {
			s.Reset()
		}
		from = s.state
		last = s.last
	}

	stats := ScanStats{Scanned: len(buf) - from.pos}
	end := scanObjects(buf, from, func(text string) bool {
		stats.Objects++
		plan, ok := parseCandidate(text)
		if !ok {
			stats.Discarded++
			return true
		}
		stats.Retained++
		last = plan
		return true
	})
	s.stats = stats

	if s.incremental {
		s.state = end
		s.last = last
	}
	return last, last != nil
}

// Stats returns the counters from the most recent call to Last.
func (s *Scanner) Stats() ScanStats { return s.stats }

// Reset drops any checkpoint.
func (s *Scanner) Reset() {
	s.state = scanState{}
	s.last = nil
	s.stats = ScanStats{}
}
