package extract

import "strings"

// Accumulator is the append-only stream buffer for one request. Every fragment
// is stored verbatim followed by a newline separator.
type Accumulator struct {
	sb        strings.Builder
	fragments int
}

// Append adds a fragment to the buffer. Empty fragments still contribute the
// separator.
func (a *Accumulator) Append(fragment string) {
	a.sb.WriteString(fragment)
	a.sb.WriteByte('\n')
	a.fragments++
}

// String returns everything received so far in arrival order.
func (a *Accumulator) String() string { return a.sb.String() }

// Len returns the buffer size in bytes.
func (a *Accumulator) Len() int { return a.sb.Len() }

// Fragments returns how many fragments have been appended.
func (a *Accumulator) Fragments() int { return a.fragments }

// Reset empties the buffer for a new request.
func (a *Accumulator) Reset() {
	a.sb.Reset()
	a.fragments = 0
}
