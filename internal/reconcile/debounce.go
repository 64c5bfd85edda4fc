// Package reconcile decides when a growing stream buffer has been quiet long
// enough to be worth parsing again.
package reconcile

import "time"

// Default timing, matching the producer's chunk cadence.
const (
	DefaultQuietThreshold = 450 * time.Millisecond
	DefaultCheckDelay     = 500 * time.Millisecond
)

// State is the debouncer state.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// Debouncer tracks fragment arrivals and reports when a quiet window has
// elapsed. It is not safe for concurrent use; the owning request loop is the
// only caller.
type Debouncer struct {
	threshold   time.Duration
	lastArrival time.Time
	state       State

	arrivals  int
	fired     int
	discarded int
}

// NewDebouncer returns a debouncer with the given quiet threshold. A
// non-positive threshold uses DefaultQuietThreshold.
func NewDebouncer(threshold time.Duration) *Debouncer {
	if threshold <= 0 {
		threshold = DefaultQuietThreshold
	}
	return &Debouncer{threshold: threshold}
}

// Arrive records a fragment arrival and moves to Pending.
func (d *Debouncer) Arrive(now time.Time) {
	d.lastArrival = now
	d.state = Pending
	d.arrivals++
}

// Due is called when a scheduled check fires. It returns true, and moves back
// to Idle, only if a reconciliation is pending and no fragment has arrived
// within the quiet threshold. Every other check is discarded.
func (d *Debouncer) Due(now time.Time) bool {
	if d.state != Pending || now.Sub(d.lastArrival) < d.threshold {
		d.discarded++
		return false
	}
	d.state = Idle
	d.fired++
	return true
}

// Flush forces a pending reconciliation regardless of the quiet window. It
// reports whether one was pending.
func (d *Debouncer) Flush() bool {
	if d.state != Pending {
		return false
	}
	d.state = Idle
	d.fired++
	return true
}

// State returns the current state.
func (d *Debouncer) State() State { return d.state }

// Threshold returns the quiet threshold.
func (d *Debouncer) Threshold() time.Duration { return d.threshold }

// Stats returns arrivals seen, reconciliations allowed and checks discarded.
func (d *Debouncer) Stats() (arrivals, fired, discarded int) {
	return d.arrivals, d.fired, d.discarded
}
