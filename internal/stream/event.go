// Package stream reads decomposition events from the service's SSE endpoint
// or from a recorded capture, and fetches the complete plan from the JSON
// endpoint.
package stream

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Event types emitted by the decomposition service.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"

	// defaultEventType applies when a block carries no event: line.
	defaultEventType = "message"
)

// Event is one dispatched SSE block.
type Event struct {
	Type string
	Data string
}

// Progress parses a progress event's percentage, clamped to 0..100.
func (e Event) Progress() (int, bool) {
	if e.Type != EventProgress {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(e.Data))
	if err != nil {
		return 0, false
	}
	return min(max(n, 0), 100), true
}

// decoder assembles SSE lines into events.
type decoder struct {
	eventType string
	data      strings.Builder
	hasData   bool
}

// line feeds one line without its terminator. It returns an event when the
// line is blank and a block is pending.
func (d *decoder) line(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		if !d.hasData && d.eventType == "" {
			return Event{}, false
		}
		ev := Event{Type: d.eventType, Data: d.data.String()}
		if ev.Type == "" {
			ev.Type = defaultEventType
		}
		d.reset()
		return ev, true
	}

	if strings.HasPrefix(line, ":") {
		// Comment
		return Event{}, false
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		d.eventType = value
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.hasData = true
	case "id", "retry":
		// Not used by this client
	}
	return Event{}, false
}

func (d *decoder) reset() {
	d.eventType = ""
	d.data.Reset()
	d.hasData = false
}

// Encode writes ev in SSE wire format. Multi-line data becomes one data:
// line per line.
func Encode(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.Type != "" && ev.Type != defaultEventType {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	for _, l := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", l)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// StatusInfo is what a status line says about the run.
type StatusInfo struct {
	Text     string
	Cached   bool
	Parallel int // processes being decomposed concurrently
	Done     int // processes finished so far
	Total    int
}

var (
	parallelRe = regexp.MustCompile(`并行分解 (\d+) 个工序`)
	doneRe     = regexp.MustCompile(`已完成工序 (\d+)/(\d+)`)
)

// ParseStatus extracts the counters the service embeds in status text.
// cached reports whether the text carries a cache marker.
func ParseStatus(text string, cached func(string) bool) StatusInfo {
	info := StatusInfo{Text: text}
	if cached != nil {
		info.Cached = cached(text)
	}
	if m := parallelRe.FindStringSubmatch(text); m != nil {
		info.Parallel, _ = strconv.Atoi(m[1])
	}
	if m := doneRe.FindStringSubmatch(text); m != nil {
		info.Done, _ = strconv.Atoi(m[1])
		info.Total, _ = strconv.Atoi(m[2])
	}
	return info
}
