package stream

import (
	"context"
	"io"
	"sync"

	"procstream/internal/logging"
)

// EventSource is anything that yields a decomposition event stream.
type EventSource interface {
	Events(ctx context.Context, task string) (<-chan Event, <-chan error)
	Snapshots() bool
}

// Recorder passes events through from Src while writing them to W in SSE
// format, producing a capture FileSource can replay.
type Recorder struct {
	Src EventSource
	W   io.Writer

	mu      sync.Mutex
	written int
}

// NewRecorder wraps src.
func NewRecorder(src EventSource, w io.Writer) *Recorder {
	return &Recorder{Src: src, W: w}
}

func (r *Recorder) Snapshots() bool { return r.Src.Snapshots() }

// Events forwards every event and error from the wrapped source. A write
// failure is logged once and recording stops; the stream is not affected.
func (r *Recorder) Events(ctx context.Context, task string) (<-chan Event, <-chan error) {
	in, inErr := r.Src.Events(ctx, task)
	out := make(chan Event)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		recording := true
		for ev := range in {
			if recording {
				if err := r.write(ev); err != nil {
					logging.StreamWarn("recording stopped: %v", err)
					recording = false
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// Drain so the wrapped source can exit.
				for range in {
				}
				if err := <-inErr; err != nil {
					errCh <- err
				}
				return
			}
		}
		if err := <-inErr; err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (r *Recorder) write(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := Encode(r.W, ev); err != nil {
		return err
	}
	r.written++
	return nil
}

// Written returns the number of events recorded.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
