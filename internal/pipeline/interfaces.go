package pipeline

import (
	"context"

	"procstream/internal/extract"
	"procstream/internal/stream"
)

// Source opens the decomposition event stream for a task. Both channels must
// be closed when the stream ends, and sends must stop once ctx is done.
type Source interface {
	Events(ctx context.Context, task string) (<-chan stream.Event, <-chan error)
}

// SnapshotProducer is implemented by sources that can say whether each chunk
// carries the whole plan so far. Last-candidate-wins selection is only
// correct for snapshot producers; a source reporting false gets a warning.
type SnapshotProducer interface {
	Snapshots() bool
}

// Refetcher retrieves the complete plan synchronously.
type Refetcher interface {
	Fetch(ctx context.Context, task string) (*extract.Plan, error)
}

// Projector renders a plan. approximate is true for mid-stream renders and
// false for the final one.
type Projector interface {
	Project(plan *extract.Plan, approximate bool)
}

// StatusSink receives status text and progress percentages.
type StatusSink interface {
	Status(text string)
	Progress(pct int)
}
