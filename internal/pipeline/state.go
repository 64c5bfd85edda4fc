package pipeline

// State is where a request is in its lifecycle.
type State int32

const (
	StateStreaming State = iota
	StateReconciling
	StateIdle
	StateCompleted
	StateRefetching
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateReconciling:
		return "reconciling"
	case StateIdle:
		return "idle"
	case StateCompleted:
		return "completed"
	case StateRefetching:
		return "refetching"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateResolved || s == StateFailed }
