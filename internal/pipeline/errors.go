package pipeline

import "errors"

var (
	// ErrTransport means the event stream failed: an error event, a
	// connection failure, or a stream that ended without completing.
	ErrTransport = errors.New("connection failed")

	// ErrRefetch means the synchronous fallback fetch failed.
	ErrRefetch = errors.New("data retrieval failed")

	// ErrSuperseded means a newer Start cancelled the request.
	ErrSuperseded = errors.New("request superseded")
)
