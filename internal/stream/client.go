package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"procstream/internal/extract"
	"procstream/internal/logging"
)

const (
	// maxLineSize bounds a single SSE line; a full plan snapshot fits.
	maxLineSize = 1024 * 1024
	// maxFetchSize bounds the JSON endpoint response.
	maxFetchSize = 8 * 1024 * 1024
)

// Client talks to the decomposition service.
type Client struct {
	streamURL    string
	fetchURL     string
	client       *http.Client
	fetchTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithFetchTimeout bounds the JSON refetch. The stream itself is only bounded
// by its context.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) { c.fetchTimeout = d }
}

// NewClient creates a client for the given stream and fetch endpoints.
func NewClient(streamURL, fetchURL string, opts ...Option) *Client {
	c := &Client{
		streamURL:    streamURL,
		fetchURL:     fetchURL,
		client:       &http.Client{},
		fetchTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshots reports that every chunk the service sends is a full snapshot of
// the plan so far.
func (c *Client) Snapshots() bool { return true }

func withTask(endpoint, task string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("task", task)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events opens the SSE stream for task. Both channels are closed when the
// stream ends; at most one error is sent. A clean end of stream sends no
// error: the caller decides whether the events it saw were enough.
func (c *Client) Events(ctx context.Context, task string) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		target, err := withTask(c.streamURL, task)
		if err != nil {
			errCh <- err
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			errCh <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := c.client.Do(req)
		if err != nil {
			errCh <- fmt.Errorf("failed to connect to SSE endpoint %s: %w", c.streamURL, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errCh <- fmt.Errorf("server returned status %d", resp.StatusCode)
			return
		}
		logging.StreamDebug("SSE connection established to %s", target)

		if err := readLoop(ctx, resp.Body, events); err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

// readLoop reads SSE events from r until EOF or ctx is done.
func readLoop(ctx context.Context, r io.Reader, out chan<- Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var dec decoder
	for scanner.Scan() {
		ev, ok := dec.line(scanner.Text())
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.StreamWarn("SSE read error: %v", err)
		return fmt.Errorf("stream read error: %w", err)
	}
	return nil
}

// Fetch retrieves the complete plan for task from the JSON endpoint and
// validates its shape.
func (c *Client) Fetch(ctx context.Context, task string) (*extract.Plan, error) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	target, err := withTask(c.fetchURL, task)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.fetchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	plan, err := extract.ValidatePlanJSON(body)
	if err != nil {
		return nil, err
	}
	logging.Stream("fetched plan for %q: %d processes", task, len(plan.Processes))
	return plan, nil
}
