package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// FileSource replays a recorded SSE capture. With Follow set it keeps
// reading as the file grows, until a complete or error event arrives or the
// context is cancelled.
type FileSource struct {
	Path   string
	Follow bool
}

// NewFileSource returns a source for the capture at path.
func NewFileSource(path string, follow bool) *FileSource {
	return &FileSource{Path: path, Follow: follow}
}

// Snapshots reports that captures come from the same snapshot-emitting
// service as the live stream.
func (f *FileSource) Snapshots() bool { return true }

// Events replays the capture. The task is ignored; the capture already
// belongs to one.
func (f *FileSource) Events(ctx context.Context, _ string) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		var err error
		if f.Follow {
			err = f.follow(ctx, events)
		} else {
			err = f.replay(ctx, events)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

func (f *FileSource) replay(ctx context.Context, out chan<- Event) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer file.Close()
	return readLoop(ctx, file, out)
}

// errStreamDone stops the follow group once a terminal event went out.
var errStreamDone = errors.New("stream done")

func (f *FileSource) follow(ctx context.Context, out chan<- Event) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer file.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(f.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.Path, err)
	}

	grew := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Has(fsnotify.Write) {
					select {
					case grew <- struct{}{}:
					default:
					}
				}
				if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					return fmt.Errorf("capture %s was removed", f.Path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch error: %w", err)
			}
		}
	})

	g.Go(func() error {
		reader := bufio.NewReader(file)
		var dec decoder
		var partial strings.Builder
		for {
			chunk, err := reader.ReadString('\n')
			partial.WriteString(chunk)
			if err == io.EOF {
				// Wait for the writer to append more
				select {
				case <-grew:
					continue
				case <-gctx.Done():
					return nil
				}
			}
			if err != nil {
				return fmt.Errorf("capture read error: %w", err)
			}

			line := strings.TrimSuffix(partial.String(), "\n")
			partial.Reset()
			ev, ok := dec.line(line)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-gctx.Done():
				return nil
			}
			if ev.Type == EventComplete || ev.Type == EventError {
				return errStreamDone
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStreamDone) {
		return err
	}
	return ctx.Err()
}
