package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"procstream/internal/config"
	"procstream/internal/extract"
	"procstream/internal/observability"
	"procstream/internal/pipeline"
	"procstream/internal/projection"
	"procstream/internal/store"
	"procstream/internal/stream"
)

// runOptions are the output flags shared by decompose, replay and fetch.
type runOptions struct {
	table        bool
	noStore      bool
	exportFormat string
	exportOut    string
}

func (o runOptions) mode() projection.Mode {
	if o.table {
		return projection.ModeTable
	}
	return projection.ModeCards
}

func newClient(c *config.Config) *stream.Client {
	return stream.NewClient(c.StreamURL(), c.FetchURL(), stream.WithFetchTimeout(c.GetServerTimeout()))
}

func settingsFrom(c *config.Config) pipeline.Settings {
	return pipeline.Settings{
		QuietThreshold:  c.Pipeline.GetQuietThreshold(),
		CheckDelay:      c.Pipeline.GetCheckDelay(),
		IncrementalScan: c.Pipeline.IncrementalScan,
		Sentinel:        c.Pipeline.Sentinel(),
		Auditor:         c.Pipeline.Auditor(),
	}
}

// runPipeline drives one request through the pipeline, serving metrics
// alongside it when enabled, then records and exports the outcome.
func runPipeline(ctx context.Context, out io.Writer, src pipeline.Source, ref pipeline.Refetcher, task string, opts runOptions) (*pipeline.Outcome, error) {
	c := currentConfig()
	log := currentLogger()

	term := projection.NewTerminal(out, opts.mode())
	popts := []pipeline.Option{
		pipeline.WithSettings(settingsFrom(c)),
		pipeline.WithStatusSink(term),
	}

	g, gctx := errgroup.WithContext(ctx)
	stopMetrics := func() {}
	if c.Metrics.Enabled {
		exp, err := observability.NewExporter()
		if err != nil {
			return nil, err
		}
		defer exp.Shutdown(context.WithoutCancel(ctx))

		pm, err := exp.PipelineMetrics()
		if err != nil {
			return nil, err
		}
		popts = append(popts, pipeline.WithMetrics(pm))

		mctx, cancel := context.WithCancel(gctx)
		stopMetrics = cancel
		g.Go(func() error {
			return exp.Serve(mctx, c.Metrics.Addr, c.Metrics.Path)
		})
	}

	var outcome *pipeline.Outcome
	g.Go(func() error {
		defer stopMetrics()
		p := pipeline.New(src, ref, term, popts...)
		o, err := p.Decompose(gctx, task)
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("decomposition resolved",
		zap.String("request", outcome.RequestID),
		zap.String("source", outcome.Result.Source.String()),
		zap.String("decision", outcome.Decision.String()),
		zap.Bool("cached", outcome.Cached),
		zap.Int("fragments", outcome.Fragments),
		zap.Int("reconciles", outcome.Reconciles),
		zap.Duration("duration", outcome.Duration))
	fmt.Fprintf(out, "source=%s decision=%s cached=%v fragments=%d reconciles=%d\n",
		outcome.Result.Source, outcome.Decision, outcome.Cached, outcome.Fragments, outcome.Reconciles)

	finish(ctx, out, store.Record{
		RequestID: outcome.RequestID,
		Task:      task,
		Plan:      outcome.Result.Plan,
		Source:    outcome.Result.Source.String(),
		Decision:  outcome.Decision.String(),
		Cached:    outcome.Cached,
	}, opts)
	return outcome, nil
}

// finish saves rec to the history and writes the requested export. Neither
// failure fails the command: the plan has already been rendered.
func finish(ctx context.Context, out io.Writer, rec store.Record, opts runOptions) {
	c := currentConfig()
	log := currentLogger()

	if rec.Plan != nil && c.Store.Enabled && !opts.noStore {
		if err := saveRecord(ctx, c.Store.DatabasePath, rec); err != nil {
			log.Warn("failed to save outcome", zap.Error(err))
		}
	}

	if opts.exportFormat != "" {
		path, err := writeExport(out, opts.exportFormat, opts.exportOut, rec.Task, rec.Plan)
		if err != nil {
			log.Warn("export failed", zap.Error(err))
			fmt.Fprintf(out, "export failed: %v\n", err)
			return
		}
		if path != "" {
			fmt.Fprintf(out, "exported to %s\n", path)
		}
	}
}

func saveRecord(ctx context.Context, path string, rec store.Record) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	_, err = st.Save(ctx, rec)
	return err
}

// writeExport writes plan in format to dest. An empty dest derives a file
// name from the task; "-" writes to stdout. It returns the path written.
func writeExport(stdout io.Writer, format, dest, task string, plan *extract.Plan) (string, error) {
	f, err := projection.ParseFormat(format)
	if err != nil {
		return "", err
	}
	if dest == "-" {
		return "", projection.Export(stdout, f, task, plan, time.Now())
	}
	if dest == "" {
		dest = exportFileName(task, time.Now()) + f.Extension()
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := projection.Export(file, f, task, plan, time.Now()); err != nil {
		file.Close()
		return "", err
	}
	return dest, file.Close()
}

func exportFileName(task string, now time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(task))
	if name == "" {
		name = "plan"
	}
	return fmt.Sprintf("工序分解_%s_%s", name, now.Format("20060102"))
}
