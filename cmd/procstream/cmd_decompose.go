package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"procstream/internal/extract"
	"procstream/internal/pipeline"
	"procstream/internal/projection"
	"procstream/internal/store"
	"procstream/internal/stream"
)

var (
	runOpts    runOptions
	recordPath string
	follow     bool
	offline    bool
	replayTask string
)

// decomposeCmd streams a live decomposition
var decomposeCmd = &cobra.Command{
	Use:   "decompose <task>",
	Short: "Stream a decomposition and render it as it arrives",
	Long: `Opens the decomposition stream for a task and renders the best plan known
so far after every quiet window. On completion the plan is audited and, when
incomplete, replaced by the full JSON payload.

Example:
  procstream decompose "加工齿轮轴" --table --export csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecompose,
}

// fetchCmd fetches the complete plan synchronously
var fetchCmd = &cobra.Command{
	Use:   "fetch <task>",
	Short: "Fetch the complete plan from the JSON endpoint",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

// replayCmd drives the pipeline from a recorded capture
var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Replay a recorded SSE capture through the pipeline",
	Long: `Feeds a capture written by "decompose --record" (or any SSE text) through
the same pipeline as a live stream. With --follow the file is tailed until a
complete or error event is appended.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	for _, cmd := range []*cobra.Command{decomposeCmd, fetchCmd, replayCmd} {
		cmd.Flags().BoolVar(&runOpts.table, "table", false, "Render the final plan as a table")
		cmd.Flags().BoolVar(&runOpts.noStore, "no-store", false, "Do not save the outcome to the history")
		cmd.Flags().StringVar(&runOpts.exportFormat, "export", "", "Export the final plan (csv, json, html)")
		cmd.Flags().StringVarP(&runOpts.exportOut, "out", "o", "", "Export destination (default: derived from the task, - for stdout)")
	}
	decomposeCmd.Flags().StringVar(&recordPath, "record", "", "Record the raw event stream to a file")

	replayCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Tail the capture until the stream completes")
	replayCmd.Flags().BoolVar(&offline, "offline", false, "Never refetch; a partial plan fails the replay")
	replayCmd.Flags().StringVar(&replayTask, "task", "", "Task name used for refetch, history and export")
}

func runDecompose(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	task := strings.Join(args, " ")
	client := newClient(currentConfig())
	currentLogger().Info("Decomposing task", zap.String("task", task), zap.String("stream", currentConfig().StreamURL()))

	var src pipeline.Source = client
	if recordPath != "" {
		f, err := os.Create(recordPath)
		if err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}
		defer f.Close()
		rec := stream.NewRecorder(client, f)
		defer func() {
			currentLogger().Info("Recorded events", zap.Int("events", rec.Written()), zap.String("path", recordPath))
		}()
		src = rec
	}

	_, err := runPipeline(ctx, cmd.OutOrStdout(), src, client, task, runOpts)
	return err
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	task := replayTask
	if task == "" {
		task = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	var ref pipeline.Refetcher
	if !offline {
		ref = newClient(currentConfig())
	}
	src := stream.NewFileSource(args[0], follow)

	_, err := runPipeline(ctx, cmd.OutOrStdout(), src, ref, task, runOpts)
	return err
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	task := strings.Join(args, " ")
	plan, err := newClient(currentConfig()).Fetch(ctx, task)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrRefetch, err)
	}

	out := cmd.OutOrStdout()
	projection.NewTerminal(out, runOpts.mode()).Project(plan, false)

	finish(ctx, out, store.Record{
		Task:     task,
		Plan:     plan,
		Source:   extract.SourceRefetch.String(),
		Decision: extract.DecisionRefetch.String(),
	}, runOpts)
	return nil
}
