// Package diff compares two decomposition plans line by line using the
// sergi/go-diff engine, so a re-run of a task can be checked against the
// previous result.
package diff

import (
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"procstream/internal/extract"
)

// LineType is the kind of a diff line.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

func (t LineType) prefix() string {
	switch t {
	case LineAdded:
		return "+"
	case LineRemoved:
		return "-"
	}
	return " "
}

// Line is one line of a hunk. LineNum is the old line number for context and
// removed lines and the new one for added lines.
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk groups nearby changes with their context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// PlanDiff is the line diff between two plans.
type PlanDiff struct {
	OldLabel string
	NewLabel string
	Hunks    []Hunk
	Added    int
	Removed  int
}

// Empty reports whether the plans render identically.
func (d *PlanDiff) Empty() bool { return d == nil || len(d.Hunks) == 0 }

// Render writes the diff in unified style.
func (d *PlanDiff) Render(w io.Writer) error {
	if d.Empty() {
		_, err := fmt.Fprintln(w, "no differences")
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", d.OldLabel, d.NewLabel)
	for _, h := range d.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			b.WriteString(l.Type.prefix())
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "%d added, %d removed\n", d.Added, d.Removed)
	_, err := io.WriteString(w, b.String())
	return err
}

// PlanLines renders plan as one line per process and one indented line per
// step. The layout is stable so that diffs only show real changes.
func PlanLines(plan *extract.Plan) []string {
	if plan == nil {
		return nil
	}
	var lines []string
	for _, proc := range plan.Processes {
		head := fmt.Sprintf("#%s %s", proc.ProcessID, proc.Name)
		if proc.Description != "" {
			head += " - " + proc.Description
		}
		lines = append(lines, head)
		for _, s := range proc.Steps {
			lines = append(lines, fmt.Sprintf("    %s | %s | %s | %s", s.StepID, s.Unit, s.Device, s.Action))
		}
	}
	return lines
}

// Engine computes plan diffs and caches results for identical inputs.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	context int
	cache   sync.Map // cacheKey -> *PlanDiff
}

type cacheKey struct {
	old, new uint64
}

// NewEngine returns an engine showing context lines around each change.
func NewEngine(context int) *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	if context < 0 {
		context = 0
	}
	return &Engine{dmp: dmp, context: context}
}

// Compare diffs two plans. The labels name them in the rendered header.
func (e *Engine) Compare(oldLabel, newLabel string, oldPlan, newPlan *extract.Plan) *PlanDiff {
	oldText := joinLines(PlanLines(oldPlan))
	newText := joinLines(PlanLines(newPlan))

	key := cacheKey{hash(oldText), hash(newText)}
	if cached, ok := e.cache.Load(key); ok {
		d := *cached.(*PlanDiff)
		d.OldLabel, d.NewLabel = oldLabel, newLabel
		return &d
	}

	a, b, lineArray := e.dmp.DiffLinesToChars(oldText, newText)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	ops := toOperations(diffs)
	d := &PlanDiff{OldLabel: oldLabel, NewLabel: newLabel, Hunks: group(ops, e.context)}
	for _, op := range ops {
		switch op.typ {
		case LineAdded:
			d.Added++
		case LineRemoved:
			d.Removed++
		}
	}
	e.cache.Store(key, d)
	return d
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

type operation struct {
	typ     LineType
	oldLine int // zero-based, -1 for additions
	newLine int // zero-based, -1 for removals
	content string
}

func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" && d.Type != diffmatchpatch.DiffEqual {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

// group collects changed operations into hunks, keeping up to context
// unchanged lines on either side and merging hunks whose context overlaps.
func group(ops []operation, context int) []Hunk {
	var spans [][2]int
	for i, op := range ops {
		if op.typ == LineContext {
			continue
		}
		lo, hi := max(i-context, 0), min(i+context+1, len(ops))
		if n := len(spans); n > 0 && lo <= spans[n-1][1] {
			spans[n-1][1] = hi
			continue
		}
		spans = append(spans, [2]int{lo, hi})
	}

	hunks := make([]Hunk, 0, len(spans))
	for _, sp := range spans {
		var h Hunk
		for _, op := range ops[sp[0]:sp[1]] {
			num := op.oldLine + 1
			if op.typ == LineAdded {
				num = op.newLine + 1
			}
			h.Lines = append(h.Lines, Line{LineNum: num, Content: op.content, Type: op.typ})
			if op.typ != LineAdded {
				h.OldCount++
				if h.OldStart == 0 {
					h.OldStart = op.oldLine + 1
				}
			}
			if op.typ != LineRemoved {
				h.NewCount++
				if h.NewStart == 0 {
					h.NewStart = op.newLine + 1
				}
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

func hash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
