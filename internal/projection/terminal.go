package projection

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"procstream/internal/extract"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#8BC34A")).
			Padding(0, 1)

	approxCardStyle = cardStyle.
			BorderForeground(lipgloss.Color("#FFC107"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#2196F3"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9E9E9E"))

	stepIDStyle = lipgloss.NewStyle().
			Bold(true)
)

// RenderCards draws one bordered card per process. Approximate renders use a
// warning border to mark that the stream is still running.
func RenderCards(plan *extract.Plan, approximate bool) string {
	if plan == nil || len(plan.Processes) == 0 {
		return mutedStyle.Render(PlaceholderLoading)
	}

	style := cardStyle
	if approximate {
		style = approxCardStyle
	}

	cards := make([]string, 0, len(plan.Processes))
	for _, proc := range plan.Processes {
		cards = append(cards, style.Render(renderCard(proc)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func renderCard(proc extract.Process) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("#%s %s", proc.ProcessID, proc.Name)))
	b.WriteByte('\n')

	desc := proc.Description
	if desc == "" {
		desc = PlaceholderDescription
	}
	b.WriteString(mutedStyle.Render(desc))
	b.WriteByte('\n')

	count := PlaceholderStepCount
	if proc.HasSteps() {
		count = fmt.Sprint(len(proc.Steps))
	}
	fmt.Fprintf(&b, "工步详情 (%s)", count)

	if !proc.HasSteps() {
		b.WriteString("\n  ")
		b.WriteString(mutedStyle.Render(PlaceholderSteps))
		return b.String()
	}
	for _, step := range proc.Steps {
		device := step.Device
		if device == "" {
			device = PlaceholderDevice
		}
		action := step.Action
		if action == "" {
			action = PlaceholderAction
		}
		b.WriteString("\n  ")
		b.WriteString(stepIDStyle.Render(step.StepID.String()))
		if step.Unit != "" {
			b.WriteString(" " + step.Unit)
		}
		fmt.Fprintf(&b, "  🔩 %s  %s", device, action)
	}
	return b.String()
}

// RenderTable draws the flattened plan as a table with process cells shown
// once per process.
func RenderTable(plan *extract.Plan) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"工序ID", "工序名称", "工序描述", "单元", "步骤ID", "设备", "操作"})

	rows := Flatten(plan, PlaceholderSteps)
	for i, r := range rows {
		if r.First && i > 0 {
			tbl.AppendSeparator()
		}
		id, name, desc := r.ProcessID, r.ProcessName, r.Description
		if !r.First {
			id, name, desc = "", "", ""
		}
		tbl.AppendRow(table.Row{id, name, desc, r.Unit, r.StepID, r.Device, r.Action})
	}

	done, total := decomposed(plan)
	tbl.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d/%d 工序已分解", done, total)})
	return tbl.Render()
}

// decomposed returns how many processes have steps, out of how many.
func decomposed(plan *extract.Plan) (done, total int) {
	if plan == nil {
		return 0, 0
	}
	done, _ = plan.StepCounts()
	return done, len(plan.Processes)
}

// Mode selects the terminal layout.
type Mode int

const (
	ModeCards Mode = iota
	ModeTable
)

// Terminal writes every projection to an io.Writer. Only the final render
// uses the table layout when Mode is ModeTable; approximate renders are
// always cards.
type Terminal struct {
	mu   sync.Mutex
	w    io.Writer
	mode Mode

	renders int
}

// NewTerminal returns a projector writing to w.
func NewTerminal(w io.Writer, mode Mode) *Terminal {
	return &Terminal{w: w, mode: mode}
}

// Project renders plan.
func (t *Terminal) Project(plan *extract.Plan, approximate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.renders++
	var out string
	switch {
	case approximate:
		done, total := decomposed(plan)
		out = fmt.Sprintf("[实时更新 %d/%d]\n%s", done, total, RenderCards(plan, true))
	case t.mode == ModeTable:
		out = RenderTable(plan)
	default:
		out = RenderCards(plan, false)
	}
	fmt.Fprintln(t.w, out)
}

// Status prints a status line.
func (t *Terminal) Status(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, mutedStyle.Render("» "+text))
}

// Progress prints a progress line.
func (t *Terminal) Progress(pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	const width = 20
	pct = min(max(pct, 0), 100)
	filled := pct * width / 100
	fmt.Fprintf(t.w, "[%s%s] %3d%%\n", strings.Repeat("█", filled), strings.Repeat("░", width-filled), pct)
}

// Renders returns how many projections were written.
func (t *Terminal) Renders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renders
}
