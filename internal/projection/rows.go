// Package projection renders plans for the terminal and exports them as
// CSV, JSON or HTML.
package projection

import "procstream/internal/extract"

// Placeholder texts shown while a plan is still filling in.
const (
	PlaceholderLoading     = "正在加载数据，请稍候..."
	PlaceholderSteps       = "正在分解工步..."
	PlaceholderStepCount   = "加载中..."
	PlaceholderDescription = "暂无描述"
	PlaceholderDevice      = "未指定设备"
	PlaceholderAction      = "暂无操作说明"
	NoStepsExport          = "暂无步骤信息"
)

// Row is one line of the flattened process/step table. Process cells are
// repeated on every row; First and Span say how to merge them.
type Row struct {
	ProcessID   string
	ProcessName string
	Description string
	Unit        string
	StepID      string
	Device      string
	Action      string

	HasStep bool
	First   bool // first row of its process
	Span    int  // rows belonging to this process, set on the first row
}

// Flatten turns plan into table rows. A process without steps yields one
// placeholder row with "-" step cells and stepless as its action.
func Flatten(plan *extract.Plan, stepless string) []Row {
	if plan == nil {
		return nil
	}
	var rows []Row
	for _, proc := range plan.Processes {
		base := Row{
			ProcessID:   proc.ProcessID.String(),
			ProcessName: proc.Name,
			Description: proc.Description,
		}
		if !proc.HasSteps() {
			r := base
			r.Unit, r.StepID, r.Device, r.Action = "-", "-", "-", stepless
			r.First, r.Span = true, 1
			rows = append(rows, r)
			continue
		}
		for i, step := range proc.Steps {
			r := base
			r.Unit = step.Unit
			r.StepID = step.StepID.String()
			r.Device = step.Device
			r.Action = step.Action
			r.HasStep = true
			if i == 0 {
				r.First, r.Span = true, len(proc.Steps)
			}
			rows = append(rows, r)
		}
	}
	return rows
}
