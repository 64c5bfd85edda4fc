// Package extract turns the raw text of a decomposition stream into validated
// process plans. It owns the stream buffer, the structural scanner, the
// sentinel extractor and the completeness auditor; it holds no timers and
// performs no I/O.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a process or step identifier. Producers emit integers, but strings are
// accepted too; the literal text is preserved for rendering and export.
type ID string

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if isJSONNumber(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isJSONNumber(s string) bool {
	if s == "" || !(s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		return false
	}
	var n json.Number
	return json.Unmarshal([]byte(s), &n) == nil
}

// String returns the literal id text.
func (id ID) String() string { return string(id) }

// Step is one operation inside a process.
type Step struct {
	StepID ID     `json:"step_id"`
	Unit   string `json:"unit,omitempty"`
	Device string `json:"device,omitempty"`
	Action string `json:"action,omitempty"`
}

// Process is one stage of a decomposed task. A process without steps is a
// valid intermediate state only.
type Process struct {
	ProcessID   ID     `json:"process_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// HasSteps reports whether the process carries at least one step.
func (p Process) HasSteps() bool { return len(p.Steps) > 0 }

// Plan is the structured document the producer emits: a task and its ordered
// processes.
type Plan struct {
	Task      string    `json:"task,omitempty"`
	Processes []Process `json:"processes"`
}

// Complete reports whether the plan has at least one process and every
// process has at least one step.
func (p *Plan) Complete() bool {
	if p == nil || len(p.Processes) == 0 {
		return false
	}
	for _, proc := range p.Processes {
		if !proc.HasSteps() {
			return false
		}
	}
	return true
}

// StepCounts returns how many processes carry steps and the total step count.
func (p *Plan) StepCounts() (withSteps, total int) {
	if p == nil {
		return 0, 0
	}
	for _, proc := range p.Processes {
		if proc.HasSteps() {
			withSteps++
			total += len(proc.Steps)
		}
	}
	return withSteps, total
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Task: p.Task, Processes: make([]Process, len(p.Processes))}
	for i, proc := range p.Processes {
		out.Processes[i] = proc
		if proc.Steps != nil {
			out.Processes[i].Steps = append([]Step(nil), proc.Steps...)
		}
	}
	return out
}

// DecodePlan parses text as a plan document.
func DecodePlan(text string) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
