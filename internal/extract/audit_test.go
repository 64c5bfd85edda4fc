package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func plan(procs ...Process) *Plan { return &Plan{Processes: procs} }

func proc(id string, steps int) Process {
	p := Process{ProcessID: ID(id), Name: "p" + id, Steps: []Step{}}
	for i := 0; i < steps; i++ {
		p.Steps = append(p.Steps, Step{StepID: ID(string(rune('1' + i)))})
	}
	return p
}

func TestAuditor_Audit(t *testing.T) {
	a := NewAuditor()

	tests := []struct {
		name       string
		last       Result
		completion string
		want       Decision
	}{
		{"no result", Result{}, "生成成功 🎉", DecisionRefetch},
		{"empty processes", FromScan(plan()), "done", DecisionRefetch},
		{"one process without steps", FromScan(plan(proc("1", 2), proc("2", 0))), "done", DecisionRefetch},
		{"all processes with steps", FromScan(plan(proc("1", 1), proc("2", 3))), "done", DecisionUseAsIs},
		{"cache marker with partial result", FromScan(plan(proc("1", 0))), "从缓存加载完成", DecisionUseAsIs},
		{"english cache wording is not a marker", FromScan(plan(proc("1", 0))), "Generated fresh (cache miss)", DecisionRefetch},
		{"cache marker with nothing", Result{}, "缓存命中", DecisionUseAsIs},
		{"sentinel with step-less process", FromSentinel(plan(proc("1", 1), proc("2", 0))), "done", DecisionUseAsIs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Audit(tt.last, tt.completion))
		})
	}
}

func TestAuditor_CustomMarkers(t *testing.T) {
	a := NewAuditor("from-store")
	assert.True(t, a.Cached("loaded from-store"))
	assert.False(t, a.Cached("loaded from cache"))
	assert.Equal(t, DecisionRefetch, a.Audit(FromScan(plan(proc("1", 0))), "loaded from cache"))

	// Markers match exactly; configure each spelling that should count.
	a = NewAuditor("缓存", "from cache")
	assert.True(t, a.Cached("loaded from cache"))
	assert.False(t, a.Cached("loaded From Cache"))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "use_as_is", DecisionUseAsIs.String())
	assert.Equal(t, "refetch", DecisionRefetch.String())
}
