package rag

import (
	"time"
)

// Tracker records wall-clock start/end times per named pipeline stage.
// A tracker belongs to a single Execute call and is not safe for
// concurrent use; timings are read only after the pipeline returns.
type Tracker struct {
	order  []string
	starts map[string]time.Time
	ends   map[string]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		starts: make(map[string]time.Time),
		ends:   make(map[string]time.Time),
	}
}

// Start marks the beginning of a stage.
func (t *Tracker) Start(stage string) {
	if _, seen := t.starts[stage]; !seen {
		t.order = append(t.order, stage)
	}
	t.starts[stage] = time.Now()
}

// End marks the end of a stage. Ending a stage that never started is a no-op.
func (t *Tracker) End(stage string) {
	if _, ok := t.starts[stage]; !ok {
		return
	}
	t.ends[stage] = time.Now()
}

// StageTiming is the recorded duration of one stage.
type StageTiming struct {
	Stage    string  `json:"stage"`
	Seconds  float64 `json:"seconds"`
	Percent  float64 `json:"percent"`
}

// StageReport summarizes all recorded stages in start order.
type StageReport struct {
	Stages       []StageTiming `json:"stages"`
	TotalSeconds float64       `json:"total_seconds"`
	Bottleneck   string        `json:"bottleneck,omitempty"`
}

// Report builds the duration/percentage/bottleneck summary. Stages that
// started but never ended are reported with zero duration.
func (t *Tracker) Report() *StageReport {
	report := &StageReport{}
	var slowest float64
	for _, stage := range t.order {
		end, ok := t.ends[stage]
		var secs float64
		if ok {
			secs = end.Sub(t.starts[stage]).Seconds()
		}
		report.Stages = append(report.Stages, StageTiming{Stage: stage, Seconds: secs})
		report.TotalSeconds += secs
		if secs > slowest {
			slowest = secs
			report.Bottleneck = stage
		}
	}
	if report.TotalSeconds > 0 {
		for i := range report.Stages {
			report.Stages[i].Percent = report.Stages[i].Seconds / report.TotalSeconds * 100
		}
	}
	return report
}
