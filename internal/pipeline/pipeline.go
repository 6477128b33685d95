// Sequential execution of operation steps over a raster
package pipeline

import (
	"context"
	"time"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

// Step names one operation and the parameter overrides to apply before it runs
type Step struct {
	ID     string        `json:"id" yaml:"id"`
	Params params.Values `json:"params,omitempty" yaml:"params,omitempty"`
}

// StepState is the lifecycle position of a step within one run
type StepState string

const (
	StatePending     StepState = "pending"
	StateResolving   StepState = "resolving"
	StateConfiguring StepState = "configuring"
	StateRunning     StepState = "running"
	StateSucceeded   StepState = "succeeded"
	StateFailed      StepState = "failed"
	StateSkipped     StepState = "skipped"
)

// SkippedStep records an identifier that could not be resolved
type SkippedStep struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
	Reason   string `json:"reason"`
}

// StepReport describes how a single step ended
type StepReport struct {
	Position int                `json:"position"`
	ID       string             `json:"id"`
	State    StepState          `json:"state"`
	Elapsed  time.Duration      `json:"elapsed"`
	Quality  map[string]float64 `json:"quality,omitempty"`
}

// Result is the output of a successful run. The caller owns every Mat in it
// and must call Close.
type Result struct {
	RunID     string
	Image     gocv.Mat
	Snapshots map[string]gocv.Mat
	Elapsed   time.Duration
	Skipped   []SkippedStep
	Steps     []StepReport
}

// ElapsedMS returns the summed processing time rounded to the nearest
// millisecond. Any measurable time reports at least 1.
func (r *Result) ElapsedMS() int64 {
	ms := r.Elapsed.Round(time.Millisecond).Milliseconds()
	if ms == 0 && r.Elapsed > 0 {
		return 1
	}
	return ms
}

// SkippedIDs lists the identifiers of skipped steps in pipeline order
func (r *Result) SkippedIDs() []string {
	ids := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		ids = append(ids, s.ID)
	}
	return ids
}

func (r *Result) Close() {
	r.Image.Close()
	for key, snapshot := range r.Snapshots {
		snapshot.Close()
		delete(r.Snapshots, key)
	}
}

// Run summarises one execution for history storage
type Run struct {
	ID             string
	StartedAt      time.Time
	Steps          []string
	Skipped        []string
	Elapsed        time.Duration
	Err            error
	FailedOp       string
	FailedPosition int
}

func (r Run) Succeeded() bool {
	return r.Err == nil
}

// Recorder persists run summaries
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}
