package worker

import (
	"time"

	"github.com/abdul-hamid-achik/ppescan/internal/media"
	"github.com/abdul-hamid-achik/ppescan/internal/pipeline"
	"github.com/abdul-hamid-achik/ppescan/internal/tracing"
)

// JobTypeDetect is the job-queue type for PPE detection jobs.
const JobTypeDetect = "ppe.detect"

// QueueDefault is the stream the API publishes to and cmd/worker reads.
const QueueDefault = "default"

type DetectPayload struct {
	JobKey     string               `json:"job_key"`
	Attempt    string               `json:"attempt"`
	InputKey   string               `json:"input_key"`
	OutputKey  string               `json:"output_key"`
	Kind       media.Kind           `json:"kind"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	Trace      tracing.TraceCarrier `json:"trace,omitempty"`
}

func NewDetectPayload(task pipeline.Task, carrier tracing.TraceCarrier) DetectPayload {
	return DetectPayload{
		JobKey:     task.JobKey,
		Attempt:    task.Attempt,
		InputKey:   task.InputKey,
		OutputKey:  task.OutputKey,
		Kind:       task.Kind,
		EnqueuedAt: time.Now().UTC(),
		Trace:      carrier,
	}
}

func (p DetectPayload) Task() pipeline.Task {
	return pipeline.Task{
		JobKey:    p.JobKey,
		Attempt:   p.Attempt,
		InputKey:  p.InputKey,
		OutputKey: p.OutputKey,
		Kind:      p.Kind,
	}
}
