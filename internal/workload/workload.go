// Package workload names the system's background workload types and maps
// each to its queue name and default retry/visibility settings (C6), per
// spec.md §4.3 and §6. enqueue_job is the only sanctioned entry point so
// business code never hardcodes queue names.
package workload

import (
	"context"
	"fmt"

	"ragcore/internal/queue"
)

// Type enumerates the categories of background work. Each maps to a
// dedicated queue, enabling independent scaling per workload type.
type Type string

const (
	// Ingestion runs recurring plugin feed ticks.
	Ingestion Type = "ingestion"
	// IngestionOCR is the file-to-text stage of the document pipeline.
	IngestionOCR Type = "ingestion_ocr"
	// IngestionEmbed is the text-to-vectors stage of the document pipeline.
	IngestionEmbed Type = "ingestion_embed"
	// LLMWorkflow executes scheduled experiences.
	LLMWorkflow Type = "llm_workflow"
	// Maintenance covers reserved cleanup routines (SPEC_FULL.md C7 supplement).
	Maintenance Type = "maintenance"
	// Profiling runs per-document LLM profiling.
	Profiling Type = "profiling"
)

// QueueName returns the namespaced queue name for a workload type
// (spec.md §6: "shu:<workload_value>"; ported as "ragcore:<workload_value>").
func (t Type) QueueName() string {
	return fmt.Sprintf("ragcore:%s", string(t))
}

// Defaults holds the default MaxAttempts/VisibilityTimeoutSeconds for a
// workload type, per spec.md §6's payload-schema table.
type Defaults struct {
	MaxAttempts              int
	VisibilityTimeoutSeconds int
}

var defaultsByType = map[Type]Defaults{
	Ingestion:      {MaxAttempts: 3, VisibilityTimeoutSeconds: 3600},
	IngestionOCR:   {MaxAttempts: 3, VisibilityTimeoutSeconds: 600},
	IngestionEmbed: {MaxAttempts: 3, VisibilityTimeoutSeconds: 300},
	LLMWorkflow:    {MaxAttempts: 3, VisibilityTimeoutSeconds: 600},
	Maintenance:    {MaxAttempts: 3, VisibilityTimeoutSeconds: 300},
	Profiling:      {MaxAttempts: 5, VisibilityTimeoutSeconds: 600},
}

// DefaultsFor returns the default retry/visibility settings for t, falling
// back to a conservative default if t is unrecognized.
func DefaultsFor(t Type) Defaults {
	if d, ok := defaultsByType[t]; ok {
		return d
	}
	return Defaults{MaxAttempts: 3, VisibilityTimeoutSeconds: 60}
}

// AllTypes lists every known workload type, in a stable order, for CLI
// flag parsing and worker configuration.
func AllTypes() []Type {
	return []Type{Ingestion, IngestionOCR, IngestionEmbed, LLMWorkflow, Maintenance, Profiling}
}

// ParseType converts a CLI/config string into a Type, validating it against
// AllTypes.
func ParseType(s string) (Type, error) {
	t := Type(s)
	for _, known := range AllTypes() {
		if known == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown workload type %q", s)
}

// EnqueueOptions overrides the per-type MaxAttempts/VisibilityTimeoutSeconds
// defaults for a single EnqueueJob call.
type EnqueueOptions struct {
	MaxAttempts              int
	VisibilityTimeoutSeconds int
}

// EnqueueJob enqueues a job for the specified workload type. This is the
// only supported entry point for placing work on a queue; business code
// must never call queue.Queue.Enqueue directly with a hand-built queue
// name (spec.md §4.3).
func EnqueueJob(ctx context.Context, q queue.Queue, t Type, payload map[string]any, opts *EnqueueOptions) (queue.Job, error) {
	d := DefaultsFor(t)
	job := queue.NewJob(t.QueueName(), payload)
	job.MaxAttempts = d.MaxAttempts
	job.VisibilityTimeoutSeconds = d.VisibilityTimeoutSeconds
	if opts != nil {
		if opts.MaxAttempts > 0 {
			job.MaxAttempts = opts.MaxAttempts
		}
		if opts.VisibilityTimeoutSeconds > 0 {
			job.VisibilityTimeoutSeconds = opts.VisibilityTimeoutSeconds
		}
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return queue.Job{}, err
	}
	return job, nil
}
