package ingestion

import (
	"context"

	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
)

// HandleProfiling is the PROFILING stage handler (spec.md §4.7.5),
// registered as a workerrt.Handler on the profiling queue. The orchestrator
// (C8) owns the profiling_status/coverage bookkeeping; this handler only
// advances the pipeline's processing_status on success or final failure.
func (s *Service) HandleProfiling(ctx context.Context, job queue.Job) error {
	documentID := payloadString(job, "document_id")

	if err := s.Profiler.ProfileDocument(ctx, documentID); err != nil {
		if job.Attempts >= job.MaxAttempts {
			if doc, gerr := s.Store.GetDocument(ctx, documentID); gerr == nil {
				doc.ProcessingStatus = ragmodel.StatusError
				doc.ProcessingError = err.Error()
				_ = s.Store.UpdateDocument(ctx, doc)
				s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusProfiling, ragmodel.StatusError, err.Error())
			}
		}
		return err
	}

	doc, err := s.Store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	doc.ProcessingStatus = ragmodel.StatusProcessed
	doc.ProcessedAt = timePtr(now())
	if err := s.Store.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusProfiling, ragmodel.StatusProcessed, "")
	return nil
}
