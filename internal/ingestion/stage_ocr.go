package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"ragcore/internal/errkind"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/staging"
	"ragcore/internal/textextract"
	"ragcore/internal/workload"
)

// HandleOCR is the INGESTION_OCR stage handler (spec.md §4.7.3), registered
// as a workerrt.Handler on the ingestion_ocr queue.
func (s *Service) HandleOCR(ctx context.Context, job queue.Job) error {
	documentID := payloadString(job, "document_id")
	stagingKey := payloadString(job, "staging_key")
	filename := payloadString(job, "filename")
	ocrMode := textextract.Mode(payloadString(job, "ocr_mode"))

	doc, err := s.Store.GetDocument(ctx, documentID)
	if err != nil {
		log.Warn().Err(err).Str("document_id", documentID).Msg("ocr_document_missing")
		return nil // pre-existing delete: no retry
	}

	if _, err := s.Store.GetKnowledgeBase(ctx, doc.KnowledgeBaseID); err != nil {
		if stagingKey != "" {
			_ = s.Staging.Delete(ctx, stagingKey)
		}
		log.Warn().Str("document_id", documentID).Str("knowledge_base_id", doc.KnowledgeBaseID).Msg("ocr_knowledge_base_missing")
		return nil
	}

	fromStatus := doc.ProcessingStatus
	doc.ProcessingStatus = ragmodel.StatusExtracting
	if err := s.Store.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, fromStatus, ragmodel.StatusExtracting, "")

	data, err := s.Staging.Peek(ctx, stagingKey)
	if err != nil {
		if errors.Is(err, staging.ErrMissing) {
			doc.ProcessingStatus = ragmodel.StatusError
			doc.ProcessingError = "staged file missing"
			_ = s.Store.UpdateDocument(ctx, doc)
			s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusExtracting, ragmodel.StatusError, "staged file missing")
			return errkind.Wrap(errkind.StagingMissing, "staging_missing", "staged upload bytes missing", err)
		}
		return errkind.Wrap(errkind.ConnectionFailure, "staging_read_failed", "could not read staged bytes", err)
	}

	if s.Archiver != nil {
		if _, err := s.Archiver.ArchiveOriginal(ctx, doc.KnowledgeBaseID, doc.ID, doc.ContentHash, data, doc.MimeType); err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Msg("ocr_raw_archive_failed")
		}
	}

	useOCR := ocrMode != textextract.ModeTextOnly
	result, err := s.Extractor.Extract(ctx, filename, data, useOCR, ocrMode)
	if err != nil {
		if job.Attempts >= job.MaxAttempts {
			doc.ProcessingStatus = ragmodel.StatusError
			doc.ProcessingError = err.Error()
			_ = s.Store.UpdateDocument(ctx, doc)
			s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusExtracting, ragmodel.StatusError, err.Error())
		}
		return errkind.Wrap(errkind.UpstreamFailure, "extraction_failed", "text extraction failed", err)
	}

	doc.Content = result.Text
	doc.Extraction = ragmodel.ExtractionMeta{
		Method:     result.Method,
		Engine:     result.Engine,
		Confidence: result.Confidence,
		DurationMS: result.Duration.Milliseconds(),
		Metadata:   result.Metadata,
	}
	doc.ProcessingStatus = ragmodel.StatusEmbedding
	if err := s.Store.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	if _, err := workload.EnqueueJob(ctx, s.Queue, workload.IngestionEmbed, map[string]any{
		"action":            "embed_document",
		"document_id":       doc.ID,
		"knowledge_base_id": doc.KnowledgeBaseID,
	}, nil); err != nil {
		return err
	}

	if stagingKey != "" {
		if err := s.Staging.Delete(ctx, stagingKey); err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Msg("ocr_staging_cleanup_failed")
		}
	}
	return nil
}
