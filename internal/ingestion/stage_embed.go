package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"ragcore/internal/errkind"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/workload"
)

// HandleEmbed is the INGESTION_EMBED stage handler (spec.md §4.7.4),
// registered as a workerrt.Handler on the ingestion_embed queue.
func (s *Service) HandleEmbed(ctx context.Context, job queue.Job) error {
	documentID := payloadString(job, "document_id")

	doc, err := s.Store.GetDocument(ctx, documentID)
	if err != nil {
		log.Warn().Err(err).Str("document_id", documentID).Msg("embed_document_missing")
		return errkind.Wrap(errkind.NotFound, "document_missing", "document not found", err)
	}
	kb, err := s.Store.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		doc.ProcessingStatus = ragmodel.StatusError
		doc.ProcessingError = "knowledge base not found"
		_ = s.Store.UpdateDocument(ctx, doc)
		return errkind.Wrap(errkind.NotFound, "kb_missing", "knowledge base not found", err)
	}

	doc.ProcessingStatus = ragmodel.StatusEmbedding
	if err := s.Store.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusExtracting, ragmodel.StatusEmbedding, "")

	if _, err := s.embedAndReplaceChunks(ctx, kb, &doc); err != nil {
		if job.Attempts >= job.MaxAttempts {
			doc.ProcessingStatus = ragmodel.StatusError
			doc.ProcessingError = err.Error()
			_ = s.Store.UpdateDocument(ctx, doc)
			s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusEmbedding, ragmodel.StatusError, err.Error())
		}
		return err
	}
	doc.ProcessedAt = timePtr(now())

	if s.Cfg.ProfilingEnabled {
		doc.ProcessingStatus = ragmodel.StatusProfiling
		if err := s.Store.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusEmbedding, ragmodel.StatusProfiling, "")
		_, err := workload.EnqueueJob(ctx, s.Queue, workload.Profiling, map[string]any{
			"action":      "profile_document",
			"document_id": doc.ID,
		}, nil)
		return err
	}

	doc.ProcessingStatus = ragmodel.StatusProcessed
	if err := s.Store.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	s.publishTransition(ctx, doc.ID, doc.KnowledgeBaseID, ragmodel.StatusEmbedding, ragmodel.StatusProcessed, "")
	return nil
}

// embedAndReplaceChunks implements process_and_update_chunks (spec.md
// §4.7.4 step 3): chunk, batch-embed, atomically replace, update counters.
// Shared by the embed stage handler and IngestEmail's synchronous path.
func (s *Service) embedAndReplaceChunks(ctx context.Context, kb ragmodel.KnowledgeBase, doc *ragmodel.Document) ([]ragmodel.DocumentChunk, error) {
	previousChunkCount := doc.ChunkCount

	chunkSize := kb.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.Cfg.DefaultChunkSize
	}
	chunkOverlap := kb.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = s.Cfg.DefaultChunkOverlap
	}

	spans := chunkText(doc.Content, chunkSize, chunkOverlap)
	if len(spans) == 0 {
		return nil, fmt.Errorf("ingestion: document has no extractable content")
	}

	type pending struct {
		text      string
		chunkType ragmodel.ChunkType
		start     int
		end       int
	}
	var items []pending
	if kb.TitleChunkEnabled && doc.Title != "" {
		items = append(items, pending{text: "Document Title: " + doc.Title, chunkType: ragmodel.ChunkTypeTitle})
	}
	for i, sp := range spans {
		text := sp.Text
		if i == 0 && !kb.TitleChunkEnabled && doc.Title != "" {
			text = doc.Title + "\n\n" + text
		}
		items = append(items, pending{text: text, chunkType: ragmodel.ChunkTypeContent, start: sp.Start, end: sp.End})
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.text
	}

	vectors, err := s.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFailure, "embed_failed", "embedding call failed", err)
	}

	model := s.Embedder.Model()
	embeddedAt := now()
	chunks := make([]ragmodel.DocumentChunk, len(items))
	for i, it := range items {
		var vec []float32
		if i < len(vectors) {
			vec = vectors[i]
		}
		chunks[i] = ragmodel.DocumentChunk{
			ID:                 fmt.Sprintf("%s-c%d", doc.ID, i),
			DocumentID:         doc.ID,
			KnowledgeBaseID:    doc.KnowledgeBaseID,
			ChunkIndex:         i,
			Content:            it.text,
			Embedding:          vec,
			CharCount:          len(it.text),
			WordCount:          len(strings.Fields(it.text)),
			StartChar:          it.start,
			EndChar:            it.end,
			EmbeddingModel:     model,
			EmbeddingCreatedAt: embeddedAt,
			ChunkMetadata:      map[string]any{"chunk_type": string(it.chunkType)},
			ChunkType:          it.chunkType,
		}
	}

	if err := s.Store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, err
	}
	if s.Vectors != nil {
		for _, c := range chunks {
			if err := s.Vectors.Upsert(ctx, c.ID, c.DocumentID, c.KnowledgeBaseID, c.Embedding, map[string]any{"_knowledge_base_id": c.KnowledgeBaseID}); err != nil {
				log.Warn().Err(err).Str("chunk_id", c.ID).Msg("vector_upsert_failed")
			}
		}
	}

	doc.WordCount = len(strings.Fields(doc.Content))
	doc.CharacterCount = len(doc.Content)
	doc.ChunkCount = len(chunks)

	// Re-embedding replaces rather than appends, so total_chunks moves by
	// the net change, not a flat increment (spec.md §4.7.6).
	s.adjustKnowledgeBaseCounters(ctx, doc.KnowledgeBaseID, 0, doc.ChunkCount-previousChunkCount)
	return chunks, nil
}
