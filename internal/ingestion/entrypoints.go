package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ragcore/internal/errkind"
	"ragcore/internal/ragmodel"
	"ragcore/internal/textextract"
	"ragcore/internal/workload"
)

// Result is returned by every C12 entry point.
type Result struct {
	DocumentID string
	Skipped    bool
	SkipReason string
}

func bytesHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sourceTypeFor(pluginName string) string {
	if pluginName == "" {
		return "upload"
	}
	return fmt.Sprintf("plugin:%s", pluginName)
}

// idempotencyOutcome implements spec.md §4.7.1's shared idempotency rule.
type idempotencyOutcome struct {
	existing   ragmodel.Document
	found      bool
	skip       bool
	skipReason string
	hash       string
}

func (s *Service) checkIdempotency(ctx context.Context, kbID, sourceType, sourceID, hash string, hasSourceHash, forceReingest bool) (idempotencyOutcome, error) {
	out := idempotencyOutcome{hash: hash}
	existing, found, err := s.Store.FindBySource(ctx, kbID, sourceType, sourceID)
	if err != nil {
		return out, err
	}
	out.existing, out.found = existing, found
	if !found || forceReingest {
		return out, nil
	}
	if existing.EffectiveHash(hasSourceHash) != hash {
		return out, nil
	}
	switch existing.ProcessingStatus {
	case ragmodel.StatusProcessed:
		out.skip, out.skipReason = true, "hash_match_processed"
	case ragmodel.StatusError:
		out.skip, out.skipReason = true, "hash_match_error_no_autoretry"
	}
	return out, nil
}

// adjustKnowledgeBaseCounters applies spec.md §4.7.6's denormalized
// document_count/total_chunks bookkeeping: callers pass the exact delta an
// event produces (a new document, a chunk-replacement's net change, a
// deletion's captured values) rather than a recomputed total, so counter
// maintenance stays an explicit ledger instead of a derived aggregate.
func (s *Service) adjustKnowledgeBaseCounters(ctx context.Context, kbID string, documentDelta, chunkDelta int) {
	if documentDelta == 0 && chunkDelta == 0 {
		return
	}
	kb, err := s.Store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		log.Warn().Err(err).Str("knowledge_base_id", kbID).Msg("kb_counters_load_failed")
		return
	}
	kb.DocumentCount += documentDelta
	if kb.DocumentCount < 0 {
		kb.DocumentCount = 0
	}
	kb.TotalChunks += chunkDelta
	if kb.TotalChunks < 0 {
		kb.TotalChunks = 0
	}
	if err := s.Store.UpdateKnowledgeBase(ctx, kb); err != nil {
		log.Warn().Err(err).Str("knowledge_base_id", kbID).Msg("kb_counters_update_failed")
	}
}

// IngestDocumentParams is the input to IngestDocument: a binary upload that
// requires extraction (optionally via OCR) before it has text content.
type IngestDocumentParams struct {
	KnowledgeBaseID  string
	PluginName       string
	UserID           string
	Bytes            []byte
	Filename         string
	MimeType         string
	FileType         string
	SourceID         string
	Title            string
	SourceURL        string
	SourceModifiedAt *time.Time
	SourceHash       string
	ForceReingest    bool
	OCRMode          textextract.Mode
}

// IngestDocument creates or updates a Document from raw uploaded bytes,
// stages the bytes for the OCR stage handler, and enqueues INGESTION_OCR
// (spec.md §4.7.1).
func (s *Service) IngestDocument(ctx context.Context, p IngestDocumentParams) (Result, error) {
	sourceType := sourceTypeFor(p.PluginName)
	hash := p.SourceHash
	if hash == "" {
		hash = bytesHash(p.Bytes)
	}

	outcome, err := s.checkIdempotency(ctx, p.KnowledgeBaseID, sourceType, p.SourceID, hash, p.SourceHash != "", p.ForceReingest)
	if err != nil {
		return Result{}, err
	}
	if outcome.skip {
		return Result{DocumentID: outcome.existing.ID, Skipped: true, SkipReason: outcome.skipReason}, nil
	}

	doc := ragmodel.Document{
		ID:               uuid.NewString(),
		KnowledgeBaseID:  p.KnowledgeBaseID,
		SourceType:       sourceType,
		SourceID:         p.SourceID,
		Title:            p.Title,
		FileType:         p.FileType,
		FileSize:         int64(len(p.Bytes)),
		MimeType:         p.MimeType,
		ContentHash:      bytesHash(p.Bytes),
		SourceHash:       p.SourceHash,
		ProcessingStatus: ragmodel.StatusPending,
		SourceURL:        p.SourceURL,
		SourceModifiedAt: p.SourceModifiedAt,
		CreatedAt:        now(),
		UpdatedAt:        now(),
	}
	if outcome.found {
		doc.ID = outcome.existing.ID
		doc.ChunkCount = outcome.existing.ChunkCount
		doc.ProcessingStatus = ragmodel.StatusPending
		doc.ProcessingError = ""
		doc.Extraction = ragmodel.ExtractionMeta{}
		if err := s.Store.UpdateDocument(ctx, doc); err != nil {
			return Result{}, err
		}
	} else {
		if _, err := s.Store.CreateDocument(ctx, doc); err != nil {
			return Result{}, err
		}
		s.adjustKnowledgeBaseCounters(ctx, doc.KnowledgeBaseID, 1, 0)
	}

	stagingKey, err := s.Staging.Stage(ctx, doc.ID, p.Bytes)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.ConnectionFailure, "staging_write_failed", "could not stage upload bytes", err)
	}

	_, err = workload.EnqueueJob(ctx, s.Queue, workload.IngestionOCR, map[string]any{
		"action":            "extract_text",
		"document_id":       doc.ID,
		"knowledge_base_id": doc.KnowledgeBaseID,
		"filename":          p.Filename,
		"mime_type":         p.MimeType,
		"source_id":         p.SourceID,
		"staging_key":       stagingKey,
		"ocr_mode":          string(p.OCRMode),
	}, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{DocumentID: doc.ID}, nil
}

// IngestTextParams is the input to IngestText: content is already text, so
// the OCR stage is skipped entirely.
type IngestTextParams struct {
	KnowledgeBaseID  string
	PluginName       string
	UserID           string
	Title            string
	Content          string
	SourceID         string
	FileType         string
	SourceURL        string
	SourceModifiedAt *time.Time
	SourceHash       string
	ForceReingest    bool
}

// IngestText creates or updates a Document with content already populated
// and enqueues INGESTION_EMBED directly (spec.md §4.7.1).
func (s *Service) IngestText(ctx context.Context, p IngestTextParams) (Result, error) {
	return s.ingestTextLike(ctx, p.KnowledgeBaseID, p.PluginName, p.Title, p.Content, p.SourceID, firstNonEmpty(p.FileType, "text"), p.SourceURL, p.SourceModifiedAt, p.SourceHash, p.ForceReingest)
}

// IngestThreadParams is the input to IngestThread: a conversation thread
// treated like text content, keyed by thread_id.
type IngestThreadParams struct {
	KnowledgeBaseID string
	PluginName      string
	UserID          string
	Title           string
	Content         string
	ThreadID        string
	SourceHash      string
	ForceReingest   bool
}

// IngestThread is IngestText specialized to file_type="thread" and
// source_id=thread_id (spec.md §4.7.1).
func (s *Service) IngestThread(ctx context.Context, p IngestThreadParams) (Result, error) {
	return s.ingestTextLike(ctx, p.KnowledgeBaseID, p.PluginName, p.Title, p.Content, p.ThreadID, "thread", "", nil, p.SourceHash, p.ForceReingest)
}

func (s *Service) ingestTextLike(ctx context.Context, kbID, pluginName, title, content, sourceID, fileType, sourceURL string, sourceModifiedAt *time.Time, sourceHash string, forceReingest bool) (Result, error) {
	sourceType := sourceTypeFor(pluginName)
	hash := sourceHash
	hasSourceHash := sourceHash != ""
	if hash == "" {
		hash = contentHash(content)
	}

	outcome, err := s.checkIdempotency(ctx, kbID, sourceType, sourceID, hash, hasSourceHash, forceReingest)
	if err != nil {
		return Result{}, err
	}
	if outcome.skip {
		return Result{DocumentID: outcome.existing.ID, Skipped: true, SkipReason: outcome.skipReason}, nil
	}

	doc := ragmodel.Document{
		ID:               uuid.NewString(),
		KnowledgeBaseID:  kbID,
		SourceType:       sourceType,
		SourceID:         sourceID,
		Title:            title,
		FileType:         fileType,
		Content:          content,
		FileSize:         int64(len(content)),
		MimeType:         "text/plain",
		ContentHash:      contentHash(content),
		SourceHash:       sourceHash,
		ProcessingStatus: ragmodel.StatusPending,
		SourceURL:        sourceURL,
		SourceModifiedAt: sourceModifiedAt,
		CreatedAt:        now(),
		UpdatedAt:        now(),
	}
	if outcome.found {
		doc.ID = outcome.existing.ID
		doc.ChunkCount = outcome.existing.ChunkCount
		doc.ProcessingError = ""
		doc.Extraction = ragmodel.ExtractionMeta{}
		if err := s.Store.UpdateDocument(ctx, doc); err != nil {
			return Result{}, err
		}
	} else {
		if _, err := s.Store.CreateDocument(ctx, doc); err != nil {
			return Result{}, err
		}
		s.adjustKnowledgeBaseCounters(ctx, doc.KnowledgeBaseID, 1, 0)
	}

	_, err = workload.EnqueueJob(ctx, s.Queue, workload.IngestionEmbed, map[string]any{
		"action":            "embed_document",
		"document_id":       doc.ID,
		"knowledge_base_id": doc.KnowledgeBaseID,
	}, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{DocumentID: doc.ID}, nil
}

// IngestEmailParams is the input to IngestEmail.
type IngestEmailParams struct {
	KnowledgeBaseID string
	PluginName      string
	UserID          string
	Subject         string
	Sender          string
	Recipients      []string
	Date            time.Time
	MessageID       string
	ThreadID        string
	BodyText        string
	BodyHTML        string
	Labels          []string
	ForceReingest   bool
}

// IngestEmail builds a canonical header+body string, stores the document,
// embeds synchronously (since content is already text and typically
// small), then enqueues profiling if enabled (spec.md §4.7.1).
func (s *Service) IngestEmail(ctx context.Context, p IngestEmailParams) (Result, error) {
	content := buildEmailCanonicalForm(p)
	sourceType := sourceTypeFor(p.PluginName)
	hash := contentHash(content)

	outcome, err := s.checkIdempotency(ctx, p.KnowledgeBaseID, sourceType, p.MessageID, hash, false, p.ForceReingest)
	if err != nil {
		return Result{}, err
	}
	if outcome.skip {
		return Result{DocumentID: outcome.existing.ID, Skipped: true, SkipReason: outcome.skipReason}, nil
	}

	doc := ragmodel.Document{
		ID:               uuid.NewString(),
		KnowledgeBaseID:  p.KnowledgeBaseID,
		SourceType:       sourceType,
		SourceID:         p.MessageID,
		Title:            p.Subject,
		FileType:         "email",
		Content:          content,
		FileSize:         int64(len(content)),
		MimeType:         "message/rfc822",
		ContentHash:      hash,
		ProcessingStatus: ragmodel.StatusEmbedding,
		CreatedAt:        now(),
		UpdatedAt:        now(),
	}
	if outcome.found {
		doc.ID = outcome.existing.ID
		doc.ChunkCount = outcome.existing.ChunkCount
	}
	var err2 error
	if outcome.found {
		err2 = s.Store.UpdateDocument(ctx, doc)
	} else {
		_, err2 = s.Store.CreateDocument(ctx, doc)
	}
	if err2 != nil {
		return Result{}, err2
	}
	if !outcome.found {
		s.adjustKnowledgeBaseCounters(ctx, doc.KnowledgeBaseID, 1, 0)
	}

	kb, err := s.Store.GetKnowledgeBase(ctx, p.KnowledgeBaseID)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.NotFound, "kb_not_found", "knowledge base not found", err)
	}
	if _, err := s.embedAndReplaceChunks(ctx, kb, &doc); err != nil {
		doc.ProcessingStatus = ragmodel.StatusError
		doc.ProcessingError = err.Error()
		_ = s.Store.UpdateDocument(ctx, doc)
		return Result{}, err
	}

	if s.Cfg.ProfilingEnabled {
		doc.ProcessingStatus = ragmodel.StatusProfiling
		if err := s.Store.UpdateDocument(ctx, doc); err != nil {
			return Result{}, err
		}
		if _, err := workload.EnqueueJob(ctx, s.Queue, workload.Profiling, map[string]any{
			"action":      "profile_document",
			"document_id": doc.ID,
		}, nil); err != nil {
			return Result{}, err
		}
	} else {
		doc.ProcessingStatus = ragmodel.StatusProcessed
		doc.ProcessedAt = timePtr(now())
		if err := s.Store.UpdateDocument(ctx, doc); err != nil {
			return Result{}, err
		}
	}
	return Result{DocumentID: doc.ID}, nil
}

func buildEmailCanonicalForm(p IngestEmailParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", p.Sender)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(p.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", p.Subject)
	fmt.Fprintf(&b, "Date: %s\n", p.Date.UTC().Format(time.RFC1123Z))
	if len(p.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(p.Labels, ", "))
	}
	b.WriteString("\n")
	if p.BodyText != "" {
		b.WriteString(p.BodyText)
	} else {
		b.WriteString(p.BodyHTML)
	}
	return b.String()
}

// DeleteDocumentParams is the input to DeleteDocument.
type DeleteDocumentParams struct {
	KnowledgeBaseID string
	DocumentID      string
}

// DeleteDocument is the ad-hoc, manual-upload-only deletion path (spec.md
// §4.7.6): it deletes the document and subtracts its captured
// document_count/total_chunks contribution from the owning knowledge base.
// Feed-ingested documents (source_type "plugin:...") can only be removed
// through their owning feed's lifecycle — see
// pluginhost.Host.KBDeleteKO/KBDeleteKOsBatch — never through this path.
func (s *Service) DeleteDocument(ctx context.Context, p DeleteDocumentParams) error {
	doc, err := s.Store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return err
	}
	if doc.KnowledgeBaseID != p.KnowledgeBaseID {
		return errkind.New(errkind.NotFound, "document_not_in_kb", "document does not belong to this knowledge base")
	}
	if strings.HasPrefix(doc.SourceType, "plugin:") {
		return errkind.New(errkind.AccessDenied, "feed_document_delete_not_allowed", "feed-ingested documents can only be deleted through their owning feed's lifecycle")
	}
	if err := s.Store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	s.adjustKnowledgeBaseCounters(ctx, doc.KnowledgeBaseID, -1, -doc.ChunkCount)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func timePtr(t time.Time) *time.Time { return &t }
