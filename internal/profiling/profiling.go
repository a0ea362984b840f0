// Package profiling implements the Profiling Orchestrator (C8): a
// two-phase, per-document LLM enrichment pass that produces chunk
// summaries/keywords/topics, then a document-level synopsis,
// classification, capability manifest, and synthesized queries
// (spec.md §4.8). Grounded on the teacher's internal/rag profiling-style
// batch-then-reduce shape and its LLM provider dispatch.
package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ragcore/internal/embedder"
	"ragcore/internal/llmclient"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/telemetry"
)

// Config tunes the orchestrator's batching and token caps.
type Config struct {
	ChunkBatchSize   int           // default 10
	MaxInputTokens   int           // profiling_max_input_tokens
	FullDocMaxTokens int           // profiling_full_doc_max_tokens
	Model            string
	CallTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkBatchSize <= 0 {
		c.ChunkBatchSize = 10
	}
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = 8000
	}
	if c.FullDocMaxTokens <= 0 {
		c.FullDocMaxTokens = 4000
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// Orchestrator runs ProfileDocument for one document at a time; callers
// (the PROFILING stage handler, C7) serialize per-document calls and cap
// process-wide concurrency via the shared capacity limiter.
type Orchestrator struct {
	store    ragstore.Store
	llm      llmclient.LLMClient
	embedder embedder.Embedder
	cfg      Config

	// Telemetry records each document's profiling coverage percentage
	// (spec.md's telemetry ambient-stack bullet). A nil Telemetry is a
	// silent no-op.
	Telemetry *telemetry.Metrics
}

func NewOrchestrator(store ragstore.Store, llm llmclient.LLMClient, emb embedder.Embedder, cfg Config) *Orchestrator {
	return &Orchestrator{store: store, llm: llm, embedder: emb, cfg: cfg.withDefaults()}
}

type chunkProfile struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
}

type documentProfile struct {
	Synopsis           string         `json:"synopsis"`
	DocumentType       string         `json:"document_type"`
	CapabilityManifest map[string]any `json:"capability_manifest"`
	SynthesizedQueries []string       `json:"synthesized_queries"`
}

// ProfileDocument runs the two-phase profiling algorithm against document
// documentID and persists every artifact spec.md §4.8 step 5 names.
func (o *Orchestrator) ProfileDocument(ctx context.Context, documentID string) error {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("profiling: load document: %w", err)
	}

	doc.ProfilingStatus = ragmodel.ProfilingInProgress
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("profiling: mark in_progress: %w", err)
	}

	chunks, err := o.store.GetChunks(ctx, documentID)
	if err != nil {
		return o.fail(ctx, doc, fmt.Errorf("profiling: load chunks: %w", err))
	}
	if len(chunks) == 0 {
		return o.fail(ctx, doc, fmt.Errorf("profiling: document has no chunks"))
	}

	results := make(map[int]chunkProfile, len(chunks))
	var failedIdx []int

	for start := 0; start < len(chunks); start += o.cfg.ChunkBatchSize {
		end := start + o.cfg.ChunkBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		profiled, err := o.profileBatch(ctx, batch)
		if err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Int("batch_start", start).Msg("profiling_batch_call_failed")
			for _, c := range batch {
				failedIdx = append(failedIdx, c.ChunkIndex)
			}
			continue
		}
		for i, c := range batch {
			p, ok := profiled[i]
			if !ok || strings.TrimSpace(p.Summary) == "" {
				failedIdx = append(failedIdx, c.ChunkIndex)
				continue
			}
			results[c.ChunkIndex] = p
		}
	}

	if len(failedIdx) > 0 {
		o.retryIndividually(ctx, chunks, failedIdx, results)
	}

	coverage := 0.0
	if len(chunks) > 0 {
		coverage = float64(len(results)) / float64(len(chunks)) * 100
	}
	o.Telemetry.RecordProfilingCoverage(ctx, coverage)

	for _, c := range chunks {
		p, ok := results[c.ChunkIndex]
		if !ok {
			continue
		}
		if err := o.store.UpdateChunkProfile(ctx, c.ID, p.Summary, p.Keywords, p.Topics); err != nil {
			log.Warn().Err(err).Str("chunk_id", c.ID).Msg("profiling_persist_chunk_failed")
		}
	}

	summaries := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if p, ok := results[c.ChunkIndex]; ok {
			summaries = append(summaries, p.Summary)
		}
	}

	docProfile, err := o.profileDocument(ctx, doc, chunks, summaries)
	if err != nil {
		return o.fail(ctx, doc, fmt.Errorf("profiling: document profile call: %w", err))
	}
	if !ragmodel.ValidDocumentType(ragmodel.DocumentType(docProfile.DocumentType)) {
		return o.fail(ctx, doc, fmt.Errorf("profiling: invalid document_type %q", docProfile.DocumentType))
	}

	queries := make([]ragmodel.DocumentQuery, 0, len(docProfile.SynthesizedQueries))
	if o.embedder != nil && len(docProfile.SynthesizedQueries) > 0 {
		vecs, err := o.embedder.Embed(ctx, docProfile.SynthesizedQueries)
		if err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Msg("profiling_query_embed_failed")
		} else {
			for i, q := range docProfile.SynthesizedQueries {
				var vec []float32
				if i < len(vecs) {
					vec = vecs[i]
				}
				queries = append(queries, ragmodel.DocumentQuery{
					ID:              fmt.Sprintf("%s-q%d", documentID, i),
					DocumentID:      documentID,
					KnowledgeBaseID: doc.KnowledgeBaseID,
					QueryText:       q,
					QueryEmbedding:  vec,
				})
			}
		}
	}
	// Query persistence errors are isolated: they never fail the whole
	// document (spec.md §4.8 step 6).
	if err := o.store.ReplaceQueries(ctx, documentID, queries); err != nil {
		log.Warn().Err(err).Str("document_id", documentID).Msg("profiling_query_persist_failed")
	}

	var synopsisEmbedding []float32
	if o.embedder != nil && docProfile.Synopsis != "" {
		if vecs, err := o.embedder.Embed(ctx, []string{docProfile.Synopsis}); err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Msg("profiling_synopsis_embed_failed")
		} else if len(vecs) > 0 {
			synopsisEmbedding = vecs[0]
		}
	}

	doc.Synopsis = docProfile.Synopsis
	doc.SynopsisEmbedding = synopsisEmbedding
	doc.DocumentType = ragmodel.DocumentType(docProfile.DocumentType)
	doc.CapabilityManifest = docProfile.CapabilityManifest
	doc.ProfilingCoveragePct = coverage
	doc.ProfilingStatus = ragmodel.ProfilingComplete
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("profiling: persist document profile: %w", err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, doc ragmodel.Document, cause error) error {
	doc.ProfilingStatus = ragmodel.ProfilingFailed
	doc.ProcessingError = cause.Error()
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("profiling_mark_failed_persist_error")
	}
	return cause
}

// profileBatch issues one LLM call per batch and returns per-chunk results
// keyed by the chunk's position within batch.
func (o *Orchestrator) profileBatch(ctx context.Context, batch []ragmodel.DocumentChunk) (map[int]chunkProfile, error) {
	prompt := buildBatchPrompt(batch)
	text, err := o.llm.Complete(ctx, prompt, o.cfg.Model, o.cfg.CallTimeout)
	if err != nil {
		return nil, err
	}
	var parsed []chunkProfile
	if err := parseJSONBlob(text, &parsed); err != nil {
		return nil, fmt.Errorf("parse batch profile response: %w", err)
	}
	out := make(map[int]chunkProfile, len(parsed))
	for i := range parsed {
		if i >= len(batch) {
			break
		}
		out[i] = parsed[i]
	}
	return out, nil
}

// retryIndividualConcurrency bounds how many single-chunk retry calls run
// at once: each is an independent LLM call, so fanning them out cuts
// latency on documents with many batch-level failures, but an unbounded
// fan-out would defeat the orchestrator's own per-document call budget.
const retryIndividualConcurrency = 4

// retryIndividually recovers from batch-level failures by reprofiling each
// failed chunk one at a time, with adjacent-chunk context (spec.md §4.8
// step 3). Retries run concurrently, bounded by retryIndividualConcurrency,
// since each chunk's LLM call is independent of the others.
func (o *Orchestrator) retryIndividually(ctx context.Context, chunks []ragmodel.DocumentChunk, failedIdx []int, results map[int]chunkProfile) {
	byIndex := make(map[int]ragmodel.DocumentChunk, len(chunks))
	for _, c := range chunks {
		byIndex[c.ChunkIndex] = c
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retryIndividualConcurrency)

	for _, idx := range failedIdx {
		idx := idx
		c, ok := byIndex[idx]
		if !ok {
			continue
		}
		g.Go(func() error {
			var before, after string
			if prev, ok := byIndex[idx-1]; ok {
				before = prev.Content
			}
			if next, ok := byIndex[idx+1]; ok {
				after = next.Content
			}
			prompt := buildSingleChunkPrompt(c, before, after)
			text, err := o.llm.Complete(gctx, prompt, o.cfg.Model, o.cfg.CallTimeout)
			if err != nil {
				log.Warn().Err(err).Str("chunk_id", c.ID).Msg("profiling_chunk_retry_failed")
				return nil
			}
			var p chunkProfile
			if err := parseJSONBlob(text, &p); err != nil || strings.TrimSpace(p.Summary) == "" {
				log.Warn().Err(err).Str("chunk_id", c.ID).Msg("profiling_chunk_retry_unparseable")
				return nil
			}
			mu.Lock()
			results[idx] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) profileDocument(ctx context.Context, doc ragmodel.Document, chunks []ragmodel.DocumentChunk, summaries []string) (documentProfile, error) {
	var prompt string
	if estimateTokens(doc.Content) <= o.cfg.FullDocMaxTokens {
		prompt = buildFullDocPrompt(doc)
	} else {
		prompt = buildSummaryReducePrompt(doc.Title, truncateToTokens(strings.Join(summaries, "\n"), o.cfg.MaxInputTokens))
	}
	text, err := o.llm.Complete(ctx, prompt, o.cfg.Model, o.cfg.CallTimeout)
	if err != nil {
		return documentProfile{}, err
	}
	var dp documentProfile
	if err := parseJSONBlob(text, &dp); err != nil {
		return documentProfile{}, fmt.Errorf("parse document profile response: %w", err)
	}
	return dp, nil
}

// estimateTokens approximates token count as chars/4, matching the
// teacher's chunker heuristic (internal/rag/chunker).
func estimateTokens(s string) int { return len(s) / 4 }

func truncateToTokens(s string, maxTokens int) string {
	maxChars := maxTokens * 4
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}

func buildBatchPrompt(batch []ragmodel.DocumentChunk) string {
	var b strings.Builder
	b.WriteString("For each of the following text chunks, return a JSON array with one object per chunk in order, each shaped as {\"summary\": string, \"keywords\": [string], \"topics\": [string]}. Respond with only the JSON array.\n\n")
	for i, c := range batch {
		fmt.Fprintf(&b, "Chunk %d:\n%s\n\n", i, c.Content)
	}
	return b.String()
}

func buildSingleChunkPrompt(c ragmodel.DocumentChunk, before, after string) string {
	var b strings.Builder
	b.WriteString("Summarize the following chunk, using the surrounding context only for disambiguation. Return a single JSON object shaped as {\"summary\": string, \"keywords\": [string], \"topics\": [string]}. Respond with only the JSON object.\n\n")
	if before != "" {
		fmt.Fprintf(&b, "Preceding context:\n%s\n\n", before)
	}
	fmt.Fprintf(&b, "Chunk:\n%s\n\n", c.Content)
	if after != "" {
		fmt.Fprintf(&b, "Following context:\n%s\n\n", after)
	}
	return b.String()
}

func buildFullDocPrompt(doc ragmodel.Document) string {
	return fmt.Sprintf(
		"Read the following document and return a single JSON object shaped as "+
			"{\"synopsis\": string, \"document_type\": one of narrative|transactional|technical|conversational, "+
			"\"capability_manifest\": object, \"synthesized_queries\": [string]}. Respond with only the JSON object.\n\n"+
			"Title: %s\n\n%s", doc.Title, doc.Content)
}

func buildSummaryReducePrompt(title, summaries string) string {
	return fmt.Sprintf(
		"The following are chunk summaries from one document titled %q. Synthesize a single JSON object shaped as "+
			"{\"synopsis\": string, \"document_type\": one of narrative|transactional|technical|conversational, "+
			"\"capability_manifest\": object, \"synthesized_queries\": [string]}. Respond with only the JSON object.\n\n%s",
		title, summaries)
}

// parseJSONBlob extracts and unmarshals the first JSON value embedded in
// text, tolerating LLM responses wrapped in prose or code fences.
func parseJSONBlob(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON value found in response")
	}
	end := strings.LastIndexAny(trimmed, "}]")
	if end < start {
		return fmt.Errorf("unterminated JSON value in response")
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), v)
}
