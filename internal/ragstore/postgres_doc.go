package ragstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"ragcore/internal/ragmodel"
)

const documentColumns = `
	id, knowledge_base_id, source_type, source_id, title, file_type, file_size,
	mime_type, content, content_hash, source_hash, processing_status,
	processing_error, extraction_meta, source_url, source_modified_at,
	processed_at, word_count, character_count, chunk_count, synopsis,
	synopsis_embedding, document_type, capability_manifest, profiling_status,
	profiling_coverage_percent, relational_context, created_at, updated_at`

// selectDocumentColumns is documentColumns plus an explicit text cast on
// the vector column, since pgx has no default scan conversion for the
// pgvector type straight into a Go string.
const selectDocumentColumns = `
	id, knowledge_base_id, source_type, source_id, title, file_type, file_size,
	mime_type, content, content_hash, source_hash, processing_status,
	processing_error, extraction_meta, source_url, source_modified_at,
	processed_at, word_count, character_count, chunk_count, synopsis,
	synopsis_embedding::text, document_type, capability_manifest, profiling_status,
	profiling_coverage_percent, relational_context, created_at, updated_at`

func (p *Postgres) GetDocument(ctx context.Context, id string) (ragmodel.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectDocumentColumns+` FROM documents WHERE id=$1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ragmodel.Document{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) FindBySource(ctx context.Context, kbID, sourceType, sourceID string) (ragmodel.Document, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+selectDocumentColumns+` FROM documents
		WHERE knowledge_base_id=$1 AND source_type=$2 AND source_id=$3`,
		kbID, sourceType, sourceID)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ragmodel.Document{}, false, nil
	}
	if err != nil {
		return ragmodel.Document{}, false, err
	}
	return d, true, nil
}

func (p *Postgres) CreateDocument(ctx context.Context, d ragmodel.Document) (ragmodel.Document, error) {
	if d.ProcessingStatus == "" {
		d.ProcessingStatus = ragmodel.StatusPending
	}
	if d.ProfilingStatus == "" {
		d.ProfilingStatus = ragmodel.ProfilingPending
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
		        $20,$21,$22::vector,$23,$24,$25,$26,$27,$28,$29)`,
		d.ID, d.KnowledgeBaseID, d.SourceType, d.SourceID, d.Title, d.FileType, d.FileSize,
		d.MimeType, d.Content, d.ContentHash, d.SourceHash, d.ProcessingStatus,
		d.ProcessingError, d.Extraction, d.SourceURL, d.SourceModifiedAt,
		d.ProcessedAt, d.WordCount, d.CharacterCount, d.ChunkCount, d.Synopsis,
		toVectorLiteral(d.SynopsisEmbedding), d.DocumentType, d.CapabilityManifest, d.ProfilingStatus,
		d.ProfilingCoveragePct, d.RelationalContext, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return ragmodel.Document{}, err
	}
	return d, nil
}

func (p *Postgres) UpdateDocument(ctx context.Context, d ragmodel.Document) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE documents SET
			title=$2, file_type=$3, file_size=$4, mime_type=$5, content=$6,
			content_hash=$7, source_hash=$8, processing_status=$9, processing_error=$10,
			extraction_meta=$11, source_url=$12, source_modified_at=$13, processed_at=$14,
			word_count=$15, character_count=$16, chunk_count=$17, synopsis=$18,
			synopsis_embedding=$19::vector, document_type=$20, capability_manifest=$21,
			profiling_status=$22, profiling_coverage_percent=$23, relational_context=$24,
			updated_at=now()
		WHERE id=$1`,
		d.ID, d.Title, d.FileType, d.FileSize, d.MimeType, d.Content,
		d.ContentHash, d.SourceHash, d.ProcessingStatus, d.ProcessingError,
		d.Extraction, d.SourceURL, d.SourceModifiedAt, d.ProcessedAt,
		d.WordCount, d.CharacterCount, d.ChunkCount, d.Synopsis,
		toVectorLiteral(d.SynopsisEmbedding), d.DocumentType, d.CapabilityManifest,
		d.ProfilingStatus, d.ProfilingCoveragePct, d.RelationalContext)
	return err
}

func (p *Postgres) DeleteDocument(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	return err
}

// ReplaceChunks deletes all existing chunks for documentID and inserts the
// new set in a single transaction, used on re-embedding/re-profiling.
func (p *Postgres) ReplaceChunks(ctx context.Context, documentID string, chunks []ragmodel.DocumentChunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return err
	}
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_chunks
				(id, document_id, knowledge_base_id, chunk_index, content, embedding,
				 char_count, word_count, start_char, end_char, embedding_model,
				 embedding_created_at, chunk_metadata, chunk_type, summary, keywords, topics)
			VALUES ($1,$2,$3,$4,$5,$6::vector,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			c.ID, c.DocumentID, c.KnowledgeBaseID, c.ChunkIndex, c.Content,
			toVectorLiteral(c.Embedding), c.CharCount, c.WordCount, c.StartChar, c.EndChar,
			c.EmbeddingModel, c.EmbeddingCreatedAt, c.ChunkMetadata, c.ChunkType,
			c.Summary, c.Keywords, c.Topics)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetChunks(ctx context.Context, documentID string) ([]ragmodel.DocumentChunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, knowledge_base_id, chunk_index, content, char_count,
		       word_count, start_char, end_char, embedding_model, embedding_created_at,
		       chunk_metadata, chunk_type, summary, keywords, topics
		FROM document_chunks WHERE document_id=$1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ragmodel.DocumentChunk
	for rows.Next() {
		var c ragmodel.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.KnowledgeBaseID, &c.ChunkIndex, &c.Content,
			&c.CharCount, &c.WordCount, &c.StartChar, &c.EndChar, &c.EmbeddingModel,
			&c.EmbeddingCreatedAt, &c.ChunkMetadata, &c.ChunkType, &c.Summary, &c.Keywords, &c.Topics); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateChunkProfile(ctx context.Context, chunkID, summary string, keywords, topics []string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE document_chunks SET summary=$2, keywords=$3, topics=$4 WHERE id=$1`,
		chunkID, summary, keywords, topics)
	return err
}

// ReplaceQueries always issues the DELETE even when the new set is empty,
// so a re-profile with zero synthesized queries still clears the prior set
// (spec.md §4.8 step 5).
func (p *Postgres) ReplaceQueries(ctx context.Context, documentID string, queries []ragmodel.DocumentQuery) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_queries WHERE document_id=$1`, documentID); err != nil {
		return err
	}
	for _, q := range queries {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_queries (id, document_id, knowledge_base_id, query_text, query_embedding)
			VALUES ($1,$2,$3,$4,$5::vector)`,
			q.ID, q.DocumentID, q.KnowledgeBaseID, q.QueryText, toVectorLiteral(q.QueryEmbedding))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanDocument(row pgx.Row) (ragmodel.Document, error) {
	var d ragmodel.Document
	var embeddingLit *string
	err := row.Scan(&d.ID, &d.KnowledgeBaseID, &d.SourceType, &d.SourceID, &d.Title,
		&d.FileType, &d.FileSize, &d.MimeType, &d.Content, &d.ContentHash, &d.SourceHash,
		&d.ProcessingStatus, &d.ProcessingError, &d.Extraction, &d.SourceURL,
		&d.SourceModifiedAt, &d.ProcessedAt, &d.WordCount, &d.CharacterCount,
		&d.ChunkCount, &d.Synopsis, &embeddingLit, &d.DocumentType, &d.CapabilityManifest,
		&d.ProfilingStatus, &d.ProfilingCoveragePct, &d.RelationalContext, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return ragmodel.Document{}, err
	}
	d.SynopsisEmbedding = parseVectorLiteral(embeddingLit)
	return d, nil
}

// toVectorLiteral renders a float32 vector as the pgvector text literal
// ("[0.1,0.2,...]"), matching the teacher's postgres_vector.go encoding.
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(lit *string) []float32 {
	if lit == nil {
		return nil
	}
	s := strings.Trim(*lit, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		fmt.Sscanf(strings.TrimSpace(p), "%g", &f)
		out = append(out, float32(f))
	}
	return out
}
