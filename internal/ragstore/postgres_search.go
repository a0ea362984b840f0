package ragstore

import (
	"context"
	"fmt"

	"ragcore/internal/ragmodel"
)

// buildSearchCondition renders the SQL fragment and argument for one
// resolved (column, operator) pair. column is never raw user input: it is
// resolved from internal/kbsearch's explicit field-type map before a
// SearchQuery reaches this layer, so interpolating it directly is safe.
func buildSearchCondition(column, operator string, value any, argIndex int) (string, any, error) {
	switch operator {
	case "eq":
		return fmt.Sprintf("%s = $%d", column, argIndex), value, nil
	case "contains":
		// Works for both a TEXT column (substring match) and a TEXT[]
		// column (array element match): Postgres dispatches LIKE vs ANY
		// based on the column's declared type, so the same fragment shape
		// serves text and JSON-array fields alike.
		if s, ok := value.(string); ok {
			return fmt.Sprintf("%s LIKE '%%' || $%d || '%%'", column, argIndex), s, nil
		}
		return fmt.Sprintf("%s @> $%d::jsonb", column, argIndex), value, nil
	case "icontains":
		return fmt.Sprintf("%s ILIKE '%%' || $%d || '%%'", column, argIndex), value, nil
	case "has_key":
		return fmt.Sprintf("%s ? $%d", column, argIndex), value, nil
	case "has_any":
		return fmt.Sprintf("%s && $%d", column, argIndex), value, nil
	case "path_contains":
		return fmt.Sprintf("%s @> $%d::jsonb", column, argIndex), value, nil
	default:
		return "", nil, fmt.Errorf("ragstore: unsupported search operator %q", operator)
	}
}

// SearchChunks evaluates a pre-validated field/operator query over
// document_chunks, scoped to q.KnowledgeBaseIDs (spec.md §4.11).
func (p *Postgres) SearchChunks(ctx context.Context, q SearchQuery) (ChunkSearchResult, error) {
	page, pageSize := pageParams(q.Page, q.PageSize)
	sortOrder := sortDirection(q.SortOrder)

	where := "knowledge_base_id = ANY($1)"
	cond, arg, err := buildSearchCondition(q.Column, q.Operator, q.Value, 2)
	if err != nil {
		return ChunkSearchResult{}, err
	}
	where += " AND " + cond
	args := []any{q.KnowledgeBaseIDs, arg}

	var total int
	countSQL := `SELECT count(*) FROM document_chunks WHERE ` + where
	if err := p.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return ChunkSearchResult{}, err
	}

	selectSQL := fmt.Sprintf(`
		SELECT id, document_id, knowledge_base_id, chunk_index, content, char_count,
		       word_count, start_char, end_char, embedding_model, embedding_created_at,
		       chunk_metadata, chunk_type, summary, keywords, topics
		FROM document_chunks WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`, where, q.Column, sortOrder, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := p.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return ChunkSearchResult{}, err
	}
	defer rows.Close()

	var out []ragmodel.DocumentChunk
	for rows.Next() {
		var c ragmodel.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.KnowledgeBaseID, &c.ChunkIndex, &c.Content,
			&c.CharCount, &c.WordCount, &c.StartChar, &c.EndChar, &c.EmbeddingModel,
			&c.EmbeddingCreatedAt, &c.ChunkMetadata, &c.ChunkType, &c.Summary, &c.Keywords, &c.Topics); err != nil {
			return ChunkSearchResult{}, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return ChunkSearchResult{}, err
	}
	return ChunkSearchResult{Chunks: out, Total: total}, nil
}

// SearchDocuments evaluates a pre-validated field/operator query over
// documents, scoped to q.KnowledgeBaseIDs.
func (p *Postgres) SearchDocuments(ctx context.Context, q SearchQuery) (DocumentSearchResult, error) {
	page, pageSize := pageParams(q.Page, q.PageSize)
	sortOrder := sortDirection(q.SortOrder)

	where := "knowledge_base_id = ANY($1)"
	cond, arg, err := buildSearchCondition(q.Column, q.Operator, q.Value, 2)
	if err != nil {
		return DocumentSearchResult{}, err
	}
	where += " AND " + cond
	args := []any{q.KnowledgeBaseIDs, arg}

	var total int
	countSQL := `SELECT count(*) FROM documents WHERE ` + where
	if err := p.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return DocumentSearchResult{}, err
	}

	selectSQL := fmt.Sprintf(`
		SELECT %s FROM documents WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`, selectDocumentColumns, where, q.Column, sortOrder, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := p.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return DocumentSearchResult{}, err
	}
	defer rows.Close()

	var out []ragmodel.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return DocumentSearchResult{}, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return DocumentSearchResult{}, err
	}
	return DocumentSearchResult{Documents: out, Total: total}, nil
}

const searchPageSize = 20

func pageParams(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = searchPageSize
	}
	return page, pageSize
}

func sortDirection(order string) string {
	if order == "desc" {
		return "DESC"
	}
	return "ASC"
}
