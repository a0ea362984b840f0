package ragstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"ragcore/internal/ragmodel"
)

func (p *Postgres) GetKnowledgeBase(ctx context.Context, id string) (ragmodel.KnowledgeBase, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, description, sync_enabled, embedding_model, chunk_size,
		       chunk_overlap, status, document_count, total_chunks, owner_id,
		       rag_config, title_chunk_enabled
		FROM knowledge_bases WHERE id = $1`, id)
	kb, err := scanKnowledgeBase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ragmodel.KnowledgeBase{}, ErrNotFound
	}
	return kb, err
}

func (p *Postgres) CreateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) (ragmodel.KnowledgeBase, error) {
	if kb.Status == "" {
		kb.Status = ragmodel.KBActive
	}
	if kb.RAGConfig == nil {
		kb.RAGConfig = map[string]any{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO knowledge_bases
			(id, name, description, sync_enabled, embedding_model, chunk_size,
			 chunk_overlap, status, document_count, total_chunks, owner_id,
			 rag_config, title_chunk_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		kb.ID, kb.Name, kb.Description, kb.SyncEnabled, kb.EmbeddingModel, kb.ChunkSize,
		kb.ChunkOverlap, kb.Status, kb.DocumentCount, kb.TotalChunks, kb.OwnerID,
		kb.RAGConfig, kb.TitleChunkEnabled)
	if err != nil {
		return ragmodel.KnowledgeBase{}, err
	}
	return kb, nil
}

func (p *Postgres) UpdateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE knowledge_bases SET
			name=$2, description=$3, sync_enabled=$4, embedding_model=$5,
			chunk_size=$6, chunk_overlap=$7, status=$8, document_count=$9,
			total_chunks=$10, owner_id=$11, rag_config=$12, title_chunk_enabled=$13
		WHERE id=$1`,
		kb.ID, kb.Name, kb.Description, kb.SyncEnabled, kb.EmbeddingModel,
		kb.ChunkSize, kb.ChunkOverlap, kb.Status, kb.DocumentCount, kb.TotalChunks,
		kb.OwnerID, kb.RAGConfig, kb.TitleChunkEnabled)
	return err
}

// DeleteKnowledgeBase relies on ON DELETE CASCADE across documents, chunks,
// and queries — a knowledge base exclusively owns them (spec.md §3).
func (p *Postgres) DeleteKnowledgeBase(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id=$1`, id)
	return err
}

func scanKnowledgeBase(row pgx.Row) (ragmodel.KnowledgeBase, error) {
	var kb ragmodel.KnowledgeBase
	err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.SyncEnabled, &kb.EmbeddingModel,
		&kb.ChunkSize, &kb.ChunkOverlap, &kb.Status, &kb.DocumentCount, &kb.TotalChunks,
		&kb.OwnerID, &kb.RAGConfig, &kb.TitleChunkEnabled)
	return kb, err
}
