// Command mcp-kbsearch exposes the KB Search Service (C11) as an MCP server
// over stdio, so any MCP-capable agent client can run field/operator
// searches against chunks and documents without going through the plugin
// host's sandboxed HTTP surface. Grounded on the teacher's
// internal/mcpclient client-side usage of the same SDK
// (github.com/modelcontextprotocol/go-sdk/mcp, aliased mcppkg), and on
// cmd/run-worker/cmd/run-scheduler's config-load-then-open-infra startup
// shape.
package main

import (
	"context"
	"os"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ragcore/internal/kbsearch"
	"ragcore/internal/ragconfig"
	"ragcore/internal/ragstore"
)

const serverVersion = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("run_mcp_kbsearch_failed")
	}
}

func run() error {
	cfg, err := ragconfig.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)

	ctx := context.Background()

	pool, err := ragstore.OpenPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ragstore.NewPostgres(ctx, pool)
	if err != nil {
		return err
	}
	defer store.Close()

	search := kbsearch.New(store)

	server := mcppkg.NewServer(&mcppkg.Implementation{Name: "ragcore-kbsearch", Version: serverVersion}, nil)
	registerTools(server, search)

	log.Info().Msg("run_mcp_kbsearch_starting")
	return server.Run(ctx, &mcppkg.StdioTransport{})
}

// searchChunksArgs and searchDocumentsArgs mirror kbsearch.Query, flattened
// to JSON-friendly fields for the MCP tool schema (the SDK derives the
// input schema from the Go struct via reflection, so field names here
// become the tool's parameter names directly).
type searchChunksArgs struct {
	KnowledgeBaseIDs []string `json:"knowledge_base_ids" jsonschema:"the knowledge bases to search within"`
	Field            string   `json:"field" jsonschema:"one of content, summary, keywords, topics"`
	Operator         string   `json:"operator" jsonschema:"the operator to apply for the chosen field"`
	Value            any      `json:"value" jsonschema:"the value to match against"`
	Page             int      `json:"page,omitempty" jsonschema:"one-based result page; 0 or omitted means the first page"`
	SortOrder        string   `json:"sort_order,omitempty" jsonschema:"asc or desc, defaults to asc"`
}

type searchDocumentsArgs struct {
	KnowledgeBaseIDs []string `json:"knowledge_base_ids" jsonschema:"the knowledge bases to search within"`
	Field            string   `json:"field" jsonschema:"one of title, content, synopsis, capability_manifest"`
	Operator         string   `json:"operator" jsonschema:"the operator to apply for the chosen field"`
	Value            any      `json:"value" jsonschema:"the value to match against"`
	Page             int      `json:"page,omitempty" jsonschema:"one-based result page; 0 or omitted means the first page"`
	SortOrder        string   `json:"sort_order,omitempty" jsonschema:"asc or desc, defaults to asc"`
}

// chunkHitOut and documentHitOut are the tool's JSON output shapes. They
// flatten kbsearch.ChunkHit/DocumentHit rather than returning the
// ragmodel types directly, keeping the wire contract independent of the
// storage model's field names.
type chunkHitOut struct {
	ChunkID           string `json:"chunk_id"`
	DocumentID        string `json:"document_id"`
	KnowledgeBaseID   string `json:"knowledge_base_id"`
	KnowledgeBaseName string `json:"knowledge_base_name"`
	Content           string `json:"content"`
}

type documentHitOut struct {
	DocumentID        string `json:"document_id"`
	KnowledgeBaseID   string `json:"knowledge_base_id"`
	KnowledgeBaseName string `json:"knowledge_base_name"`
	Title             string `json:"title"`
}

type searchChunksResult struct {
	Hits  []chunkHitOut `json:"hits"`
	Total int           `json:"total"`
}

type searchDocumentsResult struct {
	Hits  []documentHitOut `json:"hits"`
	Total int              `json:"total"`
}

func registerTools(server *mcppkg.Server, search *kbsearch.Service) {
	mcppkg.AddTool(server, &mcppkg.Tool{
		Name:        "kb.search_chunks",
		Description: "Search document chunks across one or more knowledge bases by field and operator (spec.md §4.11).",
	}, func(ctx context.Context, req *mcppkg.CallToolRequest, args searchChunksArgs) (*mcppkg.CallToolResult, searchChunksResult, error) {
		res, err := search.SearchChunks(ctx, kbsearch.Query{
			KnowledgeBaseIDs: args.KnowledgeBaseIDs,
			Field:            args.Field,
			Operator:         args.Operator,
			Value:            args.Value,
			Page:             args.Page,
			SortOrder:        args.SortOrder,
		})
		if err != nil {
			return errResult(err), searchChunksResult{}, nil
		}
		out := searchChunksResult{Hits: make([]chunkHitOut, len(res.Hits)), Total: res.Total}
		for i, h := range res.Hits {
			out.Hits[i] = chunkHitOut{
				ChunkID:           h.Chunk.ID,
				DocumentID:        h.Chunk.DocumentID,
				KnowledgeBaseID:   h.Chunk.KnowledgeBaseID,
				KnowledgeBaseName: h.KnowledgeBaseName,
				Content:           h.Chunk.Content,
			}
		}
		return nil, out, nil
	})

	mcppkg.AddTool(server, &mcppkg.Tool{
		Name:        "kb.search_documents",
		Description: "Search documents across one or more knowledge bases by field and operator (spec.md §4.11).",
	}, func(ctx context.Context, req *mcppkg.CallToolRequest, args searchDocumentsArgs) (*mcppkg.CallToolResult, searchDocumentsResult, error) {
		res, err := search.SearchDocuments(ctx, kbsearch.Query{
			KnowledgeBaseIDs: args.KnowledgeBaseIDs,
			Field:            args.Field,
			Operator:         args.Operator,
			Value:            args.Value,
			Page:             args.Page,
			SortOrder:        args.SortOrder,
		})
		if err != nil {
			return errResult(err), searchDocumentsResult{}, nil
		}
		out := searchDocumentsResult{Hits: make([]documentHitOut, len(res.Hits)), Total: res.Total}
		for i, h := range res.Hits {
			out.Hits[i] = documentHitOut{
				DocumentID:        h.Document.ID,
				KnowledgeBaseID:   h.Document.KnowledgeBaseID,
				KnowledgeBaseName: h.KnowledgeBaseName,
				Title:             h.Document.Title,
			}
		}
		return nil, out, nil
	})
}

// errResult reports a validation failure (unknown field, bad operator, bad
// value shape) as a tool-level error rather than a protocol-level one: the
// calling agent gets the message back as text instead of a dropped
// connection, matching kbsearch's own invalid_field/invalid_operator/
// invalid_value error kinds from spec.md §4.11.
func errResult(err error) *mcppkg.CallToolResult {
	return &mcppkg.CallToolResult{
		IsError: true,
		Content: []mcppkg.Content{&mcppkg.TextContent{Text: err.Error()}},
	}
}

func configureLogging(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
