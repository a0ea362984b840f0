// Package kbsearch implements the KB Search Service (C11): a field-based
// query evaluator over chunks and documents, with operator sets dispatched
// by an explicit field-type map rather than reflection (spec.md §4.11).
// Validation happens here; execution is delegated to ragstore.SearchStore
// once a query is known-safe, so a raw user-supplied field name never
// reaches SQL. Grounded on the teacher's internal/rag query-builder shape,
// adapted from free-form filters to this domain's closed field set.
package kbsearch

import (
	"context"

	"ragcore/internal/errkind"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
)

// fieldType is one of the three operator families spec.md §4.11 defines.
type fieldType string

const (
	fieldText       fieldType = "text"
	fieldJSONArray  fieldType = "json_array"
	fieldJSONObject fieldType = "json_object"
)

// operatorsByType is the explicit, non-reflective map from field type to
// its allowed operators.
var operatorsByType = map[fieldType]map[string]bool{
	fieldText:       {"eq": true, "contains": true, "icontains": true},
	fieldJSONArray:  {"contains": true, "has_key": true, "has_any": true},
	fieldJSONObject: {"contains": true, "has_key": true, "path_contains": true},
}

// chunkFields is the searchable field set for document_chunks.
var chunkFields = map[string]fieldType{
	"content":  fieldText,
	"summary":  fieldText,
	"keywords": fieldJSONArray,
	"topics":   fieldJSONArray,
}

// documentFields is the searchable field set for documents.
var documentFields = map[string]fieldType{
	"title":               fieldText,
	"content":             fieldText,
	"synopsis":            fieldText,
	"capability_manifest": fieldJSONObject,
}

// Query is a caller-supplied field/operator search, scoped to a bound set
// of knowledge bases (the plugin-host context's knowledge_base_ids, or an
// API caller's accessible KBs).
type Query struct {
	KnowledgeBaseIDs []string
	Field            string
	Operator         string
	Value            any
	Page             int
	SortOrder        string // asc or desc
}

// ChunkHit is one matching chunk with its owning KB's resolved name.
type ChunkHit struct {
	Chunk             ragmodel.DocumentChunk
	KnowledgeBaseName string
}

// ChunkResult is one page of a chunk search.
type ChunkResult struct {
	Hits  []ChunkHit
	Total int
}

// DocumentHit is one matching document with its owning KB's resolved name.
type DocumentHit struct {
	Document          ragmodel.Document
	KnowledgeBaseName string
}

// DocumentResult is one page of a document search.
type DocumentResult struct {
	Hits  []DocumentHit
	Total int
}

// Service validates field/operator queries and delegates execution to the
// relational store.
type Service struct {
	store ragstore.Store
}

// New returns a Service backed by store.
func New(store ragstore.Store) *Service {
	return &Service{store: store}
}

func errInvalidField(field string) error {
	return errkind.New(errkind.InvalidInput, "invalid_field", "unknown searchable field: "+field)
}

func errInvalidOperator(field, op string) error {
	return errkind.New(errkind.InvalidInput, "invalid_operator", "operator "+op+" is not valid for field "+field)
}

func errInvalidValue(field string) error {
	return errkind.New(errkind.InvalidInput, "invalid_value", "value is not valid for field "+field)
}

// validate resolves field against fields, checks the operator is allowed
// for the field's type, and does a light value-shape check. It returns no
// column name: callers already know it, since spec.md's searchable field
// names are used verbatim as the store's column names.
func validate(fields map[string]fieldType, field, operator string, value any) error {
	ft, ok := fields[field]
	if !ok {
		return errInvalidField(field)
	}
	if !operatorsByType[ft][operator] {
		return errInvalidOperator(field, operator)
	}
	switch ft {
	case fieldJSONArray:
		if operator == "has_any" {
			if _, ok := value.([]string); !ok {
				return errInvalidValue(field)
			}
		}
	case fieldText:
		if _, ok := value.(string); !ok {
			return errInvalidValue(field)
		}
	}
	return nil
}

func toSearchQuery(q Query, column string) ragstore.SearchQuery {
	return ragstore.SearchQuery{
		KnowledgeBaseIDs: q.KnowledgeBaseIDs,
		Column:           column,
		Operator:         q.Operator,
		Value:            q.Value,
		Page:             q.Page,
		SortOrder:        q.SortOrder,
	}
}

// SearchChunks validates q against the chunk field set and runs it.
func (s *Service) SearchChunks(ctx context.Context, q Query) (ChunkResult, error) {
	if err := validate(chunkFields, q.Field, q.Operator, q.Value); err != nil {
		return ChunkResult{}, err
	}
	res, err := s.store.SearchChunks(ctx, toSearchQuery(q, q.Field))
	if err != nil {
		return ChunkResult{}, err
	}
	hits := make([]ChunkHit, len(res.Chunks))
	names := s.kbNames(ctx, res.Chunks)
	for i, c := range res.Chunks {
		hits[i] = ChunkHit{Chunk: c, KnowledgeBaseName: names[c.KnowledgeBaseID]}
	}
	return ChunkResult{Hits: hits, Total: res.Total}, nil
}

// SearchDocuments validates q against the document field set and runs it.
func (s *Service) SearchDocuments(ctx context.Context, q Query) (DocumentResult, error) {
	if err := validate(documentFields, q.Field, q.Operator, q.Value); err != nil {
		return DocumentResult{}, err
	}
	res, err := s.store.SearchDocuments(ctx, toSearchQuery(q, q.Field))
	if err != nil {
		return DocumentResult{}, err
	}
	hits := make([]DocumentHit, len(res.Documents))
	names := s.documentKBNames(ctx, res.Documents)
	for i, d := range res.Documents {
		hits[i] = DocumentHit{Document: d, KnowledgeBaseName: names[d.KnowledgeBaseID]}
	}
	return DocumentResult{Hits: hits, Total: res.Total}, nil
}

// GetDocument fetches a single document, scoped to boundKBs. Returns a
// not_found error if the document exists but isn't in a bound KB, the same
// as if it didn't exist, so plugin code can't probe for IDs outside its
// bound set.
func (s *Service) GetDocument(ctx context.Context, documentID string, boundKBs []string) (ragmodel.Document, error) {
	d, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return ragmodel.Document{}, err
	}
	if !contains(boundKBs, d.KnowledgeBaseID) {
		return ragmodel.Document{}, errkind.New(errkind.NotFound, "not_found", "document not found")
	}
	return d, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// kbNames resolves each distinct knowledge_base_id among chunks to its KB
// name, tolerating lookup failures by leaving the name blank rather than
// failing the whole search.
func (s *Service) kbNames(ctx context.Context, chunks []ragmodel.DocumentChunk) map[string]string {
	ids := map[string]bool{}
	for _, c := range chunks {
		ids[c.KnowledgeBaseID] = true
	}
	return s.resolveNames(ctx, ids)
}

func (s *Service) documentKBNames(ctx context.Context, docs []ragmodel.Document) map[string]string {
	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.KnowledgeBaseID] = true
	}
	return s.resolveNames(ctx, ids)
}

func (s *Service) resolveNames(ctx context.Context, ids map[string]bool) map[string]string {
	names := make(map[string]string, len(ids))
	for id := range ids {
		kb, err := s.store.GetKnowledgeBase(ctx, id)
		if err != nil {
			continue
		}
		names[id] = kb.Name
	}
	return names
}
