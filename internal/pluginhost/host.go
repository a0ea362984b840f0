package pluginhost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"ragcore/internal/errkind"
	"ragcore/internal/ingestion"
	"ragcore/internal/kbsearch"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/ratelimit"
)

// AccessChecker re-verifies RBAC access to a knowledge base for a user.
// The concrete RBAC system lives outside this package's scope, mirroring
// internal/scheduler's PluginRegistry seam; AllowAllAccess is the
// zero-dependency default for tests and single-tenant deployments.
type AccessChecker interface {
	CanAccessKnowledgeBase(ctx context.Context, userID, knowledgeBaseID string) (bool, error)
}

// AllowAllAccess grants every user access to every knowledge base.
type AllowAllAccess struct{}

func (AllowAllAccess) CanAccessKnowledgeBase(context.Context, string, string) (bool, error) {
	return true, nil
}

// Config bounds a Host's rate-limit capacity, shared across every
// capability call the plugin makes during one execution.
type Config struct {
	RateLimit ratelimit.Config
}

// Host is the capability surface bound to one plugin execution's Context,
// per spec.md §4.10. It is constructed fresh for each execution; nothing
// on it outlives a single _handle_plugin_execution_job call.
type Host struct {
	ctx     Context
	cfg     Config
	ingest  *ingestion.Service
	search  *kbsearch.Service
	secrets ragstore.SecretStore
	limiter *ratelimit.Limiter
	access  AccessChecker
	oauth   *TokenRefresher
}

// New builds a Host bound to ctx. oauth may be nil: SecretsGet then
// returns every secret's raw stored value, OAuth2-backed or not.
func New(hostCtx Context, cfg Config, ingest *ingestion.Service, search *kbsearch.Service, secrets ragstore.SecretStore, limiter *ratelimit.Limiter, access AccessChecker, oauth *TokenRefresher) *Host {
	if access == nil {
		access = AllowAllAccess{}
	}
	return &Host{ctx: hostCtx, cfg: cfg, ingest: ingest, search: search, secrets: secrets, limiter: limiter, access: access, oauth: oauth}
}

func (h *Host) boundToKB(kbID string) error {
	for _, id := range h.ctx.KnowledgeBaseIDs {
		if id == kbID {
			return nil
		}
	}
	return errkind.New(errkind.AccessDenied, "kb_not_bound", "knowledge base is not bound to this execution context")
}

// --- kb.ingest ---

// KBIngestDocument wraps ingestion.Service.IngestDocument, fixing
// PluginName/UserID/OCRMode from the bound context (spec.md §4.10: plugins
// cannot pass a different plugin_name or user_id).
func (h *Host) KBIngestDocument(ctx context.Context, p ingestion.IngestDocumentParams) (ingestion.Result, error) {
	if err := h.boundToKB(p.KnowledgeBaseID); err != nil {
		return ingestion.Result{}, err
	}
	p.PluginName, p.UserID, p.OCRMode = h.ctx.PluginName, h.ctx.UserID, h.ctx.OCRMode
	return h.ingest.IngestDocument(ctx, p)
}

// KBIngestText wraps ingestion.Service.IngestText.
func (h *Host) KBIngestText(ctx context.Context, p ingestion.IngestTextParams) (ingestion.Result, error) {
	if err := h.boundToKB(p.KnowledgeBaseID); err != nil {
		return ingestion.Result{}, err
	}
	p.PluginName, p.UserID = h.ctx.PluginName, h.ctx.UserID
	return h.ingest.IngestText(ctx, p)
}

// KBIngestThread wraps ingestion.Service.IngestThread.
func (h *Host) KBIngestThread(ctx context.Context, p ingestion.IngestThreadParams) (ingestion.Result, error) {
	if err := h.boundToKB(p.KnowledgeBaseID); err != nil {
		return ingestion.Result{}, err
	}
	p.PluginName, p.UserID = h.ctx.PluginName, h.ctx.UserID
	return h.ingest.IngestThread(ctx, p)
}

// KBIngestEmail wraps ingestion.Service.IngestEmail.
func (h *Host) KBIngestEmail(ctx context.Context, p ingestion.IngestEmailParams) (ingestion.Result, error) {
	if err := h.boundToKB(p.KnowledgeBaseID); err != nil {
		return ingestion.Result{}, err
	}
	p.PluginName, p.UserID = h.ctx.PluginName, h.ctx.UserID
	return h.ingest.IngestEmail(ctx, p)
}

// --- kb.upsert_knowledge_object ---

// KnowledgeObject is a plugin-sourced unit of content, mapped to a
// Document by KBUpsertKnowledgeObject (spec.md §4.10).
type KnowledgeObject struct {
	ID          string
	Type        string // e.g. "email", "doc", "thread"; maps to a file_type
	Source      map[string]string
	ExternalID  string
	Title       string
	Content     string
	Attributes  map[string]any
	Permissions map[string]any
	Lineage     map[string]any
}

// deterministicKOID computes SHA-256("<plugin>:<account>|<external_id>"),
// the fallback identifier used when a KnowledgeObject arrives without one
// (spec.md §4.10; original_source's knowledge/ko.py:deterministic_ko_id).
func deterministicKOID(plugin, account, externalID string) string {
	sum := sha256.Sum256([]byte(plugin + ":" + account + "|" + externalID))
	return hex.EncodeToString(sum[:])
}

func koFileType(koType string) string {
	switch koType {
	case "email", "eml":
		return "email"
	case "pdf", "docx", "md", "txt", "html":
		return koType
	default:
		return "txt"
	}
}

// UpsertResult reports the resolved KO id alongside the ingest outcome.
type UpsertResult struct {
	ingestion.Result
	KnowledgeObjectID string
}

// KBUpsertKnowledgeObject maps ko onto a Document (source_type
// "plugin:<plugin>", source_id external_id, file_type inferred from
// ko.Type) and invokes the text ingest path. The deterministic ID is
// computed only to give the caller a stable KO identifier to correlate
// future calls by; document identity and idempotency still flow through
// the pipeline's existing (kb, source_type, source_id) + content-hash
// rules, exactly as for any other kb.ingest call.
func (h *Host) KBUpsertKnowledgeObject(ctx context.Context, kbID string, ko KnowledgeObject) (UpsertResult, error) {
	if err := h.boundToKB(kbID); err != nil {
		return UpsertResult{}, err
	}
	koID := ko.ID
	if koID == "" {
		koID = deterministicKOID(h.ctx.PluginName, h.ctx.UserID, ko.ExternalID)
	}
	title := ko.Title
	if title == "" {
		title = ko.ExternalID
	}
	res, err := h.ingest.IngestText(ctx, ingestion.IngestTextParams{
		KnowledgeBaseID: kbID,
		PluginName:      h.ctx.PluginName,
		UserID:          h.ctx.UserID,
		Title:           title,
		Content:         ko.Content,
		SourceID:        ko.ExternalID,
		FileType:        koFileType(ko.Type),
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Result: res, KnowledgeObjectID: koID}, nil
}

// --- kb.delete_ko / kb.delete_kos_batch ---

// KBDeleteKO deletes the document matching (feed's KB, "plugin:<plugin>",
// external_id). Only permitted while running inside a feed: feeds bind
// exactly one KB, and that's the only KB a delete can ever target (spec.md
// §4.10; plugins cannot specify a different KB).
func (h *Host) KBDeleteKO(ctx context.Context, store ragstore.DocumentStore, externalID string) (bool, error) {
	kbID, ok := h.ctx.boundKB()
	if !h.ctx.InFeed() || !ok {
		return false, errkind.New(errkind.AccessDenied, "kb_delete_not_allowed_outside_feed", "kb.delete_ko is only permitted while running inside a feed")
	}
	sourceType := "plugin:" + h.ctx.PluginName
	doc, found, err := store.FindBySource(ctx, kbID, sourceType, externalID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		return false, err
	}
	return true, nil
}

// BatchDeleteResult reports per-id outcomes of KBDeleteKOsBatch.
type BatchDeleteResult struct {
	DeletedCount int
	Failed       []string
}

// KBDeleteKOsBatch deletes multiple KOs by external_id, continuing past
// individual failures and collecting them in Failed rather than aborting
// the batch.
func (h *Host) KBDeleteKOsBatch(ctx context.Context, store ragstore.DocumentStore, externalIDs []string) (BatchDeleteResult, error) {
	if !h.ctx.InFeed() {
		return BatchDeleteResult{}, errkind.New(errkind.AccessDenied, "kb_delete_not_allowed_outside_feed", "kb.delete_kos_batch is only permitted while running inside a feed")
	}
	var out BatchDeleteResult
	for _, id := range externalIDs {
		deleted, err := h.KBDeleteKO(ctx, store, id)
		if err != nil {
			out.Failed = append(out.Failed, id)
			continue
		}
		if deleted {
			out.DeletedCount++
		}
	}
	return out, nil
}

// --- kb.search_chunks / kb.search_documents / kb.get_document ---

// checkAccess re-verifies RBAC access to every bound KB against the bound
// user's current permissions, never trusting a prior check (spec.md
// §4.10: "Each call re-verifies RBAC access").
func (h *Host) checkAccess(ctx context.Context) error {
	if len(h.ctx.KnowledgeBaseIDs) == 0 {
		return errkind.New(errkind.InvalidInput, "no_knowledge_bases", "no knowledge bases are bound to this execution context")
	}
	for _, kbID := range h.ctx.KnowledgeBaseIDs {
		ok, err := h.access.CanAccessKnowledgeBase(ctx, h.ctx.UserID, kbID)
		if err != nil {
			return err
		}
		if !ok {
			return errkind.New(errkind.AccessDenied, "access_denied", "access denied to knowledge base '"+kbID+"'")
		}
	}
	return nil
}

// KBSearchChunks re-verifies RBAC access then delegates to kbsearch.
func (h *Host) KBSearchChunks(ctx context.Context, field, operator string, value any, page int, sortOrder string) (kbsearch.ChunkResult, error) {
	if err := h.checkAccess(ctx); err != nil {
		return kbsearch.ChunkResult{}, err
	}
	return h.search.SearchChunks(ctx, kbsearch.Query{
		KnowledgeBaseIDs: h.ctx.KnowledgeBaseIDs,
		Field:            field,
		Operator:         operator,
		Value:            value,
		Page:             page,
		SortOrder:        sortOrder,
	})
}

// KBSearchDocuments re-verifies RBAC access then delegates to kbsearch.
func (h *Host) KBSearchDocuments(ctx context.Context, field, operator string, value any, page int, sortOrder string) (kbsearch.DocumentResult, error) {
	if err := h.checkAccess(ctx); err != nil {
		return kbsearch.DocumentResult{}, err
	}
	return h.search.SearchDocuments(ctx, kbsearch.Query{
		KnowledgeBaseIDs: h.ctx.KnowledgeBaseIDs,
		Field:            field,
		Operator:         operator,
		Value:            value,
		Page:             page,
		SortOrder:        sortOrder,
	})
}

// KBGetDocument re-verifies RBAC access then fetches a single document,
// scoped to the bound KBs.
func (h *Host) KBGetDocument(ctx context.Context, documentID string) (ragmodel.Document, error) {
	if err := h.checkAccess(ctx); err != nil {
		return ragmodel.Document{}, err
	}
	return h.search.GetDocument(ctx, documentID, h.ctx.KnowledgeBaseIDs)
}

// --- secrets.get / secrets.set ---

const (
	secretScopeSystem = "system"
	secretScopeUser   = "user"
)

// SecretsGet prefers the user scope and falls back to system (spec.md
// §4.10). A secret stored by SecretsSet as an OAuth2 refresh token is
// transparently exchanged for a live access token rather than handed back
// raw, via h.oauth (nil h.oauth returns the stored value unchanged).
func (h *Host) SecretsGet(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := h.secrets.GetSecret(ctx, h.ctx.PluginName, secretScopeUser, h.ctx.UserID, key)
	scope := secretScopeUser
	if err != nil || !ok {
		if err != nil {
			return v, ok, err
		}
		scope = secretScopeSystem
		v, ok, err = h.secrets.GetSecret(ctx, h.ctx.PluginName, secretScopeSystem, "", key)
		if err != nil || !ok {
			return v, ok, err
		}
	}
	if h.oauth == nil {
		return v, ok, nil
	}
	cacheKey := h.ctx.PluginName + ":" + scope + ":" + h.ctx.UserID + ":" + key
	resolved, err := h.oauth.resolveSecret(ctx, cacheKey, v)
	if err != nil {
		return "", false, err
	}
	return resolved, true, nil
}

// SecretsSet writes a secret at scope ("system" or "user"). A "user" scope
// write is always scoped to the bound user_id; plugins cannot set another
// user's secret.
func (h *Host) SecretsSet(ctx context.Context, scope, key, value string) error {
	userID := ""
	switch scope {
	case secretScopeUser:
		userID = h.ctx.UserID
	case secretScopeSystem:
		userID = ""
	default:
		return errkind.New(errkind.InvalidInput, "invalid_scope", "secret scope must be 'system' or 'user'")
	}
	return h.secrets.SetSecret(ctx, h.ctx.PluginName, scope, userID, key, value)
}

// --- rate-limit ---

// Allow consumes cost tokens from this plugin's bucket, separate from API
// and auth limits (spec.md §4.10).
func (h *Host) Allow(ctx context.Context, cost int64) (ratelimit.Result, error) {
	key := ratelimit.Key(ratelimit.ScopePlugin, h.ctx.PluginName, "")
	return h.limiter.AllowConfig(ctx, key, h.cfg.RateLimit, cost)
}
