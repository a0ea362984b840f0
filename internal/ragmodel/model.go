// Package ragmodel defines the persistent data model shared by the
// ingestion pipeline, scheduler, and plugin host: Document, DocumentChunk,
// KnowledgeBase, PluginFeed, PluginExecution, Experience, and ExperienceRun,
// per spec.md §3. All timestamps are UTC; IDs are opaque strings unique
// within their kind.
package ragmodel

import "time"

// ProcessingStatus is the single source of truth for a Document's position
// in the ingestion state machine (spec.md §4.7.2).
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusExtracting ProcessingStatus = "extracting"
	StatusEmbedding  ProcessingStatus = "embedding"
	StatusProfiling  ProcessingStatus = "profiling"
	StatusProcessed  ProcessingStatus = "processed"
	StatusError      ProcessingStatus = "error"
)

// ProfilingStatus tracks the profiling sub-state independent of the main
// pipeline status, since profiling may be disabled globally.
type ProfilingStatus string

const (
	ProfilingPending    ProfilingStatus = "pending"
	ProfilingInProgress ProfilingStatus = "in_progress"
	ProfilingComplete   ProfilingStatus = "complete"
	ProfilingFailed     ProfilingStatus = "failed"
)

// DocumentType is the LLM-assigned classification produced by the profiler.
type DocumentType string

const (
	DocTypeNarrative      DocumentType = "narrative"
	DocTypeTransactional  DocumentType = "transactional"
	DocTypeTechnical      DocumentType = "technical"
	DocTypeConversational DocumentType = "conversational"
)

// ValidDocumentType reports whether t is one of the allowed classifications.
func ValidDocumentType(t DocumentType) bool {
	switch t {
	case DocTypeNarrative, DocTypeTransactional, DocTypeTechnical, DocTypeConversational:
		return true
	default:
		return false
	}
}

// ExtractionMeta captures how a Document's text was produced.
type ExtractionMeta struct {
	Method     string         `json:"method,omitempty"`
	Engine     string         `json:"engine,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Document is one ingested artifact within a knowledge base.
type Document struct {
	ID                     string
	KnowledgeBaseID        string
	SourceType             string // free-form; plugin-ingested docs use "plugin:<plugin_name>"
	SourceID               string
	Title                  string
	FileType               string
	FileSize               int64
	MimeType               string
	Content                string
	ContentHash            string // SHA-256 of Content
	SourceHash             string // optional provider-supplied hash (md5/etag)
	ProcessingStatus       ProcessingStatus
	ProcessingError        string
	Extraction             ExtractionMeta
	SourceURL              string
	SourceModifiedAt       *time.Time
	ProcessedAt            *time.Time
	WordCount              int
	CharacterCount         int
	ChunkCount             int
	Synopsis               string
	SynopsisEmbedding      []float32
	DocumentType           DocumentType
	CapabilityManifest     map[string]any
	ProfilingStatus        ProfilingStatus
	ProfilingCoveragePct   float64
	RelationalContext      map[string]any
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// EffectiveHash returns the hash to use for idempotency comparisons:
// SourceHash when both documents being compared have one, else ContentHash.
// The caller supplies whether the "other side" also has a source hash.
func (d *Document) EffectiveHash(otherHasSourceHash bool) string {
	if d.SourceHash != "" && otherHasSourceHash {
		return d.SourceHash
	}
	return d.ContentHash
}

// ChunkType distinguishes the synthetic title chunk from real content chunks.
type ChunkType string

const (
	ChunkTypeTitle   ChunkType = "title"
	ChunkTypeContent ChunkType = "content"
)

// DocumentChunk is a contiguous substring of a Document with an embedding.
type DocumentChunk struct {
	ID                 string
	DocumentID         string
	KnowledgeBaseID    string
	ChunkIndex         int
	Content            string
	Embedding          []float32
	CharCount          int
	WordCount          int
	StartChar          int
	EndChar            int
	EmbeddingModel     string
	EmbeddingCreatedAt time.Time
	ChunkMetadata      map[string]any
	ChunkType          ChunkType
	Summary            string
	Keywords           []string
	Topics             []string
}

// DocumentQuery is an LLM-synthesized question a document can answer.
type DocumentQuery struct {
	ID              string
	DocumentID      string
	KnowledgeBaseID string
	QueryText       string
	QueryEmbedding  []float32
}

// DocumentParticipant is a denormalized entity/role association used for
// re-ranking, created by the profiler and deleted with the document.
type DocumentParticipant struct {
	ID         string
	DocumentID string
	Name       string
	Role       string
}

// DocumentProject is a denormalized project association, same lifecycle as
// DocumentParticipant.
type DocumentProject struct {
	ID         string
	DocumentID string
	ProjectKey string
}

// KBStatus is the health state of a knowledge base.
type KBStatus string

const (
	KBActive   KBStatus = "active"
	KBInactive KBStatus = "inactive"
	KBError    KBStatus = "error"
)

// KnowledgeBase is the container for related documents and their chunks,
// and the unit of RBAC and RAG configuration.
type KnowledgeBase struct {
	ID                string
	Name              string
	Description       string
	SyncEnabled       bool
	EmbeddingModel    string
	ChunkSize         int
	ChunkOverlap      int
	Status            KBStatus
	DocumentCount     int
	TotalChunks       int
	OwnerID           string
	RAGConfig         map[string]any
	TitleChunkEnabled bool
}

// PluginFeed is a recurring schedulable source that executes a plugin
// periodically to ingest data into a knowledge base.
type PluginFeed struct {
	ID              string
	Name            string
	PluginName      string
	AgentKey        string
	OwnerUserID     string
	Params          map[string]any
	IntervalSeconds int
	Enabled         bool
	NextRunAt       *time.Time
	LastRunAt       *time.Time
}

// PluginExecutionStatus tracks one run of a plugin feed.
type PluginExecutionStatus string

const (
	ExecPending   PluginExecutionStatus = "pending"
	ExecRunning   PluginExecutionStatus = "running"
	ExecCompleted PluginExecutionStatus = "completed"
	ExecFailed    PluginExecutionStatus = "failed"
)

// PluginExecution is one run of a PluginFeed.
type PluginExecution struct {
	ID          string
	ScheduleID  string
	PluginName  string
	UserID      string
	AgentKey    string
	Params      map[string]any
	Status      PluginExecutionStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	UpdatedAt   time.Time
}

// TriggerType identifies how an Experience is scheduled.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerCron      TriggerType = "cron"
)

// Visibility gates which users may see and trigger an Experience.
type Visibility string

const (
	VisibilityDraft     Visibility = "draft"
	VisibilityPublished Visibility = "published"
	VisibilityAdminOnly Visibility = "admin_only"
)

// Experience is a scheduled multi-step LLM workflow executed per user.
type Experience struct {
	ID                    string
	Name                  string
	TriggerType           TriggerType
	TriggerConfig         map[string]any
	Visibility            Visibility
	Steps                 []map[string]any
	ModelConfigurationID  string
	CreatedBy             string
	NextRunAt             *time.Time
	LastRunAt             *time.Time
}

// ExperienceRunStatus tracks one execution of an Experience for one user.
type ExperienceRunStatus string

const (
	RunQueued    ExperienceRunStatus = "queued"
	RunRunning   ExperienceRunStatus = "running"
	RunSucceeded ExperienceRunStatus = "succeeded"
	RunFailed    ExperienceRunStatus = "failed"
)

// ExperienceRun is one execution of an Experience for one user.
type ExperienceRun struct {
	ID             string
	ExperienceID   string
	UserID         string
	Status         ExperienceRunStatus
	InputParams    map[string]any
	StepStates     map[string]any
	StepOutputs    map[string]any
	ResultMetadata map[string]any
	ErrorMessage   string
	FinishedAt     *time.Time
}
