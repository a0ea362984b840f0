// Package ingestevents publishes pipeline and scheduler state-transition
// events for downstream consumers (search-index warmers, analytics
// dashboards) that must not sit on the critical path of the ingestion
// pipeline or the scheduler tick (SPEC_FULL.md DOMAIN STACK). Grounded on
// the teacher's internal/workspaces.KafkaCommitPublisher: a nil-safe
// publisher that no-ops when unconfigured, so callers never branch on
// whether publishing is enabled.
package ingestevents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// DocumentStatusChanged is emitted on every C7 pipeline state transition
// (spec.md §4.7.2) and on scheduler enqueue/skip decisions.
type DocumentStatusChanged struct {
	DocumentID      string    `json:"document_id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	FromStatus      string    `json:"from_status"`
	ToStatus        string    `json:"to_status"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// StagingOrphanSwept is emitted by the MAINTENANCE sweep for every staged
// upload it reclaims (SPEC_FULL.md C7 supplement).
type StagingOrphanSwept struct {
	StagingKey string    `json:"staging_key"`
	DocumentID string    `json:"document_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config selects and tunes the Kafka publisher and the optional ClickHouse
// sink. Brokers empty disables publishing entirely.
type Config struct {
	Brokers           []string
	StatusTopic       string
	StagingSweepTopic string
	ClickHouseDSN     string
	ClickHouseTable   string
}

func (c Config) withDefaults() Config {
	if c.StatusTopic == "" {
		c.StatusTopic = "ragcore.document_status_changed"
	}
	if c.StagingSweepTopic == "" {
		c.StagingSweepTopic = "ragcore.staging_orphan_swept"
	}
	if c.ClickHouseTable == "" {
		c.ClickHouseTable = "ragcore_pipeline_events"
	}
	return c
}

// Publisher fans a pipeline event out to Kafka and, optionally, a
// ClickHouse analytics table. Both collaborators are nil-safe: a zero-value
// Publisher (or one built with an empty Config) silently drops every event,
// so call sites never need to check whether publishing is enabled.
type Publisher struct {
	statusWriter *kafka.Writer
	sweepWriter  *kafka.Writer
	clickhouse   *clickhouseSink
	cfg          Config
}

// New builds a Publisher from cfg. Brokers empty returns a Publisher whose
// Publish* methods are no-ops. A ClickHouse connection failure is logged
// and the sink is left disabled; it never blocks startup or prevents Kafka
// publishing from working.
func New(ctx context.Context, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	p := &Publisher{cfg: cfg}
	if len(cfg.Brokers) == 0 {
		return p
	}
	p.statusWriter = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.StatusTopic,
		Balancer: &kafka.LeastBytes{},
	}
	p.sweepWriter = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.StagingSweepTopic,
		Balancer: &kafka.LeastBytes{},
	}
	if cfg.ClickHouseDSN != "" {
		sink, err := newClickHouseSink(ctx, cfg.ClickHouseDSN, cfg.ClickHouseTable)
		if err != nil {
			log.Warn().Err(err).Msg("ingestevents_clickhouse_sink_disabled")
		} else {
			p.clickhouse = sink
		}
	}
	return p
}

// PublishStatusChanged publishes ev to Kafka and, if configured, appends it
// to the ClickHouse analytics table. Errors from either sink are logged,
// never returned: an event-publishing failure must not fail the pipeline
// stage or scheduler tick that triggered it.
func (p *Publisher) PublishStatusChanged(ctx context.Context, ev DocumentStatusChanged) {
	if p == nil || p.statusWriter == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("ingestevents_marshal_failed")
		return
	}
	msg := kafka.Message{Key: []byte(ev.DocumentID), Value: payload, Time: ev.Timestamp}
	if err := p.statusWriter.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("document_id", ev.DocumentID).Msg("ingestevents_publish_failed")
	}
	if p.clickhouse != nil {
		if err := p.clickhouse.insertStatusChanged(ctx, ev); err != nil {
			log.Warn().Err(err).Str("document_id", ev.DocumentID).Msg("ingestevents_clickhouse_insert_failed")
		}
	}
}

// PublishStagingOrphanSwept publishes ev to Kafka. Errors are logged, never
// returned, matching PublishStatusChanged's fire-and-forget contract.
func (p *Publisher) PublishStagingOrphanSwept(ctx context.Context, ev StagingOrphanSwept) {
	if p == nil || p.sweepWriter == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("ingestevents_marshal_failed")
		return
	}
	msg := kafka.Message{Key: []byte(ev.StagingKey), Value: payload, Time: ev.Timestamp}
	if err := p.sweepWriter.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("staging_key", ev.StagingKey).Msg("ingestevents_publish_failed")
	}
}

// Close shuts down the underlying writers and ClickHouse connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.statusWriter != nil {
		if err := p.statusWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("ingestevents_status_writer_close_failed")
		}
	}
	if p.sweepWriter != nil {
		if err := p.sweepWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("ingestevents_sweep_writer_close_failed")
		}
	}
	if p.clickhouse != nil {
		p.clickhouse.close()
	}
}
