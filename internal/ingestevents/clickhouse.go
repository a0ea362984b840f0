package ingestevents

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// clickhouseSink appends pipeline events to a ClickHouse table for
// dashboarding, alongside the Kafka publish. Grounded on the teacher's
// internal/agentd.newClickHouseTokenMetrics connection-open shape
// (ParseDSN, Open, Ping with a bounded timeout).
type clickhouseSink struct {
	conn  clickhouse.Conn
	table string
}

func newClickHouseSink(ctx context.Context, dsn, table string) (*clickhouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id String,
			knowledge_base_id String,
			from_status String,
			to_status String,
			reason String,
			ts DateTime64(3)
		) ENGINE = MergeTree() ORDER BY (knowledge_base_id, ts)
	`, table)); err != nil {
		return nil, fmt.Errorf("ensure clickhouse table: %w", err)
	}
	return &clickhouseSink{conn: conn, table: table}, nil
}

func (s *clickhouseSink) insertStatusChanged(ctx context.Context, ev DocumentStatusChanged) error {
	return s.conn.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (document_id, knowledge_base_id, from_status, to_status, reason, ts) VALUES (?, ?, ?, ?, ?, ?)",
		s.table,
	), ev.DocumentID, ev.KnowledgeBaseID, ev.FromStatus, ev.ToStatus, ev.Reason, ev.Timestamp)
}

func (s *clickhouseSink) close() {
	_ = s.conn.Close()
}
