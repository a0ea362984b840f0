package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadChunkIDField and payloadDocumentIDField carry the original chunk
// and document identifiers in the point payload, since Qdrant point IDs
// must be UUIDs or positive integers (grounded on the teacher's
// PAYLOAD_ID_FIELD convention in qdrant_vector.go).
const (
	payloadChunkIDField    = "_chunk_id"
	payloadDocumentIDField = "_document_id"
	payloadKBField         = "_knowledge_base_id"
)

// Qdrant is the alternate Store backend for deployments that prefer a
// dedicated vector database over pgvector.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrant dials dsn (e.g. "http://localhost:6334?api_key=...") and
// ensures the target collection exists with the requested dimension and
// distance metric.
func NewQdrant(dsn, collection string, dimension int, metric string) (*Qdrant, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	q := &Qdrant{client: client, collection: collection, dimension: dimension, metric: metric}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant: requires dimension > 0")
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(chunkID string) (*qdrant.PointId, string) {
	if _, err := uuid.Parse(chunkID); err == nil {
		return qdrant.NewIDUUID(chunkID), chunkID
	}
	generated := uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
	return qdrant.NewIDUUID(generated), generated
}

func (q *Qdrant) Upsert(ctx context.Context, chunkID, documentID, knowledgeBaseID string, embedding []float32, metadata map[string]any) error {
	pointID, _ := pointIDFor(chunkID)
	payload := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[payloadChunkIDField] = chunkID
	payload[payloadDocumentIDField] = documentID
	payload[payloadKBField] = knowledgeBaseID

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID,
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *Qdrant) Delete(ctx context.Context, chunkID string) error {
	pointID, _ := pointIDFor(chunkID)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID),
	})
	return err
}

func (q *Qdrant) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentIDField, documentID)},
		}),
	})
	return err
}

func (q *Qdrant) Search(ctx context.Context, knowledgeBaseID string, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	limit := uint64(k)

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadKBField, knowledgeBaseID)},
	}

	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(hits))
	for _, hit := range hits {
		m := Match{Score: float64(hit.Score), Metadata: map[string]any{}}
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				switch k {
				case payloadChunkIDField:
					m.ChunkID = v.GetStringValue()
				case payloadDocumentIDField:
					m.DocumentID = v.GetStringValue()
				default:
					m.Metadata[k] = v.GetStringValue()
				}
			}
		}
		if m.ChunkID == "" {
			m.ChunkID = hit.Id.GetUuid()
		}
		out = append(out, m)
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (q *Qdrant) Close() error { return q.client.Close() }

var _ Store = (*Qdrant)(nil)
