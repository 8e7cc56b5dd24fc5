package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// qdrantUpsertBatch is the number of points sent per Upsert call.
const qdrantUpsertBatch = 256

// pointNamespace seeds deterministic point IDs derived from path and chunk index.
var pointNamespace = uuid.MustParse("6f1c2d4e-8a3b-4c5d-9e7f-0a1b2c3d4e5f")

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection that holds the snapshot.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantSnapshotStore implements rag.Persistence on a Qdrant collection with
// one point per chunk. The collection is recreated on every Save so its
// vector size always matches the snapshot.
type QdrantSnapshotStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantSnapshotStore connects to Qdrant. The collection is created
// lazily by Save.
func NewQdrantSnapshotStore(cfg *QdrantConfig) (*QdrantSnapshotStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "noteai"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantSnapshotStore{client: client, cfg: cfg}, nil
}

// Client exposes the gRPC client for readiness checks.
func (s *QdrantSnapshotStore) Client() *qdrant.Client {
	return s.client
}

// Load reads every point of the collection back into a snapshot.
func (s *QdrantSnapshotStore) Load(ctx context.Context) (*rag.Snapshot, error) {
	snap := rag.NewSnapshot()

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return snap, nil
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: count failed: %w", err)
	}
	if count == 0 {
		return snap, nil
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Limit:          qdrant.PtrOf(uint32(count)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
	}

	type indexed struct {
		idx   int64
		chunk rag.Chunk
	}
	byPath := make(map[string][]indexed)
	for _, p := range points {
		payload := p.GetPayload()
		path := payload["path"].GetStringValue()
		if path == "" {
			continue
		}
		if v := payload["updated_at"].GetIntegerValue(); v > 0 {
			snap.UpdatedAt = time.Unix(0, v)
		}
		if v := payload["schema_version"].GetIntegerValue(); v > 0 {
			snap.Version = int(v)
		}
		byPath[path] = append(byPath[path], indexed{
			idx: payload["idx"].GetIntegerValue(),
			chunk: rag.Chunk{
				Content:   payload["content"].GetStringValue(),
				Position:  int(payload["position"].GetIntegerValue()),
				Embedding: p.GetVectors().GetVector().GetData(),
			},
		})
	}
	if snap.Version > rag.SnapshotVersion {
		return nil, fmt.Errorf("qdrant: snapshot version %d is newer than supported %d", snap.Version, rag.SnapshotVersion)
	}

	for path, items := range byPath {
		sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })
		doc := &rag.DocumentEmbedding{Path: path, Chunks: make([]rag.Chunk, len(items))}
		for i, it := range items {
			doc.Chunks[i] = it.chunk
		}
		snap.Documents[path] = doc
	}
	return snap, nil
}

// Save recreates the collection and writes one point per chunk. Chunks whose
// dimension differs from the first document's are skipped.
func (s *QdrantSnapshotStore) Save(ctx context.Context, snap *rag.Snapshot) error {
	log := logging.FromContext(ctx)
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	paths := make([]string, 0, len(snap.Documents))
	for p := range snap.Documents {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	dim := 0
	for _, p := range paths {
		if d := snap.Documents[p].Dimension(); d > 0 {
			dim = d
			break
		}
	}

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.cfg.Collection, err)
		}
	}
	if dim == 0 {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	version := snap.Version
	if version == 0 {
		version = rag.SnapshotVersion
	}
	points := make([]*qdrant.PointStruct, 0, qdrantUpsertBatch)
	flush := func() error {
		if len(points) == 0 {
			return nil
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
		points = points[:0]
		return nil
	}

	for _, path := range paths {
		for i, c := range snap.Documents[path].Chunks {
			if len(c.Embedding) != dim {
				log.Warn("qdrant: skipping chunk with mismatched dimension",
					slog.String("path", path),
					slog.Int("chunk", i),
					slog.Int("dim", len(c.Embedding)),
					slog.Int("collection_dim", dim),
				)
				continue
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(path, i)),
				Vectors: qdrant.NewVectors(c.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"path":           path,
					"idx":            int64(i),
					"position":       int64(c.Position),
					"content":        c.Content,
					"schema_version": int64(version),
					"updated_at":     snap.UpdatedAt.UnixNano(),
				}),
			})
			if len(points) == qdrantUpsertBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantSnapshotStore) Close() error {
	return s.client.Close()
}

// pointID derives a stable UUID for chunk i of path.
func pointID(path string, i int) string {
	return uuid.NewSHA1(pointNamespace, []byte(path+"#"+strconv.Itoa(i))).String()
}
