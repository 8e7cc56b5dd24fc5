package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/54b3r/noteai-go/internal/rag"
)

const (
	metaVersion   = "schema_version"
	metaUpdatedAt = "updated_at"
)

// Load reads the index snapshot. An empty database yields an empty snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*rag.Snapshot, error) {
	snap := rag.NewSnapshot()

	meta, err := s.meta(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := meta[metaVersion]; ok {
		version, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("store: load: bad schema version %q: %w", v, err)
		}
		if version > rag.SnapshotVersion {
			return nil, fmt.Errorf("store: load: snapshot version %d is newer than supported %d", version, rag.SnapshotVersion)
		}
		snap.Version = version
	}
	if v, ok := meta[metaUpdatedAt]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: load: bad updated_at %q: %w", v, err)
		}
		snap.UpdatedAt = time.Unix(0, ns)
	}

	const q = `SELECT path, idx, position, content, embedding FROM index_chunks ORDER BY path, idx`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: load chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path     string
			idx      int
			position int
			content  string
			blob     []byte
		)
		if err := rows.Scan(&path, &idx, &position, &content, &blob); err != nil {
			return nil, fmt.Errorf("store: load scan: %w", err)
		}
		vec, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("store: load %s#%d: %w", path, idx, err)
		}
		doc, ok := snap.Documents[path]
		if !ok {
			doc = &rag.DocumentEmbedding{Path: path}
			snap.Documents[path] = doc
		}
		doc.Chunks = append(doc.Chunks, rag.Chunk{Content: content, Position: position, Embedding: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load rows: %w", err)
	}
	return snap, nil
}

// Save replaces the stored snapshot in a single transaction. A zero
// UpdatedAt is stamped with the current time.
func (s *SQLiteStore) Save(ctx context.Context, snap *rag.Snapshot) (err error) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM index_chunks`); err != nil {
		return fmt.Errorf("store: save clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO index_chunks (path, idx, position, content, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: save prepare: %w", err)
	}
	defer stmt.Close()

	for path, doc := range snap.Documents {
		for i, c := range doc.Chunks {
			if _, err = stmt.ExecContext(ctx, path, i, c.Position, c.Content, EncodeEmbedding(c.Embedding)); err != nil {
				return fmt.Errorf("store: save %s#%d: %w", path, i, err)
			}
		}
	}

	const upsert = `INSERT INTO index_meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	version := snap.Version
	if version == 0 {
		version = rag.SnapshotVersion
	}
	if _, err = tx.ExecContext(ctx, upsert, metaVersion, strconv.Itoa(version)); err != nil {
		return fmt.Errorf("store: save version: %w", err)
	}
	if _, err = tx.ExecContext(ctx, upsert, metaUpdatedAt, strconv.FormatInt(snap.UpdatedAt.UnixNano(), 10)); err != nil {
		return fmt.Errorf("store: save updated_at: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: save commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("store: load meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: load meta scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// EncodeEmbedding encodes a vector as little-endian IEEE 754 float32 values
// with no length prefix.
func EncodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding decodes a BLOB produced by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
