package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/lazypower/recall/internal/graph"
)

// VectorRecord holds an embedding for a graph node, with the node's kind so
// an index can filter on it without a graph lookup.
type VectorRecord struct {
	NodeID     string
	Kind       graph.NodeKind
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for a node.
func (db *DB) SaveVector(nodeID string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.Exec(`
		INSERT INTO vectors (node_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET embedding = ?, model = ?, dimensions = ?, created_at = ?
	`, nodeID, blob, model, len(embedding), now,
		blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

const vectorColumns = `v.node_id, n.kind, v.embedding, v.model, v.dimensions, v.created_at`

// GetVector returns the embedding for a node, or nil if not found.
func (db *DB) GetVector(nodeID string) (*VectorRecord, error) {
	rows, err := db.Query(`SELECT `+vectorColumns+`
		FROM vectors v JOIN nodes n ON n.id = v.node_id
		WHERE v.node_id = ?
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	defer rows.Close()

	records, err := scanVectors(rows)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// VectorsForModel returns the stored vectors produced by model with the given
// dimensions. Vectors from other models are skipped so a model change never
// mixes embedding spaces in one index.
func (db *DB) VectorsForModel(model string, dims int) ([]VectorRecord, error) {
	rows, err := db.Query(`SELECT `+vectorColumns+`
		FROM vectors v JOIN nodes n ON n.id = v.node_id
		WHERE v.model = ? AND v.dimensions = ?
		ORDER BY v.node_id
	`, model, dims)
	if err != nil {
		return nil, fmt.Errorf("vectors for model: %w", err)
	}
	defer rows.Close()
	return scanVectors(rows)
}

// DeleteVector removes the embedding for a node.
func (db *DB) DeleteVector(nodeID string) error {
	_, err := db.Exec("DELETE FROM vectors WHERE node_id = ?", nodeID)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

func scanVectors(rows *sql.Rows) ([]VectorRecord, error) {
	var records []VectorRecord
	for rows.Next() {
		var v VectorRecord
		var kind string
		var blob []byte
		if err := rows.Scan(&v.NodeID, &kind, &blob, &v.Model, &v.Dimensions, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Kind = graph.NodeKind(kind)
		v.Embedding = decodeEmbedding(blob)
		records = append(records, v)
	}
	return records, rows.Err()
}
