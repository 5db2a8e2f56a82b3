package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/lazypower/recall/internal/graph"
)

// SaveNode inserts n or replaces the stored copy with the same id.
func (db *DB) SaveNode(n *graph.Node) error {
	meta, err := encodeMetadata(n.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	created := n.CreatedAt.UnixMilli()

	_, err = db.Exec(`
		INSERT INTO nodes (id, kind, content, metadata, access_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = ?, content = ?, metadata = ?, access_score = ?, updated_at = ?
	`, n.ID, string(n.Kind), n.Content, meta, n.AccessScore, created, now,
		string(n.Kind), n.Content, meta, n.AccessScore, now)
	if err != nil {
		return fmt.Errorf("save node: %w", err)
	}
	return nil
}

// GetNode returns a stored node, or nil if not found.
func (db *DB) GetNode(id string) (*graph.Node, error) {
	rows, err := db.Query(`
		SELECT id, kind, content, metadata, access_score, created_at
		FROM nodes WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// LoadNodes returns every stored node, oldest first.
func (db *DB) LoadNodes() ([]*graph.Node, error) {
	rows, err := db.Query(`
		SELECT id, kind, content, metadata, access_score, created_at
		FROM nodes ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// DeleteNode removes a node together with its edges and vector.
func (db *DB) DeleteNode(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete node: %w", err)
	}
	stmts := []struct {
		q    string
		args []any
	}{
		{"DELETE FROM edges WHERE source = ? OR target = ?", []any{id, id}},
		{"DELETE FROM vectors WHERE node_id = ?", []any{id}},
		{"DELETE FROM nodes WHERE id = ?", []any{id}},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.q, st.args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete node: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete node: %w", err)
	}
	return nil
}

// TouchNode resets access_score to 1.0, updates last_access and increments
// access_count (retrieval boost).
func (db *DB) TouchNode(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE nodes SET last_access = ?, access_count = access_count + 1, access_score = 1.0
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch node: %w", err)
	}
	return nil
}

// AccessCount returns how many times a node has been touched.
func (db *DB) AccessCount(id string) (int, error) {
	var n int
	err := db.QueryRow("SELECT access_count FROM nodes WHERE id = ?", id).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// ScoreUpdate is one access score changed by decay.
type ScoreUpdate struct {
	NodeID string
	Score  float64
}

const (
	decayHalfLife = 90 * 24 * time.Hour
	decayFloor    = 0.1
)

// DecayAccessScores applies time-based decay to every node: 90-day half-life
// measured from the last access (or creation when never accessed), floor of
// 0.1. Scores only ever decrease here. It returns the nodes whose score
// changed so in-memory copies can follow.
func (db *DB) DecayAccessScores(now time.Time) ([]ScoreUpdate, error) {
	rows, err := db.Query(`
		SELECT id, access_score, COALESCE(last_access, created_at) FROM nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("query decayable nodes: %w", err)
	}

	type decayTarget struct {
		id      string
		score   float64
		refTime int64
	}
	var targets []decayTarget
	for rows.Next() {
		var t decayTarget
		if err := rows.Scan(&t.id, &t.score, &t.refTime); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan decay target: %w", err)
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var updates []ScoreUpdate
	for _, t := range targets {
		elapsed := now.Sub(time.UnixMilli(t.refTime))
		if elapsed <= 0 {
			continue
		}
		score := math.Max(math.Pow(0.5, float64(elapsed)/float64(decayHalfLife)), decayFloor)
		if score >= t.score {
			continue
		}
		if _, err := db.Exec(`UPDATE nodes SET access_score = ? WHERE id = ?`, score, t.id); err != nil {
			return updates, fmt.Errorf("update decay: %w", err)
		}
		updates = append(updates, ScoreUpdate{NodeID: t.id, Score: score})
	}
	return updates, nil
}

// NodeIDsWithoutVector lists nodes that have no stored embedding.
func (db *DB) NodeIDsWithoutVector() ([]string, error) {
	rows, err := db.Query(`
		SELECT n.id FROM nodes n
		LEFT JOIN vectors v ON v.node_id = n.id
		WHERE v.node_id IS NULL
		ORDER BY n.created_at, n.id
	`)
	if err != nil {
		return nil, fmt.Errorf("nodes without vector: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func scanNodes(rows *sql.Rows) ([]*graph.Node, error) {
	var nodes []*graph.Node
	for rows.Next() {
		var n graph.Node
		var kind string
		var meta sql.NullString
		var created int64
		if err := rows.Scan(&n.ID, &kind, &n.Content, &meta, &n.AccessScore, &created); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Kind = graph.NodeKind(kind)
		n.CreatedAt = time.UnixMilli(created)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %q: %w", n.ID, err)
			}
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}
