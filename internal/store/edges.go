package store

import (
	"fmt"
	"time"

	"github.com/lazypower/recall/internal/graph"
)

// SaveEdge inserts e, or updates the weight of the stored edge with the same
// id.
func (db *DB) SaveEdge(e *graph.Edge) error {
	_, err := db.Exec(`
		INSERT INTO edges (id, source, target, relation, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET weight = ?
	`, e.ID, e.Source, e.Target, string(e.Relation), e.Weight, e.CreatedAt.UnixMilli(),
		e.Weight)
	if err != nil {
		return fmt.Errorf("save edge: %w", err)
	}
	return nil
}

// DeleteEdge removes a single edge.
func (db *DB) DeleteEdge(id string) error {
	if _, err := db.Exec("DELETE FROM edges WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

// LoadEdges returns every stored edge, oldest first.
func (db *DB) LoadEdges() ([]*graph.Edge, error) {
	rows, err := db.Query(`
		SELECT id, source, target, relation, weight, created_at
		FROM edges ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	defer rows.Close()

	var edges []*graph.Edge
	for rows.Next() {
		var e graph.Edge
		var rel string
		var created int64
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &rel, &e.Weight, &created); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Relation = graph.Relation(rel)
		e.CreatedAt = time.UnixMilli(created)
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// Counts returns the number of stored nodes, edges and vectors.
func (db *DB) Counts() (nodes, edges, vectors int, err error) {
	err = db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM edges), (SELECT COUNT(*) FROM vectors)
	`).Scan(&nodes, &edges, &vectors)
	if err != nil {
		err = fmt.Errorf("counts: %w", err)
	}
	return nodes, edges, vectors, err
}

var _ graph.Backend = (*DB)(nil)
