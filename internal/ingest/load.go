// Package ingest bulk-loads nodes and edges from JSONL files and splits
// documents into chunk nodes.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/graph"
)

// Target receives loaded records. *engine.Engine implements it.
type Target interface {
	AddNode(ctx context.Context, n *graph.Node) error
	AddEdge(e *graph.Edge) error
}

// Summary counts what Load did.
type Summary struct {
	Nodes   int `json:"nodes"`
	Edges   int `json:"edges"`
	Skipped int `json:"skipped"` // nodes whose id already existed
	Failed  int `json:"failed"`
}

// Load adds every node record, then every edge record, so edges may refer to
// nodes later in the input. Existing node ids are skipped, which makes a
// repeated import harmless; edges upsert. Other failures do not stop the
// load and are returned together.
func Load(ctx context.Context, t Target, records []Record) (Summary, error) {
	var (
		sum  Summary
		errs *multierror.Error
	)
	for _, r := range records {
		if r.Type != "node" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		err := t.AddNode(ctx, r.Node())
		switch {
		case err == nil:
			sum.Nodes++
		case errors.Is(err, apperr.ErrDuplicate):
			sum.Skipped++
		default:
			sum.Failed++
			errs = multierror.Append(errs, fmt.Errorf("node %q: %w", r.ID, err))
		}
	}
	for _, r := range records {
		if r.Type != "edge" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := t.AddEdge(r.Edge()); err != nil {
			sum.Failed++
			errs = multierror.Append(errs, fmt.Errorf("edge %s -%s-> %s: %w", r.Source, r.Relation, r.Target, err))
			continue
		}
		sum.Edges++
	}
	return sum, errs.ErrorOrNil()
}
