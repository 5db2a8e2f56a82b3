package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/lazypower/recall/internal/graph"
)

// Record is one line of a JSONL import file: either a node or an edge.
type Record struct {
	Type string `json:"type"` // "node" or "edge"

	ID       string            `json:"id,omitempty"`
	Kind     graph.NodeKind    `json:"kind,omitempty"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Source   string         `json:"source,omitempty"`
	Target   string         `json:"target,omitempty"`
	Relation graph.Relation `json:"relation,omitempty"`
	Weight   *float64       `json:"weight,omitempty"` // defaults to 1
}

// Node converts a node record.
func (r Record) Node() *graph.Node {
	return &graph.Node{
		ID:       r.ID,
		Kind:     r.Kind,
		Content:  r.Content,
		Metadata: r.Metadata,
	}
}

// Edge converts an edge record.
func (r Record) Edge() *graph.Edge {
	e := &graph.Edge{
		Source:   r.Source,
		Target:   r.Target,
		Relation: r.Relation,
		Weight:   1,
	}
	if r.Weight != nil {
		e.Weight = *r.Weight
	}
	return e
}

// LineError reports a line that could not be parsed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

const maxLine = 1024 * 1024

// ParseFile reads a JSONL import file.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL records from r. Blank lines and lines starting with '#'
// are ignored. Malformed lines are skipped and reported together as a
// multierror of *LineError alongside the records that did parse.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		errs    *multierror.Error
		n       int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseLine([]byte(line))
		if err != nil {
			errs = multierror.Append(errs, &LineError{Line: n, Err: err})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan import file: %w", err)
	}
	return records, errs.ErrorOrNil()
}

func parseLine(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, err
	}
	switch rec.Type {
	case "node":
		if rec.Kind == "" {
			rec.Kind = graph.KindFact
		}
	case "edge":
		if rec.Source == "" || rec.Target == "" || rec.Relation == "" {
			return rec, fmt.Errorf("edge needs source, target and relation")
		}
	default:
		return rec, fmt.Errorf("unknown record type %q", rec.Type)
	}
	return rec, nil
}
