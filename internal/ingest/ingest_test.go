package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/graph"
)

func TestParse(t *testing.T) {
	input := `# smoking study
{"type":"node","id":"smoking","kind":"concept","content":"Smoking tobacco"}
{"type":"node","id":"cancer","content":"Lung cancer","metadata":{"source":"who"}}

{"type":"edge","source":"smoking","target":"cancer","relation":"causes","weight":0.9}
{"type":"edge","source":"cancer","target":"smoking","relation":"mentions"}`

	records, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[1].Kind != graph.KindFact {
		t.Errorf("default kind = %q, want fact", records[1].Kind)
	}
	if records[1].Metadata["source"] != "who" {
		t.Errorf("metadata = %v", records[1].Metadata)
	}
	if w := records[2].Edge().Weight; w != 0.9 {
		t.Errorf("weight = %v, want 0.9", w)
	}
	if w := records[3].Edge().Weight; w != 1 {
		t.Errorf("default weight = %v, want 1", w)
	}
}

func TestParseReportsBadLines(t *testing.T) {
	input := `{"type":"node","id":"a","content":"alpha"}
not json
{"type":"vertex","id":"b"}
{"type":"edge","source":"a"}
{"type":"node","id":"c","content":"gamma"}`

	records, err := Parse(strings.NewReader(input))
	if len(records) != 2 {
		t.Fatalf("expected 2 good records, got %d", len(records))
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v, want *multierror.Error", err)
	}
	if len(merr.Errors) != 3 {
		t.Fatalf("expected 3 line errors, got %d: %v", len(merr.Errors), err)
	}
	var le *LineError
	if !errors.As(merr.Errors[0], &le) || le.Line != 2 {
		t.Errorf("first error = %v, want line 2", merr.Errors[0])
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"node","id":"a","content":"alpha"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	records, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(records) != 1 || records[0].ID != "a" {
		t.Errorf("records = %+v", records)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestChunk(t *testing.T) {
	text := "First paragraph here.\n\nSecond one.\n\n\n\nThird paragraph is a little longer than the rest."

	chunks := Chunk(text, 40)
	want := []string{
		"First paragraph here.\n\nSecond one.",
		"Third paragraph is a little longer than",
		"the rest.",
	}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
	for _, c := range chunks {
		if len(c) > 40 {
			t.Errorf("chunk %q exceeds 40 bytes", c)
		}
	}
}

func TestChunkLongWord(t *testing.T) {
	chunks := Chunk("abcdefghij xy", 4)
	want := []string{"abcd", "efgh", "ij", "xy"}
	if strings.Join(chunks, "|") != strings.Join(want, "|") {
		t.Errorf("chunks = %q, want %q", chunks, want)
	}
	if got := Chunk("   \n\n  ", 10); len(got) != 0 {
		t.Errorf("blank text chunks = %q", got)
	}
}

func TestChunkKeepsRunesWhole(t *testing.T) {
	word := "ééééé" // two bytes per rune
	chunks := Chunk(word, 3)
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %q is not valid UTF-8", c)
		}
		if len(c) > 3 {
			t.Errorf("chunk %q exceeds 3 bytes", c)
		}
	}
	if got := strings.Join(chunks, ""); got != word {
		t.Errorf("rejoined = %q, want %q", got, word)
	}

	// A rune wider than the limit becomes its own chunk.
	chunks = Chunk("日本", 2)
	if strings.Join(chunks, "|") != "日|本" {
		t.Errorf("wide runes = %q", chunks)
	}
}

func TestDocumentRecords(t *testing.T) {
	doc := Document{ID: "paper", Title: "A paper", Text: "One.\n\nTwo.\n\nSix.", MaxChars: 5}
	recs, err := doc.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}

	var nodes, partOf, after int
	for _, r := range recs {
		switch {
		case r.Type == "node":
			nodes++
		case r.Relation == graph.IsPartOf:
			partOf++
			if r.Target != "paper" {
				t.Errorf("is_part_of target = %q", r.Target)
			}
		case r.Relation == graph.HappenedAfter:
			after++
		}
	}
	if nodes != 4 || partOf != 3 || after != 2 {
		t.Errorf("nodes=%d partOf=%d after=%d, want 4/3/2", nodes, partOf, after)
	}
	if recs[1].ID != "paper#1" || recs[1].Kind != graph.KindRawChunk || recs[1].Metadata["chunk"] != "1" {
		t.Errorf("first chunk = %+v", recs[1])
	}

	if _, err := (Document{Text: "x"}).Records(); err == nil {
		t.Error("expected error without a document id")
	}
}

type memTarget struct{ *graph.Memory }

func (m memTarget) AddNode(_ context.Context, n *graph.Node) error { return m.Memory.AddNode(n) }

func TestLoad(t *testing.T) {
	g := memTarget{graph.NewMemory()}
	doc := Document{ID: "paper", Text: "One.\n\nTwo.", MaxChars: 5}
	recs, err := doc.Records()
	if err != nil {
		t.Fatal(err)
	}
	// An edge listed before its nodes still loads.
	recs = append([]Record{{Type: "edge", Source: "paper#2", Target: "paper#1", Relation: graph.Supports}}, recs...)

	sum, err := Load(context.Background(), g, recs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sum.Nodes != 3 || sum.Edges != 4 || sum.Skipped != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}

	// Reloading skips existing nodes and upserts edges.
	sum, err = Load(context.Background(), g, recs)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if sum.Nodes != 0 || sum.Skipped != 3 || sum.Edges != 4 {
		t.Errorf("second summary = %+v", sum)
	}
	if g.EdgeCount() != 4 {
		t.Errorf("edge count = %d, want 4", g.EdgeCount())
	}
}

func TestLoadCollectsFailures(t *testing.T) {
	g := memTarget{graph.NewMemory()}
	recs := []Record{
		{Type: "node", ID: "a", Kind: graph.KindFact, Content: "alpha"},
		{Type: "node", ID: "b", Kind: "planet", Content: "bad kind"},
		{Type: "edge", Source: "a", Target: "ghost", Relation: graph.Causes},
	}
	sum, err := Load(context.Background(), g, recs)
	if sum.Nodes != 1 || sum.Failed != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if !errors.Is(err, apperr.ErrInvalidConfig) {
		t.Errorf("err = %v, want to contain ErrInvalidConfig", err)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want to contain ErrNotFound", err)
	}
}

func TestLoadStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, memTarget{graph.NewMemory()}, []Record{{Type: "node", ID: "a", Kind: graph.KindFact}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
