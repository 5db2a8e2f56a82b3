package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lazypower/recall/internal/graph"
)

// DefaultChunkChars bounds one raw_chunk node.
const DefaultChunkChars = 1000

// Chunk splits text into pieces of at most maxChars bytes. Paragraphs
// (blank-line separated) are packed together while they fit; a paragraph
// longer than maxChars is split between words, and a single word longer
// than maxChars is cut on rune boundaries. A rune wider than maxChars is
// kept whole.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(piece, sep string) {
		if cur.Len() > 0 && cur.Len()+len(sep)+len(piece) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		if len(para) <= maxChars {
			add(para, "\n\n")
			continue
		}
		flush()
		for _, word := range strings.Fields(para) {
			for len(word) > maxChars {
				flush()
				cut := runeCut(word, maxChars)
				chunks = append(chunks, word[:cut])
				word = word[cut:]
			}
			if word != "" {
				add(word, " ")
			}
		}
		flush()
	}
	flush()
	return chunks
}

// runeCut returns the longest prefix of s no longer than limit bytes that
// ends on a rune boundary, or the first rune when it alone is wider. s must
// be longer than limit.
func runeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, cut = utf8.DecodeRuneInString(s)
	}
	return cut
}

// Document describes a text to split into chunk nodes.
type Document struct {
	ID       string
	Title    string
	Text     string
	MaxChars int
}

// Records turns a document into an entity node for the document, one
// raw_chunk node per chunk linked to it with is_part_of, and happened_after
// edges between consecutive chunks. Chunk ids are "<doc>#<n>", from 1.
func (d Document) Records() ([]Record, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	title := d.Title
	if title == "" {
		title = d.ID
	}
	recs := []Record{{
		Type:    "node",
		ID:      d.ID,
		Kind:    graph.KindEntity,
		Content: title,
	}}

	prev := ""
	for i, text := range Chunk(d.Text, d.MaxChars) {
		id := d.ID + "#" + strconv.Itoa(i+1)
		recs = append(recs,
			Record{
				Type:     "node",
				ID:       id,
				Kind:     graph.KindRawChunk,
				Content:  text,
				Metadata: map[string]string{"document": d.ID, "chunk": strconv.Itoa(i + 1)},
			},
			Record{Type: "edge", Source: id, Target: d.ID, Relation: graph.IsPartOf},
		)
		if prev != "" {
			recs = append(recs, Record{Type: "edge", Source: id, Target: prev, Relation: graph.HappenedAfter})
		}
		prev = id
	}
	return recs, nil
}
