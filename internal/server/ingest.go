package server

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"github.com/lazypower/recall/internal/ingest"
)

// maxImportBytes bounds a JSONL import body.
const maxImportBytes = 64 << 20

type importResponse struct {
	ingest.Summary
	Errors []string `json:"errors,omitempty"`
}

// handleImport loads a JSONL body of node and edge records. Bad lines and
// failed records are reported in the response, not as a request failure.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	records, parseErr := ingest.Parse(body)
	if parseErr != nil && len(records) == 0 {
		writeMessage(w, http.StatusBadRequest, parseErr.Error())
		return
	}
	s.load(r.Context(), w, records, parseErr)
}

type documentRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	MaxChars int    `json:"max_chars"`
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decode(w, r, &req) {
		return
	}
	doc := ingest.Document{ID: req.ID, Title: req.Title, Text: req.Text, MaxChars: req.MaxChars}
	records, err := doc.Records()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	s.load(r.Context(), w, records, nil)
}

func (s *Server) load(ctx context.Context, w http.ResponseWriter, records []ingest.Record, parseErr error) {
	sum, err := ingest.Load(ctx, s.engine, records)
	resp := importResponse{Summary: sum}
	var refreshErr error
	if sum.Nodes > 0 {
		_, refreshErr = s.engine.RefreshVocabulary(ctx)
	}
	for _, e := range []error{parseErr, err, refreshErr} {
		if merr, ok := e.(*multierror.Error); ok {
			for _, item := range merr.Errors {
				resp.Errors = append(resp.Errors, item.Error())
			}
		} else if e != nil {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
