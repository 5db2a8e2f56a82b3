package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/ingest"
)

const ingestTimeout = 30 * time.Minute

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import [file.jsonl]",
	Short: "Bulk load nodes and edges from a JSONL file",
	Long: "Each line is a JSON object with \"type\" set to \"node\" (id, kind, content, metadata) " +
		"or \"edge\" (source, target, relation, weight). Existing node ids are skipped.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, parseErr := ingest.ParseFile(args[0])
		if parseErr != nil && len(records) == 0 {
			return parseErr
		}
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", parseErr)
		}
		return withRuntime(ingestTimeout, func(ctx context.Context, rt *runtime) error {
			return loadRecords(ctx, cmd, rt, records)
		})
	},
}

// --- ingest command ---

var (
	ingestID       string
	ingestTitle    string
	ingestMaxChars int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Split a text document into chunk nodes",
	Long: "Store the document as an entity node and its paragraphs as raw_chunk nodes " +
		"that are part of it, in reading order.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		doc := ingest.Document{
			ID:       ingestID,
			Title:    ingestTitle,
			Text:     string(data),
			MaxChars: ingestMaxChars,
		}
		if doc.ID == "" {
			doc.ID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		records, err := doc.Records()
		if err != nil {
			return err
		}
		return withRuntime(ingestTimeout, func(ctx context.Context, rt *runtime) error {
			return loadRecords(ctx, cmd, rt, records)
		})
	},
}

func loadRecords(ctx context.Context, cmd *cobra.Command, rt *runtime, records []ingest.Record) error {
	sum, err := ingest.Load(ctx, rt.eng, records)
	fmt.Fprintf(cmd.OutOrStdout(), "nodes: %d, edges: %d, skipped: %d, failed: %d\n",
		sum.Nodes, sum.Edges, sum.Skipped, sum.Failed)
	if sum.Nodes > 0 {
		if _, rerr := rt.eng.RefreshVocabulary(ctx); rerr != nil {
			return multierror.Append(err, fmt.Errorf("refresh vocabulary: %w", rerr))
		}
	}
	return err
}

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "Document node id (default: file name)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Document title (default: id)")
	ingestCmd.Flags().IntVar(&ingestMaxChars, "chunk", ingest.DefaultChunkChars, "Maximum bytes per chunk")
}
