package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/expansion"
	"github.com/lazypower/recall/internal/format"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/reasoning"
	"github.com/lazypower/recall/internal/retrieval"
)

// retrieveOptions mirrors the retrieve flags.
type retrieveOptions struct {
	Text       string
	Seeds      []string
	Mode       string
	K          int
	Kinds      []string
	MaxResults int
	MaxChars   int
	MaxTokens  int
	MaxHops    int
	Strategy   string
	Direction  string
	Format     string // flat, tree, json
}

var retrieveOpts retrieveOptions

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [text]",
	Short: "Retrieve ranked context for a query",
	Long: "Embed the query text, find similar nodes, expand them through the graph and " +
		"print the ranked result. Use --seed to start from known node ids instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := retrieveOpts
		opts.Text = strings.Join(args, " ")
		if opts.Text == "" && len(opts.Seeds) == 0 {
			return fmt.Errorf("provide query text or at least one --seed")
		}
		return withRuntime(commandTimeout, func(ctx context.Context, rt *runtime) error {
			counter, err := tokenCounter(rt.cfg.Retrieval)
			if err != nil {
				return err
			}
			return runRetrieve(ctx, cmd.OutOrStdout(), rt.eng, counter, opts)
		})
	},
}

func runRetrieve(ctx context.Context, w io.Writer, eng *engine.Engine, counter format.TokenCounter, opts retrieveOptions) error {
	mode, err := retrieval.ParseMode(opts.Mode)
	if err != nil {
		return err
	}
	q := retrieval.Query{
		SeedIDs:    opts.Seeds,
		Mode:       mode,
		K:          opts.K,
		MaxResults: opts.MaxResults,
		MaxChars:   opts.MaxChars,
	}
	for _, k := range opts.Kinds {
		q.Filter.Kinds = append(q.Filter.Kinds, graph.NodeKind(k))
	}
	if opts.MaxHops > 0 || opts.Strategy != "" || opts.Direction != "" {
		x := eng.Retriever.Config().Expansion
		if opts.MaxHops > 0 {
			x.MaxHops = opts.MaxHops
		}
		if opts.Strategy != "" {
			if x.Strategy, err = expansion.ParseStrategy(opts.Strategy); err != nil {
				return err
			}
		}
		if opts.Direction != "" {
			if x.Direction, err = graph.ParseDirection(opts.Direction); err != nil {
				return err
			}
		}
		q.Expansion = &x
	}

	var rc *retrieval.Context
	if opts.Text != "" && mode != retrieval.ModeGraph {
		rc, err = eng.RetrieveText(ctx, opts.Text, q)
	} else {
		rc, err = eng.Retrieve(ctx, q)
	}
	if err != nil {
		return err
	}
	for _, f := range rc.Failures {
		fmt.Fprintf(os.Stderr, "warning: %v\n", f)
	}

	switch opts.Format {
	case "", "flat":
		if opts.MaxTokens > 0 {
			return renderCompressed(w, format.Compress(rc, format.Budget{MaxTokens: opts.MaxTokens}, counter))
		}
		return format.RenderFlat(w, rc)
	case "tree":
		return format.RenderTree(w, rc)
	case "json":
		if opts.MaxTokens > 0 {
			return printJSON(w, format.Compress(rc, format.Budget{MaxTokens: opts.MaxTokens}, counter))
		}
		return printJSON(w, format.ToRecord(rc))
	}
	return apperr.InvalidConfig("format", "unknown format %q", opts.Format)
}

func renderCompressed(w io.Writer, c format.Compressed) error {
	for i, it := range c.Items {
		if _, err := fmt.Fprintf(w, "%d. [%.3f] %s (%s) %s\n", i+1, it.Score.FinalScore, it.Node.ID, it.Node.Kind, it.Content); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "-- %d tokens\n", c.Tokens)
	return err
}

// --- explain / paths commands ---

var (
	explainMaxHops int
	pathsMaxDepth  int
)

var explainCmd = &cobra.Command{
	Use:   "explain [from] [to]",
	Short: "Explain the shortest path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			p, err := rt.eng.Reasoner.Explain(args[0], args[1], explainMaxHops)
			if err != nil {
				return err
			}
			if p == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No path from %s to %s within %d hops.\n", args[0], args[1], explainMaxHops)
				return nil
			}
			printPath(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths [from] [to]",
	Short: "List every simple path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			paths, err := rt.eng.Reasoner.AllPaths(args[0], args[1], pathsMaxDepth)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(paths) == 0 {
				fmt.Fprintf(w, "No paths from %s to %s within %d hops.\n", args[0], args[1], pathsMaxDepth)
				return nil
			}
			for i, p := range paths {
				fmt.Fprintf(w, "%d. ", i+1)
				printPath(w, p)
			}
			return nil
		})
	},
}

func printPath(w io.Writer, p *reasoning.Path) {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	fmt.Fprintf(w, "%s [%s, confidence %.3f]\n", strings.Join(ids, " -> "), p.Type, p.Confidence)
	fmt.Fprintf(w, "   %s\n", p.Explanation)
}

func init() {
	f := retrieveCmd.Flags()
	f.StringSliceVarP(&retrieveOpts.Seeds, "seed", "s", nil, "Seed node ids (repeatable)")
	f.StringVar(&retrieveOpts.Mode, "mode", "", "Retrieval mode: hybrid, vector, graph (default hybrid)")
	f.IntVar(&retrieveOpts.K, "k", 0, "Vector hits to seed from (default from config)")
	f.StringSliceVar(&retrieveOpts.Kinds, "kind", nil, "Restrict vector hits to these node kinds")
	f.IntVarP(&retrieveOpts.MaxResults, "limit", "n", 0, "Maximum number of results (default from config)")
	f.IntVar(&retrieveOpts.MaxChars, "max-chars", 0, "Budget on summed node content length")
	f.IntVar(&retrieveOpts.MaxTokens, "max-tokens", 0, "Compress the result to this many tokens")
	f.IntVar(&retrieveOpts.MaxHops, "max-hops", 0, "Expansion depth (default from config)")
	f.StringVar(&retrieveOpts.Strategy, "strategy", "", "Expansion strategy: neighbors, relations")
	f.StringVar(&retrieveOpts.Direction, "direction", "", "Expansion direction: outgoing, incoming, both")
	f.StringVarP(&retrieveOpts.Format, "format", "f", "flat", "Output format: flat, tree, json")

	explainCmd.Flags().IntVar(&explainMaxHops, "max-hops", 4, "Longest path to consider")
	pathsCmd.Flags().IntVar(&pathsMaxDepth, "max-depth", 3, "Longest path to consider")
}
