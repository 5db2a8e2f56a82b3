package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/graph"
)

const commandTimeout = 2 * time.Minute

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node, edge and vector counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			return printStats(cmd.OutOrStdout(), rt.eng, rt.provider)
		})
	},
}

func printStats(w io.Writer, eng *engine.Engine, provider string) error {
	s, err := eng.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "nodes:      %d\n", s.Nodes)
	fmt.Fprintf(w, "edges:      %d\n", s.Edges)
	fmt.Fprintf(w, "vectors:    %d\n", s.Vectors)
	fmt.Fprintf(w, "indexed:    %d\n", s.Indexed)
	fmt.Fprintf(w, "unembedded: %d\n", s.Unembedded)
	if s.Model != "" {
		fmt.Fprintf(w, "embedder:   %s (%s)\n", provider, s.Model)
	} else {
		fmt.Fprintf(w, "embedder:   %s\n", provider)
	}
	return nil
}

// --- node commands ---

var (
	nodeID      string
	nodeKind    string
	nodeMeta    map[string]string
	nodeCascade bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Add, show and remove nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Add a node and embed its content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := &graph.Node{
			ID:       nodeID,
			Kind:     graph.NodeKind(nodeKind),
			Content:  strings.Join(args, " "),
			Metadata: nodeMeta,
		}
		return withRuntime(commandTimeout, func(ctx context.Context, rt *runtime) error {
			if err := rt.eng.AddNode(ctx, n); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n.ID)
			return nil
		})
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a node as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			n, err := rt.eng.Graph.GetNode(args[0])
			if err != nil {
				return err
			}
			edges, err := rt.eng.Graph.Edges(n.ID, graph.Both)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"node": n, "edges": edges})
		})
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Remove a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			if err := rt.eng.RemoveNode(args[0], nodeCascade); err != nil {
				if errors.Is(err, graph.ErrNodeHasEdges) {
					return fmt.Errorf("%w (use --cascade to remove its edges too)", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

// --- edge commands ---

var edgeWeight float64

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Add and remove edges",
}

var edgeAddCmd = &cobra.Command{
	Use:   "add [source] [relation] [target]",
	Short: "Connect two nodes",
	Long:  "Connect two nodes with a relation, e.g. `recall edge add smoking causes cancer`. Unknown relation names are stored as custom relations.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := &graph.Edge{
			Source:   args[0],
			Relation: graph.Relation(args[1]),
			Target:   args[2],
			Weight:   edgeWeight,
		}
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			if err := rt.eng.Graph.AddEdge(e); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
			return nil
		})
	},
}

var edgeRemoveCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Remove an edge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(commandTimeout, func(_ context.Context, rt *runtime) error {
			if err := rt.eng.Graph.RemoveEdge(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

func init() {
	nodeAddCmd.Flags().StringVar(&nodeID, "id", "", "Node id (default: generated)")
	nodeAddCmd.Flags().StringVarP(&nodeKind, "kind", "k", string(graph.KindFact), "Node kind: entity, concept, fact, raw_chunk")
	nodeAddCmd.Flags().StringToStringVarP(&nodeMeta, "meta", "m", nil, "Metadata as key=value pairs")
	nodeRemoveCmd.Flags().BoolVar(&nodeCascade, "cascade", false, "Also remove incident edges")
	nodeCmd.AddCommand(nodeAddCmd, nodeShowCmd, nodeRemoveCmd)

	edgeAddCmd.Flags().Float64VarP(&edgeWeight, "weight", "w", 1, "Edge weight in [0, 1]")
	edgeCmd.AddCommand(edgeAddCmd, edgeRemoveCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
