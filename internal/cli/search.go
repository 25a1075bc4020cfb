package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/mneme/pkg/memory"
)

var (
	searchMaxResults int
	searchMinScore   float64
	searchJSON       bool
	searchIdentities []string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory notes",
	Long: `Search the memory index. The index is synced first when it is dirty.
With --identities the query fans out over several identity partitions and
the results are merged by score.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchMaxResults, "max-results", "n", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", -1, "minimum score between 0 and 1 (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	searchCmd.Flags().StringSliceVar(&searchIdentities, "identities", nil, "search across these identities")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	query := strings.Join(args, " ")
	opts := memory.SearchOptions{MaxResults: searchMaxResults}
	if searchMinScore >= 0 {
		opts.MinScore = &searchMinScore
	}

	var results []memory.SearchResult
	if len(searchIdentities) > 0 {
		agg := memory.NewAggregator(a.registry, a.cfg.Query.MaxResults, a.log.GetZerolog())
		results, err = agg.Search(ctx, searchIdentities, query, opts)
	} else {
		var idx memory.Index
		if idx, err = a.index(ctx); err != nil {
			return err
		}
		results, err = idx.Search(ctx, query, opts)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		return writeJSON(out, results)
	}
	printResults(out, results)
	return nil
}

func printResults(w io.Writer, results []memory.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		loc := fmt.Sprintf("%s:%d-%d", r.Path, r.StartLine, r.EndLine)
		if r.Identity != "" {
			loc = r.Identity + "/" + loc
		}
		fmt.Fprintf(w, "%.3f  %s\n", r.Score, loc)
		for _, line := range strings.Split(strings.TrimRight(r.Snippet, "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
