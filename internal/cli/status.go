package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/mneme/pkg/memory"
	"github.com/harun/mneme/pkg/memstore"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory index status",
	Long:  `Show file and chunk counts, the active search mode and index capabilities.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	idx, err := a.index(ctx)
	if err != nil {
		return err
	}
	st, err := idx.Status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st memory.Status) {
	fmt.Fprintf(w, "Identity: %s\n", st.Identity)
	fmt.Fprintf(w, "Workspace: %s\n", st.WorkspacePath)
	fmt.Fprintf(w, "Database: %s\n", st.DBPath)
	fmt.Fprintf(w, "Files: %d\n", st.Files)
	fmt.Fprintf(w, "Chunks: %d\n", st.Chunks)
	fmt.Fprintf(w, "Mode: %s\n", st.Mode)
	if st.Provider != "" {
		fmt.Fprintf(w, "Embeddings: %s (%s", st.Provider, st.Model)
		if st.VectorDims > 0 {
			fmt.Fprintf(w, ", %d dims", st.VectorDims)
		}
		fmt.Fprintln(w, ")")
	} else {
		fmt.Fprintln(w, "Embeddings: none")
	}
	fmt.Fprintf(w, "Keyword index: %s\n", capability(st.Capabilities.Keyword))
	fmt.Fprintf(w, "Vector index: %s\n", capability(st.Capabilities.Vector))
	fmt.Fprintf(w, "Cache entries: %d\n", st.CacheEntries)
	if st.CacheHitRate != nil {
		fmt.Fprintf(w, "Cache hit rate: %.1f%%\n", *st.CacheHitRate*100)
	}
	fmt.Fprintf(w, "Dirty: %t\n", st.Dirty)
	if st.LastSyncTime != nil {
		fmt.Fprintf(w, "Last sync: %s ago\n", formatDuration(time.Since(*st.LastSyncTime)))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", st.LastError)
	}
}

func capability(c memstore.Capability) string {
	if c.Available {
		return "available"
	}
	if c.Reason == "" {
		return "unavailable"
	}
	return "unavailable (" + c.Reason + ")"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
