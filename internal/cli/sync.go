package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mneme/pkg/memory"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the memory index up to date",
	Long: `Index new and changed memory notes and drop deleted ones.
With --force every note is re-chunked and re-embedded; cached embeddings
are reused.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "reindex every file")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
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
	if err := idx.Sync(ctx, memory.SyncOptions{Reason: "cli", Force: syncForce}); err != nil {
		return err
	}

	st, err := idx.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files (%d chunks) for %s\n", st.Files, st.Chunks, st.Identity)
	if st.Dirty {
		fmt.Fprintln(cmd.OutOrStdout(), "Some files are missing embeddings; they will be retried on the next sync")
	}
	return nil
}
