package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	getFrom  int
	getLines int
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print lines from a memory note",
	Long: `Print a memory note, or a slice of it, by its workspace-relative path
as reported by search.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().IntVar(&getFrom, "from", 0, "first line to print, 1-indexed")
	getCmd.Flags().IntVar(&getLines, "lines", 0, "number of lines to print (default all)")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
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
	res, err := idx.ReadFile(ctx, args[0], getFrom, getLines)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	return nil
}
