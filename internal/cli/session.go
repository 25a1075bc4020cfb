package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Signal session lifecycle events",
	Long: `Signal the start or end of an agent session for the current identity.

start runs session_start hooks and warms the index with a sync.
end runs session_end hooks, which usually write notes into the workspace,
then syncs so those notes are searchable in the next session.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run session_start hooks and warm the index",
	Args:  cobra.NoArgs,
	RunE:  runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Run session_end hooks and index what they wrote",
	Args:  cobra.NoArgs,
	RunE:  runSessionEnd,
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	identity := a.cfg.Identity
	if err := a.hooks.SessionStarted(ctx, identity); err != nil {
		a.logger.Warn().Err(err).Str("identity", identity).Msg("Session start hook failed")
	}
	if err := a.registry.SessionStarted(ctx, identity); err != nil {
		_ = a.Close()
		return err
	}
	// Close waits for the warm-up sync.
	if err := a.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session started for %s\n", identity)
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	identity := a.cfg.Identity
	if _, err := a.index(ctx); err != nil {
		_ = a.Close()
		return err
	}
	if err := a.registry.SessionEnding(ctx, identity); err != nil {
		_ = a.Close()
		return err
	}
	if err := a.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session ended for %s\n", identity)
	return nil
}
