package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidfs/davsync/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync <account-id> <path>",
	Short: "Reconcile one path against the remote tree",
	Long: `sync triggers a single reconcile for <path> under <account-id>:
fetch remote properties, update the local Store, and queue any stale body for
download. Use "/" for the account's root.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

var syncTimeout time.Duration

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second, "How long to wait for the reconcile to complete")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("sync", err)
	}

	accountID := args[0]
	path := parsePath(args[1])

	done := make(chan error, 1)
	if err := svc.UpdateResource(accountID, path, func(err error) { done <- err }); err != nil {
		return out.WriteError("sync", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return out.WriteError("sync", err)
		}
	case <-time.After(syncTimeout):
		return out.WriteError("sync", fmt.Errorf("timed out after %s waiting for reconcile", syncTimeout))
	}

	return out.WriteSuccess("sync", map[string]any{
		"accountId": accountID,
		"path":      []string(path),
	})
}

// parsePath splits a slash-separated CLI path argument into types.Path,
// dropping empty components so "/" and "" both mean the account's root.
func parsePath(raw string) types.Path {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return types.Path{}
	}
	return types.Path(strings.Split(raw, "/"))
}
