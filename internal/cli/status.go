package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucidfs/davsync/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <account-id> <path>",
	Short: "Show a resource's in-flight download progress, if any",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

var eventsCmd = &cobra.Command{
	Use:   "events <session-identifier>",
	Short: "Drain completion events for a transfer session",
	Long: `events is the host-facing wake-up handler: pass the
"download::<accountId>::<bundleIdentifier>" session identifier the platform
handed back, and this blocks until the engine has drained it.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("status", err)
	}

	id := types.ResourceID{AccountID: args[0], Path: parsePath(args[1])}
	progress, err := svc.Progress(id)
	if err != nil {
		return out.WriteError("status", err)
	}
	if progress == nil {
		return out.WriteSuccess("status", map[string]any{
			"accountId": id.AccountID,
			"path":      []string(id.Path),
			"inFlight":  false,
		})
	}
	return out.WriteSuccess("status", map[string]any{
		"accountId": id.AccountID,
		"path":      []string(id.Path),
		"inFlight":  true,
		"completed": progress.Completed,
		"total":     progress.Total,
	})
}

func runEvents(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("events", err)
	}

	done := make(chan struct{})
	if err := svc.HandleEvents(args[0], func() { close(done) }); err != nil {
		return out.WriteError("events", err)
	}
	<-done

	return out.WriteSuccess("events", map[string]string{"sessionIdentifier": args[0]})
}
