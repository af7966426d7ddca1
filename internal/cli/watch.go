package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <account-id> <path>",
	Short: "Periodically reconcile a path until interrupted",
	Long: `watch runs sync on a fixed interval, the way a host would drive the
engine between wake-ups, until it receives SIGINT/SIGTERM.`,
	Args: cobra.ExactArgs(2),
	RunE: runWatch,
}

var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 30*time.Second, "Time between reconciles")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("watch", err)
	}

	accountID := args[0]
	path := parsePath(args[1])

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	reconcile := func() {
		done := make(chan error, 1)
		if err := svc.UpdateResource(accountID, path, func(err error) { done <- err }); err != nil {
			out.Log("watch: %v", err)
			return
		}
		if err := <-done; err != nil {
			out.Log("watch: reconcile failed: %v", err)
		} else {
			out.Verbose("watch: reconciled %s/%v", accountID, path)
		}
	}

	reconcile()
	for {
		select {
		case <-ticker.C:
			reconcile()
		case <-sig:
			return out.WriteSuccess("watch", map[string]string{"accountId": accountID})
		}
	}
}
