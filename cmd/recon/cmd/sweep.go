package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"trade-reconciliation-engine/internal/notify"
	"trade-reconciliation-engine/internal/router"
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Escalate breaks that missed their SLA deadline",
	Long: `Sweep finds open breaks whose SLA deadline has passed and escalates each
one step up the assignee ladder. The serve command runs the same sweep
periodically; this command runs it once and exits.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var notifier router.Notifier
	if rt.cfg.RedisURL != "" {
		publisher, err := notify.NewPublisher(rt.cfg.RedisURL, rt.log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifier = publisher
	}

	escalations, err := router.NewRouter(rt.stores, notifier, rt.log).CheckSLABreaches(ctx)
	if err != nil {
		return err
	}

	if len(escalations) == 0 {
		fmt.Println("SLA sweep complete: no overdue breaks")
		return nil
	}

	fmt.Printf("SLA sweep complete: %d break(s) escalated\n", len(escalations))
	for _, esc := range escalations {
		fmt.Printf("  break %d: %s -> %s\n", esc.BreakID, esc.OriginalAssignee, esc.EscalatedTo)
	}
	return nil
}
