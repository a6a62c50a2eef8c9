package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

type cascadeEffect struct {
	TaskID         string
	Trigger        string
	Suggested      string
	Depth          int
	AutoApprovable bool
	Reason         string
}

type cascadeReport struct {
	SourceTaskID      string
	Trigger           string
	DirectEffects     []cascadeEffect
	TransitiveEffects []cascadeEffect
	TotalAffected     int
	RequiresReview    int
	AutoApprovable    int
	ListAutoApprove   bool
}

var cascadeCmd = &cobra.Command{
	Use:   "cascade TASK_ID",
	Short: "Preview what a trigger would cascade into, without applying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		trigger, _ := cmd.Flags().GetString("trigger")
		c := newAPIClient(addr)

		var report cascadeReport
		query := url.Values{}
		if trigger != "" {
			query.Set("trigger", trigger)
		}
		if err := c.get(fmt.Sprintf("/v1/tasks/%s/cascade", args[0]), query, &report); err != nil {
			return err
		}

		fmt.Printf("Source: %s (trigger=%s)\n", report.SourceTaskID, report.Trigger)
		fmt.Printf("Total affected: %d, requires review: %d, auto-approvable: %d, list auto-approve: %v\n\n",
			report.TotalAffected, report.RequiresReview, report.AutoApprovable, report.ListAutoApprove)

		printEffects := func(label string, effects []cascadeEffect) {
			if len(effects) == 0 {
				return
			}
			fmt.Println(label + ":")
			for _, e := range effects {
				fmt.Printf("  %-12s depth=%d %-12s auto=%-5v %s\n", e.TaskID, e.Depth, e.Suggested, e.AutoApprovable, e.Reason)
			}
		}
		printEffects("Direct effects", report.DirectEffects)
		printEffects("Transitive effects", report.TransitiveEffects)
		return nil
	},
}

func init() {
	cascadeCmd.Flags().String("trigger", "", "Trigger kind: status_changed, priority_changed, dependency_changed, impact_changed (default status_changed)")
}
