package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type readinessResponse struct {
	TaskID          string
	Overall         int
	SingleConcern   int
	BoundedFiles    int
	TimeBounded     int
	Testable        int
	Independent     int
	ClearCompletion int
	Missing         []string
	Ready           bool
}

var readinessCmd = &cobra.Command{
	Use:   "readiness TASK_ID",
	Short: "Show a task's readiness score and its six dimensions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := newAPIClient(addr)

		var score readinessResponse
		if err := c.get(fmt.Sprintf("/v1/tasks/%s/readiness", args[0]), nil, &score); err != nil {
			return err
		}

		fmt.Printf("Task:            %s\n", score.TaskID)
		fmt.Printf("Overall:         %d/100 (ready=%v)\n", score.Overall, score.Ready)
		fmt.Printf("Single concern:  %d\n", score.SingleConcern)
		fmt.Printf("Bounded files:   %d\n", score.BoundedFiles)
		fmt.Printf("Time bounded:    %d\n", score.TimeBounded)
		fmt.Printf("Testable:        %d\n", score.Testable)
		fmt.Printf("Independent:     %d\n", score.Independent)
		fmt.Printf("Clear completion: %d\n", score.ClearCompletion)
		if len(score.Missing) > 0 {
			fmt.Printf("Missing:         %s\n", strings.Join(score.Missing, "; "))
		}
		return nil
	},
}
