package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type planWave struct {
	Index  int        `json:"Index"`
	Groups [][]string `json:"Groups"`
}

type planResponse struct {
	TaskListID string     `json:"TaskListID"`
	Waves      []planWave `json:"Waves"`
}

var planCmd = &cobra.Command{
	Use:   "plan LIST_ID",
	Short: "Preview the execution plan for a task list without spawning anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := newAPIClient(addr)

		var plan planResponse
		if err := c.get(fmt.Sprintf("/v1/lists/%s/plan", args[0]), nil, &plan); err != nil {
			return err
		}

		if len(plan.Waves) == 0 {
			fmt.Println("No schedulable waves (list empty, all tasks terminal, or waiting on dependencies).")
			return nil
		}

		for _, wave := range plan.Waves {
			fmt.Printf("Wave %d:\n", wave.Index)
			for gi, group := range wave.Groups {
				fmt.Printf("  Group %d: %s\n", gi, strings.Join(group, ", "))
			}
		}
		return nil
	},
}
