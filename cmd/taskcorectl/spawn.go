package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn LIST_ID",
	Short: "Start execution of a task list, spawning workers for its first ready wave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := newAPIClient(addr)

		var resp map[string]string
		if err := c.post(fmt.Sprintf("/v1/lists/%s/start", args[0]), nil, &resp); err != nil {
			return err
		}

		fmt.Printf("task list %s: %s\n", args[0], resp["status"])
		return nil
	},
}
