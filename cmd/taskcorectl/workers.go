package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type workerInstance struct {
	ID               string
	TaskID           string
	TaskListID       string
	PID              int
	Hostname         string
	Status           string
	LastHeartbeatAt  time.Time
	HeartbeatCount   int
	MissedHeartbeats int
	TasksCompleted   int
	TasksFailed      int
	SpawnedAt        time.Time
}

var workersCmd = &cobra.Command{
	Use:   "workers LIST_ID",
	Short: "List the running workers for a task list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := newAPIClient(addr)

		var workers []workerInstance
		if err := c.get(fmt.Sprintf("/v1/lists/%s/workers", args[0]), nil, &workers); err != nil {
			return err
		}

		if len(workers) == 0 {
			fmt.Println("No active workers")
			return nil
		}

		fmt.Printf("%-36s %-12s %-7s %-10s %-8s %s\n", "WORKER", "TASK", "PID", "STATUS", "MISSED", "LAST HEARTBEAT")
		fmt.Println(strings.Repeat("-", 95))
		for _, w := range workers {
			fmt.Printf("%-36s %-12s %-7d %-10s %-8d %s\n",
				w.ID, w.TaskID, w.PID, w.Status, w.MissedHeartbeats, w.LastHeartbeatAt.Format(time.RFC3339))
		}
		return nil
	},
}
