package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
)

func newStatusCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a job's current status and per-tenant summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" {
				return exitWith(exitUsageError, fmt.Errorf("--job is required"))
			}

			store, err := statestore.Open(cmd.Context(), cfg.StateStoreEndpoint)
			if err != nil {
				return exitWith(exitStoreUnreachable, fmt.Errorf("connecting to state store: %w", err))
			}
			defer store.Close()

			job, err := store.GetJob(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("looking up job %q: %w", jobID, err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("encoding job status: %w", err)
			}

			if job.Status == model.JobStatusRunning {
				return nil
			}
			return exitForJobStatus(job)
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "job ID")
	return cmd
}
