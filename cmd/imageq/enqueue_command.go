package main

import (
	"time"

	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/id"
	"github.com/dunamismax/imageq/internal/queue"
	"github.com/spf13/cobra"
)

func newEnqueueCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a derivative task for the worker without going through the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
			defer client.Close()

			jobID := id.New()
			info, err := client.EnqueueGenerateDerivatives(cmd.Context(), queue.GenerateDerivativesPayload{
				JobID:       jobID,
				Request:     req,
				RequestedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{
				"job_id":  jobID,
				"queue":   info.Queue,
				"task_id": info.ID,
				"state":   info.State.String(),
			})
		},
	}
	flags.bind(cmd, true)
	_ = cmd.MarkFlagRequired("bag")
	return cmd
}
