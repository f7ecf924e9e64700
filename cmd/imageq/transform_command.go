package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imageq/internal/bootstrap"
	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/id"
	"github.com/dunamismax/imageq/internal/pipeline"
	"github.com/dunamismax/imageq/internal/queue"
	"github.com/spf13/cobra"
)

func newTransformCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var (
		flags     requestFlags
		inPath    string
		outPath   string
		inputRoot string
		taskID    string
		enqueue   bool
	)

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform a single local image into a task directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			derivative, err := flags.request(cmd)
			if err != nil {
				return err
			}
			req := domain.FileRequest{
				InPath:  inPath,
				OutPath: outPath,
				Format:  derivative.Format,
				Filter:  derivative.Filter,
				Scale:   derivative.Scale,
				Crop:    derivative.Crop,
			}.Normalized()
			if err := req.Validate(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = id.New()
			}

			if enqueue {
				client := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
				defer client.Close()

				info, err := client.EnqueueTransformFile(cmd.Context(), queue.TransformFilePayload{
					JobID:       taskID,
					Request:     req,
					RequestedAt: time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]string{
					"job_id":  taskID,
					"queue":   info.Queue,
					"task_id": info.ID,
					"state":   info.State.String(),
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := pipeline.Startup(); err != nil {
				return fmt.Errorf("image runtime startup: %w", err)
			}
			defer pipeline.Shutdown()

			cfg.Worker.InputRoot = inputRoot
			logger := log.New(cmd.ErrOrStderr(), "[imageq] ", log.LstdFlags|log.Lmsgprefix)
			task, err := bootstrap.FileTask(cfg, logger)
			if err != nil {
				return err
			}
			result, err := task.Run(ctx, taskID, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	flags.bind(cmd, false)
	cmd.Flags().StringVar(&inPath, "in", "", "Source image path")
	cmd.Flags().StringVar(&outPath, "out", "", "Output path relative to the task directory")
	cmd.Flags().StringVar(&inputRoot, "input-root", "", "Resolve --in under this directory (in-process runs only)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task identifier used for the task directory (default random)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Queue the transform for the worker instead of running it here")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
