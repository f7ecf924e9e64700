package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/imageq/internal/bootstrap"
	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/id"
	"github.com/dunamismax/imageq/internal/pipeline"
	"github.com/spf13/cobra"
)

func newGenerateCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var (
		flags  requestFlags
		taskID string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a derivative task in this process and print its manifest",
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
			if taskID == "" {
				taskID = id.New()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New(cmd.ErrOrStderr(), "[imageq] ", log.LstdFlags|log.Lmsgprefix)
			if err := pipeline.Startup(); err != nil {
				return fmt.Errorf("image runtime startup: %w", err)
			}
			defer pipeline.Shutdown()

			orchestrator, release, err := bootstrap.Orchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			result, err := orchestrator.Run(ctx, taskID, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	flags.bind(cmd, true)
	_ = cmd.MarkFlagRequired("bag")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task identifier used for the staging directory (default random)")
	return cmd
}
