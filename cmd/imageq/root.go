package main

import (
	"github.com/dunamismax/imageq/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "imageq",
		Short:         "Generate image derivatives for archival bags",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file before reading configuration")

	loadConfig := func() (config.Config, error) {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return config.Config{}, err
			}
		} else {
			_ = godotenv.Load()
		}
		return config.Load(), nil
	}

	rootCmd.AddCommand(newTagCommand())
	rootCmd.AddCommand(newGenerateCommand(loadConfig))
	rootCmd.AddCommand(newEnqueueCommand(loadConfig))
	rootCmd.AddCommand(newTransformCommand(loadConfig))

	return rootCmd
}
