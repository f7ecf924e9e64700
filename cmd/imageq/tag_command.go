package main

import (
	"fmt"

	"github.com/dunamismax/imageq/internal/naming"
	"github.com/spf13/cobra"
)

func newTagCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Print the parameter tag for a set of transform options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			// Validation needs a bag; the tag does not depend on it.
			req.Bags = []string{"tag"}
			if err := req.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), naming.TagForRequest(req))
			return nil
		},
	}
	flags.bind(cmd, false)
	return cmd
}
