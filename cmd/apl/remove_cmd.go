package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/ident"
)

func newRemoveCommand(opts *Options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove <names...>",
		Short: "Remove installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UnixMilli()
			for _, a := range args {
				name := ident.NewName(a)
				if err := opts.Ops.Remove(name, force, opts.DryRun, now); err != nil {
					return userErr("remove %s: %w", name, err)
				}
				opts.Reporter().Done(string(name), "", 0)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove metadata even if no files are tracked")
	return cmd
}
