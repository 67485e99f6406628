package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/ident"
)

// parseNameVersion splits "name@version" for the use/switch verbs, which
// require an explicit version (unlike install's optional "@version").
func parseNameVersion(arg string) (ident.Name, string, error) {
	name, version, ok := strings.Cut(arg, "@")
	if !ok || version == "" {
		return "", "", userErr("expected name@version, got %q", arg)
	}
	return ident.NewName(name), version, nil
}

func runSwitch(opts *Options, arg string) error {
	name, version, err := parseNameVersion(arg)
	if err != nil {
		return err
	}
	if err := opts.Ops.Switch(name, version, opts.DryRun, time.Now().UnixMilli()); err != nil {
		return userErr("switch %s: %w", arg, err)
	}
	opts.Reporter().Done(string(name), version, 0)
	return nil
}

func newSwitchCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "switch name@version",
		Short: "Point a package's active version at an already-installed version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitch(opts, args[0])
		},
	}
}

// newUseCommand is an alias for switch under its other common name.
func newUseCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "use name@version",
		Short: "Alias for switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitch(opts, args[0])
		},
	}
}

func newRollbackCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback name",
		Short: "Restore the version active before the package's last successful change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ident.NewName(args[0])
			if err := opts.Ops.Rollback(name, opts.DryRun, time.Now().UnixMilli()); err != nil {
				return userErr("rollback %s: %w", name, err)
			}
			opts.Reporter().Done(string(name), "", 0)
			return nil
		},
	}
}
