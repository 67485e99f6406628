package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
)

func newListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packages and their active versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := opts.DB.ListPackages()
			if err != nil {
				return internalErr("list packages: %w", err)
			}
			for _, p := range pkgs {
				fmt.Fprintf(opts.Out, "%s\t%s\t%s\n", p.Name, p.ActiveVersion, p.Type)
			}
			return nil
		},
	}
}

func newSearchCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "search query",
		Short: "Search the local registry index by name, description or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := loadIndex(opts)
			if err != nil {
				return err
			}
			query := strings.ToLower(args[0])
			found := false
			for _, e := range idx.Packages {
				if matchesQuery(e, query) {
					found = true
					latest, _ := index.Latest(&e, false)
					fmt.Fprintf(opts.Out, "%s\t%s\t%s\n", e.Name, latest.Version, e.Description)
				}
			}
			if !found {
				fmt.Fprintf(opts.Out, "no packages found matching %q\n", args[0])
			}
			return nil
		},
	}
}

// matchesQuery reports whether a search term appears in an entry's name,
// description or tags.
func matchesQuery(e index.IndexEntry, query string) bool {
	if strings.Contains(strings.ToLower(string(e.Name)), query) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Description), query) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func newInfoCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "info name",
		Short: "Show registry and local install details for one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := loadIndex(opts)
			if err != nil {
				return err
			}
			entry, ok := idx.Find(args[0])
			if !ok {
				return userErr("unknown package %q", args[0])
			}
			fmt.Fprintf(opts.Out, "%s — %s\n", entry.Name, entry.Description)
			if entry.Homepage != "" {
				fmt.Fprintf(opts.Out, "homepage: %s\n", entry.Homepage)
			}
			fmt.Fprintf(opts.Out, "versions:\n")
			for _, v := range entry.Versions {
				fmt.Fprintf(opts.Out, "  %s\n", v.Version)
			}
			if pkg, ok, err := opts.DB.GetPackage(ident.NewName(args[0])); err == nil && ok {
				fmt.Fprintf(opts.Out, "installed: %s (active)\n", pkg.ActiveVersion)
			}
			return nil
		},
	}
}

func newHistoryCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "history name",
		Short: "Show the install/switch/remove/rollback journal for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := opts.DB.GetHistory(ident.NewName(args[0]))
			if err != nil {
				return internalErr("get history: %w", err)
			}
			for _, r := range rows {
				fmt.Fprintf(opts.Out, "%d\t%s\t%s -> %s\tsuccess=%v\n", r.TsMillis, r.Action, r.VersionFrom, r.VersionTo, r.Success)
			}
			return nil
		},
	}
}

func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the registry URL, installed package count and apl home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := opts.DB.ListPackages()
			if err != nil {
				return internalErr("list packages: %w", err)
			}
			fmt.Fprintf(opts.Out, "registry:  %s\n", opts.Config.RegistryURL)
			fmt.Fprintf(opts.Out, "packages:  %d installed\n", len(pkgs))
			fmt.Fprintf(opts.Out, "home:      %s\n", opts.Paths.Home)
			return nil
		},
	}
}

func newCleanCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove store directories with no installed_versions row referencing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := opts.Ops.Clean(opts.DryRun)
			if err != nil {
				return internalErr("clean: %w", err)
			}
			for _, path := range removed {
				fmt.Fprintln(opts.Out, path)
			}
			opts.Reporter().Summary("cleaned", len(removed), 0)
			return nil
		},
	}
}
