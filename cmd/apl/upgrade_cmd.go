package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
	"github.com/aplpm/apl/install"
	"github.com/aplpm/apl/resolve"
	"github.com/aplpm/apl/statedb"
)

func newUpgradeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [names...]",
		Short: "Install the latest version of installed packages that have updates available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(opts, args)
		},
	}
}

func runUpgrade(opts *Options, names []string) error {
	idx, err := loadIndex(opts)
	if err != nil {
		return err
	}
	arch, err := archForRuntime()
	if err != nil {
		return internalErr("%w", err)
	}

	installed, err := opts.DB.ListPackages()
	if err != nil {
		return internalErr("list packages: %w", err)
	}
	wanted := make(map[ident.Name]bool, len(names))
	for _, n := range names {
		wanted[ident.NewName(n)] = true
	}

	var targets []string
	for _, pkg := range installed {
		if len(names) > 0 && !wanted[pkg.Name] {
			continue
		}
		entry, ok := idx.Find(string(pkg.Name))
		if !ok {
			continue
		}
		latest, ok := index.Latest(entry, false)
		if !ok || !index.IsNewer(pkg.ActiveVersion, latest.Version) {
			continue
		}
		targets = append(targets, pkg.Name.String()+"@"+latest.Version)
	}
	if len(targets) == 0 {
		opts.Reporter().Summary("upgraded", 0, 0)
		return nil
	}

	r := resolve.New(idx, arch, installedView(opts.DB), resolve.LockedVersions{})
	plan, err := r.Resolve(parseSpecs(targets))
	if err != nil {
		return userErr("resolve: %w", err)
	}

	engine := install.New(opts.Paths, opts.DB, opts.Reporter(), opts.Config)
	var results []install.Result
	if opts.DryRun {
		results = engine.DryRun(plan)
	} else {
		results = engine.Run(context.Background(), plan)
	}
	return installResultsToExitCode(results)
}

// installedView adapts *statedb.Handle to resolve.Installed explicitly, for
// readability at upgrade's call site (install's call site relies on the
// same structural match without naming it).
func installedView(db *statedb.Handle) resolve.Installed { return db }
