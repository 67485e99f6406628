package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/install"
	"github.com/aplpm/apl/manifest"
	"github.com/aplpm/apl/resolve"
)

func newInstallCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "install [specs...]",
		Short: "Resolve and install one or more packages",
		Long: `Install resolves the dependency closure of the given specs (bare "name" or
"name@version") against the local registry index and installs every step.
With no specs, it installs from the project manifest (apl.toml) in the
current directory, honoring apl.lock if present.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(opts, args)
		},
	}
}

func runInstall(opts *Options, args []string) error {
	idx, err := loadIndex(opts)
	if err != nil {
		return err
	}
	arch, err := archForRuntime()
	if err != nil {
		return internalErr("%w", err)
	}

	var locked resolve.LockedVersions
	var lockPath string
	var lf manifest.Lockfile
	isProject := len(args) == 0
	targets := args
	if isProject {
		var manifestPath string
		manifestPath, lockPath = manifest.ResolveProjectPaths(".")
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return userErr("load %s: %w", manifestPath, err)
		}
		lf, err = manifest.LoadLockfile(lockPath, time.Now().Unix())
		if err != nil {
			return userErr("load %s: %w", lockPath, err)
		}
		locked = make(resolve.LockedVersions, len(lf.Packages))
		for _, p := range lf.Packages {
			locked[p.Name] = p.Version
		}
		for name, req := range m.Dependencies {
			if req != "" && req != "*" {
				targets = append(targets, name.String()+"@"+req)
			} else {
				targets = append(targets, name.String())
			}
		}
	}

	r := resolve.New(idx, arch, opts.DB, locked)
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

	if isProject && !opts.DryRun {
		if err := writeBackLockfile(&lf, lockPath, plan, results); err != nil {
			return ioErr("write %s: %w", lockPath, err)
		}
	}

	return installResultsToExitCode(results)
}

// writeBackLockfile pins every successfully installed step at its resolved
// version and artifact digest, then saves apl.lock atomically. Resolution
// without a lockfile write-back would re-resolve from scratch on every
// subsequent `apl install`; this is what lets a second run see the pins
// instead.
func writeBackLockfile(lf *manifest.Lockfile, lockPath string, plan resolve.Plan, results []install.Result) error {
	now := time.Now().Unix()
	failed := make(map[ident.Name]bool, len(results))
	for _, r := range results {
		if r.Fail != nil {
			failed[r.Name] = true
		}
	}
	for _, step := range plan.Steps {
		if failed[step.Name] {
			continue
		}
		lf.AddPackage(manifest.LockedPackage{
			Name:      step.Name,
			Version:   step.Version,
			URL:       step.Artifact.URL,
			SHA256:    step.Artifact.SHA256,
			Timestamp: now,
		}, now)
	}
	return lf.Save(lockPath)
}

// installResultsToExitCode maps a run's per-package outcomes to the process
// exit code it should produce: 3 if any package failed for a reason other
// than a hash mismatch, otherwise 2 if any failed on a hash mismatch, 0 if
// every package succeeded.
func installResultsToExitCode(results []install.Result) error {
	worst := 0
	var cause error
	for _, r := range results {
		if r.Fail == nil {
			continue
		}
		code := 3
		if *r.Fail == install.FailHash {
			code = 2
		}
		if code > worst {
			worst = code
			cause = r.Err
		}
	}
	if worst == 0 {
		return nil
	}
	return &exitCode{Code: worst, Err: cause}
}
