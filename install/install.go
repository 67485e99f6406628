// Package install implements the Install Engine: it drives
// each resolved plan step through Fetching, Verifying, Extracting,
// Staging and the store commit with bounded concurrency across packages,
// then a second, strictly sequential pass Activates every step and
// records it through the State DB actor, in package-name order.
//
// The bounded-worker-pool shape is grounded on
// original_source/src/ops/install.rs's concurrent download/extract loop
// (tokio JoinSet capped at a worker count), adapted here to
// golang.org/x/sync/errgroup.SetLimit — the concurrency primitive the
// pack's Orizon repo uses for the same bounded-fan-out shape over
// goroutines instead of async tasks.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aplpm/apl/activate"
	"github.com/aplpm/apl/config"
	"github.com/aplpm/apl/extract"
	"github.com/aplpm/apl/fetch"
	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/internal/paths"
	"github.com/aplpm/apl/report"
	"github.com/aplpm/apl/resolve"
	"github.com/aplpm/apl/statedb"
	"github.com/aplpm/apl/store"
)

// Phase names a package's position in the state machine, used only for
// diagnostics; terminal states are carried on Result instead.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseResolving   Phase = "resolving"
	PhaseFetching    Phase = "fetching"
	PhaseVerifying   Phase = "verifying"
	PhaseExtracting  Phase = "extracting"
	PhaseStaging     Phase = "staging"
	PhaseCommitting  Phase = "committing"
	PhaseActivating  Phase = "activating"
	PhaseDone        Phase = "done"
)

// FailureStage names which phase a package failed in, matching the
// Failed(...) branches of the install state machine.
type FailureStage string

const (
	FailNetwork FailureStage = "network"
	FailHash    FailureStage = "hash"
	FailExtract FailureStage = "extract"
	FailStage   FailureStage = "stage"
	FailCommit  FailureStage = "commit"
)

// Result is the per-package outcome of one Run.
type Result struct {
	Name    ident.Name
	Version string
	Skipped bool // already installed at a satisfying version
	Fail    *FailureStage
	Err     error
}

// maxWorkers caps the default concurrency at 8 CPUs, used when the operator
// config leaves Parallelism at its zero-value "engine picks" default.
func maxWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Engine drives a resolved Plan to completion.
type Engine struct {
	Paths    paths.Paths
	DB       *statedb.Handle
	Fetcher  *fetch.Client
	Store    *store.Store
	Activate *activate.Activator
	Reporter report.Reporter
	Workers  int
}

// New wires an Engine from its component dependencies, honoring the
// operator's configured download parallelism and HTTP timeout.
func New(p paths.Paths, db *statedb.Handle, r report.Reporter, cfg config.Config) *Engine {
	workers := cfg.Parallelism
	if workers <= 0 {
		workers = maxWorkers()
	}
	return &Engine{
		Paths:    p,
		DB:       db,
		Fetcher:  fetch.NewClient(cfg.HTTPTimeout()),
		Store:    store.New(p),
		Activate: activate.New(p),
		Reporter: r,
		Workers:  workers,
	}
}

// DryRun reports the plan without fetching or mutating any state:
// dry-run mode short-circuits before fetching.
func (e *Engine) DryRun(plan resolve.Plan) []Result {
	results := make([]Result, 0, len(plan.Steps))
	names := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		names = append(names, fmt.Sprintf("%s@%s", s.Name, s.Version))
	}
	e.Reporter.Planning(names)
	for _, s := range plan.Steps {
		results = append(results, Result{Name: s.Name, Version: s.Version})
	}
	return results
}

// prepared is one step's outcome through Store.Commit, before activation.
type prepared struct {
	step resolve.Step
	meta store.Meta
	now  int64
	fail *FailureStage
	err  error
}

// Run executes a resolved plan: up to Workers packages proceed through
// Fetching, Verifying, Extracting, Staging and the store commit
// concurrently; store commits are not serialized against each other.
// Once every step has reached the store (or failed), Activating and the
// State DB writes run as a second, strictly sequential pass sorted by
// package name, so the bin-farm symlinks and State DB rows land in that
// order rather than whichever package happened to download fastest.
// Partial failure does not abort the whole run — every step is attempted
// and returns its own Result.
func (e *Engine) Run(ctx context.Context, plan resolve.Plan) []Result {
	names := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		names[i] = fmt.Sprintf("%s@%s", s.Name, s.Version)
	}
	e.Reporter.Planning(names)

	prep := make([]prepared, len(plan.Steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)

	for i, step := range plan.Steps {
		i, step := i, step
		g.Go(func() error {
			prep[i] = e.prepareStep(gctx, step)
			return nil // per-package failures don't cancel the group
		})
	}
	_ = g.Wait()

	order := make([]int, len(plan.Steps))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return plan.Steps[order[a]].Name < plan.Steps[order[b]].Name })

	results := make([]Result, len(plan.Steps))
	for _, i := range order {
		p := prep[i]
		if p.fail != nil {
			results[i] = Result{Name: p.step.Name, Version: p.step.Version, Fail: p.fail, Err: p.err}
			continue
		}
		results[i] = e.finish(p.step, p.meta, p.now)
	}
	return results
}

// prepareStep runs Fetching through Committing for one step. Each step
// commits to its own (name, version) store directory, so this phase is
// safe to run with full concurrency across the worker pool.
func (e *Engine) prepareStep(ctx context.Context, step resolve.Step) prepared {
	e.Reporter.Resolving(string(step.Name))
	now := time.Now().UnixMilli()

	if _, ok := e.Store.Open(string(step.Name), step.Version); ok {
		if meta, err := e.Store.ReadMeta(string(step.Name), step.Version); err == nil && meta.SHA256 == string(step.Artifact.SHA256) {
			return prepared{step: step, meta: meta, now: now}
		}
	}

	e.Reporter.Downloading(string(step.Name), 0, 0)
	archivePath := filepath.Join(e.Paths.Cache, fmt.Sprintf("%s-%s%s", step.Name, step.Version, archiveSuffix(step)))
	if _, err := e.Fetcher.Download(ctx, step.Artifact.URL, archivePath, string(step.Name), e.Reporter); err != nil {
		fail := FailNetwork
		e.Reporter.Failed(string(step.Name), err)
		e.recordFailure(step, now)
		return prepared{step: step, now: now, fail: &fail, err: err}
	}
	defer os.Remove(archivePath)

	e.Reporter.Extracting(string(step.Name))
	stagingDir := filepath.Join(e.Paths.Tmp, fmt.Sprintf("stage-%s-%s", step.Name, step.Version))
	res, err := extract.VerifyAndExtract(archivePath, step.Artifact.SHA256, step.Artifact.Format, stagingDir)
	if err != nil {
		os.RemoveAll(stagingDir)
		fail := classifyExtractFailure(err)
		e.Reporter.Failed(string(step.Name), err)
		e.recordFailure(step, now)
		return prepared{step: step, now: now, fail: &fail, err: err}
	}

	e.Reporter.Installing(string(step.Name))
	meta, err := e.Store.Commit(string(step.Name), step.Version, stagingDir, step.Artifact.SHA256, res.Blake3, sizeOf(stagingDir), step.Bin)
	if err != nil {
		fail := FailCommit
		e.Reporter.Failed(string(step.Name), err)
		e.recordFailure(step, now)
		return prepared{step: step, now: now, fail: &fail, err: err}
	}

	return prepared{step: step, meta: meta, now: now}
}

// finish activates a committed step's binaries and records it in the
// State DB. Called only from Run's sequential, name-ordered pass.
func (e *Engine) finish(step resolve.Step, meta store.Meta, now int64) Result {
	from := ""
	if prev, ok, perr := e.DB.GetPackage(step.Name); perr == nil && ok && prev.ActiveVersion != step.Version {
		from = prev.ActiveVersion
	}

	links := make([]activate.Link, 0, len(meta.Bin))
	for _, b := range meta.Bin {
		links = append(links, activate.ParseBinEntry(b))
	}

	created, err := e.Activate.Activate(string(step.Name), step.Version, links)
	if err == nil {
		files := make([]statedb.FileRow, 0, len(created))
		for _, c := range created {
			files = append(files, statedb.FileRow{Name: step.Name, Version: step.Version, Path: c.RelPath, Kind: statedb.KindSymlink})
		}
		err = e.DB.InstallComplete(statedb.InstallCompleteArgs{
			Name:        step.Name,
			Description: step.Description,
			Type:        step.Type,
			Version:     step.Version,
			SHA256:      step.Artifact.SHA256,
			SizeBytes:   meta.SizeBytes,
			InstalledAt: now,
			ActiveFiles: files,
		})
	}
	if err == nil {
		e.DB.AddHistory(step.Name, statedb.ActionInstall, from, step.Version, now, true)
	}

	if err != nil {
		fail := FailCommit
		e.Reporter.Failed(string(step.Name), err)
		return Result{Name: step.Name, Version: step.Version, Fail: &fail, Err: err}
	}

	e.Reporter.Done(string(step.Name), step.Version, meta.SizeBytes)
	return Result{Name: step.Name, Version: step.Version}
}

func (e *Engine) recordFailure(step resolve.Step, now int64) {
	e.DB.AddHistory(step.Name, statedb.ActionInstall, "", step.Version, now, false)
}

func archiveSuffix(step resolve.Step) string {
	switch step.Artifact.Format {
	case "tar.gz":
		return ".tar.gz"
	case "tar.xz":
		return ".tar.xz"
	case "tar.zst":
		return ".tar.zst"
	case "zip":
		return ".zip"
	default:
		return ".bin"
	}
}

func classifyExtractFailure(err error) FailureStage {
	var hashErr *extract.HashMismatchError
	if errors.As(err, &hashErr) {
		return FailHash
	}
	return FailExtract
}

func sizeOf(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
