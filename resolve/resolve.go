// Package resolve implements the Resolver: it turns a list
// of user package specs, the loaded index, and the installed-package state
// into a deterministic install plan. The breadth-first dependency walk with
// cycle detection is adapted from the topological-sort logic that used to
// live in this repo's manifest/template.go (dependency graph ordering for
// a build plan), generalized here from a total order to a closure walk
// that also resolves artifacts and reconciles version conflicts.
package resolve

import (
	"errors"
	"fmt"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
	"github.com/aplpm/apl/statedb"
)

// ErrNotFound is returned when a spec names a package absent from the
// index.
var ErrNotFound = errors.New("resolve: package not found in index")

// ErrVersionNotFound is returned when a spec pins a version absent from
// the package's version list.
var ErrVersionNotFound = errors.New("resolve: version not found")

// ErrNoArtifact is returned when a version has no artifact for the current
// architecture and no universal fallback.
var ErrNoArtifact = errors.New("resolve: no artifact for architecture")

// ErrCycle is returned when the dependency graph contains a cycle;
// dependency graphs are expected to be acyclic, so this is always
// surfaced rather than silently broken.
var ErrCycle = errors.New("resolve: dependency cycle")

// VersionConflict is returned when two paths through the dependency graph
// demand different versions of the same package and at least one side is
// pinned.
type VersionConflict struct {
	Name ident.Name
	A, B string
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("resolve: version conflict for %s: %s vs %s", e.Name, e.A, e.B)
}

// Installed reports, for one package, the currently active version (if
// any), used to drop already-satisfied dependency rows from the closure
// walk.
type Installed interface {
	GetPackage(name ident.Name) (statedb.Package, bool, error)
}

// Step is one resolved entry in an install plan.
type Step struct {
	Name     ident.Name
	Version     string
	Description string
	Type        string
	Artifact    index.ArtifactRef
	Bin         []string
	Pinned      bool
}

// Plan is the Resolver's output: a deterministic, dependency-ordered list
// of steps sufficient to install every requested spec and its transitive
// runtime dependencies.
type Plan struct {
	Steps []Step
}

// LockedVersions maps a package name to the version a project lockfile
// pins it to. A nil map means no lockfile is in play.
type LockedVersions map[ident.Name]string

// Resolver turns specs into a Plan against one loaded index.
type Resolver struct {
	Index     *index.PackageIndex
	Arch      ident.Arch
	Installed Installed
	Locked    LockedVersions
}

func New(idx *index.PackageIndex, arch ident.Arch, installed Installed, locked LockedVersions) *Resolver {
	return &Resolver{Index: idx, Arch: arch, Installed: installed, Locked: locked}
}

// pending tracks, per package name, the version chosen so far and whether
// that choice is pinned (explicit user spec or lockfile entry — these may
// not be overridden by a transitive dependency's looser requirement).
type pending struct {
	version string
	pinned  bool
}

// Resolve walks specs and their transitive dependencies into a Plan.
func (r *Resolver) Resolve(specs []ident.Spec) (Plan, error) {
	chosen := make(map[ident.Name]pending)
	order := make([]ident.Name, 0, len(specs))
	visiting := make(map[ident.Name]bool)

	var walk func(name ident.Name, wantVersion string, pinned bool) error
	walk = func(name ident.Name, wantVersion string, pinned bool) error {
		if locked, ok := r.Locked[name]; ok {
			wantVersion, pinned = locked, true
		}

		if visiting[name] {
			return fmt.Errorf("%w: %s", ErrCycle, name)
		}

		if prev, ok := chosen[name]; ok {
			if wantVersion == "" || prev.version == wantVersion {
				if pinned && !prev.pinned {
					prev.pinned = true
					chosen[name] = prev
				}
				return nil
			}
			if pinned || prev.pinned {
				return &VersionConflict{Name: name, A: prev.version, B: wantVersion}
			}
			// Neither side pinned: prefer the higher semver.
			if index.IsNewer(prev.version, wantVersion) {
				prev.version = wantVersion
				chosen[name] = prev
			}
			return nil
		}

		visiting[name] = true
		defer func() { visiting[name] = false }()

		entry, ok := r.Index.Find(string(name))
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		var vi index.VersionInfo
		if wantVersion != "" {
			found := false
			for _, v := range entry.Versions {
				if v.Version == wantVersion {
					vi, found = v, true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %s@%s", ErrVersionNotFound, name, wantVersion)
			}
		} else {
			var ok bool
			vi, ok = index.Latest(entry, false)
			if !ok {
				return fmt.Errorf("%w: %s has no versions", ErrVersionNotFound, name)
			}
		}

		if r.satisfiedByInstalled(name, vi.Version) {
			chosen[name] = pending{version: vi.Version, pinned: pinned}
			return nil
		}

		chosen[name] = pending{version: vi.Version, pinned: pinned}
		order = append(order, name)

		for _, dep := range vi.Deps {
			if err := walk(dep, "", false); err != nil {
				return err
			}
		}
		return nil
	}

	for _, spec := range specs {
		pinned := spec.Version != ""
		if err := walk(spec.Name, spec.Version, pinned); err != nil {
			return Plan{}, err
		}
	}

	steps := make([]Step, 0, len(order))
	for _, name := range order {
		p := chosen[name]
		entry, _ := r.Index.Find(string(name))
		var vi index.VersionInfo
		for _, v := range entry.Versions {
			if v.Version == p.version {
				vi = v
				break
			}
		}
		art, err := index.SelectArtifact(vi, r.Arch)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: %s@%s", ErrNoArtifact, name, p.version)
		}
		steps = append(steps, Step{
			Name:        name,
			Version:     p.version,
			Description: entry.Description,
			Type:        entry.Type,
			Artifact:    art,
			Bin:         vi.Bin,
			Pinned:      p.pinned,
		})
	}
	return Plan{Steps: steps}, nil
}

// satisfiedByInstalled reports whether the active installed version of
// name already matches or exceeds wantVersion, so the already-installed-
// and-satisfied row can be dropped from the plan.
func (r *Resolver) satisfiedByInstalled(name ident.Name, wantVersion string) bool {
	if r.Installed == nil {
		return false
	}
	pkg, ok, err := r.Installed.GetPackage(name)
	if err != nil || !ok || pkg.ActiveVersion == "" {
		return false
	}
	if pkg.ActiveVersion == wantVersion {
		return true
	}
	// Active version satisfies the requirement if it is not older than
	// wantVersion (matching or newer step 4).
	return !index.IsNewer(pkg.ActiveVersion, wantVersion)
}
