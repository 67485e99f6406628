// Package ops implements the operations that sit above a single install
// run: Switch/Use, Rollback, Remove and Clean.
// Grounded on original_source/src/ops/switch.rs (look up the requested
// version, relink its binaries, persist via install_complete+history) and
// original_source/src/ops/remove.rs (delete tracked files, then the DB
// rows, then a history row), translated from the original's per-package
// async tasks to plain sequential calls through the same statedb.Handle,
// activate.Activator and store.Store the install engine uses.
package ops

import (
	"fmt"
	"os"

	"github.com/aplpm/apl/activate"
	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/internal/paths"
	"github.com/aplpm/apl/statedb"
	"github.com/aplpm/apl/store"
)

// ErrNotInstalled is returned when the requested package or package
// version has no row in the state database.
var ErrNotInstalled = fmt.Errorf("ops: not installed")

// ErrMissingArtifacts is returned when a version row exists in the state
// database but its store directory is gone from disk.
var ErrMissingArtifacts = fmt.Errorf("ops: store artifacts missing")

// ErrNoHistory is returned by Rollback when a package has no history row
// to roll back from.
var ErrNoHistory = fmt.Errorf("ops: no history to roll back")

// Manager wires the state database, content store and activator together
// for the operations below. It holds no package-specific state itself.
type Manager struct {
	Paths    paths.Paths
	DB       *statedb.Handle
	Store    *store.Store
	Activate *activate.Activator
}

// New constructs a Manager from its component dependencies.
func New(p paths.Paths, db *statedb.Handle) *Manager {
	return &Manager{
		Paths:    p,
		DB:       db,
		Store:    store.New(p),
		Activate: activate.New(p),
	}
}

// Switch points name's active version at version. If version is already
// active this is a no-op. dryRun reports what would happen without
// touching the bin farm or the state database.
func (m *Manager) Switch(name ident.Name, version string, dryRun bool, now int64) error {
	prev, hasPrev, err := m.DB.GetPackage(name)
	if err != nil {
		return fmt.Errorf("ops: switch: %w", err)
	}
	if hasPrev && prev.ActiveVersion == version {
		return nil
	}

	iv, ok, err := m.DB.GetPackageVersion(name, version)
	if err != nil {
		return fmt.Errorf("ops: switch: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s@%s", ErrNotInstalled, name, version)
	}

	storeDir, ok := m.Store.Open(string(name), version)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingArtifacts, storeDir)
	}
	if dryRun {
		return nil
	}

	meta, err := m.Store.ReadMeta(string(name), version)
	if err != nil {
		return fmt.Errorf("ops: switch: read meta: %w", err)
	}

	links := make([]activate.Link, 0, len(meta.Bin))
	for _, b := range meta.Bin {
		links = append(links, activate.ParseBinEntry(b))
	}
	created, err := m.Activate.Activate(string(name), version, links)
	if err != nil {
		return fmt.Errorf("ops: switch: activate: %w", err)
	}

	files := make([]statedb.FileRow, 0, len(created))
	for _, c := range created {
		files = append(files, statedb.FileRow{Name: name, Version: version, Path: c.RelPath, Kind: statedb.KindSymlink})
	}

	args := statedb.InstallCompleteArgs{
		Name:        name,
		Description: prev.Description,
		Type:        prev.Type,
		Version:     version,
		SHA256:      iv.SHA256,
		SizeBytes:   iv.SizeBytes,
		InstalledAt: iv.InstalledAt,
		ActiveFiles: files,
	}
	if err := m.DB.InstallComplete(args); err != nil {
		return fmt.Errorf("ops: switch: persist: %w", err)
	}

	from := ""
	if hasPrev {
		from = prev.ActiveVersion
	}
	return m.DB.AddHistory(name, statedb.ActionSwitch, from, version, now, true)
}

// Rollback restores the version that was active before the package's last
// successful history entry. If that entry was a fresh install (no
// version_from), rollback degrades to Remove.
func (m *Manager) Rollback(name ident.Name, dryRun bool, now int64) error {
	last, ok, err := m.DB.GetLastSuccessfulHistory(name)
	if err != nil {
		return fmt.Errorf("ops: rollback: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHistory, name)
	}

	if last.VersionFrom == "" {
		if last.Action != statedb.ActionInstall {
			return fmt.Errorf("ops: rollback: %s: previous state unknown (action=%s)", name, last.Action)
		}
		return m.Remove(name, true, dryRun, now)
	}

	if _, ok, err := m.DB.GetPackageVersion(name, last.VersionFrom); err != nil {
		return fmt.Errorf("ops: rollback: %w", err)
	} else if !ok {
		return fmt.Errorf("%w: %s@%s no longer installed", ErrNotInstalled, name, last.VersionFrom)
	}

	if err := m.Switch(name, last.VersionFrom, dryRun, now); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	return m.DB.AddHistory(name, statedb.ActionRollback, last.VersionTo, last.VersionFrom, now, true)
}

// Remove unlinks a package's tracked files and deletes its rows from the
// state database: the packages row, the files rows, and the
// installed_versions rows of every installed version, not only the active
// one. The store directories are left on disk; a later Clean reclaims
// them, since no row references them any more. force allows removing a package with no tracked files
// (metadata-only cleanup); without force that is an error.
func (m *Manager) Remove(name ident.Name, force, dryRun bool, now int64) error {
	pkg, ok, err := m.DB.GetPackage(name)
	if err != nil {
		return fmt.Errorf("ops: remove: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	files, err := m.DB.GetPackageFiles(name)
	if err != nil {
		return fmt.Errorf("ops: remove: %w", err)
	}
	if len(files) == 0 && !force {
		return fmt.Errorf("ops: remove: %s: no tracked files (retry with force)", name)
	}

	if dryRun {
		return nil
	}

	for _, f := range files {
		full := m.fullPath(f.Path)
		var rmErr error
		if f.Kind == statedb.KindAppBundle {
			rmErr = os.RemoveAll(full)
		} else {
			rmErr = os.Remove(full)
		}
		if rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("ops: remove: unlink %s: %w", full, rmErr)
		}
	}

	if _, err := m.DB.RemovePackage(name); err != nil {
		return fmt.Errorf("ops: remove: %w", err)
	}
	return m.DB.AddHistory(name, statedb.ActionRemove, pkg.ActiveVersion, "", now, true)
}

func (m *Manager) fullPath(relOrAbs string) string {
	if relOrAbs == "" {
		return relOrAbs
	}
	if relOrAbs[0] == '/' {
		return relOrAbs
	}
	return m.Paths.Home + string(os.PathSeparator) + relOrAbs
}

// Clean walks the content store and removes every (name, version)
// directory that no installed_versions row references.
func (m *Manager) Clean(dryRun bool) ([]string, error) {
	pkgs, err := m.DB.ListPackages()
	if err != nil {
		return nil, fmt.Errorf("ops: clean: %w", err)
	}
	keep := make(map[[2]string]bool)
	for _, p := range pkgs {
		versions, err := m.DB.ListPackageVersions(p.Name)
		if err != nil {
			return nil, fmt.Errorf("ops: clean: %w", err)
		}
		for _, v := range versions {
			keep[[2]string{string(p.Name), v.Version}] = true
		}
	}
	return m.Store.Clean(keep, dryRun)
}
