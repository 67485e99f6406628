// Package activate implements the Activator: it creates or replaces
// symlinks in the user bin directory pointing at the active version's
// executables. Grounded on the symlink-replacement logic in
// original_source/src/ops/switch.rs (remove existing symlink/file at each
// bin target, then os.Symlink) and on manifest.EventFileOperation's
// path/created/updated reporting shape for the result type returned here.
package activate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aplpm/apl/internal/paths"
)

// Link is one resolved (source-relative-path, bin-target-name) pair,
// derived from a VersionInfo's bin list.
type Link struct {
	SrcRel string
	Target string
}

// ParseBinEntry splits a declared bin entry into its source path and bin
// name.
func ParseBinEntry(entry string) Link {
	src, target, ok := strings.Cut(entry, ":")
	if !ok {
		return Link{SrcRel: entry, Target: entry}
	}
	return Link{SrcRel: src, Target: target}
}

// Created records one symlink placed in the bin farm, for the State DB
// transaction that follows activation.
type Created struct {
	Target  string // bin-farm-relative symlink name
	Path    string // full BIN/<target> path
	RelPath string // path relative to the apl home, as stored in files.path
}

// Activator creates the bin-farm symlinks for one package version at a
// time. Activation across packages is serialized by the install engine;
// activation across many symlinks within one package is not atomic, by
// design.
type Activator struct {
	Paths paths.Paths
}

func New(p paths.Paths) *Activator { return &Activator{Paths: p} }

// Activate points BIN/<target> at STORE/name/version/<src_rel> for every
// link, removing whatever previously occupied that bin-farm slot first.
func (a *Activator) Activate(name, version string, links []Link) ([]Created, error) {
	storeDir := a.Paths.StoreDir(name, version)
	if err := os.MkdirAll(a.Paths.Bin, 0o755); err != nil {
		return nil, fmt.Errorf("activate: mkdir bin: %w", err)
	}

	var created []Created
	for _, l := range links {
		binPath := a.Paths.BinPath(l.Target)
		if err := os.MkdirAll(filepath.Dir(binPath), 0o755); err != nil {
			return created, fmt.Errorf("activate: mkdir parent for %s: %w", l.Target, err)
		}
		if err := os.Remove(binPath); err != nil && !os.IsNotExist(err) {
			return created, fmt.Errorf("activate: remove existing %s: %w", l.Target, err)
		}
		srcAbs := filepath.Join(storeDir, l.SrcRel)
		if err := os.Symlink(srcAbs, binPath); err != nil {
			return created, fmt.Errorf("activate: symlink %s -> %s: %w", binPath, srcAbs, err)
		}
		rel, err := filepath.Rel(a.Paths.Home, binPath)
		if err != nil {
			rel = binPath
		}
		created = append(created, Created{Target: l.Target, Path: binPath, RelPath: rel})
	}
	return created, nil
}

// Unlink removes one bin-farm entry, used by Remove for files tracked
// with kind=SYMLINK.
func (a *Activator) Unlink(binRelPath string) error {
	err := os.Remove(filepath.Join(a.Paths.Home, binRelPath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
