// Package manifest parses a project's apl.toml manifest and its companion
// apl.lock lockfile.
//
// Grounded on original_source/crates/apl-core/src/manifest.rs (Manifest,
// ProjectObj, Lockfile, LockPackage shapes and their async load/save
// methods) and original_source/src/core/lockfile.rs (add_package's
// dedup-by-name-then-resort behavior and a generated_at timestamp on the
// whole file, which that crate's sibling module lacked per-entry). Ported
// from tokio::fs + toml::from_str/to_string_pretty to synchronous os
// calls + github.com/pelletier/go-toml/v2, matching its predecessor's
// synchronous os/exec-and-os.ReadFile style over async I/O.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/aplpm/apl/ident"
)

// Manifest is the parsed apl.toml: project identity plus dependency
// version requirements.
type Manifest struct {
	Project      Project                  `toml:"project"`
	Dependencies map[ident.Name]string    `toml:"dependencies"`
}

// Project is the [project] section of apl.toml.
type Project struct {
	Name string `toml:"name"`
}

// Load reads and parses a manifest from path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return m, nil
}

// LockedPackage is one pinned, resolved dependency in apl.lock.
type LockedPackage struct {
	Name      ident.Name         `toml:"name"`
	Version   string             `toml:"version"`
	URL       string             `toml:"url"`
	SHA256    ident.Sha256Digest `toml:"sha256"`
	Arch      string             `toml:"arch,omitempty"`
	Timestamp int64              `toml:"timestamp,omitempty"`
}

// Lockfile is the parsed/written apl.lock: a generation timestamp plus the
// set of pinned package resolutions, kept sorted by name.
type Lockfile struct {
	Version      uint32          `toml:"version"`
	GeneratedAt  int64           `toml:"generated_at"`
	Packages     []LockedPackage `toml:"packages"`
}

// CurrentLockVersion is the lockfile format version this build writes and
// understands.
const CurrentLockVersion uint32 = 1

// NewLockfile returns an empty lockfile at the current format version.
func NewLockfile(nowUnix int64) Lockfile {
	return Lockfile{Version: CurrentLockVersion, GeneratedAt: nowUnix}
}

// LoadLockfile reads apl.lock from path. A missing file is not an error:
// callers treat first resolution the same as every subsequent one (mirrors
// original_source/crates/apl-core/src/manifest.rs's Lockfile::load).
func LoadLockfile(path string, nowUnix int64) (Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLockfile(nowUnix), nil
		}
		return Lockfile{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return Lockfile{}, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return lf, nil
}

// AddPackage inserts or replaces the entry for pkg.Name, re-sorts by name,
// and bumps GeneratedAt — the dedup-then-resort behavior of
// original_source/src/core/lockfile.rs's add_package, generalized from a
// single in-process call to the batch form Save expects.
func (lf *Lockfile) AddPackage(pkg LockedPackage, nowUnix int64) {
	filtered := lf.Packages[:0:0]
	for _, p := range lf.Packages {
		if p.Name != pkg.Name {
			filtered = append(filtered, p)
		}
	}
	filtered = append(filtered, pkg)
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })
	lf.Packages = filtered
	lf.GeneratedAt = nowUnix
}

// Find looks up a locked package by name.
func (lf Lockfile) Find(name ident.Name) (LockedPackage, bool) {
	for _, p := range lf.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return LockedPackage{}, false
}

// Save serializes the lockfile and writes it atomically: a temp file in
// the same directory, then a rename, so readers never observe a partial
// write.
func (lf Lockfile) Save(path string) error {
	data, err := toml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("manifest: marshal lockfile: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write temp lockfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: rename lockfile into place: %w", err)
	}
	return nil
}

// DefaultManifestPath and DefaultLockPath are the conventional project-root
// filenames, mirroring Rust's exists_default/load_default/save_default
// helpers collapsed into plain path constants.
const (
	DefaultManifestPath = "apl.toml"
	DefaultLockPath     = "apl.lock"
)

// ResolveProjectPaths joins dir with the default manifest/lock filenames.
func ResolveProjectPaths(dir string) (manifestPath, lockPath string) {
	return filepath.Join(dir, DefaultManifestPath), filepath.Join(dir, DefaultLockPath)
}
