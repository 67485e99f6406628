// Package store manages immutable per-version directories keyed by
// (name, version), guaranteeing write atomicity via staging + rename.
// Grounded on its predecessor's staged-write pattern in deb/package.go's
// WriteTo (build to a buffer/temp location, then place) and on the
// content-digest-ignoring-timestamps technique of deb/package.go's
// Digest(), re-derived here over BLAKE3 instead of its predecessor's
// length-prefixed SHA-256 scheme, since internal content addressing uses
// BLAKE3 rather than the upstream artifact's own SHA-256.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/internal/paths"
)

// Meta is the sidecar written to every committed store directory as
// .apl-meta.json.
type Meta struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	SHA256    string   `json:"sha256"`
	Blake3    string   `json:"blake3"`
	SizeBytes int64    `json:"size_bytes"`
	Bin       []string `json:"bin"`
}

// Store owns STORE/<name>/<version>/ directories.
type Store struct {
	Paths paths.Paths
}

func New(p paths.Paths) *Store { return &Store{Paths: p} }

// ErrDigestConflict is returned by Commit when the target directory
// already exists and the SHA-256 recorded in its .apl-meta.json differs
// from the one being committed.
var ErrDigestConflict = fmt.Errorf("store: existing directory has a different digest")

// Commit renames stagedDir into STORE/name/version/, computes the resolved
// bin list (explicit declaredBin, or every executable file under bin/ or
// the top level when declaredBin is empty), and writes .apl-meta.json. If
// the target already exists, the rename is skipped, stagedDir is removed
// and the SHA-256 recorded in the existing directory's .apl-meta.json is
// compared with sha256Digest instead (idempotent reinstall; the BLAKE3
// hash is not compared); a mismatch is a hard error, as the store is
// immutable.
func (s *Store) Commit(name, version string, stagedDir string, sha256Digest ident.Sha256Digest, blake3Hash ident.Blake3Hash, sizeBytes int64, declaredBin []string) (Meta, error) {
	target := s.Paths.StoreDir(name, version)

	if _, err := os.Stat(target); err == nil {
		existing, merr := s.readMeta(name, version)
		if merr != nil {
			return Meta{}, fmt.Errorf("store: commit: existing directory unreadable: %w", merr)
		}
		if existing.SHA256 != string(sha256Digest) {
			return Meta{}, ErrDigestConflict
		}
		os.RemoveAll(stagedDir)
		return existing, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Meta{}, fmt.Errorf("store: commit: mkdir parent: %w", err)
	}
	if err := os.Rename(stagedDir, target); err != nil {
		return Meta{}, fmt.Errorf("store: commit: rename: %w", err)
	}

	if err := Relink(target, stagedDir); err != nil {
		return Meta{}, fmt.Errorf("store: commit: relink: %w", err)
	}

	bin, err := resolveBin(target, declaredBin)
	if err != nil {
		return Meta{}, fmt.Errorf("store: commit: resolve bin: %w", err)
	}

	meta := Meta{
		Name: name, Version: version,
		SHA256: string(sha256Digest), Blake3: string(blake3Hash),
		SizeBytes: sizeBytes, Bin: bin,
	}
	if err := s.writeMeta(name, version, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// resolveBin computes the bin list: the declared list (already in
// "srcpath:targetname" or bare form VersionInfo.bin) or,
// when empty, every executable regular file directly under bin/ if that
// directory exists, else under the store directory's top level. Files
// found under bin/ are listed as "bin/<file>:<file>"; top-level files by
// their bare name.
func resolveBin(storeDir string, declared []string) ([]string, error) {
	if len(declared) > 0 {
		return declared, nil
	}

	candidates := []string{filepath.Join(storeDir, "bin"), storeDir}
	for _, dir := range candidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.Mode()&0o111 != 0 {
				if dir == storeDir {
					found = append(found, e.Name())
				} else {
					found = append(found, "bin/"+e.Name()+":"+e.Name())
				}
			}
		}
		if len(found) > 0 {
			sort.Strings(found)
			return found, nil
		}
	}
	return nil, nil
}

// Open returns the store directory path if it is present on disk.
func (s *Store) Open(name, version string) (string, bool) {
	dir := s.Paths.StoreDir(name, version)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, true
	}
	return "", false
}

func (s *Store) readMeta(name, version string) (Meta, error) {
	b, err := os.ReadFile(s.Paths.MetaPath(name, version))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// ReadMeta exposes readMeta to callers outside the package: the Switch/
// Rollback operations need the declared bin list to re-activate a
// different already-installed version.
func (s *Store) ReadMeta(name, version string) (Meta, error) { return s.readMeta(name, version) }

func (s *Store) writeMeta(name, version string, m Meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Paths.MetaPath(name, version), b, 0o644)
}

// Clean walks STORE and removes every (name, version) directory absent
// from keep. When dryRun is true, no directories are
// removed; the list of what would be removed is returned either way.
func (s *Store) Clean(keep map[[2]string]bool, dryRun bool) ([]string, error) {
	var removed []string
	nameDirs, err := os.ReadDir(s.Paths.Store)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, nd := range nameDirs {
		if !nd.IsDir() {
			continue
		}
		versionDirs, err := os.ReadDir(filepath.Join(s.Paths.Store, nd.Name()))
		if err != nil {
			continue
		}
		for _, vd := range versionDirs {
			if !vd.IsDir() {
				continue
			}
			key := [2]string{nd.Name(), vd.Name()}
			if keep[key] {
				continue
			}
			full := filepath.Join(s.Paths.Store, nd.Name(), vd.Name())
			removed = append(removed, full)
			if !dryRun {
				if err := os.RemoveAll(full); err != nil {
					return removed, err
				}
			}
		}
	}
	return removed, nil
}

// walkExecutables is used by Relink (darwin) to find Mach-O binaries worth
// patching; kept here so both build targets share the traversal.
func walkExecutables(root string, fn func(path string, mode fs.FileMode) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&0o111 == 0 {
			return nil
		}
		if strings.HasSuffix(path, ".apl-meta.json") {
			return nil
		}
		return fn(path, info.Mode())
	})
}
