// Package paths resolves the canonical on-disk layout used by every other
// component: the user's apl home, the content-addressed store, the bin farm,
// the download cache, the staging tmp directory, logs, the registry index
// and the state database.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// envHome overrides the resolved home directory. Mirrors its predecessor's
// pattern of an explicit environment escape hatch ahead of OS defaults.
const envHome = "APL_HOME"

// Paths is an immutable snapshot of the resolved directory layout. It has no
// side effects: callers that need a directory to exist call EnsureAll.
type Paths struct {
	Home     string
	Store    string
	Bin      string
	Cache    string
	Tmp      string
	Logs     string
	Registry string
	Index    string
	IndexSig string
	StateDB  string
}

// Resolve determines Paths from APL_HOME, falling back to the user's home
// directory. It performs no I/O beyond reading the environment and the
// current user's home directory.
func Resolve() (Paths, error) {
	home := os.Getenv(envHome)
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve apl home: %w", err)
		}
		home = filepath.Join(h, ".apl")
	}
	return fromHome(home), nil
}

func fromHome(home string) Paths {
	return Paths{
		Home:     home,
		Store:    filepath.Join(home, "store"),
		Bin:      filepath.Join(home, "bin"),
		Cache:    filepath.Join(home, "cache"),
		Tmp:      filepath.Join(home, "tmp"),
		Logs:     filepath.Join(home, "logs"),
		Registry: filepath.Join(home, "registry"),
		Index:    filepath.Join(home, "index"),
		IndexSig: filepath.Join(home, "index.sig"),
		StateDB:  filepath.Join(home, "state.db"),
	}
}

// StoreDir returns the immutable content directory for (name, version).
func (p Paths) StoreDir(name, version string) string {
	return filepath.Join(p.Store, name, version)
}

// MetaPath returns the path of the store directory's metadata sidecar file.
func (p Paths) MetaPath(name, version string) string {
	return filepath.Join(p.StoreDir(name, version), ".apl-meta.json")
}

// BinPath returns the path of a bin-farm symlink.
func (p Paths) BinPath(target string) string {
	return filepath.Join(p.Bin, target)
}

// EnsureAll creates every directory in the layout (mode 0o755), except the
// state db and index files which are plain files owned by other components.
func (p Paths) EnsureAll() error {
	dirs := []string{p.Home, p.Store, p.Bin, p.Cache, p.Tmp, p.Logs, p.Registry}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// SameVolume reports whether two paths live on the same filesystem, by
// comparing device numbers. The build sandbox and the extractor staging
// directory both depend on this to guarantee atomic renames and CoW clones.
func SameVolume(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return sameDevice(infoA, infoB), nil
}
