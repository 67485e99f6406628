// Package sandbox implements the Build Sandbox: a disposable,
// hermetic directory tree that build scripts run against when a package
// template has no pre-built artifact for the current architecture.
//
// Grounded on original_source/crates/apl-core/src/sysroot.rs (Sysroot::new/
// mount, the temp-dir-under-the-apl-tmp-path placement so clonefile(2) stays
// on one APFS volume) and original_source/src/core/builder.rs (Builder::build,
// the CC/CXX/PREFIX/JOBS/OUTPUT environment and the rename-then-copy-fallback
// output placement).
package sandbox

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/aplpm/apl/internal/paths"
)

// BuildError carries a non-zero build script exit and its captured stderr.
type BuildError struct {
	ExitCode int
	Stderr   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("sandbox: build script exited %d: %s", e.ExitCode, e.Stderr)
}

// ErrCrossVolume is returned by New when the apl tmp directory and the
// store do not share a filesystem: clonefile(2) requires both sides on the
// same volume, so the sandbox must validate this at creation.
var ErrCrossVolume = fmt.Errorf("sandbox: tmp and store are not on the same volume")

// Sandbox is one disposable build directory. The zero value is not usable;
// construct with New.
type Sandbox struct {
	root string
}

// New creates a fresh sandbox directory under the apl tmp path, after
// confirming tmp and store share a filesystem (required for both
// clonefile(2) and the final atomic rename of build output into the
// store).
func New(p paths.Paths) (*Sandbox, error) {
	if err := os.MkdirAll(p.Tmp, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: mkdir tmp: %w", err)
	}
	if err := os.MkdirAll(p.Store, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: mkdir store: %w", err)
	}
	same, err := paths.SameVolume(p.Tmp, p.Store)
	if err != nil {
		return nil, fmt.Errorf("sandbox: checking volume: %w", err)
	}
	if !same {
		return nil, ErrCrossVolume
	}

	root, err := os.MkdirTemp(p.Tmp, "apl-build-")
	if err != nil {
		return nil, fmt.Errorf("sandbox: mkdir temp: %w", err)
	}
	return &Sandbox{root: root}, nil
}

// Path returns the sandbox root directory.
func (s *Sandbox) Path() string { return s.root }

// Mount clones source into the sandbox at targetRel, using the host's
// copy-on-write clone primitive where available (clonefile(2) on APFS) and
// falling back to a recursive copy everywhere else. The sandbox does not
// chroot: build scripts still see and can execute the host toolchain.
func (s *Sandbox) Mount(source, targetRel string) error {
	dest := filepath.Join(s.root, targetRel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir parent: %w", err)
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("sandbox: mount source: %w", err)
	}
	return cloneTree(source, dest)
}

// Build runs `/bin/sh -c script` with CWD set to the sandbox's mounted
// source directory, exporting CC/CXX/PREFIX/JOBS/OUTPUT in the environment, then
// places the result (PREFIX's contents) at output — via rename when
// possible, recursive copy otherwise.
func (s *Sandbox) Build(sourceRel, script, output string) error {
	prefix := filepath.Join(s.root, "usr", "local")
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir prefix: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Dir = filepath.Join(s.root, sourceRel)
	cmd.Env = append(os.Environ(),
		"CC=clang",
		"CXX=clang++",
		"PREFIX="+prefix,
		fmt.Sprintf("JOBS=%d", runtime.NumCPU()),
		"OUTPUT="+prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return fmt.Errorf("sandbox: run build script: %w", err)
		}
		return &BuildError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}

	if _, err := os.Stat(output); err == nil {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("sandbox: remove existing output: %w", err)
		}
	}
	if err := os.Rename(prefix, output); err == nil {
		return nil
	}
	return copyTree(prefix, output)
}

// Close removes the sandbox's temp directory tree.
func (s *Sandbox) Close() error {
	return os.RemoveAll(s.root)
}

// SupportsCoW reports whether Mount can use a copy-on-write clone on this
// platform, rather than falling back to a recursive copy. It leaves the
// policy decision (refuse vs. fall back) to higher layers; this is the
// capability query they use to make it.
func SupportsCoW() bool { return supportsCoW }

// copyTree is the cross-volume fallback for both Mount (on platforms with
// no CoW clone) and Build's final output placement.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
