//go:build darwin

// Mach-O rpath relinking, supplemented from
// original_source/src/core/relinker.rs: after extracting a macOS artifact,
// any @rpath/@loader_path reference baked in at build time against the
// staging location would point at a path that no longer exists once the
// directory is committed into the store. install_name_tool rewrites those
// references in place before commit.
package store

import (
	"io/fs"
	"os/exec"
)

// Relink patches every executable under storeDir so its embedded rpath
// entries point at the final store location rather than wherever it was
// staged during extraction.
func Relink(storeDir, oldPrefix string) error {
	return walkExecutables(storeDir, func(path string, _ fs.FileMode) error {
		return relinkOne(path, oldPrefix, storeDir)
	})
}

func relinkOne(binPath, oldPrefix, newPrefix string) error {
	// install_name_tool exits non-zero when binPath has no oldPrefix
	// reference to rewrite (e.g. a plain shell script, or a binary that
	// never depended on the staging path). That's the common case, not an
	// error worth aborting the commit over.
	exec.Command("install_name_tool", "-change", oldPrefix, newPrefix, binPath).Run()
	return nil
}
