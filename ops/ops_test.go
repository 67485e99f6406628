package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/internal/paths"
	"github.com/aplpm/apl/statedb"
)

func testManager(t *testing.T) (*Manager, *statedb.Handle) {
	t.Helper()
	t.Setenv("APL_HOME", t.TempDir())
	p, err := paths.Resolve()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	if err := p.EnsureAll(); err != nil {
		t.Fatalf("ensure paths: %v", err)
	}
	db, err := statedb.Open(p.StateDB)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(p, db), db
}

// seedStoreDir writes a fake committed store directory with a .apl-meta.json
// sidecar and one executable bin entry, bypassing store.Commit.
func seedStoreDir(t *testing.T, p paths.Paths, name, version string) {
	t.Helper()
	dir := p.StoreDir(name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir store dir: %v", err)
	}
	bin := filepath.Join(dir, name)
	if err := os.WriteFile(bin, []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatalf("write fake bin: %v", err)
	}
	meta := map[string]any{
		"name": name, "version": version,
		"sha256": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
		"blake3": "", "size_bytes": 19, "bin": []string{name},
	}
	b, _ := json.Marshal(meta)
	if err := os.WriteFile(p.MetaPath(name, version), b, 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
}

func installRow(t *testing.T, db *statedb.Handle, name ident.Name, version string, ts int64) {
	t.Helper()
	err := db.InstallComplete(statedb.InstallCompleteArgs{
		Name: name, Description: "desc", Type: "cli",
		Version: version, SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
		SizeBytes: 19, InstalledAt: ts,
		ActiveFiles: []statedb.FileRow{{Name: name, Version: version, Path: "bin/" + string(name), Kind: statedb.KindSymlink}},
	})
	if err != nil {
		t.Fatalf("install_complete %s@%s: %v", name, version, err)
	}
}

func TestSwitchActivatesOtherVersion(t *testing.T) {
	m, db := testManager(t)
	name := ident.NewName("jq")

	seedStoreDir(t, m.Paths, "jq", "1.6.0")
	seedStoreDir(t, m.Paths, "jq", "1.7.1")
	installRow(t, db, name, "1.6.0", 100)
	installRow(t, db, name, "1.7.1", 200)

	if err := m.Switch(name, "1.6.0", false, 300); err != nil {
		t.Fatalf("switch: %v", err)
	}

	pkg, ok, err := db.GetPackage(name)
	if err != nil || !ok {
		t.Fatalf("get_package: ok=%v err=%v", ok, err)
	}
	if pkg.ActiveVersion != "1.6.0" {
		t.Fatalf("expected active version 1.6.0, got %s", pkg.ActiveVersion)
	}

	link := m.Paths.BinPath("jq")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if filepath.Dir(target) != m.Paths.StoreDir("jq", "1.6.0") {
		t.Fatalf("expected symlink into 1.6.0 store dir, got %s", target)
	}
}

func TestSwitchUnknownVersionFails(t *testing.T) {
	m, db := testManager(t)
	name := ident.NewName("jq")
	seedStoreDir(t, m.Paths, "jq", "1.7.1")
	installRow(t, db, name, "1.7.1", 100)

	if err := m.Switch(name, "9.9.9", false, 200); err == nil {
		t.Fatal("expected error switching to an uninstalled version")
	}
}

func TestRollbackRestoresPreviousVersion(t *testing.T) {
	m, db := testManager(t)
	name := ident.NewName("jq")

	seedStoreDir(t, m.Paths, "jq", "1.6.0")
	seedStoreDir(t, m.Paths, "jq", "1.7.1")
	installRow(t, db, name, "1.6.0", 100)
	if err := db.AddHistory(name, statedb.ActionInstall, "", "1.6.0", 100, true); err != nil {
		t.Fatalf("history: %v", err)
	}
	installRow(t, db, name, "1.7.1", 200)
	if err := db.AddHistory(name, statedb.ActionInstall, "1.6.0", "1.7.1", 200, true); err != nil {
		t.Fatalf("history: %v", err)
	}

	if err := m.Rollback(name, false, 300); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	pkg, _, err := db.GetPackage(name)
	if err != nil {
		t.Fatalf("get_package: %v", err)
	}
	if pkg.ActiveVersion != "1.6.0" {
		t.Fatalf("expected rollback to restore 1.6.0, got %s", pkg.ActiveVersion)
	}
}

func TestRollbackFreshInstallRemoves(t *testing.T) {
	m, db := testManager(t)
	name := ident.NewName("jq")
	seedStoreDir(t, m.Paths, "jq", "1.7.1")
	installRow(t, db, name, "1.7.1", 100)
	if err := db.AddHistory(name, statedb.ActionInstall, "", "1.7.1", 100, true); err != nil {
		t.Fatalf("history: %v", err)
	}

	if err := m.Rollback(name, false, 200); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	_, ok, err := db.GetPackage(name)
	if err != nil {
		t.Fatalf("get_package: %v", err)
	}
	if ok {
		t.Fatal("expected package removed after rollback of a fresh install")
	}
}

func TestRemoveUnlinksFilesAndDBRows(t *testing.T) {
	m, db := testManager(t)
	name := ident.NewName("jq")
	seedStoreDir(t, m.Paths, "jq", "1.7.1")
	installRow(t, db, name, "1.7.1", 100)

	link := m.Paths.BinPath("jq")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	if err := os.Symlink(m.Paths.StoreDir("jq", "1.7.1")+"/jq", link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := m.Remove(name, false, false, 200); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatalf("expected bin symlink removed, lstat err=%v", err)
	}
	if _, ok, err := db.GetPackage(name); err != nil || ok {
		t.Fatalf("expected package row gone: ok=%v err=%v", ok, err)
	}
}

func TestCleanRemovesOrphanedStoreDirs(t *testing.T) {
	m, db := testManager(t)
	name := ident.NewName("jq")
	seedStoreDir(t, m.Paths, "jq", "1.6.0")
	seedStoreDir(t, m.Paths, "jq", "1.7.1")
	installRow(t, db, name, "1.7.1", 100) // 1.6.0 has no DB row: orphaned

	removed, err := m.Clean(true)
	if err != nil {
		t.Fatalf("clean dry-run: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected 1 orphaned dir, got %+v", removed)
	}
	if _, err := os.Stat(m.Paths.StoreDir("jq", "1.6.0")); err != nil {
		t.Fatalf("dry-run must not delete: %v", err)
	}

	removed, err = m.Clean(false)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed dir, got %+v", removed)
	}
	if _, err := os.Stat(m.Paths.StoreDir("jq", "1.6.0")); !os.IsNotExist(err) {
		t.Fatalf("expected orphan dir removed, err=%v", err)
	}
	if _, err := os.Stat(m.Paths.StoreDir("jq", "1.7.1")); err != nil {
		t.Fatalf("expected referenced dir kept: %v", err)
	}
}
