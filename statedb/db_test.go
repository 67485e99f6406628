package statedb

import (
	"path/filepath"
	"testing"

	"github.com/aplpm/apl/ident"
)

func openTestHandle(t *testing.T) *Handle {
	t.Helper()
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestInstallCompleteThenGetPackage(t *testing.T) {
	h := openTestHandle(t)
	name := ident.NewName("jq")

	err := h.InstallComplete(InstallCompleteArgs{
		Name: name, Description: "a json processor", Type: "cli",
		Version: "1.7.1", SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
		SizeBytes: 1024, InstalledAt: 1000,
		ActiveFiles: []FileRow{{Name: name, Version: "1.7.1", Path: "bin/jq", Kind: KindSymlink}},
	})
	if err != nil {
		t.Fatalf("install_complete: %v", err)
	}

	p, ok, err := h.GetPackage(name)
	if err != nil || !ok {
		t.Fatalf("get_package: ok=%v err=%v", ok, err)
	}
	if p.ActiveVersion != "1.7.1" {
		t.Fatalf("expected active_version 1.7.1, got %s", p.ActiveVersion)
	}

	files, err := h.GetPackageFiles(name)
	if err != nil || len(files) != 1 || files[0].Path != "bin/jq" {
		t.Fatalf("unexpected files: %+v err=%v", files, err)
	}
}

// TestAtMostOneActiveVersion covers invariant I1: for every package name
// there is at most one installed_versions row with active=true.
func TestAtMostOneActiveVersion(t *testing.T) {
	h := openTestHandle(t)
	name := ident.NewName("pkg")

	for _, v := range []string{"1.0.0", "2.0.0"} {
		if err := h.InstallComplete(InstallCompleteArgs{
			Name: name, Version: v, SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
			InstalledAt: 1000,
		}); err != nil {
			t.Fatalf("install %s: %v", v, err)
		}
	}

	versions, err := h.ListPackageVersions(name)
	if err != nil {
		t.Fatalf("list_package_versions: %v", err)
	}
	activeCount := 0
	for _, v := range versions {
		if v.Active {
			activeCount++
			if v.Version != "2.0.0" {
				t.Fatalf("expected 2.0.0 to be the active version, got %s", v.Version)
			}
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly 1 active version, got %d", activeCount)
	}
}

func TestHistoryAppendOnlyOrdering(t *testing.T) {
	h := openTestHandle(t)
	name := ident.NewName("pkg")

	if err := h.AddHistory(name, ActionInstall, "", "1.0.0", 100, true); err != nil {
		t.Fatalf("add_history: %v", err)
	}
	if err := h.AddHistory(name, ActionSwitch, "1.0.0", "2.0.0", 200, true); err != nil {
		t.Fatalf("add_history: %v", err)
	}

	rows, err := h.GetHistory(name)
	if err != nil {
		t.Fatalf("get_history: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}
	if rows[0].TsMillis < rows[1].TsMillis {
		t.Fatalf("expected descending ts_ms order, got %+v", rows)
	}
}

func TestRemovePackageReturnsFilePaths(t *testing.T) {
	h := openTestHandle(t)
	name := ident.NewName("pkg")

	if err := h.InstallComplete(InstallCompleteArgs{
		Name: name, Version: "1.0.0", SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
		InstalledAt: 1000,
		ActiveFiles: []FileRow{
			{Name: name, Version: "1.0.0", Path: "bin/pkg", Kind: KindSymlink},
		},
	}); err != nil {
		t.Fatalf("install_complete: %v", err)
	}

	paths, err := h.RemovePackage(name)
	if err != nil {
		t.Fatalf("remove_package: %v", err)
	}
	if len(paths) != 1 || paths[0] != "bin/pkg" {
		t.Fatalf("unexpected paths: %v", paths)
	}

	if _, ok, _ := h.GetPackage(name); ok {
		t.Fatalf("expected package row to be gone after remove")
	}
}

func TestGetLastSuccessfulHistorySkipsFailures(t *testing.T) {
	h := openTestHandle(t)
	name := ident.NewName("pkg")

	if err := h.AddHistory(name, ActionInstall, "", "1.0.0", 100, true); err != nil {
		t.Fatalf("add_history: %v", err)
	}
	if err := h.AddHistory(name, ActionSwitch, "1.0.0", "2.0.0", 200, false); err != nil {
		t.Fatalf("add_history: %v", err)
	}

	last, ok, err := h.GetLastSuccessfulHistory(name)
	if err != nil || !ok {
		t.Fatalf("get_last_successful_history: ok=%v err=%v", ok, err)
	}
	if last.VersionTo != "1.0.0" {
		t.Fatalf("expected last successful action to target 1.0.0, got %s", last.VersionTo)
	}
}
