package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aplpm/apl/ident"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apl.toml")
	content := "[project]\nname = \"myproject\"\n\n[dependencies]\njq = \"^1.7\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Project.Name != "myproject" {
		t.Fatalf("unexpected project name: %q", m.Project.Name)
	}
	if m.Dependencies["jq"] != "^1.7" {
		t.Fatalf("unexpected dependency requirement: %q", m.Dependencies["jq"])
	}
}

func TestLoadLockfileMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	lf, err := LoadLockfile(filepath.Join(dir, "apl.lock"), 1000)
	if err != nil {
		t.Fatalf("load missing lockfile: %v", err)
	}
	if len(lf.Packages) != 0 {
		t.Fatalf("expected empty lockfile, got %+v", lf.Packages)
	}
	if lf.Version != CurrentLockVersion {
		t.Fatalf("expected current lock version, got %d", lf.Version)
	}
}

func TestAddPackageDedupsAndSorts(t *testing.T) {
	lf := NewLockfile(100)
	lf.AddPackage(LockedPackage{Name: "ripgrep", Version: "14.0.0"}, 200)
	lf.AddPackage(LockedPackage{Name: "jq", Version: "1.7.1"}, 300)
	lf.AddPackage(LockedPackage{Name: "jq", Version: "1.7.2"}, 400)

	if len(lf.Packages) != 2 {
		t.Fatalf("expected 2 packages after dedup, got %d", len(lf.Packages))
	}
	if lf.Packages[0].Name != "jq" || lf.Packages[1].Name != "ripgrep" {
		t.Fatalf("expected sorted order, got %+v", lf.Packages)
	}
	jq, ok := lf.Find("jq")
	if !ok || jq.Version != "1.7.2" {
		t.Fatalf("expected jq updated to 1.7.2, got %+v ok=%v", jq, ok)
	}
	if lf.GeneratedAt != 400 {
		t.Fatalf("expected generated_at bumped to last add, got %d", lf.GeneratedAt)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apl.lock")

	lf := NewLockfile(100)
	lf.AddPackage(LockedPackage{
		Name:    "jq",
		Version: "1.7.1",
		URL:     "https://example.com/jq.tar.gz",
		SHA256:  ident.Sha256Digest("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"),
		Arch:    "arm64",
	}, 200)

	if err := lf.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away")
	}

	loaded, err := LoadLockfile(path, 999)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Packages) != 1 || loaded.Packages[0].Name != "jq" {
		t.Fatalf("unexpected round-trip result: %+v", loaded)
	}
}
