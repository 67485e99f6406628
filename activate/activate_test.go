package activate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aplpm/apl/internal/paths"
)

func testPaths(t *testing.T) paths.Paths {
	t.Helper()
	home := t.TempDir()
	t.Setenv("APL_HOME", home)
	p, err := paths.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := p.EnsureAll(); err != nil {
		t.Fatalf("ensure all: %v", err)
	}
	storeDir := p.StoreDir("jq", "1.7.1")
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		t.Fatalf("mkdir store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(storeDir, "jq"), []byte("bin"), 0o755); err != nil {
		t.Fatalf("write bin: %v", err)
	}
	return p
}

func TestParseBinEntry(t *testing.T) {
	l := ParseBinEntry("jq")
	if l.SrcRel != "jq" || l.Target != "jq" {
		t.Fatalf("unexpected: %+v", l)
	}
	l = ParseBinEntry("libexec/jq-real:jq")
	if l.SrcRel != "libexec/jq-real" || l.Target != "jq" {
		t.Fatalf("unexpected: %+v", l)
	}
}

func TestActivateCreatesSymlink(t *testing.T) {
	p := testPaths(t)
	a := New(p)

	created, err := a.Activate("jq", "1.7.1", []Link{{SrcRel: "jq", Target: "jq"}})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created link, got %d", len(created))
	}

	link, err := os.Readlink(p.BinPath("jq"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if link != filepath.Join(p.StoreDir("jq", "1.7.1"), "jq") {
		t.Fatalf("unexpected link target: %s", link)
	}
}

func TestActivateReplacesExisting(t *testing.T) {
	p := testPaths(t)
	a := New(p)

	if _, err := a.Activate("jq", "1.7.1", []Link{{SrcRel: "jq", Target: "jq"}}); err != nil {
		t.Fatalf("first activate: %v", err)
	}

	storeDir2 := p.StoreDir("jq", "1.8.0")
	os.MkdirAll(storeDir2, 0o755)
	os.WriteFile(filepath.Join(storeDir2, "jq"), []byte("bin2"), 0o755)

	if _, err := a.Activate("jq", "1.8.0", []Link{{SrcRel: "jq", Target: "jq"}}); err != nil {
		t.Fatalf("second activate: %v", err)
	}

	link, err := os.Readlink(p.BinPath("jq"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if link != filepath.Join(storeDir2, "jq") {
		t.Fatalf("expected symlink to point at new version, got %s", link)
	}
}
