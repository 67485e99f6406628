package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/internal/paths"
)

func testPaths(t *testing.T) paths.Paths {
	t.Helper()
	home := t.TempDir()
	t.Setenv("APL_HOME", home)
	p, err := paths.Resolve()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	if err := p.EnsureAll(); err != nil {
		t.Fatalf("ensure all: %v", err)
	}
	return p
}

func writeStaged(t *testing.T, p paths.Paths, files map[string]string) string {
	t.Helper()
	staged := filepath.Join(p.Tmp, "staged-test")
	for rel, content := range files {
		full := filepath.Join(staged, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o755); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return staged
}

func TestCommitResolvesBinFromExecutables(t *testing.T) {
	p := testPaths(t)
	s := New(p)
	staged := writeStaged(t, p, map[string]string{"bin/jq": "#!/bin/sh\n"})

	meta, err := s.Commit("jq", "1.7.1", staged, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85", "b3hash", 10, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(meta.Bin) != 1 || meta.Bin[0] != "bin/jq:jq" {
		t.Fatalf("expected resolved bin [bin/jq:jq], got %v", meta.Bin)
	}

	dir, ok := s.Open("jq", "1.7.1")
	if !ok {
		t.Fatalf("expected store directory to exist")
	}
	if _, err := os.Stat(filepath.Join(dir, "bin", "jq")); err != nil {
		t.Fatalf("expected bin/jq to exist in store: %v", err)
	}
}

func TestCommitIdempotentOnMatchingDigest(t *testing.T) {
	p := testPaths(t)
	s := New(p)
	sha := ident64()

	staged1 := writeStaged(t, p, map[string]string{"bin/pkg": "v1"})
	if _, err := s.Commit("pkg", "1.0.0", staged1, sha, "h1", 2, []string{"pkg"}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	staged2 := writeStaged(t, p, map[string]string{"bin/pkg": "v1-again"})
	meta, err := s.Commit("pkg", "1.0.0", staged2, sha, "h1", 2, []string{"pkg"})
	if err != nil {
		t.Fatalf("idempotent commit: %v", err)
	}
	if meta.SHA256 != string(sha) {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if _, err := os.Stat(staged2); !os.IsNotExist(err) {
		t.Fatalf("expected second staged dir to be cleaned up")
	}
}

func TestCommitDigestConflictRejected(t *testing.T) {
	p := testPaths(t)
	s := New(p)

	staged1 := writeStaged(t, p, map[string]string{"bin/pkg": "v1"})
	if _, err := s.Commit("pkg", "1.0.0", staged1, ident64(), "h1", 2, []string{"pkg"}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	staged2 := writeStaged(t, p, map[string]string{"bin/pkg": "v2"})
	_, err := s.Commit("pkg", "1.0.0", staged2, "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", "h2", 2, []string{"pkg"})
	if err != ErrDigestConflict {
		t.Fatalf("expected ErrDigestConflict, got %v", err)
	}
}

func ident64() ident.Sha256Digest {
	return "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"
}
