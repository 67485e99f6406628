package install

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aplpm/apl/config"
	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
	"github.com/aplpm/apl/internal/paths"
	"github.com/aplpm/apl/report"
	"github.com/aplpm/apl/resolve"
	"github.com/aplpm/apl/statedb"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(content))})
		tw.Write([]byte(content))
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func testEngine(t *testing.T) (*Engine, paths.Paths, *statedb.Handle) {
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
	db, err := statedb.Open(p.StateDB)
	if err != nil {
		t.Fatalf("open statedb: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := New(p, db, report.Null{}, config.Default())
	return e, p, db
}

func TestRunInstallsAndActivates(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"bin/jq": "#!/bin/sh\necho hi\n"})
	sum := sha256.Sum256(archive)
	sha := ident.Sha256Digest(hex.EncodeToString(sum[:]))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	e, _, db := testEngine(t)

	plan := resolve.Plan{Steps: []resolve.Step{
		{
			Name:        "jq",
			Version:     "1.7.1",
			Description: "a json processor",
			Type:        "cli",
			Artifact:    index.ArtifactRef{URL: srv.URL, SHA256: sha, Format: index.FormatTarGz},
			Bin:         []string{"bin/jq:jq"},
		},
	}}

	results := e.Run(context.Background(), plan)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("install failed: %v", results[0].Err)
	}

	pkg, ok, err := db.GetPackage("jq")
	if err != nil || !ok {
		t.Fatalf("expected package row, ok=%v err=%v", ok, err)
	}
	if pkg.ActiveVersion != "1.7.1" {
		t.Fatalf("expected active version 1.7.1, got %s", pkg.ActiveVersion)
	}

	if _, ok := e.Store.Open("jq", "1.7.1"); !ok {
		t.Fatalf("expected store directory to exist")
	}

	if _, err := db.GetHistory("jq"); err != nil {
		t.Fatalf("get history: %v", err)
	}
}

func TestRunRecordsFailureOnBadDigest(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"bin/jq": "hi"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	e, _, db := testEngine(t)
	plan := resolve.Plan{Steps: []resolve.Step{
		{
			Name:     "jq",
			Version:  "1.7.1",
			Artifact: index.ArtifactRef{URL: srv.URL, SHA256: "0000000000000000000000000000000000000000000000000000000000000000"[:64], Format: index.FormatTarGz},
		},
	}}

	results := e.Run(context.Background(), plan)
	if results[0].Err == nil {
		t.Fatalf("expected failure for digest mismatch")
	}
	if results[0].Fail == nil || *results[0].Fail != FailHash {
		t.Fatalf("expected FailHash, got %v", results[0].Fail)
	}

	hist, err := db.GetHistory("jq")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(hist) != 1 || hist[0].Success {
		t.Fatalf("expected one failed history row, got %+v", hist)
	}
}

func TestDryRunDoesNotFetch(t *testing.T) {
	e, _, _ := testEngine(t)
	plan := resolve.Plan{Steps: []resolve.Step{
		{Name: "jq", Version: "1.7.1", Artifact: index.ArtifactRef{URL: "http://unreachable.invalid", Format: index.FormatTarGz}},
	}}
	results := e.DryRun(plan)
	if len(results) != 1 || results[0].Name != "jq" {
		t.Fatalf("unexpected dry run results: %+v", results)
	}
}
