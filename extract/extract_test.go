package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func writeArtifact(t *testing.T, data []byte) (path string, sha ident.Sha256Digest) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "artifact.tar.gz")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sum := sha256.Sum256(data)
	sha = ident.Sha256Digest(hex.EncodeToString(sum[:]))
	return path, sha
}

func TestVerifyAndExtractHappyPath(t *testing.T) {
	data := buildTarGz(t, map[string]string{"bin/jq": "#!/bin/sh\necho hi\n"})
	path, sha := writeArtifact(t, data)

	staging := filepath.Join(t.TempDir(), "staging")
	res, err := VerifyAndExtract(path, sha, index.FormatTarGz, staging)
	if err != nil {
		t.Fatalf("verify and extract: %v", err)
	}
	if res.Blake3 == "" {
		t.Fatalf("expected a blake3 hash to be computed")
	}
	content, err := os.ReadFile(filepath.Join(staging, "bin", "jq"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "#!/bin/sh\necho hi\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestVerifyAndExtractHashMismatch(t *testing.T) {
	data := buildTarGz(t, map[string]string{"bin/jq": "hi"})
	path, _ := writeArtifact(t, data)

	staging := filepath.Join(t.TempDir(), "staging")
	_, err := VerifyAndExtract(path, "0000000000000000000000000000000000000000000000000000000000000000"[:64], index.FormatTarGz, staging)
	var mismatch *HashMismatchError
	if err == nil {
		t.Fatalf("expected hash mismatch error")
	}
	if !asHashMismatch(err, &mismatch) {
		t.Fatalf("expected *HashMismatchError, got %T: %v", err, err)
	}
}

func asHashMismatch(err error, target **HashMismatchError) bool {
	if e, ok := err.(*HashMismatchError); ok {
		*target = e
		return true
	}
	return false
}

func TestPathTraversalRejected(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0o644, Size: 4})
	tw.Write([]byte("evil"))
	tw.Close()
	gz.Close()

	path, sha := writeArtifact(t, buf.Bytes())
	staging := filepath.Join(t.TempDir(), "staging")
	_, err := VerifyAndExtract(path, sha, index.FormatTarGz, staging)
	if err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
}
