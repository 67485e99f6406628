// Package extract implements the hash-and-extract stage: verify the
// downloaded artifact's SHA-256 digest, then
// dispatch archive decoding by format into an adjacent staging directory,
// preserving Unix mode bits and rejecting path traversal.
//
// Archive dispatch is grounded on original_source/src/io/extract.rs
// (extract_tar_zst/extract_tar_gz, detect_format), generalized to Go's
// archive/tar + compress/gzip (stdlib, matching its predecessor's own
// deb/util.go use of archive/tar+compress/gzip) plus two third-party
// decoders this corpus doesn't need but a generic installer does:
// github.com/ulikunitz/xz for tar.xz and github.com/klauspost/compress/zstd
// for tar.zst (archive/zip is stdlib-only and sufficient for zip).
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"lukechampine.com/blake3"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
)

func newGzipReader(r io.Reader) (*gzip.Reader, error) { return gzip.NewReader(r) }

// HashMismatchError carries both digests for a failed verification so the
// caller can report exactly what diverged from what was expected.
type HashMismatchError struct {
	Expected ident.Sha256Digest
	Actual   ident.Sha256Digest
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("extract: hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// ExtractError wraps an archive decoding failure.
type ExtractError struct {
	Err error
}

func (e *ExtractError) Error() string { return fmt.Sprintf("extract: %v", e.Err) }
func (e *ExtractError) Unwrap() error { return e.Err }

// Result reports the outcome of a successful VerifyAndExtract.
type Result struct {
	Blake3 ident.Blake3Hash
}

// VerifyAndExtract hashes srcPath's exact bytes, compares against expected,
// computes the internal BLAKE3 content hash, then extracts the archive
// into stagingDir (created fresh, sibling to the eventual store directory
// so the final rename is same-volume and atomic). On any failure, srcPath
// and a partially-written stagingDir are both removed by the caller (the
// install engine).
func VerifyAndExtract(srcPath string, expected ident.Sha256Digest, format index.ArtifactFormat, stagingDir string) (Result, error) {
	actualSHA, actualBlake3, err := hashFile(srcPath)
	if err != nil {
		return Result{}, fmt.Errorf("extract: hash: %w", err)
	}
	if !strings.EqualFold(string(actualSHA), string(expected)) {
		return Result{}, &HashMismatchError{Expected: expected, Actual: actualSHA}
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("extract: mkdir staging: %w", err)
	}

	if err := dispatch(srcPath, format, stagingDir); err != nil {
		return Result{}, &ExtractError{Err: err}
	}

	return Result{Blake3: actualBlake3}, nil
}

func hashFile(path string) (ident.Sha256Digest, ident.Blake3Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	sh := sha256.New()
	b3 := blake3.New(32, nil)
	if _, err := io.Copy(io.MultiWriter(sh, b3), f); err != nil {
		return "", "", err
	}
	return ident.Sha256Digest(hex.EncodeToString(sh.Sum(nil))), ident.Blake3Hash(hex.EncodeToString(b3.Sum(nil))), nil
}

func dispatch(srcPath string, format index.ArtifactFormat, stagingDir string) error {
	switch format {
	case index.FormatTarGz:
		return extractTarGz(srcPath, stagingDir)
	case index.FormatTarXz:
		return extractTarXz(srcPath, stagingDir)
	case index.FormatTarZst:
		return extractTarZst(srcPath, stagingDir)
	case index.FormatZip:
		return extractZip(srcPath, stagingDir)
	case index.FormatRaw:
		return extractRaw(srcPath, stagingDir)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func extractTarGz(srcPath, dest string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := newGzipReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	return extractTarStream(gz, dest)
}

func extractTarXz(srcPath, dest string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	xr, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	return extractTarStream(xr, dest)
}

func extractTarZst(srcPath, dest string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()
	return extractTarStream(zr, dest)
}

func extractTarStream(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		}
	}
}

func extractZip(srcPath, dest string) error {
	zr, err := zip.OpenReader(srcPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// extractRaw stages a single-file (non-archive) artifact under dest, named
// after srcPath's base name and written with mode 0o755 whatever the
// source file's mode is.
func extractRaw(srcPath, dest string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()
	target := filepath.Join(dest, filepath.Base(srcPath))
	return writeFile(target, in, 0o755)
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

// safeJoin rejects archive entries whose paths would escape dest, guarding
// against a maliciously crafted archive using ".." segments to write
// outside the intended destination (a Zip Slip / path traversal attack).
func safeJoin(dest, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(dest, name))
	destClean := filepath.Clean(dest) + string(os.PathSeparator)
	if cleaned != filepath.Clean(dest) && !strings.HasPrefix(cleaned, destClean) {
		return "", fmt.Errorf("archive entry %q escapes staging root", name)
	}
	return cleaned, nil
}
