// Command aplindex generates the signed registry index a per-user apl
// install consumes: it scans a directory of hand-authored package
// templates, builds a PackageIndex, signs it with an Ed25519 private key,
// and optionally publishes it to a GitHub Release.
//
// Kept as a flat flag.FlagSet tool rather than folded into the cobra apl
// binary: it is registry-maintainer tooling, run out-of-band from the
// package manager a consumer actually installs with.
package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/aplpm/apl/github"
	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
	"github.com/aplpm/apl/template"
)

func main() {
	packagesDir := flag.String("packages", "packages", "directory of .toml package templates")
	outPath := flag.String("out", "dist/index.json.zst", "output path for the compressed signed index")
	keyPath := flag.String("key", "", "path to a hex-encoded Ed25519 private key (64 bytes)")
	publishRepo := flag.String("publish", "", "owner/repo GitHub Release to publish the index to (optional)")
	publishTag := flag.String("tag", "index", "release tag to publish under")
	flag.Parse()

	if err := run(*packagesDir, *outPath, *keyPath, *publishRepo, *publishTag); err != nil {
		fmt.Fprintln(os.Stderr, "aplindex:", err)
		os.Exit(1)
	}
}

func run(packagesDir, outPath, keyPath, publishRepo, publishTag string) error {
	entries, err := os.ReadDir(packagesDir)
	if err != nil {
		return fmt.Errorf("read packages directory %s: %w", packagesDir, err)
	}

	idx := index.New(time.Now().Unix())
	count := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".toml") {
			continue
		}
		path := filepath.Join(packagesDir, ent.Name())
		tmpl, err := template.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		ver, err := tmpl.ToVersionInfo()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		meta := index.IndexEntry{
			Description: tmpl.Package.Description,
			Homepage:    tmpl.Package.Homepage,
			License:     tmpl.Package.License,
			Type:        tmpl.Package.Type,
		}
		idx.Upsert(ident.NewName(tmpl.Package.Name), meta, ver)
		fmt.Printf("processed %s (v%s)\n", tmpl.Package.Name, tmpl.Package.Version)
		count++
	}

	transportBytes, sigBytes, err := encodeAndSign(idx, keyPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(outPath, transportBytes, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.WriteFile(outPath+".sig", sigBytes, 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}
	fmt.Printf("generated %s with %d packages\n", outPath, count)

	if publishRepo == "" {
		return nil
	}
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return fmt.Errorf("GITHUB_TOKEN must be set to publish")
	}
	if err := github.PublishIndex(publishRepo, publishTag, token, transportBytes, sigBytes); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	return nil
}

// encodeAndSign marshals idx to canonical JSON, ZSTD-compresses it (the
// transport form index.Load transparently decompresses) and signs those
// exact compressed bytes with the Ed25519 key at keyPath.
func encodeAndSign(idx *index.PackageIndex, keyPath string) (transportBytes, sigBytes []byte, err error) {
	raw, err := idx.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("encode index: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd writer: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	if keyPath == "" {
		return compressed, nil, fmt.Errorf("-key is required: an unsigned index is never installable")
	}
	priv, err := loadPrivateKey(keyPath)
	if err != nil {
		return nil, nil, err
	}
	sig := ed25519.Sign(priv, compressed)
	return compressed, sig, nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("signing key %s is not valid hex: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key %s: want %d bytes, got %d", path, ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
