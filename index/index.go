// Package index loads, verifies, searches and compares the freshness of the
// signed, compressed package index served by the registry.
//
// The wire format is JSON (optionally ZSTD-compressed, detected by the
// leading magic bytes), the same encode-by-marshal approach its predecessor's
// main.go used for its release cache (loadCache/saveCache), generalized
// from a flat cache map to the full PackageIndex schema.
package index

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/aplpm/apl/ident"
)

// zstdMagic is the 4-byte marker that identifies a ZSTD-compressed index
// blob.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// ArtifactFormat enumerates the archive formats an artifact may be packaged
// in. This is a closed set: no other format may appear.
type ArtifactFormat string

const (
	FormatTarGz  ArtifactFormat = "tar.gz"
	FormatTarXz  ArtifactFormat = "tar.xz"
	FormatTarZst ArtifactFormat = "tar.zst"
	FormatZip    ArtifactFormat = "zip"
	FormatRaw    ArtifactFormat = "raw-binary"
)

// ArtifactRef points at one downloadable artifact for a specific arch.
type ArtifactRef struct {
	URL    string              `json:"url"`
	SHA256 ident.Sha256Digest  `json:"sha256"`
	Format ArtifactFormat      `json:"format"`
}

// VersionInfo is one version of one package: its artifacts by architecture,
// its runtime dependency names, and its declared bin list.
type VersionInfo struct {
	Version         string                       `json:"version"`
	Artifacts       map[ident.Arch]ArtifactRef    `json:"artifacts"`
	Deps            []ident.Name                 `json:"deps,omitempty"`
	Bin             []string                     `json:"bin,omitempty"`
	PostInstallHint string                       `json:"post_install_hint,omitempty"`
	Prerelease      bool                         `json:"prerelease,omitempty"`
}

// version parses VersionInfo.Version via ident.ParseVersion.
func (v VersionInfo) version() ident.Version { return ident.ParseVersion(v.Version) }

// IndexEntry is one package's full catalog entry.
type IndexEntry struct {
	Name        ident.Name    `json:"name"`
	Description string        `json:"description"`
	Homepage    string        `json:"homepage,omitempty"`
	License     string        `json:"license,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Type        string        `json:"type"` // "cli" | "app"
	Versions    []VersionInfo `json:"versions"`
}

// PackageIndex is the full decoded registry index.
type PackageIndex struct {
	SchemaVersion uint32       `json:"version"`
	UpdatedAt     int64        `json:"updated_at"`
	Packages      []IndexEntry `json:"packages"`

	byName map[ident.Name]int // index into Packages; rebuilt on demand, never holds pointers across appends
}

// New returns an empty index ready for Upsert, used by cmd/aplindex when
// generating a fresh index from a directory of package templates.
func New(updatedAt int64) *PackageIndex {
	return &PackageIndex{SchemaVersion: CurrentSchemaVersion, UpdatedAt: updatedAt}
}

// Upsert inserts ver into name's entry, creating the entry from meta if it
// doesn't exist yet, or replacing any existing version with the same
// Version string. Grounded on original_source/src/core/index.rs's
// upsert_release, which cmd/aplindex's generation flow drives once per
// parsed template.
func (idx *PackageIndex) Upsert(name ident.Name, meta IndexEntry, ver VersionInfo) {
	if idx.byName == nil {
		idx.reindex()
	}
	i, ok := idx.byName[name]
	if !ok {
		meta.Name = name
		meta.Versions = nil
		idx.Packages = append(idx.Packages, meta)
		i = len(idx.Packages) - 1
		idx.byName[name] = i
	}
	e := &idx.Packages[i]
	for j, existing := range e.Versions {
		if existing.Version == ver.Version {
			e.Versions[j] = ver
			return
		}
	}
	e.Versions = append(e.Versions, ver)
}

// CurrentSchemaVersion is the schema version this decoder understands.
const CurrentSchemaVersion uint32 = 1

// ErrUnknownSchema is returned by Decode for an index whose version field
// this build does not understand.
var ErrUnknownSchema = fmt.Errorf("index: unknown schema version")

// Decode parses already-decompressed index bytes. It validates the
// invariants: package names unique, (version, arch) pairs unique per
// entry, every sha256 64 hex chars.
func Decode(data []byte) (*PackageIndex, error) {
	var idx PackageIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("index: decode: %w", err)
	}
	if idx.SchemaVersion != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSchema, idx.SchemaVersion)
	}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	idx.reindex()
	return &idx, nil
}

// Encode serializes a PackageIndex back to its canonical JSON form. Used by
// the peripheral indexer tool (cmd/aplindex) and by the round-trip tests.
func (idx *PackageIndex) Encode() ([]byte, error) {
	sorted := make([]IndexEntry, len(idx.Packages))
	copy(sorted, idx.Packages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	out := PackageIndex{SchemaVersion: idx.SchemaVersion, UpdatedAt: idx.UpdatedAt, Packages: sorted}
	return json.Marshal(out)
}

func (idx *PackageIndex) validate() error {
	seen := make(map[ident.Name]bool, len(idx.Packages))
	for _, e := range idx.Packages {
		if seen[e.Name] {
			return fmt.Errorf("index: duplicate package name %q", e.Name)
		}
		seen[e.Name] = true

		pairs := make(map[string]bool)
		for _, v := range e.Versions {
			for arch, art := range v.Artifacts {
				key := v.Version + "|" + string(arch)
				if pairs[key] {
					return fmt.Errorf("index: %s: duplicate (version, arch) pair %s", e.Name, key)
				}
				pairs[key] = true
				if _, err := ident.ParseSha256Digest(string(art.SHA256)); err != nil {
					return fmt.Errorf("index: %s %s/%s: %w", e.Name, v.Version, arch, err)
				}
			}
		}
	}
	return nil
}

func (idx *PackageIndex) reindex() {
	idx.byName = make(map[ident.Name]int, len(idx.Packages))
	for i := range idx.Packages {
		idx.byName[idx.Packages[i].Name] = i
	}
}

// Load decodes raw index bytes, transparently decompressing them if the
// ZSTD magic is present at the start.
func Load(raw []byte) (*PackageIndex, error) {
	data, err := maybeDecompress(raw)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func maybeDecompress(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("index: zstd: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("index: zstd decode: %w", err)
	}
	return out, nil
}

// SignatureError distinguishes a missing signature from an invalid one:
// both are fatal, no trust-on-first-use fallback.
type SignatureError struct {
	Missing bool
	Err     error
}

func (e *SignatureError) Error() string {
	if e.Missing {
		return "index: signature missing"
	}
	return fmt.Sprintf("index: signature invalid: %v", e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// Verify checks a detached Ed25519 signature over the exact bytes as stored
// on the CDN (the possibly-compressed transport form).
func Verify(pubKey ed25519.PublicKey, transportBytes, signature []byte) error {
	if len(signature) == 0 {
		return &SignatureError{Missing: true}
	}
	if !ed25519.Verify(pubKey, transportBytes, signature) {
		return &SignatureError{Err: fmt.Errorf("ed25519 verification failed")}
	}
	return nil
}

// Find performs a case-insensitive lookup (Name is already normalized at
// construction, so this is a direct map lookup).
func (idx *PackageIndex) Find(name string) (*IndexEntry, bool) {
	if idx.byName == nil {
		idx.reindex()
	}
	i, ok := idx.byName[ident.NewName(name)]
	if !ok {
		return nil, false
	}
	return &idx.Packages[i], true
}

// Latest returns the newest version, sorted by the documented ordering
// (semver descending, non-semver fallback below any semver tag).
// Pre-releases are excluded unless includePrerelease is set. An empty
// Versions list yields (VersionInfo{}, false), not an error.
func Latest(e *IndexEntry, includePrerelease bool) (VersionInfo, bool) {
	var best VersionInfo
	var bestV ident.Version
	found := false
	for _, v := range e.Versions {
		if v.Prerelease && !includePrerelease {
			continue
		}
		cand := v.version()
		if !found || bestV.Less(cand) {
			best, bestV, found = v, cand, true
		}
	}
	return best, found
}

// IsNewer reports whether candidate strictly outranks installed under the
// same ordering Latest uses. Differing only in build metadata is not newer.
func IsNewer(installed, candidate string) bool {
	a, b := ident.ParseVersion(installed), ident.ParseVersion(candidate)
	return a.Less(b) && !a.Equal(b)
}

// Freshness compares two indices' updated_at timestamps.
type Freshness int

const (
	Same Freshness = iota
	Updated
)

func CompareFreshness(oldIdx, newIdx *PackageIndex) Freshness {
	if newIdx.UpdatedAt > oldIdx.UpdatedAt {
		return Updated
	}
	return Same
}

// SelectArtifact picks the ArtifactRef for want, preferring an exact match
// and falling back to a universal artifact.
func SelectArtifact(v VersionInfo, want ident.Arch) (ArtifactRef, error) {
	if art, ok := v.Artifacts[want]; ok {
		return art, nil
	}
	if art, ok := v.Artifacts[ident.ArchUniversal]; ok {
		return art, nil
	}
	return ArtifactRef{}, fmt.Errorf("no artifact for arch %s in version %s", want, v.Version)
}

// DetectFormatFromURL is a convenience used when a template's declared
// format is absent; it falls back to the URL's suffix.
func DetectFormatFromURL(url string) ArtifactFormat {
	switch {
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(url, ".tar.xz"):
		return FormatTarXz
	case strings.HasSuffix(url, ".tar.zst"):
		return FormatTarZst
	case strings.HasSuffix(url, ".zip"):
		return FormatZip
	default:
		return FormatRaw
	}
}
