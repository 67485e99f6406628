// Package ident defines the identity and digest types shared across every
// component: package names, versions, architectures and the two distinct
// hash kinds used for upstream verification and internal content addressing.
package ident

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Name is a case-normalized package identifier: "JQ" and "jq" are the same
// key. Always construct via NewName so the invariant holds at the type's
// boundary.
type Name string

// NewName lower-cases and trims a raw identifier.
func NewName(raw string) Name {
	return Name(strings.ToLower(strings.TrimSpace(raw)))
}

func (n Name) String() string { return string(n) }

// Arch is the artifact architecture. Universal artifacts satisfy any
// request; native arch is preferred over universal when both exist.
type Arch string

const (
	ArchARM64    Arch = "arm64"
	ArchX86_64   Arch = "x86_64"
	ArchUniversal Arch = "universal"
)

// Satisfies reports whether an artifact built for Arch a may run on Arch
// want: an exact match, or an Arch a of ArchUniversal.
func (a Arch) Satisfies(want Arch) bool {
	return a == want || a == ArchUniversal
}

// Spec is a user-supplied package reference: "name" or "name@version".
type Spec struct {
	Name    Name
	Version string // empty means "resolver picks latest"
}

// ParseSpec splits "name@version" into a Spec; a bare name leaves Version
// empty.
func ParseSpec(raw string) Spec {
	name, version, _ := strings.Cut(raw, "@")
	return Spec{Name: NewName(name), Version: version}
}

func (s Spec) String() string {
	if s.Version == "" {
		return string(s.Name)
	}
	return fmt.Sprintf("%s@%s", s.Name, s.Version)
}

// Version wraps a version string with semver-if-possible ordering and a
// documented fallback for tags that don't parse as semver (date stamps,
// bare commit SHAs). Any such version is considered to rank below every
// version that does parse as semver "Non-semver versions"
// design note; ties among non-semver tags fall back to lexical order,
// which is stable but not meaningful on its own.
type Version struct {
	Raw string
	sv  *semver.Version // nil when Raw does not parse as semver
}

// ParseVersion never fails: a version string that doesn't parse as semver
// is kept verbatim and ordered via the fallback. A string whose part before
// the first "-" has no "." (a date stamp such as 2024-01-01, or a bare
// number) counts as non-semver even though the lenient semver parser would
// accept it.
func ParseVersion(raw string) Version {
	v, err := semver.NewVersion(raw)
	core, _, _ := strings.Cut(strings.TrimPrefix(raw, "v"), "-")
	if err != nil || !strings.Contains(core, ".") {
		return Version{Raw: raw}
	}
	return Version{Raw: raw, sv: v}
}

// IsSemver reports whether the version parsed as semver.
func (v Version) IsSemver() bool { return v.sv != nil }

// Less reports whether v sorts strictly before o under the documented
// ordering: semver versions compare by semver; a semver version is always
// greater than a non-semver one; two non-semver versions compare lexically.
func (v Version) Less(o Version) bool {
	switch {
	case v.sv != nil && o.sv != nil:
		return v.sv.LessThan(o.sv)
	case v.sv != nil && o.sv == nil:
		return false
	case v.sv == nil && o.sv != nil:
		return true
	default:
		return v.Raw < o.Raw
	}
}

// Equal reports version equality. Two semver versions differing only in
// build metadata are equal.
func (v Version) Equal(o Version) bool {
	if v.sv != nil && o.sv != nil {
		return v.sv.Equal(o.sv)
	}
	return v.Raw == o.Raw
}

func (v Version) String() string { return v.Raw }

// Sha256Digest is a verified-at-parse-time 64-hex-character SHA-256 digest,
// used for upstream artifact verification.
type Sha256Digest string

// ParseSha256Digest validates a hex digest string.
func ParseSha256Digest(raw string) (Sha256Digest, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if len(raw) != 64 {
		return "", fmt.Errorf("sha256 digest must be 64 hex chars, got %d", len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("sha256 digest: %w", err)
	}
	return Sha256Digest(raw), nil
}

func (d Sha256Digest) String() string { return string(d) }

// Blake3Hash is the internal content-addressing digest (64 hex chars,
// BLAKE3-256) used for fast store-content verification and chunking.
type Blake3Hash string

func (h Blake3Hash) String() string { return string(h) }
