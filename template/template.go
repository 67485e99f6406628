// Package template parses the human-authored package template: the TOML
// source a registry maintainer hand-writes, from which cmd/aplindex
// generates one IndexEntry. Grounded on
// original_source/src/core/formula.rs's Formula/PackageInfo/Bottle/
// Dependencies structs (one field-for-field TOML schema covering source,
// per-arch binaries, deps and install strategy), adapted from the
// original's blake3-keyed Bottle to a sha256-keyed ArtifactRef and from
// "bottle" to "binary" naming.
package template

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
)

// Info is a template's [package] section.
type Info struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
	Homepage    string `toml:"homepage"`
	License     string `toml:"license"`
	Type        string `toml:"type"`
}

// Artifact is one [source] or [binary.<arch>] section.
type Artifact struct {
	URL             string `toml:"url"`
	SHA256          string `toml:"sha256"`
	Format          string `toml:"format"`
	StripComponents int    `toml:"strip_components"`
}

// Install is the template's [install] section.
type Install struct {
	Strategy string   `toml:"strategy"`
	Bin      []string `toml:"bin"`
}

// Dependencies is the template's [dependencies] section.
type Dependencies struct {
	Runtime  []string `toml:"runtime"`
	Build    []string `toml:"build"`
	Optional []string `toml:"optional"`
}

// Discovery declares a forge cmd/aplindex can poll for new releases,
// consumed only by registry-generation tooling, never by the install core
//.
type Discovery struct {
	Forge string `toml:"forge"` // "github"
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`
}

// Template is one package's full source definition.
type Template struct {
	Package      Info                `toml:"package"`
	Source       Artifact            `toml:"source"`
	Binary       map[string]Artifact `toml:"binary"`
	Install      Install             `toml:"install"`
	Dependencies Dependencies        `toml:"dependencies"`
	Discovery    Discovery           `toml:"discovery"`
}

// Load parses a template file from path.
func Load(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("template: read %s: %w", path, err)
	}
	var t Template
	if err := toml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("template: parse %s: %w", path, err)
	}
	return t, nil
}

// ToVersionInfo converts a parsed template into the index.VersionInfo its
// package entry should carry, resolving each [binary.<arch>] into an
// index.ArtifactRef.
func (t Template) ToVersionInfo() (index.VersionInfo, error) {
	artifacts := make(map[ident.Arch]index.ArtifactRef, len(t.Binary))
	for archKey, art := range t.Binary {
		digest, err := ident.ParseSha256Digest(art.SHA256)
		if err != nil {
			return index.VersionInfo{}, fmt.Errorf("template: %s binary.%s: %w", t.Package.Name, archKey, err)
		}
		format := index.ArtifactFormat(art.Format)
		if format == "" {
			format = index.DetectFormatFromURL(art.URL)
		}
		artifacts[ident.Arch(archKey)] = index.ArtifactRef{URL: art.URL, SHA256: digest, Format: format}
	}

	deps := make([]ident.Name, 0, len(t.Dependencies.Runtime))
	for _, d := range t.Dependencies.Runtime {
		deps = append(deps, ident.NewName(d))
	}

	return index.VersionInfo{
		Version:   t.Package.Version,
		Artifacts: artifacts,
		Deps:      deps,
		Bin:       t.Install.Bin,
	}, nil
}
