package resolve

import (
	"errors"
	"testing"

	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
	"github.com/aplpm/apl/statedb"
)

func mustIndex(t *testing.T, raw string) *index.PackageIndex {
	t.Helper()
	idx, err := index.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return idx
}

const sha = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func sampleRaw() string {
	return `{
		"version": 1,
		"updated_at": 0,
		"packages": [
			{"name":"jq","description":"d","type":"cli","versions":[
				{"version":"1.7.1","deps":["oniguruma"],"artifacts":{"arm64":{"url":"u","sha256":"` + sha + `","format":"tar.gz"}}},
				{"version":"1.6.0","deps":["oniguruma"],"artifacts":{"arm64":{"url":"u","sha256":"` + sha + `","format":"tar.gz"}}}
			]},
			{"name":"oniguruma","description":"d","type":"cli","versions":[
				{"version":"6.9.8","artifacts":{"arm64":{"url":"u","sha256":"` + sha + `","format":"tar.gz"}}}
			]},
			{"name":"cyclic-a","description":"d","type":"cli","versions":[
				{"version":"1.0.0","deps":["cyclic-b"],"artifacts":{"arm64":{"url":"u","sha256":"` + sha + `","format":"tar.gz"}}}
			]},
			{"name":"cyclic-b","description":"d","type":"cli","versions":[
				{"version":"1.0.0","deps":["cyclic-a"],"artifacts":{"arm64":{"url":"u","sha256":"` + sha + `","format":"tar.gz"}}}
			]}
		]
	}`
}

type nullInstalled struct{}

func (nullInstalled) GetPackage(name ident.Name) (statedb.Package, bool, error) {
	return statedb.Package{}, false, nil
}

func TestResolveIncludesDependencyClosure(t *testing.T) {
	idx := mustIndex(t, sampleRaw())
	r := New(idx, ident.ArchARM64, nullInstalled{}, nil)

	plan, err := r.Resolve([]ident.Spec{{Name: "jq"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	names := map[string]string{}
	for _, s := range plan.Steps {
		names[string(s.Name)] = s.Version
	}
	if names["jq"] != "1.7.1" {
		t.Fatalf("expected jq@1.7.1, got %v", names)
	}
	if names["oniguruma"] != "6.9.8" {
		t.Fatalf("expected dependency closure to include oniguruma, got %v", names)
	}
}

func TestResolveUnknownPackage(t *testing.T) {
	idx := mustIndex(t, sampleRaw())
	r := New(idx, ident.ArchARM64, nullInstalled{}, nil)

	_, err := r.Resolve([]ident.Spec{{Name: "does-not-exist"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	idx := mustIndex(t, sampleRaw())
	r := New(idx, ident.ArchARM64, nullInstalled{}, nil)

	_, err := r.Resolve([]ident.Spec{{Name: "cyclic-a"}})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestResolveSkipsAlreadySatisfied(t *testing.T) {
	idx := mustIndex(t, sampleRaw())
	installed := fakeInstalled{pkgs: map[ident.Name]statedb.Package{
		"oniguruma": {Name: "oniguruma", ActiveVersion: "6.9.8"},
	}}
	r := New(idx, ident.ArchARM64, installed, nil)

	plan, err := r.Resolve([]ident.Spec{{Name: "jq"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, s := range plan.Steps {
		if s.Name == "oniguruma" {
			t.Fatalf("expected oniguruma to be dropped as already satisfied")
		}
	}
}

func TestResolvePinnedVersionConflict(t *testing.T) {
	idx := mustIndex(t, sampleRaw())
	r := New(idx, ident.ArchARM64, nullInstalled{}, nil)

	_, err := r.Resolve([]ident.Spec{
		{Name: "jq", Version: "1.7.1"},
		{Name: "jq", Version: "1.6.0"},
	})
	var vc *VersionConflict
	if !errors.As(err, &vc) {
		t.Fatalf("expected VersionConflict, got %v", err)
	}
}

func TestResolveLockfileOverridesVersion(t *testing.T) {
	idx := mustIndex(t, sampleRaw())
	r := New(idx, ident.ArchARM64, nullInstalled{}, LockedVersions{"jq": "1.6.0"})

	plan, err := r.Resolve([]ident.Spec{{Name: "jq", Version: "1.7.1"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var gotVersion string
	for _, s := range plan.Steps {
		if s.Name == "jq" {
			gotVersion = s.Version
		}
	}
	if gotVersion != "1.6.0" {
		t.Fatalf("expected lockfile version to win, got %+v", plan.Steps)
	}
}

type fakeInstalled struct {
	pkgs map[ident.Name]statedb.Package
}

func (f fakeInstalled) GetPackage(name ident.Name) (statedb.Package, bool, error) {
	p, ok := f.pkgs[name]
	return p, ok, nil
}
