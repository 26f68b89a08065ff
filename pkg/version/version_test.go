package version

import (
	"testing"
	"time"

	"github.com/openfroyo/froyocore/pkg/model"
)

type fakeHasher struct {
	digests map[string]string
	calls   map[string]int
}

func (f *fakeHasher) TreeDigest(path string) (string, bool, time.Time, error) {
	f.calls[path]++
	return f.digests[path], false, time.Time{}, nil
}

func modules() map[string]*model.Module {
	return map[string]*model.Module{
		"base": {Name: "base", Path: "/src/base"},
		"app": {
			Name:              "app",
			Path:              "/src/app",
			BuildDependencies: []model.BuildDependency{{ModuleName: "base"}},
		},
	}
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	mods := modules()
	lookup := func(name string) (*model.Module, bool) { m, ok := mods[name]; return m, ok }

	hasher := &fakeHasher{digests: map[string]string{"/src/base": "basehash", "/src/app": "apphash"}, calls: map[string]int{}}
	r1 := NewResolver(hasher, lookup)
	v1, err := r1.Resolve("app")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r2 := NewResolver(hasher, lookup)
	v2, err := r2.Resolve("app")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if v1.VersionString != v2.VersionString {
		t.Errorf("expected deterministic version string, got %q vs %q", v1.VersionString, v2.VersionString)
	}
	if v1.VersionString == "" {
		t.Errorf("expected non-empty version string")
	}
}

func TestResolver_Resolve_Memoises(t *testing.T) {
	mods := modules()
	lookup := func(name string) (*model.Module, bool) { m, ok := mods[name]; return m, ok }
	hasher := &fakeHasher{digests: map[string]string{"/src/base": "b", "/src/app": "a"}, calls: map[string]int{}}
	r := NewResolver(hasher, lookup)

	if _, err := r.Resolve("app"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Resolve("app"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if hasher.calls["/src/app"] != 1 {
		t.Errorf("expected tree digest computed once due to memoisation, got %d calls", hasher.calls["/src/app"])
	}
}

func TestResolver_Invalidate(t *testing.T) {
	mods := modules()
	lookup := func(name string) (*model.Module, bool) { m, ok := mods[name]; return m, ok }
	hasher := &fakeHasher{digests: map[string]string{"/src/base": "b", "/src/app": "a"}, calls: map[string]int{}}
	r := NewResolver(hasher, lookup)

	if _, err := r.Resolve("app"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Invalidate("/src/app")
	if _, err := r.Resolve("app"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if hasher.calls["/src/app"] != 2 {
		t.Errorf("expected cache invalidated, got %d calls", hasher.calls["/src/app"])
	}
}

func TestMatchConstraint(t *testing.T) {
	ok, err := MatchConstraint(">=1.0.0", "1.2.3")
	if err != nil {
		t.Fatalf("MatchConstraint: %v", err)
	}
	if !ok {
		t.Errorf("expected 1.2.3 to satisfy >=1.0.0")
	}

	ok, err = MatchConstraint(">=2.0.0", "1.2.3")
	if err != nil {
		t.Fatalf("MatchConstraint: %v", err)
	}
	if ok {
		t.Errorf("expected 1.2.3 to not satisfy >=2.0.0")
	}
}
