// Package version implements VersionResolver: combining a module's
// source-tree digest with its build dependencies' resolved versions into a
// stable, deterministic ModuleVersion string, memoised per
// (moduleName, sorted-dep-name-list) and invalidated by path-prefix match.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/openfroyo/froyocore/pkg/ferrors"
	"github.com/openfroyo/froyocore/pkg/model"
)

// TreeHasher is the VCS collaborator contract: given a module's absolute
// path, it returns a stable digest of the tracked file contents
// (reorder-independent) plus whether the working tree is dirty and, if so,
// when the dirtiness was last observed.
type TreeHasher interface {
	TreeDigest(modulePath string) (digest string, dirty bool, dirtyAt time.Time, err error)
}

// DependencyLookup resolves a module name to the Module record describing
// its path and declared build dependencies, so Resolver can walk the build
// graph without owning it.
type DependencyLookup func(moduleName string) (*model.Module, bool)

// cacheEntry holds a memoised ModuleVersion plus the path prefixes whose
// mutation should invalidate it.
type cacheEntry struct {
	version  model.ModuleVersion
	prefixes []string
}

// Resolver computes and memoises ModuleVersions.
type Resolver struct {
	hasher TreeHasher
	lookup DependencyLookup

	mu    sync.RWMutex
	cache map[string]cacheEntry // key: moduleName + "|" + sorted dep names joined
}

// NewResolver constructs a Resolver over the given VCS collaborator and
// module lookup.
func NewResolver(hasher TreeHasher, lookup DependencyLookup) *Resolver {
	return &Resolver{
		hasher: hasher,
		lookup: lookup,
		cache:  make(map[string]cacheEntry),
	}
}

// cacheKey composes the memoisation key for a module given its already-sorted
// direct dependency names.
func cacheKey(moduleName string, sortedDepNames []string) string {
	return moduleName + "|" + strings.Join(sortedDepNames, ",")
}

// Resolve computes M's ModuleVersion: digest(M.treeHash ∥ sortedDeps),
// recursing into build dependencies first. Results are memoised.
func (r *Resolver) Resolve(moduleName string) (model.ModuleVersion, error) {
	return r.resolve(moduleName, map[string]bool{})
}

func (r *Resolver) resolve(moduleName string, inProgress map[string]bool) (model.ModuleVersion, error) {
	if inProgress[moduleName] {
		return model.ModuleVersion{}, ferrors.NewConfigError("circular build dependency while resolving version", nil).
			WithResource(moduleName)
	}

	mod, ok := r.lookup(moduleName)
	if !ok {
		return model.ModuleVersion{}, ferrors.NewParameterError("unknown module", nil).WithResource(moduleName)
	}

	depNames := make([]string, 0, len(mod.BuildDependencies))
	for _, d := range mod.BuildDependencies {
		depNames = append(depNames, d.ModuleName)
	}
	sort.Strings(depNames)
	key := cacheKey(moduleName, depNames)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return entry.version, nil
	}
	r.mu.RUnlock()

	inProgress[moduleName] = true
	defer delete(inProgress, moduleName)

	treeDigest, dirty, dirtyAt, err := r.hasher.TreeDigest(mod.Path)
	if err != nil {
		return model.ModuleVersion{}, ferrors.NewRuntimeError("failed to compute module tree digest", err).WithResource(moduleName)
	}

	depVersions := make(map[string]string, len(depNames))
	var maxDirty time.Time
	if dirty {
		maxDirty = dirtyAt
	}
	for _, depName := range depNames {
		depVersion, err := r.resolve(depName, inProgress)
		if err != nil {
			return model.ModuleVersion{}, err
		}
		depVersions[depName] = depVersion.VersionString
		if depVersion.DirtyTimestamp != nil && depVersion.DirtyTimestamp.After(maxDirty) {
			maxDirty = *depVersion.DirtyTimestamp
		}
	}

	versionString := digestTreeAndDeps(treeDigest, depNames, depVersions)

	mv := model.ModuleVersion{
		VersionString:       versionString,
		DependencyVersions:  depVersions,
	}
	if !maxDirty.IsZero() {
		t := maxDirty
		mv.DirtyTimestamp = &t
	}

	prefixes := make([]string, 0, 1+len(mod.BuildDependencies))
	prefixes = append(prefixes, mod.Path)
	for _, depName := range depNames {
		if dm, ok := r.lookup(depName); ok {
			prefixes = append(prefixes, dm.Path)
		}
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{version: mv, prefixes: prefixes}
	r.mu.Unlock()

	return mv, nil
}

// digestTreeAndDeps computes digest(treeHash ∥ sortedDeps) deterministically:
// sorted dependency names are hashed alongside their resolved versions so
// reordering the dependency declaration never changes the result.
func digestTreeAndDeps(treeDigest string, sortedDepNames []string, depVersions map[string]string) string {
	h := sha256.New()
	h.Write([]byte(treeDigest))
	for _, name := range sortedDepNames {
		h.Write([]byte("\x00"))
		h.Write([]byte(name))
		h.Write([]byte("\x00"))
		h.Write([]byte(depVersions[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Invalidate evicts every cache entry whose path prefixes include a path
// that has path as a prefix (or vice versa), per the module's or any
// dependency's tracked tree having changed.
func (r *Resolver) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.cache {
		for _, prefix := range entry.prefixes {
			if strings.HasPrefix(path, prefix) || strings.HasPrefix(prefix, path) {
				delete(r.cache, key)
				break
			}
		}
	}
}

// FSTreeHasher implements TreeHasher by walking a module's tree and hashing
// every regular file's relative path and contents. There is no VCS plumbing
// library in the dependency set this module draws from, so dirty-tree
// detection (which needs repository status, not just file contents) is not
// attempted; FSTreeHasher always reports dirty=false and a zero dirtyAt.
type FSTreeHasher struct{}

// NewFSTreeHasher constructs an FSTreeHasher.
func NewFSTreeHasher() FSTreeHasher { return FSTreeHasher{} }

// TreeDigest walks modulePath and returns a digest that is stable across
// runs and independent of directory-entry iteration order.
func (FSTreeHasher) TreeDigest(modulePath string) (string, bool, time.Time, error) {
	type fileDigest struct {
		rel    string
		digest string
	}
	var files []fileDigest

	err := filepath.WalkDir(modulePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(modulePath, path)
		if relErr != nil {
			return relErr
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer f.Close()

		h := sha256.New()
		if _, copyErr := io.Copy(h, f); copyErr != nil {
			return copyErr
		}
		files = append(files, fileDigest{rel: filepath.ToSlash(rel), digest: hex.EncodeToString(h.Sum(nil))})
		return nil
	})
	if err != nil {
		return "", false, time.Time{}, ferrors.NewRuntimeError(fmt.Sprintf("walking module tree %s", modulePath), err).WithResource(modulePath)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.rel))
		h.Write([]byte("\x00"))
		h.Write([]byte(f.digest))
		h.Write([]byte("\x00"))
	}
	return hex.EncodeToString(h.Sum(nil)), false, time.Time{}, nil
}

// MatchConstraint reports whether candidateVersion satisfies the given
// semver constraint string (e.g. ">=1.0.0"), used to gate a provider
// registration against a module's declared Version field. Parsed with
// github.com/Masterminds/semver/v3.
func MatchConstraint(constraint, candidateVersion string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, ferrors.NewConfigError(fmt.Sprintf("invalid version constraint %q", constraint), err)
	}
	v, err := semver.NewVersion(candidateVersion)
	if err != nil {
		return false, ferrors.NewConfigError(fmt.Sprintf("invalid candidate version %q", candidateVersion), err)
	}
	return c.Check(v), nil
}
