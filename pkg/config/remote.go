package config

import (
	"context"
	"fmt"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// RemoteSourceProvider is the version-control collaborator contract the
// loader consumes for remote sources. The loader only defines and calls
// the contract; pkg/remotesource carries the default implementation.
type RemoteSourceProvider interface {
	// EnsureRemoteSource checks out repositoryURL locally (or refreshes an
	// existing checkout) and returns the absolute local path to scan.
	EnsureRemoteSource(ctx context.Context, repositoryURL string) (string, error)
}

// LocalOverrideProvider is the LocalConfigStore contract the loader
// consults before checking out a remote source: a configured local link
// for a source preempts the checkout entirely. Overrides are
// keyed by source name — the Project's declared source name, or a Module's
// own name when the Module declares repositoryUrl directly — matching
// LocalConfigStore's linkedProjectSources/linkedModuleSources maps
//.
type LocalOverrideProvider interface {
	// LinkedSource returns the local path overriding sourceName, if any.
	LinkedSource(sourceName string) (string, bool)
}

func (l *Loader) resolveSourcePath(ctx context.Context, sourceName, repositoryURL string) (string, error) {
	if l.overrides != nil {
		if path, ok := l.overrides.LinkedSource(sourceName); ok {
			return path, nil
		}
	}
	if l.remote == nil {
		return "", ferrors.NewRuntimeError(fmt.Sprintf("no remote source provider configured to check out %s", repositoryURL), nil)
	}
	return l.remote.EnsureRemoteSource(ctx, repositoryURL)
}
