// Package remotesource implements the ensureRemoteSource side of the VCS
// collaborator contract consumed by the config loader: given a Project- or
// Module-declared repositoryUrl, it materialises a local checkout the
// loader can scan. Local paths and file:// URLs resolve in place;
// ssh:// URLs are mirrored into a per-URL cache directory over SFTP.
package remotesource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// Fetcher mirrors one remote tree into a local directory. The ssh/SFTP
// implementation lives in ssh.go; tests substitute their own.
type Fetcher interface {
	// Fetch synchronises the tree at src (a parsed repository URL) into
	// destDir, creating it if needed.
	Fetch(ctx context.Context, src *url.URL, destDir string) error
}

// Provider resolves repository URLs to local checkout paths. It satisfies
// the config loader's RemoteSourceProvider contract.
type Provider struct {
	cacheDir string
	fetchers map[string]Fetcher
	log      zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithFetcher installs or replaces the Fetcher for a URL scheme.
func WithFetcher(scheme string, f Fetcher) Option {
	return func(p *Provider) { p.fetchers[scheme] = f }
}

// New constructs a Provider that materialises checkouts under cacheDir.
// The ssh scheme is pre-registered with an SFTP-backed fetcher; callers add
// more schemes with WithFetcher.
func New(cacheDir string, log zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		cacheDir: cacheDir,
		fetchers: map[string]Fetcher{
			"ssh": NewSFTPFetcher(log),
		},
		log: log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// EnsureRemoteSource implements config.RemoteSourceProvider: it returns a
// local directory containing the source named by repositoryURL, fetching or
// refreshing a cached mirror when the source is not already local.
func (p *Provider) EnsureRemoteSource(ctx context.Context, repositoryURL string) (string, error) {
	if local, ok := localPath(repositoryURL); ok {
		info, err := os.Stat(local)
		if err != nil {
			return "", ferrors.NewConfigError(fmt.Sprintf("local source %s is not accessible", local), err).WithPath(repositoryURL)
		}
		if !info.IsDir() {
			return "", ferrors.NewConfigError(fmt.Sprintf("local source %s is not a directory", local), nil).WithPath(repositoryURL)
		}
		return local, nil
	}

	src, err := url.Parse(normalizeURL(repositoryURL))
	if err != nil {
		return "", ferrors.NewConfigError(fmt.Sprintf("invalid repository URL %q", repositoryURL), err).WithPath(repositoryURL)
	}
	fetcher, ok := p.fetchers[src.Scheme]
	if !ok {
		return "", ferrors.NewConfigError(fmt.Sprintf("unsupported repository URL scheme %q", src.Scheme), nil).WithPath(repositoryURL)
	}

	dest := p.checkoutPath(repositoryURL)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", ferrors.NewRuntimeError(fmt.Sprintf("creating checkout directory %s", dest), err).WithPath(dest)
	}

	p.log.Debug().Str("url", repositoryURL).Str("dest", dest).Msg("syncing remote source")
	if err := fetcher.Fetch(ctx, src, dest); err != nil {
		return "", ferrors.NewRuntimeError(fmt.Sprintf("fetching %s", repositoryURL), err).WithPath(repositoryURL)
	}
	return dest, nil
}

// checkoutPath derives a stable per-URL directory under the cache root:
// a readable slug plus a digest prefix so distinct URLs never collide.
func (p *Provider) checkoutPath(repositoryURL string) string {
	sum := sha256.Sum256([]byte(repositoryURL))
	slug := urlSlug(repositoryURL)
	return filepath.Join(p.cacheDir, slug+"-"+hex.EncodeToString(sum[:6]))
}

func urlSlug(repositoryURL string) string {
	s := repositoryURL
	if u, err := url.Parse(repositoryURL); err == nil && u.Host != "" {
		s = u.Host + u.Path
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	const maxSlug = 64
	out := b.String()
	if len(out) > maxSlug {
		out = out[:maxSlug]
	}
	return out
}

// normalizeURL rewrites scp-style addresses (user@host:path) into ssh://
// URLs so a single parse path handles both spellings.
func normalizeURL(repositoryURL string) string {
	if strings.Contains(repositoryURL, "://") {
		return repositoryURL
	}
	at := strings.Index(repositoryURL, "@")
	colon := strings.Index(repositoryURL, ":")
	if at < 0 || colon < at {
		return repositoryURL
	}
	return "ssh://" + repositoryURL[:colon] + "/" + strings.TrimPrefix(repositoryURL[colon+1:], "/")
}

// localPath reports whether repositoryURL names a directory on this host:
// either a file:// URL or a bare absolute/relative filesystem path.
func localPath(repositoryURL string) (string, bool) {
	if strings.HasPrefix(repositoryURL, "file://") {
		return strings.TrimPrefix(repositoryURL, "file://"), true
	}
	if strings.Contains(repositoryURL, "://") {
		return "", false
	}
	// scp-style addresses (user@host:path) are remote, not local.
	if at := strings.Index(repositoryURL, "@"); at >= 0 && strings.Contains(repositoryURL[at:], ":") {
		return "", false
	}
	return repositoryURL, true
}
