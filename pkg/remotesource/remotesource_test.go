package remotesource

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

type fakeFetcher struct {
	calls []string
	files map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, src *url.URL, destDir string) error {
	f.calls = append(f.calls, src.String())
	for name, content := range f.files {
		if err := os.WriteFile(filepath.Join(destDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestEnsureRemoteSource_LocalPathResolvesInPlace(t *testing.T) {
	dir := t.TempDir()
	p := New(t.TempDir(), zerolog.Nop())

	got, err := p.EnsureRemoteSource(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dir {
		t.Errorf("expected local dir to resolve to itself, got %s", got)
	}
}

func TestEnsureRemoteSource_FileURL(t *testing.T) {
	dir := t.TempDir()
	p := New(t.TempDir(), zerolog.Nop())

	got, err := p.EnsureRemoteSource(context.Background(), "file://"+dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dir {
		t.Errorf("got %s", got)
	}
}

func TestEnsureRemoteSource_MissingLocalPath(t *testing.T) {
	p := New(t.TempDir(), zerolog.Nop())
	_, err := p.EnsureRemoteSource(context.Background(), "/does/not/exist")
	if !ferrors.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestEnsureRemoteSource_SSHURLUsesFetcherAndCache(t *testing.T) {
	cache := t.TempDir()
	fetcher := &fakeFetcher{files: map[string]string{"froyo.yaml": "kind: Module\ntype: task\nname: remote\n"}}
	p := New(cache, zerolog.Nop(), WithFetcher("ssh", fetcher))

	got, err := p.EnsureRemoteSource(context.Background(), "ssh://deploy@build.example.com/srv/sources/extra")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, cache) {
		t.Errorf("checkout %s should live under cache %s", got, cache)
	}
	if _, err := os.Stat(filepath.Join(got, "froyo.yaml")); err != nil {
		t.Errorf("fetched file missing: %v", err)
	}
	if len(fetcher.calls) != 1 {
		t.Errorf("expected 1 fetch, got %d", len(fetcher.calls))
	}
}

func TestEnsureRemoteSource_SCPStyleAddress(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := New(t.TempDir(), zerolog.Nop(), WithFetcher("ssh", fetcher))

	if _, err := p.EnsureRemoteSource(context.Background(), "git@example.com:org/extra.git"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetcher.calls) != 1 || !strings.HasPrefix(fetcher.calls[0], "ssh://git@example.com/") {
		t.Errorf("expected scp-style address normalized to ssh URL, got %v", fetcher.calls)
	}
}

func TestEnsureRemoteSource_UnsupportedScheme(t *testing.T) {
	p := New(t.TempDir(), zerolog.Nop())
	_, err := p.EnsureRemoteSource(context.Background(), "ftp://example.com/things")
	if !ferrors.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestCheckoutPath_DistinctURLsNeverCollide(t *testing.T) {
	p := New("/cache", zerolog.Nop())
	a := p.checkoutPath("ssh://host/a")
	b := p.checkoutPath("ssh://host/b")
	if a == b {
		t.Errorf("distinct URLs must map to distinct checkouts: %s", a)
	}
	if p.checkoutPath("ssh://host/a") != a {
		t.Error("checkout path must be stable for a given URL")
	}
}

func TestUpToDate(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "f")
	if err := os.WriteFile(local, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(local, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(local)
	if err != nil {
		t.Fatal(err)
	}
	if !upToDate(local, info) {
		t.Error("identical size+mtime should be up to date")
	}
	if upToDate(filepath.Join(dir, "missing"), info) {
		t.Error("missing local file can never be up to date")
	}
}
