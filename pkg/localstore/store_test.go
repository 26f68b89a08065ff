package localstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_OpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Username() != "" {
		t.Fatalf("expected empty username, got %q", s.Username())
	}
}

func TestStore_SetUsernamePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetUsername("alice"); err != nil {
		t.Fatalf("set username: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Username() != "alice" {
		t.Fatalf("expected alice, got %q", reopened.Username())
	}
}

func TestStore_PreviousUsernamesCappedAtFive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	names := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for _, n := range names {
		if err := s.SetUsername(n); err != nil {
			t.Fatalf("set username %s: %v", n, err)
		}
	}

	if len(s.doc.PreviousUsernames) != maxPreviousUsernames {
		t.Fatalf("expected %d previous usernames, got %d: %v", maxPreviousUsernames, len(s.doc.PreviousUsernames), s.doc.PreviousUsernames)
	}
	want := []string{"u2", "u3", "u4", "u5", "u6"}
	for i, w := range want {
		if s.doc.PreviousUsernames[i] != w {
			t.Fatalf("expected %v, got %v", want, s.doc.PreviousUsernames)
		}
	}
}

func TestStore_LinkProjectSourceAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.LinkProjectSource("extra", "/local/extra"); err != nil {
		t.Fatalf("link: %v", err)
	}

	got, ok := s.LinkedSource("extra")
	if !ok || got != "/local/extra" {
		t.Fatalf("expected link, got %q %v", got, ok)
	}
	if _, ok := s.LinkedSource("missing"); ok {
		t.Fatalf("expected no link for missing source")
	}
}

func TestStore_LinkModuleSourceOverridesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.LinkModuleSource("svc", "/first"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.LinkModuleSource("svc", "/second"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if len(s.doc.LinkedModuleSources) != 1 {
		t.Fatalf("expected single entry replaced in place, got %v", s.doc.LinkedModuleSources)
	}
	got, ok := s.LinkedSource("svc")
	if !ok || got != "/second" {
		t.Fatalf("expected updated link, got %q %v", got, ok)
	}
}

func TestStore_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	if err := os.WriteFile(path, []byte("username: alice\nbogusField: true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Open(path)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
