package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ignoreFileName is the VCS-style ignore file the loader honours at the
// project root so the declaration scan skips subtrees (vendor, build
// output, and the like).
const ignoreFileName = ".froyoignore"

// ignoreSet holds glob patterns read from .froyoignore, matched against
// slash-separated paths relative to the project root. No pack repo
// supplies a dedicated gitignore-pattern library (checked go.mod across
// the retrieved examples); filepath.Match against each path segment and
// against the full relative path covers the common single- and
// multi-segment glob cases without inventing a fake dependency — see
// DESIGN.md.
type ignoreSet struct {
	patterns []string
}

// loadIgnoreSet reads root/.froyoignore, if present. A missing file yields
// an empty ignoreSet, not an error.
func loadIgnoreSet(root string) (*ignoreSet, error) {
	f, err := os.Open(filepath.Join(root, ignoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &ignoreSet{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &ignoreSet{patterns: patterns}, nil
}

// Matches reports whether relPath (slash-separated, relative to the
// project root) should be skipped.
func (s *ignoreSet) Matches(relPath string) bool {
	if s == nil {
		return false
	}
	base := filepath.Base(relPath)
	for _, p := range s.patterns {
		pattern := strings.TrimSuffix(p, "/")
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
		if strings.HasPrefix(relPath, pattern+"/") {
			return true
		}
	}
	return false
}
