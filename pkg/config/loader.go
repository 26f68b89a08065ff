package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// ConfigFileNames are the conventional declaration filenames a directory is
// scanned for.
var ConfigFileNames = []string{"froyo.yaml", "froyo.yml"}

// Result is everything the ConfigLoader produces for a project root: one
// Project record and every Module record discovered across the scan.
type Result struct {
	Project *ProjectDeclaration
	Modules []*ModuleDeclaration
}

// Option configures a Loader.
type Option func(*Loader)

// WithRemoteSourceProvider sets the VCS collaborator used to check out
// repositoryUrl-declaring sources.
func WithRemoteSourceProvider(p RemoteSourceProvider) Option {
	return func(l *Loader) { l.remote = p }
}

// WithLocalOverrideProvider sets the LocalConfigStore consulted before any
// remote checkout.
func WithLocalOverrideProvider(p LocalOverrideProvider) Option {
	return func(l *Loader) { l.overrides = p }
}

// Loader is the ConfigLoader: it scans a project root's directory tree for
// declaration documents, honouring ignore patterns and remote-source
// checkouts.
type Loader struct {
	remote    RemoteSourceProvider
	overrides LocalOverrideProvider
}

// NewLoader constructs a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load scans rootPath (an absolute project root) and returns the Project
// record plus every Module record found, including those discovered inside
// any declared remote sources.
func (l *Loader) Load(ctx context.Context, rootPath string) (*Result, error) {
	res := &Result{}
	seenModuleNames := make(map[string]string) // name -> source file

	if err := l.scanDir(ctx, rootPath, res, seenModuleNames); err != nil {
		return nil, err
	}

	if res.Project == nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("no Project declaration found under %s", rootPath), nil).WithPath(rootPath)
	}

	for _, src := range res.Project.Sources {
		if err := l.scanSource(ctx, src.Name, src.RepositoryURL, res, seenModuleNames); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (l *Loader) scanSource(ctx context.Context, sourceName, repositoryURL string, res *Result, seen map[string]string) error {
	path, err := l.resolveSourcePath(ctx, sourceName, repositoryURL)
	if err != nil {
		return err
	}
	return l.scanDir(ctx, path, res, seen)
}

// scanDir walks dir recursively, parsing every conventional declaration
// file it finds and recursing into any remote source a Module declares.
func (l *Loader) scanDir(ctx context.Context, dir string, res *Result, seen map[string]string) error {
	ignore, err := loadIgnoreSet(dir)
	if err != nil {
		return ferrors.NewConfigError(fmt.Sprintf("reading %s in %s", ignoreFileName, dir), err).WithPath(dir)
	}

	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && ignore.Matches(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore.Matches(rel) {
			return nil
		}
		if !isConfigFile(d.Name()) {
			return nil
		}

		return l.parseFile(ctx, path, res, seen)
	})
}

func isConfigFile(name string) bool {
	for _, candidate := range ConfigFileNames {
		if name == candidate {
			return true
		}
	}
	return false
}

func (l *Loader) parseFile(ctx context.Context, path string, res *Result, seen map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ferrors.NewConfigError(fmt.Sprintf("reading %s", path), err).WithPath(path)
	}

	for _, doc := range splitYAMLDocuments(data) {
		if strings.TrimSpace(string(doc)) == "" {
			continue
		}
		proj, modules, err := parseDocument(doc, path)
		if err != nil {
			return err
		}

		if proj != nil {
			if res.Project != nil {
				return ferrors.NewConfigError(fmt.Sprintf("multiple Project declarations found (%s and %s)", res.Project.SourceFile, path), nil).WithPath(path)
			}
			res.Project = proj
		}

		for _, mod := range modules {
			if priorFile, exists := seen[mod.Name]; exists {
				return ferrors.NewConfigError(fmt.Sprintf("module name %q declared in both %s and %s", mod.Name, priorFile, path), nil).WithPath(path).WithResource(mod.Name)
			}
			seen[mod.Name] = path
			res.Modules = append(res.Modules, mod)

			if mod.RepositoryURL != "" {
				if err := l.scanSource(ctx, mod.Name, mod.RepositoryURL, res, seen); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// splitYAMLDocuments splits a file's bytes on "---" document separators.
// A leading separator (a file that opens with "---") yields an empty first
// document, skipped by the caller.
func splitYAMLDocuments(data []byte) [][]byte {
	padded := "\n" + string(data)
	raw := strings.Split(padded, "\n---")
	docs := make([][]byte, 0, len(raw))
	for _, d := range raw {
		docs = append(docs, []byte(d))
	}
	return docs
}
