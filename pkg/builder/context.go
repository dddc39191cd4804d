package builder

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/polisproject/polisd/pkg/types"
)

// DefaultIgnoreFilename is the ignore file Build honors in addition to
// the fixed defaults.
const DefaultIgnoreFilename = ".polisignore"

// defaultIgnorePatterns are always excluded regardless of the context's
// own ignore file, mirroring the fixed set original_source's context
// scanner carries alongside whatever .dockerignore supplies.
var defaultIgnorePatterns = []string{
	".git",
	".dockerignore",
	".DS_Store",
	"Thumbs.db",
	"node_modules/",
	"target/",
	"vendor/",
}

// Context is BuildContext: the set of files under a context
// directory that survive ignore-pattern filtering, plus the resolved
// recipe path.
type Context struct {
	Path       string
	Files      map[string]string // relative path -> absolute path
	RecipePath string
	IgnorePath string
	Size       int64
}

// NewContext enumerates path, honoring DefaultIgnoreFilename (or the
// ignore file found at path) plus defaultIgnorePatterns, and resolves
// recipePath (or DefaultRecipeFilename under path if empty).
func NewContext(path, recipePath string) (*Context, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.NewNotFoundError("builder: context path does not exist: " + path)
	}
	if !info.IsDir() {
		return nil, types.NewValidationError("builder: context path is not a directory: " + path)
	}

	c := &Context{
		Path:       path,
		Files:      make(map[string]string),
		IgnorePath: filepath.Join(path, DefaultIgnoreFilename),
	}

	patterns, err := c.loadIgnorePatterns()
	if err != nil {
		return nil, err
	}

	if err := c.scan(patterns); err != nil {
		return nil, err
	}

	if recipePath == "" {
		recipePath = filepath.Join(path, DefaultRecipeFilename)
	}
	if _, err := os.Stat(recipePath); err != nil {
		return nil, types.NewNotFoundError("builder: recipe not found: " + recipePath)
	}
	c.RecipePath = recipePath

	if len(c.Files) == 0 {
		return nil, types.NewValidationError("builder: context is empty: " + path)
	}
	return c, nil
}

func (c *Context) loadIgnorePatterns() ([]string, error) {
	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, DefaultIgnoreFilename)

	data, err := os.ReadFile(c.IgnorePath)
	if os.IsNotExist(err) {
		return patterns, nil
	}
	if err != nil {
		return nil, types.NewIOError("builder: read ignore file", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

func (c *Context) scan(patterns []string) error {
	return filepath.WalkDir(c.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return types.NewIOError("builder: walk context", err)
		}
		if path == c.Path {
			return nil
		}

		rel, err := filepath.Rel(c.Path, path)
		if err != nil {
			return types.NewIOError("builder: resolve relative path", err)
		}
		rel = filepath.ToSlash(rel)

		if shouldIgnore(rel, d.IsDir(), patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		c.Files[rel] = path
		if fi, err := d.Info(); err == nil {
			c.Size += fi.Size()
		}
		return nil
	})
}

// shouldIgnore reports whether rel matches any of patterns, using the
// same three pattern shapes original_source's context scanner
// recognized (directory patterns ending in "/", leading-"*" suffix
// wildcards, exact/prefix matches) plus doublestar glob matching for
// anything else.
func shouldIgnore(rel string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesIgnorePattern(rel, isDir, pattern) {
			return true
		}
	}
	return false
}

func matchesIgnorePattern(rel string, isDir bool, pattern string) bool {
	switch {
	case strings.HasSuffix(pattern, "/"):
		dir := strings.TrimSuffix(pattern, "/")
		return rel == dir || strings.HasPrefix(rel, dir+"/")
	case strings.ContainsAny(pattern, "*?["):
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		return false
	default:
		return rel == pattern || strings.HasPrefix(rel, pattern+"/")
	}
}
