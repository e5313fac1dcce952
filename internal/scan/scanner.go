// Package scan walks the sync root and reports the set of regular
// files that should participate in sync, honoring ignore globs.
package scan

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/unicode/norm"

	"github.com/i-z-z-y/wpdrive-client/internal/pathutil"
)

// Result maps a relative POSIX path to the file's absolute path.
type Result map[string]string

// Scanner walks a sync root, pruning ignored directories and skipping
// ignored files.
type Scanner struct {
	logger   *slog.Logger
	patterns []glob.Glob
	raw      []string
}

// New compiles ignore into glob matchers. Invalid patterns are
// rejected eagerly so config errors surface at startup, not mid-scan.
func New(ignore []string, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scanner{logger: logger, raw: ignore}

	for _, pattern := range ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("scan: compiling ignore pattern %q: %w", pattern, err)
		}

		s.patterns = append(s.patterns, g)
	}

	return s, nil
}

// Scan walks root and returns every regular file not pruned by an
// ignore pattern. Paths are NFC-normalized before comparison so the
// same tree scans identically on macOS (NFD-preferring) and Linux
// (NFC) filesystems.
func (s *Scanner) Scan(root string) (Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scan: resolving root %s: %w", root, err)
	}

	out := Result{}

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				s.logger.Warn("scan: skipping unreadable entry", "path", path, "error", err)
				return nil
			}

			return fmt.Errorf("scan: walking %s: %w", path, err)
		}

		if path == absRoot {
			return nil
		}

		rel, relErr := pathutil.ToRelPosix(absRoot, path)
		if relErr != nil {
			return fmt.Errorf("scan: relativizing %s: %w", path, relErr)
		}

		relPosix := norm.NFC.String(rel)

		if d.IsDir() {
			if s.matchesAny(relPosix) || s.matchesAny(relPosix+"/") {
				s.logger.Debug("scan: pruning directory", "path", relPosix)
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			resolved, linkErr := filepath.EvalSymlinks(path)
			if linkErr != nil {
				s.logger.Warn("scan: skipping broken symlink", "path", relPosix, "error", linkErr)
				return nil
			}

			if !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
				s.logger.Warn("scan: skipping symlink escaping root", "path", relPosix)
				return nil
			}
		}

		if !d.Type().IsRegular() && d.Type()&os.ModeSymlink == 0 {
			return nil
		}

		if s.matchesAny(relPosix) {
			return nil
		}

		out[relPosix] = path

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return out, nil
}

// matchesAny reports whether relPosix matches any compiled ignore
// pattern. For directories Scan calls it twice, bare and with a
// trailing slash.
func (s *Scanner) matchesAny(relPosix string) bool {
	for _, p := range s.patterns {
		if p.Match(relPosix) {
			return true
		}
	}

	return false
}

// SortedPaths returns the result's relative paths in lexical order,
// the order the engine's upload planner walks the scanned files in.
func (r Result) SortedPaths() []string {
	paths := make([]string, 0, len(r))
	for p := range r {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}
