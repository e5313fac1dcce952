// Package conflictname generates the deterministic, collision-avoiding
// conflict-copy path the sync engine moves a file to instead of ever
// overwriting unreconciled local work.
package conflictname

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const timestampLayout = "2006-01-02_15-04-05"

// maxSuffix bounds the timestamp-advancing collision loop in Resolve
// before it gives up and returns the last candidate tried.
const maxSuffix = 1000

// Name produces the conflict rel_path for relPath given a device label
// and timestamp. An empty label falls back to "device". The suffix
// " (conflict from <label> <ts>)" is inserted before the file
// extension, or appended if relPath has none.
func Name(relPath, deviceLabel string, when time.Time) string {
	label := sanitizeLabel(deviceLabel)
	ts := when.UTC().Format(timestampLayout)
	info := fmt.Sprintf("conflict from %s %s", label, ts)

	stem, ext := stemExt(relPath)
	if ext == "" {
		return fmt.Sprintf("%s (%s)", relPath, info)
	}

	return fmt.Sprintf("%s (%s)%s", stem, info, ext)
}

// Exists reports whether a candidate path is already taken; callers
// supply it so the package stays free of filesystem side effects.
type Exists func(path string) bool

// Resolve calls Name repeatedly (advancing the timestamp by one second
// each retry) until exists reports the candidate is free, so the
// caller always gets a distinct name. Falls back to the last candidate
// after maxSuffix attempts.
func Resolve(relPath, deviceLabel string, when time.Time, exists Exists) string {
	candidate := Name(relPath, deviceLabel, when)

	for i := 0; i < maxSuffix && exists(candidate); i++ {
		when = when.Add(time.Second)
		candidate = Name(relPath, deviceLabel, when)
	}

	return candidate
}

// sanitizeLabel keeps alphanumerics plus space, underscore, dot, and
// hyphen, replacing everything else with underscore, and falls back to
// "device" if the result is empty after trimming.
func sanitizeLabel(label string) string {
	var b strings.Builder

	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '.' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	trimmed := strings.TrimSpace(b.String())
	if trimmed == "" {
		return "device"
	}

	return trimmed
}

// stemExt splits a rel_path into stem and extension, treating dotfiles
// whose only dot is the leading one (".bashrc") as extension-less so
// the conflict suffix is appended to the full name rather than
// inserted before the leading dot.
func stemExt(relPath string) (stem, ext string) {
	dir, base := filepath.Split(relPath)

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = filepath.Ext(base)
	stem = dir + strings.TrimSuffix(base, ext)

	return stem, ext
}
