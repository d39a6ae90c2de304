// Package security validates names and paths before they reach the
// filesystem.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// JoinWithin joins elems onto root and rejects the result if it would
// escape root. The check is lexical so it works for in-memory
// filesystems; callers writing to disk should not place symlinks under
// root.
func JoinWithin(root string, elems ...string) (string, error) {
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(append([]string{cleanRoot}, elems...)...)

	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil {
		return "", fmt.Errorf("path is outside %s: %w", root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path traversal detected: %s attempts to escape %s", filepath.Join(elems...), root)
	}
	return joined, nil
}

// SanitizeFilename makes a safe path component from an arbitrary string.
// Characters other than ASCII letters, digits, dot, underscore and dash
// become a single underscore; the result is capped at 128 bytes and
// stripped of leading and trailing dots and underscores.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
