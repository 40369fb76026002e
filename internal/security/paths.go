// Package security resolves client-supplied paths against configured roots.
package security

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathNotResolvable is returned when a requested point cloud path does not
// exist under any search root.
var ErrPathNotResolvable = errors.New("path not resolvable")

// ValidatePathWithinDirectory checks that filePath does not escape safeDir,
// following symlinks of the path or of its nearest existing parent.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := absPath
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		canonicalPath = resolved
	} else {
		// Not there yet: canonicalise the deepest existing parent instead, so
		// that <root>/link-to-etc/new.las is still caught.
		for check := absPath; ; {
			parent := filepath.Dir(check)
			if parent == check {
				break
			}
			if resolved, err := filepath.EvalSymlinks(parent); err == nil {
				rel, _ := filepath.Rel(parent, absPath)
				canonicalPath = filepath.Join(resolved, rel)
				break
			}
			check = parent
		}
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// ResolveCloudPath maps a requested point cloud location onto the local
// filesystem. The request may be a plain path or a URL whose path component
// names the cloud, as viewers send them; it is looked up under each search
// root in order. Absolute paths already inside a root are accepted as-is.
func ResolveCloudPath(searchRoots []string, requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathNotResolvable)
	}
	rel := requested
	if u, err := url.Parse(requested); err == nil && u.Scheme != "" && u.Host != "" {
		rel = u.Path
	}

	var candidates []string
	if filepath.IsAbs(rel) {
		candidates = append(candidates, rel)
	}
	for _, root := range searchRoots {
		candidates = append(candidates, filepath.Join(root, rel))
	}

	for _, candidate := range candidates {
		for _, root := range searchRoots {
			if ValidatePathWithinDirectory(candidate, root) != nil {
				continue
			}
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", fmt.Errorf("failed to resolve absolute path: %w", err)
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPathNotResolvable, requested)
}
