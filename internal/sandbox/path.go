// Package sandbox validates filesystem paths and URLs against per-agent
// allow-lists. Everything is deny-by-default; failure modes are loud and
// typed so callers can surface them as tool errors.
package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// PathOptions configures path validation.
type PathOptions struct {
	// BlockSymlinks rejects any path component that is a symlink.
	// Defaults to true in ValidatePath.
	BlockSymlinks bool
}

// ValidatePath canonicalizes path and verifies it is a descendant of at
// least one allowed root. The algorithm expands ~, resolves to an
// absolute cleaned path, rejects symlinked components when
// blockSymlinks is set, and then checks root containment. Components
// that do not exist yet are permitted (write targets).
func ValidatePath(path string, allowedRoots []string, blockSymlinks bool) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &PathError{Path: path, Reason: "empty path"}
	}
	if strings.ContainsRune(path, 0) {
		return "", &PathError{Path: path, Reason: "null byte in path"}
	}

	expanded, err := expandHome(path)
	if err != nil {
		return "", &PathError{Path: path, Reason: err.Error()}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", &PathError{Path: path, Reason: "cannot resolve absolute path"}
	}
	abs = filepath.Clean(abs)

	if blockSymlinks {
		if err := rejectSymlinkComponents(abs); err != nil {
			return "", err
		}
	}

	for _, root := range allowedRoots {
		canonRoot, err := canonicalRoot(root)
		if err != nil {
			continue
		}
		if isDescendant(canonRoot, abs) {
			return abs, nil
		}
	}
	return "", &PathError{Path: abs, Reason: "outside allowed roots"}
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("cannot expand ~: no home directory")
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

func canonicalRoot(root string) (string, error) {
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// rejectSymlinkComponents walks each existing component of abs and
// fails on the first symlink. Missing components are fine: a write may
// create them, and they cannot be symlinks yet.
func rejectSymlinkComponents(abs string) error {
	components := strings.Split(abs, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return &PathError{Path: abs, Reason: "cannot stat component " + current}
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return &PathError{Path: abs, Reason: "symlink component " + current}
		}
	}
	return nil
}

func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
