package safety

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ValidatePath implements the path-validator protocol: canonicalize, then
// check against the deny list and (if non-empty) the allow list. Matching
// is always performed on the canonical form, never on the raw input, so
// that "/allowed/../../../etc/passwd" cannot slip past a glob on
// "/allowed/**".
func (v *Validator) ValidatePath(path string) (string, error) {
	canonical, err := v.canonicalizePath(path)
	if err != nil {
		return "", err
	}

	for _, pattern := range v.cfg.DeniedPaths {
		if globMatch(pattern, canonical) {
			return "", NewError(KindBlockedPath, "path %q is denied by policy (%s)", canonical, pattern)
		}
	}

	if len(v.cfg.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range v.cfg.AllowedPaths {
			if globMatch(pattern, canonical) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", NewError(KindBlockedPath, "path %q is not within any allowed root", canonical)
		}
	}

	return canonical, nil
}

// canonicalizePath resolves path to an absolute, symlink-free form. If the
// path exists, it is resolved directly. If it does not exist (e.g. a file
// about to be created), the nearest existing ancestor is resolved and the
// path is rejected if the remaining relative suffix still contains ".."
// segments — this is what stops "canonicalize, then append .." bypasses.
func (v *Validator) canonicalizePath(path string) (string, error) {
	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else if v.cfg.WorkspaceDir != "" {
		joined = filepath.Clean(filepath.Join(v.cfg.WorkspaceDir, path))
	} else {
		joined = filepath.Clean(path)
	}

	if real, err := filepath.EvalSymlinks(joined); err == nil {
		return normalizeCase(real), nil
	}

	// Walk up to the nearest existing ancestor, tracking the relative
	// remainder so we can detect ".." segments the clean above already
	// collapsed relative to workspace, but which may still point outside
	// the resolved ancestor once symlinks are taken into account.
	dir := joined
	var suffix []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			// reached filesystem root without finding an existing ancestor
			return normalizeCase(joined), nil
		}
		suffix = append([]string{filepath.Base(dir)}, suffix...)
		dir = parent
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			for _, seg := range suffix {
				if seg == ".." {
					return "", NewError(KindPathTraversal, "path %q escapes its resolved ancestor via \"..\"", path)
				}
			}
			return normalizeCase(filepath.Join(append([]string{real}, suffix...)...)), nil
		}
	}
}

func normalizeCase(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(p)
	}
	return p
}

// globMatch reports whether path matches pattern. "**" is treated as a
// recursive wildcard (matches any number of path segments); everything
// else is delegated to filepath.Match per segment-aware semantics via a
// simple prefix/suffix split on "**".
func globMatch(pattern, path string) bool {
	pattern = normalizeCase(pattern)
	path = normalizeCase(path)

	if idx := strings.Index(pattern, "**"); idx >= 0 {
		prefix := strings.TrimSuffix(pattern[:idx], "/")
		suffix := strings.TrimPrefix(pattern[idx+2:], "/")
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			return false
		}
		if suffix == "" {
			return true
		}
		// "**/dir/**": dir must appear as a whole segment somewhere in path.
		if j := strings.Index(suffix, "**"); j >= 0 {
			mid := strings.Trim(suffix[:j], "/")
			return strings.Contains(path, "/"+mid+"/")
		}
		return strings.HasSuffix(path, suffix) || strings.Contains(path, "/"+suffix)
	}

	if ok, _ := filepath.Match(pattern, path); ok {
		return true
	}
	// Also allow the pattern to match any ancestor-relative basename, so a
	// plain directory pattern like "/etc" denies "/etc/passwd" too.
	return strings.HasPrefix(path, strings.TrimSuffix(pattern, string(os.PathSeparator))+string(os.PathSeparator))
}
