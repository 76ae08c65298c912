package safety

import "slices"

// ValidateGitPush implements the git-push family: force-push is always
// rejected; pushes to a configured protected branch are rejected outright,
// force or not.
func (v *Validator) ValidateGitPush(branch string, force bool) error {
	if force {
		return NewError(KindBlockedCommand, "force-push is never permitted")
	}
	if slices.Contains(v.cfg.ProtectedBranches, branch) {
		return NewError(KindBlockedCommand, "branch %q is protected", branch)
	}
	return nil
}

// deniedHostMountPrefixes are host paths that must never be bind-mounted
// into a container, regardless of configuration.
var deniedHostMountPrefixes = []string{
	"/", "/etc", "/boot", "/usr", "/var", "/root", "/sys", "/proc",
	"/lib", "/lib64", "/opt", "/run",
}

// ValidateVolumeMount implements the container-volume family.
func (v *Validator) ValidateVolumeMount(hostPath string) error {
	canonical, err := v.canonicalizePath(hostPath)
	if err != nil {
		return err
	}
	if canonical == "/" {
		return NewError(KindBlockedPath, "mounting host root is never permitted")
	}
	for _, prefix := range deniedHostMountPrefixes {
		if canonical == prefix || globMatch(prefix+"/**", canonical) {
			return NewError(KindBlockedPath, "mounting %q (matches protected prefix %q) is not permitted", canonical, prefix)
		}
	}
	if globMatch("**/.ssh/**", canonical) || globMatch("**/.ssh", canonical) {
		return NewError(KindBlockedPath, "mounting an .ssh directory is not permitted")
	}
	for _, pattern := range v.cfg.DeniedVolumeMounts {
		if globMatch(pattern, canonical) {
			return NewError(KindBlockedPath, "mount %q is denied by policy (%s)", canonical, pattern)
		}
	}
	return nil
}
