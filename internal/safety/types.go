// Package safety implements the pre-execution validator: it rejects
// dangerous tool invocations before they reach the Tool Registry. It is
// stateless — every check is a pure function of its arguments plus the
// Config passed in at construction.
package safety

import "fmt"

// Kind classifies why a validation failed, mirroring the SafetyError
// taxonomy's non-fatal branches.
type Kind string

const (
	KindBlockedPath       Kind = "blocked_path"
	KindBlockedCommand    Kind = "blocked_command"
	KindSecretDetected    Kind = "secret_detected"
	KindPathTraversal     Kind = "path_traversal"
	KindConfirmRequired   Kind = "confirmation_required"
)

// Error is returned by Validator.Check when a tool invocation is rejected.
// Reason is always human-readable and safe to surface as a tool-result
// message (never executed, never silently dropped).
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("safety: %s", e.Reason)
}

// NewError constructs a rejection with the given kind and formatted reason.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Config holds the tunables for every check family. Zero value is a
// permissive validator (no allow/deny lists, no protected branches) —
// callers opt into stricter behavior by populating fields.
type Config struct {
	// AllowedPaths, if non-empty, is a glob whitelist; canonical paths not
	// matching any entry are rejected. Empty means "allow anything not
	// explicitly denied".
	AllowedPaths []string
	// DeniedPaths is a glob blacklist checked before AllowedPaths.
	DeniedPaths []string
	// WorkspaceDir is the base directory relative paths are joined against.
	WorkspaceDir string

	// ProtectedBranches disallows force-push (and, if named, any push) to
	// these branches regardless of the force flag.
	ProtectedBranches []string

	// DeniedVolumeMounts augments the built-in host-path denylist for
	// container-volume checks.
	DeniedVolumeMounts []string
}
