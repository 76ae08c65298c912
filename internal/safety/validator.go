package safety

import (
	"encoding/json"
	"fmt"
)

// Validator is the Safety Validator: a stateless, per-config gate checked
// before a tool call reaches the Tool Registry. Construct one per Driver
// and reuse it across every step — it holds no mutable state.
type Validator struct {
	cfg Config
}

// New builds a Validator from the given config.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// fileToolArgs is the common shape of file_read/file_write/file_edit/
// file_delete and read-only analyzer tool arguments.
type fileToolArgs struct {
	Path   string `json:"path"`
	Content string `json:"content"`
	NewStr  string `json:"new_str"`
}

type shellToolArgs struct {
	Command string `json:"command"`
}

type gitPushArgs struct {
	Branch string `json:"branch"`
	Force  bool   `json:"force"`
}

type volumeMountArgs struct {
	HostPath string `json:"host_path"`
}

type urlToolArgs struct {
	URL string `json:"url"`
}

type browserEvalArgs struct {
	Code string `json:"code"`
}

// fileToolFamily lists the tool names that receive path + optional
// content-secret-scan validation.
var fileToolFamily = map[string]bool{
	"file_read": true, "file_write": true, "file_edit": true,
	"file_delete": true, "file_list": true, "find": true, "file_grep": true,
	"file_open": true,
}

var contentScannedTools = map[string]bool{
	"file_write": true, "file_edit": true,
}

// Check dispatches on toolName and applies the matching check family. A nil
// return means the invocation is permitted to execute.
func (v *Validator) Check(toolName string, args json.RawMessage) error {
	switch {
	case fileToolFamily[toolName]:
		return v.checkFileTool(toolName, args)
	case toolName == "shell_exec":
		var a shellToolArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return NewError(KindBlockedCommand, "could not parse shell arguments: %v", err)
		}
		return v.ValidateShellCommand(a.Command)
	case toolName == "git_push":
		var a gitPushArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return NewError(KindBlockedCommand, "could not parse git_push arguments: %v", err)
		}
		return v.ValidateGitPush(a.Branch, a.Force)
	case toolName == "container_volume_mount":
		var a volumeMountArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return NewError(KindBlockedPath, "could not parse volume mount arguments: %v", err)
		}
		return v.ValidateVolumeMount(a.HostPath)
	case toolName == "http_request" || toolName == "web_reader" || toolName == "browser_navigate":
		var a urlToolArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return NewError(KindBlockedPath, "could not parse URL arguments: %v", err)
		}
		_, err := v.ValidateURL(a.URL)
		return err
	case toolName == "browser_eval":
		var a browserEvalArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return NewError(KindBlockedCommand, "could not parse browser_eval arguments: %v", err)
		}
		return v.ValidateBrowserEval(a.Code)
	default:
		return nil
	}
}

func (v *Validator) checkFileTool(toolName string, args json.RawMessage) error {
	var a fileToolArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return NewError(KindBlockedPath, "could not parse %s arguments: %v", toolName, err)
	}
	if a.Path != "" {
		if _, err := v.ValidatePath(a.Path); err != nil {
			return err
		}
	}
	if contentScannedTools[toolName] {
		content := a.Content
		if content == "" {
			content = a.NewStr
		}
		if findings := ScanSecrets(content); HasHighSeverity(findings) {
			return NewError(KindSecretDetected, "content contains a likely secret (%s)", findings[0].Rule)
		}
	}
	return nil
}

// ResolvedPath returns the canonical path for logging/display purposes
// without re-running the deny/allow checks — callers that already called
// Check should use the path it validated.
func (v *Validator) ResolvedPath(path string) (string, error) {
	canonical, err := v.canonicalizePath(path)
	if err != nil {
		return "", fmt.Errorf("safety: %w", err)
	}
	return canonical, nil
}
