package builtin

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pocketomega/omega-core/internal/tool"
)

// cargoToolTimeout bounds a single cargo/go verification invocation.
const cargoToolTimeout = 120 * time.Second

// cargoResultPayload is the JSON body returned as ToolResult.Output so the
// agent's tool-call pipeline can branch on "success" without re-parsing
// free-form compiler text (step 8's cargo_check error-analyzer enhancement
// and the completion gate's verification check both key off this).
type cargoResultPayload struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// cargoBaseTool runs one verification subcommand, preferring cargo when the
// workspace has a Cargo.toml and falling back to the equivalent go command
// otherwise — a Go-repo-appropriate default the upstream agent never needed.
type cargoBaseTool struct {
	workspaceDir string
	cargoArgs    []string
	goArgs       []string
}

func (t *cargoBaseTool) Init(_ context.Context) error { return nil }
func (t *cargoBaseTool) Close() error                 { return nil }

func (t *cargoBaseTool) InputSchema() json.RawMessage {
	return tool.BuildSchema()
}

func (t *cargoBaseTool) isRustWorkspace() bool {
	_, err := os.Stat(filepath.Join(t.workspaceDir, "Cargo.toml"))
	return err == nil
}

func (t *cargoBaseTool) run(ctx context.Context) (tool.ToolResult, error) {
	binary, args := "go", t.goArgs
	if t.isRustWorkspace() {
		binary, args = "cargo", t.cargoArgs
	}

	cctx, cancel := context.WithTimeout(ctx, cargoToolTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, binary, args...)
	if t.workspaceDir != "" {
		cmd.Dir = t.workspaceDir
	}
	output, err := cmd.CombinedOutput()
	outStr := safeRuneTruncate(string(output), maxOutputChars)

	if cctx.Err() != nil {
		payload, _ := json.Marshal(cargoResultPayload{Success: false, Output: outStr + "\n(超时)"})
		return tool.ToolResult{Error: string(payload)}, nil
	}

	payload, _ := json.Marshal(cargoResultPayload{Success: err == nil, Output: strings.TrimSpace(outStr)})
	if err != nil {
		return tool.ToolResult{Error: string(payload)}, nil
	}
	return tool.ToolResult{Output: string(payload)}, nil
}

// ── cargo_check ──

type CargoCheckTool struct{ cargoBaseTool }

func NewCargoCheckTool(workspaceDir string) *CargoCheckTool {
	return &CargoCheckTool{cargoBaseTool{
		workspaceDir: workspaceDir,
		cargoArgs:    []string{"check", "--message-format=short"},
		goArgs:       []string{"build", "./..."},
	}}
}

func (t *CargoCheckTool) Name() string        { return "cargo_check" }
func (t *CargoCheckTool) Description() string { return "运行 cargo check（或 go build）验证代码是否能通过类型检查" }
func (t *CargoCheckTool) Execute(ctx context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	return t.run(ctx)
}

// ── cargo_test ──

type CargoTestTool struct{ cargoBaseTool }

func NewCargoTestTool(workspaceDir string) *CargoTestTool {
	return &CargoTestTool{cargoBaseTool{
		workspaceDir: workspaceDir,
		cargoArgs:    []string{"test"},
		goArgs:       []string{"test", "./..."},
	}}
}

func (t *CargoTestTool) Name() string        { return "cargo_test" }
func (t *CargoTestTool) Description() string { return "运行 cargo test（或 go test）验证测试是否通过" }
func (t *CargoTestTool) Execute(ctx context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	return t.run(ctx)
}

// ── cargo_clippy ──

type CargoClippyTool struct{ cargoBaseTool }

func NewCargoClippyTool(workspaceDir string) *CargoClippyTool {
	return &CargoClippyTool{cargoBaseTool{
		workspaceDir: workspaceDir,
		cargoArgs:    []string{"clippy", "--message-format=short"},
		goArgs:       []string{"vet", "./..."},
	}}
}

func (t *CargoClippyTool) Name() string        { return "cargo_clippy" }
func (t *CargoClippyTool) Description() string { return "运行 cargo clippy（或 go vet）进行代码风格与常见错误检查" }
func (t *CargoClippyTool) Execute(ctx context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	return t.run(ctx)
}
