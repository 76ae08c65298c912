package agent

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/pocketomega/omega-core/internal/checkpoint"
	"github.com/pocketomega/omega-core/internal/llm"
	"github.com/pocketomega/omega-core/internal/plan"
	"github.com/pocketomega/omega-core/internal/tool"
	"github.com/pocketomega/omega-core/internal/walkthrough"
)

// AgentState is the shared state for the agent decision loop.
// NOT goroutine-safe: all fields must be accessed from a single goroutine.
// The current Flow.Run implementation guarantees single-goroutine access.
// If parallel node execution is introduced in the future, add sync.Mutex protection.
type AgentState struct {
	Problem      string         // User's original question
	WorkspaceDir string         // Working directory for file/shell tools
	StepHistory  []StepRecord   // Execution records for all steps
	ToolRegistry *tool.Registry // Available tools

	Solution string // Final answer

	ThinkingMode        string // "native" or "app" — controls DecideNode prompt options
	ToolCallMode        string // "auto", "fc", or "yaml" — may be raw unresolved value
	ContextWindowTokens int    // model context window in tokens; 0 = use safe fallback
	ConversationHistory string // formatted conversation prefix, populated by Handler layer

	// Runtime environment info — injected by AgentHandler from AgentHandlerOptions.
	OSName    string // e.g. "Windows", "Linux", "macOS"
	ShellCmd  string // e.g. "cmd.exe /c", "sh -c"
	ModelName string // e.g. "gemini-2.5-pro"

	// Transient field: DecideNode writes, ToolNode/ThinkNode reads.
	// Solves node-to-node state passing.
	LastDecision *Decision `json:"-"`

	// Guardrail fields
	LoopDetectionStreak int                             `json:"-"` // consecutive loop detections without self-correction
	CostGuard           *CostGuard                      `json:"-"` // nil = disabled; enforces token/duration limits
	pendingCompact      bool                            // single-goroutine; not currently set or read by any node
	OnContextOverflow   func(ctx context.Context) error `json:"-"` // injected by AgentHandler

	// SSE callbacks
	OnStepComplete func(StepRecord)   `json:"-"`
	OnStreamChunk  func(chunk string) `json:"-"` // LLM streaming token callback

	// ReadCache avoids re-executing idempotent read tools (e.g. file_read) for
	// identical arguments within a single run.
	ReadCache *ReadCache `json:"-"`

	// Walkthrough auto-write: set by AgentHandler when a walkthrough session
	// is attached; ToolNode appends a one-line summary per non-cached step.
	WalkthroughStore *walkthrough.Store `json:"-"`
	WalkthroughSID   string             `json:"-"`

	// Plan tracking: set by AgentHandler when an update_plan tool is attached
	// to the per-request tool registry. Not read by any node directly — the
	// update_plan tool closure carries its own PlanStore/sessionID — but kept
	// on state so a future Checkpoint snapshot can include the live plan.
	PlanStore    *plan.PlanStore          `json:"-"`
	PlanSID      string                   `json:"-"`
	OnPlanUpdate func(steps []plan.PlanStep) `json:"-"`

	// TaskID identifies this run for the Checkpoint Engine. Empty disables
	// checkpointing for the run.
	TaskID string `json:"-"`
	// CheckpointEngine, when non-nil and TaskID is set, persists
	// state.ToCheckpoint() from ToolNode and RecoverNode Post.
	CheckpointEngine *checkpoint.Engine `json:"-"`

	// Error-recovery bookkeeping (RecoverNode). RecoverAttempts counts
	// consecutive trips through the recovery path without a clean tool
	// success resetting it; MaxRecoverAttempts bounds retries before the
	// run is forced to a terminal failure.
	RecoverAttempts    int `json:"-"`
	MaxRecoverAttempts int `json:"-"` // 0 = use DefaultMaxRecoverAttempts

	// CheckpointVersion increments each time ToCheckpoint builds a snapshot;
	// it becomes the persisted Checkpoint.Version so the Checkpoint Engine
	// can tell successive saves apart.
	CheckpointVersion int `json:"-"`
	// checkpointCreatedAt is stamped on the first ToCheckpoint call and
	// reused on every subsequent one so CreatedAt never moves within a run.
	checkpointCreatedAt time.Time

	// Completion gate (spec §4.1). MinCompletionSteps is the minimum step
	// count before a zero-tool-call answer may terminate the run; 0 means
	// DefaultMinCompletionSteps. RequireVerification additionally demands a
	// successful cargo_check/cargo_test/cargo_clippy step in StepHistory.
	MinCompletionSteps  int  `json:"-"`
	RequireVerification bool `json:"-"`

	// Repetition detector (spec §4.1). A bounded FIFO of the last 10
	// (tool_name, args_hash) signatures; reaching 3 identical signatures
	// clears the window and blocks execution for that iteration.
	RepetitionWindow []repetitionSignature `json:"-"`
	// FailureMemory is the self-improvement/episodic memory collaborator
	// (§9 "opaque collaborator"): a running log of what_failed(kind, detail).
	FailureMemory []FailureMemoryEntry `json:"-"`

	// Per-tool execution pipeline (§4.1 steps 3/5/6/10).
	NonInteractive    bool             `json:"-"` // true: ConfirmationRequired tools error instead of prompting
	ConfirmBypass     bool             `json:"-"` // set once the user answers "s/skip" to a confirmation prompt
	StepTimeoutSecs   int              `json:"-"` // per-tool timeout; 0 = DefaultStepTimeoutSecs
	EditHistory       []EditSnapshot   `json:"-"` // undo ring: prior content of destructive-tool targets
	ContextFiles      map[string]bool  `json:"-"` // file_read-tracked paths, bounded to maxContextFiles
	StaleContextFiles map[string]bool  `json:"-"` // paths marked stale by a write/edit since last read
	VerifyGate        ChangeVerifier   `json:"-"` // optional; nil disables post-edit verification
	ConfirmRequired   map[string]bool  `json:"-"` // tool names that require confirmation before execution
}

// DefaultMaxRecoverAttempts bounds error-recovery retries when AgentState
// does not specify MaxRecoverAttempts.
const DefaultMaxRecoverAttempts = 2

// StepRecord records a single step execution.
type StepRecord struct {
	StepNumber int    `json:"step_number"`
	Type       string `json:"type"`                   // "decide", "tool", "think", "answer", "recover"
	Action     string `json:"action"`                 // Decision action
	ToolName   string `json:"tool_name"`              // Tool name (when type=tool)
	Input      string `json:"input"`                  // Input content
	Output     string `json:"output"`                 // Output result
	ToolCallID string `json:"tool_call_id,omitempty"` // FC only: correlates with model's tool call
	IsError    bool   `json:"is_error,omitempty"`     // true when tool returned an error
	DurationMs int64  `json:"duration_ms,omitempty"`  // wall-clock time of tool/node Exec
}

// MaxAgentSteps prevents infinite decision loops.
// Configurable via AGENT_MAX_STEPS env var (default: 40, min: 5, max: 200).
var MaxAgentSteps = loadMaxSteps()

// loadMaxSteps reads AGENT_MAX_STEPS from the environment.
// Extracted as a standalone function to allow direct unit testing.
func loadMaxSteps() int {
	const defaultSteps = 40
	v := os.Getenv("AGENT_MAX_STEPS")
	if v == "" {
		return defaultSteps
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 5 || n > 200 {
		log.Printf("[Config] WARNING: invalid AGENT_MAX_STEPS=%q (must be 5-200), using default %d", v, defaultSteps)
		return defaultSteps
	}
	return n
}

// ── DecideNode generic types ──
// BaseNode[AgentState, DecidePrep, Decision]

// DecidePrep is the prepared data for LLM decision-making.
type DecidePrep struct {
	Problem             string
	WorkspaceDir        string               // Working directory context for LLM
	StepSummary         string               // Summary of previous steps
	ToolsPrompt         string               // Available tools description (YAML path)
	ToolDefinitions     []llm.ToolDefinition // Tool definitions (FC path)
	StepCount           int                  // Current step count (for forced termination)
	ThinkingMode        string               // "native" or "app"
	ToolCallMode        string               // "auto", "fc", or "yaml" — may be raw unresolved value
	ConversationHistory string               // formatted conversation prefix from previous turns
	ToolingSummary      string               // Phase 1: auto-generated tool summary from Registry
	RuntimeLine         string               // Phase 1: compact runtime info line
	HasMCPIntent        bool                 // Phase 2: whether Problem mentions MCP/skill keywords
	ContextWindowTokens int                  // Phase 2: model context window for token budget guard
	LoopDetected        DetectionResult      // LoopDetector: repetitive pattern detection result
	CostGuard           *CostGuard           // pointer shared with state for Exec to record tokens
	SystemPromptEst     int                  // estimated system prompt tokens; DecideNode.Prep does not set it

	// Context Compressor: Messages is a pseudo-conversation built from
	// StepHistory so the stateless compressor (§4.2) can be checked/applied
	// ahead of the decide LLM call. NeedsCompression is the cheap trigger
	// computed in Prep; the actual (possibly LLM-calling) compression runs
	// in Exec, where a context.Context is available.
	Messages         []llm.Message
	NeedsCompression bool
}

// Decision is the LLM's decision output.
// In YAML mode: parsed from YAML text. In FC mode: extracted from tool_calls.
// ToolParams uses map[string]any; converted to json.RawMessage before calling Tool.Execute().
type Decision struct {
	Action        string         `yaml:"action"`      // "tool", "think", "answer"
	Reason        string         `yaml:"reason"`      // Reasoning for this decision
	ToolName      string         `yaml:"tool_name"`   // Required when action=tool
	ToolParams    map[string]any `yaml:"tool_params"` // YAML-friendly, json.Marshal before tool call
	Thinking      string         `yaml:"thinking"`    // Used when action=think
	Answer        string         `yaml:"answer"`      // Used when action=answer
	ToolCallID    string         `yaml:"-"`           // FC only: tool call ID for result correlation
	ContextStatus ContextStatus  `yaml:"-"`           // context window usage level; DecideNode.Exec does not set it
}

// ── ToolNode generic types ──
// BaseNode[AgentState, ToolPrep, ToolExecResult]

// ToolPrep is prepared by reading LastDecision and converting ToolParams.
type ToolPrep struct {
	ToolName     string
	Args         []byte     // json.RawMessage from json.Marshal(Decision.ToolParams)
	ToolCallID   string     // FC only: correlates tool result with the model's tool call
	ResolvedTool tool.Tool  // resolved in Prep from state.ToolRegistry; nil = not found
	ReadCache    *ReadCache // shared with AgentState.ReadCache; nil = caching disabled

	// Repetition gate (§4.1 step 0, ahead of confirmation/execution): when
	// RepetitionBlocked is true, Exec must not invoke ResolvedTool at all.
	RepetitionBlocked  bool
	RepetitionAdvisory string

	// Confirmation (§4.1 step 3).
	ConfirmRequired bool // this tool name needs confirmation before running
	NonInteractive  bool // copied from AgentState; confirm-required + non-interactive = terminal error
	ConfirmBypass   bool // user already answered "skip" for this run

	// Bounded per-tool timeout (§4.1 step 6). 0 = DefaultStepTimeoutSecs.
	TimeoutSecs int

	// Destructive-tool undo snapshot (§4.1 step 5).
	IsDestructive bool
	TargetPath    string // "path" arg, extracted in Prep
	PriorContent  string // snapshot of TargetPath's content before execution; "" if new/unreadable
	HadPriorFile  bool   // true if TargetPath existed before execution

	// Verification Gate (§4.1 step 7).
	VerifyGate ChangeVerifier
}

// ToolExecResult is the result of executing a tool.
type ToolExecResult struct {
	ToolName   string
	Output     string
	Error      string
	ToolCallID string // FC only: passed through for multi-turn conversation history
	DurationMs int64

	TimedOut             bool
	ConfirmationRequired bool // non-interactive run hit a confirm-required tool; terminal
	VerifyReport         VerifyReport
}

// VerifyReport carries the Verification Gate's rendered outcome back into
// Post without ToolExecResult depending on the verify package's Report type.
type VerifyReport struct {
	Ran           bool
	OverallPassed bool
	Rendered      string
}

// ChangeVerifier is the Verification Gate's contract as seen by the tool
// pipeline: run post-edit checks for the given paths/trigger and report
// whether they all passed, plus any rendered failure text to attach.
type ChangeVerifier interface {
	VerifyChange(ctx context.Context, paths []string, trigger string) (overallPassed bool, rendered string)
}

// EditSnapshot is one entry in the undo ring: the prior content of a
// destructive tool's target path, captured immediately before execution.
type EditSnapshot struct {
	ToolName  string
	Path      string
	HadPrior  bool // false = the path did not exist before this call (e.g. a new file)
	Content   string
	Timestamp time.Time
}

// ── ThinkNode generic types ──
// BaseNode[AgentState, ThinkPrep, ThinkResult]

// ThinkPrep provides context for reasoning.
type ThinkPrep struct {
	Problem string
	Context string // Accumulated context from steps
}

// ThinkResult holds the reasoning output.
type ThinkResult struct {
	Thinking string
}

// ── AnswerNode generic types ──
// BaseNode[AgentState, AnswerPrep, AnswerResult]

// AnswerPrep aggregates all context for final answer generation.
type AnswerPrep struct {
	Problem     string
	FullContext string             // Complete context from all steps
	HasToolUse  bool               // Whether any tool was used (skip shortcut if true)
	StreamChunk func(chunk string) `json:"-"` // Optional streaming callback
}

// AnswerResult holds the final answer.
type AnswerResult struct {
	Answer string
}

// hasToolSteps checks if any step in the history is a tool execution.
func hasToolSteps(state *AgentState) bool {
	for _, s := range state.StepHistory {
		if s.Type == "tool" {
			return true
		}
	}
	return false
}
