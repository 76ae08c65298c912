// Package checkpoint implements the Checkpoint Engine: crash-recoverable,
// HMAC-integrity-checked persistence of task state via a full-snapshot +
// append-only-delta-log file layout. Grounded on the teacher's in-memory
// session.Store for concurrency idiom, generalized to a filesystem-backed
// store per the on-disk envelope/delta protocol this subsystem requires.
package checkpoint

import (
	"encoding/json"
	"time"
)

// Status mirrors the snake_case status enum persisted on disk.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
)

// ToolCallLog is a single entry of Checkpoint.ToolCalls.
type ToolCallLog struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Output    string          `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorLog is a single entry of Checkpoint.Errors.
type ErrorLog struct {
	Step      int       `json:"step"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryEntry is a single entry of Checkpoint.MemoryEntries — the episodic
// "what failed / what worked" collaborator's persisted record.
type MemoryEntry struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// GitCheckpoint optionally records the git ref the task started from, so a
// resumed task can verify it is replaying atop the same tree.
type GitCheckpoint struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
	Dirty  bool   `json:"dirty"`
}

// Message mirrors the conversation message shape persisted in a checkpoint.
// Kept JSON-compatible with the agent/llm message type rather than
// importing it directly, so the checkpoint package has no dependency on
// the scheduler.
type Message struct {
	Role             string          `json:"role"`
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	Name             string          `json:"name,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ToolCalls        json.RawMessage `json:"tool_calls,omitempty"`
}

// Checkpoint is the full, durable snapshot of a task's state.
type Checkpoint struct {
	Version           int            `json:"version"`
	TaskID            string         `json:"task_id"`
	TaskDescription   string         `json:"task_description"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Status            Status         `json:"status"`
	CurrentStep       int            `json:"current_step"`
	CurrentIteration  int            `json:"current_iteration"`
	Messages          []Message      `json:"messages"`
	MemoryEntries     []MemoryEntry  `json:"memory_entries"`
	EstimatedTokens   int            `json:"estimated_tokens"`
	ToolCalls         []ToolCallLog  `json:"tool_calls"`
	Errors            []ErrorLog     `json:"errors"`
	GitCheckpoint     *GitCheckpoint `json:"git_checkpoint,omitempty"`
}

// Delta is the incremental-mutation record appended to the delta log
// between full writes. Base/Target versions bound the replay window; the
// four "…New" fields are the sequence-extension suffixes to append.
type Delta struct {
	TaskID          string         `json:"task_id"`
	BaseVersion     int            `json:"base_version"`
	TargetVersion   int            `json:"target_version"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Status          *Status        `json:"status,omitempty"`
	CurrentStep     *int           `json:"current_step,omitempty"`
	CurrentIteration *int          `json:"current_iteration,omitempty"`
	EstimatedTokens *int           `json:"estimated_tokens,omitempty"`
	GitCheckpoint   *GitCheckpoint `json:"git_checkpoint,omitempty"`
	MessagesNew     []Message      `json:"messages_new,omitempty"`
	MemoryNew       []MemoryEntry  `json:"memory_new,omitempty"`
	ToolCallsNew    []ToolCallLog  `json:"tool_calls_new,omitempty"`
	ErrorsNew       []ErrorLog     `json:"errors_new,omitempty"`
}

// Envelope is the integrity wrapper: sha256 is the hex-encoded HMAC-SHA-256
// digest over the canonical JSON serialization of Payload.
type Envelope struct {
	SHA256  string          `json:"sha256"`
	Payload json.RawMessage `json:"payload"`
}
