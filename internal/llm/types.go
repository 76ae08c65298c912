package llm

import (
	"context"
	"encoding/json"
)

// Message represents a chat message for LLM communication.
type Message struct {
	Role             string `json:"role"`                        // "user", "assistant", "system", "tool"
	Content          string `json:"content"`                     // The message text
	ReasoningContent string `json:"reasoning_content,omitempty"` // Native thinking output (e.g. DeepSeek-R1)

	// Function-calling extensions. Populated only when the provider/tool-call
	// mode is "fc" (native tool calling) rather than the YAML prompt path.
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on role=tool messages, echoes the originating call's ID
	Name       string     `json:"name,omitempty"`         // tool name, set on role=tool messages
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // set on role=assistant messages that invoke tools
}

// ToolCall is a single native function-call emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a callable tool in FC-compatible form, as
// advertised to the model alongside the conversation on each turn.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamCallback is invoked for each chunk of streamed text.
// Implementations should be lightweight; heavy work should be deferred.
type StreamCallback func(chunk string)

// LLMProvider defines the interface for all LLM implementations.
// Any OpenAI-compatible endpoint (litellm, Ollama, Azure, vLLM, etc.)
// can be used by implementing this interface.
type LLMProvider interface {
	// CallLLM sends messages to the LLM and returns the complete response.
	CallLLM(ctx context.Context, messages []Message) (Message, error)

	// CallLLMStream sends messages and streams the response token-by-token.
	// Each chunk of text triggers the onChunk callback.
	// Returns the full assembled message once streaming finishes.
	// If the provider does not support streaming, it may fall back to CallLLM.
	CallLLMStream(ctx context.Context, messages []Message, onChunk StreamCallback) (Message, error)

	// CallLLMWithTools sends messages plus the available tool definitions
	// and returns the model's response, which may carry ToolCalls instead
	// of (or alongside) Content. Only meaningful when IsToolCallingEnabled
	// is true; providers that don't support native FC may ignore tools.
	CallLLMWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error)

	// IsToolCallingEnabled reports whether this provider is configured to
	// use native function-calling (as opposed to the YAML prompt path).
	IsToolCallingEnabled() bool

	// GetName returns the provider name/identifier.
	GetName() string
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
