package agent

import (
	"github.com/pocketomega/omega-core/internal/core"
	"github.com/pocketomega/omega-core/internal/llm"
	"github.com/pocketomega/omega-core/internal/prompt"
	"github.com/pocketomega/omega-core/internal/safety"
	"github.com/pocketomega/omega-core/internal/tool"
)

// BuildAgentFlow assembles the full ReAct decision loop:
//
// app mode (default):
//
//	DecideNode ──┬── ActionTool    → ToolNode    ──→ DecideNode
//	             ├── ActionThink   → ThinkNode   ──→ DecideNode
//	             ├── ActionRecover → RecoverNode ──┬→ DecideNode (retry)
//	             │                                 └→ (ActionFail, ends flow)
//	             └── ActionAnswer  → AnswerNode  ──→ End
//
// native mode (model handles thinking):
//
//	DecideNode ──┬── ActionTool    → ToolNode    ──→ DecideNode
//	             ├── ActionRecover → RecoverNode ──┬→ DecideNode (retry)
//	             │                                 └→ (ActionFail, ends flow)
//	             └── ActionAnswer  → AnswerNode  ──→ End
func BuildAgentFlow(provider llm.LLMProvider, registry *tool.Registry, thinkingMode string, loader *prompt.PromptLoader, validator *safety.Validator) core.Workflow[AgentState] {
	// Create nodes
	decideNode := core.NewNode[AgentState, DecidePrep, Decision](
		NewDecideNode(provider, loader), 1,
	)
	var toolNodeImpl *ToolNodeImpl
	if validator != nil {
		toolNodeImpl = NewToolNodeWithValidator(registry, validator)
	} else {
		toolNodeImpl = NewToolNode(registry)
	}
	toolNode := core.NewNode[AgentState, ToolPrep, ToolExecResult](
		toolNodeImpl, 0,
	)
	answerNode := core.NewNode[AgentState, AnswerPrep, AnswerResult](
		NewAnswerNode(provider, loader), 1,
	)
	recoverNode := core.NewNode[AgentState, RecoverPrep, RecoverResult](
		NewRecoverNode(), 0,
	)

	// Wire the decision loop
	decideNode.AddSuccessor(toolNode, core.ActionTool)
	decideNode.AddSuccessor(answerNode, core.ActionAnswer)
	decideNode.AddSuccessor(recoverNode, core.ActionRecover)
	// Completion gate failure (§4.1): DecideNode re-enters itself with the
	// gate-failure message already appended to StepHistory.
	decideNode.AddSuccessor(decideNode, core.ActionContinue)

	// Only register ThinkNode in app mode
	if thinkingMode == "app" {
		thinkNode := core.NewNode[AgentState, ThinkPrep, ThinkResult](
			NewThinkNode(provider, loader), 1,
		)
		decideNode.AddSuccessor(thinkNode, core.ActionThink)
		thinkNode.AddSuccessor(decideNode) // ActionDefault → DecideNode
	}

	// ToolNode loops back to DecideNode
	toolNode.AddSuccessor(decideNode) // ActionDefault → DecideNode

	// RecoverNode loops back to DecideNode for another attempt; ActionFail
	// has no successor, so the flow ends there (like AnswerNode's ActionEnd).
	recoverNode.AddSuccessor(decideNode) // ActionDefault → DecideNode

	// AnswerNode ends the flow (ActionEnd has no successor)

	// Wrap in a Flow to enable successor chaining.
	flow := core.NewFlow[AgentState](decideNode)
	return flow
}
