package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pocketomega/omega-core/internal/agent"
	"github.com/pocketomega/omega-core/internal/checkpoint"
	"github.com/pocketomega/omega-core/internal/llm/openai"
	"github.com/pocketomega/omega-core/internal/mcp"
	"github.com/pocketomega/omega-core/internal/plan"
	"github.com/pocketomega/omega-core/internal/prompt"
	"github.com/pocketomega/omega-core/internal/safety"
	"github.com/pocketomega/omega-core/internal/session"
	"github.com/pocketomega/omega-core/internal/skill"
	"github.com/pocketomega/omega-core/internal/tool"
	"github.com/pocketomega/omega-core/internal/tool/builtin"
	"github.com/pocketomega/omega-core/internal/walkthrough"
	"github.com/pocketomega/omega-core/internal/web"
	"github.com/pocketomega/omega-core/pkg/config"
)

func main() {
	// Load .env file
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║       Pocket-Omega v0.2              ║")
	fmt.Println("║   CoT + Tools · Go + HTMX            ║")
	fmt.Println("╚══════════════════════════════════════╝")

	// Initialize LLM client
	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		log.Fatalf("❌ Failed to initialize LLM client: %v", err)
	}

	model := os.Getenv("LLM_MODEL")
	baseURL := os.Getenv("LLM_BASE_URL")
	fmt.Printf("🤖 LLM: %s @ %s\n", model, baseURL)

	// Initialize tool registry with built-in tools
	registry := tool.NewRegistry()
	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	// Validate workspace directory exists
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("❌ WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}
	fmt.Printf("📂 Workspace: %s\n", workspaceDir)

	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellTool(workspaceDir, shellEnabled))
	registry.Register(builtin.NewFileReadTool(workspaceDir))
	registry.Register(builtin.NewFileWriteTool(workspaceDir))
	registry.Register(builtin.NewFileListTool(workspaceDir))
	registry.Register(builtin.NewFileFindTool(workspaceDir))
	registry.Register(builtin.NewTimeTool())
	registry.Register(builtin.NewWebReaderTool())

	// P1 — core file operations (unconditional)
	registry.Register(builtin.NewFileGrepTool(workspaceDir))
	registry.Register(builtin.NewFileMoveTool(workspaceDir))
	registry.Register(builtin.NewFileOpenTool(workspaceDir))

	// P2 — extended file operations (unconditional)
	registry.Register(builtin.NewFileDeleteTool(workspaceDir))
	registry.Register(builtin.NewFilePatchTool(workspaceDir))

	// Verification tools (unconditional) — run cargo check/test/clippy when
	// the workspace has a Cargo.toml, else the equivalent go command.
	registry.Register(builtin.NewCargoCheckTool(workspaceDir))
	registry.Register(builtin.NewCargoTestTool(workspaceDir))
	registry.Register(builtin.NewCargoClippyTool(workspaceDir))

	// P2 — HTTP request tool (enabled by default, disable via TOOL_HTTP_ENABLED=false)
	if os.Getenv("TOOL_HTTP_ENABLED") != "false" {
		allowInternal := os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"
		registry.Register(builtin.NewHTTPRequestTool(allowInternal))
		if allowInternal {
			fmt.Println("🌐 HTTP request tool enabled (internal addresses allowed)")
		} else {
			fmt.Println("🌐 HTTP request tool enabled")
		}
	}

	// Conditional search tools — auto-enable when API key is configured
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		registry.Register(builtin.NewTavilySearchTool(key))
		fmt.Println("🔍 Tavily web search enabled")
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		registry.Register(builtin.NewBraveSearchTool(key))
		fmt.Println("🔍 Brave search enabled")
	}

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize tools: %v", err)
	}
	defer registry.CloseAll()

	// Load workspace skills from <workspaceDir>/skills/
	skillMgr := skill.NewManager(workspaceDir)
	if n, skillErrs := skillMgr.LoadAll(context.Background(), registry); n > 0 || len(skillErrs) > 0 {
		fmt.Printf("🧩 Workspace skills: %d loaded\n", n)
		for _, e := range skillErrs {
			log.Printf("⚠️  Skill load: %v", e)
		}
	}
	// skill_reload is always available so the agent can hot-reload skills
	// even when mcp.json is absent.
	registry.Register(skill.NewReloadTool(skillMgr, registry))

	fmt.Printf("🛠️  Tools: %d registered\n", len(registry.List()))

	// Initialize the three-layer prompt loader (L2 embed defaults + L3 user rules).
	// Created before MCP so that mcpMgr.SetPromptLoader can wire Reload integration.
	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(workspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(workspaceDir, "rules.md")
	}
	soulPath := os.Getenv("SOUL_PATH")
	if soulPath == "" {
		soulPath = filepath.Join(workspaceDir, "soul.md")
	}
	promptLoader := prompt.NewPromptLoader(promptsDir, rulesPath, soulPath)
	fmt.Printf("📋 Prompt loader: L2=%s L3=%s Soul=%s\n", promptsDir, rulesPath, soulPath)

	// Initialize MCP client manager (optional — only when mcp.json exists)
	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	if _, statErr := os.Stat(mcpConfigPath); statErr == nil {
		mcpMgr := mcp.NewManager(mcpConfigPath)
		// Wire prompt cache invalidation into mcp_reload so hot-reloading
		// prompts and MCP config both happen with a single tool call.
		mcpMgr.SetPromptLoader(promptLoader)
		// Wire skill reload into mcp_reload so that calling mcp_reload also
		// reloads workspace skills — one command covers everything.
		mcpMgr.AddReloadHook(skillMgr.Reload)
		// Always register the reload tool so the agent can fix connection issues
		// even if the initial ConnectAll fails partially or completely.
		registry.Register(mcp.NewReloadTool(mcpMgr, registry))

		n, mcpErrs := mcpMgr.ConnectAll(context.Background())
		for _, e := range mcpErrs {
			log.Printf("⚠️  MCP connect: %v", e)
		}
		if n > 0 {
			if err := mcpMgr.RegisterTools(context.Background(), registry); err != nil {
				log.Printf("⚠️  MCP register tools: %v", err)
			}
			fmt.Printf("🔌 MCP: %d server(s) connected\n", n)
		}
		defer mcpMgr.CloseAll()
	}

	// Create execution logger for development debugging
	logDir := filepath.Join(workspaceDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("⚠️ Failed to create log directory %q: %v", logDir, err)
	}
	execLogger, err := agent.NewExecLogger(filepath.Join(logDir, "agent_exec.md"))
	if err != nil {
		log.Printf("⚠️ Exec logger disabled: %v", err)
	} else {
		defer execLogger.Close()
		fmt.Printf("📝 Exec log: logs/agent_exec.md\n")
	}

	// Initialize session store for multi-turn conversation
	sessionTTL := 30 * time.Minute
	sessionMaxTurns := 10
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sessionTTL = time.Duration(n) * time.Minute
		} else {
			log.Printf("⚠️ Invalid SESSION_TTL_MINUTES=%q, using default 30m", v)
		}
	}
	if v := os.Getenv("SESSION_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sessionMaxTurns = n
		} else {
			log.Printf("⚠️ Invalid SESSION_MAX_TURNS=%q, using default 10", v)
		}
	}
	sessionStore := session.NewStore(sessionTTL, sessionMaxTurns)
	defer sessionStore.Close()
	fmt.Printf("💬 Session: TTL=%v MaxTurns=%d\n", sessionTTL, sessionMaxTurns)

	// Safety Validator: path/shell/secrets/URL/git/volume checks ahead of every
	// tool call. Allow/deny lists and protected branches are opt-in via env —
	// the zero-value Config is permissive, matching the tool registry's own
	// defaults until an operator locks it down.
	safetyCfg := safety.Config{WorkspaceDir: workspaceDir}
	if v := os.Getenv("SAFETY_ALLOWED_PATHS"); v != "" {
		safetyCfg.AllowedPaths = strings.Split(v, ",")
	}
	if v := os.Getenv("SAFETY_DENIED_PATHS"); v != "" {
		safetyCfg.DeniedPaths = strings.Split(v, ",")
	}
	if v := os.Getenv("SAFETY_PROTECTED_BRANCHES"); v != "" {
		safetyCfg.ProtectedBranches = strings.Split(v, ",")
	} else {
		safetyCfg.ProtectedBranches = []string{"main", "master"}
	}
	validator := safety.New(safetyCfg)

	// Checkpoint Engine: HMAC-signed crash-recoverable run snapshots. Disabled
	// when the signing key can't be loaded/created (e.g. read-only filesystem).
	checkpointDir := os.Getenv("CHECKPOINT_DIR")
	if checkpointDir == "" {
		checkpointDir = filepath.Join(workspaceDir, "checkpoints")
	}
	var checkpointEngine *checkpoint.Engine
	keyPath := os.Getenv("CHECKPOINT_KEY_PATH")
	if keyPath == "" {
		keyPath = filepath.Join(checkpointDir, ".hmac_key")
	}
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		log.Printf("⚠️ Failed to create checkpoint directory %q: %v", checkpointDir, err)
	} else if key, err := checkpoint.LoadOrCreateKey(keyPath); err != nil {
		log.Printf("⚠️ Checkpointing disabled: %v", err)
	} else if eng, err := checkpoint.NewEngine(checkpointDir, key); err != nil {
		log.Printf("⚠️ Checkpointing disabled: %v", err)
	} else {
		checkpointEngine = eng
		fmt.Printf("💾 Checkpoints: %s\n", checkpointDir)
	}

	planStore := plan.NewPlanStore()
	walkthroughStore := walkthrough.NewStore()

	osName := runtime.GOOS
	shellCmd := "sh -c"
	if osName == "windows" {
		shellCmd = "cmd.exe /c"
	}

	var maxAgentTokens int64
	if v := os.Getenv("AGENT_MAX_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxAgentTokens = n
		} else {
			log.Printf("⚠️ Invalid AGENT_MAX_TOKENS=%q, ignoring", v)
		}
	}
	var maxAgentDuration time.Duration
	if v := os.Getenv("AGENT_MAX_DURATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAgentDuration = time.Duration(n) * time.Minute
		} else {
			log.Printf("⚠️ Invalid AGENT_MAX_DURATION_MINUTES=%q, ignoring", v)
		}
	}

	// Completion gate / verification gate configuration.
	minCompletionSteps := 0
	if v := os.Getenv("AGENT_MIN_COMPLETION_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minCompletionSteps = n
		} else {
			log.Printf("⚠️ Invalid AGENT_MIN_COMPLETION_STEPS=%q, ignoring", v)
		}
	}
	requireVerification := os.Getenv("AGENT_REQUIRE_VERIFICATION") == "true"
	stepTimeoutSecs := 0
	if v := os.Getenv("AGENT_STEP_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			stepTimeoutSecs = n
		} else {
			log.Printf("⚠️ Invalid AGENT_STEP_TIMEOUT_SECS=%q, ignoring", v)
		}
	}
	enableVerifyGate := os.Getenv("AGENT_VERIFY_GATE_ENABLED") != "false"
	confirmRequired := map[string]bool{}
	if v := os.Getenv("AGENT_CONFIRM_REQUIRED_TOOLS"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				confirmRequired[name] = true
			}
		}
	}

	// Create handlers
	thinkingMode := llmClient.GetConfig().ResolveThinkingMode()
	toolCallMode := llmClient.GetConfig().ToolCallMode // raw value: "auto", "fc", or "yaml"
	contextWindow := llmClient.GetConfig().ResolveContextWindow()
	chatHandler := web.NewChatHandler(llmClient, 3, contextWindow, sessionStore, promptLoader)
	agentHandler := web.NewAgentHandler(web.AgentHandlerOptions{
		Provider:            llmClient,
		Registry:            registry,
		WorkspaceDir:        workspaceDir,
		ExecLogger:          execLogger,
		ThinkingMode:        thinkingMode,
		ToolCallMode:        toolCallMode,
		ContextWindowTokens: contextWindow,
		Store:               sessionStore,
		Loader:              promptLoader,
		OSName:              osName,
		ShellCmd:            shellCmd,
		ModelName:           model,
		PlanStore:           planStore,
		MaxAgentTokens:      maxAgentTokens,
		MaxAgentDuration:    maxAgentDuration,
		WalkthroughStore:    walkthroughStore,
		Validator:           validator,
		CheckpointEngine:    checkpointEngine,
		MinCompletionSteps:  minCompletionSteps,
		RequireVerification: requireVerification,
		StepTimeoutSecs:     stepTimeoutSecs,
		ConfirmRequired:     confirmRequired,
		EnableVerifyGate:    enableVerifyGate,
	})
	fmt.Printf("🧠 Thinking: %s\n", thinkingMode)
	fmt.Printf("🔧 ToolCall: %s (resolved: %s)\n", toolCallMode, llmClient.GetConfig().ResolveToolCallMode())
	fmt.Printf("📐 ContextWindow: %d tokens\n", contextWindow)

	// Create and start web server
	server, err := web.NewServer(chatHandler, agentHandler, nil, web.HealthInfo{
		LLMModel:     model,
		ToolCount:    len(registry.List()),
		SessionCount: sessionStore.Count,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create web server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
