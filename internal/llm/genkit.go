package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/basket/taskchat/internal/tools"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Config holds provider selection for the Genkit-backed client.
type Config struct {
	// Provider is the LLM provider: "google", "anthropic", "openai",
	// "openai_compatible". Empty defaults to "google".
	Provider string
	Model    string
	APIKey   string

	// Persona is prepended to the system prompt; hot-reloadable.
	Persona string

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenkitClient implements Client on top of Genkit with the configured
// provider plugin. Tool calls are returned to the caller rather than
// executed, via ai.WithReturnToolRequests.
type GenkitClient struct {
	g      *genkit.Genkit
	cfg    Config
	llmOn  bool
	logger *slog.Logger

	toolRefs []ai.ToolRef

	personaMu sync.RWMutex
}

// NewGenkitClient initializes Genkit with the configured provider and
// registers the task toolset schemas. With no API key the client stays up
// and answers with a deterministic fallback.
func NewGenkitClient(ctx context.Context, cfg Config, logger *slog.Logger) *GenkitClient {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = defaultModelForProvider(provider)
	}
	cfg.Model = modelID

	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			llmOn = true
			logger.Info("genkit client initialized", "provider", "anthropic", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			logger.Warn("Anthropic API key missing; using deterministic fallback")
		}

	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			llmOn = true
			logger.Info("genkit client initialized", "provider", "openai", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			logger.Warn("OpenAI API key missing; using deterministic fallback")
		}

	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			llmOn = true
			logger.Info("genkit client initialized", "provider", "openai_compatible", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			logger.Warn("OpenAI compatible API key missing; using deterministic fallback")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+modelID),
			)
			llmOn = true
			logger.Info("genkit client initialized", "provider", "google", "model", "googleai/"+modelID)
		} else {
			g = genkit.Init(ctx)
			logger.Warn("Google API key missing; using deterministic fallback")
		}

	default:
		g = genkit.Init(ctx)
		logger.Warn("unknown LLM provider, using deterministic fallback", "provider", provider)
	}

	c := &GenkitClient{
		g:      g,
		cfg:    cfg,
		llmOn:  llmOn,
		logger: logger,
	}
	c.toolRefs = registerTaskTools(g)
	return c
}

// AddTaskInput is the input for the add_task tool.
type AddTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Recurrence  string `json:"recurrence,omitempty"`
}

// ListTasksInput is the input for the list_tasks tool.
type ListTasksInput struct {
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// MarkCompleteInput is the input for the mark_complete tool.
type MarkCompleteInput struct {
	TaskID    int64 `json:"task_id"`
	Completed bool  `json:"completed"`
}

// UpdateTaskInput is the input for the update_task tool.
type UpdateTaskInput struct {
	TaskID   int64  `json:"task_id"`
	Title    string `json:"title,omitempty"`
	Priority string `json:"priority,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
}

// DeleteTaskInput is the input for the delete_task tool.
type DeleteTaskInput struct {
	TaskID int64 `json:"task_id"`
}

// GetCurrentUserInput is the input for the get_current_user tool.
type GetCurrentUserInput struct{}

// errDispatcherOwned is returned by the placeholder tool executors. Chat
// always asks for tool requests back, so Genkit never runs them; the
// dispatcher owns execution.
var errDispatcherOwned = fmt.Errorf("tool execution is owned by the dispatcher")

// registerTaskTools defines the task toolset in Genkit so the model sees
// each tool's name, description, and parameter schema.
func registerTaskTools(g *genkit.Genkit) []ai.ToolRef {
	desc := make(map[string]string)
	for _, spec := range tools.Catalog() {
		desc[spec.Name] = spec.Description
	}

	addTask := genkit.DefineTool(g, "add_task", desc["add_task"],
		func(_ *ai.ToolContext, _ AddTaskInput) (any, error) {
			return nil, errDispatcherOwned
		},
	)
	listTasks := genkit.DefineTool(g, "list_tasks", desc["list_tasks"],
		func(_ *ai.ToolContext, _ ListTasksInput) (any, error) {
			return nil, errDispatcherOwned
		},
	)
	markComplete := genkit.DefineTool(g, "mark_complete", desc["mark_complete"],
		func(_ *ai.ToolContext, _ MarkCompleteInput) (any, error) {
			return nil, errDispatcherOwned
		},
	)
	updateTask := genkit.DefineTool(g, "update_task", desc["update_task"],
		func(_ *ai.ToolContext, _ UpdateTaskInput) (any, error) {
			return nil, errDispatcherOwned
		},
	)
	deleteTask := genkit.DefineTool(g, "delete_task", desc["delete_task"],
		func(_ *ai.ToolContext, _ DeleteTaskInput) (any, error) {
			return nil, errDispatcherOwned
		},
	)
	getCurrentUser := genkit.DefineTool(g, "get_current_user", desc["get_current_user"],
		func(_ *ai.ToolContext, _ GetCurrentUserInput) (any, error) {
			return nil, errDispatcherOwned
		},
	)

	return []ai.ToolRef{addTask, listTasks, markComplete, updateTask, deleteTask, getCurrentUser}
}

// UpdatePersona swaps the persona text used in the system prompt.
// Safe for concurrent use with Chat.
func (c *GenkitClient) UpdatePersona(persona string) {
	c.personaMu.Lock()
	defer c.personaMu.Unlock()
	c.cfg.Persona = persona
}

// Chat sends one message with bounded history and returns the model's text
// plus any proposed tool calls.
func (c *GenkitClient) Chat(ctx context.Context, message string, history []Turn, ownerID string) (Reply, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Reply{}, fmt.Errorf("empty message")
	}

	if !c.llmOn {
		return Reply{Text: "I can help manage your tasks once an LLM API key is configured."}, nil
	}

	systemPrompt := c.systemPrompt(ownerID)
	// Escape % characters to prevent fmt corruption inside ai.WithSystem.
	systemPrompt = strings.ReplaceAll(systemPrompt, "%", "%%")

	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(strings.ToLower(c.cfg.Provider), c.cfg.Model)),
		ai.WithSystem(systemPrompt),
		ai.WithPrompt(trimmed),
		ai.WithTools(c.toolRefs...),
		ai.WithReturnToolRequests(true),
	}
	if msgs := historyToMessages(history); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		c.logger.Error("genkit generate failed", "error", err)
		// Retry without tools so a tool-schema hiccup does not kill the turn.
		fallbackOpts := []ai.GenerateOption{
			ai.WithModelName(modelNameForProvider(strings.ToLower(c.cfg.Provider), c.cfg.Model)),
			ai.WithSystem(systemPrompt),
			ai.WithPrompt(trimmed),
		}
		if msgs := historyToMessages(history); len(msgs) > 0 {
			fallbackOpts = append(fallbackOpts, ai.WithMessages(msgs...))
		}
		resp, err = genkit.Generate(ctx, c.g, fallbackOpts...)
		if err != nil {
			return Reply{}, fmt.Errorf("genkit generate (fallback): %w", err)
		}
		return Reply{Text: resp.Text()}, nil
	}

	reply := Reply{Text: resp.Text()}
	for _, req := range resp.ToolRequests() {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			Name:      req.Name,
			Arguments: toArgumentMap(req.Input),
		})
	}
	return reply, nil
}

func (c *GenkitClient) systemPrompt(ownerID string) string {
	c.personaMu.RLock()
	persona := strings.TrimSpace(c.cfg.Persona)
	c.personaMu.RUnlock()

	prompt := fmt.Sprintf(`You are an intelligent assistant helping users manage their todo tasks.
Current user ID: %s
Current date: %s

Use your tools to act on the user's tasks: add_task to create, list_tasks to show,
mark_complete to complete or reopen, update_task to modify, delete_task to remove
(always confirm with the user first), and get_current_user for account questions.
When no tool applies, respond naturally. Be helpful, concise, and friendly.`,
		ownerID, time.Now().Format("2006-01-02"))
	if persona != "" {
		prompt = persona + "\n\n" + prompt
	}
	return prompt
}

// historyToMessages converts stored turns to Genkit messages.
func historyToMessages(history []Turn) []*ai.Message {
	var msgs []*ai.Message
	for _, t := range history {
		var role ai.Role
		switch t.Role {
		case "user":
			role = ai.RoleUser
		case "assistant":
			role = ai.RoleModel
		default:
			continue
		}
		msgs = append(msgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(t.Text)},
		})
	}
	return msgs
}

// toArgumentMap normalizes a tool request input to a string-keyed map.
func toArgumentMap(input any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	default:
		return "gemini-2.5-flash"
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		return model
	default:
		return "googleai/" + model
	}
}
