package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"

	"google.golang.org/adk/model/gemini"
)

const agentName = "rag_pipeline_agent"

const agentInstruction = "You are a question answering assistant for a document collection. " +
	"ALWAYS call search_documents first and answer strictly from the returned passages. " +
	"Use structured_lookup for counting or aggregate questions. " +
	"If the passages do not contain the answer, say you don't have enough information."

// searchToolset exposes the pipeline's retrieval capabilities as agent
// tools.
type searchToolset struct {
	retriever  Retriever
	structured StructuredSearcher
	topK       int
}

func (t *searchToolset) Name() string {
	return "search_tools"
}

func (t *searchToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[searchArgs, searchResp](
		functiontool.Config{
			Name:        "search_documents",
			Description: "Search the document collection with hybrid semantic and keyword search.",
		},
		t.searchDocuments,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	tools := []tool.Tool{searchTool}
	if t.structured != nil {
		lookupTool, err := functiontool.New[lookupArgs, lookupResp](
			functiontool.Config{
				Name:        "structured_lookup",
				Description: "Answer counting and aggregate questions with SQL over the document corpus.",
			},
			t.structuredLookup,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create lookup tool: %w", err)
		}
		tools = append(tools, lookupTool)
	}
	return tools, nil
}

type searchArgs struct {
	Query string `json:"query" description:"The search query"`
	TopK  int    `json:"topK,omitempty" description:"Number of passages to return (default 5)"`
}

type searchResp struct {
	Passages string `json:"passages"`
}

func (t *searchToolset) searchDocuments(ctx tool.Context, args searchArgs) (searchResp, error) {
	topK := args.TopK
	if topK <= 0 {
		topK = t.topK
	}

	lists, err := t.retriever.Search(ctx, []string{args.Query}, SearchOptions{
		TopK:    topK,
		Weights: []float64{1.0},
	})
	if err != nil {
		return searchResp{}, fmt.Errorf("failed to search: %w", err)
	}

	var sb strings.Builder
	n := 0
	for _, list := range lists {
		for _, hit := range list {
			n++
			fmt.Fprintf(&sb, "[%d] %s\n\n", n, hit.Content)
		}
	}
	if n == 0 {
		return searchResp{Passages: "No matching passages found."}, nil
	}
	return searchResp{Passages: sb.String()}, nil
}

type lookupArgs struct {
	Question string `json:"question" description:"The aggregate question"`
}

type lookupResp struct {
	Result string `json:"result"`
}

func (t *searchToolset) structuredLookup(ctx tool.Context, args lookupArgs) (lookupResp, error) {
	res, err := t.structured.Search(ctx, args.Question)
	if err != nil {
		return lookupResp{}, fmt.Errorf("structured lookup failed: %w", err)
	}
	if !res.Used {
		return lookupResp{Result: "No structured data matched the question."}, nil
	}
	return lookupResp{Result: res.FormattedContext}, nil
}

// AgentRunner runs the tool-using agent loop that can replace the staged
// pipeline when agent mode is requested. It produces the same
// PipelineResult shape as Execute.
type AgentRunner struct {
	agent     agent.Agent
	modelName string
	logger    *slog.Logger
}

// NewAgentRunner builds the adk agent around the retrieval capabilities.
func NewAgentRunner(ctx context.Context, modelName, apiKey string, retriever Retriever, structured StructuredSearcher, topK int) (*AgentRunner, error) {
	modelClient, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent model: %w", err)
	}

	if topK <= 0 {
		topK = 5
	}
	toolset := &searchToolset{retriever: retriever, structured: structured, topK: topK}

	pipelineAgent, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       modelClient,
		Description: "A document question answering agent with hybrid search tools.",
		Instruction: agentInstruction,
		Toolsets:    []tool.Toolset{toolset},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return &AgentRunner{
		agent:     pipelineAgent,
		modelName: modelName,
		logger:    slog.Default().With("component", "agent_runner"),
	}, nil
}

// Run answers one query through the agent loop.
func (a *AgentRunner) Run(ctx context.Context, query, sessionID string) (*PipelineResult, error) {
	started := time.Now()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := "user"
	appName := "rag-pipeline"

	sessionSvc := session.InMemoryService()
	if _, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return nil, fmt.Errorf("failed to create agent session: %w", err)
	}

	agentRunner, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          a.agent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: query}},
	}

	a.logger.Info("starting agent run", "session_id", sessionID)

	var answer strings.Builder
	toolCalls := 0
	for event, err := range agentRunner.Run(ctx, userID, sessionID, userContent, agent.RunConfig{}) {
		if err != nil {
			return nil, fmt.Errorf("agent run: %w", err)
		}
		if event.LLMResponse.Content == nil {
			continue
		}
		for _, part := range event.LLMResponse.Content.Parts {
			if part.Text != "" {
				answer.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				toolCalls++
				a.logger.Info("agent tool call", "tool", part.FunctionCall.Name)
			}
		}
	}

	return &PipelineResult{
		Answer:    sanitizeAnswer(answer.String()),
		Sources:   []Source{},
		ModelUsed: a.modelName,
		TotalTime: time.Since(started).Seconds(),
		Routing: map[string]interface{}{
			"mode":       "agent",
			"tool_calls": toolCalls,
		},
		AgentMode: true,
	}, nil
}
