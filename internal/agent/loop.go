// Package agent implements the tool-calling loop that runs inside a worker
// process.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memorialsite/agentgw/internal/policy"
	"github.com/memorialsite/agentgw/internal/provider"
	"github.com/memorialsite/agentgw/internal/tools"
	"github.com/memorialsite/agentgw/internal/worker"
)

// MaxIterationsReply is the result when the model keeps calling tools.
const MaxIterationsReply = "Max iterations reached. Please try a simpler request."

// LoopOptions contains configuration for the agent loop.
type LoopOptions struct {
	Provider      provider.LLMProvider
	Registry      *tools.Registry
	Events        *worker.EventWriter
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	SystemPrompt  string
	// Policy gates tool calls. Nil allows every registered tool.
	Policy policy.Engine
}

// Loop drives one prompt to a final answer.
type Loop struct {
	provider       provider.LLMProvider
	registry       *tools.Registry
	policy         policy.Engine
	events         *worker.EventWriter
	contextBuilder *ContextBuilder
	model          string
	maxTokens      int
	temperature    float64
	maxIterations  int
}

// NewLoop creates a new agent loop.
func NewLoop(opts LoopOptions) *Loop {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	model := opts.Model
	if model == "" {
		model = opts.Provider.DefaultModel()
	}
	return &Loop{
		provider:       opts.Provider,
		registry:       opts.Registry,
		policy:         opts.Policy,
		events:         opts.Events,
		contextBuilder: NewContextBuilder(opts.SystemPrompt, opts.Registry),
		model:          model,
		maxTokens:      maxTokens,
		temperature:    opts.Temperature,
		maxIterations:  maxIter,
	}
}

// Run answers prompt, emitting assistant events while tools run and a final
// result or error event. The returned error is non-nil only when the LLM call
// failed; tool failures are fed back to the model.
func (l *Loop) Run(ctx context.Context, prompt string) (string, error) {
	reply, err := l.run(ctx, prompt)
	if err != nil {
		l.emit(l.events.Error(err.Error()))
		return "", err
	}
	l.emit(l.events.Result(reply))
	return reply, nil
}

func (l *Loop) run(ctx context.Context, prompt string) (string, error) {
	messages := []provider.Message{
		{Role: "system", Content: l.contextBuilder.BuildSystemPrompt()},
		{Role: "user", Content: prompt},
	}
	toolDefs := l.buildToolDefinitions()

	for i := 0; i < l.maxIterations; i++ {
		llmStart := time.Now()
		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}
		slog.Debug("LLM call", "iteration", i, "model", l.model,
			"tokens", resp.Usage.TotalTokens, "duration", time.Since(llmStart), "tool_calls", len(resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		if strings.TrimSpace(resp.Content) != "" {
			l.emit(l.events.Assistant(resp.Content))
		}
		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			toolStart := time.Now()
			res := l.invoke(ctx, tc)
			if res.IsError() {
				slog.Warn("Tool failed", "name", tc.Name, "error", res.Error)
			} else {
				slog.Debug("Tool executed", "name", tc.Name, "duration", time.Since(toolStart), "result_length", len(res.OK))
			}
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    res.Content(),
				ToolCallID: tc.ID,
			})
		}
	}

	return MaxIterationsReply, nil
}

func (l *Loop) invoke(ctx context.Context, tc provider.ToolCall) tools.Result {
	if l.policy != nil {
		tier := tools.TierReadOnly
		if t, ok := l.registry.Get(tc.Name); ok {
			tier = tools.ToolTier(t)
		}
		if d := l.policy.Evaluate(policy.Context{Tool: tc.Name, Tier: tier}); !d.Allow {
			slog.Warn("Tool blocked by policy", "name", tc.Name, "reason", d.Reason)
			return tools.Result{Error: fmt.Sprintf("tool %s is not permitted (%s)", tc.Name, d.Reason)}
		}
	}
	return l.registry.InvokeJSON(ctx, tc.Name, tc.Arguments)
}

func (l *Loop) buildToolDefinitions() []provider.ToolDefinition {
	defs := l.registry.Definitions()
	out := make([]provider.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

func (l *Loop) emit(err error) {
	if err != nil {
		slog.Error("Failed to write worker event", "error", err)
	}
}
