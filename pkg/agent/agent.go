// Package agent orchestrates a platform assistant: creation with the
// registry's tool schemas, thread management, and the run loop that
// dispatches requested tool calls and collects the final response.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"foundry/pkg/client"
	"foundry/pkg/clienterrors"
	"foundry/pkg/config"
	"foundry/pkg/logx"
	"foundry/pkg/metrics"
	"foundry/pkg/persistence"
	"foundry/pkg/tools"
	"foundry/pkg/utils"
	"foundry/pkg/version"
)

// Status tracks the agent lifecycle.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

const pollInterval = time.Second

const defaultName = "base-production-agent"

const defaultInstructions = `You are a helpful AI assistant for an enterprise environment.

ROLE:
You help users with information retrieval, task automation, and problem-solving.

CAPABILITIES:
- Query internal knowledge bases
- Look up customer information
- Create support tickets
- Calculate cost estimates

GUIDELINES:
1. Always be professional and concise
2. Use tools when you need specific information
3. Cite sources when providing facts
4. Escalate to humans for sensitive decisions
5. Never expose sensitive data in logs or responses

SECURITY:
- Validate all inputs before processing
- Follow data privacy regulations
- Log all actions for audit compliance

RESPONSE FORMAT:
- Be clear and structured
- Explain your reasoning
- Provide actionable next steps when relevant`

// RunResult is the outcome of one completed run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Response   string        `json:"response"`
	Status     string        `json:"status"`
	ToolCalls  int           `json:"tool_calls"`
	TokensUsed int64         `json:"tokens_used"`
	Duration   time.Duration `json:"duration"`
}

// Agent owns one remote assistant and the threads created through it.
type Agent struct {
	session  *client.Session
	cfg      *config.Config
	registry *tools.Registry
	metrics  *metrics.Metrics
	recorder metrics.Recorder
	store    *persistence.Store
	counter  *utils.TokenCounter
	logger   *logx.Logger

	name         string
	instructions string

	mu          sync.Mutex
	status      Status
	assistantID string
	threads     map[string]*Conversation
}

// Option customizes an Agent at construction time.
type Option func(*Agent)

// WithName overrides the assistant's display name.
func WithName(name string) Option {
	return func(a *Agent) {
		if name != "" {
			a.name = name
		}
	}
}

// WithInstructions overrides the default system instructions.
func WithInstructions(instructions string) Option {
	return func(a *Agent) {
		if instructions != "" {
			a.instructions = instructions
		}
	}
}

// WithMetrics attaches a metrics collector. By default the agent shares
// the registry's collector so run and dispatch counters snapshot
// together.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithRecorder attaches an external metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(a *Agent) {
		if rec != nil {
			a.recorder = rec
		}
	}
}

// WithStore enables run history and audit persistence.
func WithStore(st *persistence.Store) Option {
	return func(a *Agent) {
		a.store = st
	}
}

// New builds an agent over an open session. The remote assistant is not
// created until Create is called.
func New(session *client.Session, cfg *config.Config, registry *tools.Registry, opts ...Option) (*Agent, error) {
	if session == nil {
		return nil, errors.New("agent: session must not be nil")
	}
	if cfg == nil {
		return nil, errors.New("agent: config must not be nil")
	}
	if registry == nil {
		return nil, errors.New("agent: registry must not be nil")
	}
	counter, err := utils.NewTokenCounter(cfg.ModelDeployment)
	if err != nil {
		return nil, fmt.Errorf("agent: token counter: %w", err)
	}

	a := &Agent{
		session:      session,
		cfg:          cfg,
		registry:     registry,
		metrics:      registry.Metrics(),
		recorder:     metrics.Nop(),
		counter:      counter,
		logger:       logx.NewLogger("agent"),
		name:         defaultName,
		instructions: defaultInstructions,
		status:       StatusInitializing,
		threads:      make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Status returns the agent's lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// AssistantID returns the remote assistant ID, empty before Create.
func (a *Agent) AssistantID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assistantID
}

// Metrics exposes the collector this agent records into.
func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}

// Conversation returns the local history for a thread.
func (a *Agent) Conversation(threadID string) (*Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.threads[threadID]
	return conv, ok
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Create registers the assistant with the platform, attaching every tool
// schema the registry holds. Calling Create on an agent that already has
// an assistant is a no-op.
func (a *Agent) Create(ctx context.Context) error {
	a.mu.Lock()
	if a.assistantID != "" {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	oai, err := a.session.OpenAI()
	if err != nil {
		return err
	}

	defs := a.registry.Definitions()
	toolParams := make([]openai.AssistantToolUnionParam, 0, len(defs))
	for _, def := range defs {
		toolParams = append(toolParams, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.ParametersMap()),
				},
			},
		})
	}

	assistant, err := oai.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Model:        shared.ChatModel(a.cfg.ModelDeployment),
		Name:         openai.String(a.name),
		Instructions: openai.String(a.instructions),
		Tools:        toolParams,
		Metadata: shared.Metadata{
			"created_by": "foundry",
			"version":    version.Version,
		},
	})
	if err != nil {
		a.setStatus(StatusFailed)
		return clienterrors.Classify(err)
	}

	a.mu.Lock()
	a.assistantID = assistant.ID
	a.status = StatusReady
	a.mu.Unlock()

	a.logger.Info("assistant %s created with %d tools", assistant.ID, len(defs))
	a.audit("assistant_created", assistant.ID)
	return nil
}

// NewThread creates a fresh conversation thread. Metadata is attached to
// the platform thread and kept on the local conversation; nil is fine.
func (a *Agent) NewThread(ctx context.Context, metadata map[string]string) (string, error) {
	oai, err := a.session.OpenAI()
	if err != nil {
		return "", err
	}

	thread, err := oai.Beta.Threads.New(ctx, openai.BetaThreadNewParams{
		Metadata: shared.Metadata(metadata),
	})
	if err != nil {
		return "", clienterrors.Classify(err)
	}

	a.mu.Lock()
	a.threads[thread.ID] = NewConversation(thread.ID, metadata)
	a.mu.Unlock()

	a.logger.Info("thread %s created", thread.ID)
	a.audit("thread_created", thread.ID)
	return thread.ID, nil
}

// AddMessage appends a user message to a thread. Messages over the
// configured per-request token budget are rejected before any network
// call.
func (a *Agent) AddMessage(ctx context.Context, threadID, content string) (string, error) {
	if !a.counter.ValidateTokenLimit(content, a.cfg.MaxTokensPerRequest) {
		return "", clienterrors.NewError(clienterrors.ErrorTypeBadRequest,
			fmt.Sprintf("message exceeds the %d token budget", a.cfg.MaxTokensPerRequest))
	}

	oai, err := a.session.OpenAI()
	if err != nil {
		return "", err
	}

	msg, err := oai.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	if err != nil {
		return "", clienterrors.Classify(err)
	}

	a.mu.Lock()
	if conv, ok := a.threads[threadID]; ok {
		conv.Append("user", content)
		conv.Truncate(a.cfg.MaxConversationHistory)
	}
	a.mu.Unlock()

	a.logger.Debug("message %s added to thread %s", msg.ID, threadID)
	return msg.ID, nil
}

type runOutcome struct {
	runID            string
	status           string
	response         string
	toolCalls        []tools.Result
	promptTokens     int64
	completionTokens int64
	totalTokens      int64
	err              error
}

// Run executes the assistant on a thread and waits for the outcome,
// dispatching requested tool calls along the way. Run metrics are
// recorded exactly once whatever happens.
func (a *Agent) Run(ctx context.Context, threadID string) (*RunResult, error) {
	a.mu.Lock()
	assistantID := a.assistantID
	a.mu.Unlock()
	if assistantID == "" {
		return nil, clienterrors.NewError(clienterrors.ErrorTypeBadRequest,
			"assistant not created; call Create first")
	}

	oai, err := a.session.OpenAI()
	if err != nil {
		return nil, err
	}

	a.setStatus(StatusRunning)
	start := time.Now()

	out := a.execute(ctx, oai, assistantID, threadID)
	duration := time.Since(start)

	a.metrics.RecordRun(out.err == nil, duration, out.promptTokens, out.completionTokens)
	if n := len(out.toolCalls); n > 0 {
		a.metrics.RecordToolCalls(int64(n))
	}
	a.recorder.ObserveRun(a.cfg.ModelDeployment, out.status, out.promptTokens, out.completionTokens, duration)
	a.persistRun(threadID, out, duration)

	if out.err != nil {
		if out.status == "cancelled" {
			a.setStatus(StatusCancelled)
		} else {
			a.setStatus(StatusFailed)
		}
		a.logger.Error("run %s on thread %s: %v", out.runID, threadID, out.err)
		return nil, out.err
	}

	a.mu.Lock()
	if conv, ok := a.threads[threadID]; ok {
		conv.Append("assistant", out.response)
		conv.Truncate(a.cfg.MaxConversationHistory)
	}
	a.status = StatusCompleted
	a.mu.Unlock()

	a.logger.Info("run %s completed in %s (%d tool calls, %d tokens)",
		out.runID, duration.Round(time.Millisecond), len(out.toolCalls), out.totalTokens)

	return &RunResult{
		RunID:      out.runID,
		Response:   out.response,
		Status:     out.status,
		ToolCalls:  len(out.toolCalls),
		TokensUsed: out.totalTokens,
		Duration:   duration,
	}, nil
}

func (a *Agent) execute(ctx context.Context, oai openai.Client, assistantID, threadID string) runOutcome {
	out := runOutcome{status: "error"}

	run, err := oai.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		out.err = clienterrors.Classify(err)
		return out
	}
	out.runID = run.ID
	a.logger.Info("run %s started on thread %s", run.ID, threadID)

	deadline := time.Now().Add(a.cfg.AgentTimeout())
	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			out.status = string(run.Status)
			out.promptTokens = run.Usage.PromptTokens
			out.completionTokens = run.Usage.CompletionTokens
			out.totalTokens = run.Usage.TotalTokens
			response, err := a.latestAssistantMessage(ctx, oai, threadID)
			if err != nil {
				out.err = err
				return out
			}
			out.response = response
			return out

		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired, openai.RunStatusIncomplete:
			out.status = string(run.Status)
			out.promptTokens = run.Usage.PromptTokens
			out.completionTokens = run.Usage.CompletionTokens
			out.totalTokens = run.Usage.TotalTokens
			reason := run.LastError.Message
			if reason == "" {
				reason = "no error detail provided"
			}
			out.err = clienterrors.NewError(clienterrors.ErrorTypeUnknown,
				fmt.Sprintf("run %s %s: %s", run.ID, run.Status, reason))
			return out

		case openai.RunStatusRequiresAction:
			updated, results, err := a.handleToolCalls(ctx, oai, threadID, run)
			out.toolCalls = append(out.toolCalls, results...)
			if err != nil {
				out.err = err
				return out
			}
			run = updated
			continue
		}

		// queued / in_progress / cancelling: keep polling.
		if time.Now().After(deadline) {
			out.status = "timed_out"
			out.err = clienterrors.NewTimeoutError(nil,
				fmt.Sprintf("run %s timed out after %s", run.ID, a.cfg.AgentTimeout()))
			return out
		}
		select {
		case <-ctx.Done():
			out.status = "cancelled"
			out.err = clienterrors.NewTimeoutError(ctx.Err(),
				fmt.Sprintf("run %s aborted: %v", run.ID, ctx.Err()))
			return out
		case <-time.After(pollInterval):
		}

		run, err = oai.Beta.Threads.Runs.Get(ctx, threadID, run.ID)
		if err != nil {
			out.err = clienterrors.Classify(err)
			return out
		}
	}
}

// handleToolCalls dispatches every requested call and submits the
// outputs. Dispatch failures become {"error": ...} outputs so the remote
// loop can keep going instead of stalling the run.
func (a *Agent) handleToolCalls(ctx context.Context, oai openai.Client, threadID string, run *openai.Run) (*openai.Run, []tools.Result, error) {
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(calls))
	results := make([]tools.Result, 0, len(calls))

	for _, call := range calls {
		name := call.Function.Name
		args := map[string]any{}
		if raw := call.Function.Arguments; raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				a.logger.Warn("run %s: tool %s sent undecodable arguments: %v", run.ID, name, err)
				results = append(results, tools.Result{
					Tool:    name,
					Kind:    tools.FailureInvalidArguments,
					Message: "arguments were not valid JSON",
					State:   tools.StateFailed,
				})
				outputs = append(outputs, toolOutput(call.ID, map[string]any{"error": "arguments were not valid JSON"}))
				continue
			}
		}

		res := a.registry.Dispatch(ctx, name, args)
		results = append(results, res)
		if res.OK {
			outputs = append(outputs, toolOutput(call.ID, res.Payload))
		} else {
			outputs = append(outputs, toolOutput(call.ID, map[string]any{"error": res.Message}))
		}
	}

	updated, err := oai.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, run.ID, openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: outputs,
	})
	if err != nil {
		return nil, results, clienterrors.Classify(err)
	}
	return updated, results, nil
}

func toolOutput(callID string, payload any) openai.BetaThreadRunSubmitToolOutputsParamsToolOutput {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(`{"error":"tool output could not be serialized"}`)
	}
	return openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
		ToolCallID: openai.String(callID),
		Output:     openai.String(string(encoded)),
	}
}

// latestAssistantMessage fetches the newest message on the thread and
// joins its text parts.
func (a *Agent) latestAssistantMessage(ctx context.Context, oai openai.Client, threadID string) (string, error) {
	page, err := oai.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Limit: openai.Int(1),
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return "", clienterrors.Classify(err)
	}

	if len(page.Data) > 0 {
		msg := page.Data[0]
		if msg.Role == "assistant" {
			parts := make([]string, 0, len(msg.Content))
			for _, content := range msg.Content {
				if content.Type == "text" {
					parts = append(parts, content.Text.Value)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n"), nil
			}
		}
	}
	return "No response generated", nil
}

func (a *Agent) persistRun(threadID string, out runOutcome, duration time.Duration) {
	if a.store == nil {
		return
	}

	rec := &persistence.RunRecord{
		ThreadID:         threadID,
		RunID:            out.runID,
		Status:           out.status,
		Response:         out.response,
		ToolCalls:        int64(len(out.toolCalls)),
		PromptTokens:     out.promptTokens,
		CompletionTokens: out.completionTokens,
		TotalTokens:      out.totalTokens,
		Duration:         duration,
	}
	if out.err != nil {
		rec.Error = out.err.Error()
	}
	if err := a.store.RecordRun(rec); err != nil {
		a.logger.Error("failed to record run %s: %v", out.runID, err)
		return
	}
	for _, res := range out.toolCalls {
		if err := a.store.RecordToolCall(&persistence.ToolCallRecord{
			RunRowID: rec.ID,
			Tool:     res.Tool,
			Outcome:  res.Outcome(),
			Duration: res.Duration,
		}); err != nil {
			a.logger.Error("failed to record tool call for run %s: %v", out.runID, err)
		}
	}
	a.audit("run_"+rec.Status, fmt.Sprintf("run %s on thread %s", out.runID, threadID))
}

func (a *Agent) audit(action, detail string) {
	if a.store == nil {
		return
	}
	if err := a.store.RecordEvent("agent", action, detail); err != nil {
		a.logger.Warn("audit write failed: %v", err)
	}
}

// Cleanup deletes the remote assistant and clears local thread state.
// Safe to call more than once.
func (a *Agent) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	assistantID := a.assistantID
	a.mu.Unlock()
	if assistantID == "" {
		return nil
	}

	oai, err := a.session.OpenAI()
	if err != nil {
		return err
	}
	if _, err := oai.Beta.Assistants.Delete(ctx, assistantID); err != nil {
		return clienterrors.Classify(err)
	}

	a.mu.Lock()
	a.assistantID = ""
	a.threads = make(map[string]*Conversation)
	a.status = StatusInitializing
	a.mu.Unlock()

	a.logger.Info("assistant %s deleted", assistantID)
	a.audit("assistant_deleted", assistantID)
	return nil
}
