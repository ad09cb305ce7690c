package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundry/pkg/client"
	"foundry/pkg/clienterrors"
	"foundry/pkg/config"
	"foundry/pkg/persistence"
	"foundry/pkg/tools"
)

// fakeToolCall is a tool invocation the platform stub asks the agent to run.
type fakeToolCall struct {
	id   string
	name string
	args string
}

// platform fakes the assistant API surface: assistant and thread CRUD, a
// scripted run state sequence, and capture of everything the agent sends.
// Each time a run object must be produced (create, poll, tool-output
// submission) the next scripted status is consumed.
type platform struct {
	server *httptest.Server

	mu               sync.Mutex
	statuses         []string
	calls            []fakeToolCall
	reply            string
	lastError        string
	promptTokens     int64
	completionTokens int64
	failMessages     int

	assistantCreates int
	createdAssistant map[string]any
	threadMetadata   map[string]any
	addedMessages    []string
	submissions      [][]map[string]string
	runGets          int
	deleted          []string
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	p := &platform{
		reply:            "All sorted.",
		promptTokens:     120,
		completionTokens: 30,
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *platform) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPost && len(segs) == 1 && segs[0] == "assistants":
		p.assistantCreates++
		p.createdAssistant = decodeBody(r)
		writeJSON(w, http.StatusOK, map[string]any{"id": "asst_1", "object": "assistant"})

	case r.Method == http.MethodDelete && len(segs) == 2 && segs[0] == "assistants":
		p.deleted = append(p.deleted, segs[1])
		writeJSON(w, http.StatusOK, map[string]any{"id": segs[1], "object": "assistant.deleted", "deleted": true})

	case r.Method == http.MethodPost && len(segs) == 1 && segs[0] == "threads":
		body := decodeBody(r)
		if md, ok := body["metadata"].(map[string]any); ok {
			p.threadMetadata = md
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "thread_1", "object": "thread"})

	case r.Method == http.MethodPost && len(segs) == 3 && segs[0] == "threads" && segs[2] == "messages":
		if p.failMessages != 0 {
			writeJSON(w, p.failMessages, map[string]any{
				"error": map[string]any{"message": "message rejected", "type": "invalid_request_error"},
			})
			return
		}
		body := decodeBody(r)
		if content, ok := body["content"].(string); ok {
			p.addedMessages = append(p.addedMessages, content)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "msg_user", "object": "thread.message", "role": "user"})

	case r.Method == http.MethodGet && len(segs) == 3 && segs[0] == "threads" && segs[2] == "messages":
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":     "msg_reply",
				"object": "thread.message",
				"role":   "assistant",
				"content": []map[string]any{{
					"type": "text",
					"text": map[string]any{"value": p.reply, "annotations": []any{}},
				}},
			}},
			"first_id": "msg_reply",
			"last_id":  "msg_reply",
			"has_more": false,
		})

	case r.Method == http.MethodPost && len(segs) == 3 && segs[0] == "threads" && segs[2] == "runs":
		writeJSON(w, http.StatusOK, p.runJSON(p.nextStatus()))

	case r.Method == http.MethodGet && len(segs) == 4 && segs[0] == "threads" && segs[2] == "runs":
		p.runGets++
		writeJSON(w, http.StatusOK, p.runJSON(p.nextStatus()))

	case r.Method == http.MethodPost && len(segs) == 5 && segs[4] == "submit_tool_outputs":
		body := decodeBody(r)
		var flat []map[string]string
		if raw, ok := body["tool_outputs"].([]any); ok {
			for _, item := range raw {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				entry := map[string]string{}
				if v, ok := m["tool_call_id"].(string); ok {
					entry["tool_call_id"] = v
				}
				if v, ok := m["output"].(string); ok {
					entry["output"] = v
				}
				flat = append(flat, entry)
			}
		}
		p.submissions = append(p.submissions, flat)
		writeJSON(w, http.StatusOK, p.runJSON(p.nextStatus()))

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"message": "no such route: " + r.Method + " " + r.URL.Path, "type": "invalid_request_error"},
		})
	}
}

func (p *platform) nextStatus() string {
	if len(p.statuses) == 0 {
		return "completed"
	}
	next := p.statuses[0]
	p.statuses = p.statuses[1:]
	return next
}

func (p *platform) runJSON(status string) map[string]any {
	run := map[string]any{
		"id":           "run_1",
		"object":       "thread.run",
		"thread_id":    "thread_1",
		"assistant_id": "asst_1",
		"status":       status,
	}
	switch status {
	case "requires_action":
		calls := make([]map[string]any, 0, len(p.calls))
		for _, c := range p.calls {
			calls = append(calls, map[string]any{
				"id":   c.id,
				"type": "function",
				"function": map[string]any{
					"name":      c.name,
					"arguments": c.args,
				},
			})
		}
		run["required_action"] = map[string]any{
			"type":                "submit_tool_outputs",
			"submit_tool_outputs": map[string]any{"tool_calls": calls},
		}
	case "completed", "failed", "cancelled", "expired", "incomplete":
		run["usage"] = map[string]any{
			"prompt_tokens":     p.promptTokens,
			"completion_tokens": p.completionTokens,
			"total_tokens":      p.promptTokens + p.completionTokens,
		}
		if p.lastError != "" {
			run["last_error"] = map[string]any{"code": "server_error", "message": p.lastError}
		}
	}
	return run
}

func decodeBody(r *http.Request) map[string]any {
	body := map[string]any{}
	data, err := io.ReadAll(r.Body)
	if err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// runRecorder captures ObserveRun calls for assertions.
type runRecorder struct {
	mu   sync.Mutex
	runs []string
}

func (f *runRecorder) ObserveRun(_, status string, _, _ int64, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, status)
}

func (f *runRecorder) ObserveToolDispatch(_, _ string, _ time.Duration) {}
func (f *runRecorder) IncSessionOpen(string)                           {}
func (f *runRecorder) IncRetry(string)                                 {}

func testSession(t *testing.T, baseURL string) *client.Session {
	t.Helper()
	oai := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	return client.NewSession("sess-test", oai)
}

func agentConfig() *config.Config {
	cfg := config.Default()
	cfg.Endpoint = "https://example.cognitiveservices.azure.com"
	cfg.ProjectName = "support-bot"
	return cfg
}

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	def := tools.Definition{
		Name:        "echo_message",
		Description: "Echoes the supplied message back.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"message": {Type: "string", Description: "Text to echo."},
			},
			Required: []string{"message"},
		},
	}
	require.NoError(t, reg.Register(def, func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"echo": args["message"]}, nil
	}))
	return reg
}

func testAgent(t *testing.T, p *platform, cfg *config.Config, reg *tools.Registry, opts ...Option) *Agent {
	t.Helper()
	if cfg == nil {
		cfg = agentConfig()
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	a, err := New(testSession(t, p.server.URL), cfg, reg, opts...)
	require.NoError(t, err)
	return a
}

func TestCreateRegistersToolSchemas(t *testing.T) {
	p := newPlatform(t)
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg))
	a := testAgent(t, p, nil, reg)

	require.NoError(t, a.Create(context.Background()))
	assert.Equal(t, "asst_1", a.AssistantID())
	assert.Equal(t, StatusReady, a.Status())

	p.mu.Lock()
	body := p.createdAssistant
	p.mu.Unlock()
	require.NotNil(t, body)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, defaultName, body["name"])

	rawTools, ok := body["tools"].([]any)
	require.True(t, ok, "tools missing from create payload")
	require.Len(t, rawTools, 4)

	var names []string
	for _, raw := range rawTools {
		entry, ok := raw.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "function", entry["type"])
		fn, ok := entry["function"].(map[string]any)
		require.True(t, ok)
		names = append(names, fn["name"].(string))
	}
	assert.Equal(t, []string{
		tools.ToolQueryKnowledgeBase,
		tools.ToolLookupCustomer,
		tools.ToolCreateSupportTicket,
		tools.ToolCalculateAzureCost,
	}, names, "schemas must arrive in registration order")

	meta, ok := body["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "foundry", meta["created_by"])
}

func TestCreateIsIdempotent(t *testing.T) {
	p := newPlatform(t)
	a := testAgent(t, p, nil, nil)

	require.NoError(t, a.Create(context.Background()))
	require.NoError(t, a.Create(context.Background()))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.assistantCreates, "second Create must not hit the platform")
}

func TestNewThreadCarriesMetadata(t *testing.T) {
	p := newPlatform(t)
	a := testAgent(t, p, nil, nil)

	require.NoError(t, a.Create(context.Background()))
	threadID, err := a.NewThread(context.Background(), map[string]string{"customer_id": "CUST-001"})
	require.NoError(t, err)

	p.mu.Lock()
	md := p.threadMetadata
	p.mu.Unlock()
	require.NotNil(t, md)
	assert.Equal(t, "CUST-001", md["customer_id"])

	conv, ok := a.Conversation(threadID)
	require.True(t, ok)
	assert.Equal(t, "CUST-001", conv.Metadata["customer_id"])
}

func TestAddMessageEnforcesTokenBudget(t *testing.T) {
	p := newPlatform(t)
	cfg := agentConfig()
	cfg.MaxTokensPerRequest = 5
	a := testAgent(t, p, cfg, nil)

	require.NoError(t, a.Create(context.Background()))
	threadID, err := a.NewThread(context.Background(), nil)
	require.NoError(t, err)

	oversized := strings.Repeat("budget overrun incoming ", 50)
	_, err = a.AddMessage(context.Background(), threadID, oversized)
	require.Error(t, err)
	assert.Equal(t, clienterrors.ErrorTypeBadRequest, clienterrors.TypeOf(err))
	assert.Contains(t, err.Error(), "token budget")

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.addedMessages, "oversized message must be rejected before any network call")
}

func TestAddMessageRejectedByPlatform(t *testing.T) {
	p := newPlatform(t)
	p.failMessages = http.StatusBadRequest
	a := testAgent(t, p, nil, nil)

	require.NoError(t, a.Create(context.Background()))
	threadID, err := a.NewThread(context.Background(), nil)
	require.NoError(t, err)

	_, err = a.AddMessage(context.Background(), threadID, "hello")
	require.Error(t, err)
	assert.Equal(t, clienterrors.ErrorTypeBadRequest, clienterrors.TypeOf(err))
}

func TestAddMessageTruncatesLocalHistory(t *testing.T) {
	p := newPlatform(t)
	cfg := agentConfig()
	cfg.MaxConversationHistory = 2
	a := testAgent(t, p, cfg, nil)

	require.NoError(t, a.Create(context.Background()))
	threadID, err := a.NewThread(context.Background(), nil)
	require.NoError(t, err)

	for _, msg := range []string{"first", "second", "third"} {
		_, err := a.AddMessage(context.Background(), threadID, msg)
		require.NoError(t, err)
	}

	conv, ok := a.Conversation(threadID)
	require.True(t, ok)
	require.Equal(t, 2, conv.Len())
	assert.Equal(t, "second", conv.Messages[0].Content)
	assert.Equal(t, "third", conv.Messages[1].Content)
}

func TestRunWithoutCreate(t *testing.T) {
	p := newPlatform(t)
	a := testAgent(t, p, nil, nil)

	_, err := a.Run(context.Background(), "thread_1")
	require.Error(t, err)
	assert.Equal(t, clienterrors.ErrorTypeBadRequest, clienterrors.TypeOf(err))
	assert.Contains(t, err.Error(), "Create")
}

func TestRunCompleted(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"queued", "completed"}
	rec := &runRecorder{}
	a := testAgent(t, p, nil, nil, WithRecorder(rec))

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	threadID, err := a.NewThread(ctx, nil)
	require.NoError(t, err)
	_, err = a.AddMessage(ctx, threadID, "hello")
	require.NoError(t, err)

	res, err := a.Run(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, "run_1", res.RunID)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "All sorted.", res.Response)
	assert.Equal(t, int64(150), res.TokensUsed)
	assert.Zero(t, res.ToolCalls)
	assert.Equal(t, StatusCompleted, a.Status())

	p.mu.Lock()
	gets := p.runGets
	p.mu.Unlock()
	assert.Equal(t, 1, gets, "queued run should be polled once before completing")

	snap := a.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalRuns)
	assert.Equal(t, int64(1), snap.SuccessfulRuns)
	assert.Equal(t, int64(120), snap.PromptTokens)
	assert.Equal(t, int64(30), snap.CompletionTokens)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"completed"}, rec.runs)

	conv, ok := a.Conversation(threadID)
	require.True(t, ok)
	require.Equal(t, 2, conv.Len())
	assert.Equal(t, "assistant", conv.Messages[1].Role)
	assert.Equal(t, "All sorted.", conv.Messages[1].Content)
}

func TestRunDispatchesToolCalls(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"requires_action", "completed"}
	p.calls = []fakeToolCall{
		{id: "call_1", name: "echo_message", args: `{"message":"ping"}`},
		{id: "call_2", name: "missing_tool", args: `{}`},
	}
	a := testAgent(t, p, nil, echoRegistry(t))

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	threadID, err := a.NewThread(ctx, nil)
	require.NoError(t, err)

	res, err := a.Run(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, "All sorted.", res.Response)

	p.mu.Lock()
	submissions := p.submissions
	p.mu.Unlock()
	require.Len(t, submissions, 1)
	require.Len(t, submissions[0], 2)
	assert.Equal(t, "call_1", submissions[0][0]["tool_call_id"])
	assert.Contains(t, submissions[0][0]["output"], `"echo":"ping"`)
	assert.Equal(t, "call_2", submissions[0][1]["tool_call_id"])
	assert.Contains(t, submissions[0][1]["output"], "error")

	snap := a.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.ToolCalls)
	assert.Equal(t, int64(2), snap.Dispatches)
	assert.Equal(t, int64(1), snap.FailedDispatches, "unknown tool dispatch counts as failed")
	assert.Equal(t, int64(1), snap.SuccessfulRuns)
}

func TestRunToolArgumentsNotJSON(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"requires_action", "completed"}
	p.calls = []fakeToolCall{{id: "call_1", name: "echo_message", args: `{not json`}}
	a := testAgent(t, p, nil, echoRegistry(t))

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	threadID, err := a.NewThread(ctx, nil)
	require.NoError(t, err)

	res, err := a.Run(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolCalls)

	p.mu.Lock()
	submissions := p.submissions
	p.mu.Unlock()
	require.Len(t, submissions, 1)
	require.Len(t, submissions[0], 1)
	assert.Contains(t, submissions[0][0]["output"], "arguments were not valid JSON")

	// The handler never ran, so no dispatch is recorded; the tool call still is.
	snap := a.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.ToolCalls)
	assert.Zero(t, snap.Dispatches)
}

func TestRunFailedStatus(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"failed"}
	p.lastError = "model exploded"
	a := testAgent(t, p, nil, nil)

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	threadID, err := a.NewThread(ctx, nil)
	require.NoError(t, err)

	_, err = a.Run(ctx, threadID)
	require.Error(t, err)
	assert.Equal(t, clienterrors.ErrorTypeUnknown, clienterrors.TypeOf(err))
	assert.Contains(t, err.Error(), "model exploded")
	assert.Contains(t, err.Error(), "run_1")
	assert.Equal(t, StatusFailed, a.Status())

	snap := a.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalRuns)
	assert.Equal(t, int64(1), snap.FailedRuns)
	assert.Equal(t, int64(120), snap.PromptTokens, "token usage is recorded even for failed runs")
}

func TestRunTimeout(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"queued"}
	cfg := agentConfig()
	cfg.AgentTimeoutSeconds = 0
	a := testAgent(t, p, cfg, nil)

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	threadID, err := a.NewThread(ctx, nil)
	require.NoError(t, err)

	_, err = a.Run(ctx, threadID)
	require.Error(t, err)
	assert.Equal(t, clienterrors.ErrorTypeTimeout, clienterrors.TypeOf(err))
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, StatusFailed, a.Status())
}

func TestRunContextCancelled(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"queued", "queued", "queued"}
	a := testAgent(t, p, nil, nil)

	require.NoError(t, a.Create(context.Background()))
	threadID, err := a.NewThread(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = a.Run(ctx, threadID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
	assert.Equal(t, StatusCancelled, a.Status())

	snap := a.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.FailedRuns)
}

func TestCleanup(t *testing.T) {
	p := newPlatform(t)
	a := testAgent(t, p, nil, nil)

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	require.NoError(t, a.Cleanup(ctx))
	assert.Empty(t, a.AssistantID())
	assert.Equal(t, StatusInitializing, a.Status())

	// Second cleanup is a no-op.
	require.NoError(t, a.Cleanup(ctx))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []string{"asst_1"}, p.deleted)
}

func TestRunPersistsHistory(t *testing.T) {
	p := newPlatform(t)
	p.statuses = []string{"requires_action", "completed"}
	p.calls = []fakeToolCall{{id: "call_1", name: "echo_message", args: `{"message":"ping"}`}}

	store, err := persistence.Open(t.TempDir()+"/audit.db", "sess-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a := testAgent(t, p, nil, echoRegistry(t), WithStore(store))

	ctx := context.Background()
	require.NoError(t, a.Create(ctx))
	threadID, err := a.NewThread(ctx, nil)
	require.NoError(t, err)
	_, err = a.AddMessage(ctx, threadID, "ping please")
	require.NoError(t, err)

	_, err = a.Run(ctx, threadID)
	require.NoError(t, err)

	runs, err := store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	rec := runs[0]
	assert.Equal(t, "run_1", rec.RunID)
	assert.Equal(t, "thread_1", rec.ThreadID)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "All sorted.", rec.Response)
	assert.Equal(t, int64(1), rec.ToolCalls)
	assert.Equal(t, int64(150), rec.TotalTokens)

	toolRows, err := store.ToolCallsForRun(rec.ID)
	require.NoError(t, err)
	require.Len(t, toolRows, 1)
	assert.Equal(t, "echo_message", toolRows[0].Tool)
	assert.Equal(t, "success", toolRows[0].Outcome)

	events, err := store.RecentEvents(10)
	require.NoError(t, err)
	actions := make(map[string]bool, len(events))
	for _, ev := range events {
		actions[ev.Action] = true
	}
	assert.True(t, actions["assistant_created"])
	assert.True(t, actions["thread_created"])
	assert.True(t, actions["run_completed"])
}
