package activities

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/config"
	"github.com/inquest-ai/orchestrator/internal/db"
	"github.com/inquest-ai/orchestrator/internal/llm"
	"github.com/inquest-ai/orchestrator/internal/streaming"
	"github.com/inquest-ai/orchestrator/internal/tools"
)

// scriptedLLM replays canned completions in order and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Completion
	errs      []error
	requests  []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, fmt.Errorf("scriptedLLM: unexpected call %d", i+1)
}

func completion(text string) *llm.Completion {
	return &llm.Completion{Text: text, Model: "test-model", PromptTokens: 10, CompletionTokens: 5}
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echo back the input" }
func (echoTool) Invoke(_ context.Context, args map[string]interface{}) (interface{}, error) {
	return args, nil
}

func newTestActivities(t *testing.T, model llm.Client, extra ...tools.Tool) (*Activities, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	client := db.NewClientFromDB(sqlx.NewDb(mockDB, "postgres"), zap.NewNop())
	t.Cleanup(func() { client.Close() })
	store := db.NewStore(client, zap.NewNop())

	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	for _, tool := range extra {
		registry.Register(tool)
	}

	acts := New(Deps{
		Store:      store,
		LLM:        model,
		Dispatcher: tools.NewDispatcher(registry, zap.NewNop(), 0),
		Registry:   registry,
		Stream:     streaming.NewManager(16),
		Research: config.ResearchConfig{
			MaxIterations:       10,
			MaxCitations:        20,
			NormalConfidence:    0.8,
			ForcedConfidence:    0.6,
			MaxObservationChars: 4000,
		},
		Logger: zap.NewNop(),
	})
	return acts, mock
}
