package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vocallabs/llm-batch/internal/config"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/textgen"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchProspects(ctx context.Context, groupID string) ([]model.Prospect, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Prospect), args.Error(1)
}

func (m *mockStore) UpdateProspectName(ctx context.Context, id, name string) (int64, error) {
	args := m.Called(ctx, id, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) FetchAutostartCampaigns(ctx context.Context) ([]model.Campaign, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

func (m *mockStore) UpdateCampaignActive(ctx context.Context, id string, active bool) (int64, error) {
	args := m.Called(ctx, id, active)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) FetchAgentPrompts(ctx context.Context, agentID string) ([]model.AgentPrompt, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AgentPrompt), args.Error(1)
}

func (m *mockStore) CountCalls(ctx context.Context, filter model.CallFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) FetchCalls(ctx context.Context, filter model.CallFilter, offset, limit int) ([]model.Call, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Call), args.Error(1)
}

func (m *mockStore) GetCompletedCall(ctx context.Context, callID string) (*model.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

// UpsertCallData returns len(entries) affected rows unless the expectation
// supplies an explicit count.
func (m *mockStore) UpsertCallData(ctx context.Context, entries []model.EvaluationEntry) (int64, error) {
	args := m.Called(ctx, entries)
	if n, ok := args.Get(0).(int64); ok {
		return n, args.Error(1)
	}
	return int64(len(entries)), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Text Caller Fake ---

type fakeCaller struct {
	mu    sync.Mutex
	reqs  []textgen.Request
	reply func(req textgen.Request) (string, error)
}

func (f *fakeCaller) Call(_ context.Context, req textgen.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.reply(req)
}

func (f *fakeCaller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeCaller) requests() []textgen.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]textgen.Request(nil), f.reqs...)
}

// nameFromPrompt extracts the name a transliteration prompt asks about.
func nameFromPrompt(prompt string) string {
	_, name, _ := strings.Cut(prompt, "Name: ")
	return name
}

// --- Helpers ---

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Batch.Size = 100
	cfg.Batch.TransformParallelism = 15
	cfg.Batch.WriteParallelism = 10
	cfg.Batch.DelayMillis = 1000
	cfg.Batch.TranslateMaxTokens = 20
	cfg.Evaluate.PageSize = 100
	cfg.Evaluate.PageParallelism = 4
	cfg.Evaluate.MaxTokens = 256
	return cfg
}

// sleepRecorder counts courtesy delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
}

func newTestOrchestrator(t *testing.T, st *mockStore, translator, evaluator *fakeCaller, opts ...Option) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return New(testConfig(), st, translator, evaluator, opts...), rec
}
