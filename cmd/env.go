package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/config"
	"github.com/vocallabs/llm-batch/internal/pipeline"
	"github.com/vocallabs/llm-batch/internal/resilience"
	"github.com/vocallabs/llm-batch/internal/store"
	"github.com/vocallabs/llm-batch/internal/textgen"
	"github.com/vocallabs/llm-batch/pkg/anthropic"
	"github.com/vocallabs/llm-batch/pkg/chat"
	"github.com/vocallabs/llm-batch/pkg/hasura"
)

const defaultSQLitePath = "llm-batch.db"

// appEnv holds the store and orchestrator shared by the commands.
type appEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens the store and builds the
// orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	// sqlite files are local and owned by this tool.
	if cfg.Store.Driver == config.DriverSQLite {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	callerMetrics, err := textgen.NewMetrics()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init textgen metrics")
	}
	pipelineMetrics, err := pipeline.NewMetrics()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init pipeline metrics")
	}

	breakerCfg := resilience.FromConfig(cfg.Text.BreakerThreshold, cfg.Text.BreakerCooldownSecs)
	breakerCfg.ShouldTrip = textgen.Transient
	breakers := resilience.NewBreakers(breakerCfg)

	translator, err := newCaller(cfg.Text.Translator, breakers, callerMetrics)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	evaluator, err := newCaller(cfg.Text.Evaluator, breakers, callerMetrics)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("translator", translator.Provider()),
		zap.String("evaluator", evaluator.Provider()),
		zap.Bool("breaker", breakerCfg.Enabled()),
	)

	return &appEnv{
		Store:        st,
		Orchestrator: pipeline.New(cfg, st, translator, evaluator, pipeline.WithMetrics(pipelineMetrics)),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case config.DriverPostgres:
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case config.DriverHasura:
		client := hasura.NewClient(cfg.Hasura.URL, cfg.Hasura.AdminSecret,
			hasura.WithTimeout(time.Duration(cfg.Hasura.TimeoutSecs)*time.Second))
		return store.NewHasura(client), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newCaller builds the adapter for a configured provider. Adapters for the
// same provider share one breaker.
func newCaller(provider string, breakers *resilience.Breakers, m *textgen.Metrics) (*textgen.Adapter, error) {
	svc, err := newService(provider)
	if err != nil {
		return nil, err
	}
	return textgen.NewAdapter(provider, svc,
		textgen.WithTimeout(cfg.Text.Timeout()),
		textgen.WithRateLimit(cfg.Text.RateLimit, cfg.Text.RateBurst),
		textgen.WithBreaker(breakers.For(provider)),
		textgen.WithMetrics(m),
	), nil
}

func newService(provider string) (textgen.Service, error) {
	switch provider {
	case config.ProviderOpenRouter:
		client := chat.NewClient(cfg.OpenRouter.Key,
			chat.WithBaseURL(cfg.OpenRouter.BaseURL),
			chat.WithModel(cfg.OpenRouter.Model),
			chat.WithHeader("X-Title", "llm-batch"),
		)
		return textgen.NewChatService(client), nil
	case config.ProviderAzure:
		client := chat.NewClient(cfg.Azure.Key,
			chat.WithBaseURL(cfg.Azure.Endpoint),
			chat.WithAzureDeployment(cfg.Azure.Deployment, cfg.Azure.APIVersion),
		)
		return textgen.NewChatService(client), nil
	case config.ProviderAnthropic:
		return textgen.NewAnthropicService(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("unsupported text provider: %s", provider)
	}
}
