package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/lfabra/rolecall/internal/agent"
	"github.com/lfabra/rolecall/internal/callstore"
	"github.com/lfabra/rolecall/internal/config"
	"github.com/lfabra/rolecall/internal/httpapi"
	"github.com/lfabra/rolecall/internal/observability"
	"github.com/lfabra/rolecall/internal/recording"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *agent.Registry
	Store    callstore.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := callstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("call store init failed: %w", err)
	}

	registry := agent.NewRegistry()

	factory := &sessionFactory{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		dial:    egressDialer(cfg),
	}

	api := httpapi.New(cfg, registry, factory, store, metrics)

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: registry,
		Store:    store,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

func validateEngineConfig(cfg config.Config) error {
	if cfg.EngineProvider == "realtime" && strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return fmt.Errorf("ENGINE_PROVIDER=realtime requires OPENAI_API_KEY")
	}
	return nil
}

// egressDialer builds the recording dial function once so every session
// shares the same credentials. When the media server is not configured the
// dialer reports that at start time and sessions proceed without recording.
func egressDialer(cfg config.Config) recording.DialFunc {
	return func() (recording.EgressClient, error) {
		if strings.TrimSpace(cfg.LiveKitURL) == "" || cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
			return nil, fmt.Errorf("livekit egress is not configured")
		}
		return recording.NewLiveKitClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	}
}
