package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lfabra/rolecall/internal/agent"
	"github.com/lfabra/rolecall/internal/callstore"
	"github.com/lfabra/rolecall/internal/config"
	"github.com/lfabra/rolecall/internal/engine"
	"github.com/lfabra/rolecall/internal/evaluation"
	"github.com/lfabra/rolecall/internal/observability"
	"github.com/lfabra/rolecall/internal/recording"
	"github.com/lfabra/rolecall/internal/roleplay"
	"github.com/lfabra/rolecall/internal/transcript"
)

// sessionFactory assembles one fully wired session per room connection.
type sessionFactory struct {
	cfg     config.Config
	store   callstore.Store
	metrics *observability.Metrics
	dial    recording.DialFunc
}

func (f *sessionFactory) NewSession(ctx context.Context, roomName, rawMetadata string, publisher transcript.Publisher) (*agent.Session, error) {
	sessionCfg := roleplay.Resolve(rawMetadata)

	ledger := transcript.NewLedger(roomName, publisher)

	recorder := recording.NewController(recording.Config{
		Enabled:    f.cfg.RecordingEnabled,
		Bucket:     f.cfg.AWSBucketName,
		Region:     f.cfg.AWSRegion,
		AccessKey:  f.cfg.AWSAccessKeyID,
		Secret:     f.cfg.AWSSecretAccessKey,
		PathPrefix: f.cfg.RecordingPathPrefix,
	}, roomName, sessionCfg.SessionID, sessionCfg.CustomerID, f.dial)

	judge := evaluation.NewOpenAIJudge(f.cfg.OpenAIAPIKey, f.cfg.JudgeModel, f.cfg.JudgeMaxTokens)
	evaluator := evaluation.NewRunner(judge, f.metrics)

	eng, err := f.buildEngine(ctx, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	return agent.NewSession(roomName, sessionCfg, ledger, recorder, evaluator, eng, f.store, f.metrics, f.cfg.AutoEndGrace), nil
}

func (f *sessionFactory) buildEngine(ctx context.Context, sessionCfg roleplay.SessionConfig) (engine.Engine, error) {
	provider := f.cfg.EngineProvider
	if provider == "auto" {
		if strings.TrimSpace(f.cfg.OpenAIAPIKey) != "" {
			provider = "realtime"
		} else {
			log.Printf("app: no OPENAI_API_KEY, falling back to mock engine")
			provider = "mock"
		}
	}

	switch provider {
	case "realtime":
		return engine.NewRealtimeEngine(ctx, engine.RealtimeConfig{
			APIKey:         f.cfg.OpenAIAPIKey,
			URL:            f.cfg.OpenAIRealtimeURL,
			Voice:          sessionCfg.Voice,
			Instructions:   sessionCfg.SystemPrompt,
			NoiseReduction: f.cfg.NoiseCancellationEnabled,
		})
	case "mock":
		return engine.NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", provider)
	}
}
