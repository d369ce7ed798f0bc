package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lfabra/rolecall/internal/observability"
	"github.com/lfabra/rolecall/internal/protocol"
	"github.com/lfabra/rolecall/internal/roleplay"
	"github.com/lfabra/rolecall/internal/transcript"
)

const conversationPlaceholder = "{{CONVERSATION}}"

// minTurns is the smallest transcript worth evaluating.
const minTurns = 2

// Judge is the boundary to the external evaluation model. One single-shot
// prompt-completion per finished call; never retried.
type Judge interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Notifier is the slice of the ledger the runner publishes through.
type Notifier interface {
	Snapshot() []transcript.Turn
	SendEvaluation(data json.RawMessage, recording *protocol.RecordingInfo)
	SendError(message string)
}

// Runner renders the finished transcript into the configured evaluation
// prompt, asks the judge model once, and publishes the structured result.
type Runner struct {
	judge   Judge
	metrics *observability.Metrics
}

func NewRunner(judge Judge, metrics *observability.Metrics) *Runner {
	return &Runner{judge: judge, metrics: metrics}
}

// Run evaluates the conversation and publishes the outcome on the ledger's
// notification channel. All failures are reported as an evaluation_error
// notification; the returned values exist for callers that persist the
// result and are never surfaced to the client beyond that notification.
func (r *Runner) Run(ctx context.Context, ledger Notifier, cfg roleplay.SessionConfig, recording *protocol.RecordingInfo) (json.RawMessage, error) {
	turns := ledger.Snapshot()
	if len(turns) < minTurns {
		log.Printf("evaluation: conversation too short (%d turns)", len(turns))
		ledger.SendError("Conversa muito curta para avaliação.")
		return nil, fmt.Errorf("conversation too short: %d turns", len(turns))
	}

	log.Printf("evaluation: judging %d turns", len(turns))
	prompt := strings.ReplaceAll(cfg.EvaluationPrompt, conversationPlaceholder, RenderConversation(turns))

	start := time.Now()
	raw, err := r.judge.Complete(ctx, prompt)
	if r.metrics != nil {
		r.metrics.ObserveEvaluationLatency(time.Since(start))
	}
	if err != nil {
		log.Printf("evaluation: judge call failed: %v", err)
		if r.metrics != nil {
			r.metrics.ProviderErrors.WithLabelValues("judge", "call_failed").Inc()
		}
		ledger.SendError(err.Error())
		return nil, err
	}

	data := json.RawMessage(StripCodeFence(raw))
	if !json.Valid(data) {
		log.Printf("evaluation: judge returned invalid JSON: %.200s", raw)
		if r.metrics != nil {
			r.metrics.ProviderErrors.WithLabelValues("judge", "invalid_json").Inc()
		}
		ledger.SendError("invalid evaluation response")
		return nil, fmt.Errorf("judge returned invalid JSON")
	}

	ledger.SendEvaluation(data, recording)
	return data, nil
}

// RenderConversation formats the transcript as alternating role-labeled
// lines for substitution into the evaluation prompt.
func RenderConversation(turns []transcript.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		label := "INTERLOCUTOR"
		if t.Role == transcript.RoleUser {
			label = "PARTICIPANTE"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// StripCodeFence removes an optional ```json fenced wrapper from a model
// response, returning the inner text trimmed.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
