package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCompletionsURL = "https://api.openai.com/v1/chat/completions"

// OpenAIJudge asks an OpenAI chat model for the structured evaluation.
type OpenAIJudge struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

func NewOpenAIJudge(apiKey, model string, maxTokens int) *OpenAIJudge {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o"
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &OpenAIJudge{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		baseURL:   defaultCompletionsURL,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (j *OpenAIJudge) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       j.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   j.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)

	res, err := j.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send judge request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("judge http status %d: %s", res.StatusCode, string(detail))
	}

	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode judge response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("judge returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
