package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const egressTokenTTL = 10 * time.Minute

// LiveKitClient drives the LiveKit egress service over its Twirp-style HTTP
// API, authenticating with a short-lived HS256 access token.
type LiveKitClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

func NewLiveKitClient(serverURL, apiKey, apiSecret string) (*LiveKitClient, error) {
	base := httpBaseURL(serverURL)
	if base == "" {
		return nil, fmt.Errorf("livekit url is required")
	}
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return nil, fmt.Errorf("livekit api key and secret are required")
	}
	return &LiveKitClient{
		baseURL:   base,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// httpBaseURL converts a signaling URL (ws/wss) into the HTTP API base.
func httpBaseURL(serverURL string) string {
	u := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	default:
		return u
	}
}

func (c *LiveKitClient) accessToken(roomName string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.apiKey,
		"nbf": now.Unix(),
		"exp": now.Add(egressTokenTTL).Unix(),
		"video": map[string]any{
			"roomRecord": true,
			"room":       roomName,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign egress token: %w", err)
	}
	return signed, nil
}

type fileOutput struct {
	FileType string   `json:"file_type"`
	Filepath string   `json:"filepath"`
	S3       S3Upload `json:"s3"`
}

type startEgressPayload struct {
	RoomName    string       `json:"room_name"`
	AudioOnly   bool         `json:"audio_only"`
	FileOutputs []fileOutput `json:"file_outputs"`
}

type egressInfo struct {
	EgressID string `json:"egress_id"`
	Status   string `json:"status"`
}

func (c *LiveKitClient) StartRoomComposite(ctx context.Context, req StartRequest) (string, error) {
	payload := startEgressPayload{
		RoomName:  req.RoomName,
		AudioOnly: req.AudioOnly,
		FileOutputs: []fileOutput{{
			// MP4 carries AAC audio, keeping audio-only recordings small.
			FileType: "MP4",
			Filepath: req.Filepath,
			S3:       req.S3,
		}},
	}

	var info egressInfo
	if err := c.post(ctx, "/twirp/livekit.Egress/StartRoomCompositeEgress", req.RoomName, payload, &info); err != nil {
		return "", err
	}
	if info.EgressID == "" {
		return "", fmt.Errorf("egress start returned no egress_id")
	}
	return info.EgressID, nil
}

func (c *LiveKitClient) Stop(ctx context.Context, egressID string) error {
	payload := map[string]string{"egress_id": egressID}
	var info egressInfo
	return c.post(ctx, "/twirp/livekit.Egress/StopEgress", "", payload, &info)
}

func (c *LiveKitClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *LiveKitClient) post(ctx context.Context, path, roomName string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal egress request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create egress request: %w", err)
	}
	token, err := c.accessToken(roomName)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send egress request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("egress http status %d: %s", res.StatusCode, string(detail))
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode egress response: %w", err)
		}
	}
	return nil
}
