package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lfabra/rolecall/internal/transcript"
)

// RealtimeConfig configures the speech-to-speech websocket session.
type RealtimeConfig struct {
	APIKey         string
	URL            string
	Voice          string
	Instructions   string
	NoiseReduction bool
}

// RealtimeEngine drives an OpenAI Realtime API session over a websocket.
// Audio flows through the transport layer; this client only configures the
// session and surfaces transcription/turn events.
type RealtimeEngine struct {
	conn      *websocket.Conn
	events    chan Event
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewRealtimeEngine(ctx context.Context, cfg RealtimeConfig) (*RealtimeEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, fmt.Errorf("realtime url is required")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	e := &RealtimeEngine{
		conn:   conn,
		events: make(chan Event, 256),
	}

	session := map[string]any{
		"modalities":   []string{"text", "audio"},
		"voice":        cfg.Voice,
		"instructions": cfg.Instructions,
		"temperature":  0.8,
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		// Server VAD tuned for telephone-style pacing: louder activation,
		// 400ms prefix, 800ms of silence to close the user's turn.
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.7,
			"prefix_padding_ms":   400,
			"silence_duration_ms": 800,
			"create_response":     true,
			"interrupt_response":  false,
		},
	}
	if cfg.NoiseReduction {
		session["input_audio_noise_reduction"] = map[string]any{"type": "near_field"}
	}

	if err := e.writeJSON(map[string]any{"type": "session.update", "session": session}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure realtime session: %w", err)
	}

	go e.readLoop()
	return e, nil
}

func (e *RealtimeEngine) Events() <-chan Event {
	return e.events
}

// Speak asks the model for one response driven entirely by instructions,
// bypassing turn detection.
func (e *RealtimeEngine) Speak(_ context.Context, instructions string) error {
	return e.writeJSON(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"instructions": instructions,
		},
	})
}

func (e *RealtimeEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
	})
	return err
}

func (e *RealtimeEngine) writeJSON(v any) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(v)
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Item       struct {
		Role    string `json:"role"`
		Content []struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			Transcript string `json:"transcript"`
		} `json:"content"`
	} `json:"item"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *RealtimeEngine) readLoop() {
	defer close(e.events)
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			e.events <- Event{Type: EventClosed, Err: err}
			return
		}

		var raw serverEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Printf("engine: malformed server event: %v", err)
			continue
		}
		if evt, ok := translateServerEvent(raw); ok {
			e.events <- evt
		}
	}
}

// translateServerEvent maps realtime server events onto the engine's event
// union. Unrecognized types are dropped.
func translateServerEvent(raw serverEvent) (Event, bool) {
	switch raw.Type {
	case "conversation.item.input_audio_transcription.completed":
		return Event{
			Type:    EventUserTranscribed,
			Role:    transcript.RoleUser,
			Content: transcript.PlainText(raw.Transcript),
		}, true
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return Event{
			Type:    EventAssistantCommitted,
			Role:    transcript.RoleAssistant,
			Content: transcript.PlainText(raw.Transcript),
		}, true
	case "conversation.item.created", "conversation.item.added":
		role := strings.ToLower(raw.Item.Role)
		if role != transcript.RoleUser && role != transcript.RoleAssistant {
			return Event{}, false
		}
		fragments := make([]transcript.Fragment, 0, len(raw.Item.Content))
		for _, c := range raw.Item.Content {
			text := c.Text
			if text == "" {
				text = c.Transcript
			}
			fragments = append(fragments, transcript.Fragment{Text: text})
		}
		return Event{
			Type:    EventItemAdded,
			Role:    role,
			Content: transcript.FragmentList(fragments...),
		}, true
	case "response.created":
		return Event{Type: EventStartedSpeaking}, true
	case "response.done":
		return Event{Type: EventStoppedSpeaking}, true
	case "error":
		log.Printf("engine: server error %s: %s", raw.Error.Code, raw.Error.Message)
		return Event{}, false
	default:
		return Event{}, false
	}
}
