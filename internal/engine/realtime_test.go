package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lfabra/rolecall/internal/transcript"
)

func decodeServerEvent(t *testing.T, raw string) serverEvent {
	t.Helper()
	var evt serverEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("unmarshal server event: %v", err)
	}
	return evt
}

func TestTranslateUserTranscription(t *testing.T) {
	raw := decodeServerEvent(t, `{
		"type": "conversation.item.input_audio_transcription.completed",
		"transcript": "Bom dia, tudo bem?"
	}`)

	evt, ok := translateServerEvent(raw)
	if !ok || evt.Type != EventUserTranscribed {
		t.Fatalf("event = %+v, ok = %v", evt, ok)
	}
	text, _ := evt.Content.Normalize()
	if text != "Bom dia, tudo bem?" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranslateAssistantTranscriptDone(t *testing.T) {
	for _, typ := range []string{"response.audio_transcript.done", "response.output_audio_transcript.done"} {
		raw := decodeServerEvent(t, `{"type": "`+typ+`", "transcript": "Alô?"}`)
		evt, ok := translateServerEvent(raw)
		if !ok || evt.Type != EventAssistantCommitted || evt.Role != transcript.RoleAssistant {
			t.Fatalf("%s: event = %+v, ok = %v", typ, evt, ok)
		}
	}
}

func TestTranslateItemAddedJoinsFragments(t *testing.T) {
	raw := decodeServerEvent(t, `{
		"type": "conversation.item.created",
		"item": {
			"role": "assistant",
			"content": [
				{"type": "text", "text": "Pois não,"},
				{"type": "audio", "transcript": "em que posso ajudar?"}
			]
		}
	}`)

	evt, ok := translateServerEvent(raw)
	if !ok || evt.Type != EventItemAdded {
		t.Fatalf("event = %+v, ok = %v", evt, ok)
	}
	text, _ := evt.Content.Normalize()
	if text != "Pois não, em que posso ajudar?" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranslateItemWithSystemRoleDropped(t *testing.T) {
	raw := decodeServerEvent(t, `{
		"type": "conversation.item.created",
		"item": {"role": "system", "content": [{"type": "text", "text": "hidden"}]}
	}`)
	if _, ok := translateServerEvent(raw); ok {
		t.Fatalf("system items should be dropped")
	}
}

func TestTranslateTurnBoundaries(t *testing.T) {
	evt, ok := translateServerEvent(decodeServerEvent(t, `{"type": "response.created"}`))
	if !ok || evt.Type != EventStartedSpeaking {
		t.Fatalf("response.created = %+v", evt)
	}
	evt, ok = translateServerEvent(decodeServerEvent(t, `{"type": "response.done"}`))
	if !ok || evt.Type != EventStoppedSpeaking {
		t.Fatalf("response.done = %+v", evt)
	}
}

func TestTranslateUnknownAndErrorDropped(t *testing.T) {
	if _, ok := translateServerEvent(decodeServerEvent(t, `{"type": "rate_limits.updated"}`)); ok {
		t.Fatalf("unknown event should be dropped")
	}
	if _, ok := translateServerEvent(decodeServerEvent(t, `{"type": "error", "error": {"code": "x", "message": "y"}}`)); ok {
		t.Fatalf("error event should be dropped")
	}
}

func TestMockEngineSpeakEmitsTurnEvents(t *testing.T) {
	e := NewMockEngine()
	if err := e.Speak(context.Background(), "diga oi"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	first := <-e.Events()
	second := <-e.Events()
	if first.Type != EventStartedSpeaking || second.Type != EventStoppedSpeaking {
		t.Fatalf("events = %v, %v", first.Type, second.Type)
	}
	if spoken := e.Spoken(); len(spoken) != 1 || spoken[0] != "diga oi" {
		t.Fatalf("Spoken() = %v", spoken)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, open := <-e.Events(); open {
		t.Fatalf("events channel should be closed")
	}
}
