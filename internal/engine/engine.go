package engine

import (
	"context"

	"github.com/lfabra/rolecall/internal/transcript"
)

type EventType string

const (
	// EventUserTranscribed carries the committed transcription of the
	// human participant's speech.
	EventUserTranscribed EventType = "user_transcribed"
	// EventAssistantCommitted is the low-latency committed-speech stream
	// for the persona model's own utterances.
	EventAssistantCommitted EventType = "assistant_committed"
	// EventItemAdded is the slower structured conversation-item stream;
	// it may duplicate utterances already seen on the committed stream.
	EventItemAdded       EventType = "item_added"
	EventStartedSpeaking EventType = "started_speaking"
	EventStoppedSpeaking EventType = "stopped_speaking"
	EventClosed          EventType = "closed"
)

// Event is one notification from the conversational engine.
type Event struct {
	Type    EventType
	Role    string
	Content transcript.Content
	Err     error
}

// Engine is the boundary to the speech-to-speech conversational model.
type Engine interface {
	// Events yields engine notifications until the engine closes.
	Events() <-chan Event
	// Speak triggers an out-of-band model response driven by the given
	// instructions (used for the scripted greeting).
	Speak(ctx context.Context, instructions string) error
	Close() error
}
