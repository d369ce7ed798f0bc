package transcript

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lfabra/rolecall/internal/protocol"
	"github.com/lfabra/rolecall/internal/roleplay"
)

const publishTimeout = 5 * time.Second

// Publisher delivers a serialized notification over the room data channel.
// Delivery is best-effort: the ledger logs and swallows publish errors.
type Publisher interface {
	PublishData(ctx context.Context, payload []byte) error
}

// Turn is one utterance in the conversation, in arrival order.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// wireRole maps internal roles to the client-facing role labels.
func wireRole(role string) string {
	if role == RoleAssistant {
		return "ai"
	}
	return role
}

// Ledger is the ordered, deduplicated transcript for one session. The engine
// delivers both a fast committed-speech event and a slower conversation-item
// event for the same utterance; the merge rules here collapse the two streams
// into exactly one canonical entry per utterance.
type Ledger struct {
	mu        sync.Mutex
	roomName  string
	publisher Publisher

	turns    []Turn
	lastUser string
	lastAI   string
	pending  string
}

func NewLedger(roomName string, publisher Publisher) *Ledger {
	return &Ledger{roomName: roomName, publisher: publisher}
}

// AddUserUtterance records a user turn. Texts under two trimmed characters
// or equal to the previously accepted user text are rejected.
func (l *Ledger) AddUserUtterance(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < 2 {
		return false
	}

	l.mu.Lock()
	if text == l.lastUser {
		l.mu.Unlock()
		return false
	}
	l.lastUser = text
	l.turns = append(l.turns, Turn{Role: RoleUser, Content: text})
	l.mu.Unlock()

	log.Printf("transcript[%s] user: %s", l.roomName, text)
	l.send(protocol.Transcription{Type: protocol.TypeTranscription, Role: wireRole(RoleUser), Text: text})
	return true
}

// AddAssistantUtterance records an assistant turn, resolving overlapping
// deliveries. Precedence: termination marker, exact duplicate, stale
// fragment, superseding correction, then plain append.
func (l *Ledger) AddAssistantUtterance(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < 2 {
		return false
	}

	if strings.Contains(text, roleplay.EndMarker) {
		l.flushPending()
		display := strings.TrimSpace(strings.ReplaceAll(text, roleplay.EndMarker, ""))
		if display != "" {
			l.processAssistant(display)
		}
		return true
	}

	l.mu.Lock()
	if text == l.lastAI {
		l.mu.Unlock()
		return false
	}
	if l.lastAI != "" && strings.Contains(l.lastAI, text) {
		// A partial fragment arriving after the full text: drop it.
		l.mu.Unlock()
		return false
	}
	if l.lastAI != "" && strings.Contains(text, l.lastAI) {
		// The fuller version of the previous entry: replace in place.
		l.lastAI = text
		if n := len(l.turns); n > 0 && l.turns[n-1].Role == RoleAssistant {
			l.turns[n-1].Content = text
			l.mu.Unlock()
			l.send(protocol.Transcription{Type: protocol.TypeTranscription, Role: wireRole(RoleAssistant), Text: text, Replace: true})
			return false
		}
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	return l.processAssistant(text)
}

func (l *Ledger) processAssistant(text string) bool {
	l.mu.Lock()
	if text == l.lastAI {
		l.mu.Unlock()
		return false
	}
	l.lastAI = text
	l.turns = append(l.turns, Turn{Role: RoleAssistant, Content: text})
	l.mu.Unlock()

	log.Printf("transcript[%s] assistant: %s", l.roomName, text)
	l.send(protocol.Transcription{Type: protocol.TypeTranscription, Role: wireRole(RoleAssistant), Text: text})
	return false
}

func (l *Ledger) flushPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = ""
	l.mu.Unlock()
	if pending != "" {
		l.processAssistant(pending)
	}
}

// ContainsEndSignal reports whether the text carries the termination marker.
func (l *Ledger) ContainsEndSignal(text string) bool {
	return strings.Contains(text, roleplay.EndMarker)
}

// Snapshot returns an independent copy of the recorded turns.
func (l *Ledger) Snapshot() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len reports the number of recorded turns.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

func (l *Ledger) SendStatus(status protocol.MessageType) {
	l.send(protocol.Status{Type: status})
}

func (l *Ledger) SendError(message string) {
	l.send(protocol.EvaluationError{Type: protocol.TypeEvaluationError, Message: message})
}

func (l *Ledger) SendEvaluation(data json.RawMessage, recording *protocol.RecordingInfo) {
	l.send(protocol.Evaluation{Type: protocol.TypeEvaluation, Data: data, Recording: recording})
}

func (l *Ledger) SendAutoEnd(recording *protocol.RecordingInfo) {
	log.Printf("transcript[%s] model requested hang-up", l.roomName)
	l.send(protocol.AutoEndSimulation{Type: protocol.TypeAutoEndSimulation, Reason: "ai_ended", Recording: recording})
}

func (l *Ledger) SendRecordingReady(info protocol.RecordingInfo) {
	l.send(protocol.RecordingReady{Type: protocol.TypeRecordingReady, RecordingInfo: info})
}

func (l *Ledger) send(msg any) {
	if l.publisher == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("transcript[%s] marshal notification: %v", l.roomName, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := l.publisher.PublishData(ctx, payload); err != nil {
		log.Printf("transcript[%s] publish failed: %v", l.roomName, err)
	}
}
