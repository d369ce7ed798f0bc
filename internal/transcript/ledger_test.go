package transcript

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/lfabra/rolecall/internal/protocol"
	"github.com/lfabra/rolecall/internal/roleplay"
)

type capturePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *capturePublisher) PublishData(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	p.payloads = append(p.payloads, cp)
	return nil
}

func (p *capturePublisher) messages(t *testing.T) []protocol.Transcription {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.Transcription
	for _, raw := range p.payloads {
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad payload %s: %v", raw, err)
		}
		if env.Type != protocol.TypeTranscription {
			continue
		}
		var msg protocol.Transcription
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("bad transcription %s: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

func TestUserUtteranceDedupAndMinLength(t *testing.T) {
	pub := &capturePublisher{}
	l := NewLedger("room-1", pub)

	if l.AddUserUtterance("a") {
		t.Fatalf("single-character utterance should be rejected")
	}
	if !l.AddUserUtterance("Bom dia") {
		t.Fatalf("first utterance should be accepted")
	}
	if l.AddUserUtterance("Bom dia") {
		t.Fatalf("duplicate utterance should be rejected")
	}
	if !l.AddUserUtterance("Tudo bem?") {
		t.Fatalf("new utterance should be accepted")
	}

	turns := l.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	msgs := pub.messages(t)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[0].Text != "Bom dia" {
		t.Fatalf("unexpected publishes: %+v", msgs)
	}
}

func TestAssistantExactDuplicateRejected(t *testing.T) {
	l := NewLedger("room-1", nil)
	l.AddAssistantUtterance("Alô?")
	l.AddAssistantUtterance("Alô?")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestAssistantStaleFragmentDropped(t *testing.T) {
	l := NewLedger("room-1", nil)
	l.AddAssistantUtterance("Oi, como vai você?")
	l.AddAssistantUtterance("como vai")
	turns := l.Snapshot()
	if len(turns) != 1 || turns[0].Content != "Oi, como vai você?" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestAssistantSupersetReplacesInPlace(t *testing.T) {
	pub := &capturePublisher{}
	l := NewLedger("room-1", pub)

	l.AddAssistantUtterance("Oi")
	l.AddAssistantUtterance("Oi, como vai?")

	turns := l.Snapshot()
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 (replace in place)", len(turns))
	}
	if turns[0].Content != "Oi, como vai?" {
		t.Fatalf("content = %q, want fuller version", turns[0].Content)
	}

	msgs := pub.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("publishes = %d, want 2", len(msgs))
	}
	if msgs[0].Replace || !msgs[1].Replace {
		t.Fatalf("replace flags = %v/%v, want false/true", msgs[0].Replace, msgs[1].Replace)
	}
	if msgs[1].Role != "ai" {
		t.Fatalf("assistant wire role = %q, want ai", msgs[1].Role)
	}
}

func TestAssistantEndMarkerStripped(t *testing.T) {
	pub := &capturePublisher{}
	l := NewLedger("room-1", pub)

	if !l.AddAssistantUtterance("Tchau! " + roleplay.EndMarker) {
		t.Fatalf("marker utterance should report the end signal")
	}

	turns := l.Snapshot()
	if len(turns) != 1 || turns[0].Content != "Tchau!" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	for _, msg := range pub.messages(t) {
		if strings.Contains(msg.Text, roleplay.EndMarker) {
			t.Fatalf("marker leaked to the client: %q", msg.Text)
		}
	}
}

func TestAssistantBareMarkerRecordsNothing(t *testing.T) {
	l := NewLedger("room-1", nil)
	if !l.AddAssistantUtterance(roleplay.EndMarker) {
		t.Fatalf("bare marker should report the end signal")
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}

func TestContainsEndSignal(t *testing.T) {
	l := NewLedger("room-1", nil)
	if !l.ContainsEndSignal("Até logo " + roleplay.EndMarker) {
		t.Fatalf("marker not detected")
	}
	if l.ContainsEndSignal("Até logo") {
		t.Fatalf("false positive")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	l := NewLedger("room-1", nil)
	l.AddUserUtterance("Bom dia")
	snap := l.Snapshot()
	snap[0].Content = "mutated"
	if l.Snapshot()[0].Content != "Bom dia" {
		t.Fatalf("snapshot mutation leaked into the ledger")
	}
}
