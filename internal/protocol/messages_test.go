package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseCommandStart(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"start_simulation"}`))
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if _, ok := cmd.(StartSimulation); !ok {
		t.Fatalf("ParseCommand() = %T, want StartSimulation", cmd)
	}
}

func TestParseCommandEnd(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"end_simulation"}`))
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if _, ok := cmd.(EndSimulation); !ok {
		t.Fatalf("ParseCommand() = %T, want EndSimulation", cmd)
	}
}

func TestParseCommandUnknownType(t *testing.T) {
	_, err := ParseCommand([]byte(`{"type":"reboot"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseCommandInvalidJSON(t *testing.T) {
	_, err := ParseCommand([]byte(`{`))
	if err == nil || errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want envelope error", err)
	}
}

func TestTranscriptionReplaceOmittedWhenFalse(t *testing.T) {
	payload, err := json.Marshal(Transcription{Type: TypeTranscription, Role: "ai", Text: "Oi"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(payload), "replace") {
		t.Fatalf("replace field should be omitted: %s", payload)
	}

	payload, _ = json.Marshal(Transcription{Type: TypeTranscription, Role: "ai", Text: "Oi", Replace: true})
	if !strings.Contains(string(payload), `"replace":true`) {
		t.Fatalf("replace field missing: %s", payload)
	}
}

func TestRecordingReadyFlattensInfo(t *testing.T) {
	payload, err := json.Marshal(RecordingReady{
		Type:          TypeRecordingReady,
		RecordingInfo: RecordingInfo{EgressID: "eg-1", Filepath: "a/b.mp4", S3URL: "https://x/a/b.mp4"},
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m["egress_id"] != "eg-1" || m["filepath"] != "a/b.mp4" || m["s3_url"] != "https://x/a/b.mp4" {
		t.Fatalf("recording fields not flattened: %s", payload)
	}
}

func TestAutoEndOmitsNilRecording(t *testing.T) {
	payload, _ := json.Marshal(AutoEndSimulation{Type: TypeAutoEndSimulation, Reason: "ai_ended"})
	if strings.Contains(string(payload), "recording") {
		t.Fatalf("nil recording should be omitted: %s", payload)
	}
}
