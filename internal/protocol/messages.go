package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies data-channel payload variants.
type MessageType string

const (
	// Client -> agent commands.
	TypeStartSimulation MessageType = "start_simulation"
	TypeEndSimulation   MessageType = "end_simulation"

	// Agent -> client notifications.
	TypeTranscription     MessageType = "transcription"
	TypeAgentSpeaking     MessageType = "agent_speaking"
	TypeAgentListening    MessageType = "agent_listening"
	TypeAutoEndSimulation MessageType = "auto_end_simulation"
	TypeRecordingReady    MessageType = "recording_ready"
	TypeEvaluation        MessageType = "evaluation"
	TypeEvaluationError   MessageType = "evaluation_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StartSimulation asks the agent to begin the call: start the recording job
// and speak the configured greeting.
type StartSimulation struct {
	Type MessageType `json:"type"`
}

// EndSimulation asks the agent to terminate the call: stop the recording job
// and produce the evaluation.
type EndSimulation struct {
	Type MessageType `json:"type"`
}

// RecordingInfo describes a finished (or running) egress recording job.
type RecordingInfo struct {
	EgressID string `json:"egress_id"`
	Filepath string `json:"filepath"`
	S3URL    string `json:"s3_url"`
}

// Transcription carries one normalized transcript entry. Replace marks an
// in-place correction of the previous assistant entry.
type Transcription struct {
	Type    MessageType `json:"type"`
	Role    string      `json:"role"`
	Text    string      `json:"text"`
	Replace bool        `json:"replace,omitempty"`
}

// Status is a bare turn-taking broadcast (agent_speaking / agent_listening).
type Status struct {
	Type MessageType `json:"type"`
}

type AutoEndSimulation struct {
	Type      MessageType    `json:"type"`
	Reason    string         `json:"reason"`
	Recording *RecordingInfo `json:"recording,omitempty"`
}

type RecordingReady struct {
	Type MessageType `json:"type"`
	RecordingInfo
}

type Evaluation struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Recording *RecordingInfo  `json:"recording,omitempty"`
}

type EvaluationError struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ParseCommand decodes an inbound data-channel frame into a typed command.
// Unknown types map to ErrUnsupportedType so callers can drop them quietly.
func ParseCommand(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartSimulation:
		return StartSimulation{Type: env.Type}, nil
	case TypeEndSimulation:
		return EndSimulation{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
