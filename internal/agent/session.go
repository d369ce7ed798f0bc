package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lfabra/rolecall/internal/callstore"
	"github.com/lfabra/rolecall/internal/engine"
	"github.com/lfabra/rolecall/internal/evaluation"
	"github.com/lfabra/rolecall/internal/observability"
	"github.com/lfabra/rolecall/internal/protocol"
	"github.com/lfabra/rolecall/internal/recording"
	"github.com/lfabra/rolecall/internal/roleplay"
	"github.com/lfabra/rolecall/internal/transcript"
)

const saveCallTimeout = 5 * time.Second

// Session orchestrates one roleplay call: it consumes engine events and
// client commands on a single control flow and drives the ledger, the
// recording controller and the evaluation runner.
type Session struct {
	RoomName string
	Config   roleplay.SessionConfig

	state        *State
	ledger       *transcript.Ledger
	recorder     *recording.Controller
	evaluator    *evaluation.Runner
	eng          engine.Engine
	store        callstore.Store
	metrics      *observability.Metrics
	autoEndGrace time.Duration

	// The committed-speech stream becomes authoritative for assistant
	// utterances once the first such event arrives; conversation items
	// then only feed the user side.
	speechCommitted atomic.Bool

	bg sync.WaitGroup
}

func NewSession(
	roomName string,
	cfg roleplay.SessionConfig,
	ledger *transcript.Ledger,
	recorder *recording.Controller,
	evaluator *evaluation.Runner,
	eng engine.Engine,
	store callstore.Store,
	metrics *observability.Metrics,
	autoEndGrace time.Duration,
) *Session {
	return &Session{
		RoomName:     roomName,
		Config:       cfg,
		state:        &State{},
		ledger:       ledger,
		recorder:     recorder,
		evaluator:    evaluator,
		eng:          eng,
		store:        store,
		metrics:      metrics,
		autoEndGrace: autoEndGrace,
	}
}

// Run consumes commands and engine events until the context is canceled or
// both channels close. Long-running work (recording start/stop, greeting,
// evaluation) is dispatched to background tasks so this loop never blocks on
// a network round trip; Run waits for those tasks before returning.
func (s *Session) Run(ctx context.Context, commands <-chan any) error {
	defer s.bg.Wait()
	events := s.eng.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				if events == nil {
					return nil
				}
				continue
			}
			s.handleCommand(ctx, cmd)
		case evt, ok := <-events:
			if !ok {
				events = nil
				if commands == nil {
					return nil
				}
				continue
			}
			s.handleEngineEvent(ctx, evt)
		}
	}
}

// Close releases the engine connection.
func (s *Session) Close() error {
	return s.eng.Close()
}

func (s *Session) handleCommand(ctx context.Context, cmd any) {
	switch cmd.(type) {
	case protocol.StartSimulation:
		if !s.state.BeginStart() {
			return
		}
		log.Printf("agent[%s] simulation started", s.RoomName)
		s.countEvent("simulation_started")
		s.background(func() { s.startRecordingAndGreet(ctx) })
	case protocol.EndSimulation:
		if !s.state.BeginEnding() {
			return
		}
		log.Printf("agent[%s] simulation ended by user", s.RoomName)
		s.countEvent("simulation_ended")
		s.background(func() { s.stopRecordingAndEvaluate(ctx, "user_ended") })
	default:
		log.Printf("agent[%s] dropping unrecognized command %T", s.RoomName, cmd)
	}
}

func (s *Session) handleEngineEvent(ctx context.Context, evt engine.Event) {
	switch evt.Type {
	case engine.EventUserTranscribed:
		if text, ok := evt.Content.Normalize(); ok {
			s.ledger.AddUserUtterance(text)
		}
	case engine.EventAssistantCommitted:
		s.speechCommitted.Store(true)
		if text, ok := evt.Content.Normalize(); ok {
			s.ingestAssistant(ctx, text)
		}
	case engine.EventItemAdded:
		text, ok := evt.Content.Normalize()
		if !ok {
			return
		}
		switch evt.Role {
		case transcript.RoleUser:
			s.ledger.AddUserUtterance(text)
		case transcript.RoleAssistant:
			if s.speechCommitted.Load() {
				return
			}
			s.ingestAssistant(ctx, text)
		}
	case engine.EventStartedSpeaking:
		s.ledger.SendStatus(protocol.TypeAgentSpeaking)
	case engine.EventStoppedSpeaking:
		s.ledger.SendStatus(protocol.TypeAgentListening)
	case engine.EventClosed:
		if evt.Err != nil {
			log.Printf("agent[%s] engine closed: %v", s.RoomName, evt.Err)
		}
	}
}

// ingestAssistant records an assistant utterance, triggering the auto-end
// sequence at most once when the termination marker is present.
func (s *Session) ingestAssistant(ctx context.Context, text string) {
	if !s.ledger.ContainsEndSignal(text) {
		s.ledger.AddAssistantUtterance(text)
		return
	}
	if !s.state.BeginEnding() {
		return
	}
	s.ledger.AddAssistantUtterance(text)
	s.ledger.SendAutoEnd(nil)
	s.countEvent("auto_end")
	s.background(func() { s.handleAutoEnd(ctx) })
}

// startRecordingAndGreet starts the egress job, then has the engine speak
// the configured greeting. The recording start fully resolves, success or
// failure, before the greeting instruction is issued.
func (s *Session) startRecordingAndGreet(ctx context.Context) {
	if s.recorder.Start(ctx) {
		log.Printf("agent[%s] recording started", s.RoomName)
	} else {
		log.Printf("agent[%s] recording not started, continuing without", s.RoomName)
	}

	instructions := fmt.Sprintf("Você está atendendo uma ligação. Diga EXATAMENTE: %q - Não adicione nada antes ou depois.", s.Config.Greeting)
	if err := s.eng.Speak(ctx, instructions); err != nil {
		log.Printf("agent[%s] greeting failed: %v", s.RoomName, err)
	}
}

// handleAutoEnd waits a short grace period so trailing audio and transcript
// events can flush, then runs the normal termination sequence.
func (s *Session) handleAutoEnd(ctx context.Context) {
	if s.autoEndGrace > 0 {
		timer := time.NewTimer(s.autoEndGrace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.stopRecordingAndEvaluate(ctx, "ai_ended")
}

func (s *Session) stopRecordingAndEvaluate(ctx context.Context, reason string) {
	res := s.recorder.Stop(ctx)

	var rec *protocol.RecordingInfo
	if res.Success {
		rec = &protocol.RecordingInfo{EgressID: res.EgressID, Filepath: res.Filepath, S3URL: res.S3URL}
		log.Printf("agent[%s] recording available: %s", s.RoomName, res.S3URL)
		s.ledger.SendRecordingReady(*rec)
	}

	data, err := s.evaluator.Run(ctx, s.ledger, s.Config, rec)
	if err != nil {
		// Already published as evaluation_error; the call record is
		// still saved without an evaluation.
		data = nil
	}

	s.saveCallBestEffort(data, rec, reason)
}

func (s *Session) saveCallBestEffort(evaluationData json.RawMessage, rec *protocol.RecordingInfo, reason string) {
	if s.store == nil {
		return
	}

	record := callstore.Record{
		RoomName:   s.RoomName,
		SessionID:  s.Config.SessionID,
		RoleplayID: s.Config.RoleplayID,
		CustomerID: s.Config.CustomerID,
		UserID:     s.Config.UserID,
		Turns:      s.ledger.Snapshot(),
		Evaluation: evaluationData,
		EndReason:  reason,
	}
	if rec != nil {
		record.EgressID = rec.EgressID
		record.S3URL = rec.S3URL
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveCallTimeout)
	defer cancel()
	if err := s.store.SaveCall(ctx, record); err != nil {
		log.Printf("agent[%s] save call failed: %v", s.RoomName, err)
	}
}

func (s *Session) background(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

func (s *Session) countEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
