package agent

import "sync"

// State holds the per-session lifecycle flags. started and ending are the
// sole guards against duplicate triggering: commands and engine events for
// one session arrive on a single control flow, so a check-and-set under the
// lock is sufficient even if a future caller runs off that flow.
type State struct {
	mu      sync.Mutex
	started bool
	ending  bool
}

// BeginStart marks the session as started. Returns false when the session
// was already started (the duplicate command must be ignored).
func (s *State) BeginStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	s.ending = false
	return true
}

// BeginEnding marks the termination sequence as begun. Exactly one caller
// wins, whether the trigger was the model's end marker or an explicit
// end_simulation command.
func (s *State) BeginEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending {
		return false
	}
	s.ending = true
	return true
}

func (s *State) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *State) Ending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending
}
