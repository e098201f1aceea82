package runner

import (
	"sync"

	"github.com/JcJet/jds6600-controller/internal/models"
)

// State is the control block shared between the engine goroutine and its
// driver (TUI key handler, CLI signal handler). The checkpoint is cloned on
// both write and read; the engine updates it at sweep rates while readers
// poll it for display and persistence.
type State struct {
	mu         sync.Mutex
	paused     bool
	stopped    bool
	skip       bool
	checkpoint *models.Checkpoint
}

func NewState() *State { return &State{} }

func (s *State) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// TogglePause flips the pause flag and reports the new value.
func (s *State) TogglePause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = !s.paused
	return s.paused
}

func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// RequestSkip asks the engine to cut the current hold (or the whole sweep
// step) short. The flag is consumed by the first sleep that observes it.
func (s *State) RequestSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skip = true
}

func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *State) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *State) consumeSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.skip {
		return false
	}
	s.skip = false
	return true
}

func (s *State) setCheckpoint(c *models.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = c.Clone()
}

func (s *State) clearCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = nil
}

// Checkpoint returns a clone of the latest checkpoint, or nil when the run
// has completed or been stopped.
func (s *State) Checkpoint() *models.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint.Clone()
}
