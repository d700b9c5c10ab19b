// Package conversation owns per-session turn history. A State is mutated only by
// appending a completed turn; turn processing for one session is serialised by
// Acquire.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// DefaultMaxTurns bounds a session's history when no limit is configured.
const DefaultMaxTurns = 50

// State is the ordered turn history of one session.
type State struct {
	sessionID string
	maxTurns  int

	// turn is a one-slot semaphore held for the whole of a turn.
	turn chan struct{}

	mu     sync.RWMutex
	turns  []models.Turn
	nextID int
}

// NewState creates an empty history bounded to the last maxTurns turns.
func NewState(sessionID string, maxTurns int) *State {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &State{
		sessionID: sessionID,
		maxTurns:  maxTurns,
		turn:      make(chan struct{}, 1),
		nextID:    1,
	}
}

// SessionID returns the session the state belongs to.
func (s *State) SessionID() string {
	return s.sessionID
}

// Acquire blocks until no other turn is in progress for this session, or ctx ends.
// The returned release func must be called exactly once.
func (s *State) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.turn <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.turn }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Append records a completed turn, assigning its ID. The oldest turns are
// dropped once the history exceeds its bound.
func (s *State) Append(turn models.Turn) models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn.ID = s.nextID
	s.nextID++
	turn.Entities = append(models.Entities(nil), turn.Entities...)

	s.turns = append(s.turns, turn)
	if over := len(s.turns) - s.maxTurns; over > 0 {
		s.turns = append([]models.Turn(nil), s.turns[over:]...)
	}
	return turn
}

// Latest returns the entities for role from the most recent turn that set it.
func (s *State) Latest(role models.Role) []models.ResolvedEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.turns) - 1; i >= 0; i-- {
		if found := s.turns[i].Entities.All(role); len(found) > 0 {
			return found
		}
	}
	return nil
}

// LatestTurn returns the most recent turn.
func (s *State) LatestTurn() (models.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.turns) == 0 {
		return models.Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// Turns returns a copy of the history, oldest first.
func (s *State) Turns() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Turn(nil), s.turns...)
}

// Len returns the number of turns held.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear drops the history. Turn IDs keep increasing.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

type snapshot struct {
	SessionID string        `json:"session_id"`
	NextID    int           `json:"next_id"`
	Turns     []models.Turn `json:"turns"`
}

// Snapshot serialises the history for session resumption.
func (s *State) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(snapshot{SessionID: s.sessionID, NextID: s.nextID, Turns: s.turns})
	if err != nil {
		return nil, fmt.Errorf("marshal conversation snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the history with a snapshot taken by Snapshot.
func (s *State) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal conversation snapshot: %w", err)
	}
	if snap.SessionID != "" && snap.SessionID != s.sessionID {
		return fmt.Errorf("snapshot belongs to session %s, not %s", snap.SessionID, s.sessionID)
	}

	turns := snap.Turns
	if over := len(turns) - s.maxTurns; over > 0 {
		turns = turns[over:]
	}
	next := snap.NextID
	for _, t := range turns {
		if t.ID >= next {
			next = t.ID + 1
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append([]models.Turn(nil), turns...)
	if next > s.nextID {
		s.nextID = next
	}
	return nil
}
