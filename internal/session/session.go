package session

import (
	"sync"
	"time"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Session holds one CLI conversation's history.
type Session struct {
	Key       string
	History   schema.History
	CreatedAt time.Time
	UpdatedAt time.Time
	// LastResponseID chains OpenAI Responses API turns.
	LastResponseID string
	ModelID        int64

	mu sync.Mutex
}

// Snapshot returns a copy of the history safe to hand to the orchestrator.
func (s *Session) Snapshot() schema.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.History.Clone()
}

// AddTurn appends a user message and the assistant's answer.
func (s *Session) AddTurn(user schema.Message, resp schema.ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, user, resp.Message())
	if resp.ResponseID != "" {
		s.LastResponseID = resp.ResponseID
	}
	s.UpdatedAt = time.Now()
}

// Clear drops all messages but keeps the session key.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = nil
	s.LastResponseID = ""
	s.UpdatedAt = time.Now()
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.History)
}
