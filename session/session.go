// Package session tracks conversational assessment state: the ordered
// turn log and a per-question finite state machine with accumulated
// field evidence. State is explicit; nothing is re-derived from the raw
// transcript.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is a single persisted conversation turn.
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the per-question assessment state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

// FieldEvidence is the best evidence accumulated for one required field.
type FieldEvidence struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Satisfied  bool    `json:"satisfied"`
}

// QuestionProgress holds the finite state for one question within a
// session. Transitions are restricted: not_started → in_progress →
// complete; complete → in_progress only via BeginEdit; complete →
// not_started only via Reset after a tombstone has been written.
type QuestionProgress struct {
	QuestionID string                   `json:"question_id"`
	Fields     map[string]FieldEvidence `json:"fields"`
	Status     Status                   `json:"status"`

	// Score is the completeness score, 0-100.
	Score int `json:"completeness_score"`

	// Confirmed records that a near-threshold confirmation prompt was
	// already issued; at most one is ever asked per question.
	Confirmed bool `json:"confirmed,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewQuestionProgress creates empty progress for a question.
func NewQuestionProgress(questionID string) *QuestionProgress {
	return &QuestionProgress{
		QuestionID: questionID,
		Fields:     make(map[string]FieldEvidence),
		Status:     StatusNotStarted,
	}
}

// ErrInvalidTransition is returned for a disallowed status change.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Begin moves the question into in_progress on first evidence or first
// prompt. A no-op when already in progress.
func (p *QuestionProgress) Begin(now time.Time) error {
	switch p.Status {
	case StatusNotStarted:
		p.Status = StatusInProgress
		p.LastUpdated = now
		return nil
	case StatusInProgress:
		return nil
	default:
		return &ErrInvalidTransition{From: p.Status, To: StatusInProgress}
	}
}

// MarkComplete moves an in-progress question to complete.
func (p *QuestionProgress) MarkComplete(now time.Time) error {
	if p.Status != StatusInProgress {
		return &ErrInvalidTransition{From: p.Status, To: StatusComplete}
	}
	p.Status = StatusComplete
	p.LastUpdated = now
	return nil
}

// BeginEdit reopens a complete question for the named field. The
// field's evidence is cleared so the score visibly drops until the
// value is re-confirmed.
func (p *QuestionProgress) BeginEdit(field string, now time.Time) error {
	if p.Status != StatusComplete {
		return &ErrInvalidTransition{From: p.Status, To: StatusInProgress}
	}
	if _, ok := p.Fields[field]; !ok {
		return fmt.Errorf("question %s has no evidence for field %s", p.QuestionID, field)
	}
	delete(p.Fields, field)
	p.Status = StatusInProgress
	p.Confirmed = false
	p.LastUpdated = now
	return nil
}

// Reset returns a complete question to not_started. Callers must write
// the tombstone answer version before invoking this.
func (p *QuestionProgress) Reset(now time.Time) error {
	if p.Status != StatusComplete {
		return &ErrInvalidTransition{From: p.Status, To: StatusNotStarted}
	}
	p.Fields = make(map[string]FieldEvidence)
	p.Status = StatusNotStarted
	p.Score = 0
	p.Confirmed = false
	p.LastUpdated = now
	return nil
}

// SatisfiedCount returns how many fields are currently satisfied.
func (p *QuestionProgress) SatisfiedCount() int {
	n := 0
	for _, ev := range p.Fields {
		if ev.Satisfied {
			n++
		}
	}
	return n
}

// Known returns the satisfied field values, keyed by field name.
func (p *QuestionProgress) Known() map[string]string {
	out := make(map[string]string)
	for name, ev := range p.Fields {
		if ev.Satisfied {
			out[name] = ev.Value
		}
	}
	return out
}

// Clone returns a deep copy of the progress.
func (p *QuestionProgress) Clone() *QuestionProgress {
	cp := *p
	cp.Fields = make(map[string]FieldEvidence, len(p.Fields))
	for k, v := range p.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// Session is one assessment conversation. Progress is created lazily
// per question on first reference.
type Session struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`

	// Progress maps question id to per-question state.
	Progress map[string]*QuestionProgress `json:"progress"`

	// ActiveQuestion is the question currently being gathered.
	ActiveQuestion string `json:"active_question,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session with a generated id.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        fmt.Sprintf("s-%s", uuid.New().String()[:8]),
		Progress:  make(map[string]*QuestionProgress),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn records a turn at the end of the ordered log.
func (s *Session) AppendTurn(speaker Speaker, text string) Turn {
	turn := Turn{
		ID:        fmt.Sprintf("t-%s", uuid.New().String()[:8]),
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.Timestamp
	return turn
}

// Window returns up to n most recent turns in chronological order.
func (s *Session) Window(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// ProgressFor returns the progress for a question, creating it lazily.
func (s *Session) ProgressFor(questionID string) *QuestionProgress {
	if s.Progress == nil {
		s.Progress = make(map[string]*QuestionProgress)
	}
	p, ok := s.Progress[questionID]
	if !ok {
		p = NewQuestionProgress(questionID)
		s.Progress[questionID] = p
	}
	return p
}

// CompletedSet returns the ids of questions currently complete.
func (s *Session) CompletedSet() map[string]bool {
	out := make(map[string]bool)
	for id, p := range s.Progress {
		if p.Status == StatusComplete {
			out[id] = true
		}
	}
	return out
}
