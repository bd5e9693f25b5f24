package session

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

func TestStatusTransitions(t *testing.T) {
	p := NewQuestionProgress("backups_frequency")
	if p.Status != StatusNotStarted {
		t.Fatalf("new progress should be not_started, got %s", p.Status)
	}

	if err := p.Begin(now); err != nil {
		t.Fatalf("not_started -> in_progress: %v", err)
	}
	if err := p.Begin(now); err != nil {
		t.Fatalf("Begin on in_progress should be a no-op: %v", err)
	}
	if err := p.MarkComplete(now); err != nil {
		t.Fatalf("in_progress -> complete: %v", err)
	}
	if p.Status != StatusComplete {
		t.Fatalf("expected complete, got %s", p.Status)
	}
}

func TestIllegalTransitions(t *testing.T) {
	// complete cannot Begin.
	p := NewQuestionProgress("q")
	_ = p.Begin(now)
	_ = p.MarkComplete(now)
	if err := p.Begin(now); err == nil {
		t.Error("complete -> in_progress via Begin should fail")
	}

	// not_started cannot complete.
	p = NewQuestionProgress("q")
	if err := p.MarkComplete(now); err == nil {
		t.Error("not_started -> complete should fail")
	}

	// not_started cannot be edited or reset.
	if err := p.BeginEdit("f", now); err == nil {
		t.Error("BeginEdit on not_started should fail")
	}
	if err := p.Reset(now); err == nil {
		t.Error("Reset on not_started should fail")
	}

	var invalid *ErrInvalidTransition
	err := NewQuestionProgress("q").MarkComplete(now)
	if !errors.As(err, &invalid) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestBeginEditClearsField(t *testing.T) {
	p := NewQuestionProgress("q")
	_ = p.Begin(now)
	p.Fields["frequency"] = FieldEvidence{Value: "daily", Confidence: 0.9, Satisfied: true}
	p.Fields["offsite"] = FieldEvidence{Value: "yes", Confidence: 0.8, Satisfied: true}
	_ = p.MarkComplete(now)

	if err := p.BeginEdit("frequency", now); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	if p.Status != StatusInProgress {
		t.Errorf("expected in_progress after edit, got %s", p.Status)
	}
	if _, ok := p.Fields["frequency"]; ok {
		t.Error("edited field evidence should be cleared")
	}
	if _, ok := p.Fields["offsite"]; !ok {
		t.Error("untouched field evidence must survive an edit")
	}
}

func TestBeginEditUnknownField(t *testing.T) {
	p := NewQuestionProgress("q")
	_ = p.Begin(now)
	p.Fields["a"] = FieldEvidence{Value: "v", Confidence: 0.9, Satisfied: true}
	_ = p.MarkComplete(now)

	if err := p.BeginEdit("missing", now); err == nil {
		t.Error("editing a field with no evidence should fail")
	}
}

func TestResetClearsEverything(t *testing.T) {
	p := NewQuestionProgress("q")
	_ = p.Begin(now)
	p.Fields["a"] = FieldEvidence{Value: "v", Confidence: 0.9, Satisfied: true}
	p.Score = 100
	p.Confirmed = true
	_ = p.MarkComplete(now)

	if err := p.Reset(now); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if p.Status != StatusNotStarted || p.Score != 0 || p.Confirmed || len(p.Fields) != 0 {
		t.Errorf("Reset left residual state: %+v", p)
	}
}

func TestKnownAndSatisfiedCount(t *testing.T) {
	p := NewQuestionProgress("q")
	p.Fields["a"] = FieldEvidence{Value: "v1", Confidence: 0.9, Satisfied: true}
	p.Fields["b"] = FieldEvidence{Value: "v2", Confidence: 0.4, Satisfied: false}

	if n := p.SatisfiedCount(); n != 1 {
		t.Errorf("SatisfiedCount = %d, want 1", n)
	}
	known := p.Known()
	if len(known) != 1 || known["a"] != "v1" {
		t.Errorf("Known() = %v", known)
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := NewQuestionProgress("q")
	p.Fields["a"] = FieldEvidence{Value: "v", Confidence: 0.9, Satisfied: true}

	cp := p.Clone()
	cp.Fields["a"] = FieldEvidence{Value: "mutated", Confidence: 0.1}
	cp.Fields["b"] = FieldEvidence{Value: "new"}

	if p.Fields["a"].Value != "v" || len(p.Fields) != 1 {
		t.Error("Clone shares field map with original")
	}
}

func TestSessionTurnOrdering(t *testing.T) {
	s := NewSession()
	if s.ID == "" {
		t.Fatal("session id not generated")
	}

	s.AppendTurn(SpeakerUser, "first")
	s.AppendTurn(SpeakerAssistant, "second")
	s.AppendTurn(SpeakerUser, "third")

	if len(s.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(s.Turns))
	}
	if s.Turns[0].Text != "first" || s.Turns[2].Text != "third" {
		t.Error("turn order not preserved")
	}

	window := s.Window(2)
	if len(window) != 2 || window[0].Text != "second" {
		t.Errorf("Window(2) = %+v", window)
	}
	if len(s.Window(0)) != 3 || len(s.Window(10)) != 3 {
		t.Error("Window should return all turns when n is 0 or exceeds length")
	}
}

func TestProgressForIsLazy(t *testing.T) {
	s := NewSession()
	if len(s.Progress) != 0 {
		t.Fatal("new session should have no progress entries")
	}

	p := s.ProgressFor("q1")
	if p.QuestionID != "q1" || p.Status != StatusNotStarted {
		t.Errorf("lazy progress wrong: %+v", p)
	}
	if s.ProgressFor("q1") != p {
		t.Error("ProgressFor should return the same instance")
	}
}

func TestCompletedSet(t *testing.T) {
	s := NewSession()
	a := s.ProgressFor("a")
	_ = a.Begin(now)
	_ = a.MarkComplete(now)
	s.ProgressFor("b")

	done := s.CompletedSet()
	if !done["a"] || done["b"] {
		t.Errorf("CompletedSet = %v", done)
	}
}
