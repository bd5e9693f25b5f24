// Package engine implements the conversational assessment engine: it
// decides per turn whether a compliance question is fully answered,
// plans the next follow-up when it is not, and commits finalized
// answers with an audit trail once it is.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cumplia/enscope/answers"
	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/llm"
	"github.com/cumplia/enscope/session"
)

// ErrQuestionNotFound is returned for an unknown question id.
var ErrQuestionNotFound = errors.New("question not found")

// SessionStore is the session persistence the engine needs.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session) error
	Load(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
}

// AnswerStore is the answer persistence the engine needs.
type AnswerStore interface {
	Commit(ctx context.Context, questionID string, domain catalog.Domain, fields map[string]string, score int) (*answers.Record, error)
	Get(ctx context.Context, questionID string) (*answers.Record, error)
	History(ctx context.Context, questionID string) ([]*answers.Record, error)
	Delete(ctx context.Context, questionID, confirmToken string) (*answers.Record, error)
	AllLatest(ctx context.Context) (map[string]*answers.Record, error)
}

// TurnStatus describes the outcome of a submitted turn.
type TurnStatus string

const (
	// TurnInProgress means the active question still needs fields.
	TurnInProgress TurnStatus = "in_progress"
	// TurnQuestionComplete means the active question just completed
	// and an answer version was committed.
	TurnQuestionComplete TurnStatus = "question_complete"
	// TurnAssessmentComplete means every catalog question is answered.
	TurnAssessmentComplete TurnStatus = "assessment_complete"
	// TurnDegraded means extraction was unavailable; nothing changed.
	TurnDegraded TurnStatus = "degraded"
)

// TurnResult is returned from SubmitTurn.
type TurnResult struct {
	AssistantText string     `json:"assistant_text"`
	Status        TurnStatus `json:"status"`
	QuestionID    string     `json:"question_id,omitempty"`
	Score         int        `json:"completeness_score"`
	AnswerVersion int        `json:"answer_version,omitempty"`
}

const degradedText = "Ahora mismo no puedo procesar su respuesta. " +
	"La información ya registrada está a salvo; por favor, inténtelo de nuevo en unos minutos."

// Config holds the engine policy knobs.
type Config struct {
	ConfidenceThreshold   float64
	ConfirmationMargin    float64
	WindowTurns           int
	MaxExtractionFailures int
}

// Engine orchestrates the per-turn flow: track state, evaluate
// evidence, commit on completion, otherwise plan the next follow-up.
type Engine struct {
	cat      *catalog.Catalog
	sessions SessionStore
	answers  AnswerStore
	tracker  *session.Tracker
	eval     *Evaluator
	planner  *Planner
	cfg      Config
	logger   *slog.Logger

	// failures counts consecutive extraction failures per session.
	// Kept in memory: failed turns must leave persisted state
	// untouched.
	failuresMu sync.Mutex
	failures   map[string]int
}

// New creates an engine.
func New(cat *catalog.Catalog, sessions SessionStore, answerStore AnswerStore, extractor llm.Extractor, phraser llm.Phraser, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = 6
	}
	if cfg.MaxExtractionFailures <= 0 {
		cfg.MaxExtractionFailures = 3
	}

	return &Engine{
		cat:      cat,
		sessions: sessions,
		answers:  answerStore,
		tracker:  session.NewTracker(),
		eval:     NewEvaluator(extractor, cfg.ConfidenceThreshold, logger),
		planner:  NewPlanner(phraser, cfg.ConfidenceThreshold, cfg.ConfirmationMargin, logger),
		cfg:      cfg,
		logger:   logger,
		failures: make(map[string]int),
	}
}

// StartSession creates a new session, seeds it with the opening prompt
// of the first eligible question and persists it.
func (e *Engine) StartSession(ctx context.Context) (*session.Session, error) {
	sess := session.NewSession()

	if q := e.cat.NextEligible(map[string]bool{}); q != nil {
		sess.ActiveQuestion = q.ID
		sess.AppendTurn(session.SpeakerAssistant, q.Prompt)
	}

	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.logger.Info("Session started",
		"session", sess.ID,
		"active_question", sess.ActiveQuestion)
	return sess, nil
}

// SubmitTurn processes one user turn for the session. On any failure
// the session's persisted state is exactly what it was before the call.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	release, err := e.tracker.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	turnsTotal.Inc()

	sess, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	q := e.activeQuestion(sess)
	if q == nil {
		// Every question answered; nothing to evaluate.
		return &TurnResult{
			AssistantText: "La evaluación ENS está completa. Gracias por su colaboración.",
			Status:        TurnAssessmentComplete,
		}, nil
	}

	progress := sess.ProgressFor(q.ID)

	// Evaluate against a window that includes the new turn. The session
	// itself is mutated only after extraction succeeds.
	window := buildWindow(sess.Window(e.cfg.WindowTurns-1), text)

	started := time.Now()
	updated, err := e.eval.Evaluate(ctx, q, progress, window)
	extractionSeconds.Observe(time.Since(started).Seconds())

	if err != nil {
		if errors.Is(err, ErrExtractionUnavailable) {
			return e.degraded(sessionID, q.ID, progress, err), nil
		}
		return nil, err
	}
	e.resetFailures(sessionID)

	sess.AppendTurn(session.SpeakerUser, text)
	sess.Progress[q.ID] = updated

	if AllSatisfied(q, updated) {
		prompt, err := e.planner.NextPrompt(ctx, q, updated)
		if err != nil {
			return nil, err
		}
		if prompt != nil && prompt.Confirmation {
			// One confirmation round before committing.
			updated.Confirmed = true
			sess.AppendTurn(session.SpeakerAssistant, prompt.Text)
			if err := e.sessions.Save(ctx, sess); err != nil {
				return nil, fmt.Errorf("save session: %w", err)
			}
			return &TurnResult{
				AssistantText: prompt.Text,
				Status:        TurnInProgress,
				QuestionID:    q.ID,
				Score:         updated.Score,
			}, nil
		}
		return e.complete(ctx, sess, q, updated)
	}

	prompt, err := e.planner.NextPrompt(ctx, q, updated)
	if err != nil {
		return nil, err
	}
	if prompt == nil {
		return nil, fmt.Errorf("planner returned no prompt for incomplete question %s", q.ID)
	}

	sess.AppendTurn(session.SpeakerAssistant, prompt.Text)
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &TurnResult{
		AssistantText: prompt.Text,
		Status:        TurnInProgress,
		QuestionID:    q.ID,
		Score:         updated.Score,
	}, nil
}

// complete commits the finished question and advances the session to
// the next eligible question. The answer commit happens before the
// session save: a crash in between leaves a committed answer and a
// session that will simply re-complete idempotently on the next turn.
func (e *Engine) complete(ctx context.Context, sess *session.Session, q *catalog.QuestionDefinition, p *session.QuestionProgress) (*TurnResult, error) {
	now := time.Now().UTC()
	if err := p.MarkComplete(now); err != nil {
		return nil, err
	}
	p.Score = Score(q, p)

	rec, err := e.answers.Commit(ctx, q.ID, q.Domain, p.Known(), p.Score)
	if err != nil {
		return nil, fmt.Errorf("commit answer: %w", err)
	}
	questionsCompletedTotal.WithLabelValues(string(q.Domain)).Inc()
	answerVersionsTotal.Inc()

	e.logger.Info("Question completed",
		"session", sess.ID,
		"question", q.ID,
		"version", rec.Version,
		"score", p.Score)

	reply := fmt.Sprintf("Gracias, la información sobre «%s» queda registrada.", q.ID)
	status := TurnQuestionComplete

	if next := e.cat.NextEligible(sess.CompletedSet()); next != nil {
		sess.ActiveQuestion = next.ID
		reply = reply + " " + next.Prompt
	} else {
		sess.ActiveQuestion = ""
		reply = reply + " La evaluación ENS está completa."
		status = TurnAssessmentComplete
	}
	sess.AppendTurn(session.SpeakerAssistant, reply)

	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &TurnResult{
		AssistantText: reply,
		Status:        status,
		QuestionID:    q.ID,
		Score:         p.Score,
		AnswerVersion: rec.Version,
	}, nil
}

// degraded records an extraction failure and returns the degraded-mode
// response. Nothing is persisted: progress stays byte-for-byte
// identical to its state before the failing turn.
func (e *Engine) degraded(sessionID, questionID string, p *session.QuestionProgress, cause error) *TurnResult {
	extractionFailuresTotal.Inc()
	degradedResponsesTotal.Inc()

	e.failuresMu.Lock()
	e.failures[sessionID] = e.failures[sessionID] + 1
	count := e.failures[sessionID]
	e.failuresMu.Unlock()

	level := slog.LevelWarn
	if count >= e.cfg.MaxExtractionFailures {
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "Extraction unavailable",
		"session", sessionID,
		"question", questionID,
		"consecutive_failures", count,
		"error", cause)

	return &TurnResult{
		AssistantText: degradedText,
		Status:        TurnDegraded,
		QuestionID:    questionID,
		Score:         p.Score,
	}
}

func (e *Engine) resetFailures(sessionID string) {
	e.failuresMu.Lock()
	delete(e.failures, sessionID)
	e.failuresMu.Unlock()
}

// RequestEdit reopens a completed question for one field. The field's
// evidence is cleared and the score recomputed immediately, so the
// question shows as incomplete until the value is re-confirmed.
func (e *Engine) RequestEdit(ctx context.Context, sessionID, questionID, field string) error {
	release, err := e.tracker.Acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	q := e.cat.Question(questionID)
	if q == nil {
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}
	if q.Field(field) == nil {
		return fmt.Errorf("%w: question %s has no field %s", ErrQuestionNotFound, questionID, field)
	}

	p := sess.ProgressFor(questionID)
	if err := p.BeginEdit(field, time.Now().UTC()); err != nil {
		return err
	}
	p.Score = Score(q, p)
	sess.ActiveQuestion = questionID

	e.logger.Info("Edit requested",
		"session", sessionID,
		"question", questionID,
		"field", field,
		"score", p.Score)

	return e.sessions.Save(ctx, sess)
}

// RequestDelete tombstones the question's answer and resets its
// progress. The tombstone version is written before session state
// changes so the audit trail can never miss a delete.
func (e *Engine) RequestDelete(ctx context.Context, sessionID, questionID, confirmToken string) error {
	release, err := e.tracker.Acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	if e.cat.Question(questionID) == nil {
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
	}

	rec, err := e.answers.Delete(ctx, questionID, confirmToken)
	if err != nil {
		return err
	}
	answerVersionsTotal.Inc()

	p := sess.ProgressFor(questionID)
	if p.Status == session.StatusComplete {
		if err := p.Reset(time.Now().UTC()); err != nil {
			return err
		}
	}
	// Reopen the deleted question: questions depending on it are no
	// longer eligible until it is answered again.
	sess.ActiveQuestion = questionID

	e.logger.Info("Answer deleted",
		"session", sessionID,
		"question", questionID,
		"tombstone_version", rec.Version)

	return e.sessions.Save(ctx, sess)
}

// SessionProgress returns the per-question progress for a session.
func (e *Engine) SessionProgress(ctx context.Context, sessionID string) (*session.Session, error) {
	return e.sessions.Load(ctx, sessionID)
}

// activeQuestion resolves the session's current question, advancing
// past completed ones if needed.
func (e *Engine) activeQuestion(sess *session.Session) *catalog.QuestionDefinition {
	if sess.ActiveQuestion != "" {
		if q := e.cat.Question(sess.ActiveQuestion); q != nil {
			if p, ok := sess.Progress[q.ID]; !ok || p.Status != session.StatusComplete {
				return q
			}
		}
	}
	return e.cat.NextEligible(sess.CompletedSet())
}

// buildWindow converts recent turns plus the incoming text into the
// message window handed to extraction.
func buildWindow(turns []session.Turn, newText string) []llm.Message {
	window := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := "user"
		if t.Speaker == session.SpeakerAssistant {
			role = "assistant"
		}
		window = append(window, llm.Message{Role: role, Content: t.Text})
	}
	return append(window, llm.Message{Role: "user", Content: newText})
}
