package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	syncx "github.com/mind-engage/examgate/internal/sync"
)

type Clock func() time.Time

// Engine owns the lifecycle of an exam attempt: the creation gate, question
// presentation with server-side deadlines, answer/timeout advancement, and
// finalization. Every mutation path funnels through the same idempotent
// transition so state can never desynchronize from elapsed time.
type Engine struct {
	store  *SQLStore
	events *syncx.EventRepo
	now    Clock
}

func NewEngine(store *SQLStore, events *syncx.EventRepo, now Clock) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, events: events, now: now}
}

// Status is the pre-confirmation view: who the participant is, what they are
// enrolled in, and which window (if any) is open right now.
func (e *Engine) Status(ctx context.Context, participantID string) (StatusView, error) {
	p, err := e.store.GetParticipant(ctx, e.store.db, participantID)
	if err != nil {
		return StatusView{}, err
	}
	domains, err := e.store.EnrolledDomains(ctx, participantID)
	if err != nil {
		return StatusView{}, err
	}
	now := e.now().Unix()
	active, err := e.store.ActiveWindow(ctx, e.store.db, now, "")
	if err != nil {
		return StatusView{}, err
	}
	next, err := e.store.NextWindows(ctx, now, domains, 3)
	if err != nil {
		return StatusView{}, err
	}
	p.PhoneLast4 = "" // not echoed back
	return StatusView{Participant: p, Enrollments: domains, Active: active, Next: next}, nil
}

// StartOrResume runs the creation gate and either creates the attempt, resumes
// the one bound to this session, or refuses. domain may be empty, meaning
// "whatever window is open right now". The participant row is locked for the
// whole check-then-create sequence; this is the one operation that must be
// exactly-once per participant.
func (e *Engine) StartOrResume(ctx context.Context, sess Session, domain string) (Attempt, error) {
	now := e.now().Unix()

	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := e.store.participantForUpdate(ctx, tx, sess.ParticipantID)
	if err != nil {
		return Attempt{}, err
	}
	if !p.IsAllowed {
		return Attempt{}, ErrNotAllowed
	}

	eligible := func(d string) error {
		enrolled, err := e.store.IsEnrolled(ctx, tx, p.ID, d)
		if err != nil {
			return err
		}
		if !enrolled {
			return ErrNotEnrolled
		}
		// Single-domain-for-life lock.
		if p.LockedDomain != "" && p.LockedDomain != d {
			return ErrDomainLocked
		}
		return nil
	}

	// With an explicit domain the enrollment and lock verdicts come before
	// the window lookup. The empty-domain path has to resolve the window
	// first to know which domain to judge.
	if domain != "" {
		if err := eligible(domain); err != nil {
			return Attempt{}, err
		}
	}
	window, err := e.store.ActiveWindow(ctx, tx, now, domain)
	if err != nil {
		return Attempt{}, err
	}
	if window == nil {
		return Attempt{}, ErrNoOpenWindow
	}
	if domain == "" {
		domain = window.Domain
		if err := eligible(domain); err != nil {
			return Attempt{}, err
		}
	}

	qz, err := e.store.ActiveQuizForDomain(ctx, tx, domain)
	if err != nil {
		return Attempt{}, err
	}
	questions, err := e.store.OrderedQuestions(ctx, tx, qz.ID)
	if err != nil {
		return Attempt{}, err
	}
	if len(questions) == 0 {
		return Attempt{}, ErrQuizEmpty
	}

	if p.HasTakenExam {
		running, err := e.store.unfinishedAttempt(ctx, tx, p.ID)
		if errors.Is(err, ErrAttemptNotFound) {
			return Attempt{}, ErrAlreadyTaken
		}
		if err != nil {
			return Attempt{}, err
		}
		if running.SessionKey != sess.SessionKey {
			return Attempt{}, ErrAttemptElsewhere
		}
		if err := tx.Commit(); err != nil {
			return Attempt{}, err
		}
		return running, nil
	}

	a := Attempt{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		QuizID:        qz.ID,
		Domain:        domain,
		SessionKey:    sess.SessionKey,
		StartedIP:     sess.IP,
		UserAgent:     sess.UserAgent,
		StartedAt:     now,
	}
	if err := e.store.insertAttempt(ctx, tx, a); err != nil {
		return Attempt{}, err
	}
	if err := e.store.lockParticipant(ctx, tx, p.ID, domain, now); err != nil {
		return Attempt{}, err
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	e.logEvent(ctx, "attempt.started", a.ID, map[string]any{
		"participant_id": p.ID, "domain": domain, "quiz_id": qz.ID,
	})
	return a, nil
}

// CurrentQuestion resolves the attempt bound to this session, applies the
// overdue transition, and returns either the live question or the result.
func (e *Engine) CurrentQuestion(ctx context.Context, sess Session) (Progress, error) {
	a, err := e.store.LatestAttemptForSession(ctx, sess.ParticipantID, sess.SessionKey)
	if err != nil {
		return Progress{}, err
	}
	return e.progress(ctx, a)
}

// SubmitAnswer handles one submission for the current question: in-time valid
// choices score and advance; late, replayed, invalid, or skipped submissions
// resolve per the transition rules without ever wedging the pointer.
func (e *Engine) SubmitAnswer(ctx context.Context, sess Session, questionID int64, choiceID *int64, skip bool) (Progress, error) {
	a, err := e.store.LatestAttemptForSession(ctx, sess.ParticipantID, sess.SessionKey)
	if err != nil {
		return Progress{}, err
	}
	if a.IsFinished {
		return e.progress(ctx, a)
	}

	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return Progress{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, questions, qz, err := e.syncTx(ctx, tx, a.ID)
	if err != nil {
		return Progress{}, err
	}
	if a.IsFinished || a.CurrentIndex >= len(questions) {
		if err := tx.Commit(); err != nil {
			return Progress{}, err
		}
		return e.progress(ctx, a)
	}

	current := questions[a.CurrentIndex]
	if questionID != current.ID {
		// Stale or replayed POST for an already-consumed question: no-op.
		if err := tx.Commit(); err != nil {
			return Progress{}, err
		}
		return e.progress(ctx, a)
	}

	now := e.now().Unix()
	ans, err := e.store.getOrCreateAnswer(ctx, tx, a.ID, current.ID, now)
	if err != nil {
		return Progress{}, err
	}
	deadline := ans.StartedAt + int64(ClampSeconds(qz.PerQuestionSeconds))

	var scoreDelta, timeoutDelta int
	var selected *int64
	switch {
	case now >= deadline:
		// Client raced the timer; counts as a timeout, no credit.
		timeoutDelta = 1
	case skip || choiceID == nil:
		// Explicit skip, or a missing/invalid choice treated as one.
	default:
		// An unknown choice id falls through as a skip: no credit, but the
		// pointer still advances.
		for _, c := range current.Choices {
			if c.ID == *choiceID {
				selected = choiceID
				if c.IsCorrect {
					scoreDelta = 1
				}
				break
			}
		}
	}

	recorded, err := e.store.recordAnswer(ctx, tx, a.ID, current.ID, selected, now)
	if err != nil {
		return Progress{}, err
	}
	if !recorded {
		// answered_at was already set (duplicate submission); advance only.
		scoreDelta, timeoutDelta = 0, 0
	}
	if err := e.store.advanceAttempt(ctx, tx, a.ID, a.CurrentIndex+1, scoreDelta, timeoutDelta); err != nil {
		return Progress{}, err
	}

	a, err = e.store.GetAttempt(ctx, tx, a.ID)
	if err != nil {
		return Progress{}, err
	}
	finished, err := e.finalizeIfDone(ctx, tx, a, len(questions))
	if err != nil {
		return Progress{}, err
	}
	if err := tx.Commit(); err != nil {
		return Progress{}, err
	}
	if finished {
		a, _ = e.store.GetAttempt(ctx, e.store.db, a.ID)
		e.logFinish(ctx, a)
	}
	return e.progress(ctx, a)
}

// Finish is the abandonment fallback: finalize normally when all questions
// are consumed, otherwise close forcibly so no attempt dangles.
func (e *Engine) Finish(ctx context.Context, sess Session) (ResultView, error) {
	a, err := e.store.LatestAttemptForSession(ctx, sess.ParticipantID, sess.SessionKey)
	if err != nil {
		return ResultView{}, err
	}
	if a.IsFinished {
		return e.result(ctx, a)
	}

	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return ResultView{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, _, _, err = e.syncTx(ctx, tx, a.ID)
	if err != nil {
		return ResultView{}, err
	}
	if !a.IsFinished {
		if err := e.forceFinishTx(ctx, tx, a.ID); err != nil {
			return ResultView{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ResultView{}, err
	}
	a, err = e.store.GetAttempt(ctx, e.store.db, a.ID)
	if err != nil {
		return ResultView{}, err
	}
	e.logFinish(ctx, a)
	return e.result(ctx, a)
}

// ForceFinish is the staff override. Idempotent: finishing a terminal or
// missing attempt is a no-op.
func (e *Engine) ForceFinish(ctx context.Context, attemptID string) error {
	a, err := e.store.GetAttempt(ctx, e.store.db, attemptID)
	if errors.Is(err, ErrAttemptNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if a.IsFinished {
		return nil
	}
	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.forceFinishTx(ctx, tx, attemptID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logEvent(ctx, "attempt.force_finished", attemptID, nil)
	return nil
}

// Reset deletes the attempt with its answers and unlocks the participant, all
// in one transaction. The only operation that un-gates a participant.
func (e *Engine) Reset(ctx context.Context, attemptID string) error {
	a, err := e.store.GetAttempt(ctx, e.store.db, attemptID)
	if errors.Is(err, ErrAttemptNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := e.store.deleteAttempt(ctx, tx, a.ID); err != nil {
		return err
	}
	if err := e.store.unlockParticipant(ctx, tx, a.ParticipantID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logEvent(ctx, "attempt.reset", attemptID, map[string]any{"participant_id": a.ParticipantID})
	return nil
}

// ---- internal transitions ----

// syncTx is the single advance-if-overdue transition invoked before any read
// or write touches an attempt. It lazily anchors the current question's
// deadline, times it out at most once when elapsed, and finalizes when the
// question list is exhausted or empty.
func (e *Engine) syncTx(ctx context.Context, tx *sql.Tx, attemptID string) (Attempt, []Question, Quiz, error) {
	a, err := e.store.GetAttempt(ctx, tx, attemptID)
	if err != nil {
		return Attempt{}, nil, Quiz{}, err
	}
	qz, err := e.store.GetQuiz(ctx, tx, a.QuizID)
	if err != nil {
		return Attempt{}, nil, Quiz{}, err
	}
	questions, err := e.store.OrderedQuestions(ctx, tx, a.QuizID)
	if err != nil {
		return Attempt{}, nil, Quiz{}, err
	}
	if a.IsFinished {
		return a, questions, qz, nil
	}

	now := e.now().Unix()
	if len(questions) == 0 {
		// Misconfiguration discovered mid-flow: close rather than strand.
		if err := e.store.finalizeAttempt(ctx, tx, a.ID, 0, ReasonForced, now); err != nil {
			return Attempt{}, nil, Quiz{}, err
		}
		a, err = e.store.GetAttempt(ctx, tx, a.ID)
		return a, questions, qz, err
	}

	if a.CurrentIndex < len(questions) {
		current := questions[a.CurrentIndex]
		ans, err := e.store.getOrCreateAnswer(ctx, tx, a.ID, current.ID, now)
		if err != nil {
			return Attempt{}, nil, Quiz{}, err
		}
		deadline := ans.StartedAt + int64(ClampSeconds(qz.PerQuestionSeconds))
		if now >= deadline {
			// recordAnswer is the arbiter under concurrency: a parallel
			// transaction may settle this answer between our read and the
			// row lock, and only the writer that flips answered_at owns the
			// timeout. The pointer still advances either way so a settled
			// question can never wedge the attempt.
			recorded, err := e.store.recordAnswer(ctx, tx, a.ID, current.ID, nil, now)
			if err != nil {
				return Attempt{}, nil, Quiz{}, err
			}
			timeoutDelta := 0
			if recorded {
				timeoutDelta = 1
			}
			if err := e.store.advanceAttempt(ctx, tx, a.ID, a.CurrentIndex+1, 0, timeoutDelta); err != nil {
				return Attempt{}, nil, Quiz{}, err
			}
			a, err = e.store.GetAttempt(ctx, tx, a.ID)
			if err != nil {
				return Attempt{}, nil, Quiz{}, err
			}
		}
	}

	if _, err := e.finalizeIfDone(ctx, tx, a, len(questions)); err != nil {
		return Attempt{}, nil, Quiz{}, err
	}
	a, err = e.store.GetAttempt(ctx, tx, a.ID)
	return a, questions, qz, err
}

func (e *Engine) finalizeIfDone(ctx context.Context, tx *sql.Tx, a Attempt, total int) (bool, error) {
	if a.IsFinished || a.CurrentIndex < total {
		return false, nil
	}
	score, err := e.store.CorrectCount(ctx, tx, a.ID)
	if err != nil {
		return false, err
	}
	reason := ReasonNormal
	if a.TimedOutCount > 0 {
		reason = ReasonTimeout
	}
	if err := e.store.finalizeAttempt(ctx, tx, a.ID, score, reason, e.now().Unix()); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) forceFinishTx(ctx context.Context, tx *sql.Tx, attemptID string) error {
	score, err := e.store.CorrectCount(ctx, tx, attemptID)
	if err != nil {
		return err
	}
	return e.store.finalizeAttempt(ctx, tx, attemptID, score, ReasonForced, e.now().Unix())
}

// progress runs the sync transition in its own transaction and renders the
// resulting state.
func (e *Engine) progress(ctx context.Context, a Attempt) (Progress, error) {
	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return Progress{}, err
	}
	defer func() { _ = tx.Rollback() }()

	wasFinished := a.IsFinished
	a, questions, qz, err := e.syncTx(ctx, tx, a.ID)
	if err != nil {
		return Progress{}, err
	}
	if err := tx.Commit(); err != nil {
		return Progress{}, err
	}
	if a.IsFinished {
		if !wasFinished {
			e.logFinish(ctx, a)
		}
		r, err := e.result(ctx, a)
		if err != nil {
			return Progress{}, err
		}
		return Progress{Finished: true, Result: &r}, nil
	}

	current := questions[a.CurrentIndex]
	ans, err := e.store.getOrCreateAnswer(ctx, e.store.db, a.ID, current.ID, e.now().Unix())
	if err != nil {
		return Progress{}, err
	}
	sec := ClampSeconds(qz.PerQuestionSeconds)
	remaining := ans.StartedAt + int64(sec) - e.now().Unix()
	if remaining < 0 {
		remaining = 0
	}

	cv := make([]ChoiceView, 0, len(current.Choices))
	for _, c := range current.Choices {
		cv = append(cv, ChoiceView{ID: c.ID, Text: c.Text}) // correctness never leaves the server
	}
	return Progress{Question: &QuestionView{
		AttemptID:          a.ID,
		Index:              a.CurrentIndex + 1,
		Total:              len(questions),
		QuestionID:         current.ID,
		Text:               current.Text,
		Choices:            cv,
		PerQuestionSeconds: sec,
		RemainingSeconds:   int(remaining),
	}}, nil
}

func (e *Engine) result(ctx context.Context, a Attempt) (ResultView, error) {
	questions, err := e.store.OrderedQuestions(ctx, e.store.db, a.QuizID)
	if err != nil {
		return ResultView{}, err
	}
	return ResultView{
		AttemptID:      a.ID,
		Score:          a.Score,
		Total:          len(questions),
		FinishedReason: a.FinishedReason,
		FinishedAt:     a.FinishedAt,
		TimedOutCount:  a.TimedOutCount,
	}, nil
}

func (e *Engine) logFinish(ctx context.Context, a Attempt) {
	e.logEvent(ctx, "attempt.finished", a.ID, map[string]any{
		"reason": a.FinishedReason, "score": a.Score, "timed_out": a.TimedOutCount,
	})
}

func (e *Engine) logEvent(ctx context.Context, typ, key string, data map[string]any) {
	if e.events == nil {
		return
	}
	buf, _ := json.Marshal(data)
	_ = e.events.Append(ctx, syncx.Event{Type: typ, Key: key, DataJSON: string(buf)})
}
