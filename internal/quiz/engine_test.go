package quiz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/examgate/internal/db"
	"github.com/mind-engage/examgate/internal/quiz"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store *quiz.SQLStore
	eng   *quiz.Engine
	clk   *fakeClock
}

// newFixture opens a fresh in-memory DB seeded with one allowed participant
// (p1, enrolled in deputy), an open deputy window, and an active 3-question
// deputy quiz (30s per question, first choice correct).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	dbh, err := db.Open(ctx, db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })

	store := quiz.NewSQLStore(dbh, "sqlite")
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	eng := quiz.NewEngine(store, nil, clk.Now)
	now := clk.Now().Unix()

	tx, err := dbh.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := store.UpsertParticipant(ctx, tx, quiz.ParticipantUpsert{
		ID: "p1", NationalID: "1234567890", FullName: "Test One",
		PhoneLast4: "4321", IsAllowed: true, Domains: []string{quiz.DomainDeputy},
	}, now); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	if _, err := store.ReplaceQuiz(ctx, tx, quiz.QuizUpsert{
		Title: "Deputy Quiz", Domain: quiz.DomainDeputy, IsActive: true, PerQuestionSeconds: 30,
		Questions: []quiz.QuestionUpsert{
			{Text: "Q1", Choices: []quiz.ChoiceUpsert{{Text: "right", IsCorrect: true}, {Text: "wrong"}}},
			{Text: "Q2", Choices: []quiz.ChoiceUpsert{{Text: "right", IsCorrect: true}, {Text: "wrong"}}},
			{Text: "Q3", Choices: []quiz.ChoiceUpsert{{Text: "right", IsCorrect: true}, {Text: "wrong"}}},
		},
	}, now); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	if _, err := store.CreateWindow(ctx, quiz.ExamWindow{
		Name: "deputy day", Domain: quiz.DomainDeputy,
		StartsAt: now - 60, EndsAt: now + 3600, IsActive: true,
	}, now); err != nil {
		t.Fatalf("seed window: %v", err)
	}

	return &fixture{store: store, eng: eng, clk: clk}
}

func sess(key string) quiz.Session {
	return quiz.Session{ParticipantID: "p1", SessionKey: key, IP: "127.0.0.1", UserAgent: "test"}
}

// answerCurrent submits the current question, picking the correct choice or
// skipping.
func answerCurrent(t *testing.T, f *fixture, s quiz.Session, correct bool) quiz.Progress {
	t.Helper()
	ctx := context.Background()
	p, err := f.eng.CurrentQuestion(ctx, s)
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if p.Finished {
		t.Fatalf("attempt already finished")
	}
	var choice *int64
	if correct {
		// seed order puts the correct choice first
		choice = &p.Question.Choices[0].ID
	}
	p, err = f.eng.SubmitAnswer(ctx, s, p.Question.QuestionID, choice, !correct)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return p
}

func TestStartLocksParticipantAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainDeputy)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.ID == "" || a.Domain != quiz.DomainDeputy {
		t.Fatalf("unexpected attempt: %+v", a)
	}

	p, err := f.store.GetParticipant(ctx, f.store.DB(), "p1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !p.HasTakenExam || p.LockedDomain != quiz.DomainDeputy {
		t.Fatalf("participant not locked: %+v", p)
	}

	// Same session resumes the same attempt.
	again, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainDeputy)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.ID != a.ID {
		t.Fatalf("resume created a new attempt: %s vs %s", again.ID, a.ID)
	}

	// A different session is refused while the attempt runs.
	if _, err := f.eng.StartOrResume(ctx, sess("s2"), quiz.DomainDeputy); !errors.Is(err, quiz.ErrAttemptElsewhere) {
		t.Fatalf("want ErrAttemptElsewhere, got %v", err)
	}
}

func TestStartGateRefusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clk.Now().Unix()

	// p1 is not enrolled for counselor; that verdict wins even though no
	// counselor window is open either.
	if _, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainCounselor); !errors.Is(err, quiz.ErrNotEnrolled) {
		t.Fatalf("want ErrNotEnrolled, got %v", err)
	}

	// Enrolled for a domain whose window is not open.
	tx, _ := f.store.DB().BeginTx(ctx, nil)
	if _, err := f.store.UpsertParticipant(ctx, tx, quiz.ParticipantUpsert{
		ID: "p3", NationalID: "777", FullName: "Early Bird", PhoneLast4: "1111",
		IsAllowed: true, Domains: []string{quiz.DomainActivity},
	}, now); err != nil {
		t.Fatalf("seed p3: %v", err)
	}
	// Disallowed participant.
	if _, err := f.store.UpsertParticipant(ctx, tx, quiz.ParticipantUpsert{
		ID: "p2", NationalID: "555", FullName: "Blocked", PhoneLast4: "0000",
		IsAllowed: false, Domains: []string{quiz.DomainDeputy},
	}, now); err != nil {
		t.Fatalf("seed p2: %v", err)
	}
	_ = tx.Commit()

	s3 := quiz.Session{ParticipantID: "p3", SessionKey: "y"}
	if _, err := f.eng.StartOrResume(ctx, s3, quiz.DomainActivity); !errors.Is(err, quiz.ErrNoOpenWindow) {
		t.Fatalf("want ErrNoOpenWindow, got %v", err)
	}

	s2 := quiz.Session{ParticipantID: "p2", SessionKey: "x"}
	if _, err := f.eng.StartOrResume(ctx, s2, quiz.DomainDeputy); !errors.Is(err, quiz.ErrNotAllowed) {
		t.Fatalf("want ErrNotAllowed, got %v", err)
	}
}

func TestAnswerFlowToNormalFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	p := answerCurrent(t, f, sess("s1"), true) // Q1 correct
	if p.Finished || p.Question.Index != 2 {
		t.Fatalf("after Q1: %+v", p)
	}
	p = answerCurrent(t, f, sess("s1"), false) // Q2 skipped
	if p.Finished || p.Question.Index != 3 {
		t.Fatalf("after Q2: %+v", p)
	}
	p = answerCurrent(t, f, sess("s1"), true) // Q3 correct, last
	if !p.Finished || p.Result == nil {
		t.Fatalf("not finished after last question: %+v", p)
	}
	if p.Result.Score != 2 || p.Result.Total != 3 {
		t.Fatalf("score %d/%d, want 2/3", p.Result.Score, p.Result.Total)
	}
	if p.Result.FinishedReason != quiz.ReasonNormal {
		t.Fatalf("reason %q, want normal", p.Result.FinishedReason)
	}

	// A finished record means no new attempt, even from the same session.
	if _, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainDeputy); !errors.Is(err, quiz.ErrAlreadyTaken) {
		t.Fatalf("want ErrAlreadyTaken, got %v", err)
	}
}

func TestOverdueQuestionAutoAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	p, err := f.eng.CurrentQuestion(ctx, sess("s1")) // anchors Q1 deadline
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if p.Question.Index != 1 || p.Question.RemainingSeconds != 30 {
		t.Fatalf("unexpected first view: %+v", p.Question)
	}

	f.clk.Advance(31 * time.Second)
	p, err = f.eng.CurrentQuestion(ctx, sess("s1"))
	if err != nil {
		t.Fatalf("current after timeout: %v", err)
	}
	if p.Finished || p.Question.Index != 2 {
		t.Fatalf("did not advance past timed-out question: %+v", p)
	}

	a, err := f.store.GetAttempt(ctx, f.store.DB(), p.Question.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.TimedOutCount != 1 {
		t.Fatalf("timed_out_count = %d, want 1", a.TimedOutCount)
	}

	// Only one question expires per transition even when the client is away
	// longer: the next question's clock starts when it is first served.
	f.clk.Advance(10 * time.Minute)
	p, err = f.eng.CurrentQuestion(ctx, sess("s1"))
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if p.Finished || p.Question.Index != 3 {
		t.Fatalf("after long absence: %+v", p)
	}

	f.clk.Advance(31 * time.Second)
	p, err = f.eng.CurrentQuestion(ctx, sess("s1"))
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if !p.Finished {
		t.Fatalf("want finished after last timeout, got %+v", p)
	}
	if p.Result.FinishedReason != quiz.ReasonTimeout {
		t.Fatalf("reason %q, want timeout", p.Result.FinishedReason)
	}
	if p.Result.TimedOutCount != 3 {
		t.Fatalf("timed out %d, want 3", p.Result.TimedOutCount)
	}
}

func TestSettledAnswerIsNotCountedAsTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	p, err := f.eng.CurrentQuestion(ctx, sess("s1")) // anchors Q1
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	// Settle Q1 the way a racing submission would, without moving the
	// pointer: answered_at set, index untouched.
	if _, err := f.store.DB().ExecContext(ctx,
		`UPDATE answers SET answered_at=started_at WHERE attempt_id=$1 AND question_id=$2`,
		p.Question.AttemptID, p.Question.QuestionID); err != nil {
		t.Fatalf("settle answer: %v", err)
	}

	f.clk.Advance(31 * time.Second)
	p2, err := f.eng.CurrentQuestion(ctx, sess("s1"))
	if err != nil {
		t.Fatalf("current after deadline: %v", err)
	}
	// The pointer moves past the settled question, but the timeout belongs
	// to whoever set answered_at, not to this transition.
	if p2.Finished || p2.Question.Index != 2 {
		t.Fatalf("pointer did not advance past settled question: %+v", p2)
	}
	a, err := f.store.GetAttempt(ctx, f.store.DB(), p.Question.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.TimedOutCount != 0 {
		t.Fatalf("timed_out_count = %d, want 0", a.TimedOutCount)
	}
}

func TestLateSubmitGetsNoCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	p, err := f.eng.CurrentQuestion(ctx, sess("s1"))
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	q1 := p.Question.QuestionID
	correct := p.Question.Choices[0].ID

	f.clk.Advance(31 * time.Second)
	p, err = f.eng.SubmitAnswer(ctx, sess("s1"), q1, &correct, false)
	if err != nil {
		t.Fatalf("late submit: %v", err)
	}
	// The overdue transition consumed Q1 as a timeout; the late POST is a
	// stale no-op against Q2.
	if p.Finished || p.Question.Index != 2 {
		t.Fatalf("after late submit: %+v", p)
	}
	a, _ := f.store.GetAttempt(ctx, f.store.DB(), p.Question.AttemptID)
	if a.Score != 0 || a.TimedOutCount != 1 {
		t.Fatalf("score=%d timeouts=%d, want 0/1", a.Score, a.TimedOutCount)
	}
}

func TestStaleSubmitIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := answerCurrent(t, f, sess("s1"), true)
	q1Stale := p.Question.QuestionID - 1 // not the current question

	p2, err := f.eng.SubmitAnswer(ctx, sess("s1"), q1Stale, nil, true)
	if err != nil {
		t.Fatalf("stale submit: %v", err)
	}
	if p2.Finished || p2.Question.Index != p.Question.Index {
		t.Fatalf("stale submit moved the pointer: %+v vs %+v", p2.Question, p.Question)
	}
}

func TestSessionMismatchIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.eng.CurrentQuestion(ctx, sess("other")); !errors.Is(err, quiz.ErrSessionMismatch) {
		t.Fatalf("want ErrSessionMismatch, got %v", err)
	}
	if _, err := f.eng.SubmitAnswer(ctx, sess("other"), 1, nil, true); !errors.Is(err, quiz.ErrSessionMismatch) {
		t.Fatalf("want ErrSessionMismatch, got %v", err)
	}
}

func TestFinishAbandonmentIsForced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	answerCurrent(t, f, sess("s1"), true)

	res, err := f.eng.Finish(ctx, sess("s1"))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.FinishedReason != quiz.ReasonForced {
		t.Fatalf("reason %q, want forced", res.FinishedReason)
	}
	if res.Score != 1 {
		t.Fatalf("score %d, want 1", res.Score)
	}
}

func TestForceFinishAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.eng.StartOrResume(ctx, sess("s1"), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answerCurrent(t, f, sess("s1"), true)

	if err := f.eng.ForceFinish(ctx, a.ID); err != nil {
		t.Fatalf("force finish: %v", err)
	}
	got, err := f.store.GetAttempt(ctx, f.store.DB(), a.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if !got.IsFinished || got.FinishedReason != quiz.ReasonForced || got.Score != 1 {
		t.Fatalf("after force finish: %+v", got)
	}
	if got.CurrentIndex != 1 {
		t.Fatalf("force finish moved the pointer: %d", got.CurrentIndex)
	}
	// Idempotent.
	if err := f.eng.ForceFinish(ctx, a.ID); err != nil {
		t.Fatalf("second force finish: %v", err)
	}

	if err := f.eng.Reset(ctx, a.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.store.GetAttempt(ctx, f.store.DB(), a.ID); !errors.Is(err, quiz.ErrAttemptNotFound) {
		t.Fatalf("attempt should be gone, got %v", err)
	}
	p, _ := f.store.GetParticipant(ctx, f.store.DB(), "p1")
	if p.HasTakenExam || p.LockedDomain != "" {
		t.Fatalf("participant still locked after reset: %+v", p)
	}

	// Reset of a missing attempt is a no-op, and the participant can retake.
	if err := f.eng.Reset(ctx, a.ID); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if _, err := f.eng.StartOrResume(ctx, sess("s3"), quiz.DomainDeputy); err != nil {
		t.Fatalf("restart after reset: %v", err)
	}
}

func TestDomainLockBlocksOtherDomains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clk.Now().Unix()

	// Enroll p1 in counselor too and open its window.
	tx, _ := f.store.DB().BeginTx(ctx, nil)
	if _, err := f.store.UpsertParticipant(ctx, tx, quiz.ParticipantUpsert{
		ID: "p1", NationalID: "1234567890", FullName: "Test One", PhoneLast4: "4321",
		IsAllowed: true, Domains: []string{quiz.DomainDeputy, quiz.DomainCounselor, quiz.DomainActivity},
	}, now); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if _, err := f.store.ReplaceQuiz(ctx, tx, quiz.QuizUpsert{
		Title: "Counselor Quiz", Domain: quiz.DomainCounselor, IsActive: true, PerQuestionSeconds: 30,
		Questions: []quiz.QuestionUpsert{
			{Text: "C1", Choices: []quiz.ChoiceUpsert{{Text: "right", IsCorrect: true}, {Text: "wrong"}}},
		},
	}, now); err != nil {
		t.Fatalf("counselor quiz: %v", err)
	}
	_ = tx.Commit()
	if _, err := f.store.CreateWindow(ctx, quiz.ExamWindow{
		Domain: quiz.DomainCounselor, StartsAt: now - 60, EndsAt: now + 3600, IsActive: true,
	}, now); err != nil {
		t.Fatalf("counselor window: %v", err)
	}

	if _, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainDeputy); err != nil {
		t.Fatalf("start deputy: %v", err)
	}
	if _, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainCounselor); !errors.Is(err, quiz.ErrDomainLocked) {
		t.Fatalf("want ErrDomainLocked, got %v", err)
	}
	// The lock verdict also beats a missing window: activity has no open
	// window, but the refusal names the lock.
	if _, err := f.eng.StartOrResume(ctx, sess("s1"), quiz.DomainActivity); !errors.Is(err, quiz.ErrDomainLocked) {
		t.Fatalf("want ErrDomainLocked for windowless domain, got %v", err)
	}
}
