package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX lets store methods run on either *sql.DB or *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

// lockSuffix is the row-lock clause for the attempt-creation gate. SQLite has
// no FOR UPDATE; its single-writer transaction gives the same exclusion.
func (s *SQLStore) lockSuffix() string {
	if s.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

const participantCols = `id, national_id, full_name, phone_last4, is_allowed, has_taken_exam, locked_domain, COALESCE(locked_at,0), created_at`

func scanParticipant(row *sql.Row) (Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.NationalID, &p.FullName, &p.PhoneLast4,
		&p.IsAllowed, &p.HasTakenExam, &p.LockedDomain, &p.LockedAt, &p.CreatedAt)
	return p, err
}

func (s *SQLStore) GetParticipant(ctx context.Context, q DBTX, id string) (Participant, error) {
	p, err := scanParticipant(q.QueryRowContext(ctx,
		`SELECT `+participantCols+` FROM participants WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrParticipantNotFound
	}
	return p, err
}

func (s *SQLStore) GetParticipantByNationalID(ctx context.Context, nationalID string) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantCols+` FROM participants WHERE national_id=$1`, nationalID))
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrParticipantNotFound
	}
	return p, err
}

func (s *SQLStore) participantForUpdate(ctx context.Context, tx *sql.Tx, id string) (Participant, error) {
	p, err := scanParticipant(tx.QueryRowContext(ctx,
		`SELECT `+participantCols+` FROM participants WHERE id=$1`+s.lockSuffix(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrParticipantNotFound
	}
	return p, err
}

func (s *SQLStore) EnrolledDomains(ctx context.Context, participantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain FROM enrollments WHERE participant_id=$1 AND is_allowed ORDER BY id`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) IsEnrolled(ctx context.Context, q DBTX, participantID, domain string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM enrollments WHERE participant_id=$1 AND domain=$2 AND is_allowed`,
		participantID, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

const windowCols = `id, name, domain, starts_at, ends_at, is_active, created_at`

func scanWindows(rows *sql.Rows) ([]ExamWindow, error) {
	defer rows.Close()
	var out []ExamWindow
	for rows.Next() {
		var w ExamWindow
		if err := rows.Scan(&w.ID, &w.Name, &w.Domain, &w.StartsAt, &w.EndsAt, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ActiveWindow returns the window open at now, optionally restricted to one
// domain. Earliest-starting window wins when several overlap.
func (s *SQLStore) ActiveWindow(ctx context.Context, q DBTX, now int64, domain string) (*ExamWindow, error) {
	query := `SELECT ` + windowCols + ` FROM exam_windows
		WHERE is_active AND starts_at<=$1 AND ends_at>$1`
	args := []any{now}
	if domain != "" {
		query += ` AND domain=$2`
		args = append(args, domain)
	}
	query += ` ORDER BY starts_at, id LIMIT 1`

	var w ExamWindow
	err := q.QueryRowContext(ctx, query, args...).
		Scan(&w.ID, &w.Name, &w.Domain, &w.StartsAt, &w.EndsAt, &w.IsActive, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// NextWindows lists upcoming windows for the given domains, soonest first.
func (s *SQLStore) NextWindows(ctx context.Context, now int64, domains []string, limit int) ([]ExamWindow, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	query := `SELECT ` + windowCols + ` FROM exam_windows WHERE is_active AND starts_at>$1 AND domain IN (`
	args := []any{now}
	for i, d := range domains {
		if i > 0 {
			query += ","
		}
		args = append(args, d)
		query += placeholder(len(args))
	}
	query += `) ORDER BY starts_at, id LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanWindows(rows)
}

// ActiveQuizForDomain resolves the one quiz a domain's attempts run against.
// The domain column replaces the old title-matching heuristic; newest active
// quiz wins if an operator ever leaves two active.
func (s *SQLStore) ActiveQuizForDomain(ctx context.Context, q DBTX, domain string) (Quiz, error) {
	var z Quiz
	err := q.QueryRowContext(ctx,
		`SELECT id, title, domain, is_active, per_question_seconds, created_at
		 FROM quizzes WHERE domain=$1 AND is_active ORDER BY id DESC LIMIT 1`, domain).
		Scan(&z.ID, &z.Title, &z.Domain, &z.IsActive, &z.PerQuestionSeconds, &z.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Quiz{}, ErrNoActiveQuiz
	}
	return z, err
}

func (s *SQLStore) GetQuiz(ctx context.Context, q DBTX, id int64) (Quiz, error) {
	var z Quiz
	err := q.QueryRowContext(ctx,
		`SELECT id, title, domain, is_active, per_question_seconds, created_at FROM quizzes WHERE id=$1`, id).
		Scan(&z.ID, &z.Title, &z.Domain, &z.IsActive, &z.PerQuestionSeconds, &z.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Quiz{}, ErrNoActiveQuiz
	}
	return z, err
}

// OrderedQuestions returns a quiz's questions in (ord, id) order with their
// choices attached.
func (s *SQLStore) OrderedQuestions(ctx context.Context, q DBTX, quizID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, quiz_id, ord, text FROM questions WHERE quiz_id=$1 ORDER BY ord, id`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var qs []Question
	byID := map[int64]int{}
	for rows.Next() {
		var qu Question
		if err := rows.Scan(&qu.ID, &qu.QuizID, &qu.Ord, &qu.Text); err != nil {
			return nil, err
		}
		byID[qu.ID] = len(qs)
		qs = append(qs, qu)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return qs, nil
	}

	crows, err := q.QueryContext(ctx,
		`SELECT c.id, c.question_id, c.text, c.is_correct
		 FROM choices c JOIN questions qq ON qq.id=c.question_id
		 WHERE qq.quiz_id=$1 ORDER BY c.id`, quizID)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c Choice
		if err := crows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.IsCorrect); err != nil {
			return nil, err
		}
		if i, ok := byID[c.QuestionID]; ok {
			qs[i].Choices = append(qs[i].Choices, c)
		}
	}
	return qs, crows.Err()
}

const attemptCols = `id, participant_id, quiz_id, domain, session_key, started_ip, user_agent,
	started_at, COALESCE(finished_at,0), current_index, score, is_finished, finished_reason, timed_out_count`

func scanAttempt(row *sql.Row) (Attempt, error) {
	var a Attempt
	err := row.Scan(&a.ID, &a.ParticipantID, &a.QuizID, &a.Domain, &a.SessionKey,
		&a.StartedIP, &a.UserAgent, &a.StartedAt, &a.FinishedAt,
		&a.CurrentIndex, &a.Score, &a.IsFinished, &a.FinishedReason, &a.TimedOutCount)
	return a, err
}

func (s *SQLStore) GetAttempt(ctx context.Context, q DBTX, id string) (Attempt, error) {
	a, err := scanAttempt(q.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *SQLStore) unfinishedAttempt(ctx context.Context, tx *sql.Tx, participantID string) (Attempt, error) {
	a, err := scanAttempt(tx.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE participant_id=$1 AND NOT is_finished
		 ORDER BY started_at DESC, id DESC LIMIT 1`+s.lockSuffix(), participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

// LatestAttemptForSession resolves the attempt bound to this browser session,
// finished or not. Newest attempt wins.
func (s *SQLStore) LatestAttemptForSession(ctx context.Context, participantID, sessionKey string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE participant_id=$1
		 ORDER BY started_at DESC, id DESC LIMIT 1`, participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	if a.SessionKey != "" && a.SessionKey != sessionKey {
		return Attempt{}, ErrSessionMismatch
	}
	return a, nil
}

func (s *SQLStore) HasUnfinishedAttempt(ctx context.Context, participantID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM attempts WHERE participant_id=$1 AND NOT is_finished LIMIT 1`, participantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLStore) insertAttempt(ctx context.Context, tx *sql.Tx, a Attempt) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO attempts (id, participant_id, quiz_id, domain, session_key, started_ip, user_agent, started_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.ParticipantID, a.QuizID, a.Domain, a.SessionKey, a.StartedIP, a.UserAgent, a.StartedAt)
	return err
}

func (s *SQLStore) lockParticipant(ctx context.Context, tx *sql.Tx, participantID, domain string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE participants SET has_taken_exam=$1, locked_domain=$2, locked_at=$3 WHERE id=$4`,
		true, domain, now, participantID)
	return err
}

func (s *SQLStore) unlockParticipant(ctx context.Context, tx *sql.Tx, participantID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE participants SET has_taken_exam=$1, locked_domain='', locked_at=NULL WHERE id=$2`,
		false, participantID)
	return err
}

// getOrCreateAnswer lazily creates the answer row anchoring a question's
// deadline. started_at is written once and never overwritten; the unique
// (attempt_id, question_id) constraint makes concurrent creation idempotent.
func (s *SQLStore) getOrCreateAnswer(ctx context.Context, q DBTX, attemptID string, questionID, startedAt int64) (Answer, error) {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO answers (attempt_id, question_id, started_at)
		 VALUES ($1,$2,$3) ON CONFLICT (attempt_id, question_id) DO NOTHING`,
		attemptID, questionID, startedAt); err != nil {
		return Answer{}, err
	}
	var a Answer
	var choiceID sql.NullInt64
	var answeredAt sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT id, attempt_id, question_id, choice_id, started_at, answered_at
		 FROM answers WHERE attempt_id=$1 AND question_id=$2`,
		attemptID, questionID).
		Scan(&a.ID, &a.AttemptID, &a.QuestionID, &choiceID, &a.StartedAt, &answeredAt)
	if err != nil {
		return Answer{}, err
	}
	if choiceID.Valid {
		a.ChoiceID = &choiceID.Int64
	}
	if answeredAt.Valid {
		a.AnsweredAt = &answeredAt.Int64
	}
	return a, nil
}

// recordAnswer sets the selection exactly once; a row whose answered_at is
// already set is left untouched (first submission or first timeout wins).
func (s *SQLStore) recordAnswer(ctx context.Context, q DBTX, attemptID string, questionID int64, choiceID *int64, answeredAt int64) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE answers SET choice_id=$1, answered_at=$2
		 WHERE attempt_id=$3 AND question_id=$4 AND answered_at IS NULL`,
		choiceID, answeredAt, attemptID, questionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) advanceAttempt(ctx context.Context, q DBTX, attemptID string, newIndex, scoreDelta, timedOutDelta int) error {
	_, err := q.ExecContext(ctx,
		`UPDATE attempts SET current_index=$1, score=score+$2, timed_out_count=timed_out_count+$3
		 WHERE id=$4 AND NOT is_finished`,
		newIndex, scoreDelta, timedOutDelta, attemptID)
	return err
}

// CorrectCount is the authoritative score: answers whose selected choice is
// marked correct.
func (s *SQLStore) CorrectCount(ctx context.Context, q DBTX, attemptID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answers a JOIN choices c ON c.id=a.choice_id
		 WHERE a.attempt_id=$1 AND c.is_correct`, attemptID).Scan(&n)
	return n, err
}

func (s *SQLStore) finalizeAttempt(ctx context.Context, q DBTX, attemptID string, score int, reason string, finishedAt int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE attempts SET score=$1, is_finished=$2, finished_reason=$3, finished_at=$4
		 WHERE id=$5 AND NOT is_finished`,
		score, true, reason, finishedAt, attemptID)
	return err
}

func (s *SQLStore) deleteAttempt(ctx context.Context, tx *sql.Tx, attemptID string) error {
	// answers cascade, but delete explicitly so sqlite without the pragma
	// behaves the same
	if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE attempt_id=$1`, attemptID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE id=$1`, attemptID)
	return err
}

func placeholder(n int) string { return fmt.Sprintf("$%d", n) }
