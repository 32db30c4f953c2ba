package quiz

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// AttemptFilter narrows the staff attempt listing. Zero values mean "no
// constraint".
type AttemptFilter struct {
	Q        string // matches national_id exactly or full_name as substring
	Status   string // "running" or "finished"
	Domain   string
	Reason   string
	QuizID   int64
	MinScore int
	From     int64 // started_at >= From (unix seconds)
	To       int64 // started_at < To
	Sort     string
	Limit    int
	Offset   int
}

// AttemptRow is one listing entry: the attempt joined with the participant's
// identity fields staff search by.
type AttemptRow struct {
	Attempt
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	QuizTitle  string `json:"quiz_title"`
}

var attemptSortCols = map[string]string{
	"started_at":  "a.started_at",
	"finished_at": "a.finished_at",
	"score":       "a.score",
	"timeouts":    "a.timed_out_count",
	"name":        "p.full_name",
}

const attemptRowCols = `a.id, a.participant_id, a.quiz_id, a.domain, a.session_key, a.started_ip, a.user_agent,
	a.started_at, COALESCE(a.finished_at,0), a.current_index, a.score, a.is_finished, a.finished_reason, a.timed_out_count,
	p.full_name, p.national_id, z.title`

func (f AttemptFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
			cond = strings.Replace(cond, "?", placeholder(len(args)), 1)
		}
		conds = append(conds, cond)
	}
	if f.Q != "" {
		add("(p.national_id = ? OR p.full_name LIKE ?)", f.Q, "%"+f.Q+"%")
	}
	switch f.Status {
	case "running":
		conds = append(conds, "NOT a.is_finished")
	case "finished":
		conds = append(conds, "a.is_finished")
	}
	if f.Domain != "" {
		add("a.domain = ?", f.Domain)
	}
	if f.Reason != "" {
		add("a.is_finished AND a.finished_reason = ?", f.Reason)
	}
	if f.QuizID != 0 {
		add("a.quiz_id = ?", f.QuizID)
	}
	if f.MinScore > 0 {
		add("a.score >= ?", f.MinScore)
	}
	if f.From != 0 {
		add("a.started_at >= ?", f.From)
	}
	if f.To != 0 {
		add("a.started_at < ?", f.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f AttemptFilter) orderBy() string {
	sort := f.Sort
	desc := strings.HasPrefix(sort, "-")
	sort = strings.TrimPrefix(sort, "-")
	col, ok := attemptSortCols[sort]
	if !ok {
		return " ORDER BY a.started_at DESC, a.id DESC"
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir + ", a.id DESC"
}

// ListAttempts returns one page of attempts plus the total match count.
func (s *SQLStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]AttemptRow, int, error) {
	where, args := f.where()
	from := ` FROM attempts a
		JOIN participants p ON p.id = a.participant_id
		JOIN quizzes z ON z.id = a.quiz_id`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + attemptRowCols + from + where + f.orderBy()
	args = append(args, limit)
	query += ` LIMIT ` + placeholder(len(args))
	args = append(args, f.Offset)
	query += ` OFFSET ` + placeholder(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var r AttemptRow
		if err := rows.Scan(&r.ID, &r.ParticipantID, &r.QuizID, &r.Attempt.Domain, &r.SessionKey,
			&r.StartedIP, &r.UserAgent, &r.StartedAt, &r.FinishedAt,
			&r.CurrentIndex, &r.Attempt.Score, &r.IsFinished, &r.FinishedReason, &r.TimedOutCount,
			&r.FullName, &r.NationalID, &r.QuizTitle); err != nil {
			return nil, 0, err
		}
		r.SessionKey = ""
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// AnswerDetail is one row of the per-attempt drill-down.
type AnswerDetail struct {
	QuestionID   int64   `json:"question_id"`
	Ord          int     `json:"order"`
	QuestionText string  `json:"question_text"`
	ChoiceID     *int64  `json:"choice_id"`
	ChoiceText   *string `json:"choice_text"`
	IsCorrect    bool    `json:"is_correct"`
	StartedAt    int64   `json:"started_at"`
	AnsweredAt   *int64  `json:"answered_at"`
}

func (s *SQLStore) AnswersForAttempt(ctx context.Context, attemptID string) ([]AnswerDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.ord, q.text, a.choice_id, c.text, COALESCE(c.is_correct, FALSE), a.started_at, a.answered_at
		 FROM answers a
		 JOIN questions q ON q.id = a.question_id
		 LEFT JOIN choices c ON c.id = a.choice_id
		 WHERE a.attempt_id=$1 ORDER BY q.ord, q.id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AnswerDetail
	for rows.Next() {
		var d AnswerDetail
		var choiceID sql.NullInt64
		var choiceText sql.NullString
		var answeredAt sql.NullInt64
		if err := rows.Scan(&d.QuestionID, &d.Ord, &d.QuestionText,
			&choiceID, &choiceText, &d.IsCorrect, &d.StartedAt, &answeredAt); err != nil {
			return nil, err
		}
		if choiceID.Valid {
			d.ChoiceID = &choiceID.Int64
		}
		if choiceText.Valid {
			d.ChoiceText = &choiceText.String
		}
		if answeredAt.Valid {
			d.AnsweredAt = &answeredAt.Int64
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DomainStats aggregates one domain for the staff dashboard.
type DomainStats struct {
	Domain   string  `json:"domain"`
	Attempts int     `json:"attempts"`
	Finished int     `json:"finished"`
	AvgScore float64 `json:"avg_score"`
	TimedOut int     `json:"timed_out_attempts"`
}

type Stats struct {
	Participants int            `json:"participants"`
	Allowed      int            `json:"allowed"`
	Taken        int            `json:"taken"`
	Attempts     int            `json:"attempts"`
	Running      int            `json:"running"`
	Finished     int            `json:"finished"`
	AvgScore     float64        `json:"avg_score"`
	TimeoutRate  float64        `json:"timeout_rate"` // finished-by-timeout over finished
	ByReason     map[string]int `json:"by_reason"`
	ByDomain     []DomainStats  `json:"by_domain"`
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE is_allowed),
		        COUNT(*) FILTER (WHERE has_taken_exam)
		 FROM participants`).Scan(&st.Participants, &st.Allowed, &st.Taken)
	if err != nil {
		return Stats{}, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE NOT is_finished),
		        COUNT(*) FILTER (WHERE is_finished),
		        COALESCE(AVG(score) FILTER (WHERE is_finished), 0)
		 FROM attempts`).Scan(&st.Attempts, &st.Running, &st.Finished, &st.AvgScore)
	if err != nil {
		return Stats{}, err
	}

	st.ByReason = map[string]int{}
	rows, err := s.db.QueryContext(ctx,
		`SELECT finished_reason, COUNT(*) FROM attempts WHERE is_finished GROUP BY finished_reason`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			rows.Close()
			return Stats{}, err
		}
		st.ByReason[reason] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if st.Finished > 0 {
		st.TimeoutRate = float64(st.ByReason[ReasonTimeout]) / float64(st.Finished)
	}

	drows, err := s.db.QueryContext(ctx,
		`SELECT domain,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE is_finished),
		        COALESCE(AVG(score) FILTER (WHERE is_finished), 0),
		        COUNT(*) FILTER (WHERE timed_out_count > 0)
		 FROM attempts GROUP BY domain ORDER BY domain`)
	if err != nil {
		return Stats{}, err
	}
	defer drows.Close()
	for drows.Next() {
		var d DomainStats
		if err := drows.Scan(&d.Domain, &d.Attempts, &d.Finished, &d.AvgScore, &d.TimedOut); err != nil {
			return Stats{}, err
		}
		st.ByDomain = append(st.ByDomain, d)
	}
	return st, drows.Err()
}

// ---- windows ----

func (s *SQLStore) ListWindows(ctx context.Context) ([]ExamWindow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+windowCols+` FROM exam_windows ORDER BY starts_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return scanWindows(rows)
}

func (s *SQLStore) CreateWindow(ctx context.Context, w ExamWindow, now int64) (ExamWindow, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO exam_windows (name, domain, starts_at, ends_at, is_active, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		w.Name, w.Domain, w.StartsAt, w.EndsAt, w.IsActive, now).Scan(&w.ID)
	if err != nil {
		return ExamWindow{}, err
	}
	w.CreatedAt = now
	return w, nil
}

func (s *SQLStore) SetWindowActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exam_windows SET is_active=$1 WHERE id=$2`, active, id)
	return err
}

// ---- bulk imports ----

// ParticipantUpsert is one roster row: identity plus the domains the
// participant may sit for.
type ParticipantUpsert struct {
	ID         string   `json:"id"`
	NationalID string   `json:"national_id" validate:"required"`
	FullName   string   `json:"full_name" validate:"required"`
	PhoneLast4 string   `json:"phone_last4" validate:"required,len=4,numeric"`
	IsAllowed  bool     `json:"is_allowed"`
	Domains    []string `json:"domains" validate:"required,min=1,dive,oneof=deputy counselor activity"`
}

// UpsertParticipant inserts or refreshes a roster row keyed by national_id and
// reconciles its enrollments. Lock and has-taken state are never touched here;
// only reset does that.
func (s *SQLStore) UpsertParticipant(ctx context.Context, tx *sql.Tx, row ParticipantUpsert, now int64) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM participants WHERE national_id=$1`, row.NationalID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = row.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (id, national_id, full_name, phone_last4, is_allowed, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			id, row.NationalID, row.FullName, row.PhoneLast4, row.IsAllowed, now); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE participants SET full_name=$1, phone_last4=$2, is_allowed=$3 WHERE id=$4`,
			row.FullName, row.PhoneLast4, row.IsAllowed, id); err != nil {
			return "", err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM enrollments WHERE participant_id=$1`, id); err != nil {
		return "", err
	}
	for _, d := range row.Domains {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enrollments (participant_id, domain, is_allowed, created_at)
			 VALUES ($1,$2,$3,$4) ON CONFLICT (participant_id, domain) DO NOTHING`,
			id, d, true, now); err != nil {
			return "", err
		}
	}
	return id, nil
}

type ChoiceUpsert struct {
	Text      string `json:"text" validate:"required"`
	IsCorrect bool   `json:"is_correct"`
}

type QuestionUpsert struct {
	Text    string         `json:"text" validate:"required"`
	Choices []ChoiceUpsert `json:"choices" validate:"required,min=2,dive"`
}

type QuizUpsert struct {
	Title              string           `json:"title" validate:"required"`
	Domain             string           `json:"domain" validate:"required,oneof=deputy counselor activity"`
	IsActive           bool             `json:"is_active"`
	PerQuestionSeconds int              `json:"per_question_seconds"`
	Questions          []QuestionUpsert `json:"questions" validate:"required,min=1,dive"`
}

// ReplaceQuiz inserts a quiz with its full question bank. When the new quiz is
// active, older active quizzes for the domain are deactivated so exactly one
// serves new attempts.
func (s *SQLStore) ReplaceQuiz(ctx context.Context, tx *sql.Tx, q QuizUpsert, now int64) (int64, error) {
	if q.IsActive {
		if _, err := tx.ExecContext(ctx,
			`UPDATE quizzes SET is_active=$1 WHERE domain=$2 AND is_active`, false, q.Domain); err != nil {
			return 0, err
		}
	}
	var quizID int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO quizzes (title, domain, is_active, per_question_seconds, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		q.Title, q.Domain, q.IsActive, ClampSeconds(q.PerQuestionSeconds), now).Scan(&quizID); err != nil {
		return 0, err
	}
	for i, qu := range q.Questions {
		var questionID int64
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO questions (quiz_id, ord, text) VALUES ($1,$2,$3) RETURNING id`,
			quizID, i+1, qu.Text).Scan(&questionID); err != nil {
			return 0, err
		}
		for _, c := range qu.Choices {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO choices (question_id, text, is_correct) VALUES ($1,$2,$3)`,
				questionID, c.Text, c.IsCorrect); err != nil {
				return 0, err
			}
		}
	}
	return quizID, nil
}

// ---- staff users ----

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	CreatedAt    int64  `json:"created_at"`
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username=$1`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrBadCredentials
	}
	return u, err
}

func (s *SQLStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at)
		 VALUES ($1,$2,$3,$4,$5) ON CONFLICT (username) DO NOTHING`,
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	return err
}
