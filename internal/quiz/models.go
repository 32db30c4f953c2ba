package quiz

// Exam domains. Each domain has its own question set and time window.
const (
	DomainDeputy    = "deputy"
	DomainCounselor = "counselor"
	DomainActivity  = "activity"
)

var Domains = []string{DomainDeputy, DomainCounselor, DomainActivity}

func ValidDomain(d string) bool {
	for _, v := range Domains {
		if v == d {
			return true
		}
	}
	return false
}

// Finish reasons for a terminal attempt.
const (
	ReasonNormal  = "normal"
	ReasonTimeout = "timeout"
	ReasonForced  = "forced"
)

// Per-question budget is clamped to this range to tolerate corrupt
// configuration; the stored value is never trusted raw.
const (
	MinQuestionSeconds = 5
	MaxQuestionSeconds = 3600
)

func ClampSeconds(sec int) int {
	if sec < MinQuestionSeconds {
		return MinQuestionSeconds
	}
	if sec > MaxQuestionSeconds {
		return MaxQuestionSeconds
	}
	return sec
}

type Participant struct {
	ID           string `json:"id"`
	NationalID   string `json:"national_id"`
	FullName     string `json:"full_name"`
	PhoneLast4   string `json:"phone_last4"`
	IsAllowed    bool   `json:"is_allowed"`
	HasTakenExam bool   `json:"has_taken_exam"`
	LockedDomain string `json:"locked_domain,omitempty"`
	LockedAt     int64  `json:"locked_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

type Enrollment struct {
	ID            int64  `json:"id"`
	ParticipantID string `json:"participant_id"`
	Domain        string `json:"domain"`
	IsAllowed     bool   `json:"is_allowed"`
	CreatedAt     int64  `json:"created_at"`
}

type ExamWindow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Domain    string `json:"domain"`
	StartsAt  int64  `json:"starts_at"`
	EndsAt    int64  `json:"ends_at"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
}

type Quiz struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Domain             string `json:"domain"`
	IsActive           bool   `json:"is_active"`
	PerQuestionSeconds int    `json:"per_question_seconds"`
	CreatedAt          int64  `json:"created_at"`
}

type Question struct {
	ID      int64    `json:"id"`
	QuizID  int64    `json:"quiz_id"`
	Ord     int      `json:"order"`
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

type Choice struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct,omitempty"`
}

type Attempt struct {
	ID             string `json:"id"`
	ParticipantID  string `json:"participant_id"`
	QuizID         int64  `json:"quiz_id"`
	Domain         string `json:"domain"`
	SessionKey     string `json:"-"`
	StartedIP      string `json:"started_ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	StartedAt      int64  `json:"started_at"`
	FinishedAt     int64  `json:"finished_at,omitempty"`
	CurrentIndex   int    `json:"current_index"`
	Score          int    `json:"score"`
	IsFinished     bool   `json:"is_finished"`
	FinishedReason string `json:"finished_reason"`
	TimedOutCount  int    `json:"timed_out_count"`
}

type Answer struct {
	ID         int64  `json:"id"`
	AttemptID  string `json:"attempt_id"`
	QuestionID int64  `json:"question_id"`
	ChoiceID   *int64 `json:"choice_id"` // nil = skipped or timed out
	StartedAt  int64  `json:"started_at"`
	AnsweredAt *int64 `json:"answered_at"`
}

// Session is the explicit per-request context the engine validates against
// the attempt's stored session key on every call.
type Session struct {
	ParticipantID string
	SessionKey    string
	IP            string
	UserAgent     string
}

// ---- views served to the participant ----

type ChoiceView struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type QuestionView struct {
	AttemptID          string       `json:"attempt_id"`
	Index              int          `json:"index"` // 1-based for display
	Total              int          `json:"total"`
	QuestionID         int64        `json:"question_id"`
	Text               string       `json:"text"`
	Choices            []ChoiceView `json:"choices"`
	PerQuestionSeconds int          `json:"per_question_seconds"`
	// Display-only; the server re-checks the deadline on every request.
	RemainingSeconds int `json:"remaining_seconds"`
}

type ResultView struct {
	AttemptID      string `json:"attempt_id"`
	Score          int    `json:"score"`
	Total          int    `json:"total"`
	FinishedReason string `json:"finished_reason"`
	FinishedAt     int64  `json:"finished_at"`
	TimedOutCount  int    `json:"timed_out_count"`
}

type Progress struct {
	Finished bool          `json:"finished"`
	Question *QuestionView `json:"question,omitempty"`
	Result   *ResultView   `json:"result,omitempty"`
}

type StatusView struct {
	Participant Participant  `json:"participant"`
	Enrollments []string     `json:"enrollments"`
	Active      *ExamWindow  `json:"active_window,omitempty"`
	Next        []ExamWindow `json:"next_windows"`
}
