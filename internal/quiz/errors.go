package quiz

import "errors"

// Gate and lifecycle errors. All are user-facing and non-retryable without
// staff intervention; handlers map them to status codes with errors.Is.
var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotAllowed          = errors.New("participant is not allowed to enter")
	ErrNotEnrolled         = errors.New("participant is not enrolled for this domain")
	ErrDomainLocked        = errors.New("participant is locked to a different domain")
	ErrNoOpenWindow        = errors.New("no exam window is open right now")
	ErrNoActiveQuiz        = errors.New("no active quiz with questions for this domain")
	ErrAlreadyTaken        = errors.New("exam already taken for this record")
	ErrAttemptElsewhere    = errors.New("exam already running from another session")
	ErrSessionMismatch     = errors.New("session does not match the one that started the exam")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrQuizEmpty           = errors.New("quiz has no questions")
	ErrBadCredentials      = errors.New("invalid credentials")
)
