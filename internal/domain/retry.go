package domain

import "time"

// RetryItem is a delivery that failed and waits for another attempt.
type RetryItem struct {
	Notification  Notification `json:"notification"`
	Email         EmailMessage `json:"email"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     string       `json:"last_error,omitempty"`
}
