package models

import (
	"time"
)

// Job represents one traffic-control booking persisted in Postgres.
// Direct submissions create one job per scheduled day, but a job owns a
// list of date entries so later edits can carry multiple days.
type Job struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Email string `json:"email"`
	Phone string `json:"phone"`

	Company                string   `json:"company"`
	Coordinator            string   `json:"coordinator"`
	SiteContact            string   `json:"siteContact"`
	TimeStart              string   `json:"timeStart"`
	TimeEnd                string   `json:"timeEnd"`
	ProjectRef             string   `json:"projectRef"`
	FlaggerCount           int      `json:"flaggerCount"`
	AdditionalFlaggers     bool     `json:"additionalFlaggers"`
	AdditionalFlaggerCount int      `json:"additionalFlaggerCount"`
	Equipment              []string `json:"equipment"`
	TermsAccepted          bool     `json:"termsAccepted"`

	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Message string `json:"message"`

	JobDates []DateEntry `json:"jobDates"`

	Emergency   bool       `json:"emergency"`
	Cancelled   bool       `json:"cancelled"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`

	// Version guards lifecycle mutations with a compare-and-swap write.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DateEntry is one schedulable day belonging to a job, independently
// cancellable and reschedulable. Date is always a day key: the
// Eastern-observed calendar date encoded as midnight UTC.
type DateEntry struct {
	ID            string     `json:"id"`
	Date          time.Time  `json:"date"`
	Cancelled     bool       `json:"cancelled"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	Rescheduled   bool       `json:"rescheduled"`
	RescheduledAt *time.Time `json:"rescheduledAt,omitempty"`
	OriginalDate  *time.Time `json:"originalDate,omitempty"`
}

// AllCancelled reports whether every date entry is cancelled. The job-level
// cancelled flag must equal this after every mutation.
func AllCancelled(entries []DateEntry) bool {
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if !e.Cancelled {
			return false
		}
	}
	return true
}

// NotificationStatus enumerates delivery states persisted in Postgres.
const (
	NotifyQueued     = "queued"
	NotifySending    = "sending"
	NotifySent       = "sent"
	NotifyFailed     = "failed"
	NotifyDeadLetter = "dead_lettered"
)

// Notification is a queued outbound email row. The Redis queue carries
// only the id; the body lives here.
type Notification struct {
	ID            string     `json:"id"`
	Recipient     string     `json:"recipient"`
	BCC           []string   `json:"bcc,omitempty"`
	Subject       string     `json:"subject"`
	HTML          string     `json:"html"`
	AttachmentKey string     `json:"attachment_key,omitempty"`
	AttachmentURL string     `json:"attachment_url,omitempty"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
