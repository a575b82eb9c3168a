package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"traffic-control-backend/internal/capacity"
	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/notify"
	"traffic-control-backend/internal/schedule"
	"traffic-control-backend/internal/store"
	"traffic-control-backend/internal/telemetry"
	"traffic-control-backend/internal/token"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
}

// Scheduler orchestrates the booking flow: normalize requested dates, apply
// the capacity check, then either create jobs directly or defer behind a
// signed confirmation token when additional flaggers are requested.
type Scheduler struct {
	store    Store
	checker  *capacity.Checker
	signer   *token.Signer
	notifier notify.Notifier

	confirmBaseURL string
	manageBaseURL  string
	officePhone    string
	tokenTTL       time.Duration

	Now func() time.Time
}

func New(st Store, checker *capacity.Checker, signer *token.Signer, notifier notify.Notifier,
	confirmBaseURL, manageBaseURL, officePhone string, tokenTTL time.Duration) *Scheduler {
	return &Scheduler{
		store:          st,
		checker:        checker,
		signer:         signer,
		notifier:       notifier,
		confirmBaseURL: confirmBaseURL,
		manageBaseURL:  manageBaseURL,
		officePhone:    officePhone,
		tokenTTL:       tokenTTL,
		Now:            time.Now,
	}
}

// SubmitRequest carries one web-form submission.
type SubmitRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`

	Company     string `json:"company"`
	Coordinator string `json:"coordinator"`
	SiteContact string `json:"siteContact"`
	TimeStart   string `json:"timeStart"`
	TimeEnd     string `json:"timeEnd"`
	ProjectRef  string `json:"projectRef"`

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

	Emergency bool     `json:"emergency"`
	JobDates  []string `json:"jobDate"`
}

// FailedDate reports one requested date that could not be scheduled. These
// are informational; only a batch with zero successes fails the request.
type FailedDate struct {
	Input  string `json:"date"`
	Reason string `json:"reason"`
}

// SubmitResult is the outcome of one submission.
type SubmitResult struct {
	Message              string       `json:"message"`
	RequiresConfirmation bool         `json:"requiresConfirmation,omitempty"`
	ScheduledDates       []string     `json:"scheduledDates"`
	FailedDates          []FailedDate `json:"failedDates,omitempty"`
	CreatedJobs          []models.Job `json:"createdJobs,omitempty"`
}

// PendingConfirmation is the deferred booking carried entirely inside the
// signed token; nothing is persisted until the emailed link is clicked.
type PendingConfirmation struct {
	Form         SubmitRequest `json:"form"`
	Dates        []string      `json:"dates"`
	FlaggerCount int           `json:"flaggerCount"`
	Email        string        `json:"email"`
	IssuedAt     time.Time     `json:"issuedAt"`
}

// Submit runs the end-to-end booking flow for one submission. Capacity for
// every requested date is decided in a first pass before any job is created,
// so dates within one batch never contend with each other.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if len(req.JobDates) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: at least one job date is required", models.ErrValidation)
	}

	scheduled, failed, err := s.checkDates(ctx, req.JobDates)
	if err != nil {
		return SubmitResult{}, err
	}
	if len(scheduled) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: dates full", models.ErrCapacity)
	}

	if req.AdditionalFlaggers && req.AdditionalFlaggerCount > 0 {
		return s.deferBooking(ctx, req, scheduled, failed)
	}
	return s.createDirect(ctx, req, scheduled, failed)
}

// checkDates is the first pass: normalize and capacity-check every date,
// partitioning into admissible days and failures.
func (s *Scheduler) checkDates(ctx context.Context, raw []string) ([]schedule.Day, []FailedDate, error) {
	var scheduled []schedule.Day
	var failed []FailedDate
	for _, input := range raw {
		day, err := schedule.Normalize(input)
		if err != nil {
			failed = append(failed, FailedDate{Input: input, Reason: "invalid date"})
			continue
		}
		if containsDay(scheduled, day) {
			failed = append(failed, FailedDate{Input: input, Reason: "duplicate date in request"})
			continue
		}
		full, err := s.checker.IsFull(ctx, day)
		if err != nil {
			return nil, nil, fmt.Errorf("capacity check %s: %w", day.ISO(), err)
		}
		if full {
			telemetry.CapacityRejections.Inc()
			failed = append(failed, FailedDate{Input: input, Reason: "fully booked"})
			continue
		}
		scheduled = append(scheduled, day)
	}
	return scheduled, failed, nil
}

// deferBooking builds the signed pending payload and emails yes/no confirmation
// links. No job records exist until the link is consumed.
func (s *Scheduler) deferBooking(ctx context.Context, req SubmitRequest, scheduled []schedule.Day, failed []FailedDate) (SubmitResult, error) {
	dates := isoDates(scheduled)
	payload := PendingConfirmation{
		Form:         req,
		Dates:        dates,
		FlaggerCount: req.AdditionalFlaggerCount,
		Email:        req.Email,
		IssuedAt:     s.Now().UTC(),
	}
	tok, err := s.signer.Sign(payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("sign pending confirmation: %w", err)
	}

	yesLink := s.confirmLink(tok, "yes")
	noLink := s.confirmLink(tok, "no")
	if err := s.notifier.Notify(ctx, notify.Message{
		Recipient: req.Email,
		Subject:   "Confirm additional flaggers for your traffic control request",
		HTML:      confirmationEmail(req, scheduled, yesLink, noLink),
	}); err != nil {
		log.Printf("scheduler: confirmation email enqueue failed: %v", err)
	}

	telemetry.ConfirmationsIssued.Inc()
	return SubmitResult{
		Message:              "Additional flaggers requested; please confirm via the email we just sent.",
		RequiresConfirmation: true,
		ScheduledDates:       dates,
		FailedDates:          failed,
	}, nil
}

// createDirect is the second pass: one job per admissible day.
func (s *Scheduler) createDirect(ctx context.Context, req SubmitRequest, scheduled []schedule.Day, failed []FailedDate) (SubmitResult, error) {
	jobs, err := s.createJobs(ctx, req, scheduled, req.AdditionalFlaggers, req.AdditionalFlaggerCount)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := s.notifier.Notify(ctx, notify.Message{
		Recipient:     req.Email,
		Subject:       "Traffic control request scheduled",
		HTML:          scheduledEmail(jobs, s.cancelLinks(jobs)),
		AttachmentKey: summaryKey(jobs),
	}); err != nil {
		log.Printf("scheduler: scheduled email enqueue failed: %v", err)
	}

	return SubmitResult{
		Message:        "Traffic control request scheduled.",
		ScheduledDates: isoDates(scheduled),
		FailedDates:    failed,
		CreatedJobs:    jobs,
	}, nil
}

func (s *Scheduler) createJobs(ctx context.Context, req SubmitRequest, days []schedule.Day, additional bool, additionalCount int) ([]models.Job, error) {
	if !additional {
		additionalCount = 0
	}
	jobs := make([]models.Job, 0, len(days))
	for _, day := range days {
		job, err := s.store.CreateJob(ctx, store.CreateJobParams{
			Name:                   req.Name,
			Email:                  req.Email,
			Phone:                  req.Phone,
			Company:                req.Company,
			Coordinator:            req.Coordinator,
			SiteContact:            req.SiteContact,
			TimeStart:              req.TimeStart,
			TimeEnd:                req.TimeEnd,
			ProjectRef:             req.ProjectRef,
			FlaggerCount:           req.FlaggerCount,
			AdditionalFlaggers:     additional,
			AdditionalFlaggerCount: additionalCount,
			Equipment:              req.Equipment,
			TermsAccepted:          req.TermsAccepted,
			Address:                req.Address,
			City:                   req.City,
			State:                  req.State,
			Zip:                    req.Zip,
			Message:                req.Message,
			Emergency:              req.Emergency,
			Dates:                  []time.Time{day.Start},
		})
		if err != nil {
			if errors.Is(err, models.ErrDuplicateSubmission) {
				return nil, fmt.Errorf("%w: a request for this date is already on file; call %s to amend it", models.ErrDuplicateSubmission, s.officePhone)
			}
			return nil, fmt.Errorf("create job for %s: %w", day.ISO(), err)
		}
		telemetry.BookingsCreated.Inc()
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ConfirmResult is the outcome of consuming a confirmation link. The HTTP
// layer turns it into a browser redirect, never a JSON body.
type ConfirmResult struct {
	Jobs    []models.Job
	Dates   []string
	Message string
}

// Confirm verifies an emailed token and, on success, re-checks capacity and
// creates the pending jobs. Any day gone full since issuance fails the whole
// confirmation; this flow never partially creates.
func (s *Scheduler) Confirm(ctx context.Context, rawToken, confirm string) (ConfirmResult, error) {
	if confirm != "yes" && confirm != "no" {
		return ConfirmResult{}, fmt.Errorf("%w: confirm must be yes or no", models.ErrValidation)
	}

	var pending PendingConfirmation
	if !s.signer.Verify(rawToken, &pending) {
		return ConfirmResult{}, models.ErrToken
	}
	if s.tokenTTL > 0 && s.Now().Sub(pending.IssuedAt) > s.tokenTTL {
		return ConfirmResult{}, models.ErrToken
	}
	if len(pending.Dates) == 0 {
		return ConfirmResult{}, models.ErrToken
	}

	days := make([]schedule.Day, 0, len(pending.Dates))
	for _, iso := range pending.Dates {
		day, err := schedule.Normalize(iso)
		if err != nil {
			return ConfirmResult{}, models.ErrToken
		}
		days = append(days, day)
	}

	// Race protection: capacity may have been consumed by direct bookings
	// between token issuance and this click.
	for _, day := range days {
		full, err := s.checker.IsFull(ctx, day)
		if err != nil {
			return ConfirmResult{}, fmt.Errorf("capacity re-check %s: %w", day.ISO(), err)
		}
		if full {
			telemetry.CapacityRejections.Inc()
			return ConfirmResult{}, fmt.Errorf("%w: %s is now fully booked", models.ErrCapacity, day.Display())
		}
	}

	withFlaggers := confirm == "yes"
	jobs, err := s.createJobs(ctx, pending.Form, days, withFlaggers, pending.FlaggerCount)
	if err != nil {
		return ConfirmResult{}, err
	}

	subject := "Traffic control request scheduled with additional flaggers"
	if !withFlaggers {
		subject = "Traffic control request scheduled without additional flaggers"
	}
	if err := s.notifier.Notify(ctx, notify.Message{
		Recipient:     pending.Email,
		Subject:       subject,
		HTML:          scheduledEmail(jobs, s.cancelLinks(jobs)),
		AttachmentKey: summaryKey(jobs),
	}); err != nil {
		log.Printf("scheduler: confirmation outcome email enqueue failed: %v", err)
	}

	telemetry.ConfirmationsUsed.Inc()
	msg := "Jobs scheduled with additional flaggers."
	if !withFlaggers {
		msg = "Jobs scheduled without additional flaggers."
	}
	return ConfirmResult{Jobs: jobs, Dates: isoDates(days), Message: msg}, nil
}

func (s *Scheduler) confirmLink(tok, answer string) string {
	return fmt.Sprintf("%s/confirm-additional-flagger?token=%s&confirm=%s",
		s.confirmBaseURL, url.QueryEscape(tok), answer)
}

func (s *Scheduler) cancelLinks(jobs []models.Job) map[string]string {
	links := make(map[string]string, len(jobs))
	for _, j := range jobs {
		for _, e := range j.JobDates {
			day := schedule.FromKey(e.Date)
			links[j.ID+"|"+day.ISO()] = fmt.Sprintf("%s/cancel-job/%s?date=%s", s.manageBaseURL, j.ID, day.ISO())
		}
	}
	return links
}

// summaryKey names the booking-summary attachment uploaded by the worker.
// One email covers the whole batch, keyed by its first job.
func summaryKey(jobs []models.Job) string {
	if len(jobs) == 0 {
		return ""
	}
	return fmt.Sprintf("jobs/%s/summary.pdf", jobs[0].ID)
}

func containsDay(days []schedule.Day, day schedule.Day) bool {
	for _, d := range days {
		if d.Equal(day) {
			return true
		}
	}
	return false
}

func isoDates(days []schedule.Day) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.ISO()
	}
	return out
}
