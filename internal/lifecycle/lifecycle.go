package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"traffic-control-backend/internal/capacity"
	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/notify"
	"traffic-control-backend/internal/schedule"
	"traffic-control-backend/internal/telemetry"
)

// Store is the persistence surface lifecycle mutations need. SaveJob is a
// compare-and-swap write keyed on the version read by GetJob.
type Store interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	SaveJob(ctx context.Context, j models.Job, expectedVersion int) (models.Job, error)
}

// Manager applies post-creation mutations to jobs: whole-job field updates,
// per-date reschedules and cancellations, and whole-job cancellation.
type Manager struct {
	store    Store
	checker  *capacity.Checker
	notifier notify.Notifier

	manageBaseURL string

	Now func() time.Time
}

func New(st Store, checker *capacity.Checker, notifier notify.Notifier, manageBaseURL string) *Manager {
	return &Manager{
		store:         st,
		checker:       checker,
		notifier:      notifier,
		manageBaseURL: manageBaseURL,
		Now:           time.Now,
	}
}

// UpdateJobParams is the allow-list of patchable scalar fields. Nil means
// leave unchanged. Identity, version, and cancellation state are never
// patchable; date changes go through ReplaceDates or Reschedule.
type UpdateJobParams struct {
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Company     *string `json:"company,omitempty"`
	Coordinator *string `json:"coordinator,omitempty"`
	SiteContact *string `json:"siteContact,omitempty"`
	TimeStart   *string `json:"timeStart,omitempty"`
	TimeEnd     *string `json:"timeEnd,omitempty"`
	ProjectRef  *string `json:"projectRef,omitempty"`

	FlaggerCount           *int      `json:"flaggerCount,omitempty"`
	AdditionalFlaggers     *bool     `json:"additionalFlaggers,omitempty"`
	AdditionalFlaggerCount *int      `json:"additionalFlaggerCount,omitempty"`
	Equipment              *[]string `json:"equipment,omitempty"`

	Address *string `json:"address,omitempty"`
	City    *string `json:"city,omitempty"`
	State   *string `json:"state,omitempty"`
	Zip     *string `json:"zip,omitempty"`
	Message *string `json:"message,omitempty"`

	Emergency *bool `json:"emergency,omitempty"`

	// JobDates, when present, replaces the whole date list.
	JobDates *[]string `json:"jobDates,omitempty"`
}

// Update applies an allow-listed field patch. If JobDates is present the
// date list is replaced, with a capacity check on every day the job does not
// already hold.
func (m *Manager) Update(ctx context.Context, id string, p UpdateJobParams) (models.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}

	applyString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	applyString(&job.Name, p.Name)
	applyString(&job.Email, p.Email)
	applyString(&job.Phone, p.Phone)
	applyString(&job.Company, p.Company)
	applyString(&job.Coordinator, p.Coordinator)
	applyString(&job.SiteContact, p.SiteContact)
	applyString(&job.TimeStart, p.TimeStart)
	applyString(&job.TimeEnd, p.TimeEnd)
	applyString(&job.ProjectRef, p.ProjectRef)
	applyString(&job.Address, p.Address)
	applyString(&job.City, p.City)
	applyString(&job.State, p.State)
	applyString(&job.Zip, p.Zip)
	applyString(&job.Message, p.Message)
	if p.FlaggerCount != nil {
		job.FlaggerCount = *p.FlaggerCount
	}
	if p.AdditionalFlaggers != nil {
		job.AdditionalFlaggers = *p.AdditionalFlaggers
	}
	if p.AdditionalFlaggerCount != nil {
		job.AdditionalFlaggerCount = *p.AdditionalFlaggerCount
	}
	if p.Equipment != nil {
		job.Equipment = *p.Equipment
	}
	if p.Emergency != nil {
		job.Emergency = *p.Emergency
	}

	if p.JobDates != nil {
		entries, err := m.replacementEntries(ctx, job, *p.JobDates)
		if err != nil {
			return models.Job{}, err
		}
		job.JobDates = entries
	}

	saved, err := m.save(ctx, job)
	if err != nil {
		return models.Job{}, err
	}

	m.email(ctx, saved.Email, "Traffic control job updated", updatedEmail(saved, m.manageBaseURL))
	return saved, nil
}

// ReplaceDates swaps a job's entire date list for a new one.
func (m *Manager) ReplaceDates(ctx context.Context, id string, dates []string) (models.Job, error) {
	return m.Update(ctx, id, UpdateJobParams{JobDates: &dates})
}

// replacementEntries validates a full date-list replacement, running the
// capacity check for each day the job does not already hold.
func (m *Manager) replacementEntries(ctx context.Context, job models.Job, raw []string) ([]models.DateEntry, error) {
	held := make(map[string]bool)
	for _, e := range job.JobDates {
		if !e.Cancelled {
			held[schedule.FromKey(e.Date).ISO()] = true
		}
	}
	var entries []models.DateEntry
	seen := make(map[string]bool)
	for _, input := range raw {
		day, err := schedule.Normalize(input)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", models.ErrValidation, input)
		}
		if seen[day.ISO()] {
			continue
		}
		seen[day.ISO()] = true
		if !held[day.ISO()] {
			full, err := m.checker.IsFull(ctx, day)
			if err != nil {
				return nil, fmt.Errorf("capacity check %s: %w", day.ISO(), err)
			}
			if full {
				telemetry.CapacityRejections.Inc()
				return nil, fmt.Errorf("%w: %s", models.ErrCapacity, day.Display())
			}
		}
		entries = append(entries, models.DateEntry{Date: day.Start})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one job date is required", models.ErrValidation)
	}
	return entries, nil
}

// Reschedule moves one date entry to a new day after a capacity check.
func (m *Manager) Reschedule(ctx context.Context, id, oldDate, newDate string) (models.Job, error) {
	oldDay, err := schedule.Normalize(oldDate)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: invalid oldDate", models.ErrValidation)
	}
	newDay, err := schedule.Normalize(newDate)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: invalid newDate", models.ErrValidation)
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}

	idx := findEntry(job.JobDates, oldDay)
	if idx < 0 {
		return models.Job{}, fmt.Errorf("%w: no entry on %s", models.ErrNotFound, oldDay.ISO())
	}
	entry := &job.JobDates[idx]
	now := m.Now()
	if oldDay.Before(schedule.Today(now)) {
		return models.Job{}, fmt.Errorf("%w: cannot reschedule a past date", models.ErrConflict)
	}
	if entry.Cancelled {
		return models.Job{}, fmt.Errorf("%w: date is cancelled", models.ErrConflict)
	}
	if newDay.Equal(oldDay) {
		return models.Job{}, fmt.Errorf("%w: new date matches the current date", models.ErrValidation)
	}

	full, err := m.checker.IsFull(ctx, newDay)
	if err != nil {
		return models.Job{}, fmt.Errorf("capacity check %s: %w", newDay.ISO(), err)
	}
	if full {
		telemetry.CapacityRejections.Inc()
		return models.Job{}, fmt.Errorf("%w: %s", models.ErrCapacity, newDay.Display())
	}

	original := entry.Date
	at := now.UTC()
	entry.Date = newDay.Start
	entry.Rescheduled = true
	entry.RescheduledAt = &at
	entry.OriginalDate = &original

	saved, err := m.save(ctx, job)
	if err != nil {
		return models.Job{}, err
	}

	m.email(ctx, saved.Email, "Traffic control job rescheduled",
		rescheduledEmail(saved, oldDay, newDay, m.manageBaseURL))
	return saved, nil
}

// CancelDate cancels a single date entry. A second cancel of the same date
// errors rather than silently succeeding, and past days are immutable.
func (m *Manager) CancelDate(ctx context.Context, id, rawDate string) (models.Job, error) {
	day, err := schedule.Normalize(rawDate)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: invalid date", models.ErrValidation)
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	idx := findEntry(job.JobDates, day)
	if idx < 0 {
		return models.Job{}, fmt.Errorf("%w: no entry on %s", models.ErrNotFound, day.ISO())
	}
	entry := &job.JobDates[idx]
	now := m.Now()
	if day.Before(schedule.Today(now)) {
		return models.Job{}, fmt.Errorf("%w: cannot cancel a past date", models.ErrConflict)
	}
	if entry.Cancelled {
		return models.Job{}, fmt.Errorf("%w: date already cancelled", models.ErrConflict)
	}

	at := now.UTC()
	entry.Cancelled = true
	entry.CancelledAt = &at
	m.recomputeCancelled(&job, at)

	saved, err := m.save(ctx, job)
	if err != nil {
		return models.Job{}, err
	}

	m.email(ctx, saved.Email, "Traffic control date cancelled",
		cancelledEmail(saved, []schedule.Day{day}, m.manageBaseURL))
	return saved, nil
}

// CancelJob cancels every non-cancelled, non-past entry. Past entries are
// history and stay untouched; if nothing was eligible the call errors.
func (m *Manager) CancelJob(ctx context.Context, id string) (models.Job, []schedule.Day, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, nil, err
	}

	now := m.Now()
	today := schedule.Today(now)
	at := now.UTC()
	var cancelled []schedule.Day
	for i := range job.JobDates {
		e := &job.JobDates[i]
		day := schedule.FromKey(e.Date)
		if e.Cancelled || day.Before(today) {
			continue
		}
		e.Cancelled = true
		e.CancelledAt = &at
		cancelled = append(cancelled, day)
	}
	if len(cancelled) == 0 {
		return models.Job{}, nil, fmt.Errorf("%w: no future dates available to cancel", models.ErrConflict)
	}
	m.recomputeCancelled(&job, at)

	saved, err := m.save(ctx, job)
	if err != nil {
		return models.Job{}, nil, err
	}

	m.email(ctx, saved.Email, "Traffic control job cancelled",
		cancelledEmail(saved, cancelled, m.manageBaseURL))
	return saved, cancelled, nil
}

// recomputeCancelled maintains the invariant that the job-level flag is true
// iff every entry is cancelled.
func (m *Manager) recomputeCancelled(job *models.Job, at time.Time) {
	if models.AllCancelled(job.JobDates) {
		job.Cancelled = true
		if job.CancelledAt == nil {
			job.CancelledAt = &at
		}
	} else {
		job.Cancelled = false
		job.CancelledAt = nil
	}
}

func (m *Manager) save(ctx context.Context, job models.Job) (models.Job, error) {
	saved, err := m.store.SaveJob(ctx, job, job.Version)
	if errors.Is(err, models.ErrVersionConflict) {
		telemetry.BookingConflicts.Inc()
	}
	return saved, err
}

func (m *Manager) email(ctx context.Context, to, subject, body string) {
	if err := m.notifier.Notify(ctx, notify.Message{Recipient: to, Subject: subject, HTML: body}); err != nil {
		log.Printf("lifecycle: %q email enqueue failed: %v", subject, err)
	}
}

func findEntry(entries []models.DateEntry, day schedule.Day) int {
	for i, e := range entries {
		if day.Contains(e.Date) {
			return i
		}
	}
	return -1
}
