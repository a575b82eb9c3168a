package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/schedule"
)

// Store wraps pgxpool for Postgres persistence of jobs and notifications.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const uniqueViolation = "23505"

// wrapCreate translates unique-constraint violations into the duplicate
// submission error the scheduler surfaces with a remediation message.
func wrapCreate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrDuplicateSubmission, pgErr.ConstraintName)
	}
	return err
}

// CreateJobParams collects the form fields for one job insert. Dates are
// already-normalized day keys.
type CreateJobParams struct {
	Name        string
	Email       string
	Phone       string
	Company     string
	Coordinator string
	SiteContact string
	TimeStart   string
	TimeEnd     string
	ProjectRef  string

	FlaggerCount           int
	AdditionalFlaggers     bool
	AdditionalFlaggerCount int
	Equipment              []string
	TermsAccepted          bool

	Address string
	City    string
	State   string
	Zip     string
	Message string

	Emergency bool
	Dates     []time.Time
}

// CreateJob inserts a job row plus one job_dates row per day key, in one
// transaction.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()
	equipment := p.Equipment
	if equipment == nil {
		equipment = []string{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, name, email, phone, company, coordinator, site_contact, time_start, time_end,
			project_ref, flagger_count, additional_flaggers, additional_flagger_count, equipment, terms_accepted,
			address, city, state, zip, message, emergency, cancelled, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,FALSE,1,$22,$22)
	`, id, p.Name, p.Email, p.Phone, p.Company, p.Coordinator, p.SiteContact, p.TimeStart, p.TimeEnd,
		p.ProjectRef, p.FlaggerCount, p.AdditionalFlaggers, p.AdditionalFlaggerCount, equipment, p.TermsAccepted,
		p.Address, p.City, p.State, p.Zip, p.Message, p.Emergency, now)
	if err != nil {
		return models.Job{}, wrapCreate(fmt.Errorf("insert job: %w", err))
	}

	entries := make([]models.DateEntry, 0, len(p.Dates))
	for _, d := range p.Dates {
		e := models.DateEntry{ID: uuid.New().String(), Date: d}
		_, err = tx.Exec(ctx, `
			INSERT INTO job_dates (id, job_id, date) VALUES ($1, $2, $3)
		`, e.ID, id, e.Date)
		if err != nil {
			return models.Job{}, wrapCreate(fmt.Errorf("insert job date: %w", err))
		}
		entries = append(entries, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:                     id,
		Name:                   p.Name,
		Email:                  p.Email,
		Phone:                  p.Phone,
		Company:                p.Company,
		Coordinator:            p.Coordinator,
		SiteContact:            p.SiteContact,
		TimeStart:              p.TimeStart,
		TimeEnd:                p.TimeEnd,
		ProjectRef:             p.ProjectRef,
		FlaggerCount:           p.FlaggerCount,
		AdditionalFlaggers:     p.AdditionalFlaggers,
		AdditionalFlaggerCount: p.AdditionalFlaggerCount,
		Equipment:              equipment,
		TermsAccepted:          p.TermsAccepted,
		Address:                p.Address,
		City:                   p.City,
		State:                  p.State,
		Zip:                    p.Zip,
		Message:                p.Message,
		Emergency:              p.Emergency,
		JobDates:               entries,
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

const jobColumns = `id, name, email, phone, company, coordinator, site_contact, time_start, time_end,
	project_ref, flagger_count, additional_flaggers, additional_flagger_count, equipment, terms_accepted,
	address, city, state, zip, message, emergency, cancelled, cancelled_at, version, created_at, updated_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Name, &j.Email, &j.Phone, &j.Company, &j.Coordinator, &j.SiteContact,
		&j.TimeStart, &j.TimeEnd, &j.ProjectRef, &j.FlaggerCount, &j.AdditionalFlaggers,
		&j.AdditionalFlaggerCount, &j.Equipment, &j.TermsAccepted, &j.Address, &j.City, &j.State,
		&j.Zip, &j.Message, &j.Emergency, &j.Cancelled, &j.CancelledAt, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// GetJob fetches a job with its date entries.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if j.JobDates, err = s.loadDates(ctx, id); err != nil {
		return models.Job{}, err
	}
	return j, nil
}

func (s *Store) loadDates(ctx context.Context, jobID string) ([]models.DateEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, date, cancelled, cancelled_at, rescheduled, rescheduled_at, original_date
		FROM job_dates WHERE job_id = $1 ORDER BY date
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job dates: %w", err)
	}
	defer rows.Close()

	var out []models.DateEntry
	for rows.Next() {
		var e models.DateEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.Cancelled, &e.CancelledAt, &e.Rescheduled, &e.RescheduledAt, &e.OriginalDate); err != nil {
			return nil, fmt.Errorf("scan job date: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveJob rewrites a job's scalar fields and replaces its date entries,
// guarded by a version compare-and-swap. A lost race returns ErrVersionConflict.
func (s *Store) SaveJob(ctx context.Context, j models.Job, expectedVersion int) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	equipment := j.Equipment
	if equipment == nil {
		equipment = []string{}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET name=$2, email=$3, phone=$4, company=$5, coordinator=$6, site_contact=$7,
			time_start=$8, time_end=$9, project_ref=$10, flagger_count=$11, additional_flaggers=$12,
			additional_flagger_count=$13, equipment=$14, terms_accepted=$15, address=$16, city=$17,
			state=$18, zip=$19, message=$20, emergency=$21, cancelled=$22, cancelled_at=$23,
			version=version+1, updated_at=$24
		WHERE id=$1 AND version=$25
	`, j.ID, j.Name, j.Email, j.Phone, j.Company, j.Coordinator, j.SiteContact,
		j.TimeStart, j.TimeEnd, j.ProjectRef, j.FlaggerCount, j.AdditionalFlaggers,
		j.AdditionalFlaggerCount, equipment, j.TermsAccepted, j.Address, j.City,
		j.State, j.Zip, j.Message, j.Emergency, j.Cancelled, j.CancelledAt, now, expectedVersion)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Job{}, fmt.Errorf("job %s version %d: %w", j.ID, expectedVersion, models.ErrVersionConflict)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM job_dates WHERE job_id = $1`, j.ID); err != nil {
		return models.Job{}, fmt.Errorf("clear job dates: %w", err)
	}
	for i, e := range j.JobDates {
		if e.ID == "" {
			e.ID = uuid.New().String()
			j.JobDates[i].ID = e.ID
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO job_dates (id, job_id, date, cancelled, cancelled_at, rescheduled, rescheduled_at, original_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, e.ID, j.ID, e.Date, e.Cancelled, e.CancelledAt, e.Rescheduled, e.RescheduledAt, e.OriginalDate)
		if err != nil {
			return models.Job{}, wrapCreate(fmt.Errorf("insert job date: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}
	j.Version = expectedVersion + 1
	j.UpdatedAt = now
	return j, nil
}

// CountActiveDates counts non-cancelled date entries of non-cancelled jobs
// falling on the given day. This is the capacity query; it always reads
// current state.
func (s *Store) CountActiveDates(ctx context.Context, day schedule.Day) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM job_dates d
		JOIN jobs j ON j.id = d.job_id
		WHERE d.date >= $1 AND d.date < $2 AND NOT d.cancelled AND NOT j.cancelled
	`, day.Start, day.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active dates: %w", err)
	}
	return n, nil
}

// JobsOnDay lists jobs holding a non-cancelled entry on the day.
func (s *Store) JobsOnDay(ctx context.Context, day schedule.Day) ([]models.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE NOT cancelled AND id IN (
			SELECT job_id FROM job_dates WHERE date >= $1 AND date < $2 AND NOT cancelled
		)
		ORDER BY created_at
	`, day.Start, day.End)
}

// JobsInMonth lists jobs with any entry within the month's day-key range.
func (s *Store) JobsInMonth(ctx context.Context, year int, month time.Month) ([]models.Job, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id IN (SELECT job_id FROM job_dates WHERE date >= $1 AND date < $2)
		ORDER BY created_at
	`, start, end)
}

// CancelledJobs lists fully cancelled jobs for a year.
func (s *Store) CancelledJobs(ctx context.Context, year int) ([]models.Job, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE cancelled AND cancelled_at >= $1 AND cancelled_at < $2
		ORDER BY cancelled_at
	`, start, end)
}

// FullDates returns day keys at or over the cap, from the given day onward.
func (s *Store) FullDates(ctx context.Context, from schedule.Day, cap int) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.date
		FROM job_dates d
		JOIN jobs j ON j.id = d.job_id
		WHERE d.date >= $1 AND NOT d.cancelled AND NOT j.cancelled
		GROUP BY d.date
		HAVING COUNT(*) >= $2
		ORDER BY d.date
	`, from.Start, cap)
	if err != nil {
		return nil, fmt.Errorf("query full dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan full date: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) queryJobs(ctx context.Context, sql string, args ...any) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].JobDates, err = s.loadDates(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
