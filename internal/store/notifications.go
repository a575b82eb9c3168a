package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"traffic-control-backend/internal/models"
)

// CreateNotification inserts a queued notification row and returns it with
// its generated id.
func (s *Store) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	n.ID = uuid.New().String()
	n.Status = models.NotifyQueued
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.MaxAttempts == 0 {
		n.MaxAttempts = 5
	}
	bcc := n.BCC
	if bcc == nil {
		bcc = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient, bcc, subject, html, attachment_key, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$9)
	`, n.ID, n.Recipient, bcc, n.Subject, n.HTML, n.AttachmentKey, n.Status, n.MaxAttempts, now)
	if err != nil {
		return models.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// GetNotification fetches a notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	var n models.Notification
	err := s.pool.QueryRow(ctx, `
		SELECT id, recipient, bcc, subject, html, attachment_key, attachment_url, status, attempts, max_attempts, last_error, created_at, updated_at
		FROM notifications WHERE id = $1
	`, id).Scan(&n.ID, &n.Recipient, &n.BCC, &n.Subject, &n.HTML, &n.AttachmentKey, &n.AttachmentURL,
		&n.Status, &n.Attempts, &n.MaxAttempts, &n.LastError, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	return n, nil
}

// MarkNotifySent records a successful delivery.
func (s *Store) MarkNotifySent(ctx context.Context, id, attachmentURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status=$2, attachment_url=$3, last_error=NULL, updated_at=NOW() WHERE id=$1
	`, id, models.NotifySent, attachmentURL)
	return err
}

// UpdateNotifyAttempt records a failed delivery attempt.
func (s *Store) UpdateNotifyAttempt(ctx context.Context, id string, status string, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status=$2, attempts=$3, last_error=$4, updated_at=NOW() WHERE id=$1
	`, id, status, attempts, lastError)
	return err
}
