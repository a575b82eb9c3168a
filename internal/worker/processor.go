package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"traffic-control-backend/internal/config"
	"traffic-control-backend/internal/mailer"
	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/queue"
	"traffic-control-backend/internal/telemetry"
)

// Rows is the notification persistence the worker needs.
type Rows interface {
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	MarkNotifySent(ctx context.Context, id, attachmentURL string) error
	UpdateNotifyAttempt(ctx context.Context, id string, status string, attempts int, lastError string) error
}

// AttachmentRenderer produces the document attached to a notification, keyed
// by the notification's attachment key. PDF generation proper lives behind
// this interface.
type AttachmentRenderer interface {
	Render(ctx context.Context, n models.Notification) (name string, body []byte, err error)
}

// Uploader stores a rendered attachment and returns a durable reference.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Processor drives the notification delivery loop: dequeue an id, load the
// row, render and upload any attachment, send the email, and retry with
// backoff until sent or dead-lettered. Delivery never touches job state.
type Processor struct {
	cfg      config.Config
	queue    *queue.NotifyQueue
	rows     Rows
	mailer   mailer.Mailer
	renderer AttachmentRenderer
	uploader Uploader
}

func NewProcessor(cfg config.Config, q *queue.NotifyQueue, rows Rows, m mailer.Mailer, renderer AttachmentRenderer, uploader Uploader) *Processor {
	return &Processor{cfg: cfg, queue: q, rows: rows, mailer: m, renderer: renderer, uploader: uploader}
}

// Run loops until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), 100)
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("worker: reclaimed %d expired leases", len(reclaimed))
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.NotifyQueueDepth.Set(float64(depth))
		}

		id, err := p.queue.DequeueWithLease(ctx)
		if err != nil || id == "" {
			sleep(ctx, p.cfg.WorkerPollInterval)
			continue
		}

		p.deliver(ctx, id)
	}
}

func (p *Processor) deliver(ctx context.Context, id string) {
	n, err := p.rows.GetNotification(ctx, id)
	if err != nil {
		log.Printf("worker: drop unknown notification %s: %v", id, err)
		_ = p.queue.Ack(ctx, id)
		return
	}
	if n.Status == models.NotifySent {
		_ = p.queue.Ack(ctx, id)
		return
	}

	_ = p.rows.UpdateNotifyAttempt(ctx, id, models.NotifySending, n.Attempts, "")

	attachmentURL, err := p.send(ctx, n)
	if err == nil {
		_ = p.queue.Ack(ctx, id)
		_ = p.rows.MarkNotifySent(ctx, id, attachmentURL)
		telemetry.NotificationsSent.Inc()
		return
	}

	attempts := n.Attempts + 1
	if attempts >= n.MaxAttempts {
		_ = p.rows.UpdateNotifyAttempt(ctx, id, models.NotifyDeadLetter, attempts, err.Error())
		_ = p.queue.Ack(ctx, id)
		_ = p.queue.DLQPush(ctx, id)
		telemetry.NotificationsDead.Inc()
		log.Printf("worker: notification %s dead-lettered after %d attempts: %v", id, attempts, err)
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	_ = p.rows.UpdateNotifyAttempt(ctx, id, models.NotifyFailed, attempts, err.Error())
	_ = p.queue.Schedule(ctx, id, time.Now().Add(backoff))
	telemetry.NotificationsFailed.Inc()
	log.Printf("worker: notification %s attempt %d failed, retry in %s: %v", id, attempts, backoff, err)
}

func (p *Processor) send(ctx context.Context, n models.Notification) (string, error) {
	email := mailer.Email{
		From:    p.cfg.MailFrom,
		To:      n.Recipient,
		BCC:     append(append([]string{}, n.BCC...), p.cfg.OfficeBCC...),
		Subject: n.Subject,
		HTML:    n.HTML,
	}

	var attachmentURL string
	if n.AttachmentKey != "" && p.renderer != nil {
		name, body, err := p.renderer.Render(ctx, n)
		if err != nil {
			return "", fmt.Errorf("render attachment: %w", err)
		}
		email.AttachmentName = name
		email.Attachment = body
		if p.uploader != nil {
			url, err := p.uploader.Upload(ctx, n.AttachmentKey, body, "application/pdf")
			if err != nil {
				return "", fmt.Errorf("upload attachment: %w", err)
			}
			attachmentURL = url
		}
	}

	if err := p.mailer.Send(ctx, email); err != nil {
		return "", err
	}
	return attachmentURL, nil
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(half)))
	return half + jitter
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
