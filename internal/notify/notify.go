package notify

import (
	"context"
	"fmt"
	"sync"

	"traffic-control-backend/internal/models"
)

// Message is one outbound transactional email. Delivery is asynchronous and
// best-effort; senders log enqueue failures and move on, since the booking
// outcome never depends on mail.
type Message struct {
	Recipient     string
	BCC           []string
	Subject       string
	HTML          string
	AttachmentKey string
}

// Notifier is the capability the scheduling core sends mail through.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Rows persists notification records; implemented by the store.
type Rows interface {
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
}

// Enqueuer pushes a notification id onto the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string) error
}

// Producer persists a notification row and queues its id for the worker.
type Producer struct {
	rows        Rows
	queue       Enqueuer
	maxAttempts int
}

func NewProducer(rows Rows, queue Enqueuer, maxAttempts int) *Producer {
	return &Producer{rows: rows, queue: queue, maxAttempts: maxAttempts}
}

func (p *Producer) Notify(ctx context.Context, msg Message) error {
	n, err := p.rows.CreateNotification(ctx, models.Notification{
		Recipient:     msg.Recipient,
		BCC:           msg.BCC,
		Subject:       msg.Subject,
		HTML:          msg.HTML,
		AttachmentKey: msg.AttachmentKey,
		MaxAttempts:   p.maxAttempts,
	})
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	if err := p.queue.Enqueue(ctx, n.ID); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}
	return nil
}

// Recorder captures messages for tests instead of delivering them.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the captured messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
