package worker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"traffic-control-backend/internal/config"
	"traffic-control-backend/internal/mailer"
	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/queue"
)

type fakeRows struct {
	rows map[string]models.Notification
}

func (f *fakeRows) GetNotification(_ context.Context, id string) (models.Notification, error) {
	n, ok := f.rows[id]
	if !ok {
		return models.Notification{}, models.ErrNotFound
	}
	return n, nil
}

func (f *fakeRows) MarkNotifySent(_ context.Context, id, attachmentURL string) error {
	n := f.rows[id]
	n.Status = models.NotifySent
	n.AttachmentURL = attachmentURL
	f.rows[id] = n
	return nil
}

func (f *fakeRows) UpdateNotifyAttempt(_ context.Context, id string, status string, attempts int, lastError string) error {
	n := f.rows[id]
	n.Status = status
	n.Attempts = attempts
	if lastError != "" {
		n.LastError = &lastError
	}
	f.rows[id] = n
	return nil
}

type fakeMailer struct {
	sent []mailer.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, e mailer.Email) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func testProcessor(t *testing.T, m *fakeMailer, rows *fakeRows) (*Processor, *queue.NotifyQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.NewWithClient(client, "", time.Minute)

	cfg := config.Config{
		MailFrom:       "dispatch@example.com",
		OfficeBCC:      []string{"office@example.com"},
		BackoffInitial: time.Second,
		BackoffMax:     time.Minute,
	}
	return NewProcessor(cfg, q, rows, m, SummaryRenderer{}, &fakeUploader{}), q
}

func TestDeliverSendsAndMarksSent(t *testing.T) {
	rows := &fakeRows{rows: map[string]models.Notification{
		"n1": {ID: "n1", Recipient: "pat@example.com", Subject: "hi", HTML: "<p>hi</p>", MaxAttempts: 5},
	}}
	m := &fakeMailer{}
	p, q := testProcessor(t, m, rows)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "n1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, _ := q.DequeueWithLease(ctx)
	p.deliver(ctx, id)

	if len(m.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(m.sent))
	}
	e := m.sent[0]
	if e.To != "pat@example.com" || e.From != "dispatch@example.com" {
		t.Fatalf("addressing wrong: %+v", e)
	}
	if len(e.BCC) != 1 || e.BCC[0] != "office@example.com" {
		t.Fatalf("office bcc missing: %v", e.BCC)
	}
	if rows.rows["n1"].Status != models.NotifySent {
		t.Fatalf("row not marked sent: %+v", rows.rows["n1"])
	}
	if ids, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10); len(ids) != 0 {
		t.Fatalf("sent notification still leased: %v", ids)
	}
}

func TestDeliverRendersAndUploadsAttachment(t *testing.T) {
	rows := &fakeRows{rows: map[string]models.Notification{
		"n1": {ID: "n1", Recipient: "pat@example.com", Subject: "summary", HTML: "<p>hi</p>",
			AttachmentKey: "jobs/j1/summary", MaxAttempts: 5},
	}}
	m := &fakeMailer{}
	p, q := testProcessor(t, m, rows)
	up := &fakeUploader{}
	p.uploader = up
	ctx := context.Background()

	_ = q.Enqueue(ctx, "n1")
	id, _ := q.DequeueWithLease(ctx)
	p.deliver(ctx, id)

	if len(m.sent) != 1 || len(m.sent[0].Attachment) == 0 || m.sent[0].AttachmentName == "" {
		t.Fatalf("attachment not rendered onto the email")
	}
	if len(up.keys) != 1 || up.keys[0] != "jobs/j1/summary" {
		t.Fatalf("attachment not uploaded: %v", up.keys)
	}
	if rows.rows["n1"].AttachmentURL == "" {
		t.Fatalf("attachment url not recorded")
	}
}

func TestDeliverSchedulesRetryOnFailure(t *testing.T) {
	rows := &fakeRows{rows: map[string]models.Notification{
		"n1": {ID: "n1", Recipient: "pat@example.com", Subject: "hi", HTML: "<p>hi</p>", MaxAttempts: 5},
	}}
	m := &fakeMailer{err: errors.New("smtp unavailable")}
	p, q := testProcessor(t, m, rows)
	ctx := context.Background()

	_ = q.Enqueue(ctx, "n1")
	id, _ := q.DequeueWithLease(ctx)
	p.deliver(ctx, id)

	n := rows.rows["n1"]
	if n.Status != models.NotifyFailed || n.Attempts != 1 {
		t.Fatalf("attempt not recorded: %+v", n)
	}
	if n.LastError == nil || *n.LastError != "smtp unavailable" {
		t.Fatalf("last error not recorded: %+v", n)
	}

	// The retry sits in the scheduled set until its backoff elapses.
	promoted, err := q.PromoteScheduled(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil || promoted != 1 {
		t.Fatalf("promoted = %d, err = %v", promoted, err)
	}
}

func TestDeliverDeadLettersAtMaxAttempts(t *testing.T) {
	rows := &fakeRows{rows: map[string]models.Notification{
		"n1": {ID: "n1", Recipient: "pat@example.com", Subject: "hi", HTML: "<p>hi</p>",
			Attempts: 4, MaxAttempts: 5},
	}}
	m := &fakeMailer{err: errors.New("smtp unavailable")}
	p, q := testProcessor(t, m, rows)
	ctx := context.Background()

	_ = q.Enqueue(ctx, "n1")
	id, _ := q.DequeueWithLease(ctx)
	p.deliver(ctx, id)

	if rows.rows["n1"].Status != models.NotifyDeadLetter {
		t.Fatalf("expected dead letter status: %+v", rows.rows["n1"])
	}
	ids, err := q.DLQPeek(ctx, 10)
	if err != nil || len(ids) != 1 || ids[0] != "n1" {
		t.Fatalf("dlq contents: %v, err = %v", ids, err)
	}
}

func TestDeliverDropsUnknownAndAlreadySent(t *testing.T) {
	rows := &fakeRows{rows: map[string]models.Notification{
		"n2": {ID: "n2", Recipient: "pat@example.com", Status: models.NotifySent, MaxAttempts: 5},
	}}
	m := &fakeMailer{}
	p, q := testProcessor(t, m, rows)
	ctx := context.Background()

	for _, id := range []string{"unknown", "n2"} {
		_ = q.Enqueue(ctx, id)
		got, _ := q.DequeueWithLease(ctx)
		p.deliver(ctx, got)
	}
	if len(m.sent) != 0 {
		t.Fatalf("nothing should be sent: %v", m.sent)
	}
	if ids, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10); len(ids) != 0 {
		t.Fatalf("dropped ids still leased: %v", ids)
	}
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	for attempt := 1; attempt < 10; attempt++ {
		b := backoffWithJitter(base, max, attempt)
		if b > max {
			t.Fatalf("attempt %d exceeded max: %s", attempt, b)
		}
	}

	// Zero base backoff must not panic on the jitter draw.
	if b := backoffWithJitter(0, max, 1); b != 0 {
		t.Fatalf("zero base should back off zero, got %s", b)
	}
	if b := backoffWithJitter(time.Nanosecond, max, 1); b > max {
		t.Fatalf("sub-divisible base out of range: %s", b)
	}
}
