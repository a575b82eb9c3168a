package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
)

// Email is one fully assembled outbound message.
type Email struct {
	From           string
	To             string
	BCC            []string
	Subject        string
	HTML           string
	AttachmentName string
	Attachment     []byte
}

// Mailer delivers a single email. Implementations must treat delivery as
// fire-and-forget from the booking core's perspective; retries belong to the
// worker loop, not here.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SMTP sends through a plain SMTP relay.
type SMTP struct {
	addr string
	auth smtp.Auth
}

func NewSMTP(addr, user, password string) *SMTP {
	var auth smtp.Auth
	if user != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTP{addr: addr, auth: auth}
}

func (s *SMTP) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := BuildMIME(e)
	if err != nil {
		return err
	}
	rcpts := append([]string{e.To}, e.BCC...)
	if err := smtp.SendMail(s.addr, s.auth, e.From, rcpts, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// BuildMIME renders the message: HTML-only when there is no attachment,
// multipart/mixed otherwise. BCC recipients are deliberately absent from
// the headers; they ride only in the envelope.
func BuildMIME(e Email) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.From)
	fmt.Fprintf(&buf, "To: %s\r\n", e.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", e.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(e.Attachment) == 0 {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(e.HTML)
		return buf.Bytes(), nil
	}

	w := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	part, err := w.CreatePart(htmlHeader)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := part.Write([]byte(e.HTML)); err != nil {
		return nil, err
	}

	name := e.AttachmentName
	if name == "" {
		name = "attachment.pdf"
	}
	attHeader := textproto.MIMEHeader{}
	attHeader.Set("Content-Type", "application/pdf")
	attHeader.Set("Content-Transfer-Encoding", "base64")
	attHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	part, err = w.CreatePart(attHeader)
	if err != nil {
		return nil, fmt.Errorf("create attachment part: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(e.Attachment)
	if _, err := part.Write([]byte(enc)); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
