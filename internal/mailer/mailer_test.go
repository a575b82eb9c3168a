package mailer

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestBuildMIMEWithoutAttachment(t *testing.T) {
	body, err := BuildMIME(Email{
		From:    "dispatch@example.com",
		To:      "pat@example.com",
		BCC:     []string{"office@example.com"},
		Subject: "Traffic control request scheduled",
		HTML:    "<p>See you Monday.</p>",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	msg := string(body)
	for _, want := range []string{
		"From: dispatch@example.com\r\n",
		"To: pat@example.com\r\n",
		"Subject: Traffic control request scheduled\r\n",
		"Content-Type: text/html; charset=utf-8",
		"<p>See you Monday.</p>",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "office@example.com") {
		t.Fatalf("bcc recipient leaked into headers:\n%s", msg)
	}
	if strings.Contains(msg, "multipart") {
		t.Fatalf("attachment-free message should be plain html:\n%s", msg)
	}
}

func TestBuildMIMEWithAttachment(t *testing.T) {
	payload := []byte("%PDF-1.4 fake document body")
	body, err := BuildMIME(Email{
		From:           "dispatch@example.com",
		To:             "pat@example.com",
		Subject:        "Job summary",
		HTML:           "<p>Summary attached.</p>",
		AttachmentName: "summary.pdf",
		Attachment:     payload,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	msg := string(body)
	for _, want := range []string{
		"Content-Type: multipart/mixed; boundary=",
		"Content-Type: text/html; charset=utf-8",
		"<p>Summary attached.</p>",
		"Content-Type: application/pdf",
		`filename="summary.pdf"`,
		base64.StdEncoding.EncodeToString(payload),
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestBuildMIMEDefaultsAttachmentName(t *testing.T) {
	body, err := BuildMIME(Email{
		From:       "dispatch@example.com",
		To:         "pat@example.com",
		Subject:    "Job summary",
		HTML:       "<p>hi</p>",
		Attachment: []byte("x"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(string(body), `filename="attachment.pdf"`) {
		t.Fatalf("default attachment name missing:\n%s", body)
	}
}
