package notification

import (
	"context"
	"strings"
	"testing"
)

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	e := NewTemplateEngine()
	for _, id := range []string{"signature-request", "signature-completed", "signature-declined", "signature-reminder"} {
		if _, _, err := e.Render(id, nil); err != nil {
			t.Errorf("expected built-in template %q, got error: %v", id, err)
		}
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render("signature-request", map[string]string{
		"requested_by":   "Dr. Rivera",
		"recipient_name": "Jordan Lee",
		"document_title": "Treatment Consent",
		"expires_at":     "2026-09-14",
		"signing_link":   "https://portal.example.com/sign/sig-abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "Dr. Rivera") || !strings.Contains(subject, "Treatment Consent") {
		t.Errorf("subject not rendered: %q", subject)
	}
	if !strings.Contains(body, "https://portal.example.com/sign/sig-abc") {
		t.Errorf("body missing signing link: %q", body)
	}
	if strings.Contains(body, "{{") {
		t.Errorf("body has unreplaced placeholders: %q", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingDataLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render("signature-declined", map[string]string{"recipient_name": "Jordan"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{reason}}") {
		t.Errorf("expected unreplaced placeholder to remain, got %q", body)
	}
}

func TestTemplateEngine_RegisterTemplate(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{
		ID:      "custom",
		Subject: "Hello {{name}}",
		Body:    "Hi {{name}}",
		Type:    TypeSMS,
	})
	subject, _, err := e.Render("custom", map[string]string{"name": "Pat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Pat" {
		t.Errorf("expected rendered subject, got %q", subject)
	}
}

func TestManager_SendEmail(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	mgr := NewNotificationManager(email, sms, NewTemplateEngine())

	n := &Notification{
		Type:      TypeEmail,
		Recipient: "client@example.com",
		Subject:   "Signature needed",
		Body:      "Please sign.",
	}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != "sent" {
		t.Errorf("expected status sent, got %q", n.Status)
	}
	if n.SentAt == nil {
		t.Error("expected SentAt to be set")
	}
	calls := email.Calls()
	if len(calls) != 1 || calls[0].To != "client@example.com" {
		t.Errorf("unexpected email calls: %+v", calls)
	}
}

func TestManager_SendFailure(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp unavailable"}
	mgr := NewNotificationManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Type: TypeEmail, Recipient: "client@example.com", Body: "x"}
	if err := mgr.Send(context.Background(), n); err == nil {
		t.Fatal("expected send error")
	}
	if n.Status != "failed" {
		t.Errorf("expected status failed, got %q", n.Status)
	}
	if n.Error != "smtp unavailable" {
		t.Errorf("expected error recorded, got %q", n.Error)
	}
}

func TestManager_Retry(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp unavailable"}
	mgr := NewNotificationManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Type: TypeEmail, Recipient: "client@example.com", Body: "x"}
	_ = mgr.Send(context.Background(), n)

	email.ShouldFail = false
	if err := mgr.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	got, err := mgr.GetNotification(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "sent" || got.Error != "" {
		t.Errorf("expected sent after retry, got status=%q error=%q", got.Status, got.Error)
	}
}

func TestManager_RetryNonFailed(t *testing.T) {
	mgr := NewNotificationManager(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine())
	n := &Notification{Type: TypeEmail, Recipient: "client@example.com", Body: "x"}
	_ = mgr.Send(context.Background(), n)

	if err := mgr.Retry(context.Background(), n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
}

func TestManager_SendFromTemplate(t *testing.T) {
	email := &MockEmailSender{}
	mgr := NewNotificationManager(email, &MockSMSSender{}, NewTemplateEngine())

	n, err := mgr.SendFromTemplate(context.Background(), "signature-completed", map[string]string{
		"recipient_name": "Dr. Rivera",
		"document_title": "Treatment Consent",
		"signed_at":      "2026-08-31",
	}, "rivera@clinic.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.TemplateID != "signature-completed" {
		t.Errorf("expected template id recorded, got %q", n.TemplateID)
	}
	calls := email.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].Subject, "Treatment Consent") {
		t.Errorf("unexpected email calls: %+v", calls)
	}
}

func TestManager_ListByRecipientAndStats(t *testing.T) {
	mgr := NewNotificationManager(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine())
	for i := 0; i < 3; i++ {
		_ = mgr.Send(context.Background(), &Notification{Type: TypeEmail, Recipient: "a@example.com", Body: "x"})
	}
	_ = mgr.Send(context.Background(), &Notification{Type: TypeEmail, Recipient: "b@example.com", Body: "y"})

	list, err := mgr.ListByRecipient(context.Background(), "a@example.com", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 notifications for a@example.com, got %d", len(list))
	}

	stats := mgr.NotificationStats(context.Background())
	if stats["sent"] != 4 {
		t.Errorf("expected 4 sent, got %d", stats["sent"])
	}
}
