package handlers

import (
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestEmailServiceIsConfigured(t *testing.T) {
	for _, key := range []string{"SMTP_HOST", "SMTP_USER", "SMTP_PASSWORD", "FROM_EMAIL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	es := NewEmailService(logrus.New())
	if es.IsConfigured() {
		t.Fatal("expected unconfigured email service")
	}

	// Unconfigured sends are silent no-ops.
	if err := es.SendLowBalanceEmail("amaka@lagosmart.ng", 3); err != nil {
		t.Fatalf("expected nil for unconfigured send, got %v", err)
	}

	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "mailer")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("FROM_EMAIL", "no-reply@bizworks.ng")

	es = NewEmailService(logrus.New())
	if !es.IsConfigured() {
		t.Fatal("expected configured email service")
	}
}

func TestRenderTopupTemplate(t *testing.T) {
	es := NewEmailService(logrus.New())

	body, err := es.renderTemplate("topup_confirmed", EmailData{
		PlanName:        "Growth",
		TokensGranted:   500,
		AmountNaira:     5000,
		Currency:        "NGN",
		AvailableTokens: 540,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{"Growth", "500", "540"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q", want)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	es := NewEmailService(logrus.New())
	if _, err := es.renderTemplate("no_such_template", EmailData{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRenderLowBalanceTemplate(t *testing.T) {
	es := NewEmailService(logrus.New())

	body, err := es.renderTemplate("low_balance", EmailData{AvailableTokens: 4})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "4") {
		t.Fatalf("expected body to contain remaining balance")
	}
}
