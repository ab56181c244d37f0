package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"strconv"
	"time"

	"bizworks/api_bursar/pkg/logging"
)

// EmailService handles email notifications
type EmailService struct {
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	fromEmail    string
	fromName     string
	logger       logging.Logger
}

// EmailData represents data for email templates
type EmailData struct {
	BusinessName    string
	PlanName        string
	TokensGranted   int64
	AmountNaira     float64
	Currency        string
	AvailableTokens int64
	TrialEndDate    *time.Time
	LoginURL        string
}

// NewEmailService creates a new email service instance
func NewEmailService(logger logging.Logger) *EmailService {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587 // Default SMTP port
	}

	return &EmailService{
		smtpHost:     os.Getenv("SMTP_HOST"),
		smtpPort:     port,
		smtpUser:     os.Getenv("SMTP_USER"),
		smtpPassword: os.Getenv("SMTP_PASSWORD"),
		fromEmail:    os.Getenv("FROM_EMAIL"),
		fromName:     os.Getenv("FROM_NAME"),
		logger:       logger,
	}
}

// IsConfigured checks if email service is properly configured
func (es *EmailService) IsConfigured() bool {
	return es.smtpHost != "" && es.smtpUser != "" && es.smtpPassword != "" && es.fromEmail != ""
}

// SendWelcomeEmail sends the trial welcome message after an account is provisioned
func (es *EmailService) SendWelcomeEmail(email, businessName string, tokensGranted int64, trialEndDate *time.Time) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping welcome email")
		return nil
	}

	subject := "Welcome to BizWorks - Your AI Tokens Are Ready"

	data := EmailData{
		BusinessName:  businessName,
		TokensGranted: tokensGranted,
		TrialEndDate:  trialEndDate,
		LoginURL:      os.Getenv("BASE_URL") + "/login",
	}

	body, err := es.renderTemplate("welcome", data)
	if err != nil {
		return fmt.Errorf("failed to render welcome template: %w", err)
	}

	return es.sendEmail(email, subject, body)
}

// SendTopupConfirmationEmail sends notification when a Paystack purchase is credited
func (es *EmailService) SendTopupConfirmationEmail(email, planName string, tokensGranted, amountKobo int64, availableTokens int64) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping topup confirmation email")
		return nil
	}

	subject := fmt.Sprintf("Payment Confirmed - %d Tokens Added", tokensGranted)

	data := EmailData{
		PlanName:        planName,
		TokensGranted:   tokensGranted,
		AmountNaira:     float64(amountKobo) / 100,
		Currency:        "NGN",
		AvailableTokens: availableTokens,
		LoginURL:        os.Getenv("BASE_URL") + "/login",
	}

	body, err := es.renderTemplate("topup_confirmed", data)
	if err != nil {
		return fmt.Errorf("failed to render topup confirmation template: %w", err)
	}

	return es.sendEmail(email, subject, body)
}

// SendLowBalanceEmail sends a reminder when an account is running out of tokens
func (es *EmailService) SendLowBalanceEmail(email string, availableTokens int64) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping low balance email")
		return nil
	}

	subject := "Your BizWorks Token Balance Is Running Low"

	data := EmailData{
		AvailableTokens: availableTokens,
		LoginURL:        os.Getenv("BASE_URL") + "/billing",
	}

	body, err := es.renderTemplate("low_balance", data)
	if err != nil {
		return fmt.Errorf("failed to render low balance template: %w", err)
	}

	return es.sendEmail(email, subject, body)
}

// sendEmail sends an email via SMTP
func (es *EmailService) sendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", es.smtpUser, es.smtpPassword, es.smtpHost)

	fromHeader := es.fromEmail
	if es.fromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", es.fromName, es.fromEmail)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		fromHeader, to, subject, body)

	addr := fmt.Sprintf("%s:%d", es.smtpHost, es.smtpPort)
	err := smtp.SendMail(addr, auth, es.fromEmail, []string{to}, []byte(msg))

	if err != nil {
		es.logger.WithFields(logging.Fields{
			"error":   err.Error(),
			"to":      to,
			"subject": subject,
		}).Error("Failed to send email")
		return err
	}

	es.logger.WithFields(logging.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Email sent successfully")

	return nil
}

// renderTemplate renders an email template with data
func (es *EmailService) renderTemplate(templateName string, data EmailData) (string, error) {
	templates := map[string]string{
		"welcome": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome to BizWorks</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2c3e50;">Welcome to BizWorks!</h2>

        <p>Hello{{if .BusinessName}} {{.BusinessName}}{{end}},</p>

        <p>Your account is ready and we've added free AI tokens to get you started:</p>

        <div style="background-color: #f8f9fa; padding: 20px; border-radius: 5px; margin: 20px 0;">
            <p><strong>Free Tokens:</strong> {{.TokensGranted}}</p>
            {{if .TrialEndDate}}<p><strong>Trial Ends:</strong> {{.TrialEndDate.Format "January 2, 2006"}}</p>{{end}}
        </div>

        <p>Use them to chat with your AI business advisor, generate documents, write job descriptions and more.</p>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #3498db; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Get Started</a>
        </p>

        <p>Best regards,<br>The BizWorks Team</p>
    </div>
</body>
</html>`,

		"topup_confirmed": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payment Confirmed</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #27ae60;">Payment Confirmed!</h2>

        <p>Hello,</p>

        <p>We've received your payment and your tokens have been added. Thank you!</p>

        <div style="background-color: #d4edda; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #27ae60;">
            {{if .PlanName}}<p><strong>Plan:</strong> {{.PlanName}}</p>{{end}}
            <p><strong>Tokens Added:</strong> {{.TokensGranted}}</p>
            <p><strong>Amount Paid:</strong> &#8358;{{printf "%.2f" .AmountNaira}}</p>
            <p><strong>New Balance:</strong> {{.AvailableTokens}} tokens</p>
        </div>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #3498db; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Open Dashboard</a>
        </p>

        <p>Best regards,<br>The BizWorks Team</p>
    </div>
</body>
</html>`,

		"low_balance": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Low Token Balance</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #f39c12;">Your Token Balance Is Running Low</h2>

        <p>Hello,</p>

        <p>You have <strong>{{.AvailableTokens}}</strong> tokens left. Top up now so your AI assistant stays available when you need it.</p>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #f39c12; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Buy Tokens</a>
        </p>

        <p>If you have any questions or need assistance, please contact our support team.</p>

        <p>Best regards,<br>The BizWorks Team</p>
    </div>
</body>
</html>`,
	}

	tmplContent, exists := templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	tmpl, err := template.New(templateName).Parse(tmplContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
