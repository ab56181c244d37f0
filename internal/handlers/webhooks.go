package handlers

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	bursarapi "bizworks/api_bursar/pkg/api/bursar"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/middleware"
	"bizworks/api_bursar/pkg/models"
)

// Paystack webhook payload structure
type PaystackWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
		Currency  string `json:"currency"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
		Metadata struct {
			TopupID string `json:"topup_id"`
			UserID  string `json:"user_id"`
			PlanID  string `json:"plan_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// verifyPaystackSignature verifies the webhook signature using HMAC-SHA512
// of the raw body with the account's secret key.
func verifyPaystackSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandlePaystackWebhook processes Paystack payment notifications. Events are
// deduplicated so Paystack retries never credit an account twice.
func HandlePaystackWebhook(c middleware.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Failed to read body"})
		return
	}

	signature := c.GetHeader("X-Paystack-Signature")
	secretKey := os.Getenv("PAYSTACK_SECRET_KEY")

	if secretKey == "" {
		logger.Error("PAYSTACK_SECRET_KEY not configured; rejecting webhook")
		c.JSON(http.StatusServiceUnavailable, bursarapi.ErrorResponse{Error: "Webhook verification not configured"})
		return
	}
	if !verifyPaystackSignature(body, signature, secretKey) {
		logger.WithFields(logging.Fields{
			"signature": signature,
		}).Warn("Invalid Paystack webhook signature")
		recordWebhookSignatureFailure("paystack")
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "Invalid signature"})
		return
	}

	var payload PaystackWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WithFields(logging.Fields{
			"error": err.Error(),
		}).Warn("Invalid Paystack webhook payload")
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid payload"})
		return
	}

	logger.WithFields(logging.Fields{
		"event":     payload.Event,
		"reference": payload.Data.Reference,
	}).Info("Received Paystack webhook")

	if payload.Event != "charge.success" {
		logger.WithField("event", payload.Event).Debug("Ignoring unhandled Paystack event type")
		c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	eventID := fmt.Sprintf("%s:%s", payload.Event, payload.Data.Reference)

	// Check idempotency - skip if already processed
	if isWebhookAlreadyProcessed("paystack", eventID) {
		logger.WithField("event_id", eventID).Debug("Paystack webhook already processed, skipping")
		c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := creditPaystackTopup(c, payload); err != nil {
		logger.WithError(err).WithField("reference", payload.Data.Reference).Error("Failed to process Paystack webhook")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to process webhook"})
		return
	}

	markWebhookProcessed("paystack", eventID, payload.Event)
	c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// creditPaystackTopup settles the pending topup matching the charge and
// credits the purchased tokens. Settlement and credit share one ledger
// transaction, so a failure leaves the topup pending for Paystack's retry.
func creditPaystackTopup(c middleware.Context, payload PaystackWebhookPayload) error {
	settlement, ok, err := tokenStore.SettleTopup(c.Request.Context(), payload.Data.Reference,
		fmt.Sprintf("Paystack topup %s", payload.Data.Reference))
	if err != nil {
		return fmt.Errorf("failed to settle topup: %w", err)
	}
	if !ok {
		// Reference never issued by us, or the topup was already settled.
		logger.WithFields(logging.Fields{
			"reference": payload.Data.Reference,
		}).Warn("Paystack charge has no matching pending topup")
		return nil
	}

	recordGrant(models.TxTypePurchase)

	logger.WithFields(logging.Fields{
		"topup_id":  settlement.TopupID,
		"user_id":   settlement.UserID,
		"tokens":    settlement.TokenGrant,
		"reference": payload.Data.Reference,
	}).Info("Paystack topup credited")

	planName := ""
	if settlement.PlanID != nil {
		if scanErr := db.QueryRow(`SELECT name FROM bursar.billing_plans WHERE id = $1`, *settlement.PlanID).Scan(&planName); scanErr != nil {
			planName = ""
		}
	}

	if emailService != nil {
		email := settlement.Email
		tokenGrant := settlement.TokenGrant
		amountKobo := settlement.AmountKobo
		available := settlement.Account.AvailableTokens()
		go func() {
			if mailErr := emailService.SendTopupConfirmationEmail(email, planName, tokenGrant, amountKobo, available); mailErr != nil {
				logger.WithError(mailErr).Warn("Failed to send topup confirmation email")
			}
		}()
	}

	return nil
}

// isWebhookAlreadyProcessed checks if a webhook event was already processed
func isWebhookAlreadyProcessed(provider, eventID string) bool {
	if db == nil {
		return false
	}
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM bursar.webhook_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	return err == nil && exists
}

// markWebhookProcessed marks a webhook event as processed
func markWebhookProcessed(provider, eventID, eventType string) {
	if db == nil {
		return
	}
	_, err := db.Exec(`
		INSERT INTO bursar.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}

func recordWebhookSignatureFailure(provider string) {
	if metrics == nil || metrics.WebhookSignatureFailures == nil {
		return
	}
	metrics.WebhookSignatureFailures.WithLabelValues(provider).Inc()
}
