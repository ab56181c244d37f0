package handlers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	bursarapi "bizworks/api_bursar/pkg/api/bursar"
	"bizworks/api_bursar/pkg/billing"
	"bizworks/api_bursar/pkg/ctxkeys"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/middleware"
	"bizworks/api_bursar/pkg/models"
)

const paystackBaseURL = "https://api.paystack.co"

// Billing API Endpoints

// GetPlans returns all active token bundles
func GetPlans(c middleware.Context) {
	rows, err := db.Query(`
		SELECT id, name, token_grant, monthly_token_grant, price_kobo, currency, active, created_at
		FROM bursar.billing_plans
		WHERE active = true
		ORDER BY price_kobo ASC
	`)

	if err != nil {
		logger.WithFields(logging.Fields{
			"error": err,
		}).Error("Failed to fetch billing plans")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch plans"})
		return
	}
	defer rows.Close()

	var plans []models.BillingPlan
	for rows.Next() {
		var plan models.BillingPlan
		err := rows.Scan(&plan.ID, &plan.Name, &plan.TokenGrant, &plan.MonthlyTokenGrant,
			&plan.PriceKobo, &plan.Currency, &plan.Active, &plan.CreatedAt)
		if err != nil {
			logger.WithFields(logging.Fields{
				"error": err,
			}).Error("Error scanning billing plan")
			continue
		}
		plans = append(plans, plan)
	}

	c.JSON(http.StatusOK, bursarapi.PlansResponse{Plans: plans})
}

// StartTopup creates a pending topup and hands the user off to Paystack checkout
func StartTopup(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	email := c.GetString(string(ctxkeys.KeyEmail))

	var req bursarapi.TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "plan_id is required"})
		return
	}

	var plan models.BillingPlan
	err := db.QueryRow(`
		SELECT id, name, token_grant, price_kobo, currency
		FROM bursar.billing_plans
		WHERE id = $1 AND active = true
	`, req.PlanID).Scan(&plan.ID, &plan.Name, &plan.TokenGrant, &plan.PriceKobo, &plan.Currency)

	if err != nil {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Plan not found"})
		return
	}

	topupID := uuid.New().String()
	_, err = db.Exec(`
		INSERT INTO bursar.topups (id, user_id, email, plan_id, amount_kobo, token_grant, provider, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'paystack', 'pending')
	`, topupID, userID, email, plan.ID, plan.PriceKobo, plan.TokenGrant)

	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
			"plan_id": plan.ID,
		}).Error("Failed to create topup record")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to start topup"})
		return
	}

	authorizationURL, reference, err := initializePaystackTransaction(email, topupID, userID, plan)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"topup_id": topupID,
		}).Error("Failed to initialize Paystack transaction")
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "Failed to start payment"})
		return
	}

	_, err = db.Exec(`UPDATE bursar.topups SET provider_ref = $1 WHERE id = $2`, reference, topupID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":    err,
			"topup_id": topupID,
		}).Error("Failed to store Paystack reference")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to start topup"})
		return
	}

	logger.WithFields(logging.Fields{
		"topup_id":  topupID,
		"user_id":   userID,
		"plan_id":   plan.ID,
		"reference": reference,
		"amount":    plan.PriceKobo,
	}).Info("Created Paystack topup")

	c.JSON(http.StatusOK, bursarapi.TopupResponse{
		TopupID:          topupID,
		AuthorizationURL: authorizationURL,
		Reference:        reference,
		AmountKobo:       plan.PriceKobo,
		Currency:         billing.DefaultCurrency(),
	})
}

func initializePaystackTransaction(email, topupID, userID string, plan models.BillingPlan) (string, string, error) {
	secretKey := os.Getenv("PAYSTACK_SECRET_KEY")
	if secretKey == "" {
		return "", "", fmt.Errorf("Paystack not configured")
	}

	client := resty.New()

	payload := map[string]interface{}{
		"email":        email,
		"amount":       plan.PriceKobo,
		"currency":     plan.Currency,
		"callback_url": os.Getenv("BASE_URL") + "/billing/topup/complete",
		"metadata": map[string]string{
			"topup_id": topupID,
			"user_id":  userID,
			"plan_id":  plan.ID,
		},
	}

	var result struct {
		Status bool   `json:"status"`
		Msg    string `json:"message"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}

	resp, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+secretKey).
		SetBody(payload).
		SetResult(&result).
		Post(paystackBaseURL + "/transaction/initialize")

	if err != nil {
		return "", "", fmt.Errorf("paystack API request failed: %v", err)
	}

	if resp.StatusCode() != 200 || !result.Status {
		return "", "", fmt.Errorf("paystack API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	if result.Data.AuthorizationURL == "" || result.Data.Reference == "" {
		return "", "", fmt.Errorf("invalid paystack response: missing authorization URL or reference")
	}

	return result.Data.AuthorizationURL, result.Data.Reference, nil
}
