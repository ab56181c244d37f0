package handlers

import (
	"net/http"
	"strconv"
	"time"

	bursarapi "bizworks/api_bursar/pkg/api/bursar"
	"bizworks/api_bursar/pkg/ctxkeys"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/middleware"
	"bizworks/api_bursar/pkg/models"
)

// Token API Endpoints

func balanceResponse(account models.TokenAccount) bursarapi.BalanceResponse {
	resp := bursarapi.BalanceResponse{
		UserID:               account.UserID,
		Email:                account.Email,
		TotalTokens:          account.TotalTokens,
		UsedTokens:           account.UsedTokens,
		AvailableTokens:      account.AvailableTokens(),
		DailyTokenLimit:      account.DailyTokenLimit,
		DailyTokensUsed:      account.DailyTokensUsed,
		DailyTokensRemaining: account.DailyTokensRemaining(),
		TrialActive:          account.TrialActive(time.Now()),
	}
	if account.TrialEndDate != nil {
		resp.TrialEndDate = account.TrialEndDate.Format(time.RFC3339)
	}
	return resp
}

func recordConsumption(feature, status string) {
	if metrics == nil || metrics.TokenConsumption == nil {
		return
	}
	metrics.TokenConsumption.WithLabelValues(feature, status).Inc()
}

func recordGrant(txType string) {
	if metrics == nil || metrics.TokenGrants == nil {
		return
	}
	metrics.TokenGrants.WithLabelValues(txType).Inc()
}

// GetBalance returns the token balance for the authenticated user. Users
// without an account row yet get a zeroed snapshot, not an error.
func GetBalance(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))

	account, err := tokenStore.GetBalance(c.Request.Context(), userID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to fetch token balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch balance"})
		return
	}

	c.JSON(http.StatusOK, balanceResponse(account))
}

// ConsumeTokens spends tokens for the authenticated user. A refusal does not
// mutate the account and comes back as 402 with the current balance.
func ConsumeTokens(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))

	var req bursarapi.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Amount must be positive"})
		return
	}
	if req.Feature == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Feature is required"})
		return
	}

	account, consumed, err := tokenStore.Consume(c.Request.Context(), userID, req.Amount, req.Feature, req.Description)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
			"feature": req.Feature,
		}).Error("Failed to consume tokens")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to consume tokens"})
		return
	}

	if !consumed {
		recordConsumption(req.Feature, "refused")
		current, balErr := tokenStore.GetBalance(c.Request.Context(), userID)
		if balErr != nil {
			current = models.TokenAccount{UserID: userID}
		}
		c.JSON(http.StatusPaymentRequired, bursarapi.ConsumeResponse{
			Consumed: false,
			Balance:  balanceResponse(current),
			Error:    "Insufficient tokens",
		})
		return
	}

	recordConsumption(req.Feature, "consumed")
	c.JSON(http.StatusOK, bursarapi.ConsumeResponse{
		Consumed: true,
		Balance:  balanceResponse(account),
	})
}

// ServiceConsume spends tokens on behalf of a user for another internal
// service. The account is provisioned first so brand new users can be
// charged their welcome grant immediately.
func ServiceConsume(c middleware.Context) {
	var req bursarapi.ServiceConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.UserID == "" || req.Amount <= 0 || req.Feature == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "user_id, feature and a positive amount are required"})
		return
	}

	if req.Email != "" {
		if _, err := tokenStore.Provision(c.Request.Context(), req.UserID, req.Email); err != nil {
			logger.WithFields(logging.Fields{
				"error":   err,
				"user_id": req.UserID,
			}).Error("Failed to provision token account")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to provision account"})
			return
		}
	}

	account, consumed, err := tokenStore.Consume(c.Request.Context(), req.UserID, req.Amount, req.Feature, req.Description)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": req.UserID,
			"feature": req.Feature,
		}).Error("Failed to consume tokens for service call")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to consume tokens"})
		return
	}

	if !consumed {
		recordConsumption(req.Feature, "refused")
		current, balErr := tokenStore.GetBalance(c.Request.Context(), req.UserID)
		if balErr != nil {
			current = models.TokenAccount{UserID: req.UserID}
		}
		c.JSON(http.StatusPaymentRequired, bursarapi.ConsumeResponse{
			Consumed: false,
			Balance:  balanceResponse(current),
			Error:    "Insufficient tokens",
		})
		return
	}

	recordConsumption(req.Feature, "consumed")
	c.JSON(http.StatusOK, bursarapi.ConsumeResponse{
		Consumed: true,
		Balance:  balanceResponse(account),
	})
}

// GetTransactions returns the authenticated user's ledger entries, newest first
func GetTransactions(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	transactions, err := tokenStore.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":   err,
			"user_id": userID,
		}).Error("Failed to fetch token transactions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.TransactionsResponse{
		Transactions: transactions,
		Count:        len(transactions),
	})
}
