package handlers

import (
	"errors"
	"net/http"
	"strconv"

	bursarapi "bizworks/api_bursar/pkg/api/bursar"
	"bizworks/api_bursar/pkg/ctxkeys"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/middleware"

	"bizworks/api_bursar/internal/ledger"
)

// Admin API Endpoints

// AdminGetAccount looks up a token account by email
func AdminGetAccount(c middleware.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "email query parameter is required"})
		return
	}

	account, err := tokenStore.GetBalanceByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Account not found"})
			return
		}
		logger.WithFields(logging.Fields{
			"error": err,
			"email": email,
		}).Error("Failed to fetch account by email")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch account"})
		return
	}

	c.JSON(http.StatusOK, balanceResponse(account))
}

// AdminAdjustTokens applies a signed balance adjustment to an account looked
// up by email. Positive amounts are recorded as purchases, negative ones as
// refunds, and the balance never drops below zero.
func AdminAdjustTokens(c middleware.Context) {
	var req bursarapi.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	account, err := tokenStore.AdjustByEmail(c.Request.Context(), req.Email, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, bursarapi.AdjustResponse{Error: "Account not found"})
		case errors.Is(err, ledger.ErrInvalidAdjustment):
			c.JSON(http.StatusBadRequest, bursarapi.AdjustResponse{Error: "Email and a non-zero amount are required"})
		default:
			logger.WithFields(logging.Fields{
				"error": err,
				"email": req.Email,
			}).Error("Failed to adjust tokens")
			c.JSON(http.StatusInternalServerError, bursarapi.AdjustResponse{Error: "Failed to adjust tokens"})
		}
		return
	}

	logger.WithFields(logging.Fields{
		"email":    req.Email,
		"amount":   req.Amount,
		"admin_id": c.GetString(string(ctxkeys.KeyUserID)),
	}).Info("Admin token adjustment applied")

	if req.Amount > 0 {
		recordGrant("purchase")
	} else {
		recordGrant("refund")
	}

	c.JSON(http.StatusOK, bursarapi.AdjustResponse{
		Success: true,
		Balance: balanceResponse(account),
	})
}

// AdminGetTransactions returns ledger entries for an account looked up by email
func AdminGetTransactions(c middleware.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "email query parameter is required"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	transactions, err := tokenStore.ListTransactionsByEmail(c.Request.Context(), email, limit)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error": err,
			"email": email,
		}).Error("Failed to fetch transactions by email")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.TransactionsResponse{
		Transactions: transactions,
		Count:        len(transactions),
	})
}

// AdminResetDaily zeroes every account's daily usage counter
func AdminResetDaily(c middleware.Context) {
	count, err := tokenStore.ResetDaily(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to reset daily token counters")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reset daily counters"})
		return
	}

	logger.WithFields(logging.Fields{
		"accounts": count,
		"admin_id": c.GetString(string(ctxkeys.KeyUserID)),
	}).Info("Daily token counters reset")

	c.JSON(http.StatusOK, bursarapi.ResetResponse{Success: true, AccountsReset: count})
}

// AdminResetMonthly runs the monthly usage reset across all accounts
func AdminResetMonthly(c middleware.Context) {
	count, err := tokenStore.ResetMonthly(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to run monthly token reset")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to run monthly reset"})
		return
	}

	logger.WithFields(logging.Fields{
		"accounts": count,
		"admin_id": c.GetString(string(ctxkeys.KeyUserID)),
	}).Info("Monthly token reset complete")

	c.JSON(http.StatusOK, bursarapi.ResetResponse{Success: true, AccountsReset: count})
}
