package handlers

import (
	"context"
	"errors"
	"net/http"

	bursarapi "bizworks/api_bursar/pkg/api/bursar"
	"bizworks/api_bursar/pkg/ctxkeys"
	"bizworks/api_bursar/pkg/llm"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/middleware"

	"bizworks/api_bursar/internal/ledger"
)

// AI Assistant Endpoints

// Chat runs one AI assistant request. Tokens are debited before the provider
// call and refunded if it fails, in which case the user gets a canned fallback
// reply instead of an error.
func Chat(c middleware.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	email := c.GetString(string(ctxkeys.KeyEmail))

	var req bursarapi.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Message is required"})
		return
	}

	requestType := req.RequestType
	if requestType == "" {
		requestType = RequestTypeBusinessAdvisor
	}
	cost := tokenCostFor(requestType)

	// First request from a new user creates their account with the welcome
	// grant, so they can start chatting without a separate signup step here.
	if email != "" {
		created, err := tokenStore.Provision(c.Request.Context(), userID, email)
		if err != nil {
			logger.WithFields(logging.Fields{
				"error":   err,
				"user_id": userID,
			}).Error("Failed to provision token account")
			c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to provision account"})
			return
		}
		if created && emailService != nil {
			account, balErr := tokenStore.GetBalance(c.Request.Context(), userID)
			if balErr == nil {
				business := c.GetString(string(ctxkeys.KeyBusiness))
				go func() {
					if mailErr := emailService.SendWelcomeEmail(email, business, account.AvailableTokens(), account.TrialEndDate); mailErr != nil {
						logger.WithError(mailErr).Warn("Failed to send welcome email")
					}
				}()
			}
		}
	}

	messages := []llm.Message{{Role: "system", Content: systemPromptFor(requestType)}}
	for _, turn := range req.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	var reply string
	account, err := tokenStore.Guard(c.Request.Context(), userID, cost, requestType, "AI assistant request", func(ctx context.Context) error {
		stream, llmErr := llmProvider.Complete(ctx, messages)
		if llmErr != nil {
			return llmErr
		}

		reply, llmErr = llm.CollectText(stream)
		return llmErr
	})

	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientTokens) {
			recordAssistantRequest(requestType, "refused")
			current, balErr := tokenStore.GetBalance(c.Request.Context(), userID)
			if balErr != nil {
				current.UserID = userID
			}
			c.JSON(http.StatusPaymentRequired, bursarapi.ConsumeResponse{
				Consumed: false,
				Balance:  balanceResponse(current),
				Error:    "You've run out of tokens. Buy more to keep using your AI assistant.",
			})
			return
		}

		// Provider failure. Tokens were already refunded, answer with the
		// canned fallback rather than surfacing an error to the user.
		logger.WithFields(logging.Fields{
			"error":        err,
			"user_id":      userID,
			"request_type": requestType,
		}).Warn("AI provider call failed, serving fallback response")
		recordAssistantRequest(requestType, "fallback")

		current, balErr := tokenStore.GetBalance(c.Request.Context(), userID)
		if balErr != nil {
			current.UserID = userID
		}
		c.JSON(http.StatusOK, bursarapi.ChatResponse{
			Response: fallbackResponseFor(requestType),
			Fallback: true,
			Balance:  balanceResponse(current),
		})
		return
	}

	recordAssistantRequest(requestType, "ok")
	recordConsumption(requestType, "consumed")
	c.JSON(http.StatusOK, bursarapi.ChatResponse{
		Response:   reply,
		TokensUsed: cost,
		Balance:    balanceResponse(account),
	})
}

func recordAssistantRequest(requestType, status string) {
	if metrics == nil || metrics.AssistantRequests == nil {
		return
	}
	metrics.AssistantRequests.WithLabelValues(requestType, status).Inc()
}
