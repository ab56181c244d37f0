package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"bizworks/api_bursar/internal/ledger"
	"bizworks/api_bursar/pkg/llm"
	"bizworks/api_bursar/pkg/logging"
)

var (
	db           *sql.DB
	logger       logging.Logger
	emailService *EmailService
	metrics      *BursarMetrics
	tokenStore   *ledger.Store
	llmProvider  llm.Provider
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	TokenConsumption         *prometheus.CounterVec
	TokenGrants              *prometheus.CounterVec
	AssistantRequests        *prometheus.CounterVec
	WebhookSignatureFailures *prometheus.CounterVec
	DBQueries                *prometheus.CounterVec
	DBDuration               *prometheus.HistogramVec
	DBConnections            *prometheus.GaugeVec
}

// Init initializes the handlers with database, logger, metrics and the ledger store
func Init(database *sql.DB, log logging.Logger, bursarMetrics *BursarMetrics, store *ledger.Store, provider llm.Provider) {
	db = database
	logger = log
	emailService = NewEmailService(log)
	metrics = bursarMetrics
	tokenStore = store
	llmProvider = provider
}
