package main

import (
	"context"
	"strings"

	"bizworks/api_bursar/internal/handlers"
	"bizworks/api_bursar/internal/ledger"
	"bizworks/api_bursar/pkg/auth"
	"bizworks/api_bursar/pkg/config"
	"bizworks/api_bursar/pkg/database"
	"bizworks/api_bursar/pkg/kafka"
	"bizworks/api_bursar/pkg/llm"
	"bizworks/api_bursar/pkg/logging"
	"bizworks/api_bursar/pkg/monitoring"
	"bizworks/api_bursar/pkg/server"
	"bizworks/api_bursar/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Token Ledger API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Create custom token metrics
	metrics := &handlers.BursarMetrics{
		TokenConsumption:         metricsCollector.NewCounter("token_consumption_total", "Token consumption attempts", []string{"feature", "status"}),
		TokenGrants:              metricsCollector.NewCounter("token_grants_total", "Token grants by type", []string{"type"}),
		AssistantRequests:        metricsCollector.NewCounter("assistant_requests_total", "AI assistant requests", []string{"request_type", "status"}),
		WebhookSignatureFailures: metricsCollector.NewCounter("webhook_signature_failures_total", "Webhook signature verification failures", []string{"provider"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Token ledger store
	store := ledger.NewStore(db, logger, ledger.OptionsFromEnv())

	// Kafka producer for token events (optional)
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		producer, err := kafka.NewProducer(strings.Split(brokers, ","), logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create Kafka producer, token events disabled")
		} else {
			defer producer.Close()
			store.SetPublisher(producer)
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
		}
	}

	// AI provider
	llmProvider, err := llm.NewProvider(llm.LoadConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure AI provider")
	}

	// Initialize handlers
	handlers.Init(db, logger, metrics, store, llmProvider)

	// Initialize and start JobManager for background token maintenance
	jobManager := handlers.NewJobManager(db, logger, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	logger.Info("JobManager started - background token jobs active")

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/bursar/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// Token endpoints
			protected.GET("/tokens/balance", handlers.GetBalance)
			protected.POST("/tokens/consume", handlers.ConsumeTokens)
			protected.GET("/tokens/transactions", handlers.GetTransactions)

			// Billing endpoints
			protected.GET("/billing/plans", handlers.GetPlans)
			protected.POST("/billing/topup", handlers.StartTopup)

			// AI assistant
			protected.POST("/assistant/chat", handlers.Chat)
		}

		// Admin endpoints
		admin := router.Group("/admin")
		admin.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)), auth.RequireRole("admin"))
		{
			admin.GET("/tokens/account", handlers.AdminGetAccount)
			admin.POST("/tokens/adjust", handlers.AdminAdjustTokens)
			admin.GET("/tokens/transactions", handlers.AdminGetTransactions)
			admin.POST("/tokens/reset-daily", handlers.AdminResetDaily)
			admin.POST("/tokens/reset-monthly", handlers.AdminResetMonthly)
		}

		// Webhook endpoints (no auth required, signature verified)
		router.POST("/webhooks/paystack", handlers.HandlePaystackWebhook)

		// Service-to-service endpoints
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/service/tokens/consume", handlers.ServiceConsume)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
