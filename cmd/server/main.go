package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tourneypay/backend/internal/config"
	"github.com/tourneypay/backend/internal/database"
	"github.com/tourneypay/backend/internal/handlers"
	mW "github.com/tourneypay/backend/internal/middleware"
	"github.com/tourneypay/backend/internal/services"
	"github.com/tourneypay/backend/internal/store"
)

// @title Tournament Wallet Ledger API
// @version 1.0
// @description Wallet ledger service for the tournament platform: deposits, withdrawals, entry fees and prize payouts
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	ledgerCfg := config.LoadLedgerConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerStore := store.NewLedgerStore(db)
	kycService := services.NewKycService(ledgerCfg.KycBaseURL, redisClient)
	walletService := services.NewWalletService(ledgerStore, kycService, ledgerCfg)
	webhookHandler := services.NewGatewayWebhookHandler(walletService, ledgerCfg.GatewaySecret)
	settlementService := services.NewSettlementService(ledgerStore)
	qrService := services.NewQRService(redisClient, ledgerCfg)
	qrHandler := handlers.NewQRHandler(qrService)

	reconciliation := services.NewReconciliationService(ledgerStore, ledgerCfg)
	if err := reconciliation.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start reconciliation sweep: %v", err)
	}
	defer reconciliation.Stop()

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key", "X-Gateway-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/openapi.yaml"),
	))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Gateway webhook authenticates by HMAC signature, not session
		r.Post("/webhooks/payment-gateway", webhookHandler.HandleCallback)

		// User-facing wallet routes
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet/balance", walletService.HandleGetBalance)
			r.Get("/wallet/transactions", walletService.HandleListTransactions)
			r.Get("/wallet/transactions/{txId}", walletService.HandleGetTransaction)
			r.Post("/wallet/transactions/{txId}/cancel", walletService.HandleCancelTransaction)
			r.Post("/wallet/withdrawals", walletService.HandleRequestWithdrawal)

			r.Post("/wallet/deposit-intents", qrHandler.CreateDepositIntent)
			r.Get("/wallet/deposit-intents/lookup", qrHandler.GetDepositIntent)
		})

		// Internal routes: settlement job, gateway relay, admin tooling
		r.Group(func(r chi.Router) {
			r.Use(mW.InternalAuthMiddleware(ledgerCfg.InternalAPIKey))

			r.Post("/wallet/deposits", walletService.HandleDeposit)
			r.Post("/wallet/withdrawals/{txId}/settle", walletService.HandleSettleWithdrawal)
			r.Post("/wallet/entry-fees", walletService.HandleChargeEntryFee)
			r.Post("/wallet/prizes", walletService.HandleCreditPrize)
			r.Post("/wallet/refunds", walletService.HandleRefund)
			r.Get("/admin/settlement-batch", settlementService.HandleSettlementBatch)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
