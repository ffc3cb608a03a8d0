package config

import (
	"os"
	"strconv"
	"time"
)

type LedgerConfig struct {
	Currency          string
	MaxRetries        int           // bound on VersionConflict retries
	PendingTTL        time.Duration // pending transactions older than this get swept
	SweepSchedule     string        // cron expression for the reconciliation sweep
	FirstDepositBonus int64         // flat bonus in minor units, 0 disables
	MinBonusDeposit   int64         // minimum qualifying deposit in minor units
	KycBaseURL        string
	GatewaySecret     string // shared secret for webhook HMAC signatures
	InternalAPIKey    string // key for gateway / settlement-job routes
	UPIPayeeVPA       string // collection VPA embedded in deposit-intent QRs
	UPIPayeeName      string
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Currency:          getEnv("LEDGER_CURRENCY", "INR"),
		MaxRetries:        getEnvAsInt("LEDGER_MAX_RETRIES", 3),
		PendingTTL:        getEnvAsDuration("LEDGER_PENDING_TTL", 30*time.Minute),
		SweepSchedule:     getEnv("LEDGER_SWEEP_SCHEDULE", "*/10 * * * *"),
		FirstDepositBonus: getEnvAsInt64("LEDGER_FIRST_DEPOSIT_BONUS", 0),
		MinBonusDeposit:   getEnvAsInt64("LEDGER_MIN_BONUS_DEPOSIT", 10000),
		KycBaseURL:        getEnv("KYC_BASE_URL", "http://localhost:8081"),
		GatewaySecret:     getEnv("GATEWAY_WEBHOOK_SECRET", ""),
		InternalAPIKey:    getEnv("INTERNAL_API_KEY", ""),
		UPIPayeeVPA:       getEnv("UPI_PAYEE_VPA", "tourneypay@ybl"),
		UPIPayeeName:      getEnv("UPI_PAYEE_NAME", "TourneyPay"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
