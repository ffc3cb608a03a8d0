package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/tourneypay/backend/internal/config"
	"github.com/tourneypay/backend/internal/models"
)

// QRService issues UPI deposit intents: a referenceId the gateway webhook
// will later settle against, rendered as a scannable UPI payment QR.
type QRService struct {
	redis *redis.Client
	cfg   *config.LedgerConfig
}

func NewQRService(redisClient *redis.Client, cfg *config.LedgerConfig) *QRService {
	return &QRService{redis: redisClient, cfg: cfg}
}

// DepositIntent is the redis-stored record of an unredeemed intent.
type DepositIntent struct {
	ReferenceID string       `json:"referenceId"`
	UserID      string       `json:"userId"`
	Amount      models.Money `json:"amount"`
	CreatedAt   int64        `json:"createdAt"`
}

// GenerateDepositIntent returns the intent's referenceId, the UPI URI, and
// a base64 PNG of its QR code. The intent expires with the pending TTL, the
// same horizon the reconciliation sweep uses.
func (s *QRService) GenerateDepositIntent(ctx context.Context, userID string, amount models.Money) (string, string, string, error) {
	if s.redis == nil {
		return "", "", "", fmt.Errorf("deposit intents unavailable without redis")
	}

	intent := DepositIntent{
		ReferenceID: "upi:" + uuid.New().String(),
		UserID:      userID,
		Amount:      amount,
		CreatedAt:   time.Now().Unix(),
	}

	jsonData, err := json.Marshal(intent)
	if err != nil {
		return "", "", "", err
	}

	key := "deposit_intent:" + intent.ReferenceID
	if err := s.redis.Set(ctx, key, jsonData, s.cfg.PendingTTL).Err(); err != nil {
		return "", "", "", err
	}

	uri := fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%d.%02d&cu=%s&tr=%s",
		s.cfg.UPIPayeeVPA, s.cfg.UPIPayeeName,
		amount.Amount/100, amount.Amount%100, amount.Currency, intent.ReferenceID)

	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", "", err
	}
	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return intent.ReferenceID, uri, qrImage, nil
}

// GetDepositIntent looks up an unexpired intent by referenceId.
func (s *QRService) GetDepositIntent(ctx context.Context, referenceID string) (*DepositIntent, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("deposit intents unavailable without redis")
	}

	data, err := s.redis.Get(ctx, "deposit_intent:"+referenceID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("unknown or expired deposit intent")
	}
	if err != nil {
		return nil, err
	}

	var intent DepositIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}
