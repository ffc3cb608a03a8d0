package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// KycStatus mirrors the user-profile service's verification states.
type KycStatus string

const (
	KycPending  KycStatus = "pending"
	KycApproved KycStatus = "approved"
	KycRejected KycStatus = "rejected"
)

// KycProvider answers a user's verification status. The ledger consults it
// before authorizing withdrawals and nowhere else.
type KycProvider interface {
	Status(ctx context.Context, userID string) (KycStatus, error)
}

const kycCacheTTL = 5 * time.Minute

// KycService reads KYC status from the user-profile service over HTTP with
// a short redis cache in front. Redis is optional; with a nil client every
// lookup goes to the profile service.
type KycService struct {
	baseURL string
	client  *http.Client
	redis   *redis.Client
}

func NewKycService(baseURL string, redisClient *redis.Client) *KycService {
	return &KycService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		redis:   redisClient,
	}
}

func (s *KycService) Status(ctx context.Context, userID string) (KycStatus, error) {
	key := "kyc:" + userID

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return KycStatus(cached), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/users/%s/kyc", s.baseURL, userID), nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kyc provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No profile yet means verification has not started.
		return KycPending, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kyc provider returned status %d", resp.StatusCode)
	}

	var body struct {
		Status KycStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("kyc provider response: %w", err)
	}

	switch body.Status {
	case KycPending, KycApproved, KycRejected:
	default:
		return "", fmt.Errorf("kyc provider returned unknown status %q", body.Status)
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, string(body.Status), kycCacheTTL).Err(); err != nil {
			log.Printf("[KYC] cache write failed for %s: %v", userID, err)
		}
	}
	return body.Status, nil
}
