package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kycProfileServer(t *testing.T, statusCode int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(statusCode)
		if body != "" {
			w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKycService_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("approved user, cache miss then write", func(t *testing.T) {
		srv := kycProfileServer(t, http.StatusOK, `{"status":"approved"}`)

		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet("kyc:user1").RedisNil()
		mock.ExpectSet("kyc:user1", "approved", kycCacheTTL).SetVal("OK")

		svc := NewKycService(srv.URL, rdb)
		status, err := svc.Status(ctx, "user1")
		require.NoError(t, err)
		assert.Equal(t, KycApproved, status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache hit skips the profile service", func(t *testing.T) {
		srv := kycProfileServer(t, http.StatusInternalServerError, "")

		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet("kyc:user1").SetVal("approved")

		svc := NewKycService(srv.URL, rdb)
		status, err := svc.Status(ctx, "user1")
		require.NoError(t, err)
		assert.Equal(t, KycApproved, status)
	})

	t.Run("no profile means pending", func(t *testing.T) {
		srv := kycProfileServer(t, http.StatusNotFound, "")

		svc := NewKycService(srv.URL, nil)
		status, err := svc.Status(ctx, "newuser")
		require.NoError(t, err)
		assert.Equal(t, KycPending, status)
	})

	t.Run("unknown status is an error", func(t *testing.T) {
		srv := kycProfileServer(t, http.StatusOK, `{"status":"verified_plus"}`)

		svc := NewKycService(srv.URL, nil)
		_, err := svc.Status(ctx, "user1")
		assert.Error(t, err)
	})

	t.Run("upstream failure is an error", func(t *testing.T) {
		srv := kycProfileServer(t, http.StatusBadGateway, "")

		svc := NewKycService(srv.URL, nil)
		_, err := svc.Status(ctx, "user1")
		assert.Error(t, err)
	})

	t.Run("works without redis", func(t *testing.T) {
		srv := kycProfileServer(t, http.StatusOK, `{"status":"rejected"}`)

		svc := NewKycService(srv.URL, nil)
		status, err := svc.Status(ctx, "user1")
		require.NoError(t, err)
		assert.Equal(t, KycRejected, status)
	})
}
