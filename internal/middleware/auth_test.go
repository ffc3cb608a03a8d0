package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternalAuthMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("matching key passes through", func(t *testing.T) {
		handler := InternalAuthMiddleware("s3cret")(okHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/deposits", nil)
		req.Header.Set("X-Internal-API-Key", "s3cret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong key is rejected", func(t *testing.T) {
		handler := InternalAuthMiddleware("s3cret")(okHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/deposits", nil)
		req.Header.Set("X-Internal-API-Key", "guess")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing key is rejected", func(t *testing.T) {
		handler := InternalAuthMiddleware("s3cret")(okHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/deposits", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unconfigured key disables the internal surface", func(t *testing.T) {
		handler := InternalAuthMiddleware("")(okHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/deposits", nil)
		req.Header.Set("X-Internal-API-Key", "")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
