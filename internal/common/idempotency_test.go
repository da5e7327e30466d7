package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestIdemReplaysFirstResponse(t *testing.T) {
	calls := 0
	handler := common.Idem{R: newRedis(t), TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.Data(w, http.StatusCreated, map[string]any{"saleNumber": "INV-20260101-0001"})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	second := send()
	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	calls := 0
	handler := common.Idem{R: newRedis(t), TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "boom", nil)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, 2, calls)
}

func TestIdemPassThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := common.Idem{R: newRedis(t)}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	}
	require.Equal(t, 3, calls)
}
