package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jroosing/hydradns/internal/api/handlers"
	"github.com/jroosing/hydradns/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestClearSidelinedClient_MissingParam(t *testing.T) {
	cfg := &config.Config{}
	h := handlers.New(cfg, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rate-limit/sidelined", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearSidelinedClient_NoLimiterActive(t *testing.T) {
	cfg := &config.Config{}
	h := handlers.New(cfg, nil, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rate-limit/sidelined?client=1.2.3.4", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClearSidelinedClient_Success(t *testing.T) {
	cfg := &config.Config{}
	h := handlers.New(cfg, nil, nil)

	var cleared string
	h.SetClearSidelinedFunc(func(client string) { cleared = client })

	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rate-limit/sidelined?client=1.2.3.4", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3.4", cleared)
}
