package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydradns/internal/api/handlers"
	"github.com/jroosing/hydradns/internal/api/models"
	"github.com/jroosing/hydradns/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestQuery_NoResolverConfigured(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	router := gin.New()
	router.POST("/dns/test", h.TestQuery)

	body, _ := json.Marshal(models.DNSTestRequest{Name: "example.com", Type: "A"})
	req := httptest.NewRequest(http.MethodPost, "/dns/test", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTestQuery_RunsThroughInjectedResolver(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	h.SetDNSTestFunc(func(ctx context.Context, reqBytes []byte) (handlers.DNSTestResult, error) {
		assert.NotEmpty(t, reqBytes)
		return handlers.DNSTestResult{ResponseBytes: nil, Source: "upstream"}, nil
	})
	router := gin.New()
	router.POST("/dns/test", h.TestQuery)

	body, _ := json.Marshal(models.DNSTestRequest{Name: "example.com", Type: "aaaa"})
	req := httptest.NewRequest(http.MethodPost, "/dns/test", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.DNSTestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "example.com", resp.Name)
	assert.Equal(t, "AAAA", resp.Type)
	assert.Equal(t, "upstream", resp.Source)
}

func TestTestQuery_RejectsUnknownType(t *testing.T) {
	h := handlers.New(&config.Config{}, nil, nil)
	h.SetDNSTestFunc(func(ctx context.Context, reqBytes []byte) (handlers.DNSTestResult, error) {
		return handlers.DNSTestResult{}, nil
	})
	router := gin.New()
	router.POST("/dns/test", h.TestQuery)

	body, _ := json.Marshal(models.DNSTestRequest{Name: "example.com", Type: "BOGUS"})
	req := httptest.NewRequest(http.MethodPost, "/dns/test", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
