package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	appErr "rvcampaign/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPServerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := buildHTTPServer(ServerConfig{Addr: "127.0.0.1:0"}, &infra{}, prometheus.NewRegistry())

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v2/campaigns", nil)
	req.Header.Set("X-Trace-Id", "trace-404")
	srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", w.Code)
	}
	var body struct {
		Code    appErr.ErrorCode `json:"code"`
		Message string           `json:"message"`
		TraceID string           `json:"trace_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != appErr.NotFound || body.Message != "no route for /api/v2/campaigns" || body.TraceID != "trace-404" {
		t.Fatalf("body = %+v", body)
	}

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("campaigns without redis status = %d", w.Code)
	}
}
