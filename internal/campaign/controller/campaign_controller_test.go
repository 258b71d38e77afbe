package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rvcampaign/internal/campaign/controller"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/repository"
	"rvcampaign/internal/common/cache"
	"rvcampaign/internal/common/http/middleware"
	appErr "rvcampaign/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	TraceID string           `json:"trace_id"`
}

func newRouter(t *testing.T) (*gin.Engine, *repository.StatusRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("NewRedisCacheWithClient: %v", err)
	}
	status := repository.NewStatusRepository(c, time.Hour)

	r := gin.New()
	r.Use(middleware.TraceContextMiddleware())
	controller.NewCampaignController(status, nil).Register(r)
	return r, status
}

func do(t *testing.T, r http.Handler, target string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return w, env
}

func TestGetStatus(t *testing.T) {
	r, status := newRouter(t)
	if err := status.Save(context.Background(), model.CampaignStatus{ID: "c-1", Backend: "questa", State: model.StateRunning}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w, env := do(t, r, "/campaigns/c-1", map[string]string{"X-Trace-Id": "trace-1"})
	if w.Code != http.StatusOK || env.Code != appErr.Success {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if env.TraceID != "trace-1" || w.Header().Get("X-Trace-Id") != "trace-1" {
		t.Fatalf("trace id not propagated: %q", env.TraceID)
	}
	var got model.CampaignStatus
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got.Backend != "questa" || got.State != model.StateRunning {
		t.Fatalf("got = %+v", got)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	r, _ := newRouter(t)
	w, env := do(t, r, "/campaigns/missing", nil)
	if w.Code != http.StatusNotFound || env.Code != appErr.NotFound {
		t.Fatalf("status = %d code = %d", w.Code, env.Code)
	}
	if env.TraceID == "" {
		t.Fatal("trace id not generated")
	}
}

func TestListRecent(t *testing.T) {
	r, status := newRouter(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := status.Save(context.Background(), model.CampaignStatus{ID: id, State: model.StateFinished}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	w, env := do(t, r, "/campaigns?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list struct {
		Items []model.CampaignStatus `json:"items"`
		Total int                    `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 2 || list.Items[0].ID != "c" || list.Items[1].ID != "b" {
		t.Fatalf("list = %+v", list)
	}
}

func TestListRecentBadLimit(t *testing.T) {
	r, _ := newRouter(t)
	w, env := do(t, r, "/campaigns?limit=zero", nil)
	if w.Code != http.StatusBadRequest || env.Code != appErr.InvalidParams {
		t.Fatalf("status = %d code = %d", w.Code, env.Code)
	}
}

func TestHistoryNotConfigured(t *testing.T) {
	r, _ := newRouter(t)
	w, env := do(t, r, "/history", nil)
	if w.Code != http.StatusServiceUnavailable || env.Code != appErr.ServiceUnavailable {
		t.Fatalf("status = %d code = %d", w.Code, env.Code)
	}
}
