package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"token-buy-alerts/internal/explorer"
)

type staticCache struct {
	batch     []explorer.Transfer
	fetchedAt time.Time
}

func (s *staticCache) CachedBatch() ([]explorer.Transfer, time.Time) {
	return s.batch, s.fetchedAt
}

func newTestServer(checks map[string]HealthCheck, webhook http.Handler, cache TransferCache) *Server {
	return New(Options{ListenAddr: ":0"}, webhook, checks, cache, zerolog.Nop())
}

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(nil, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body["service"] != "buywatcher" || body["status"] != "ok" {
		t.Fatalf("响应内容不正确: %#v", body)
	}
}

func TestHealthAllChecksPass(t *testing.T) {
	checks := map[string]HealthCheck{
		"telegram": func(context.Context) error { return nil },
		"explorer": func(context.Context) error { return nil },
	}
	s := newTestServer(checks, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("状态应为 ok: %s", rec.Body.String())
	}
}

func TestHealthDegradedOnFailedCheck(t *testing.T) {
	checks := map[string]HealthCheck{
		"telegram": func(context.Context) error { return nil },
		"explorer": func(context.Context) error { return errors.New("rpc unreachable") },
	}
	s := newTestServer(checks, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("依赖故障时应返回 503, 实际 %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rpc unreachable") {
		t.Fatalf("应包含失败原因: %s", rec.Body.String())
	}
}

func TestTransactionsEndpoint(t *testing.T) {
	cache := &staticCache{
		batch: []explorer.Transfer{
			{Hash: "0x1", From: "0xdist", To: "0xbuyer", RawAmount: big.NewInt(5), Block: 100, Time: 1700000000},
		},
		fetchedAt: time.Now(),
	}
	s := newTestServer(nil, nil, cache)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("应包含批量大小: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "0x1") {
		t.Fatalf("应包含交易哈希: %s", rec.Body.String())
	}
}

func TestWebhookRouteWiring(t *testing.T) {
	var hit bool
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	})
	s := newTestServer(nil, webhook, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))

	if !hit {
		t.Fatal("webhook 处理器未被调用")
	}

	// Without a webhook handler the route stays unregistered.
	s = newTestServer(nil, nil, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未配置 webhook 时应返回 404, 实际 %d", rec.Code)
	}
}
