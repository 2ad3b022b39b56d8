package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReadyAllUp(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	up := pingFunc(func(context.Context) error { return nil })

	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, ReadinessCheck{Name: "db", Pinger: up}, ReadinessCheck{Name: "redis", Pinger: up})(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Marketplace-Env") != "test" {
		t.Fatal("expected env header")
	}
}

func TestHealthReadyReportsFailedDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger(),
		ReadinessCheck{Name: "db", Pinger: up},
		ReadinessCheck{Name: "redis", Pinger: down},
		ReadinessCheck{Name: "gcs"},
	)(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Failed []string `json:"failed"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Error.Details.Failed) != 1 || envelope.Error.Details.Failed[0] != "redis" {
		t.Fatalf("unexpected failed list %+v", envelope.Error.Details.Failed)
	}
}

func TestHealthLive(t *testing.T) {
	resp := httptest.NewRecorder()
	HealthLive(&config.Config{})(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
