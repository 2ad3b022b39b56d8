package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck names one dependency probed by /health/ready.
type ReadinessCheck struct {
	Name   string
	Pinger pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Marketplace-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every configured dependency and reports 503 with the
// failing names when any of them is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Marketplace-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		var failed []string
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				if logg != nil {
					logg.Error(logg.WithField(r.Context(), "dependency", check.Name), "readiness check failed", err)
				}
				status[check.Name] = "down"
				failed = append(failed, check.Name)
				continue
			}
			status[check.Name] = "up"
		}

		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"failed": failed}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": status})
	}
}
