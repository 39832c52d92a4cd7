package httpserver

import (
	"net/http"
	"time"

	"github.com/CedrosPay/terminal/internal/circuitbreaker"
	"github.com/CedrosPay/terminal/pkg/responders"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	status := "ok"
	statusCode := http.StatusOK

	breakers := map[string]string{}
	if h.breakers != nil {
		for _, svc := range circuitbreaker.Services {
			state := h.breakers.State(svc)
			breakers[string(svc)] = state
			if svc == circuitbreaker.ServiceStripe && state == "open" {
				status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}
	}

	response := map[string]any{
		"status":          status,
		"uptime":          now.Sub(serverStartTime).Round(time.Second).String(),
		"timestamp":       now.UTC(),
		"mode":            h.cfg.Stripe.Mode,
		"storage":         h.cfg.Storage.Backend,
		"circuitBreakers": breakers,
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	responders.JSON(w, statusCode, response)
}
