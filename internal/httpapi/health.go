package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stewardlabs/governd/internal/degrade"
)

// handleLiveness answers process liveness only; it never consults
// backends.
func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "governd",
		"version": s.deps.Version,
	})
}

// handleHealth reports aggregate degradation plus per-service detail.
// A fully offline memory plane answers 503; degraded-but-serving stays
// 200 because the assistant still works on fallbacks.
func (s *Server) handleHealth(c echo.Context) error {
	monitor := s.deps.Memory.Monitor()
	level := monitor.Health()

	status := http.StatusOK
	if level == degrade.LevelOffline {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"level":    level,
		"services": monitor.Statuses(),
	})
}

// handleMemoryProbe actively probes every memory tier and reports per
// tier outcome. Probing also drives recovery: a healthy answer flips a
// degraded tier back to available.
func (s *Server) handleMemoryProbe(c echo.Context) error {
	results := s.deps.Memory.Probe(c.Request().Context())

	services := make(map[string]string, len(results))
	healthy := true
	for name, err := range results {
		if err != nil {
			services[name] = err.Error()
			healthy = false
		} else {
			services[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{"services": services})
}
