// Package testdata provides utilities for generating sample metrics data
// to test Grafana dashboards without using real production data.
//
// The metric names and label sets match what the daemon exports through
// the OTLP collector's Prometheus endpoint, so dashboards built against
// this generator work unchanged against a live deployment.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for testing dashboards
var (
	// Gate metrics
	gateActionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_gate_actions_created_total",
			Help: "Pending actions created by type",
		},
		[]string{"action_type"},
	)
	gateActionsDecided = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_gate_actions_decided_total",
			Help: "Actions decided by type and decision",
		},
		[]string{"action_type", "decision"},
	)
	gateActionsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_gate_actions_expired_total",
			Help: "Actions lapsed without a decision",
		},
		[]string{"action_type"},
	)

	// Gateway metrics
	gatewayInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_gateway_invocations_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	gatewayParked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_gateway_approvals_parked_total",
			Help: "Critical tool calls parked behind the gate",
		},
		[]string{"tool"},
	)

	// Orchestrator metrics
	orchestratorTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_orchestrator_turns_total",
			Help: "Chat turns by outcome",
		},
		[]string{"outcome"},
	)
	orchestratorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_orchestrator_events_total",
			Help: "Stream events by type",
		},
		[]string{"type"},
	)

	// Audit metrics
	auditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_audit_entries_total",
			Help: "Audit entries by action and grant",
		},
		[]string{"action", "granted"},
	)

	// Degradation metrics
	degradeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_degrade_transitions_total",
			Help: "Service availability transitions",
		},
		[]string{"service", "available"},
	)
	degradeFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_degrade_fallbacks_total",
			Help: "Fallback activations by service",
		},
		[]string{"service"},
	)

	// HTTP server metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governd_http_requests_total",
			Help: "HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governd_http_request_duration_seconds",
			Help:    "HTTP request duration by method, route, and status",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)
	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "governd_http_active_requests",
			Help: "In-flight HTTP requests",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		// Gate
		gateActionsCreated,
		gateActionsDecided,
		gateActionsExpired,
		// Gateway
		gatewayInvocations,
		gatewayParked,
		// Orchestrator
		orchestratorTurns,
		orchestratorEvents,
		// Audit
		auditEntries,
		// Degradation
		degradeTransitions,
		degradeFallbacks,
		// HTTP
		httpRequestsTotal,
		httpRequestDuration,
		httpActiveRequests,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Generate initial sample data
	generateSampleData()

	// Start background goroutine to continuously generate data
	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	// Serve metrics
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'governd-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// Label value sets mirroring the daemon's catalog and constants.
var (
	routineTools  = []string{"searchCatalog", "getReport", "getLineage", "listIssues", "createIssue", "listCDEs", "getCycleStatus"}
	criticalTools = []string{"approveCatalog", "signOffCycle", "updateMapping", "transferOwnership"}
	actionTypes   = []string{"approval", "sign-off", "mapping-change", "ownership-change", "control-effectiveness"}
	decisions     = []string{"approved", "rejected", "deferred"}
	eventTypes    = []string{"text", "context_summary", "tool_call", "quick_action", "error"}
	memoryTiers   = []string{"memory.session", "memory.preference", "memory.episodic"}
	routes        = []string{"/v1/chat", "/v1/approvals", "/v1/approvals/:id", "/v1/approvals/:id/decision", "/v1/health", "/health"}
)

func generateSampleData() {
	// Chat turns and their event streams
	for i := 0; i < 200; i++ {
		outcome := "complete"
		if rand.Float64() > 0.95 {
			outcome = "error"
		}
		orchestratorTurns.WithLabelValues(outcome).Inc()
		orchestratorEvents.WithLabelValues("text").Inc()
		if rand.Float64() > 0.5 {
			orchestratorEvents.WithLabelValues("context_summary").Inc()
		}
		if rand.Float64() > 0.6 {
			orchestratorEvents.WithLabelValues("quick_action").Inc()
		}
	}

	// Routine tool traffic: invoked immediately, audited as granted
	for i := 0; i < 150; i++ {
		tool := randomChoice(routineTools)
		outcome := "success"
		if rand.Float64() > 0.9 {
			outcome = "failure"
		}
		gatewayInvocations.WithLabelValues(tool, outcome).Inc()
		orchestratorEvents.WithLabelValues("tool_call").Inc()
		auditEntries.WithLabelValues(tool, "true").Inc()
	}

	// Critical tool traffic: parked, then decided
	for i := 0; i < 40; i++ {
		tool := randomChoice(criticalTools)
		actionType := randomChoice(actionTypes)
		gatewayParked.WithLabelValues(tool).Inc()
		gateActionsCreated.WithLabelValues(actionType).Inc()

		switch decision := randomChoice(decisions); decision {
		case "approved":
			gateActionsDecided.WithLabelValues(actionType, decision).Inc()
			gatewayInvocations.WithLabelValues(tool, "success").Inc()
			auditEntries.WithLabelValues(tool, "true").Inc()
		case "rejected":
			gateActionsDecided.WithLabelValues(actionType, decision).Inc()
			auditEntries.WithLabelValues(tool, "false").Inc()
		default:
			// Deferred actions eventually lapse
			if rand.Float64() > 0.5 {
				gateActionsExpired.WithLabelValues(actionType).Inc()
			}
		}
	}

	// A few denied invocations from permission checks
	for i := 0; i < 10; i++ {
		auditEntries.WithLabelValues(randomChoice(routineTools), "false").Inc()
	}

	// Memory tier degradation episodes
	for i := 0; i < 8; i++ {
		tier := randomChoice(memoryTiers)
		degradeTransitions.WithLabelValues(tier, "false").Inc()
		degradeFallbacks.WithLabelValues(tier).Inc()
		degradeTransitions.WithLabelValues(tier, "true").Inc()
	}

	// HTTP traffic across the API surface
	for i := 0; i < 400; i++ {
		route := randomChoice(routes)
		method := "GET"
		if route == "/v1/chat" || route == "/v1/approvals/:id/decision" {
			method = "POST"
		}
		status := randomChoice([]string{"200", "200", "200", "200", "400", "401", "409"})
		httpRequestsTotal.WithLabelValues(method, route, status).Inc()
		httpRequestDuration.WithLabelValues(method, route, status).Observe(rand.Float64() * 0.8)
	}
	httpActiveRequests.Set(float64(rand.Intn(5)))
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A steady trickle of chat turns
			if rand.Float64() > 0.3 {
				orchestratorTurns.WithLabelValues("complete").Inc()
				orchestratorEvents.WithLabelValues(randomChoice(eventTypes)).Inc()
				tool := randomChoice(routineTools)
				gatewayInvocations.WithLabelValues(tool, "success").Inc()
				auditEntries.WithLabelValues(tool, "true").Inc()
			}
			// Occasional critical action
			if rand.Float64() > 0.8 {
				gatewayParked.WithLabelValues(randomChoice(criticalTools)).Inc()
				gateActionsCreated.WithLabelValues(randomChoice(actionTypes)).Inc()
			}
			if rand.Float64() > 0.85 {
				gateActionsDecided.WithLabelValues(randomChoice(actionTypes), randomChoice(decisions)).Inc()
			}
			// Rare degradation blips
			if rand.Float64() > 0.95 {
				tier := randomChoice(memoryTiers)
				degradeTransitions.WithLabelValues(tier, "false").Inc()
				degradeFallbacks.WithLabelValues(tier).Inc()
			}
			// Background HTTP traffic
			route := randomChoice(routes)
			method := "GET"
			if route == "/v1/chat" {
				method = "POST"
			}
			httpRequestsTotal.WithLabelValues(method, route, "200").Inc()
			httpRequestDuration.WithLabelValues(method, route, "200").Observe(rand.Float64() * 0.8)
			httpActiveRequests.Set(float64(rand.Intn(5)))
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
