// ABOUTME: gRPC health service that mirrors the maintenance flag
// ABOUTME: Polls the option store and reports NOT_SERVING for the site while maintenance is on

package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SiteService is the health service name tracking the fronted site.
const SiteService = "mrwp.agent.Site"

// flagReader reports whether maintenance is on. Implemented by *maintenance.Gate.
type flagReader interface {
	Enabled(ctx context.Context) (bool, error)
}

// HealthReporter keeps a grpc health server in sync with the maintenance flag.
type HealthReporter struct {
	srv      *health.Server
	flag     flagReader
	interval time.Duration
	logger   *slog.Logger
}

// NewHealthReporter creates a reporter polling every interval.
func NewHealthReporter(flag flagReader, interval time.Duration, logger *slog.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(SiteService, healthpb.HealthCheckResponse_UNKNOWN)
	return &HealthReporter{
		srv:      srv,
		flag:     flag,
		interval: interval,
		logger:   logger.With("component", "health"),
	}
}

// Server returns the grpc health implementation to register.
func (h *HealthReporter) Server() *health.Server {
	return h.srv
}

// Refresh reads the flag once and updates the site status.
func (h *HealthReporter) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	on, err := h.flag.Enabled(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	switch {
	case err != nil:
		h.logger.Warn("reading maintenance flag failed", "error", err)
		st = healthpb.HealthCheckResponse_UNKNOWN
	case on:
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus(SiteService, st)
	return st
}

// Run refreshes until ctx is cancelled.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}
