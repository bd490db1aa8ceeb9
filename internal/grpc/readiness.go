package grpc

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check probes one backend. A nil error means ready.
type Check func(ctx context.Context) error

// Readiness reports each backend through the standard gRPC health service:
// one service name per check, plus "" for the whole process.
type Readiness struct {
	health  *health.Server
	checks  map[string]Check
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	failed map[string]string
}

func NewReadiness(checks map[string]Check, timeout time.Duration, log *slog.Logger) *Readiness {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	r := &Readiness{
		health:  health.NewServer(),
		checks:  checks,
		timeout: timeout,
		log:     log.With("component", "readiness"),
		failed:  make(map[string]string),
	}
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		r.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return r
}

// CheckOnce runs every check and updates the served statuses. It returns the
// names of the failing backends.
func (r *Readiness) CheckOnce(ctx context.Context) []string {
	var failing []string
	for name, check := range r.checks {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := check(cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			failing = append(failing, name)
		}
		r.health.SetServingStatus(name, status)
		r.transition(name, err)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if len(failing) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.health.SetServingStatus("", overall)
	sort.Strings(failing)
	return failing
}

// transition logs only changes of a backend's state.
func (r *Readiness) transition(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, wasFailing := r.failed[name]
	switch {
	case err != nil && (!wasFailing || prev != err.Error()):
		r.failed[name] = err.Error()
		r.log.Warn("backend not ready", "backend", name, "error", err)
	case err == nil && wasFailing:
		delete(r.failed, name)
		r.log.Info("backend ready", "backend", name)
	}
}

// Run re-checks every interval until ctx ends, then reports NOT_SERVING.
func (r *Readiness) Run(ctx context.Context, interval time.Duration) {
	r.CheckOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.CheckOnce(ctx)
		case <-ctx.Done():
			r.health.Shutdown()
			return
		}
	}
}

// NewServer builds the gRPC server exposing health and reflection.
func NewServer(r *Readiness) *grpc.Server {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(srv, r.health)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(srv)
	return srv
}
