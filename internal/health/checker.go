// Package health tracks ledger availability and publishes it through the
// gRPC health protocol and a JSON liveness endpoint.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

// MutationsService is the health service name that reports whether record
// operations are accepted.
const MutationsService = "ledger.mutations"

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	// FailThreshold is the number of consecutive failed probes before the
	// store is reported unreachable.
	FailThreshold int
}

// Probe is what the checker needs from the ledger. *auditledger.Ledger satisfies it.
type Probe interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) (auditledger.State, error)
}

// StatusSetter receives serving status changes. *health.Server from
// google.golang.org/grpc/health satisfies it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// StateRecordFunc is an optional callback receiving the state read by each
// successful probe.
type StateRecordFunc func(st auditledger.State)

// Report is the outcome of the most recent probe.
type Report struct {
	Status         string    `json:"status"`
	StoreReachable bool      `json:"store_reachable"`
	Paused         bool      `json:"paused"`
	RecordCount    uint64    `json:"record_count"`
	Events         uint64    `json:"events"`
	CheckedAt      time.Time `json:"checked_at"`
	Error          string    `json:"error,omitempty"`
}

// Checker runs periodic store probes.
type Checker struct {
	probe     Probe
	setter    StatusSetter
	cfg       Config
	mu        sync.RWMutex
	failCount int
	last      Report
	onMetrics MetricsRecordFunc
	onState   StateRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker. setter may be nil when no gRPC server runs.
func New(probe Probe, setter StatusSetter, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Checker{
		probe:  probe,
		setter: setter,
		cfg:    cfg,
		last:   Report{Status: "starting"},
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) { h.onMetrics = fn }

// SetStateRecord configures the state callback.
func (h *Checker) SetStateRecord(fn StateRecordFunc) { h.onState = fn }

// Start probes immediately and then on every interval until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		h.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check probes the store once, updates the serving statuses and returns the report.
func (h *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	rep := Report{CheckedAt: time.Now().UTC()}
	err := h.probe.Ping(ctx)
	var st auditledger.State
	if err == nil {
		st, err = h.probe.Status(ctx)
	}
	success := err == nil
	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	prevCount := h.failCount
	if success {
		h.failCount = 0
	} else {
		h.failCount++
	}
	count := h.failCount
	prev := h.last

	switch {
	case success:
		rep.StoreReachable = true
		rep.Paused = st.Paused
		rep.RecordCount = st.RecordCount
		rep.Events = st.Seq
		rep.Status = "ok"
		if st.Paused {
			rep.Status = "paused"
		}
	case count < h.cfg.FailThreshold:
		// Below threshold: keep the previous view but surface the error.
		rep = prev
		rep.CheckedAt = time.Now().UTC()
		rep.Error = err.Error()
	default:
		rep.Status = "unavailable"
		rep.Error = err.Error()
	}
	h.last = rep
	h.mu.Unlock()

	switch {
	case success && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: store recovered")
	case !success && count == h.cfg.FailThreshold:
		h.logger.Warn("health: store unreachable", zap.Int("fail_count", count), zap.Error(err))
	}
	if success && prev.Paused != rep.Paused {
		h.logger.Info("health: pause state changed", zap.Bool("paused", rep.Paused))
	}

	if success && h.onState != nil {
		h.onState(st)
	}
	h.publish(rep)
	return rep
}

func (h *Checker) publish(rep Report) {
	if h.setter == nil {
		return
	}
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	mutations := healthpb.HealthCheckResponse_NOT_SERVING
	if rep.StoreReachable {
		overall = healthpb.HealthCheckResponse_SERVING
		if !rep.Paused {
			mutations = healthpb.HealthCheckResponse_SERVING
		}
	}
	h.setter.SetServingStatus("", overall)
	h.setter.SetServingStatus(MutationsService, mutations)
}

// Report returns the most recent probe outcome.
func (h *Checker) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Handler serves the last report: 200 while the store is reachable, 503 otherwise.
func (h *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rep := h.Report()
		code := http.StatusOK
		if !rep.StoreReachable {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, rep)
	}
}
