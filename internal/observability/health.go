package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

var errNoDefinitions = errors.New("no form definitions loaded")

const defaultCheckTimeout = 2 * time.Second

// ReadinessChecks lists what the engine needs before it can serve sessions.
// The definitions check always runs; the rest only when set.
type ReadinessChecks struct {
	FormCount       func() int
	DraftStore      HealthChecker
	SubmissionStore HealthChecker
	Backend         HealthChecker
	// Timeout bounds each check. Zero means two seconds.
	Timeout time.Duration
}

// Run executes every configured check concurrently and reports whether all
// of them passed.
func (rc ReadinessChecks) Run(ctx context.Context) (ReadinessResponse, bool) {
	checks := map[string]HealthChecker{
		"definitions": HealthCheckFunc(func(context.Context) error {
			if rc.FormCount == nil || rc.FormCount() == 0 {
				return errNoDefinitions
			}
			return nil
		}),
	}
	for name, hc := range map[string]HealthChecker{
		"draft_store":      rc.DraftStore,
		"submission_store": rc.SubmissionStore,
		"backend":          rc.Backend,
	} {
		if hc != nil {
			checks[name] = hc
		}
	}

	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[string]CheckResult, len(checks))
		ready   = true
	)
	for name, hc := range checks {
		g.Go(func() error {
			res := runCheck(ctx, hc, timeout)
			mu.Lock()
			defer mu.Unlock()
			results[name] = res
			if res.Error != "" {
				ready = false
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := ReadinessResponse{Status: "ready", Checks: results}
	if !ready {
		resp.Status = "not_ready"
	}
	return resp, ready
}

func runCheck(parent context.Context, hc HealthChecker, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := hc.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

// HandleHealth serves liveness with the build version.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady serves readiness: 200 when every check passes, 503 otherwise.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, ready := checks.Run(r.Context())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, status, resp)
	}
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
