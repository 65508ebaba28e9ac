// Package health probes readiness endpoints of supervised tools.
// A probe is one HTTP GET: any 2xx response within the timeout counts
// as healthy; non-2xx, network errors and timeouts are all unhealthy,
// uniformly. Probes never propagate errors to callers.
package health

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/clipforge/toolhost/internal/process"
)

// DefaultProbeTimeout bounds a single standalone probe.
const DefaultProbeTimeout = 10 * time.Second

// PollInterval is the fixed spacing between readiness probes. A var so
// tests can tighten the loop.
var PollInterval = 2 * time.Second

var client = &http.Client{}

// CheckOnce performs a single bounded probe.
func CheckOnce(ctx context.Context, url string, timeout time.Duration) bool {
	if url == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Poll probes url every PollInterval until a probe succeeds or the
// window elapses. It returns HealthPassed on the first success,
// HealthFailed when the window runs out, and HealthUnknown when ctx is
// canceled before either.
func Poll(ctx context.Context, url string, window time.Duration, onProbe func(bool)) process.Health {
	if url == "" {
		return process.HealthUnknown
	}
	deadline := time.Now().Add(window)
	t := time.NewTicker(PollInterval)
	defer t.Stop()
	for {
		ok := CheckOnce(ctx, url, PollInterval)
		if onProbe != nil {
			onProbe(ok)
		}
		if ok {
			return process.HealthPassed
		}
		if ctx.Err() != nil {
			return process.HealthUnknown
		}
		if time.Now().After(deadline) {
			return process.HealthFailed
		}
		select {
		case <-ctx.Done():
			return process.HealthUnknown
		case <-t.C:
		}
	}
}
