package speech

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agentframe/agentmeet/pkg/metrics"
)

// ProviderStatus is the latest health state of one provider.
type ProviderStatus struct {
	// IsHealthy indicates whether the provider passed recent probes.
	IsHealthy bool `json:"is_healthy"`

	// LastCheckTime records when the most recent probe ran.
	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails counts probes failed in a row; reset on success.
	ConsecutiveFails int `json:"consecutive_fails"`

	// ErrorMessage holds the last probe error, empty when healthy.
	ErrorMessage string `json:"error_message"`
}

// HealthWatcher runs periodic health probes against a set of providers and
// keeps a status snapshot per provider. A provider is marked unhealthy only
// after failThreshold consecutive probe failures, so a single blip does not
// flap the status surface.
//
// Thread-safety: all public methods are safe for concurrent use.
type HealthWatcher struct {
	providers     []Provider
	status        map[string]*ProviderStatus
	mu            sync.RWMutex
	checkInterval time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewHealthWatcher creates a watcher over the given providers. Providers
// start healthy (optimistic assumption); call Start to begin probing.
func NewHealthWatcher(providers []Provider, checkInterval time.Duration, failThreshold int) *HealthWatcher {
	status := make(map[string]*ProviderStatus, len(providers))
	for _, p := range providers {
		status[p.Name()] = &ProviderStatus{
			IsHealthy:     true,
			LastCheckTime: time.Now(),
		}
	}
	return &HealthWatcher{
		providers:     providers,
		status:        status,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called or ctx is cancelled. It
// probes immediately, then at checkInterval. Does not block; run it in a
// goroutine.
func (w *HealthWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.probeAll(ctx)

	for {
		select {
		case <-ticker.C:
			w.probeAll(ctx)
		case <-w.stopChan:
			log.Printf("[INFO] HealthWatcher: stopped")
			return
		case <-ctx.Done():
			log.Printf("[INFO] HealthWatcher: context cancelled")
			return
		}
	}
}

// Stop terminates the probe loop.
func (w *HealthWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *HealthWatcher) probeAll(ctx context.Context) {
	for _, p := range w.providers {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		healthy, err := p.HealthCheck(checkCtx)
		cancel()
		w.record(p.Name(), healthy, err)
	}
}

func (w *HealthWatcher) record(name string, healthy bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.status[name]
	if st == nil {
		st = &ProviderStatus{IsHealthy: true}
		w.status[name] = st
	}
	st.LastCheckTime = time.Now()

	if healthy && err == nil {
		if !st.IsHealthy {
			log.Printf("[INFO] HealthWatcher: provider %s recovered", name)
		}
		st.IsHealthy = true
		st.ConsecutiveFails = 0
		st.ErrorMessage = ""
	} else {
		st.ConsecutiveFails++
		if err != nil {
			st.ErrorMessage = err.Error()
		} else {
			st.ErrorMessage = "health probe reported unhealthy"
		}
		if st.ConsecutiveFails >= w.failThreshold && st.IsHealthy {
			log.Printf("[WARN] HealthWatcher: provider %s marked unhealthy after %d consecutive failures: %s",
				name, st.ConsecutiveFails, st.ErrorMessage)
			st.IsHealthy = false
		}
	}

	metrics.RecordProviderHealth(name, st.IsHealthy)
}

// Status returns a snapshot for one provider.
func (w *HealthWatcher) Status(name string) (ProviderStatus, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st, ok := w.status[name]
	if !ok {
		return ProviderStatus{}, false
	}
	return *st, true
}

// Snapshot returns the status of every watched provider.
func (w *HealthWatcher) Snapshot() map[string]ProviderStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]ProviderStatus, len(w.status))
	for name, st := range w.status {
		out[name] = *st
	}
	return out
}
