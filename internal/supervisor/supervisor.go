// Package supervisor owns the process-wide scan single-flight guard,
// the periodic scan timer, and the graceful-restart handshake, modeled
// on bg/ap.watchd/watchd.go's watcher{name,init,fini} registration shell
// and main()'s "start everything, then block on a signal" shape (§4.7).
package supervisor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"netwatch/internal/pipeline"
)

// ScanState is the running/paused/triggered lifecycle of ScanStatus (§4.7).
type ScanState int

const (
	StatePaused ScanState = iota
	StateRunning
	StateTriggered
)

// StartResult is returned by TriggerScan.
type StartResult int

const (
	Started StartResult = iota
	Running
)

var (
	scanCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_scans_total",
		Help: "Number of scans completed.",
	})
	scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "netwatch_scan_duration_seconds",
		Help: "Duration of completed scans, in seconds.",
	})
)

func init() {
	prometheus.MustRegister(scanCount, scanDuration)
}

// ScanStatus is the mutex-protected single-flight guard (§4.7, §5's
// "never held across a probe or a DB call" invariant).
type ScanStatus struct {
	mu      sync.Mutex
	state   ScanState
}

func (s *ScanStatus) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return false
	}
	s.state = StateRunning
	return true
}

func (s *ScanStatus) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StatePaused
}

// Supervisor ties together the scan single-flight guard, the repeat
// timer, and the minimal status/stop-handle HTTP listener.
type Supervisor struct {
	status   ScanStatus
	pipeline *pipeline.Pipeline
	repeat   time.Duration
	listen   string
	log      *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
	server  *http.Server
}

// New builds a Supervisor. repeat of 0 disables the periodic timer
// (§4.7 "a configured interval of 0 disables the timer").
func New(p *pipeline.Pipeline, repeat time.Duration, listen string, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{pipeline: p, repeat: repeat, listen: listen, log: log}
}

// TriggerScan implements the single-flight contract: if a scan is
// already running it returns Running without spawning a new one;
// otherwise it spawns the Scan Pipeline end-to-end and returns Started
// immediately (§4.7).
func (sv *Supervisor) TriggerScan(ctx context.Context) StartResult {
	if !sv.status.tryStart() {
		return Running
	}

	go func() {
		defer sv.status.finish()
		start := time.Now()
		if _, _, err := sv.pipeline.Run(ctx); err != nil {
			sv.log.Warnw("scan failed", "error", err)
		}
		scanCount.Inc()
		scanDuration.Observe(time.Since(start).Seconds())
	}()
	return Started
}

// RunTimer wakes every second and calls TriggerScan once the configured
// repeat interval has elapsed since the timer started or last fired; it
// exits (after
// logging) if repeat is 0 (§4.7).
func (sv *Supervisor) RunTimer(ctx context.Context) {
	if sv.repeat <= 0 {
		sv.log.Infow("periodic scan timer disabled (repeat=0)")
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(last) >= sv.repeat {
				last = now
				sv.TriggerScan(ctx)
			}
		}
	}
}

// RequestRestart flips the graceful-restart flag and stops the status
// server; the outer driver loop is expected to observe Stopped() and
// restart rather than exit (§4.7).
func (sv *Supervisor) RequestRestart(ctx context.Context) error {
	sv.mu.Lock()
	sv.stopped = true
	server := sv.server
	sv.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Stopped reports whether the last server exit was due to a graceful
// restart request rather than a plain shutdown.
func (sv *Supervisor) Stopped() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.stopped
}

// ListenAndServe runs the minimal status/metrics HTTP listener until the
// context is cancelled or RequestRestart is called. The JSON report API
// itself is out of scope (spec §1); this is only the stop-handle plus
// metrics (§6).
func (sv *Supervisor) ListenAndServe(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/status", sv.statusHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	sv.mu.Lock()
	sv.server = &http.Server{Addr: sv.listen, Handler: r}
	server := sv.server
	sv.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (sv *Supervisor) statusHandler(w http.ResponseWriter, r *http.Request) {
	sv.status.mu.Lock()
	state := sv.status.state
	sv.status.mu.Unlock()

	var body string
	switch state {
	case StateRunning:
		body = `{"running":true}`
	default:
		body = `{"running":false}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
