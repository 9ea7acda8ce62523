/*
monitor.go - Overbooking monitor

PURPOSE:
  Periodically builds a fresh availability snapshot and reports dates whose
  remaining minutes went negative (admin overrides, or capacity lowered by
  an override after orders were committed). The bakery needs to see these
  before production day.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Builds the snapshot through capacity.Service, same as any viewer
  - Publishes the count on the bakery_overbooked_dates gauge
  - Logs each overbooked date with its deficit

CONFIGURATION:
  - CheckInterval: How often to check (default: 5 minutes)
  - Enabled: Whether the monitor is active (default: true)

USAGE:
  monitor := NewOverbookingMonitor(svc, metrics, logger)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - capacity/snapshot.go: OverbookedDates
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/bakery-scheduler/capacity"
)

// OverbookedDate is one negative-capacity date found by a check.
type OverbookedDate struct {
	Date      capacity.Date
	Remaining capacity.Minutes
}

// OverbookingMonitor watches the lookahead window for overbooked dates.
type OverbookingMonitor struct {
	Service       *capacity.Service
	Metrics       *Metrics
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverbookingMonitor creates a new monitor.
func NewOverbookingMonitor(svc *capacity.Service, metrics *Metrics, logger *slog.Logger) *OverbookingMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverbookingMonitor{
		Service:       svc,
		Metrics:       metrics,
		Logger:        logger.With(slog.String("component", "overbooking-monitor")),
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the monitor.
func (m *OverbookingMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		m.Logger.Info("disabled, not starting")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run()

	m.Logger.Info("started", slog.Duration("interval", m.CheckInterval))
}

// Stop stops the monitor and waits for an in-flight check.
func (m *OverbookingMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.wg.Wait()
		m.ticker = nil
		m.Logger.Info("stopped")
	}
}

func (m *OverbookingMonitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.RunNow(context.Background())

	for {
		select {
		case <-m.ticker.C:
			m.RunNow(context.Background())
		case <-m.stop:
			return
		}
	}
}

// RunNow performs one check (for testing/admin).
func (m *OverbookingMonitor) RunNow(ctx context.Context) ([]OverbookedDate, error) {
	snap, err := m.Service.Availability(ctx, "")
	if err != nil {
		m.Logger.Error("failed to build snapshot", slog.String("error", err.Error()))
		return nil, err
	}

	var found []OverbookedDate
	for _, d := range snap.OverbookedDates() {
		remaining := snap.Available(d)
		found = append(found, OverbookedDate{Date: d, Remaining: remaining})
		m.Logger.Warn("date overbooked",
			slog.String("date", d.String()),
			slog.String("remaining_minutes", remaining.String()))
	}

	if m.Metrics != nil {
		m.Metrics.OverbookedDates.Set(float64(len(found)))
	}
	m.Logger.Debug("check complete", slog.Int("overbooked", len(found)))
	return found, nil
}
