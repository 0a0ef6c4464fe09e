package library

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vantagesearch/client/internal/models"
	"github.com/vantagesearch/client/internal/poller"
)

// StatsAPI fetches the aggregate analytics counters.
type StatsAPI interface {
	Stats(ctx context.Context) (models.Analytics, error)
}

// StatsSnapshot is the last known analytics state.
type StatsSnapshot struct {
	Analytics models.Analytics `json:"analytics"`
	Loaded    bool             `json:"loaded"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// StatsMonitor polls the analytics endpoint independently of the library view.
type StatsMonitor struct {
	api    StatsAPI
	poller *poller.Poller[models.Analytics]
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	snap StatsSnapshot
}

// NewStatsMonitor constructs a monitor polling every interval.
func NewStatsMonitor(api StatsAPI, session poller.SessionWatcher, interval time.Duration, logger *slog.Logger) *StatsMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &StatsMonitor{api: api, logger: logger, now: time.Now}
	m.poller = poller.New(poller.Config[models.Analytics]{
		Name:     "stats",
		Interval: interval,
		Fetch:    api.Stats,
		Apply:    m.apply,
	}, session, logger)
	return m
}

func (m *StatsMonitor) Start(ctx context.Context) error { return m.poller.Start(ctx) }

func (m *StatsMonitor) Stop() { m.poller.Stop() }

func (m *StatsMonitor) Refresh() { m.poller.Refresh() }

// Load fetches once outside the poll loop.
func (m *StatsMonitor) Load(ctx context.Context) (models.Analytics, error) {
	stats, err := m.api.Stats(ctx)
	m.apply(stats, err)
	return stats, err
}

func (m *StatsMonitor) apply(stats models.Analytics, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.snap.Error = err.Error()
		m.logger.Warn("stats refresh failed", slog.Any("error", err))
		return
	}
	m.snap = StatsSnapshot{Analytics: stats, Loaded: true, UpdatedAt: m.now()}
}

// Snapshot returns the last known analytics.
func (m *StatsMonitor) Snapshot() StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}
