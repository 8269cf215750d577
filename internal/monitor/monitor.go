package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"torrentd/internal/domain"
)

// Sampler produces a fresh snapshot of every tracked job.
type Sampler interface {
	Snapshot() []domain.Job
}

// Sink receives snapshots when anyone is listening.
type Sink interface {
	SubscriberCount() int
	Broadcast(snapshot []domain.Job)
}

// DefaultInterval is the sampling cadence used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Monitor drives the sampling cadence. Every tick computes a snapshot,
// which also feeds completion detection, and hands it to the sink only
// when subscribers exist. A bad tick is logged, never fatal.
type Monitor struct {
	sampler  Sampler
	sink     Sink
	interval time.Duration
	log      *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(sampler Sampler, sink Sink, interval time.Duration, log *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.New()
	}
	return &Monitor{
		sampler:  sampler,
		sink:     sink,
		interval: interval,
		log:      log,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run()
	m.log.Infof("monitor started, interval %s", m.interval)
}

func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.log.Info("monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Errorf("monitor tick panic: %v", rec)
		}
	}()

	snapshot := m.sampler.Snapshot()
	if m.sink.SubscriberCount() == 0 {
		return
	}
	m.sink.Broadcast(snapshot)
}
