package syncer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/draftsync/internal/remote"
)

// Monitor probes the remote endpoint on an interval and signals
// subscribers on each offline-to-online transition. It is the concrete
// reachability source behind the retry fast-path.
type Monitor struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	subs   map[int]chan struct{}
	nextID int
	online bool
}

// NewMonitor creates a monitor that HEADs probeURL through the given
// transport.
func NewMonitor(probeURL string, doer remote.Doer, interval time.Duration, log zerolog.Logger) *Monitor {
	if doer == nil {
		doer = &http.Client{Timeout: 5 * time.Second}
	}
	probe := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return err
		}
		resp, err := doer.Do(req)
		if err != nil {
			return err
		}
		// Any response at all means the network path is up.
		resp.Body.Close()
		return nil
	}
	return newMonitor(probe, interval, log)
}

func newMonitor(probe func(ctx context.Context) error, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		log:      log,
		subs:     make(map[int]chan struct{}),
		online:   true,
	}
}

// Run blocks until ctx is done, probing on the configured interval.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	err := m.probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	wasOnline := m.online
	m.online = err == nil

	if err != nil {
		if wasOnline {
			m.log.Info().Err(err).Msg("network unreachable")
		}
		return
	}
	if !wasOnline {
		m.log.Info().Msg("network restored")
		for _, sub := range m.subs {
			select {
			case sub <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe registers a listener for restored signals.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}
