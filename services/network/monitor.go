package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/logger"
)

const (
	defaultProbeAddress  = "1.1.1.1:443"
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 5 * time.Second
)

// Monitor probes a fixed address on an interval and answers Online from the
// cached result, so the push loops never block on a dial to find out the
// network is gone.
type Monitor struct {
	log      logger.Logger
	address  string
	interval time.Duration

	mu     sync.Mutex
	online bool
	// waiters is closed and replaced whenever the state flips to online.
	waiters chan struct{}

	stop chan struct{}
	once sync.Once
}

var _ interfaces.NetworkMonitor = (*Monitor)(nil)

func NewMonitor(log logger.Logger) *Monitor {
	m := &Monitor{
		log:      log,
		address:  defaultProbeAddress,
		interval: defaultProbeInterval,
		online:   true,
		waiters:  make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) AwaitOnline(ctx context.Context) error {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return nil
	}
	waiters := m.waiters
	m.mu.Unlock()

	select {
	case <-waiters:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.setOnline(m.probe())
		}
	}
}

func (m *Monitor) probe() bool {
	conn, err := net.DialTimeout("tcp", m.address, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online == m.online {
		return
	}
	m.online = online
	if online {
		m.log.Info("Network path restored")
		close(m.waiters)
		m.waiters = make(chan struct{})
	} else {
		m.log.Warn("Network path lost, suspending push loops")
	}
}
