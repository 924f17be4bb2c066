package syncer

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Monitor reports connectivity and notifies subscribers on transitions.
// Subscribers receive the new online state; the channel is buffered so a
// slow consumer never blocks the monitor.
type Monitor interface {
	Online() bool
	Subscribe() <-chan bool
	Unsubscribe(<-chan bool)
}

// ManualMonitor is a monitor whose state is set explicitly. The sync
// engine only cares about transitions, not how they were detected, so
// tests and embedding callers drive this directly.
type ManualMonitor struct {
	mu     sync.Mutex
	online bool
	subs   map[<-chan bool]chan bool
}

// NewManualMonitor creates a monitor with the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online, subs: make(map[<-chan bool]chan bool)}
}

// Online reports the current connectivity state.
func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and broadcasts only on an actual
// transition. Setting the same state twice notifies nobody.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe registers a transition listener.
func (m *ManualMonitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 1)
	m.subs[ch] = ch
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *ManualMonitor) Unsubscribe(ch <-chan bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if send, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(send)
	}
}

// PollMonitor detects connectivity by probing an endpoint on an interval.
// Platform online/offline events are not available to a headless process,
// so a cheap HEAD probe stands in for them.
type PollMonitor struct {
	*ManualMonitor
	probeURL string
	interval time.Duration
	client   *http.Client
}

// NewPollMonitor builds a monitor probing probeURL every interval. The
// initial state is offline until the first probe succeeds.
func NewPollMonitor(probeURL string, interval time.Duration, client *http.Client) *PollMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PollMonitor{
		ManualMonitor: NewManualMonitor(false),
		probeURL:      probeURL,
		interval:      interval,
		client:        client,
	}
}

// Run probes until ctx is cancelled. The first probe fires immediately.
func (m *PollMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *PollMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		log.WithError(err).Debugf("Connectivity probe request invalid for %s", m.probeURL)
		m.SetOnline(false)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.SetOnline(false)
		return
	}
	resp.Body.Close()
	// Any HTTP response means the network path is up, even an error
	// status from the probe endpoint.
	m.SetOnline(true)
}
