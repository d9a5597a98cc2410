package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/messages"
)

// Manager tracks live browser peers and the single bridge peer
type Manager struct {
	browsers map[Peer]struct{}
	bridge   Peer
	mu       sync.RWMutex

	presence *presence
	log      *logrus.Entry
}

// NewManager creates an empty registry. rdb may be nil, in which case
// presence is kept in memory only.
func NewManager(rdb *redis.Client, log *logrus.Entry) *Manager {
	m := &Manager{
		browsers: make(map[Peer]struct{}),
		log:      log,
	}
	if rdb != nil {
		m.presence = newPresence(rdb, log)
		m.presence.reset()
	}
	return m
}

// AddBrowser registers a browser peer
func (m *Manager) AddBrowser(p Peer) {
	m.mu.Lock()
	m.browsers[p] = struct{}{}
	count := len(m.browsers)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"browser": p.ID(), "browsers": count}).Debug("browser registered")
	m.presence.addBrowser(p.ID())
}

// RemoveBrowser deregisters a browser peer. Removing an absent peer is a no-op.
func (m *Manager) RemoveBrowser(p Peer) {
	m.mu.Lock()
	_, exists := m.browsers[p]
	delete(m.browsers, p)
	count := len(m.browsers)
	m.mu.Unlock()

	if !exists {
		return
	}
	m.log.WithFields(logrus.Fields{"browser": p.ID(), "browsers": count}).Debug("browser removed")
	m.presence.removeBrowser(p.ID())
}

// BrowserCount returns the number of registered browsers
func (m *Manager) BrowserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.browsers)
}

// Broadcast sends text to every browser registered at call time and returns
// the number of successful deliveries. A browser with a full write queue
// misses this frame only; a browser whose send fails otherwise is closed and
// purged in the same pass. The others still receive the text.
func (m *Manager) Broadcast(text string) int {
	m.mu.RLock()
	snapshot := make([]Peer, 0, len(m.browsers))
	for p := range m.browsers {
		snapshot = append(snapshot, p)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, p := range snapshot {
		err := p.Send(text)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrQueueFull):
			// Slow reader: skip this frame but keep the browser.
			m.log.WithField("browser", p.ID()).Warn("browser write queue full, frame dropped")
		default:
			m.log.WithError(err).WithField("browser", p.ID()).Warn("broadcast failed, dropping browser")
			m.RemoveBrowser(p)
			_ = p.Close()
		}
	}
	return delivered
}

// SetBridge installs p as the bridge. A displaced bridge is closed.
func (m *Manager) SetBridge(p Peer) {
	m.mu.Lock()
	previous := m.bridge
	m.bridge = p
	m.mu.Unlock()

	if previous != nil && previous != p {
		m.log.WithFields(logrus.Fields{"old": previous.ID(), "new": p.ID()}).Warn("bridge replaced, closing previous connection")
		_ = previous.Close()
	}
	m.presence.setBridge(p.ID())
}

// ClearBridge clears the bridge slot only if p still holds it, so a bridge
// tearing down cannot clobber a newer one. It reports whether it cleared.
func (m *Manager) ClearBridge(p Peer) bool {
	m.mu.Lock()
	if m.bridge != p {
		m.mu.Unlock()
		return false
	}
	m.bridge = nil
	m.mu.Unlock()

	m.presence.clearBridge(p.ID())
	return true
}

// HasBridge reports whether a bridge is connected
func (m *Manager) HasBridge() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bridge != nil
}

// SendStartToBridge forwards the start-record command. It returns false when
// no bridge is connected or the send fails; there is no retry.
func (m *Manager) SendStartToBridge() bool {
	m.mu.RLock()
	bridge := m.bridge
	m.mu.RUnlock()

	if bridge == nil {
		return false
	}
	if err := bridge.Send(messages.BridgeStartRecord); err != nil {
		m.log.WithError(err).WithField("bridge", bridge.ID()).Warn("failed to send start command to bridge")
		return false
	}
	return true
}

// StartPresenceRoutine periodically rewrites the Redis presence snapshot so
// that keys left by a crashed process expire.
func (m *Manager) StartPresenceRoutine(ctx context.Context) {
	if m.presence == nil {
		return
	}

	ticker := time.NewTicker(presenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			ids := make([]string, 0, len(m.browsers))
			for p := range m.browsers {
				ids = append(ids, p.ID())
			}
			bridgeID := ""
			if m.bridge != nil {
				bridgeID = m.bridge.ID()
			}
			m.mu.RUnlock()

			m.presence.refresh(ids, bridgeID)
		}
	}
}

// Shutdown closes every peer
func (m *Manager) Shutdown() {
	m.mu.Lock()
	peers := make([]Peer, 0, len(m.browsers)+1)
	for p := range m.browsers {
		peers = append(peers, p)
		delete(m.browsers, p)
	}
	if m.bridge != nil {
		peers = append(peers, m.bridge)
		m.bridge = nil
	}
	m.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	m.presence.reset()
}
