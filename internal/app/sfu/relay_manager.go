package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager owns one Relay per received track id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for the given source track and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, id string, read ReadFunc) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("track", id).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(id, read, cancel)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Debug().Msg("starting relay loop")

	go func() {
		relay.loop(relayCtx, &logger)
		m.mu.Lock()
		if m.relays[id] == relay {
			delete(m.relays, id)
		}
		m.mu.Unlock()
	}()
	return relay
}

// AddSubscriber attaches an OutTrack to the relay of srcID under dst.
func (m *RelayManager) AddSubscriber(srcID, dst string, w RTPWriter) bool {
	m.mu.RLock()
	relay, ok := m.relays[srcID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dst, NewOutTrack(w))
	return true
}

// MarkSubscriberDelete marks subscriber's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(srcID, dst string) {
	m.mu.RLock()
	relay, ok := m.relays[srcID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.outTrack(dst); ok {
		ot.MarkDelete()
	}
}

// SetMuted pauses or resumes forwarding to one subscriber.
func (m *RelayManager) SetMuted(srcID, dst string, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[srcID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.outTrack(dst); ok {
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(srcID string) {
	m.mu.Lock()
	relay, ok := m.relays[srcID]
	if ok {
		delete(m.relays, srcID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// HasRelay reports whether a relay exists for id.
func (m *RelayManager) HasRelay(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[id]
	return ok
}
