package core

import (
	"sync"

	"github.com/dkeye/Conference/internal/domain"
)

// memberSession implements MemberSession by pairing id + transport.
type memberSession struct {
	id domain.ParticipantID

	mu     sync.RWMutex
	signal SignalConnection
}

func NewMemberSession(id domain.ParticipantID) MemberSession {
	return &memberSession{id: id}
}

func (m *memberSession) ID() domain.ParticipantID { return m.id }

func (m *memberSession) Signal() SignalConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signal
}

func (m *memberSession) UpdateSignal(sc SignalConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signal = sc
	return m
}
