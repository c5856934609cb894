// Package orch is the signaling hub: it admits members into rooms and relays
// negotiation messages between them. It never looks inside the messages.
package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/dkeye/Conference/internal/protocol"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomStore
	Policy   app.Policy
}

func New(reg *app.Registry, rooms *app.RoomStore, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

func (o *Orchestrator) push(room domain.RoomName, id domain.ParticipantID, env protocol.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", env.Type).Msg("marshal push")
		return
	}
	o.send(room, id, data)
}

func (o *Orchestrator) pushAll(room domain.RoomName, ids []domain.ParticipantID, env protocol.Envelope) {
	if len(ids) == 0 {
		return
	}
	data, err := env.Marshal()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", env.Type).Msg("marshal push")
		return
	}
	for _, id := range ids {
		o.send(room, id, data)
	}
}

func (o *Orchestrator) send(room domain.RoomName, id domain.ParticipantID, data core.Frame) {
	sid := core.SessionID(id)
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	sc := sess.Signal()
	if sc == nil {
		return
	}
	if err := sc.TrySend(data); err != nil {
		metrics.PushDropped.Inc()
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Str("sid", string(sid)).Msg("push dropped")
		// watchers are never kicked
		if o.Registry.IsWatcher(sid) {
			return
		}
		if o.Policy != nil && o.Policy.OnBackPressure(room, sess) == app.KickMember {
			o.Kick(sid)
		}
	}
}

func (o *Orchestrator) serverLog(room domain.RoomName, ids []domain.ParticipantID, text string) {
	o.pushAll(room, ids, protocol.Envelope{Type: protocol.TypeLog, Room: string(room), Text: "[Server]: " + text})
}

// Kick closes sid's connection. The transport then reports the disconnect.
func (o *Orchestrator) Kick(sid core.SessionID) bool {
	return o.Registry.Cancel(sid)
}
