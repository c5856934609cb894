package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, c *WsSignalConn, env protocol.Envelope) {
	if !ctl.limiter.Allow(ctl.limitKey(sid, c)) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.fail(c, env.Req, "rate_limited")
		return
	}
	room, err := domain.ValidateRoomName(env.Room)
	if err != nil {
		ctl.fail(c, env.Req, err.Error())
		return
	}
	// An unset topology lets an existing room or the server default decide.
	var topology domain.Topology
	if env.Topology != "" {
		if topology, err = domain.ParseTopology(env.Topology); err != nil {
			ctl.fail(c, env.Req, err.Error())
			return
		}
	}
	role := domain.Role(env.Role)
	switch role {
	case domain.RoleNone, domain.RoleCentralUnit, domain.RoleSideUnit:
	default:
		ctl.fail(c, env.Req, "bad_role")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Str("role", string(role)).Msg("join")
	peers, actual, err := ctl.Orch.Join(sid, room, role, topology)
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		ctl.reply(c, protocol.Envelope{Type: protocol.TypeFull, Req: env.Req, Room: string(room)})
		return
	case err != nil:
		ctl.fail(c, env.Req, err.Error())
		return
	}

	members := make([]string, 0, len(peers))
	for _, p := range peers {
		members = append(members, string(p))
	}
	ctl.reply(c, protocol.Envelope{
		Type:     protocol.TypeJoinResult,
		Req:      env.Req,
		Room:     string(room),
		Topology: string(actual),
		Members:  members,
	})
}

// handleLeave leaves one room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, c *WsSignalConn, env protocol.Envelope) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", env.Room).Msg("leave")
	if err := ctl.Orch.Leave(sid, domain.RoomName(env.Room)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	}
}

func (ctl *SignalWSController) limitKey(sid core.SessionID, c *WsSignalConn) string {
	if c.client != "" {
		return c.client
	}
	return string(sid)
}
