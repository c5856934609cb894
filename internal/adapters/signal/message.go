package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// handleMessage relays a negotiation payload. The payload is forwarded as
// received; it only has to be present.
func (ctl *SignalWSController) handleMessage(sid core.SessionID, c *WsSignalConn, env protocol.Envelope) {
	if len(env.Payload) == 0 {
		ctl.fail(c, env.Req, "empty_payload")
		return
	}
	err := ctl.Orch.Route(sid, domain.RoomName(env.Room), domain.ParticipantID(env.To), env.Payload)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", env.Room).Msg("route")
		ctl.fail(c, env.Req, err.Error())
	}
}
