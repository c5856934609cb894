package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/protocol"
)

func (ctl *SignalWSController) handlePing(c *WsSignalConn, env protocol.Envelope) {
	ctl.reply(c, protocol.Envelope{Type: protocol.TypePong, Req: env.Req})
}

// handleSubscribe turns the connection into a media node listener.
func (ctl *SignalWSController) handleSubscribe(sid core.SessionID, c *WsSignalConn, env protocol.Envelope) {
	if err := ctl.Orch.SubscribeRooms(sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("subscribe rooms")
		ctl.fail(c, env.Req, err.Error())
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("subscribed to rooms")
}
