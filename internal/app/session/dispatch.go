package session

import (
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// onMessage applies one negotiation payload from a member. Only an offer may
// come from a member without a link; everything else from one is dropped.
func (s *Session) onMessage(from domain.ParticipantID, p protocol.Payload) {
	if from == s.self {
		return
	}
	l := s.links[from]

	switch m := p.(type) {
	case protocol.GotUserMedia:
		if l != nil {
			s.check(l.InitiateCall(), from, "initiate call")
		}
		return
	case protocol.Description:
		if m.Type == protocol.SDPOffer {
			if l == nil {
				l = s.link(from, false)
			}
			s.check(l.HandleOffer(m), from, "handle offer")
			return
		}
		if l != nil {
			s.check(l.HandleAnswer(m), from, "handle answer")
			return
		}
	case protocol.Candidate:
		if l != nil {
			l.AddICECandidate(m)
			return
		}
	case protocol.StreamsRemoved:
		if l != nil {
			for _, id := range m.Streams {
				l.RemoveRemoteStream(id)
			}
			s.onStreamsRemoved(from, m.Streams)
			return
		}
	case protocol.Bye:
		if l != nil {
			l.HandleRemoteHangup()
			return
		}
	case protocol.Unknown:
		s.logger.Debug().RawJSON("payload", m.Raw).Str("remote", string(from)).Msg("unknown payload dropped")
		return
	}
	s.logger.Debug().Str("kind", protocol.Kind(p)).Str("remote", string(from)).Msg("message from unlinked member dropped")
}
