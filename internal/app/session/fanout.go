package session

import (
	"slices"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
)

// onStreamAdded registers a stream received from owner and applies the
// topology's fan-out. A stream already known is only re-forwarded.
func (s *Session) onStreamAdded(owner domain.ParticipantID, st *domain.Stream) {
	if pub, ok := s.streams[st.ID]; ok {
		if s.forwards() {
			s.forward(pub.owner, pub.stream)
		}
		return
	}
	s.streams[st.ID] = &published{owner: owner, stream: st}
	s.order = append(s.order, st.ID)
	s.logger.Info().Str("remote", string(owner)).Str("stream", st.ID).Int("tracks", len(st.Tracks)).Msg("stream added")

	switch {
	case s.forwards():
		s.forward(owner, st)
	case s.mixes():
		s.mixStream(owner, st)
	}
}

// forward sends st on every link but its owner's. Links dedup by stream id,
// so each one renegotiates at most once per stream.
func (s *Session) forward(owner domain.ParticipantID, st *domain.Stream) {
	for remote, l := range s.links {
		if remote == owner {
			continue
		}
		s.check(l.AddRemoteTracks(st), remote, "forward stream")
	}
}

// mixStream feeds st to the mixer. The composite goes out to every link
// once two streams contribute; afterwards each newcomer receives it with
// its own first stream.
func (s *Session) mixStream(owner domain.ParticipantID, st *domain.Stream) {
	if err := s.mixer.AppendStream(st); err != nil {
		s.logger.Warn().Err(err).Str("remote", string(owner)).Str("stream", st.ID).Msg("stream not mixed")
		return
	}
	if s.mixer.StreamCount() < 2 {
		return
	}
	if !s.mixing {
		s.mixing = true
		s.mixer.Start()
		for remote := range s.links {
			s.deliverComposite(remote)
		}
		return
	}
	s.deliverComposite(owner)
}

func (s *Session) deliverComposite(remote domain.ParticipantID) {
	l, ok := s.links[remote]
	if !ok || s.delivered[remote] {
		return
	}
	s.delivered[remote] = true
	s.check(l.AddRemoteTracks(s.mixer.MixedStream()), remote, "deliver composite")
}

// onStreamsRemoved forgets the streams of ids that owner published.
func (s *Session) onStreamsRemoved(owner domain.ParticipantID, ids []string) {
	var removed []string
	for _, id := range ids {
		pub, ok := s.streams[id]
		if !ok || pub.owner != owner {
			continue
		}
		delete(s.streams, id)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		return
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		return slices.Contains(removed, id)
	})
	s.logger.Info().Str("remote", string(owner)).Strs("streams", removed).Msg("streams removed")

	switch {
	case s.forwards():
		if s.cfg.Topology != domain.TopologySFU {
			return
		}
		msg := protocol.StreamsRemoved{Streams: removed}
		for remote := range s.links {
			if remote != owner {
				s.cfg.Channel.SendMessage(msg, s.cfg.Room, remote)
			}
		}
	case s.mixes():
		s.mixer.RemoveStreams(removed)
		switch n := s.mixer.StreamCount(); {
		case n == 0:
			s.mixing = false
			s.mixer.Release()
		case n < 2:
			// composite suppressed: no new deliveries until two contribute
			s.mixing = false
		}
	}
}
