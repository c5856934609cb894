package domain

import "github.com/google/uuid"

type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// Track is an opaque media track. Stop is idempotent.
type Track interface {
	ID() string
	Kind() TrackKind
	Stop()
}

// Stream is immutable once created.
type Stream struct {
	ID     string
	Tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{ID: uuid.NewString(), Tracks: tracks}
}

func (s *Stream) VideoTracks() []Track { return s.byKind(KindVideo) }
func (s *Stream) AudioTracks() []Track { return s.byKind(KindAudio) }

func (s *Stream) byKind(k TrackKind) []Track {
	out := make([]Track, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks {
		t.Stop()
	}
}

// StreamIDs collects ids in order.
func StreamIDs(streams []*Stream) []string {
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.ID)
	}
	return ids
}
