// Package protocol defines the negotiation payloads relayed between room
// members and the envelope used on the signaling wire.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
)

const (
	tokenGotUserMedia = "got user media"
	tokenBye          = "bye"

	typeOffer          = "offer"
	typeAnswer         = "answer"
	typeCandidate      = "candidate"
	typeStreamsRemoved = "streams removed"
)

var ErrBadPayload = errors.New("bad payload")

// Payload is one of GotUserMedia, Description, Candidate, StreamsRemoved,
// Bye or Unknown.
type Payload interface {
	isPayload()
}

type GotUserMedia struct{}

type SDPType string

const (
	SDPOffer  SDPType = typeOffer
	SDPAnswer SDPType = typeAnswer
)

type Description struct {
	Type SDPType
	SDP  string
}

type Candidate struct {
	SDPMid        string
	SDPMLineIndex uint16
	Candidate     string
}

type StreamsRemoved struct {
	Streams []string
}

type Bye struct{}

// Unknown carries anything that did not match a known variant. It is dropped
// by receivers.
type Unknown struct {
	Raw json.RawMessage
}

func (GotUserMedia) isPayload()   {}
func (Description) isPayload()    {}
func (Candidate) isPayload()      {}
func (StreamsRemoved) isPayload() {}
func (Bye) isPayload()            {}
func (Unknown) isPayload()        {}

type wirePayload struct {
	Type          string   `json:"type"`
	SDP           string   `json:"sdp,omitempty"`
	SDPMid        *string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16  `json:"sdpMLineIndex,omitempty"`
	Candidate     string   `json:"candidate,omitempty"`
	Streams       []string `json:"streams,omitempty"`

	// older clients name the candidate fields id/label
	ID    *string `json:"id,omitempty"`
	Label *uint16 `json:"label,omitempty"`
}

// EncodePayload renders p in its wire form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	var v any
	switch m := p.(type) {
	case GotUserMedia:
		v = tokenGotUserMedia
	case Bye:
		v = tokenBye
	case Description:
		v = wirePayload{Type: string(m.Type), SDP: m.SDP}
	case Candidate:
		mid, idx := m.SDPMid, m.SDPMLineIndex
		v = wirePayload{Type: typeCandidate, SDPMid: &mid, SDPMLineIndex: &idx, Candidate: m.Candidate}
	case StreamsRemoved:
		streams := m.Streams
		if streams == nil {
			streams = []string{}
		}
		v = struct {
			Type    string   `json:"type"`
			Streams []string `json:"streams"`
		}{typeStreamsRemoved, streams}
	case Unknown:
		return m.Raw, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadPayload, p)
	}
	return json.Marshal(v)
}

// DecodePayload parses a wire payload. Unrecognised shapes decode to Unknown;
// an error is returned only for malformed JSON or an unparsable SDP.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	if raw[0] == '"' {
		var token string
		if err := json.Unmarshal(raw, &token); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		switch token {
		case tokenGotUserMedia:
			return GotUserMedia{}, nil
		case tokenBye:
			return Bye{}, nil
		}
		return Unknown{Raw: raw}, nil
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch w.Type {
	case typeOffer, typeAnswer:
		if err := ValidateSDP(w.SDP); err != nil {
			return nil, err
		}
		return Description{Type: SDPType(w.Type), SDP: w.SDP}, nil
	case typeCandidate:
		c := Candidate{Candidate: w.Candidate}
		switch {
		case w.SDPMid != nil:
			c.SDPMid = *w.SDPMid
		case w.ID != nil:
			c.SDPMid = *w.ID
		}
		switch {
		case w.SDPMLineIndex != nil:
			c.SDPMLineIndex = *w.SDPMLineIndex
		case w.Label != nil:
			c.SDPMLineIndex = *w.Label
		}
		return c, nil
	case typeStreamsRemoved:
		return StreamsRemoved{Streams: w.Streams}, nil
	}
	return Unknown{Raw: raw}, nil
}

// ValidateSDP checks that s parses as a session description.
func ValidateSDP(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty sdp", ErrBadPayload)
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(s)); err != nil {
		return fmt.Errorf("%w: sdp: %v", ErrBadPayload, err)
	}
	return nil
}

// Kind names the variant for logs and metrics.
func Kind(p Payload) string {
	switch m := p.(type) {
	case GotUserMedia:
		return tokenGotUserMedia
	case Bye:
		return tokenBye
	case Description:
		return string(m.Type)
	case Candidate:
		return typeCandidate
	case StreamsRemoved:
		return typeStreamsRemoved
	default:
		return "unknown"
	}
}
