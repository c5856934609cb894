package rtc

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// streamTrackCounts counts, per media stream id, the sending media sections
// of a session description.
func streamTrackCounts(raw string) (map[string]int, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, md := range sd.MediaDescriptions {
		if _, ok := md.Attribute("recvonly"); ok {
			continue
		}
		if _, ok := md.Attribute(sdp.AttrKeyInactive); ok {
			continue
		}
		v, ok := md.Attribute(sdp.AttrKeyMsid)
		if !ok {
			continue
		}
		fields := strings.Fields(v)
		if len(fields) == 0 || fields[0] == "-" {
			continue
		}
		counts[fields[0]]++
	}
	return counts, nil
}
