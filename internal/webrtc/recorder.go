package webrtc

import (
	"errors"
	"fmt"
	"io"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// RemoteTrack is a remote Opus track. It implements domain.RemoteStream.
type RemoteTrack struct {
	track *pion.TrackRemote
}

func (t *RemoteTrack) ID() string   { return t.track.ID() }
func (t *RemoteTrack) Kind() string { return t.track.Kind().String() }

// Record writes the track to w as an Ogg/Opus stream until the track ends.
// w is closed afterwards if it is an io.Closer.
func (t *RemoteTrack) Record(w io.Writer) error {
	ogg, err := oggwriter.NewWith(w, opusCapability.ClockRate, opusCapability.Channels)
	if err != nil {
		return fmt.Errorf("create ogg writer: %w", err)
	}
	defer ogg.Close()

	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read remote track: %w", err)
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			return fmt.Errorf("write ogg page: %w", err)
		}
	}
}
