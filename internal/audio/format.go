package audio

import (
	"fmt"
	"time"

	"github.com/tjfontaine/callbridge/internal/core/domain"
)

// Format describes the mono PCM stream sent to the analytics backend.
type Format struct {
	Encoding   string
	SampleRate int
	Depth      int
	Channels   int
}

// Linear16Mono16K is the only format the bridge produces.
var Linear16Mono16K = Format{
	Encoding:   "LINEAR16",
	SampleRate: 16000,
	Depth:      16,
	Channels:   1,
}

// BytesRate returns the byte rate of the audio data.
func (f Format) BytesRate() int {
	return f.SampleRate * f.Channels * f.Depth / 8
}

// Duration returns the playback duration of n bytes.
func (f Format) Duration(n int) time.Duration {
	if f.BytesRate() == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.BytesRate())
}

// String returns a human-readable string representation of the format.
func (f Format) String() string {
	return fmt.Sprintf("audio/L%d; rate=%d; channels=%d", f.Depth, f.SampleRate, f.Channels)
}

// ChannelLayout maps the stereo channels of the monitor stream onto call legs.
type ChannelLayout string

const (
	// CustomerLeft puts the customer on the left channel and the agent on the right.
	CustomerLeft ChannelLayout = "customer-left"
	// CustomerRight puts the customer on the right channel and the agent on the left.
	CustomerRight ChannelLayout = "customer-right"
)

// ParseChannelLayout parses a layout name. The empty string selects CustomerLeft.
func ParseChannelLayout(s string) (ChannelLayout, error) {
	switch ChannelLayout(s) {
	case "", CustomerLeft:
		return CustomerLeft, nil
	case CustomerRight:
		return CustomerRight, nil
	}
	return "", domain.Errorf(domain.ErrorKindInvalidInput, "audio: unknown channel layout %q", s)
}

// Route returns the bytes for the customer and agent legs.
func (l ChannelLayout) Route(s Split) (customer, agent []byte) {
	if l == CustomerRight {
		return s.Right, s.Left
	}
	return s.Left, s.Right
}

// Merge rebuilds interleaved stereo from per-leg channels. It is the inverse
// of splitting and then routing with the same layout.
func (l ChannelLayout) Merge(customer, agent []byte) ([]byte, error) {
	if l == CustomerRight {
		return Interleave(agent, customer)
	}
	return Interleave(customer, agent)
}
