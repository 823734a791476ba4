// Package audio de-interleaves 16-bit little-endian stereo PCM into mono legs.
//
// A stereo frame is four bytes: [leftLo, leftHi, rightLo, rightHi]. Splitting
// works on whole frames only; a trailing partial frame is dropped and never
// carried over into the next chunk.
package audio

import (
	"github.com/tjfontaine/callbridge/internal/core/domain"
)

const (
	// SampleBytes is the width of one 16-bit sample.
	SampleBytes = 2
	// FrameBytes is the width of one interleaved stereo frame.
	FrameBytes = 2 * SampleBytes
)

// Split is the result of de-interleaving one stereo chunk.
type Split struct {
	Left  []byte
	Right []byte

	// Dropped is the number of trailing bytes (0-3) that did not form a whole frame.
	Dropped int
}

// Truncated reports whether the input length was not a multiple of FrameBytes.
func (s Split) Truncated() bool {
	return s.Dropped > 0
}

// SplitStereo de-interleaves buf into its left and right channels.
// A nil buf is not a buffer and is rejected with domain.ErrInvalidInput.
func SplitStereo(buf []byte) (Split, error) {
	if buf == nil {
		return Split{}, domain.NewError(domain.ErrorKindInvalidInput, "audio: input must be a byte buffer")
	}

	frames := len(buf) / FrameBytes
	out := Split{
		Left:    make([]byte, frames*SampleBytes),
		Right:   make([]byte, frames*SampleBytes),
		Dropped: len(buf) % FrameBytes,
	}

	for i := 0; i < frames; i++ {
		in := i * FrameBytes
		o := i * SampleBytes
		out.Left[o] = buf[in]
		out.Left[o+1] = buf[in+1]
		out.Right[o] = buf[in+2]
		out.Right[o+1] = buf[in+3]
	}

	return out, nil
}

// Interleave is the inverse of SplitStereo. Both channels must hold the same
// number of whole samples.
func Interleave(left, right []byte) ([]byte, error) {
	if len(left) != len(right) {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "audio: channel lengths differ (%d != %d)", len(left), len(right))
	}
	if len(left)%SampleBytes != 0 {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "audio: partial sample in channel of %d bytes", len(left))
	}

	out := make([]byte, len(left)*2)
	for i := 0; i < len(left)/SampleBytes; i++ {
		o := i * FrameBytes
		in := i * SampleBytes
		out[o] = left[in]
		out[o+1] = left[in+1]
		out[o+2] = right[in]
		out[o+3] = right[in+1]
	}
	return out, nil
}
