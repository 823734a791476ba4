package audio

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/tjfontaine/callbridge/internal/core/domain"
)

func TestSplitStereo_TwoFrames(t *testing.T) {
	in := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}

	s, err := SplitStereo(in)
	if err != nil {
		t.Fatalf("SplitStereo() error = %v", err)
	}

	wantLeft := []byte{0x01, 0x00, 0x03, 0x00}
	wantRight := []byte{0x02, 0x00, 0x04, 0x00}
	if !bytes.Equal(s.Left, wantLeft) {
		t.Errorf("Left = %v, want %v", s.Left, wantLeft)
	}
	if !bytes.Equal(s.Right, wantRight) {
		t.Errorf("Right = %v, want %v", s.Right, wantRight)
	}
	if s.Truncated() {
		t.Errorf("Truncated() = true, Dropped = %d", s.Dropped)
	}
}

func TestSplitStereo_NegativeSamplesPreserved(t *testing.T) {
	// -2 and 32767 as little-endian int16
	in := []byte{0xFE, 0xFF, 0xFF, 0x7F}

	s, err := SplitStereo(in)
	if err != nil {
		t.Fatalf("SplitStereo() error = %v", err)
	}
	if got := int16(uint16(s.Left[0]) | uint16(s.Left[1])<<8); got != -2 {
		t.Errorf("left sample = %d, want -2", got)
	}
	if got := int16(uint16(s.Right[0]) | uint16(s.Right[1])<<8); got != 32767 {
		t.Errorf("right sample = %d, want 32767", got)
	}
}

func TestSplitStereo_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, frames := range []int{0, 1, 2, 7, 160, 1024} {
		in := make([]byte, frames*FrameBytes)
		rng.Read(in)

		s, err := SplitStereo(in)
		if err != nil {
			t.Fatalf("SplitStereo(%d frames) error = %v", frames, err)
		}
		if len(s.Left) != len(in)/2 || len(s.Right) != len(in)/2 {
			t.Fatalf("channel lengths = %d/%d, want %d", len(s.Left), len(s.Right), len(in)/2)
		}

		out, err := Interleave(s.Left, s.Right)
		if err != nil {
			t.Fatalf("Interleave() error = %v", err)
		}
		if !bytes.Equal(out, in) {
			t.Errorf("round trip of %d frames did not reconstruct the input", frames)
		}
	}
}

func TestSplitStereo_TruncatesPartialFrame(t *testing.T) {
	base := []byte{0x01, 0x00, 0x02, 0x00}

	for extra := 1; extra <= 3; extra++ {
		in := append(append([]byte{}, base...), bytes.Repeat([]byte{0xAA}, extra)...)

		s, err := SplitStereo(in)
		if err != nil {
			t.Fatalf("SplitStereo() with %d extra bytes error = %v", extra, err)
		}
		if s.Dropped != extra {
			t.Errorf("Dropped = %d, want %d", s.Dropped, extra)
		}
		if !s.Truncated() {
			t.Error("Truncated() = false, want true")
		}
		if !bytes.Equal(s.Left, []byte{0x01, 0x00}) || !bytes.Equal(s.Right, []byte{0x02, 0x00}) {
			t.Errorf("Left/Right = %v/%v, want whole frames only", s.Left, s.Right)
		}
	}
}

func TestSplitStereo_ShorterThanFrame(t *testing.T) {
	s, err := SplitStereo([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("SplitStereo() error = %v", err)
	}
	if len(s.Left) != 0 || len(s.Right) != 0 {
		t.Errorf("expected empty channels, got %d/%d bytes", len(s.Left), len(s.Right))
	}
	if s.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", s.Dropped)
	}
}

func TestSplitStereo_EmptyBuffer(t *testing.T) {
	s, err := SplitStereo([]byte{})
	if err != nil {
		t.Fatalf("SplitStereo() error = %v", err)
	}
	if len(s.Left) != 0 || len(s.Right) != 0 || s.Dropped != 0 {
		t.Errorf("unexpected split of empty buffer: %+v", s)
	}
}

func TestSplitStereo_RejectsNil(t *testing.T) {
	_, err := SplitStereo(nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("SplitStereo(nil) error = %v, want ErrInvalidInput", err)
	}
}

func TestInterleave_MismatchedChannels(t *testing.T) {
	if _, err := Interleave([]byte{1, 0}, []byte{1, 0, 2, 0}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Interleave() error = %v, want ErrInvalidInput", err)
	}
	if _, err := Interleave([]byte{1}, []byte{1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Interleave() partial sample error = %v, want ErrInvalidInput", err)
	}
}

func TestChannelLayout(t *testing.T) {
	s := Split{Left: []byte{1, 0}, Right: []byte{2, 0}}

	customer, agent := CustomerLeft.Route(s)
	if customer[0] != 1 || agent[0] != 2 {
		t.Errorf("CustomerLeft routed customer=%v agent=%v", customer, agent)
	}

	customer, agent = CustomerRight.Route(s)
	if customer[0] != 2 || agent[0] != 1 {
		t.Errorf("CustomerRight routed customer=%v agent=%v", customer, agent)
	}

	if l, err := ParseChannelLayout(""); err != nil || l != CustomerLeft {
		t.Errorf("ParseChannelLayout(\"\") = %v, %v", l, err)
	}
	if _, err := ParseChannelLayout("mono"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("ParseChannelLayout(mono) error = %v, want ErrInvalidInput", err)
	}
}

func TestChannelLayout_MergeInvertsRoute(t *testing.T) {
	stereo := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	s, err := SplitStereo(stereo)
	if err != nil {
		t.Fatalf("SplitStereo() error = %v", err)
	}

	for _, l := range []ChannelLayout{CustomerLeft, CustomerRight} {
		customer, agent := l.Route(s)
		got, err := l.Merge(customer, agent)
		if err != nil {
			t.Fatalf("%s Merge() error = %v", l, err)
		}
		if !bytes.Equal(got, stereo) {
			t.Errorf("%s Merge() = %v, want %v", l, got, stereo)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Linear16Mono16K.BytesRate(); got != 32000 {
		t.Errorf("BytesRate() = %d, want 32000", got)
	}
	if got := Linear16Mono16K.Duration(32000).Seconds(); got != 1 {
		t.Errorf("Duration(32000) = %vs, want 1s", got)
	}
	if got := Linear16Mono16K.String(); got != "audio/L16; rate=16000; channels=1" {
		t.Errorf("String() = %q", got)
	}
}
