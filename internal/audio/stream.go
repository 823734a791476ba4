package audio

import (
	"errors"
	"fmt"
	"io"
)

// DefaultChunkBytes is the read size used by SplitStream: 20ms of 16 kHz stereo.
const DefaultChunkBytes = 1280

// StreamStats summarizes a SplitStream run.
type StreamStats struct {
	Chunks        int
	CustomerBytes int64
	AgentBytes    int64
	Dropped       int64
}

// SplitStream reads interleaved stereo PCM from r and writes each leg to its
// writer. Reads are aligned to whole frames, so only a partial frame at the
// very end of the input is dropped.
func SplitStream(r io.Reader, customer, agent io.Writer, layout ChannelLayout, chunkBytes int) (StreamStats, error) {
	var stats StreamStats

	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	chunkBytes -= chunkBytes % FrameBytes
	if chunkBytes == 0 {
		chunkBytes = FrameBytes
	}

	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s, serr := SplitStereo(buf[:n])
			if serr != nil {
				return stats, serr
			}
			c, a := layout.Route(s)
			if _, werr := customer.Write(c); werr != nil {
				return stats, fmt.Errorf("write customer channel: %w", werr)
			}
			if _, werr := agent.Write(a); werr != nil {
				return stats, fmt.Errorf("write agent channel: %w", werr)
			}
			stats.Chunks++
			stats.CustomerBytes += int64(len(c))
			stats.AgentBytes += int64(len(a))
			stats.Dropped += int64(s.Dropped)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read stereo input: %w", err)
		}
	}
}
