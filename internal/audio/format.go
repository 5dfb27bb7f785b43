// Package audio holds the client-side media path: the local audio device
// abstraction and the UDP relay that carries call audio between peers.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format describes raw PCM audio.
type Format struct {
	SampleRate    int  `json:"sample_rate"`
	BitsPerSample int  `json:"bits_per_sample"`
	Channels      int  `json:"channels"`
	Signed        bool `json:"signed"`
	BigEndian     bool `json:"big_endian"`
	// ChunkSize is the number of bytes handed to a capture callback and
	// sent in one datagram.
	ChunkSize int `json:"chunk_size"`
}

// DefaultFormat is 16 kHz signed 16-bit mono little-endian PCM in 1024-byte
// chunks.
var DefaultFormat = Format{
	SampleRate:    16000,
	BitsPerSample: 16,
	Channels:      1,
	Signed:        true,
	BigEndian:     false,
	ChunkSize:     1024,
}

// DefaultPlaybackQueue is the number of chunks a device buffers for
// playback before dropping the oldest.
const DefaultPlaybackQueue = 50

var ErrInvalidFormat = errors.New("invalid audio format")

// Validate reports whether the format can be streamed.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	case f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0:
		return fmt.Errorf("%w: %d bits per sample", ErrInvalidFormat, f.BitsPerSample)
	case f.Channels <= 0:
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	case f.ChunkSize <= 0 || f.ChunkSize%f.FrameSize() != 0:
		return fmt.Errorf("%w: chunk size %d", ErrInvalidFormat, f.ChunkSize)
	}
	return nil
}

// FrameSize is the number of bytes per sample across all channels.
func (f Format) FrameSize() int {
	return f.BitsPerSample / 8 * f.Channels
}

// BytesPerSecond is the data rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Duration returns how long n bytes of audio play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// ChunkDuration is the playing time of one chunk, 32ms for DefaultFormat.
func (f Format) ChunkDuration() time.Duration {
	return f.Duration(f.ChunkSize)
}

func (f Format) String() string {
	order := "LE"
	if f.BigEndian {
		order = "BE"
	}
	return fmt.Sprintf("%dHz/%dbit/%dch/%s", f.SampleRate, f.BitsPerSample, f.Channels, order)
}
