package audioio

import "time"

// AudioChunk represents a chunk of interleaved PCM16 audio.
// A chunk is treated as immutable once produced; stages hand it on
// rather than copying it.
type AudioChunk struct {
	// Samples contains PCM16 audio samples, interleaved by channel.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int

	// CaptureTime is when the first sample was captured. Zero for
	// audio that did not come from a capture device.
	CaptureTime time.Time
}

// Bytes returns the raw little-endian bytes of the audio chunk.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Frames returns the number of sample frames (samples per channel).
func (c *AudioChunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of this audio chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the chunk carries no audio.
func (c *AudioChunk) Empty() bool {
	return c.Frames() == 0
}

