// Package codec converts between captured PCM16 frames and the base64
// wire chunks carried by the live protocol.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// DefaultInboundRate is assumed when a wire chunk omits its rate.
const DefaultInboundRate = 24000

// Inbound rates outside this range are rejected.
const (
	MinRate = 8000
	MaxRate = 48000
)

// pcmMIME is the only media type this codec speaks.
const pcmMIME = "audio/pcm"

// WireChunk is one base64 audio payload as sent on the wire.
type WireChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// MIMEType returns the wire media type for PCM16 at rate.
func MIMEType(rate int) string {
	return pcmMIME + ";rate=" + strconv.Itoa(rate)
}

// Codec encodes capture frames. It keeps one scratch buffer so steady-state
// encoding does not allocate for the raw PCM bytes. A Codec is not safe for
// concurrent use; the capture pump owns it.
type Codec struct {
	scratch []byte
}

// New returns a Codec.
func New() *Codec {
	return &Codec{}
}

// Encode converts a PCM16 chunk to its wire form. The wire format is mono,
// so multi-channel chunks are downmixed first.
func (c *Codec) Encode(chunk audioio.AudioChunk) (WireChunk, error) {
	samples := chunk.Samples
	if chunk.Channels > 1 {
		samples = audioio.ConvertChannels(samples, chunk.Channels, 1)
	}
	if len(samples) == 0 {
		return WireChunk{}, &CodecError{Kind: ErrEmptyPayload, MIMEType: MIMEType(chunk.SampleRate)}
	}

	n := len(samples) * 2
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	buf := c.scratch[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	return WireChunk{
		MIMEType: MIMEType(chunk.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(buf),
	}, nil
}

// EncodeFloat32 clamps float samples to [-1, 1], converts them to PCM16
// and encodes the result.
func (c *Codec) EncodeFloat32(samples []float32, rate, channels int, at time.Time) (WireChunk, error) {
	return c.Encode(audioio.AudioChunk{
		Samples:     audioio.Float32ToInt16(samples),
		SampleRate:  rate,
		Channels:    channels,
		CaptureTime: at,
	})
}

// Decode converts a wire chunk into a playable chunk at the target rate and
// channel count. Inbound audio is mono PCM16.
func Decode(w WireChunk, targetRate, targetChannels int) (audioio.AudioChunk, error) {
	rate, err := parseRate(w.MIMEType)
	if err != nil {
		return audioio.AudioChunk{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return audioio.AudioChunk{}, &CodecError{Kind: ErrBadBase64, MIMEType: w.MIMEType, Err: err}
	}
	if len(raw) == 0 {
		return audioio.AudioChunk{}, &CodecError{Kind: ErrEmptyPayload, MIMEType: w.MIMEType}
	}
	if len(raw)%2 != 0 {
		return audioio.AudioChunk{}, &CodecError{
			Kind:     ErrTruncated,
			MIMEType: w.MIMEType,
			Err:      fmt.Errorf("%d bytes", len(raw)),
		}
	}

	samples := audioio.BytesToSamples(raw)
	if targetChannels <= 0 {
		targetChannels = 1
	}
	if targetRate <= 0 {
		targetRate = rate
	}

	if rate != targetRate {
		samples = audioio.Resample(samples, rate, targetRate)
	}
	samples = audioio.ConvertChannels(samples, 1, targetChannels)

	return audioio.AudioChunk{
		Samples:    samples,
		SampleRate: targetRate,
		Channels:   targetChannels,
	}, nil
}

// parseRate extracts the rate parameter of an audio/pcm media type.
func parseRate(mimeType string) (int, error) {
	if strings.TrimSpace(mimeType) == "" {
		return DefaultInboundRate, nil
	}
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, &CodecError{Kind: ErrUnsupportedMIME, MIMEType: mimeType, Err: err}
	}
	if mt != pcmMIME && mt != "audio/l16" {
		return 0, &CodecError{Kind: ErrUnsupportedMIME, MIMEType: mimeType}
	}
	r, ok := params["rate"]
	if !ok {
		return DefaultInboundRate, nil
	}
	rate, err := strconv.Atoi(r)
	if err != nil {
		return 0, &CodecError{Kind: ErrUnsupportedMIME, MIMEType: mimeType, Err: fmt.Errorf("bad rate %q", r)}
	}
	if rate < MinRate || rate > MaxRate {
		return 0, &CodecError{
			Kind:     ErrUnsupportedMIME,
			MIMEType: mimeType,
			Err:      fmt.Errorf("rate %d outside [%d, %d]", rate, MinRate, MaxRate),
		}
	}
	return rate, nil
}
