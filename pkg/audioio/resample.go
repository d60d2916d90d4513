package audioio

// Resample converts mono PCM16 between sample rates using linear
// interpolation. Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	return ResampleFrames(samples, 1, fromRate, toRate)
}

// ResampleFrames resamples interleaved PCM16 with the given channel count.
// Each channel is interpolated independently.
func ResampleFrames(samples []int16, channels, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	if channels < 1 {
		channels = 1
	}

	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	out := make([]int16, outFrames*channels)
	if outFrames == 0 {
		return out
	}

	step := float64(fromRate) / float64(toRate)
	last := inFrames - 1
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		for c := 0; c < channels; c++ {
			if idx >= last {
				out[i*channels+c] = samples[last*channels+c]
				continue
			}
			a := float64(samples[idx*channels+c])
			b := float64(samples[(idx+1)*channels+c])
			out[i*channels+c] = int16(a + frac*(b-a))
		}
	}
	return out
}

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		data[2*i] = byte(s)
		data[2*i+1] = byte(uint16(s) >> 8)
	}
	return data
}

// MonoToStereo duplicates each sample into both channels.
func MonoToStereo(samples []int16) []int16 {
	stereo := make([]int16, 2*len(samples))
	for i, s := range samples {
		stereo[2*i], stereo[2*i+1] = s, s
	}
	return stereo
}

// StereoToMono averages left and right.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return mono
}

// ConvertChannels converts interleaved samples between mono and stereo.
// Other channel layouts are downmixed to mono first.
func ConvertChannels(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	mono := samples
	switch {
	case from == 2:
		mono = StereoToMono(samples)
	case from > 2:
		mono = make([]int16, len(samples)/from)
		for i := range mono {
			var sum int32
			for c := 0; c < from; c++ {
				sum += int32(samples[i*from+c])
			}
			mono[i] = int16(sum / int32(from))
		}
	}
	switch to {
	case 1:
		return mono
	case 2:
		return MonoToStereo(mono)
	default:
		out := make([]int16, len(mono)*to)
		for i, s := range mono {
			for c := 0; c < to; c++ {
				out[i*to+c] = s
			}
		}
		return out
	}
}

// Float32ToInt16 converts float samples in [-1, 1] to PCM16.
// Out-of-range values are clamped.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}
