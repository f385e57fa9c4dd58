// Package audio provides PCM format helpers and the fixed-size frame chunker
// used on both the microphone and synthesized-speech paths.
package audio

// Format describes raw little-endian PCM16 audio.
type Format struct {
	// SampleRate in Hz, e.g. 48000.
	SampleRate int `json:"sample_rate"`
	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`
	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultFormat is mono 16-bit PCM at 48 kHz, the rate the backend negotiates.
func DefaultFormat() Format {
	return Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the byte rate for this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BytesForDurationMs returns how many bytes cover durationMs of audio, rounded
// down to a whole sample boundary.
func (f Format) BytesForDurationMs(durationMs int) int {
	b := f.BytesPerSecond() * durationMs / 1000
	align := f.Channels * f.BitsPerSample / 8
	if align > 0 {
		b -= b % align
	}
	return b
}

// DurationMs returns the playback duration of n bytes in milliseconds.
func (f Format) DurationMs(n int) int {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return n * 1000 / bps
}
