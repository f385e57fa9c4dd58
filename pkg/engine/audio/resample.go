package audio

import "encoding/binary"

// Resample converts mono PCM16 from one sample rate to another using linear
// interpolation. It is good enough for the telephony rates this engine sees
// (8k/16k/24k/48k); callers supplying the target rate get their input back
// untouched.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	inSamples := len(pcm) / 2
	if inSamples == 0 {
		return nil
	}

	outSamples := inSamples * toRate / fromRate
	out := make([]byte, outSamples*2)

	for i := 0; i < outSamples; i++ {
		// Source position in input sample space.
		pos := float64(i) * float64(fromRate) / float64(toRate)
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := s0
		if idx+1 < inSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		}

		v := float64(s0) + (float64(s1)-float64(s0))*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
