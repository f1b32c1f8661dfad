package openairt

// PCM helpers. Wire audio is little-endian 16-bit mono.

func pcm16ToSamples(p []byte) []int16 {
	samples := make([]int16, len(p)/2)
	for i := range samples {
		samples[i] = int16(uint16(p[2*i]) | uint16(p[2*i+1])<<8)
	}
	return samples
}

func samplesToPCM16(samples []int16) []byte {
	p := make([]byte, len(samples)*2)
	for i, s := range samples {
		p[2*i] = byte(s)
		p[2*i+1] = byte(uint16(s) >> 8)
	}
	return p
}

// resampleLinear converts between sample rates by linear interpolation.
// Good enough for speech fed to a recognizer.
func resampleLinear(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	n := len(in) * to / from
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * float64(from) / float64(to)
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}
