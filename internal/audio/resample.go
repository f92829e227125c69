package audio

// fadeInMs is the attack ramp applied at the start of every cue
// playback so the first samples never pop.
const fadeInMs = 10

// resampler converts decoded 16-bit audio at an arbitrary source rate
// into the 32-bit stereo stream the sink consumes, using linear
// interpolation over a fractional read position. It is fed in chunks;
// the final frame of each chunk is carried over so the first output of
// the next chunk interpolates across the boundary.
type resampler struct {
	ratio float64
	pos   float64

	lastLeft  int16
	lastRight int16
	hasLast   bool
	stereo    bool

	fadeFrames    int
	fadeRemaining int
}

// reset prepares the resampler for a new stream or a new output rate.
func (r *resampler) reset(inputRate, outputRate int, stereo bool) {
	r.ratio = float64(inputRate) / float64(outputRate)
	r.pos = 0
	r.lastLeft = 0
	r.lastRight = 0
	r.hasLast = false
	r.stereo = stereo
	r.fadeFrames = outputRate * fadeInMs / 1000
	r.fadeRemaining = r.fadeFrames
}

// process resamples inFrames frames from in and writes interleaved
// 32-bit stereo pairs to out, returning the number of frames produced.
// Mono input feeds both channels. 16-bit samples are left-aligned into
// the 32-bit output.
func (r *resampler) process(in []int16, inFrames int, out []int32) int {
	outCapacity := len(out) / 2
	outCount := 0

	if !r.hasLast && inFrames > 0 {
		if r.stereo {
			r.lastLeft = in[0]
			r.lastRight = in[1]
		} else {
			r.lastLeft = in[0]
			r.lastRight = in[0]
		}
		r.hasLast = true
	}

	for outCount < outCapacity {
		idx := int(r.pos)
		next := idx + 1
		if next >= inFrames {
			break
		}

		frac := r.pos - float64(idx)

		var l0, r0, l1, r1 int16
		if r.stereo {
			if idx == 0 && r.hasLast {
				l0 = r.lastLeft
				r0 = r.lastRight
			} else {
				l0 = in[idx*2]
				r0 = in[idx*2+1]
			}
			l1 = in[next*2]
			r1 = in[next*2+1]
		} else {
			if idx == 0 && r.hasLast {
				l0 = r.lastLeft
				r0 = r.lastLeft
			} else {
				l0 = in[idx]
				r0 = in[idx]
			}
			l1 = in[next]
			r1 = in[next]
		}

		sampleL := (1-frac)*float64(l0) + frac*float64(l1)
		sampleR := (1-frac)*float64(r0) + frac*float64(r1)

		if r.fadeRemaining > 0 {
			fadeGain := 1 - float64(r.fadeRemaining)/float64(r.fadeFrames)
			sampleL *= fadeGain
			sampleR *= fadeGain
			r.fadeRemaining--
		}

		out[outCount*2] = int32(sampleL * 65536)
		out[outCount*2+1] = int32(sampleR * 65536)

		outCount++
		r.pos += r.ratio
	}

	// Keep only the fractional remainder and carry the chunk's final
	// frame for the next boundary interpolation.
	r.pos -= float64(int(r.pos))
	if inFrames > 0 {
		if r.stereo {
			r.lastLeft = in[(inFrames-1)*2]
			r.lastRight = in[(inFrames-1)*2+1]
		} else {
			r.lastLeft = in[inFrames-1]
			r.lastRight = in[inFrames-1]
		}
	}

	return outCount
}

// sampleU8 converts an 8-bit unsigned PCM sample to 16-bit signed.
func sampleU8(b byte) int16 {
	return (int16(b) - 128) << 8
}
