package audio

import (
	"math"
	"sync"
)

// filterTaps is the length of the anti-aliasing FIR kernel.
const filterTaps = 31

type ratePair struct{ src, dst int }

// kernels caches one low-pass kernel per conversion; a call converts between
// the same two rates on every 20 ms frame.
var kernels sync.Map // ratePair → []float32

// Resample converts samples from srcRate to dstRate by linear interpolation.
// A windowed-sinc low-pass runs before downsampling against aliasing and
// after upsampling against imaging. Matching rates return the input.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	kernel := kernelFor(srcRate, dstRate)
	if srcRate > dstRate {
		samples = convolve(samples, kernel)
	}
	out := interpolate(samples, float64(srcRate)/float64(dstRate))
	if dstRate > srcRate {
		out = convolve(out, kernel)
	}
	return out
}

func kernelFor(srcRate, dstRate int) []float32 {
	key := ratePair{srcRate, dstRate}
	if k, ok := kernels.Load(key); ok {
		return k.([]float32)
	}
	nyquist := float64(min(srcRate, dstRate)) / 2
	k := blackmanSinc(nyquist/float64(max(srcRate, dstRate)), filterTaps)
	kernels.Store(key, k)
	return k
}

// interpolate resamples linearly; step is source samples per output sample.
func interpolate(samples []float32, step float64) []float32 {
	out := make([]float32, int(float64(len(samples))/step))
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// convolve applies kernel centred on each sample. Samples outside the input
// count as zero.
func convolve(samples, kernel []float32) []float32 {
	half := len(kernel) / 2
	out := make([]float32, len(samples))
	for i := range samples {
		lo := max(0, half-i)
		hi := min(len(kernel), len(samples)-i+half)
		var acc float32
		for j := lo; j < hi; j++ {
			acc += samples[i+j-half] * kernel[j]
		}
		out[i] = acc
	}
	return out
}

// blackmanSinc builds a unity-gain windowed-sinc low-pass kernel. fc is the
// cutoff as a fraction of the sample rate.
func blackmanSinc(fc float64, taps int) []float32 {
	half := taps / 2
	span := float64(taps - 1)
	raw := make([]float64, taps)
	var sum float64
	for i := range raw {
		v := 1.0
		if n := float64(i - half); n != 0 {
			x := 2 * math.Pi * fc * n
			v = math.Sin(x) / x
		}
		v *= 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/span) + 0.08*math.Cos(4*math.Pi*float64(i)/span)
		raw[i] = v
		sum += v
	}
	kernel := make([]float32, taps)
	for i, v := range raw {
		kernel[i] = float32(v / sum)
	}
	return kernel
}
