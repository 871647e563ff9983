package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesToSamples decodes little-endian signed 16-bit PCM
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian signed 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32ToPCM16 converts [-1,1] float samples, clipping out-of-range values
func Float32ToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, f := range in {
		f = max(-1, min(1, f))
		if f < 0 {
			out[i] = int16(f * 32768)
		} else {
			out[i] = int16(f * 32767)
		}
	}
	return out
}

// Resample performs linear interpolation between inputRate and outputRate
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	out := make([]int16, int(int64(len(samples))*int64(outputRate)/int64(inputRate)))
	step := float64(inputRate) / float64(outputRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		i0 := min(int(pos), last)
		i1 := min(i0+1, last)
		frac := pos - float64(i0)
		out[i] = int16(float64(samples[i0])*(1-frac) + float64(samples[i1])*frac)
	}
	return out
}

// NormalizeAudio scales samples down so no sample exceeds maxAmplitude
func NormalizeAudio(samples []int16, maxAmplitude int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	peak := 0
	for _, s := range samples {
		peak = max(peak, abs(int(s)))
	}
	if peak <= int(maxAmplitude) {
		return samples
	}

	ratio := float64(maxAmplitude) / float64(peak)
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(float64(s) * ratio)
	}
	return out
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps the RMS of samples to a 0..1 meter value. Full scale is reached
// at roughly a quarter of the int16 range, which is where loud speech sits.
func Level(samples []int16) float64 {
	return min(1, CalculateRMS(samples)/8192)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
