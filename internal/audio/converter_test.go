package audio

import (
	"math"
	"testing"
)

func TestResample(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	// 8kHz to 16kHz should double
	resampled := Resample(samples, 8000, 16000)
	if len(resampled) != 200 {
		t.Errorf("Expected resampled length 200, got %d", len(resampled))
	}

	// 48kHz to 16kHz should divide by three
	resampled2 := Resample(samples, 48000, 16000)
	if len(resampled2) != 33 {
		t.Errorf("Expected resampled length 33, got %d", len(resampled2))
	}

	// Same rate should return unchanged
	resampled3 := Resample(samples, 16000, 16000)
	if len(resampled3) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(resampled3))
	}
}

func TestResample_Interpolates(t *testing.T) {
	samples := []int16{0, 100}
	out := Resample(samples, 8000, 16000)
	// positions 0, 0.5, 1, 1.5 (clamped)
	expected := []int16{0, 50, 100, 100}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("Expected %d at index %d, got %d", expected[i], i, out[i])
		}
	}
}

func TestResample_Empty(t *testing.T) {
	if out := Resample(nil, 48000, 16000); len(out) != 0 {
		t.Errorf("Expected empty output, got %d samples", len(out))
	}
}

func TestNormalizeAudio(t *testing.T) {
	samples := []int16{1000, 20000, -30000, 500}
	maxAmplitude := int16(16000)

	normalized := NormalizeAudio(samples, maxAmplitude)

	for i, s := range normalized {
		if s > maxAmplitude || s < -maxAmplitude {
			t.Errorf("Sample %d out of range: %d", i, s)
		}
	}
	if normalized[2] > -15999 {
		t.Errorf("Expected peak sample near -16000, got %d", normalized[2])
	}
}

func TestNormalizeAudio_Empty(t *testing.T) {
	samples := []int16{}
	normalized := NormalizeAudio(samples, 16000)
	if len(normalized) != 0 {
		t.Errorf("Expected empty slice, got length %d", len(normalized))
	}
}

func TestNormalizeAudio_AlreadyNormalized(t *testing.T) {
	samples := []int16{100, 200, -100, -200}
	maxAmplitude := int16(10000)

	normalized := NormalizeAudio(samples, maxAmplitude)

	if len(normalized) != len(samples) {
		t.Errorf("Expected length %d, got %d", len(samples), len(normalized))
	}
	for i := range samples {
		if normalized[i] != samples[i] {
			t.Errorf("Expected unchanged sample at index %d", i)
		}
	}
}

func TestBytesToSamples(t *testing.T) {
	bytes := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}

	samples, err := BytesToSamples(bytes)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}

	expected := []int16{0, 32767, -32768}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i, exp := range expected {
		if samples[i] != exp {
			t.Errorf("Expected sample %d at index %d, got %d", exp, i, samples[i])
		}
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	if _, err := BytesToSamples([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 32767, -32768}
	bytes := SamplesToBytes(samples)

	expected := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	if len(bytes) != len(expected) {
		t.Fatalf("Expected %d bytes, got %d", len(expected), len(bytes))
	}
	for i, exp := range expected {
		if bytes[i] != exp {
			t.Errorf("Expected byte %d at index %d, got %d", exp, i, bytes[i])
		}
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	out := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	expected := []int16{0, 32767, -32768, 32767, -32768, 16383}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("Expected %d at index %d, got %d", expected[i], i, out[i])
		}
	}
}

func TestCalculateRMSConverter(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	expected := math.Sqrt((1000000 + 1000000 + 4000000 + 4000000) / 4.0)
	tolerance := 0.1

	if math.Abs(rms-expected) > tolerance {
		t.Errorf("Expected RMS %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	samples := []int16{}
	rms := CalculateRMS(samples)
	if rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty slice, got %.2f", rms)
	}
}

func TestLevel(t *testing.T) {
	if l := Level(make([]int16, 10)); l != 0 {
		t.Errorf("Expected level 0 for silence, got %f", l)
	}
	loud := []int16{32767, -32768, 32767, -32768}
	if l := Level(loud); l != 1 {
		t.Errorf("Expected level clamped to 1, got %f", l)
	}
	mid := []int16{4096, -4096}
	if l := Level(mid); l != 0.5 {
		t.Errorf("Expected level 0.5, got %f", l)
	}
}
