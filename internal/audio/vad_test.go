package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func constant(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testVAD() *VADDetector {
	return NewVADDetector(&VADConfig{EnergyThreshold: 500, SilenceFrames: 10, FrameSize: 160})
}

func TestVADDetector_SpeechStartsOnce(t *testing.T) {
	vad := testVAD()

	for i := 0; i < 5; i++ {
		speaking, started, ended := vad.ProcessFrame(constant(160, 5000))
		assert.True(t, speaking, "frame %d", i)
		assert.Equal(t, i == 0, started, "frame %d", i)
		assert.False(t, ended, "frame %d", i)
	}
}

func TestVADDetector_SilenceNeverSpeaks(t *testing.T) {
	vad := testVAD()

	for i := 0; i < 15; i++ {
		speaking, started, ended := vad.ProcessFrame(constant(160, 10))
		assert.False(t, speaking)
		assert.False(t, started)
		assert.False(t, ended)
	}
}

func TestVADDetector_EndsAfterSilenceFrames(t *testing.T) {
	vad := testVAD()
	vad.ProcessFrame(constant(160, 5000))

	for i := 0; i < 9; i++ {
		speaking, _, ended := vad.ProcessFrame(constant(160, 10))
		assert.True(t, speaking, "quiet frame %d", i)
		assert.False(t, ended)
	}
	speaking, _, ended := vad.ProcessFrame(constant(160, 10))
	assert.False(t, speaking)
	assert.True(t, ended)
}

func TestVADDetector_SplitsLargeBlocks(t *testing.T) {
	vad := testVAD()

	block := append(constant(160, 5000), constant(1600, 10)...)
	speaking, started, ended := vad.ProcessFrame(block)
	assert.False(t, speaking)
	assert.True(t, started)
	assert.True(t, ended)
}

func TestVADDetector_Threshold(t *testing.T) {
	low := NewVADDetector(&VADConfig{EnergyThreshold: 100, SilenceFrames: 10, FrameSize: 160})
	high := NewVADDetector(&VADConfig{EnergyThreshold: 5000, SilenceFrames: 10, FrameSize: 160})

	samples := constant(160, 1000)
	speaking, _, _ := low.ProcessFrame(samples)
	assert.True(t, speaking)
	speaking, _, _ = high.ProcessFrame(samples)
	assert.False(t, speaking)
}

func TestVADDetector_Reset(t *testing.T) {
	vad := testVAD()
	vad.ProcessFrame(constant(160, 5000))
	assert.True(t, vad.IsSpeaking())

	vad.Reset()
	assert.False(t, vad.IsSpeaking())
}

func TestNewVADDetector_Defaults(t *testing.T) {
	cfg := DefaultVADConfig()
	assert.Equal(t, 500.0, cfg.EnergyThreshold)
	assert.Equal(t, 10, cfg.SilenceFrames)
	assert.Equal(t, 320, cfg.FrameSize)

	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500})
	assert.Equal(t, 320, vad.cfg.FrameSize)
	assert.Equal(t, 1, vad.cfg.SilenceFrames)
}

func TestCalculateRMS(t *testing.T) {
	assert.InDelta(t, 1581.14, CalculateRMS([]int16{1000, -1000, 2000, -2000}), 1.0)
	assert.Zero(t, CalculateRMS(nil))
}
