package audio

// VADConfig tunes the energy gate behind the speaking indicator
type VADConfig struct {
	// EnergyThreshold is the RMS above which a window counts as voiced.
	EnergyThreshold float64
	// SilenceFrames is how many quiet windows in a row end an utterance.
	SilenceFrames int
	// FrameSize is the analysis window in samples; 320 is 20ms at 16kHz.
	FrameSize int
}

// DefaultVADConfig gates at RMS 500 with 20ms windows and 200ms of hangover
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		FrameSize:       320,
	}
}

// VADDetector tracks whether the speaker is talking. It is not safe for
// concurrent use; the capture pump owns it.
type VADDetector struct {
	cfg      VADConfig
	quiet    int
	speaking bool
}

// NewVADDetector creates a detector; nil selects DefaultVADConfig
func NewVADDetector(cfg *VADConfig) *VADDetector {
	c := *DefaultVADConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultVADConfig().FrameSize
	}
	if c.SilenceFrames <= 0 {
		c.SilenceFrames = 1
	}
	return &VADDetector{cfg: c}
}

// ProcessFrame analyses one capture block window by window. It returns the
// speaking state after the block and whether speech started or ended
// anywhere inside it.
func (v *VADDetector) ProcessFrame(samples []int16) (speaking, started, ended bool) {
	for off := 0; off < len(samples); off += v.cfg.FrameSize {
		end := min(off+v.cfg.FrameSize, len(samples))
		if CalculateRMS(samples[off:end]) > v.cfg.EnergyThreshold {
			v.quiet = 0
			if !v.speaking {
				v.speaking = true
				started = true
			}
			continue
		}
		if !v.speaking {
			continue
		}
		v.quiet++
		if v.quiet >= v.cfg.SilenceFrames {
			v.speaking = false
			v.quiet = 0
			ended = true
		}
	}
	return v.speaking, started, ended
}

// Reset forgets any utterance in progress
func (v *VADDetector) Reset() {
	v.quiet = 0
	v.speaking = false
}

// IsSpeaking reports the state after the last processed block
func (v *VADDetector) IsSpeaking() bool {
	return v.speaking
}
