package vadgate

import "math"

// Detector decides whether a frame of samples contains speech. Detectors
// carry their own smoothing state, so Detect must be called with frames
// in capture order.
type Detector interface {
	// IsReady reports whether the detector can process audio yet. Audio
	// arriving before readiness is dropped.
	IsReady() bool
	// Detect consumes one frame of 16-bit samples and reports whether
	// speech is present.
	Detect(frame []int16) bool
}

// Detector defaults.
const (
	// DefaultThreshold is the RMS level, on a 0..1 scale, above which a
	// frame counts as speech.
	DefaultThreshold = 0.015
	// DefaultHangover is how many silent frames keep the detector in the
	// speaking state, roughly 380 ms at 512 samples per frame and 16 kHz.
	DefaultHangover = 12
)

// EnergyDetector is an RMS-threshold detector with hangover smoothing: a
// loud frame opens it, and it stays open until hangover consecutive
// quiet frames pass.
type EnergyDetector struct {
	threshold float64
	hangover  int
	remaining int
}

// NewEnergyDetector returns a detector with the given RMS threshold and
// hangover frame count. Zero values select the defaults.
func NewEnergyDetector(threshold float64, hangover int) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if hangover <= 0 {
		hangover = DefaultHangover
	}
	return &EnergyDetector{threshold: threshold, hangover: hangover}
}

func (d *EnergyDetector) IsReady() bool { return true }

func (d *EnergyDetector) Detect(frame []int16) bool {
	if len(frame) == 0 {
		return d.remaining > 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s) / 32768
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms > d.threshold {
		d.remaining = d.hangover
		return true
	}
	if d.remaining > 0 {
		d.remaining--
		return true
	}
	return false
}
