package cardiod

// Optional pre-detection filtering. The analyzer can run each incoming
// voltage through a cascade of biquad sections before the PQRST algorithm
// sees it; with no filter configured the raw voltage passes straight
// through. Coefficients follow the RBJ audio-EQ cookbook formulas.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BiquadSection is one second-order IIR section in transposed direct form II.
// Coefficients are normalized so a0 == 1.
type BiquadSection struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// Process runs one sample through the section.
func (s *BiquadSection) Process(x float64) float64 {
	y := s.b0*x + s.z1
	s.z1 = s.b1*x - s.a1*y + s.z2
	s.z2 = s.b2*x - s.a2*y
	return y
}

// Reset clears the section's delay state.
func (s *BiquadSection) Reset() { s.z1, s.z2 = 0, 0 }

// NewNotch returns a section that rejects a narrow band around freq Hz.
// Used against powerline interference (50 or 60 Hz).
func NewNotch(freq, q, sampleRate float64) *BiquadSection {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return &BiquadSection{
		b0: 1 / a0,
		b1: -2 * cosw0 / a0,
		b2: 1 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewLowpass returns a Butterworth-Q lowpass section with corner freq Hz.
func NewLowpass(freq, sampleRate float64) *BiquadSection {
	const q = math.Sqrt2 / 2
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return &BiquadSection{
		b0: (1 - cosw0) / 2 / a0,
		b1: (1 - cosw0) / a0,
		b2: (1 - cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// notchQ sets the rejection bandwidth of configured notches (f0/Q ≈ 1.7 Hz
// at 50 Hz).
const notchQ = 30.0

// FilterChain is an ordered cascade of biquad sections. A nil *FilterChain
// is valid and passes samples through unchanged.
type FilterChain struct {
	sections []*BiquadSection
}

// ParseFilterChain builds a chain from a comma-separated config string such
// as "notch50,lowpass40". An empty string yields a nil chain. Corner and
// center frequencies must sit below the Nyquist rate.
func ParseFilterChain(spec string, sampleRate float64) (*FilterChain, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	fc := &FilterChain{}
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(strings.ToLower(token))
		var kind string
		switch {
		case strings.HasPrefix(token, "notch"):
			kind = "notch"
		case strings.HasPrefix(token, "lowpass"):
			kind = "lowpass"
		default:
			return nil, fmt.Errorf("unknown filter %q (want notch<freq> or lowpass<freq>)", token)
		}
		freq, err := strconv.ParseFloat(token[len(kind):], 64)
		if err != nil {
			return nil, fmt.Errorf("bad frequency in filter %q: %v", token, err)
		}
		if freq <= 0 || freq >= sampleRate/2 {
			return nil, fmt.Errorf("filter %q frequency out of range (0, %g)", token, sampleRate/2)
		}
		switch kind {
		case "notch":
			fc.sections = append(fc.sections, NewNotch(freq, notchQ, sampleRate))
		case "lowpass":
			fc.sections = append(fc.sections, NewLowpass(freq, sampleRate))
		}
	}
	return fc, nil
}

// Process runs one voltage through every section in order.
func (fc *FilterChain) Process(x float32) float32 {
	if fc == nil {
		return x
	}
	y := float64(x)
	for _, s := range fc.sections {
		y = s.Process(y)
	}
	return float32(y)
}

// Reset clears the delay state of every section.
func (fc *FilterChain) Reset() {
	if fc == nil {
		return
	}
	for _, s := range fc.sections {
		s.Reset()
	}
}
