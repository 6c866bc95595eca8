// Package phy holds the immutable PHY parameters of a sounding run: center
// frequency, sample rate, OFDM symbol geometry, and the derived sizes every
// other core module (schedule, waveform, ring, recorder) reads from.
package phy

import "fmt"

const (
	// MinFFTSize and MaxFFTSize bound the clamped FFT size.
	MinFFTSize = 64
	MaxFFTSize = 2048

	// MaxCPSize bounds the clamped cyclic-prefix size.
	MaxCPSize = 128

	// BeaconSize is the fixed length of the composed beacon waveform:
	// 15 STS periods of 16 samples plus 2 gold-IFFT periods of 128 samples.
	BeaconSize = 15*16 + 2*128
)

// Params holds the PHY parameters of a sounding run, clamped and validated
// once at configuration load time and never mutated afterward.
type Params struct {
	CenterFreq float64
	SampleRate float64
	NCOOffset  float64

	FFTSize            int
	CPSize             int
	SymbolsPerSubframe int
	PrefixPad          int
	PostfixPad         int

	// Derived sizes, computed by Derive.
	OFDMSymbolSize int
	SubframeSize   int
	SampsPerSymbol int
}

// Derive clamps FFTSize to [MinFFTSize, MaxFFTSize] and CPSize to
// [0, MaxCPSize], computes the derived sizes, and checks the
// samps_per_symbol invariant. The clamp is a silent normalization
// (logged by the caller as a warning, not reported as an error); the
// samps_per_symbol invariant is evaluated against the clamped values and
// is the first constraint that can fail fatally.
func Derive(p Params) (Params, bool, error) {
	clamped := false

	if p.FFTSize < MinFFTSize {
		p.FFTSize = MinFFTSize
		clamped = true
	} else if p.FFTSize > MaxFFTSize {
		p.FFTSize = MaxFFTSize
		clamped = true
	}

	if p.CPSize < 0 {
		p.CPSize = 0
		clamped = true
	} else if p.CPSize > MaxCPSize {
		p.CPSize = MaxCPSize
		clamped = true
	}

	p.OFDMSymbolSize = p.FFTSize + p.CPSize
	p.SubframeSize = p.SymbolsPerSubframe * p.OFDMSymbolSize
	p.SampsPerSymbol = p.SubframeSize + p.PrefixPad + p.PostfixPad

	if p.SampsPerSymbol < BeaconSize+p.PrefixPad+p.PostfixPad {
		return p, clamped, fmt.Errorf("phy: samps_per_symbol %d is smaller than beacon_size+prefix+postfix (%d): "+
			"increase symbols_per_subframe or fft_size", p.SampsPerSymbol, BeaconSize+p.PrefixPad+p.PostfixPad)
	}

	return p, clamped, nil
}

// GainCap describes the maximum permitted TX gain for a role.
type GainCap struct {
	Role string
	Max  float64
}

// DefaultGainCaps: base-station gain is hard-capped at
// 81; UE gain defaults to 81 but is configurable by the caller.
func DefaultGainCaps(ueCap float64) []GainCap {
	if ueCap <= 0 {
		ueCap = 81
	}
	return []GainCap{
		{Role: "bs", Max: 81},
		{Role: "ue", Max: ueCap},
	}
}

// RadioGain is one channel's configured TX gain.
type RadioGain struct {
	Channel string
	Role    string
	Value   float64
}

// ValidateGains checks every configured gain against its role's cap and
// returns an error naming the first offending channel.
func ValidateGains(gains []RadioGain, caps []GainCap) error {
	capByRole := make(map[string]float64, len(caps))
	for _, c := range caps {
		capByRole[c.Role] = c.Max
	}
	for _, g := range gains {
		max, ok := capByRole[g.Role]
		if !ok {
			continue
		}
		if g.Value > max {
			return fmt.Errorf("phy: gain %.1f on channel %q (role %q) exceeds cap %.1f", g.Value, g.Channel, g.Role, max)
		}
	}
	return nil
}
