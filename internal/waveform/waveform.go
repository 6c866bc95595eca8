// Package waveform composes the beacon, pilot, and (optional) uplink-data
// sample vectors the radios transmit, from PHY parameters and the active
// slot schedule. Gold-IFFT and Zadoff-Chu generation lean on
// gonum.org/v1/gonum/dsp/fourier for the frequency-to-time synthesis.
package waveform

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fpgaTxRAMSize is the fixed packed-sample capacity of the radio's
// transmit RAM.
const fpgaTxRAMSize = 4096

// CI16 is one complex sample with int16 components, the radio RAM's
// native sample representation.
type CI16 struct {
	I, Q int16
}

// CF32 is one complex sample with float32 components.
type CF32 struct {
	I, Q float32
}

func clampToInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// PackQI packs one complex sample into the radio RAM's "QI" component
// interleave: Q in the high 16 bits, I in the low 16 bits.
func PackQI(s CI16) uint32 {
	return uint32(uint16(s.Q))<<16 | uint32(uint16(s.I))
}

// PackCI16 packs a slice of complex samples into the radio's uint32 RAM
// words, using the "QI" interleave.
func PackCI16(samples []CI16) []uint32 {
	out := make([]uint32, len(samples))
	for i, s := range samples {
		out[i] = PackQI(s)
	}
	return out
}

// ZeroExtendPacked pads a packed-sample slice to fpgaTxRAMSize with
// zero words, as the pilot composer requires. It errors if
// the input is already longer than the RAM.
func ZeroExtendPacked(packed []uint32) ([]uint32, error) {
	if len(packed) > fpgaTxRAMSize {
		return nil, fmt.Errorf("waveform: packed sample count %d exceeds fpgaTxRAMSize %d", len(packed), fpgaTxRAMSize)
	}
	out := make([]uint32, fpgaTxRAMSize)
	copy(out, packed)
	return out, nil
}

// STSSequence generates the 16-sample short training sequence used once
// per beacon period. It is built from a fixed sparse BPSK comb in the
// frequency domain, carried to the time domain with an inverse complex
// FFT, and quantized to int16.
func STSSequence() []CI16 {
	const n = 16
	freq := make([]complex128, n)
	// Sparse comb: every 4th subcarrier active, alternating sign,
	// giving a low peak-to-average, exactly periodic-in-16 sequence.
	for k := 0; k < n; k += 4 {
		if (k/4)%2 == 0 {
			freq[k] = complex(1, 0)
		} else {
			freq[k] = complex(-1, 0)
		}
	}
	fft := fourier.NewCmplxFFT(n)
	td := fft.Sequence(nil, freq)

	out := make([]CI16, n)
	const scale = 8192.0
	for i, c := range td {
		out[i] = CI16{I: clampToInt16(real(c) * scale), Q: clampToInt16(imag(c) * scale)}
	}
	return out
}

// GoldIFFTSequence generates the 128-sample synchronization sequence
// used twice per beacon period: a Gold code (XOR of two maximal-length
// LFSR sequences) mapped to BPSK in the frequency domain and carried to
// the time domain by an inverse complex FFT.
func GoldIFFTSequence() []CI16 {
	const n = 128
	a := lfsrSequence(0b1000001, 7, n) // taps at bits 0 and 6: x^7+x^6+1
	b := lfsrSequence(0b1100110, 7, n)

	freq := make([]complex128, n)
	for i := 0; i < n; i++ {
		bit := a[i] ^ b[i]
		if bit == 0 {
			freq[i] = complex(1, 0)
		} else {
			freq[i] = complex(-1, 0)
		}
	}
	fft := fourier.NewCmplxFFT(n)
	td := fft.Sequence(nil, freq)

	out := make([]CI16, n)
	const scale = 4096.0
	for i, c := range td {
		out[i] = CI16{I: clampToInt16(real(c) * scale), Q: clampToInt16(imag(c) * scale)}
	}
	return out
}

// lfsrSequence runs a Fibonacci LFSR with the given XOR tap mask and
// register width for n output bits, producing a deterministic maximal-
// length-style pseudorandom bit sequence.
func lfsrSequence(taps uint32, width uint, n int) []byte {
	state := uint32(1)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(state & 1)
		feedback := uint32(0)
		masked := state & taps
		for masked != 0 {
			feedback ^= masked & 1
			masked >>= 1
		}
		state = (state >> 1) | (feedback << (width - 1))
	}
	return out
}

// Beacon is the composed beacon waveform: 15 STS repetitions followed by
// 2 gold-IFFT repetitions, zero-prefixed, zero-padded to subframe_size,
// then zero-postfixed.
type Beacon struct {
	CI16   []CI16
	Packed []uint32
}

// ComposeBeacon builds the beacon waveform: 15 STS periods, 2 gold-IFFT
// periods, zero prefix/pad/postfix.
func ComposeBeacon(prefixPad, subframeSize, postfixPad int) (Beacon, error) {
	sts := STSSequence()
	gold := GoldIFFTSequence()

	core := make([]CI16, 0, 15*len(sts)+2*len(gold))
	for i := 0; i < 15; i++ {
		core = append(core, sts...)
	}
	for i := 0; i < 2; i++ {
		core = append(core, gold...)
	}

	if len(core) > subframeSize {
		return Beacon{}, fmt.Errorf("waveform: beacon core length %d exceeds subframe_size %d", len(core), subframeSize)
	}

	samples := make([]CI16, 0, prefixPad+subframeSize+postfixPad)
	samples = append(samples, make([]CI16, prefixPad)...)
	samples = append(samples, core...)
	samples = append(samples, make([]CI16, subframeSize-len(core))...)
	samples = append(samples, make([]CI16, postfixPad)...)

	return Beacon{CI16: samples, Packed: PackCI16(samples)}, nil
}

// LTSSequence generates the 64-sample long training sequence used as the
// pilot waveform when fft_size is 64.
func LTSSequence() []CI16 {
	const n = 64
	freq := make([]complex128, n)
	for k := 0; k < n; k++ {
		if k%2 == 0 {
			freq[k] = complex(1, 0)
		} else {
			freq[k] = complex(-1, 0)
		}
	}
	freq[0] = 0
	fft := fourier.NewCmplxFFT(n)
	td := fft.Sequence(nil, freq)
	out := make([]CI16, n)
	const scale = 8192.0
	for i, c := range td {
		out[i] = CI16{I: clampToInt16(real(c) * scale), Q: clampToInt16(imag(c) * scale)}
	}
	return out
}

// ZadoffChuSequence generates a length-n constant-amplitude, zero-
// autocorrelation Zadoff-Chu sequence with root index u (u and n coprime).
func ZadoffChuSequence(n, u int) []CI16 {
	out := make([]CI16, n)
	const scale = 8192.0
	for k := 0; k < n; k++ {
		var phase float64
		if n%2 == 0 {
			phase = math.Pi * float64(u) * float64(k*k) / float64(n)
		} else {
			phase = math.Pi * float64(u) * float64(k*(k+1)) / float64(n)
		}
		c := cmplx.Exp(complex(0, -phase))
		out[k] = CI16{I: clampToInt16(real(c) * scale), Q: clampToInt16(imag(c) * scale)}
	}
	return out
}

// PilotSequenceID selects the pilot waveform: the long
// training sequence when fft_size is 64, else a Zadoff-Chu sequence over
// the data subcarrier count.
func PilotSequenceID(fftSize int) string {
	if fftSize == 64 {
		return "lts"
	}
	return "zadoff-chu"
}

// PilotSequence returns the chosen time-domain pilot sequence, selecting
// between LTS and Zadoff-Chu per PilotSequenceID.
func PilotSequence(fftSize, symbolDataSubcarrierNum, zcRoot int) []CI16 {
	if PilotSequenceID(fftSize) == "lts" {
		return LTSSequence()
	}
	return ZadoffChuSequence(symbolDataSubcarrierNum, zcRoot)
}

// Pilot is the composed pilot waveform in both packed and cf32 form.
type Pilot struct {
	CF32   []CF32
	Packed []uint32
}

// ComposePilot builds the pilot waveform: cyclic-prefix
// the chosen sequence, replicate it symbolsPerSubframe times, sandwich
// with prefix/postfix zero-pad, and zero-extend the packed form to
// fpgaTxRAMSize.
func ComposePilot(seq []CI16, cpSize, symbolsPerSubframe, prefixPad, postfixPad int) (Pilot, error) {
	if cpSize > len(seq) {
		return Pilot{}, fmt.Errorf("waveform: cp_size %d exceeds pilot sequence length %d", cpSize, len(seq))
	}

	cp := seq[len(seq)-cpSize:]
	symbol := make([]CI16, 0, cpSize+len(seq))
	symbol = append(symbol, cp...)
	symbol = append(symbol, seq...)

	samples := make([]CI16, 0, prefixPad+symbolsPerSubframe*len(symbol)+postfixPad)
	samples = append(samples, make([]CI16, prefixPad)...)
	for i := 0; i < symbolsPerSubframe; i++ {
		samples = append(samples, symbol...)
	}
	samples = append(samples, make([]CI16, postfixPad)...)

	cf32 := make([]CF32, len(samples))
	for i, s := range samples {
		cf32[i] = CF32{I: float32(s.I) / 32768.0, Q: float32(s.Q) / 32768.0}
	}

	packed, err := ZeroExtendPacked(PackCI16(samples))
	if err != nil {
		return Pilot{}, err
	}

	return Pilot{CF32: cf32, Packed: packed}, nil
}
