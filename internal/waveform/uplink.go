package waveform

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
)

// ULDataParams names the fields the uplink-data filename is deterministically
// derived from.
type ULDataParams struct {
	Directory          string
	Modulation         string
	SubcarrierNum      int
	FFTSize            int
	SymbolsPerSubframe int
	ULSlots            []int
	ULDataFrameNum     int
	Channel            string
	SDRIndex           int
}

func ulFilename(kind string, p ULDataParams) string {
	return filepath.Join(p.Directory, fmt.Sprintf("ul_data_%s_%s_%d_%d_%d_%d_%d_%s_%d.bin",
		kind, p.Modulation, p.SubcarrierNum, p.FFTSize, p.SymbolsPerSubframe,
		len(p.ULSlots), p.ULDataFrameNum, p.Channel, p.SDRIndex))
}

// ULData holds one client SDR's loaded frequency- and time-domain uplink
// sample streams: one record per uplink slot per client channel, in file
// order.
type ULData struct {
	FreqDomain [][]CF32 // [record][fft_size*symbols_per_subframe]
	TimeDomain [][]CF32 // [record][samps_per_symbol]
}

// LoadULData reads the deterministically-named frequency- and time-domain
// uplink data files for one client SDR. A missing file is fatal; a short
// read on an otherwise-present file is logged as a warning and the short
// record is returned truncated.
func LoadULData(p ULDataParams, clChannels, sampsPerSymbol int) (ULData, error) {
	freqFile := ulFilename("f", p)
	timeFile := ulFilename("t", p)

	recordsPerSlot := clChannels
	freqSamplesPerRecord := p.FFTSize * p.SymbolsPerSubframe
	timeSamplesPerRecord := sampsPerSymbol

	freq, err := readComplexRecords(freqFile, len(p.ULSlots)*recordsPerSlot, freqSamplesPerRecord)
	if err != nil {
		return ULData{}, fmt.Errorf("waveform: loading frequency-domain UL data for sdr %d: %w", p.SDRIndex, err)
	}
	time, err := readComplexRecords(timeFile, len(p.ULSlots)*recordsPerSlot, timeSamplesPerRecord)
	if err != nil {
		return ULData{}, fmt.Errorf("waveform: loading time-domain UL data for sdr %d: %w", p.SDRIndex, err)
	}

	return ULData{FreqDomain: freq, TimeDomain: time}, nil
}

// readComplexRecords reads numRecords fixed-width little-endian
// complex<float> records from path. A missing file is a fatal error. A
// file that ends before numRecords records is logged as a warning; a
// record that reads short is returned truncated, and reading stops there.
func readComplexRecords(path string, numRecords, samplesPerRecord int) ([][]CF32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("missing uplink data file %s: %w", path, err)
	}
	defer f.Close()

	records := make([][]CF32, 0, numRecords)
	buf := make([]byte, samplesPerRecord*8) // 2 x float32 per sample
	for r := 0; r < numRecords; r++ {
		n, err := io.ReadFull(f, buf)
		if err != nil {
			if err == io.EOF && n == 0 {
				log.Printf("waveform: short read on %s: %d of %d records present", path, r, numRecords)
				break
			}
			log.Printf("waveform: short read on %s record %d (%d/%d bytes): %v", path, r, n, len(buf), err)
			records = append(records, decodeComplexRecord(buf[:n]))
			break
		}
		records = append(records, decodeComplexRecord(buf))
	}
	return records, nil
}

func decodeComplexRecord(buf []byte) []CF32 {
	n := len(buf) / 8
	out := make([]CF32, n)
	for i := 0; i < n; i++ {
		re := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8+4:]))
		out[i] = CF32{I: re, Q: im}
	}
	return out
}
