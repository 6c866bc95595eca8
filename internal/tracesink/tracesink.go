// Package tracesink persists captured IQ to a hierarchical, columnar,
// zstd-compressed on-disk dataset. Compression reuses a pool of
// *zstd.Encoder values so appends never pay encoder setup cost.
package tracesink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ModeTag selects the directory-name prefix for a run's trace directory.
type ModeTag string

const (
	ModeNone            ModeTag = ""
	ModeReciprocalCalib ModeTag = "reciprocal-calib-"
	ModeUplink          ModeTag = "uplink-"
)

// recordHeaderSize is frame id, slot id, and payload length, each a
// uint32, prefixed to every compressed chunk.
const recordHeaderSize = 12

var encoderPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("tracesink: constructing zstd encoder: %v", err))
		}
		return enc
	},
}

// Sink is the Trace Sink capability consumed by the Recorder Pool.
type Sink interface {
	Append(cell, frame, slot, antenna int, iq []byte) error
	Flush() error
	Close() error
}

// antennaFile is one antenna's lazily-opened output file within the
// columnar dataset.
type antennaFile struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// ColumnarSink is the default hierarchical columnar Trace Sink: one
// directory per cell, one file per antenna, each record zstd-compressed.
type ColumnarSink struct {
	root string

	mu    sync.Mutex
	files map[[2]int]*antennaFile // key: {cell, antenna}
}

// Path computes the default trace directory path from {directory,
// mode_tag, timestamp}. timestamp is caller-supplied (e.g.
// RFC3339) so the sink itself never calls time.Now.
func Path(directory string, mode ModeTag, timestamp string) string {
	return filepath.Join(directory, fmt.Sprintf("%s%s", mode, timestamp))
}

// NewColumnarSink creates (if absent) the trace root directory and
// returns a ready-to-append sink.
func NewColumnarSink(root string) (*ColumnarSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("tracesink: creating trace directory %s: %w", root, err)
	}
	return &ColumnarSink{root: root, files: make(map[[2]int]*antennaFile)}, nil
}

func (s *ColumnarSink) fileFor(cell, antenna int) (*antennaFile, error) {
	key := [2]int{cell, antenna}

	s.mu.Lock()
	af, ok := s.files[key]
	if ok {
		s.mu.Unlock()
		return af, nil
	}
	af = &antennaFile{}
	s.files[key] = af
	s.mu.Unlock()

	af.mu.Lock()
	defer af.mu.Unlock()
	if af.f != nil {
		return af, nil
	}

	cellDir := filepath.Join(s.root, fmt.Sprintf("cell%d", cell))
	if err := os.MkdirAll(cellDir, 0o755); err != nil {
		return nil, fmt.Errorf("tracesink: creating cell directory %s: %w", cellDir, err)
	}
	path := filepath.Join(cellDir, fmt.Sprintf("antenna%d.bin", antenna))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracesink: opening %s: %w", path, err)
	}
	af.f = f
	af.w = bufio.NewWriter(f)
	return af, nil
}

// Append writes one (frame, slot, antenna) IQ record under the cell's
// antenna file, zstd-compressed.
func (s *ColumnarSink) Append(cell, frame, slot, antenna int, iq []byte) error {
	af, err := s.fileFor(cell, antenna)
	if err != nil {
		return err
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	compressed := enc.EncodeAll(iq, make([]byte, 0, len(iq)))
	encoderPool.Put(enc)

	header := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(frame))
	binary.LittleEndian.PutUint32(header[4:8], uint32(slot))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(compressed)))

	af.mu.Lock()
	defer af.mu.Unlock()
	if _, err := af.w.Write(header); err != nil {
		return fmt.Errorf("tracesink: writing record header: %w", err)
	}
	if _, err := af.w.Write(compressed); err != nil {
		return fmt.Errorf("tracesink: writing compressed payload: %w", err)
	}
	return nil
}

// Flush flushes every open antenna file's buffered writer.
func (s *ColumnarSink) Flush() error {
	s.mu.Lock()
	files := make([]*antennaFile, 0, len(s.files))
	for _, af := range s.files {
		files = append(files, af)
	}
	s.mu.Unlock()

	for _, af := range files {
		af.mu.Lock()
		err := af.w.Flush()
		af.mu.Unlock()
		if err != nil {
			return fmt.Errorf("tracesink: flush: %w", err)
		}
	}
	return nil
}

// Close flushes and closes every open antenna file.
func (s *ColumnarSink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	files := make([]*antennaFile, 0, len(s.files))
	for _, af := range s.files {
		files = append(files, af)
	}
	s.mu.Unlock()

	var firstErr error
	for _, af := range files {
		af.mu.Lock()
		err := af.f.Close()
		af.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tracesink: close: %w", err)
		}
	}
	return firstErr
}
