// Package schedule parses per-cell frame strings into a slot-role table
// and answers role queries in constant time. It also generates the
// synthetic per-SDR frame strings used by reciprocal calibration mode.
package schedule

import "fmt"

// Role is one symbol-slot role from the frame-string alphabet.
type Role byte

const (
	RoleBeacon         Role = 'B'
	RolePilot          Role = 'P'
	RoleUplink         Role = 'U'
	RoleDownlink       Role = 'D'
	RoleNoise          Role = 'N'
	RoleGuard          Role = 'G'
	RoleRefRecv        Role = 'R'
	RoleRefXmit        Role = 'C'
)

func validRole(b byte) bool {
	switch Role(b) {
	case RoleBeacon, RolePilot, RoleUplink, RoleDownlink, RoleNoise, RoleGuard, RoleRefRecv, RoleRefXmit:
		return true
	default:
		return false
	}
}

// Schedule holds, per cell, the ordered list of frame strings, indexed
// circularly by frame id (in reciprocal calibration mode, cell 0 holds
// one generated frame string per SDR). All frame strings across all
// cells must share the same length S.
type Schedule struct {
	// Frames[cell][frameID] is a frame string over the role alphabet.
	Frames [][]string

	// ReciprocalCalibration indicates ClientID should bypass its
	// ordinal lookup and return the slot id unchanged.
	ReciprocalCalibration bool

	length int
}

// Build validates every frame string (shared length, valid alphabet) and
// returns a ready-to-query Schedule.
func Build(s Schedule) (*Schedule, error) {
	length := -1
	for cell, frames := range s.Frames {
		for fid, f := range frames {
			if length == -1 {
				length = len(f)
			}
			if len(f) != length {
				return nil, fmt.Errorf("schedule: cell %d frame %d has length %d, want %d (all cells must share S)", cell, fid, len(f), length)
			}
			for i := 0; i < len(f); i++ {
				if !validRole(f[i]) {
					return nil, fmt.Errorf("schedule: cell %d frame %d slot %d has invalid role %q", cell, fid, i, f[i])
				}
			}
		}
	}
	if length == -1 {
		length = 0
	}
	s.length = length
	return &s, nil
}

// Len returns the shared frame length S.
func (s *Schedule) Len() int { return s.length }

func (s *Schedule) frameAt(cell, frameID int) (string, bool) {
	if cell < 0 || cell >= len(s.Frames) {
		return "", false
	}
	frames := s.Frames[cell]
	if len(frames) == 0 {
		return "", false
	}
	fid := frameID % len(frames)
	if fid < 0 {
		fid += len(frames)
	}
	return frames[fid], true
}

// RoleAt returns the role at (cell, frame_id, slot_id). Frame indexing is
// circular (frame_id mod number of frames for that cell). Out-of-range
// cell or slot indices return ok=false rather than panicking.
func (s *Schedule) RoleAt(cell, frameID, slotID int) (role Role, ok bool) {
	f, ok := s.frameAt(cell, frameID)
	if !ok || slotID < 0 || slotID >= len(f) {
		return 0, false
	}
	return Role(f[slotID]), true
}

// IndexOf returns the zero-based ordinal of slotID among the slots of the
// given role within (cell, frame_id), in first-occurrence order, or -1 if
// slotID does not carry that role (or any index is out of range).
func (s *Schedule) IndexOf(cell, frameID int, role Role, slotID int) int {
	f, ok := s.frameAt(cell, frameID)
	if !ok || slotID < 0 || slotID >= len(f) {
		return -1
	}
	if Role(f[slotID]) != role {
		return -1
	}
	ordinal := 0
	for i := 0; i < slotID; i++ {
		if Role(f[i]) == role {
			ordinal++
		}
	}
	return ordinal
}

// Count returns the number of slots carrying the given role within
// (cell, frame_id).
func (s *Schedule) Count(cell, frameID int, role Role) int {
	f, ok := s.frameAt(cell, frameID)
	if !ok {
		return 0
	}
	n := 0
	for i := 0; i < len(f); i++ {
		if Role(f[i]) == role {
			n++
		}
	}
	return n
}

// ClientID returns the client ordinal owning (frame_id, slot_id): the
// ordinal of slot_id among slots sharing its own role. In reciprocal
// calibration mode it instead returns slot_id unchanged.
func (s *Schedule) ClientID(cell, frameID, slotID int) int {
	if s.ReciprocalCalibration {
		return slotID
	}
	role, ok := s.RoleAt(cell, frameID, slotID)
	if !ok {
		return -1
	}
	return s.IndexOf(cell, frameID, role, slotID)
}

// IsPilot reports whether (cell, frame_id, slot_id) carries the pilot role.
func (s *Schedule) IsPilot(cell, frameID, slotID int) bool {
	role, ok := s.RoleAt(cell, frameID, slotID)
	return ok && role == RolePilot
}

// IsData reports whether (cell, frame_id, slot_id) carries the uplink
// role. Per the ingest core's documented behavior, 'N' (noise) slots are
// never treated as data-bearing.
func (s *Schedule) IsData(cell, frameID, slotID int) bool {
	role, ok := s.RoleAt(cell, frameID, slotID)
	return ok && role == RoleUplink
}

// HasUplink reports whether any frame in any cell contains a 'U' slot,
// the signal the waveform composer uses to decide whether UL data must
// be loaded.
func (s *Schedule) HasUplink() bool {
	for _, frames := range s.Frames {
		for _, f := range frames {
			for i := 0; i < len(f); i++ {
				if Role(f[i]) == RoleUplink {
					return true
				}
			}
		}
	}
	return false
}

// HasPilot reports whether any frame in any cell contains a 'P' slot.
// Together with HasUplink it decides whether the receive pipeline is
// needed at all, or the transmit-only beam-sweep path runs instead.
func (s *Schedule) HasPilot() bool {
	for _, frames := range s.Frames {
		for _, f := range frames {
			for i := 0; i < len(f); i++ {
				if Role(f[i]) == RolePilot {
					return true
				}
			}
		}
	}
	return false
}

// GenerateReciprocal builds the N synthetic per-SDR frame strings used by
// reciprocal calibration mode. Given n SDRs, a reference
// index ref, and c channels per SDR, every frame has length c*n-(c-1).
// SDR ref's frame carries a single 'P' at c*ref and one 'R' marking each
// other SDR's block start; every other SDR i carries 'P' across its own
// block [c*i, c*i+c) (clipped to the frame length for the trailing SDR)
// and a single 'R' at c*ref. All remaining slots are 'G'.
func GenerateReciprocal(n, ref, c int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("schedule: GenerateReciprocal requires n>0, got %d", n)
	}
	if c <= 0 {
		return nil, fmt.Errorf("schedule: GenerateReciprocal requires c>0, got %d", c)
	}
	if ref < 0 || ref >= n {
		return nil, fmt.Errorf("schedule: ref index %d out of range [0,%d)", ref, n)
	}

	length := c*n - (c - 1)
	frames := make([]string, n)

	for sdr := 0; sdr < n; sdr++ {
		buf := make([]byte, length)
		for i := range buf {
			buf[i] = byte(RoleGuard)
		}

		if sdr == ref {
			buf[c*ref] = byte(RolePilot)
			for other := 0; other < n; other++ {
				if other == ref {
					continue
				}
				pos := c * other
				if pos >= length {
					pos = length - 1
				}
				buf[pos] = byte(RoleRefRecv)
			}
		} else {
			start := c * sdr
			width := c
			if start+width > length {
				width = length - start
			}
			for k := 0; k < width; k++ {
				buf[start+k] = byte(RolePilot)
			}
			buf[c*ref] = byte(RoleRefRecv)
		}

		frames[sdr] = string(buf)
	}

	return frames, nil
}
