// Package topology models the cell and client population of a sounding
// run: ordered SDR lists, channel masks, and the prefix-sum mapping from a
// cell-local SDR index to a global SDR index.
package topology

import "fmt"

// ChannelMask is the set of RF channels active on an SDR.
type ChannelMask string

const (
	ChannelA  ChannelMask = "A"
	ChannelB  ChannelMask = "B"
	ChannelAB ChannelMask = "AB"
)

// Width returns the number of channels the mask selects.
func (m ChannelMask) Width() int {
	switch m {
	case ChannelA, ChannelB:
		return 1
	case ChannelAB:
		return 2
	default:
		return 0
	}
}

func (m ChannelMask) valid() bool {
	switch m {
	case ChannelA, ChannelB, ChannelAB:
		return true
	default:
		return false
	}
}

// Cell is an ordered list of SDRs sharing a channel mask.
type Cell struct {
	SDRIDs      []string
	ChannelMask ChannelMask
}

// Antennas returns |SDRs| * channel-mask width.
func (c Cell) Antennas() int {
	return len(c.SDRIDs) * c.ChannelMask.Width()
}

// Clients is the optional, independent client population.
type Clients struct {
	SDRIDs      []string
	ChannelMask ChannelMask
}

// Antennas returns |SDRs| * channel-mask width for the client population.
func (c Clients) Antennas() int {
	return len(c.SDRIDs) * c.ChannelMask.Width()
}

// Topology is the full set of cells, an optional client population, and
// the reciprocal-calibration flag that is mutually exclusive with it.
type Topology struct {
	Cells                 []Cell
	Clients               *Clients
	ReciprocalCalibration bool

	// cellSDROffset[i] is the prefix sum of SDR counts over cells[:i].
	cellSDROffset []int
}

// Build validates the topology and computes the prefix-sum offsets needed
// by GlobalSDRIndex. It must be called once after construction.
func Build(t Topology) (*Topology, error) {
	for i, c := range t.Cells {
		if !c.ChannelMask.valid() {
			return nil, fmt.Errorf("topology: cell %d has invalid channel mask %q", i, c.ChannelMask)
		}
		if len(c.SDRIDs) == 0 {
			return nil, fmt.Errorf("topology: cell %d has no SDRs", i)
		}
	}
	if t.ReciprocalCalibration && t.Clients != nil {
		return nil, fmt.Errorf("topology: reciprocal calibration mode and a Clients population are mutually exclusive")
	}
	if t.Clients != nil && !t.Clients.ChannelMask.valid() {
		return nil, fmt.Errorf("topology: client population has invalid channel mask %q", t.Clients.ChannelMask)
	}

	offsets := make([]int, len(t.Cells))
	sum := 0
	for i, c := range t.Cells {
		offsets[i] = sum
		sum += len(c.SDRIDs)
	}
	t.cellSDROffset = offsets
	return &t, nil
}

// GlobalSDRIndex maps a cell-local SDR index to a global SDR index across
// all cells, using the prefix-sum table computed by Build.
func (t *Topology) GlobalSDRIndex(cell, localSDRIdx int) (int, error) {
	if cell < 0 || cell >= len(t.Cells) {
		return -1, fmt.Errorf("topology: cell index %d out of range [0,%d)", cell, len(t.Cells))
	}
	if localSDRIdx < 0 || localSDRIdx >= len(t.Cells[cell].SDRIDs) {
		return -1, fmt.Errorf("topology: local SDR index %d out of range for cell %d", localSDRIdx, cell)
	}
	return t.cellSDROffset[cell] + localSDRIdx, nil
}

// TotalSDRs returns the sum of SDR counts across all cells.
func (t *Topology) TotalSDRs() int {
	total := 0
	for _, c := range t.Cells {
		total += len(c.SDRIDs)
	}
	return total
}

// CellOfAntenna maps a global antenna index to its owning cell and the
// antenna's cell-local index.
func (t *Topology) CellOfAntenna(antenna int) (cell, local int, err error) {
	if antenna < 0 {
		return -1, -1, fmt.Errorf("topology: antenna index %d out of range", antenna)
	}
	base := 0
	for i, c := range t.Cells {
		n := c.Antennas()
		if antenna < base+n {
			return i, antenna - base, nil
		}
		base += n
	}
	return -1, -1, fmt.Errorf("topology: antenna index %d out of range [0,%d)", antenna, base)
}

// TotalAntennas returns the sum of antenna counts across all cells.
func (t *Topology) TotalAntennas() int {
	total := 0
	for _, c := range t.Cells {
		total += c.Antennas()
	}
	return total
}
