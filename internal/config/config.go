// Package config loads and validates the sounder's YAML configuration
// and turns it into the typed runtime objects the core consumes: PHY
// parameters, topology, and slot schedule.
package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/sounder/internal/phy"
	"github.com/cwsl/sounder/internal/schedule"
	"github.com/cwsl/sounder/internal/topology"
)

// CellConfig describes one base-station cell: its SDRs, channel mask,
// per-frame schedule strings, and TX gains.
type CellConfig struct {
	// SDRIDFile points at a file of SDR serials, one per line. SDRIDs
	// is the inline alternative; exactly one of the two must be set.
	SDRIDFile string   `yaml:"sdr_id"`
	SDRIDs    []string `yaml:"sdr_ids"`

	Channel       string   `yaml:"channel"`
	FrameSchedule []string `yaml:"frame_schedule"`

	TxGainA float64 `yaml:"tx_gain_a"`
	TxGainB float64 `yaml:"tx_gain_b"`
	RxGainA float64 `yaml:"rx_gain_a"`
	RxGainB float64 `yaml:"rx_gain_b"`
}

// ClientConfig describes the optional independent client population.
type ClientConfig struct {
	SDRIDFile string   `yaml:"sdr_id"`
	SDRIDs    []string `yaml:"sdr_ids"`

	Channel       string   `yaml:"channel"`
	FrameSchedule []string `yaml:"frame_schedule"`

	TxGainA   float64 `yaml:"tx_gain_a"`
	TxGainB   float64 `yaml:"tx_gain_b"`
	MaxTxGain float64 `yaml:"max_tx_gain"`
}

// RadioConfig names the multicast group the captured-IQ stream arrives
// on.
type RadioConfig struct {
	DataGroup string `yaml:"data_group"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
}

// Config is the on-disk configuration document.
type Config struct {
	Frequency float64 `yaml:"frequency"`
	Rate      float64 `yaml:"rate"`
	NCOOffset float64 `yaml:"nco"`

	FFTSize            int `yaml:"fft_size"`
	CPSize             int `yaml:"cp_size"`
	SymbolsPerSubframe int `yaml:"ofdm_symbols_per_subframe"`
	Prefix             int `yaml:"prefix"`
	Postfix            int `yaml:"postfix"`

	BeaconSeq     string `yaml:"beacon_seq"`
	SubcarrierNum int    `yaml:"subcarrier_num"`
	Modulation    string `yaml:"modulation"`

	Cells   []CellConfig  `yaml:"cells"`
	Clients *ClientConfig `yaml:"clients"`

	ReciprocalCalibration bool `yaml:"reciprocal_calibration"`
	RefSDRIndex           int  `yaml:"ref_sdr_index"`

	TraceFile  string `yaml:"trace_file"`
	TaskThread int    `yaml:"task_thread"`

	HWFramer    bool   `yaml:"hw_framer"`
	FrameMode   string `yaml:"frame_mode"`
	TxAdvance   int    `yaml:"tx_advance"`
	AGCEnabled  bool   `yaml:"agc_en"`
	AGCGainInit int    `yaml:"agc_gain_init"`

	ULDataFrameNum  int    `yaml:"ul_data_frame_num"`
	ULDataDirectory string `yaml:"ul_data_directory"`

	Radio      RadioConfig `yaml:"radio"`
	Prometheus string      `yaml:"prometheus_listen"`
}

// Load reads and unmarshals path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.BeaconSeq == "" {
		c.BeaconSeq = "gold_ifft"
	}
	if c.TaskThread <= 0 {
		c.TaskThread = 4
	}
	if c.Radio.Port == 0 {
		c.Radio.Port = 5004
	}
	if c.TraceFile == "" {
		c.TraceFile = "traces"
	}
}

// readSDRIDFile reads one SDR serial per line, skipping blanks and
// '#'-comments.
func readSDRIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening sdr_id file %s: %w", path, err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: reading sdr_id file %s: %w", path, err)
	}
	return ids, nil
}

func resolveSDRIDs(file string, inline []string, what string) ([]string, error) {
	switch {
	case file != "" && len(inline) > 0:
		return nil, fmt.Errorf("config: %s sets both sdr_id and sdr_ids", what)
	case file != "":
		return readSDRIDFile(file)
	case len(inline) > 0:
		return inline, nil
	default:
		return nil, fmt.Errorf("config: %s has no SDRs", what)
	}
}

// Runtime is the fully-validated, typed view of a configuration: what
// the core actually consumes.
type Runtime struct {
	Phy      phy.Params
	Topology *topology.Topology
	Schedule *schedule.Schedule
	Gains    []phy.RadioGain
	GainCaps []phy.GainCap
}

// Build validates c and derives the runtime objects. FFT/CP clamping is
// logged as a warning, never an error; the samps_per_symbol invariant
// and gain caps are fatal.
func (c *Config) Build() (*Runtime, error) {
	params, clamped, err := phy.Derive(phy.Params{
		CenterFreq:         c.Frequency,
		SampleRate:         c.Rate,
		NCOOffset:          c.NCOOffset,
		FFTSize:            c.FFTSize,
		CPSize:             c.CPSize,
		SymbolsPerSubframe: c.SymbolsPerSubframe,
		PrefixPad:          c.Prefix,
		PostfixPad:         c.Postfix,
	})
	if clamped {
		log.Printf("config: fft_size/cp_size clamped to %d/%d", params.FFTSize, params.CPSize)
	}
	if err != nil {
		return nil, err
	}

	if len(c.Cells) == 0 {
		return nil, fmt.Errorf("config: at least one cell is required")
	}

	topo := topology.Topology{ReciprocalCalibration: c.ReciprocalCalibration}
	var gains []phy.RadioGain
	for i, cell := range c.Cells {
		ids, err := resolveSDRIDs(cell.SDRIDFile, cell.SDRIDs, fmt.Sprintf("cell %d", i))
		if err != nil {
			return nil, err
		}
		topo.Cells = append(topo.Cells, topology.Cell{
			SDRIDs:      ids,
			ChannelMask: topology.ChannelMask(cell.Channel),
		})
		gains = append(gains,
			phy.RadioGain{Channel: fmt.Sprintf("cell%d/A", i), Role: "bs", Value: cell.TxGainA},
			phy.RadioGain{Channel: fmt.Sprintf("cell%d/B", i), Role: "bs", Value: cell.TxGainB},
		)
	}

	ueCap := 0.0
	if c.Clients != nil {
		ids, err := resolveSDRIDs(c.Clients.SDRIDFile, c.Clients.SDRIDs, "clients")
		if err != nil {
			return nil, err
		}
		topo.Clients = &topology.Clients{
			SDRIDs:      ids,
			ChannelMask: topology.ChannelMask(c.Clients.Channel),
		}
		ueCap = c.Clients.MaxTxGain
		gains = append(gains,
			phy.RadioGain{Channel: "clients/A", Role: "ue", Value: c.Clients.TxGainA},
			phy.RadioGain{Channel: "clients/B", Role: "ue", Value: c.Clients.TxGainB},
		)
	}

	builtTopo, err := topology.Build(topo)
	if err != nil {
		return nil, err
	}

	caps := phy.DefaultGainCaps(ueCap)
	if err := phy.ValidateGains(gains, caps); err != nil {
		return nil, err
	}

	sched, err := c.buildSchedule(builtTopo)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Phy:      params,
		Topology: builtTopo,
		Schedule: sched,
		Gains:    gains,
		GainCaps: caps,
	}, nil
}

func (c *Config) buildSchedule(topo *topology.Topology) (*schedule.Schedule, error) {
	if c.ReciprocalCalibration {
		cell := topo.Cells[0]
		frames, err := schedule.GenerateReciprocal(len(cell.SDRIDs), c.RefSDRIndex, cell.ChannelMask.Width())
		if err != nil {
			return nil, err
		}
		return schedule.Build(schedule.Schedule{
			Frames:                [][]string{frames},
			ReciprocalCalibration: true,
		})
	}

	frames := make([][]string, len(c.Cells))
	for i, cell := range c.Cells {
		if len(cell.FrameSchedule) == 0 {
			return nil, fmt.Errorf("config: cell %d has no frame_schedule", i)
		}
		frames[i] = cell.FrameSchedule
	}
	return schedule.Build(schedule.Schedule{Frames: frames})
}

// ModeTag derives the trace-directory prefix for this configuration.
func (c *Config) ModeTag() string {
	switch {
	case c.ReciprocalCalibration:
		return "reciprocal-calib-"
	case c.hasUplinkSlot():
		return "uplink-"
	default:
		return ""
	}
}

func (c *Config) hasUplinkSlot() bool {
	for _, cell := range c.Cells {
		for _, f := range cell.FrameSchedule {
			if strings.ContainsRune(f, 'U') {
				return true
			}
		}
	}
	return false
}
