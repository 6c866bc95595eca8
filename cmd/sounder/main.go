// Command sounder records a massive-MIMO channel sounding run: it
// composes the transmit waveforms, boots the receive and record
// pipelines, and appends captured IQ to a columnar trace until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/cwsl/sounder/internal/config"
	"github.com/cwsl/sounder/internal/lifecycle"
	"github.com/cwsl/sounder/internal/metrics"
	"github.com/cwsl/sounder/internal/tracesink"
	"github.com/cwsl/sounder/internal/transceiver"
	"github.com/cwsl/sounder/internal/waveform"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	debugMode := *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		debugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if debugMode {
		log.Println("Debug mode enabled")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	rt, err := cfg.Build()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	beacon, err := waveform.ComposeBeacon(rt.Phy.PrefixPad, rt.Phy.SubframeSize, rt.Phy.PostfixPad)
	if err != nil {
		log.Fatalf("Composing beacon: %v", err)
	}
	pilotSeq := waveform.PilotSequence(rt.Phy.FFTSize, cfg.SubcarrierNum, 1)
	pilot, err := waveform.ComposePilot(pilotSeq, rt.Phy.CPSize, rt.Phy.SymbolsPerSubframe, rt.Phy.PrefixPad, rt.Phy.PostfixPad)
	if err != nil {
		log.Fatalf("Composing pilot: %v", err)
	}
	if debugMode {
		log.Printf("Composed beacon (%d samples) and %s pilot (%d cf32 samples)",
			len(beacon.CI16), waveform.PilotSequenceID(rt.Phy.FFTSize), len(pilot.CF32))
	}

	if rt.Schedule.HasUplink() {
		if err := loadUplinkData(cfg, rt); err != nil {
			log.Fatalf("Loading uplink data: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if cfg.Prometheus != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Prometheus, mux); err != nil {
				log.Printf("Prometheus listener stopped: %v", err)
			}
		}()
	}

	trx, err := transceiver.NewUDPTransceiver(cfg.Radio.DataGroup, cfg.Radio.Port, cfg.Radio.Interface)
	if err != nil {
		log.Fatalf("Opening transceiver: %v", err)
	}
	defer trx.Close()

	runID := uuid.New().String()[:8]
	traceRoot := tracesink.Path(cfg.TraceFile, tracesink.ModeTag(cfg.ModeTag()),
		fmt.Sprintf("%s-%s", time.Now().Format("2006-01-02T15-04-05"), runID))
	log.Printf("Recording to %s", traceRoot)
	if err := writeRunMetadata(traceRoot, cfg, rt); err != nil {
		log.Fatalf("Writing run metadata: %v", err)
	}

	ctrl, err := lifecycle.New(lifecycle.Options{
		Phy:         rt.Phy,
		Topology:    rt.Topology,
		Schedule:    rt.Schedule,
		Transceiver: trx,
		Reader:      trx,
		SinkFor: func(worker int) (tracesink.Sink, error) {
			return tracesink.NewColumnarSink(traceRoot)
		},
		Metrics:     met,
		TaskThreads: cfg.TaskThread,
	})
	if err != nil {
		log.Fatalf("Building lifecycle controller: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %v, draining...", sig)
		ctrl.Shutdown()
	}()

	if err := ctrl.Run(context.Background()); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	log.Println("Clean shutdown complete")
}

// writeRunMetadata records the PHY geometry and hardware-framer timing
// knobs alongside the trace, so downstream consumers can interpret the
// recorded IQ without the original config file.
func writeRunMetadata(root string, cfg *config.Config, rt *config.Runtime) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	meta := map[string]any{
		"frequency":        cfg.Frequency,
		"rate":             cfg.Rate,
		"nco":              cfg.NCOOffset,
		"fft_size":         rt.Phy.FFTSize,
		"cp_size":          rt.Phy.CPSize,
		"samps_per_symbol": rt.Phy.SampsPerSymbol,
		"cells":            len(rt.Topology.Cells),
		"antennas":         rt.Topology.TotalAntennas(),
		"hw_framer":        cfg.HWFramer,
		"frame_mode":       cfg.FrameMode,
		"tx_advance":       cfg.TxAdvance,
		"agc_en":           cfg.AGCEnabled,
		"agc_gain_init":    cfg.AGCGainInit,
	}
	if rt.Topology.Clients != nil {
		meta["client_antennas"] = rt.Topology.Clients.Antennas()
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "metadata.yaml"), data, 0o644)
}

// loadUplinkData reads the per-client-SDR uplink sample files named by
// the deterministic filename scheme. A missing file is fatal; short
// reads were already logged as warnings by the loader.
func loadUplinkData(cfg *config.Config, rt *config.Runtime) error {
	if rt.Topology.Clients == nil {
		return fmt.Errorf("uplink slots scheduled but no clients configured")
	}

	var ulSlots []int
	for slot := 0; slot < rt.Schedule.Len(); slot++ {
		if rt.Schedule.IsData(0, 0, slot) {
			ulSlots = append(ulSlots, slot)
		}
	}

	clChannels := rt.Topology.Clients.ChannelMask.Width()
	for i := range rt.Topology.Clients.SDRIDs {
		_, err := waveform.LoadULData(waveform.ULDataParams{
			Directory:          cfg.ULDataDirectory,
			Modulation:         cfg.Modulation,
			SubcarrierNum:      cfg.SubcarrierNum,
			FFTSize:            rt.Phy.FFTSize,
			SymbolsPerSubframe: rt.Phy.SymbolsPerSubframe,
			ULSlots:            ulSlots,
			ULDataFrameNum:     cfg.ULDataFrameNum,
			Channel:            string(rt.Topology.Clients.ChannelMask),
			SDRIndex:           i,
		}, clChannels, rt.Phy.SampsPerSymbol)
		if err != nil {
			return err
		}
	}
	return nil
}
