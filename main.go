// Program diagconsole is a diagnostic console for an embedded device: a
// telnet command surface over a parameter registry, a triggered capture
// engine (software oscilloscope), per-session live watch streaming, a
// capture archive and optional MQTT capture telemetry.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"diagconsole/commands"
	"diagconsole/config"
	"diagconsole/osci"
	"diagconsole/param"
	"diagconsole/recorder"
	"diagconsole/telemetry"
	"diagconsole/telnet"
)

// Version is the console software version reported in the startup banner.
const Version = "1.0.0"

const (
	defaultConfigPath = "config.yaml"
	envConfigPath     = "DIAG_CONFIG_PATH"
)

// Purpose: Resolve the config file path from env or default.
// Key aspects: Environment override wins; the default sits next to the binary.
// Upstream: main startup.
// Downstream: config.Load.
func configPath() string {
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		return path
	}
	return defaultConfigPath
}

// registryResolver adapts the parameter registry to the capture engine's
// channel resolver.
type registryResolver struct {
	reg *param.Registry
}

func (r registryResolver) Channel(id uint16) (osci.Channel, bool) {
	return r.reg.Resolve(id)
}

// Purpose: Drive the capture engine at the configured sampling period.
// Key aspects: Fixed-period ticker; the tick itself is allocation-free and
// bounded, so the goroutine never falls behind under command load.
// Upstream: main wiring.
// Downstream: osci.Engine.Tick.
func runSampling(ctx context.Context, engine *osci.Engine, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.Tick()
		}
	}
}

// Purpose: Archive and publish every finished capture.
// Key aspects: Runs in its own goroutine off the completion channel so the
// sampling tick never waits on SQLite or the MQTT broker; failures are
// logged and the capture stays readable over telnet regardless.
// Upstream: main wiring.
// Downstream: recorder.Store and telemetry.PublishCapture.
func runCompletionConsumer(ctx context.Context, engine *osci.Engine, archive *recorder.Recorder, publisher *telemetry.Publisher, device string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-engine.Completed():
		}

		taken := time.Now().UTC()
		rows, ids, err := engine.Window()
		if err != nil {
			// Stopped or re-armed between completion and read-out.
			log.Printf("Capture window read failed: %v", err)
			continue
		}
		info := engine.Info()
		meta := recorder.Meta{
			Channels:       ids,
			Depth:          len(rows),
			TriggerKind:    uint8(info.TriggerKind),
			TriggerChannel: info.TriggerChannel,
			Threshold:      info.Threshold,
			Pretrigger:     info.Pretrigger,
			Downsample:     info.Downsample,
		}
		log.Printf("Capture complete: %d channels x %d samples", len(ids), len(rows))

		if archive != nil {
			if id, err := archive.Store(taken, meta, rows); err != nil {
				log.Printf("Capture archive write failed: %v", err)
			} else {
				log.Printf("Capture archived as record %d", id)
			}
		}
		if publisher != nil {
			doc := telemetry.CaptureDocument{
				Device:  device,
				Taken:   taken,
				Meta:    meta,
				Rows:    rows,
				Elapsed: time.Since(taken).String(),
			}
			if err := publisher.PublishCapture(doc); err != nil {
				log.Printf("Capture publish failed: %v", err)
			}
		}
	}
}

func main() {
	// Load configuration
	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		log.Printf("Warning: file logging unavailable: %v", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("Diagnostic console v%s starting...", Version)
	log.Printf("Loaded configuration from %s", cfgPath)
	cfg.Print()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the device description and build the parameter registry.
	desc, err := param.LoadDescription(cfg.Params.DescriptionFile)
	if err != nil {
		log.Fatalf("Failed to load device description: %v", err)
	}
	defs, err := desc.Definitions()
	if err != nil {
		log.Fatalf("Invalid device description: %v", err)
	}
	registry, err := param.NewRegistry(defs)
	if err != nil {
		log.Fatalf("Failed to build parameter registry: %v", err)
	}
	device := desc.Device
	if name := strings.TrimSpace(cfg.Server.Name); name != "" {
		device = name
	}
	log.Printf("Device %s (%s): %d parameters registered", device, desc.Project, registry.Len())

	// Restore the saved parameter set; a missing or corrupt store keeps the
	// defaults the registry was built with.
	var nvm *param.NVM
	if path := strings.TrimSpace(cfg.Params.NVMPath); path != "" {
		nvm, err = param.OpenNVM(path)
		if err != nil {
			log.Fatalf("Failed to open parameter NVM: %v", err)
		}
		defer nvm.Close()
		switch applied, loadErr := nvm.Load(registry); {
		case loadErr == nil:
			log.Printf("Restored %d saved parameters from NVM", applied)
		case errors.Is(loadErr, param.ErrNVMEmpty):
			log.Printf("NVM holds no saved parameters; using defaults")
		case errors.Is(loadErr, param.ErrNVMCorrupt):
			log.Printf("Warning: NVM corrupt, using defaults: %v", loadErr)
		default:
			log.Printf("Warning: NVM load failed, using defaults: %v", loadErr)
		}
	}

	// Create the capture engine over its fixed sample buffer.
	engine, err := osci.New(registryResolver{registry}, cfg.Capture.BufferBytes, cfg.Capture.MaxChannels)
	if err != nil {
		log.Fatalf("Failed to create capture engine: %v", err)
	}
	log.Printf("Capture engine ready (%s buffer, %d channels max)",
		humanize.Bytes(uint64(cfg.Capture.BufferBytes)), cfg.Capture.MaxChannels)

	var archive *recorder.Recorder
	if cfg.Recorder.Enabled {
		archive, err = recorder.New(cfg.Recorder.Path, cfg.Recorder.Keep)
		if err != nil {
			log.Fatalf("Failed to open capture archive: %v", err)
		}
		defer archive.Close()
		log.Printf("Capture archive at %s (keep %d)", cfg.Recorder.Path, cfg.Recorder.Keep)
	}

	var publisher *telemetry.Publisher
	if cfg.Telemetry.Enabled {
		publisher = telemetry.NewPublisher(cfg.Telemetry.Broker, cfg.Telemetry.Port, cfg.Telemetry.Topic, device)
		if err := publisher.Connect(); err != nil {
			log.Printf("Warning: capture telemetry disabled: %v", err)
			publisher = nil
		} else {
			defer publisher.Disconnect()
		}
	}

	tickPeriod := time.Duration(cfg.Capture.TickPeriodMS) * time.Millisecond
	go runSampling(ctx, engine, tickPeriod)
	go runCompletionConsumer(ctx, engine, archive, publisher, device)

	// reset mirrors the firmware reboot: capture abandoned, parameters back
	// to defaults. Saved NVM values survive and reload on the next start.
	resetFn := func() {
		engine.Stop()
		registry.SetDefaultAll()
		log.Printf("Device reset: capture stopped, parameters restored to defaults")
	}

	identity := commands.DeviceIdentity{
		Device:    device,
		Project:   desc.Project,
		SWVersion: desc.SWVersion,
		HWVersion: desc.HWVersion,
	}
	processor := commands.NewProcessor(registry, engine, nvm, archive, identity, resetFn)

	server := telnet.NewServer(telnet.ServerOptions{
		Port:            cfg.Telnet.Port,
		MaxConnections:  cfg.Telnet.MaxConnections,
		WelcomeMessage:  cfg.Telnet.WelcomeMessage,
		WatchBasePeriod: tickPeriod,
	}, processor, registry)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start telnet console: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	server.Stop()
	cancel()
	engine.Stop()
	log.Printf("Console stopped")
}
