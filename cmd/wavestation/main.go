// Command wavestation runs a wave measurement station daemon: it
// acquires from the configured probe source, analyzes continuously,
// seals every session container, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hydrolab-data/seastate"
	"github.com/hydrolab-data/seastate/internal/api"
	"github.com/hydrolab-data/seastate/internal/config"
	"github.com/hydrolab-data/seastate/internal/monitoring"
	"github.com/hydrolab-data/seastate/internal/probe"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/units"
	"github.com/hydrolab-data/seastate/internal/wave"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	sourceKind  = flag.String("source", "simulated", "Probe source: simulated, serial, udp, or replay")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Serial device for -source=serial")
	udpListen   = flag.String("udp-listen", ":5599", "UDP listen address for -source=udp")
	pcapFile    = flag.String("pcap", "", "Capture file for -source=replay")
	dbFile      = flag.String("db", "wavestation.db", "Session catalog database, empty to disable")
	configFile  = flag.String("config", "", "Station tuning overlay (JSON)")
	heightUnits = flag.String("units", units.Metres, "Height units for API responses: m or ft")
	devMode     = flag.Bool("dev", false, "Run in dev mode: simulated source, debug logging")
)

func buildSource(st *config.StationConfig, geometry *wave.ProbeGeometry) (probe.Source, error) {
	switch *sourceKind {
	case "simulated":
		cfg := probe.DefaultSimulatedConfig()
		cfg.SampleRate = st.GetSampleRate()
		cfg.WaterDepth = st.GetWaterDepth()
		cfg.Labels = st.GetChannelLabels()
		return probe.NewSimulated(cfg, geometry)
	case "serial":
		return probe.NewSerial(probe.SerialConfig{
			Path:         *serialPort,
			ChannelCount: st.GetChannelCount(),
			SampleRate:   st.GetSampleRate(),
			Labels:       st.GetChannelLabels(),
		})
	case "udp":
		return probe.NewUDP(probe.UDPConfig{
			ListenAddr:   *udpListen,
			ChannelCount: st.GetChannelCount(),
			SampleRate:   st.GetSampleRate(),
			Labels:       st.GetChannelLabels(),
		})
	case "replay":
		return probe.NewReplay(probe.ReplayConfig{
			Path:         *pcapFile,
			ChannelCount: st.GetChannelCount(),
			SampleRate:   st.GetSampleRate(),
			Labels:       st.GetChannelLabels(),
		})
	default:
		return nil, errors.New("unknown source kind: " + *sourceKind)
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValidHeightUnit(*heightUnits) {
		log.Fatalf("Invalid units %q, valid units are: %s", *heightUnits, units.ValidHeightUnitsString())
	}
	if *devMode {
		*sourceKind = "simulated"
		monitoring.SetDebug(true)
	}

	st := config.EmptyStationConfig()
	if *configFile != "" {
		var err error
		st, err = config.LoadStationConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load station config: %v", err)
		}
	}

	geometry, err := wave.NewProbeGeometry(st.GetProbes())
	if err != nil {
		log.Fatalf("Invalid probe geometry: %v", err)
	}
	source, err := buildSource(st, geometry)
	if err != nil {
		log.Fatalf("Failed to create %s source: %v", *sourceKind, err)
	}

	var catalog *session.Catalog
	if *dbFile != "" {
		catalog, err = session.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open session catalog: %v", err)
		}
		defer catalog.Close()
		if err := catalog.MigrateUp(); err != nil {
			log.Fatalf("Failed to migrate session catalog: %v", err)
		}
	}

	cfg, err := seastate.ConfigFromStation(st, source, catalog)
	if err != nil {
		log.Fatalf("Failed to assemble station config: %v", err)
	}
	station, err := seastate.NewStation(cfg)
	if err != nil {
		log.Fatalf("Failed to create station: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := station.StartAcquisition(ctx); err != nil {
		log.Fatalf("Failed to start acquisition: %v", err)
	}
	log.Printf("acquisition started: session %s from %s source", station.SessionID(), *sourceKind)

	// stop the session on shutdown so the container always gets sealed
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		log.Print("stopping acquisition...")
		if err := station.StopAcquisition(); err != nil && !errors.Is(err, seastate.ErrInvalidTransition) {
			log.Printf("failed to stop acquisition cleanly: %v", err)
		}
		stats := station.AcquisitionStats()
		log.Printf("session %s ended in state %s after %d frames", stats.SessionID, stats.State, stats.Buffer.TotalWritten)
		log.Print("acquisition routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(station, catalog, *heightUnits, cfg.SessionDir).ServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		if catalog != nil {
			if err := catalog.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP server listening on %s", *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
