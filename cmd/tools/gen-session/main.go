// Command gen-session synthesizes a sealed demo session container from
// the simulated wave field, for exercising replay, verification and the
// API without hardware.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"time"

	"github.com/hydrolab-data/seastate/internal/config"
	"github.com/hydrolab-data/seastate/internal/probe"
	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/security"
	"github.com/hydrolab-data/seastate/internal/wave"
)

func main() {
	name := flag.String("name", "demo", "session name, embedded in the container attributes")
	output := flag.String("o", "", "output path (default derived from -name)")
	seconds := flag.Float64("seconds", 60, "session length in simulated seconds")
	rate := flag.Float64("rate", 50, "sample rate in Hz")
	depth := flag.Float64("depth", 1.0, "water depth in metres")
	seed := flag.Int64("seed", 1, "noise seed")
	flag.Parse()

	path := *output
	if path == "" {
		path = security.SanitizeFilename(*name) + sealstore.FileExtension
	}

	geometry, err := wave.NewProbeGeometry(config.EmptyStationConfig().GetProbes())
	if err != nil {
		log.Fatalf("Invalid probe geometry: %v", err)
	}
	simCfg := probe.DefaultSimulatedConfig()
	simCfg.SampleRate = *rate
	simCfg.WaterDepth = *depth
	simCfg.Seed = *seed
	source, err := probe.NewSimulated(simCfg, geometry)
	if err != nil {
		log.Fatalf("Failed to create simulated source: %v", err)
	}
	ctx := context.Background()
	if err := source.Start(ctx); err != nil {
		log.Fatalf("Failed to start simulated source: %v", err)
	}
	defer source.Stop()

	info := source.Describe()
	w, err := sealstore.Create(path, sealstore.Attributes{
		SessionID:     *name,
		CreatedNs:     time.Now().UnixNano(),
		SampleRate:    info.SampleRate,
		ChannelCount:  info.ChannelCount,
		ChannelLabels: info.ChannelLabels,
		Probes:        geometry.Positions(),
		WaterDepthM:   *depth,
		Notes:         "synthetic demo session",
	})
	if err != nil {
		log.Fatalf("Failed to create container: %v", err)
	}

	total := int(*seconds * *rate)
	written := 0
	for written < total {
		batch := 256
		if remaining := total - written; remaining < batch {
			batch = remaining
		}
		frames, err := source.PullSamples(ctx, batch)
		if err != nil {
			log.Fatalf("Failed to pull samples: %v", err)
		}
		if err := w.WriteFrames(frames); err != nil {
			log.Fatalf("Failed to write frames: %v", err)
		}
		written += len(frames)
	}

	seal, err := w.Seal()
	if err != nil {
		log.Fatalf("Failed to seal container: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Fatalf("Failed to close container: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames, seal %s…)", path, written, hex.EncodeToString(seal[:8]))
}
