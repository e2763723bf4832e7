// Command session-info prints the attributes and block inventory of a
// sealed session container.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

func main() {
	asJSON := flag.Bool("json", false, "print the attribute block as JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Usage: session-info [-json] container.ssc")
	}
	path := flag.Arg(0)

	r, err := sealstore.Open(path)
	if err != nil {
		log.Fatalf("Failed to open container: %v", err)
	}
	defer r.Close()

	attrs := r.Attributes()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(attrs); err != nil {
			log.Fatalf("Failed to encode attributes: %v", err)
		}
		return
	}

	fmt.Printf("Container:     %s\n", path)
	fmt.Printf("Session:       %s\n", attrs.SessionID)
	fmt.Printf("Created:       %s\n", time.Unix(0, attrs.CreatedNs).UTC().Format(time.RFC3339))
	fmt.Printf("App version:   %s (format %d)\n", attrs.AppVersion, attrs.FormatVersion)
	fmt.Printf("Sample rate:   %g Hz, %d channels\n", attrs.SampleRate, attrs.ChannelCount)
	if len(attrs.Probes) > 0 {
		fmt.Printf("Probes:        %d positions, water depth %g m\n", len(attrs.Probes), attrs.WaterDepthM)
	}
	if attrs.Notes != "" {
		fmt.Printf("Notes:         %s\n", attrs.Notes)
	}

	frames := 0
	counts := map[sealstore.BlockType]int{}
	var stats *wavedir.WaveStatistics
	for {
		blockType, payload, err := r.NextBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read block: %v", err)
		}
		counts[blockType]++
		switch blockType {
		case sealstore.BlockRawSamples:
			decoded, err := sealstore.DecodeFrames(payload)
			if err != nil {
				log.Fatalf("Failed to decode raw samples block: %v", err)
			}
			frames += len(decoded)
		case sealstore.BlockStatistics:
			stats = new(wavedir.WaveStatistics)
			if err := json.Unmarshal(payload, stats); err != nil {
				log.Printf("failed to decode statistics block: %v", err)
				stats = nil
			}
		}
	}

	fmt.Printf("Blocks:        %d raw (%d frames), %d analysis, %d statistics\n",
		counts[sealstore.BlockRawSamples], frames,
		counts[sealstore.BlockAnalysis], counts[sealstore.BlockStatistics])
	if stats != nil {
		fmt.Printf("Sea state:     Hm0 %.3f m, Hs %.3f m, Tp %.2f s, %d waves\n",
			stats.Hm0, stats.SignificantHeight, stats.PeakPeriod, stats.WaveCount)
	}

	if seal, ok := r.Seal(); ok {
		fmt.Printf("Seal:          %s\n", hex.EncodeToString(seal[:]))
		if err := r.Verify(); err != nil {
			fmt.Printf("Verification:  FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Verification:  ok\n")
	} else {
		fmt.Printf("Seal:          none (integrity unknown)\n")
	}
}
