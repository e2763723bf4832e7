//go:build pcap
// +build pcap

package probe

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// pcapReader reads probe datagrams from a capture file via libpcap.
type pcapReader struct {
	handle *pcap.Handle
	source *gopacket.PacketSource
}

// OpenPcap opens a capture file and filters it to UDP traffic on the
// given port. Requires building with -tags=pcap (links against libpcap).
func OpenPcap(path string, udpPort int) (DatagramReader, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	if udpPort > 0 {
		filter := fmt.Sprintf("udp port %d", udpPort)
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
		}
	}
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	return &pcapReader{handle: handle, source: source}, nil
}

// Next returns the next UDP payload in the capture. Non-UDP packets
// that survive the filter are skipped.
func (r *pcapReader) Next() ([]byte, time.Time, error) {
	for {
		packet, err := r.source.NextPacket()
		if err != nil {
			return nil, time.Time{}, err
		}
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		return udp.Payload, packet.Metadata().Timestamp, nil
	}
}

// Close releases the pcap handle.
func (r *pcapReader) Close() error {
	r.handle.Close()
	return nil
}
