//go:build !pcap
// +build !pcap

package probe

import "errors"

// OpenPcap is unavailable without libpcap. Rebuild with -tags=pcap to
// enable capture replay from real files; tests use MockDatagramReader.
func OpenPcap(path string, udpPort int) (DatagramReader, error) {
	return nil, errors.New("pcap support not built in, rebuild with -tags=pcap")
}
