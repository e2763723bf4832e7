//go:build !pcap
// +build !pcap

package probe

import (
	"strings"
	"testing"
)

// TestOpenPcap_Stub tests that the stub build reports how to enable
// capture replay.
func TestOpenPcap_Stub(t *testing.T) {
	_, err := OpenPcap("run.pcap", 5599)
	if err == nil {
		t.Fatal("Expected error from stub implementation")
	}
	if !strings.Contains(err.Error(), "-tags=pcap") {
		t.Errorf("Expected error to mention the pcap build tag, got %v", err)
	}
}
