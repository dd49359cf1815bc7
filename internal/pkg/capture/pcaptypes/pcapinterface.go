package pcaptypes

import (
	"os"

	"github.com/google/gopacket/pcap"
)

type PcapInterface interface {
	SetHandle() error
	Handle() (*pcap.Handle, error)
	Name() string
}

func CreateLiveInterface(device string) PcapInterface {
	var result PcapInterface
	iface := liveInterface{device, nil}
	result = PcapInterface(&iface)
	return result
}

// CreateOfflineInterface wraps an already-open pcap file for replay.
func CreateOfflineInterface(file *os.File) PcapInterface {
	return &offlineInterface{file: file}
}
