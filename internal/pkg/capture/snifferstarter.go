package capture

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sentrywire/sentrywire/internal/pkg/capture/pcaptypes"
	"github.com/sentrywire/sentrywire/internal/pkg/logger"
)

// StartLiveSniffer opens one pcaptypes.PcapInterface per comma-separated
// device name and hands them to startSniffer, which is expected to build
// a Pipeline and drive Init with its Assembler.
func StartLiveSniffer(interfaces, filter string, startSniffer func(devices []pcaptypes.PcapInterface, filter string)) {
	var devices []pcaptypes.PcapInterface
	for _, device := range strings.Split(interfaces, ",") {
		iface := pcaptypes.CreateLiveInterface(device)
		devices = append(devices, iface)
	}
	startSniffer(devices, filter)
}

// StartOfflineSniffer replays a single pcap file through startSniffer,
// bounding the run so a malformed or truncated capture can't block
// forever.
func StartOfflineSniffer(readFile, filter string, startSniffer func(devices []pcaptypes.PcapInterface, filter string)) {
	file, err := os.Open(readFile)
	if err != nil {
		logger.Error("Could not read file",
			"file", readFile,
			"error", err)
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	iface := pcaptypes.CreateOfflineInterface(file)
	devices := []pcaptypes.PcapInterface{iface}

	done := make(chan struct{})
	go func() {
		defer close(done)
		startSniffer(devices, filter)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Error("Offline sniffer timed out, forcing cleanup",
			"file", readFile,
			"error", ctx.Err())
	}
}
