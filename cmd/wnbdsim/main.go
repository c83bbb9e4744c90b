// Command wnbdsim exercises the adapter end-to-end without a real
// miniport: it creates a disk backed by membackend and services it from
// a user-space fetch_request/send_response loop, the way a real backend
// process would talk to the driver through the WNBD ioctl surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/wnbd-io/go-wnbd"
	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/logging"
	"github.com/wnbd-io/go-wnbd/internal/membackend"
	"github.com/wnbd-io/go-wnbd/internal/uapi"
)

func main() {
	var (
		sizeStr = flag.String("size", "64M", "Size of the memory disk (e.g. 64M, 1G)")
		verbose = flag.Bool("v", false, "Verbose output")
		name    = flag.String("name", "wnbdsim0", "Instance name for the simulated disk")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logrus.DebugLevel
	}
	logger := logging.New(logConfig)

	backend := membackend.New(size)
	defer backend.Close()

	hostPort := &printingHostPort{logger: logger}
	adapter := wnbd.NewAdapter(hostPort, logger)

	props := uapi.WNBDProperties{
		InstanceName: *name,
		SerialNumber: "wnbdsim-" + *name,
		BlockCount:   uint64(size) / 512,
		BlockSize:    512,
		PID:          uint32(os.Getpid()),
	}

	info, err := adapter.CreateDisk(props)
	if err != nil {
		logger.Errorf("failed to create disk: %v", err)
		os.Exit(1)
	}
	logger.Infof("disk created: name=%s bus=%d target=%d lun=%d connection=%d size=%s",
		*name, info.BusNumber, info.TargetID, info.LunID, info.ConnectionID, formatSize(size))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serveBackend(ctx, adapter, backend, info.ConnectionID, props.PID, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("received shutdown signal, removing disk")
	cancel()
	if err := adapter.RemoveDisk(*name, true); err != nil {
		logger.Errorf("error removing disk: %v", err)
	}
}

// serveBackend runs the fetch_request/send_response loop a real user-space
// backend process would run against the driver's control surface, except
// it talks directly to the in-process adapter and satisfies every request
// from membackend instead of a device file (spec §4.5).
func serveBackend(ctx context.Context, a *wnbd.Adapter, backend *membackend.Memory, connectionID uint64, pid uint32, logger *logging.Logger) {
	payloadBuf := make([]byte, 4*1024*1024)
	for {
		desc, payload, err := a.FetchRequest(ctx, connectionID, pid, payloadBuf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("fetch_request: %v", err)
			return
		}
		if desc.Type == uapi.WnbdReqTypeDisconnect {
			return
		}

		resp := &uapi.ResponseDescriptor{ConnectionID: connectionID, Tag: desc.Tag}
		var out []byte

		switch desc.Type {
		case uapi.WnbdReqTypeRead:
			out = make([]byte, desc.BlockCount)
			if _, err := backend.ReadAt(out, int64(desc.BlockAddress)); err != nil {
				resp.Status.ScsiStatus = 1
			}
		case uapi.WnbdReqTypeWrite:
			if _, err := backend.WriteAt(payload, int64(desc.BlockAddress)); err != nil {
				resp.Status.ScsiStatus = 1
			}
		case uapi.WnbdReqTypeFlush:
			if err := backend.Flush(); err != nil {
				resp.Status.ScsiStatus = 1
			}
		case uapi.WnbdReqTypeUnmap:
			if err := backend.Discard(int64(desc.BlockAddress), int64(desc.BlockCount)); err != nil {
				resp.Status.ScsiStatus = 1
			}
		default:
			resp.Status.ScsiStatus = 1
		}

		if err := a.SendResponse(connectionID, pid, resp, out); err != nil {
			logger.Warnf("send_response: %v", err)
		}
	}
}

// printingHostPort is the demo's stand-in for the real miniport's storage
// port callbacks: it just logs what would otherwise complete a pending IRP.
type printingHostPort struct {
	logger *logging.Logger
}

func (p *printingHostPort) CompleteSRB(tag uint64, status interfaces.SRBStatus, dataLength uint32) {
	p.logger.Debugf("complete tag=%d status=%v bytes=%d", tag, status, dataLength)
}

func (p *printingHostPort) CompleteAllSRBs(status interfaces.SRBStatus) {
	p.logger.Infof("bulk complete status=%v", status)
}

func (p *printingHostPort) NotifyBusChange() {
	p.logger.Debugf("bus change notified")
}

var _ interfaces.HostPort = (*printingHostPort)(nil)

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)
	multiplier := int64(1)
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
