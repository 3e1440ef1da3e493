// Package hoststat reports the health of the machine homewatch itself runs
// on, so the dashboard can tell a sick monitor from a sick network.
package hoststat

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Snapshot is one reading of the local host.
type Snapshot struct {
	Hostname    string    `json:"hostname"`
	LocalIP     string    `json:"local_ip"`
	GatewayIP   string    `json:"gateway_ip"`
	OS          string    `json:"os"`
	UptimeSec   uint64    `json:"uptime_seconds"`
	CPUUsage    float64   `json:"cpu_percent"`
	MemUsage    float64   `json:"mem_percent"`
	DiskUsage   float64   `json:"disk_percent"`
	RxBps       int64     `json:"rx_bps"` // since the previous snapshot
	TxBps       int64     `json:"tx_bps"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector takes snapshots. Bandwidth is a delta against the previous call,
// so one Collector should be shared by all readers.
type Collector struct {
	cpuWindow time.Duration

	mu       sync.Mutex
	prevRx   uint64
	prevTx   uint64
	prevTime time.Time
}

// NewCollector returns a collector that samples CPU over cpuWindow. A zero
// window compares against the previous call instead of blocking.
func NewCollector(cpuWindow time.Duration) *Collector {
	return &Collector{cpuWindow: cpuWindow}
}

// Collect reads the host. Individual readings that fail are left at zero.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		LocalIP:     localIP(),
		GatewayIP:   defaultGateway(),
		CollectedAt: time.Now(),
	}
	snap.Hostname, _ = os.Hostname()
	snap.OS, snap.UptimeSec = hostInfo(ctx)

	if pcts, err := cpu.PercentWithContext(ctx, c.cpuWindow, false); err == nil && len(pcts) > 0 {
		snap.CPUUsage = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemUsage = vm.UsedPercent
	}
	snap.DiskUsage = maxDiskUsage(ctx)
	snap.RxBps, snap.TxBps = c.bandwidth(ctx)
	return snap
}

func hostInfo(ctx context.Context) (string, uint64) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return runtime.GOOS, 0
	}
	name := info.Platform
	if name == "" {
		name = runtime.GOOS
	} else if info.PlatformVersion != "" {
		name += " " + info.PlatformVersion
	}
	return name, info.Uptime
}

// localIP returns the first non-loopback IPv4 address of an up interface.
func localIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			if ipn, ok := addr.(*net.IPNet); ok && ipn.IP.To4() != nil && !ipn.IP.IsLoopback() {
				return ipn.IP.String()
			}
		}
	}
	return ""
}

// defaultGateway is only known on Linux, from the kernel routing table.
func defaultGateway() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	data, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return ""
	}
	return parseRouteTable(string(data))
}

// parseRouteTable finds the default route in /proc/net/route content. The
// gateway column is a little-endian hex IPv4 address.
func parseRouteTable(table string) string {
	lines := strings.Split(table, "\n")
	if len(lines) < 2 {
		return ""
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "00000000" || len(fields[2]) != 8 {
			continue
		}
		var b [4]byte
		ok := true
		for i := 0; i < 4; i++ {
			if _, err := fmt.Sscanf(fields[2][i*2:i*2+2], "%02x", &b[3-i]); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return net.IPv4(b[0], b[1], b[2], b[3]).String()
		}
	}
	return ""
}

// maxDiskUsage returns the used percentage of the fullest mounted partition.
func maxDiskUsage(ctx context.Context) float64 {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return 0
	}
	var max float64
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		if usage.UsedPercent > max {
			max = usage.UsedPercent
		}
	}
	return max
}

func (c *Collector) bandwidth(ctx context.Context) (rx, tx int64) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil || len(stats) == 0 {
		return 0, 0
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	rx, tx = rate(c.prevRx, stats[0].BytesRecv, c.prevTime, now), rate(c.prevTx, stats[0].BytesSent, c.prevTime, now)
	c.prevRx, c.prevTx, c.prevTime = stats[0].BytesRecv, stats[0].BytesSent, now
	return rx, tx
}

// rate is bytes/s between two counter readings; zero on the first reading
// or after a counter reset.
func rate(prev, cur uint64, prevT, now time.Time) int64 {
	if prevT.IsZero() || cur < prev {
		return 0
	}
	dt := now.Sub(prevT).Seconds()
	if dt <= 0 {
		return 0
	}
	return int64(float64(cur-prev) / dt)
}
