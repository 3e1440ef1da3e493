// Package prober runs the network health cycle: ping every configured
// device, check its services, record samples and keep device alerts in
// step with what was observed.
package prober

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vesaa/homewatch/internal/devices"
	"github.com/vesaa/homewatch/internal/logger"
	"github.com/vesaa/homewatch/internal/metrics"
	"github.com/vesaa/homewatch/internal/models"
)

// Ledger is the part of the alert ledger the prober writes to.
type Ledger interface {
	Raise(ctx context.Context, a models.Alert) (bool, error)
	Clear(ctx context.Context, key string, clearedTS int64) (int64, error)
	ActiveKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Samples is the part of the sample store the prober writes to.
type Samples interface {
	RecordDevice(ctx context.Context, d models.DeviceSample) error
	RecordService(ctx context.Context, s models.ServiceSample) error
	PruneServices(ctx context.Context, validKeys []string) (int64, error)
	PruneHistory(ctx context.Context, before int64) (int64, error)
	RecordRun(ctx context.Context, run *models.ProbeRun) error
}

// Options tune a Prober. Zero timeouts fall back to the defaults below.
type Options struct {
	PingTimeout      time.Duration
	TCPTimeout       time.Duration
	HTTPTimeout      time.Duration
	Concurrency      int
	ServiceAlerts    bool
	HistoryRetention time.Duration
}

const (
	DefaultPingTimeout = time.Second
	DefaultTCPTimeout  = 1500 * time.Millisecond
	DefaultHTTPTimeout = 2500 * time.Millisecond

	deviceKeyPrefix  = "device:"
	serviceKeyPrefix = "service:"
)

// Prober runs probing cycles. It is safe to call RunOnce from one goroutine
// at a time; the scheduler guarantees that.
type Prober struct {
	source  devices.Source
	ledger  Ledger
	samples Samples
	pinger  Pinger
	checker ServiceChecker
	opts    Options
	now     func() time.Time
}

// New wires a prober.
func New(source devices.Source, ledger Ledger, samples Samples, pinger Pinger, checker ServiceChecker, opts Options) *Prober {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.TCPTimeout <= 0 {
		opts.TCPTimeout = DefaultTCPTimeout
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultHTTPTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Prober{
		source:  source,
		ledger:  ledger,
		samples: samples,
		pinger:  pinger,
		checker: checker,
		opts:    opts,
		now:     time.Now,
	}
}

// DeviceAlertKey is the ledger key for a device-down alert.
func DeviceAlertKey(ip string) string {
	return deviceKeyPrefix + ip
}

// tally accumulates cycle counts across device goroutines.
type tally struct {
	mu                     sync.Mutex
	up, down, svcUp, svcDn int
}

func (t *tally) device(up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if up {
		t.up++
	} else {
		t.down++
	}
}

func (t *tally) service(up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if up {
		t.svcUp++
	} else {
		t.svcDn++
	}
}

// RunOnce runs one full probing cycle. It fails only when the device list
// cannot be loaded; per-device and per-write failures are logged and the
// cycle carries on.
func (p *Prober) RunOnce(ctx context.Context) (*models.ProbeRun, error) {
	started := p.now()
	list, err := p.source.LoadDevices()
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}

	ts := started.Unix()
	var t tally
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.opts.Concurrency)

	for _, d := range list {
		wg.Add(1)
		go func(d devices.Device) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			p.probeDevice(ctx, ts, d, &t)
		}(d)
	}
	wg.Wait()

	// The list loaded, so an empty key set really means "no services".
	if n, err := p.samples.PruneServices(ctx, devices.Keys(list)); err != nil {
		logger.Errorf("[prober] prune services: %v", err)
	} else if n > 0 {
		logger.Infof("[prober] pruned %d stale service rows", n)
	}

	p.reconcileServiceAlerts(ctx, ts, list)

	if p.opts.HistoryRetention > 0 {
		cutoff := started.Add(-p.opts.HistoryRetention).Unix()
		if n, err := p.samples.PruneHistory(ctx, cutoff); err != nil {
			logger.Errorf("[prober] prune history: %v", err)
		} else if n > 0 {
			logger.Debugf("[prober] removed %d history rows older than %d", n, cutoff)
		}
	}

	run := &models.ProbeRun{
		StartedTS:    ts,
		FinishedTS:   p.now().Unix(),
		Devices:      len(list),
		Up:           t.up,
		Down:         t.down,
		ServicesUp:   t.svcUp,
		ServicesDown: t.svcDn,
	}
	if err := p.samples.RecordRun(ctx, run); err != nil {
		logger.Errorf("[prober] record run: %v", err)
	}
	metrics.SetCounts(t.up, t.down, t.svcUp, t.svcDn)

	logger.Infof("[prober] Wrote samples. Devices UP=%d DOWN=%d", t.up, t.down)
	return run, nil
}

func (p *Prober) probeDevice(ctx context.Context, ts int64, d devices.Device, t *tally) {
	latency, up := p.ping(ctx, d.IP)
	t.device(up)

	var devType *string
	if d.Type != "" {
		devType = &d.Type
	}
	err := p.samples.RecordDevice(ctx, models.DeviceSample{
		TS:        ts,
		IP:        d.IP,
		Name:      d.Name,
		Type:      devType,
		IsUp:      up,
		LatencyMS: latency,
	})
	if err != nil {
		logger.Errorf("[prober] %v", err)
	}

	key := DeviceAlertKey(d.IP)
	if up {
		p.clear(ctx, key, ts, models.SourceNetwork)
	} else {
		p.raise(ctx, models.Alert{
			TS:       ts,
			Source:   models.SourceNetwork,
			Level:    models.LevelCrit,
			Title:    "Device DOWN: " + d.Name,
			Message:  fmt.Sprintf("%s (%s) is not responding to ping.", d.Name, d.IP),
			DedupKey: key,
		})
	}

	for _, svc := range d.Services {
		svcUp := up && p.checkService(ctx, d.IP, svc)
		t.service(svcUp)
		p.recordService(ctx, ts, d, svc, svcUp)

		if p.opts.ServiceAlerts && up {
			p.serviceAlert(ctx, ts, d, svc, svcUp)
		}
	}
}

// ping returns the latency in milliseconds, or nil and false when the
// device did not answer. A panicking pinger counts as down.
func (p *Prober) ping(ctx context.Context, ip string) (latency *float64, up bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[prober] ping %s panicked: %v", ip, r)
			latency, up = nil, false
		}
	}()

	rtt, err := p.pinger.Ping(ctx, ip, p.opts.PingTimeout)
	if err != nil {
		logger.Debugf("[prober] ping %s: %v", ip, err)
		return nil, false
	}
	ms := float64(rtt) / float64(time.Millisecond)
	return &ms, true
}

func (p *Prober) checkService(ctx context.Context, ip string, svc devices.Service) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[prober] check %s on %s panicked: %v", svc.Name, ip, r)
			ok = false
		}
	}()

	if svc.Port == nil {
		return false
	}
	if svc.Type == devices.CheckHTTP {
		return p.checker.CheckHTTP(ctx, ip, *svc.Port, svc.HTTPPath(), p.opts.HTTPTimeout)
	}
	return p.checker.CheckTCP(ctx, ip, *svc.Port, p.opts.TCPTimeout)
}

func (p *Prober) recordService(ctx context.Context, ts int64, d devices.Device, svc devices.Service, up bool) {
	var path *string
	if svc.Type == devices.CheckHTTP {
		hp := svc.HTTPPath()
		path = &hp
	}
	err := p.samples.RecordService(ctx, models.ServiceSample{
		TS:          ts,
		Key:         devices.ServiceKey(d.IP, svc),
		IP:          d.IP,
		DeviceName:  d.Name,
		ServiceName: svc.Name,
		ServiceType: svc.Type,
		Port:        svc.Port,
		Path:        path,
		IsUp:        up,
	})
	if err != nil {
		logger.Errorf("[prober] %v", err)
	}
}

func (p *Prober) serviceAlert(ctx context.Context, ts int64, d devices.Device, svc devices.Service, up bool) {
	key := devices.AlertKey(d.IP, svc)
	if up {
		p.clear(ctx, key, ts, models.SourceService)
		return
	}
	p.raise(ctx, models.Alert{
		TS:       ts,
		Source:   models.SourceService,
		Level:    models.LevelWarn,
		Title:    fmt.Sprintf("Service DOWN: %s on %s", svc.Name, d.Name),
		Message:  fmt.Sprintf("%s check for %s (%s) is failing.", strings.ToUpper(svc.Type), svc.Name, d.IP),
		DedupKey: key,
	})
}

// reconcileServiceAlerts clears service alerts whose check is no longer
// configured. It only runs with service alerts enabled.
func (p *Prober) reconcileServiceAlerts(ctx context.Context, ts int64, list []devices.Device) {
	if !p.opts.ServiceAlerts {
		return
	}
	configured := make(map[string]struct{})
	for _, d := range list {
		for _, svc := range d.Services {
			configured[devices.AlertKey(d.IP, svc)] = struct{}{}
		}
	}
	active, err := p.ledger.ActiveKeysWithPrefix(ctx, serviceKeyPrefix)
	if err != nil {
		logger.Errorf("[prober] list service alerts: %v", err)
		return
	}
	for _, key := range active {
		if _, ok := configured[key]; !ok {
			p.clear(ctx, key, ts, models.SourceService)
		}
	}
}

func (p *Prober) raise(ctx context.Context, a models.Alert) {
	created, err := p.ledger.Raise(ctx, a)
	if err != nil {
		logger.Errorf("[prober] %v", err)
		return
	}
	if created {
		metrics.AlertsRaised.WithLabelValues(a.Source).Inc()
		logger.Warnf("[prober] raised %s: %s", a.DedupKey, a.Title)
	}
}

func (p *Prober) clear(ctx context.Context, key string, ts int64, source string) {
	n, err := p.ledger.Clear(ctx, key, ts)
	if err != nil {
		logger.Errorf("[prober] %v", err)
		return
	}
	if n > 0 {
		metrics.AlertsCleared.WithLabelValues(source).Add(float64(n))
		logger.Infof("[prober] cleared %s", key)
	}
}
