// Command wardd is the firewall-core daemon: it opens the Shared Map
// Substrate, loads the Rule Store, and runs the Control Service, the
// Event Pipeline, and the userspace fast-path Classifier/Session
// Tracker side by side, following the teacher's cmd/proxy.go and
// cmd/flywall-sim/server.go shape (flag-parsed config path, a
// cancellable context wired to SIGINT/SIGTERM, a blocking wait on
// ctx.Done()).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardfw/ward/internal/classifier"
	"github.com/wardfw/ward/internal/config"
	"github.com/wardfw/ward/internal/ctlplane"
	"github.com/wardfw/ward/internal/events"
	"github.com/wardfw/ward/internal/geoip"
	"github.com/wardfw/ward/internal/logging"
	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/metrics"
	"github.com/wardfw/ward/internal/rulestore"
	"github.com/wardfw/ward/internal/session"
	"github.com/wardfw/ward/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	memorySubstrate := flag.Bool("memory-substrate", false, "Use an in-memory substrate instead of opening pinned kernel maps (for development and platforms without eBPF)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardd: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	d, err := newDaemon(cfg, logger, *memorySubstrate)
	if err != nil {
		logger.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := d.Start(); err != nil {
		logger.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("wardd exited")
}

// daemon wires the Shared Map Substrate, Rule Store, Event Pipeline,
// Classifier Engine, Session Tracker, Control Service, and metrics
// collector into the single process that constitutes both control
// plane and userspace fast path, per SPEC_FULL §1's component list.
type daemon struct {
	cfg       *config.Config
	logger    *logging.Logger
	substrate *maps.Substrate
	rules     *rulestore.Store
	pipeline  *events.Pipeline
	geo       *geoip.Resolver
	tracker   *session.Tracker
	// class is the userspace fast-path Classifier Engine this daemon
	// hosts; per §1's scope, the packet-processor plugin that feeds it
	// packets is an external collaborator, so nothing in this binary
	// calls Classify directly. It is still constructed here so a future
	// in-process packet source (or a test harness) has one ready.
	class   *classifier.Classifier
	ctl     *ctlplane.Server
	metrics *metrics.Collector

	sweepStop         chan struct{}
	lastEventsDropped uint64
}

func newDaemon(cfg *config.Config, logger *logging.Logger, useMemorySubstrate bool) (*daemon, error) {
	var substrate *maps.Substrate
	var err error
	if useMemorySubstrate {
		substrate = maps.NewMemorySubstrate(maps.DefaultACLCapacity, maps.DefaultSessionCapacity, 1)
	} else {
		substrate, err = maps.OpenSubstrate(maps.PinPaths{
			ACL:     cfg.ACLMapPath,
			Session: cfg.SessionMapPath,
			Stats:   cfg.StatsMapPath,
		})
		if err != nil {
			return nil, err
		}
	}

	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		substrate.Close()
		return nil, err
	}

	rules := rulestore.New(substrate, logger)
	rules.SetMaxRules(cfg.MaxRules)
	pipeline := events.NewPipeline(logger, events.WithRingCapacity(cfg.EventRingCapacity))
	tracker := session.New(substrate, pipeline, logger,
		session.WithTimeouts(cfg.TCPIdleTimeout(), cfg.UDPIdleTimeout(), cfg.ICMPIdleTimeout()),
	)

	defaultAction := wire.ActionAllow
	if cfg.DefaultPolicy == rulestore.ActionDrop {
		defaultAction = wire.ActionDrop
	}
	class := classifier.New(substrate, rules, tracker, pipeline, logger,
		classifier.WithDefaultAction(defaultAction),
		classifier.WithGeoIP(geo),
	)

	ctl := ctlplane.New(substrate, rules, pipeline, cfg.MaxRules, logger)
	ctl.SetRestartTimeout(cfg.RestartTimeout())
	collector := metrics.NewCollector()

	return &daemon{
		cfg:       cfg,
		logger:    logger,
		substrate: substrate,
		rules:     rules,
		pipeline:  pipeline,
		geo:       geo,
		tracker:   tracker,
		class:     class,
		ctl:       ctl,
		metrics:   collector,
		sweepStop: make(chan struct{}),
	}, nil
}

// Start begins serving the Control Service, mounts the metrics
// endpoint if configured, and launches the Session Tracker's sweep
// loop on its fixed 1s cadence per §4.3.
func (d *daemon) Start() error {
	d.ctl.SetRestartHook(d.reload)

	if err := d.ctl.Start(d.cfg.BindAddress); err != nil {
		return err
	}

	if d.cfg.MetricsListenAddress != "" {
		if err := d.metrics.Start(d.cfg.MetricsListenAddress); err != nil {
			d.logger.Warn("failed to start metrics endpoint", "error", err)
		}
	}

	go d.sweepLoop()
	go d.statsLoop()
	return nil
}

// reload is the RestartHook the Control Service invokes on
// RestartDataPlane: it doesn't touch the Rule Store or statistics, only
// signals the downstream stages to reload their attachment, per §4.5.
func (d *daemon) reload(ctx context.Context) error {
	d.logger.Info("data-plane restart acknowledged")
	return nil
}

// sweepLoop runs the Session Tracker's periodic expiry scan on a fixed
// 1s cadence, bounded to 4,096 entries per invocation (enforced inside
// Tracker.Sweep), mirroring the teacher's cleanupRoutine ticker shape.
func (d *daemon) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := d.tracker.Sweep(time.Now()); err != nil {
				d.logger.Warn("session sweep failed", "error", err)
			}
		case <-d.sweepStop:
			return
		}
	}
}

// statsLoop periodically mirrors the global statistics slot into the
// Prometheus collector and updates the rule/session/subscriber gauges.
func (d *daemon) statsLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rec, err := d.substrate.ReadStats(0)
			if err != nil {
				continue
			}
			d.metrics.ObserveStats(rec.TotalPackets, rec.TotalBytes, rec.DropCount, rec.AllowCount, rec.RedirectCount, rec.MapLookupCount, rec.MapHitCount)
			d.metrics.SetActiveRules(d.rules.Count())
			d.metrics.SetActiveSessions(d.tracker.Count())
			d.metrics.SetSubscriberCount(d.pipeline.SubscriberCount())
			dropped := d.pipeline.DroppedCount()
			d.metrics.AddEventsDropped(dropped - d.lastEventsDropped)
			d.lastEventsDropped = dropped
		case <-d.sweepStop:
			return
		}
	}
}

func (d *daemon) Close() {
	select {
	case <-d.sweepStop:
	default:
		close(d.sweepStop)
	}
	if d.ctl != nil {
		d.ctl.Close()
	}
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.metrics.Stop(ctx)
	}
	if d.pipeline != nil {
		d.pipeline.Close()
	}
	if d.geo != nil {
		d.geo.Close()
	}
	if d.substrate != nil {
		d.substrate.Close()
	}
}
