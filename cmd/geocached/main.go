// Command geocached runs one region-aware cache node: it advertises
// itself over mDNS, discovers its peers, serves the cache HTTP surface,
// and fans writes out to the rest of the cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geocache/geocache/internal/audit"
	"github.com/geocache/geocache/internal/cache"
	"github.com/geocache/geocache/internal/discovery"
	"github.com/geocache/geocache/internal/latency"
	"github.com/geocache/geocache/internal/server"
	"github.com/geocache/geocache/internal/topology"
)

func main() {
	var (
		instance         = flag.String("instance", "", "unique node instance name (default hostname:port)")
		bindAddr         = flag.String("bind", "0.0.0.0", "address to bind the HTTP server to")
		advertiseAddr    = flag.String("advertise", "", "host address for this node (default: -bind); not advertised, mDNS announces the host's interface addresses")
		port             = flag.Int("port", 6789, "HTTP port")
		region           = flag.String("region", "", "this node's region (required)")
		ownCapacity      = flag.Int("own-cache-size", 1024, "max entries in the own-region cache")
		foreignCapacity  = flag.Int("foreign-cache-size", 4096, "max entries in the foreign-region cache")
		testMode         = flag.Bool("test-mode", false, "enable synthetic latency injection for test clusters")
		testLatency      = flag.Int("test-latency-ms", 0, "advertised synthetic base latency in ms (test mode only)")
		auditPath        = flag.String("audit-log", "", "optional path for an append-only mutation audit log")
		snapshotPath     = flag.String("topology-snapshot", "", "optional path for periodic topology diagnostics dumps")
		snapshotInterval = flag.Duration("topology-snapshot-interval", time.Minute, "how often to write the topology snapshot")
		probeTimeout     = flag.Duration("probe-timeout", 500*time.Millisecond, "peer health probe timeout")
		discoveryPoll    = flag.Duration("discovery-poll-interval", 2*time.Second, "mDNS browse interval")
		logLevel         = flag.String("log-level", "info", "logrus level")
	)
	flag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	if *region == "" {
		entry.Fatal("cmd/geocached: -region is required")
	}
	if *advertiseAddr == "" {
		*advertiseAddr = *bindAddr
	}
	if *instance == "" {
		hostname, _ := os.Hostname()
		*instance = fmt.Sprintf("%s:%d", hostname, *port)
	}

	store := cache.NewStore(*region, *ownCapacity, *foreignCapacity)

	var auditLog *audit.Log
	if *auditPath != "" {
		var err error
		auditLog, err = audit.Open(*auditPath)
		if err != nil {
			entry.WithError(err).Fatal("cmd/geocached: open audit log")
		}
		defer auditLog.Close()
	}

	prober := latency.NewProber(latency.NewTable(*region), latency.NewHTTPPinger(), *probeTimeout)
	top := topology.New(*region, nil, prober, entry)

	browser, err := discovery.NewBrowser(top, *instance)
	if err != nil {
		entry.WithError(err).Fatal("cmd/geocached: create discovery browser")
	}
	top.Resolver = browser

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go browser.Run(ctx, *discoveryPoll)

	if *snapshotPath != "" {
		writer := audit.NewSnapshotWriter(*snapshotPath)
		go func() {
			ticker := time.NewTicker(*snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := writer.Write(top); err != nil {
						entry.WithError(err).Warn("cmd/geocached: topology snapshot failed")
					}
				}
			}
		}()
	}

	srv := server.New(*instance, top, store, auditLog, *testMode, entry)
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(*bindAddr, fmt.Sprint(*port)),
		Handler: srv.Engine(),
	}

	lifecycle := &server.Lifecycle{
		Instance:      *instance,
		Address:       *advertiseAddr,
		Port:          *port,
		Region:        *region,
		TestMode:      *testMode,
		TestLatencyMS: *testLatency,
		HTTPServer:    httpServer,
		Log:           entry,
	}

	if err := lifecycle.Register(ctx); err != nil {
		entry.WithError(err).Fatal("cmd/geocached: discovery registration failed")
	}

	entry.WithFields(logrus.Fields{
		"instance": *instance,
		"region":   *region,
		"port":     *port,
	}).Info("cmd/geocached: serving")

	if err := lifecycle.Run(ctx); err != nil {
		entry.WithError(err).Fatal("cmd/geocached: server stopped with error")
	}
}
