package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/geocache/geocache/internal/discovery"
)

// registerBackoffStep and registerBackoffCeiling bound the linear
// backoff for mDNS registration retries: start immediately, add 250ms
// per attempt, cap at 5s.
const (
	registerBackoffStep    = 250 * time.Millisecond
	registerBackoffCeiling = 5 * time.Second
)

// Lifecycle owns a node's discovery registration and its HTTP server's
// start/stop, including signal-driven graceful shutdown.
type Lifecycle struct {
	Instance      string
	Address       string // host, no port; not included in the mDNS advertisement
	Port          int
	Region        string
	TestMode      bool
	TestLatencyMS int

	HTTPServer *http.Server
	Log        *logrus.Entry

	mdnsServer *zeroconf.Server
}

// Register advertises the node over mDNS, retrying with linear backoff
// (0, 250ms, 500ms, ... capped at 5s) until it succeeds or ctx is done.
func (l *Lifecycle) Register(ctx context.Context) error {
	backoff := time.Duration(0)
	for {
		srv, err := discovery.Register(l.Instance, l.Address, l.Port, l.Region, l.TestMode, l.TestLatencyMS)
		if err == nil {
			l.mdnsServer = srv
			return nil
		}
		l.Log.WithError(err).WithField("backoff", backoff).Warn("server: mdns registration failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff += registerBackoffStep
		if backoff > registerBackoffCeiling {
			backoff = registerBackoffCeiling
		}
	}
}

// Unregister withdraws the node's mDNS advertisement. Safe to call even
// if Register never succeeded.
func (l *Lifecycle) Unregister() {
	if l.mdnsServer != nil {
		l.mdnsServer.Shutdown()
	}
}

// Run serves HTTP until SIGTERM, SIGQUIT, or SIGHUP arrives (or ctx is
// cancelled), then unregisters from discovery and shuts the HTTP server
// down gracefully.
func (l *Lifecycle) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- l.HTTPServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		l.Log.WithField("signal", sig).Info("server: received shutdown signal")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
	}

	l.Unregister()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.HTTPServer.Shutdown(shutdownCtx)
}
