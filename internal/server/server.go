// Package server is the cache node's HTTP transport: gin routes for
// get/put/delete and diagnostics, a replication fan-out that pushes
// writes to peers, and an optional synthetic-latency test-node variant
// for exercising failover without a real multi-region deployment.
package server

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/geocache/geocache/internal/audit"
	"github.com/geocache/geocache/internal/cache"
	"github.com/geocache/geocache/internal/peer"
	"github.com/geocache/geocache/internal/topology"
)

const fanOutTimeout = 500 * time.Millisecond

// Server is one cache node's HTTP surface plus its replication behavior.
type Server struct {
	selfID   string
	Topology *topology.Topology
	Store    *cache.Store
	Audit    *audit.Log
	log      *logrus.Entry

	testMode     bool
	baseLatency  time.Duration
	extraLatency int64 // nanoseconds, atomic

	httpClient *http.Client
	engine     *gin.Engine
}

// New builds a Server for a node whose discovery-advertised instance
// name is selfID (used to exclude itself from its own fan-out targets).
// testMode wires in the synthetic-latency endpoints and artificial
// per-request delay used to simulate a distant region in tests.
func New(selfID string, top *topology.Topology, store *cache.Store, auditLog *audit.Log, testMode bool, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		selfID:      selfID,
		Topology:    top,
		Store:       store,
		Audit:       auditLog,
		log:         log,
		testMode:    testMode,
		baseLatency: computeBaseLatency(top.Region),
		httpClient:  &http.Client{},
	}
	s.engine = s.buildEngine()
	return s
}

// Engine exposes the underlying gin engine, e.g. for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func computeBaseLatency(region string) time.Duration {
	sum := md5.Sum([]byte(region))
	baseMS := int(sum[0]) % 5 * 100
	extraMS := 30 + rand.Intn(31) // 30..60, matches the test server's jitter band
	return time.Duration(baseMS+extraMS) * time.Millisecond
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(s.loggerMiddleware(), s.recoveryMiddleware())
	if s.testMode {
		e.Use(s.testDelayMiddleware())
		e.POST("/extra_latency", s.handleSetExtraLatency)
	}

	e.GET("/ping", s.handlePing)
	e.GET("/local_cache_info", s.handleLocalInfo)
	e.GET("/remote_cache_info", s.handleRemoteInfo)
	e.GET("/:region/:key", s.handleGet)
	e.PUT("/:region/:key", s.handlePut)
	e.DELETE("/:region/:key", s.handleDelete)
	return e
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("server: request")
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("panic", r).Error("server: recovered from panic")
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func (s *Server) testDelayMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		extra := time.Duration(atomic.LoadInt64(&s.extraLatency))
		time.Sleep(s.baseLatency + extra)
		c.Next()
	}
}

func (s *Server) handleSetExtraLatency(c *gin.Context) {
	seconds, err := strconv.ParseFloat(c.Query("seconds"), 64)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	atomic.StoreInt64(&s.extraLatency, int64(seconds*float64(time.Second)))
	c.Status(http.StatusOK)
}

func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (s *Server) handleLocalInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.LocalInfo())
}

func (s *Server) handleRemoteInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.RemoteInfo())
}

func (s *Server) handleGet(c *gin.Context) {
	region, key := c.Param("region"), c.Param("key")
	value, ok := s.Store.Lookup(region, key)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", value)
}

func (s *Server) handlePut(c *gin.Context) {
	region, key := c.Param("region"), c.Param("key")
	expiry := parseExpirySeconds(c.Query("expiry"))

	value, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	s.Store.Store(region, key, value, expiry)
	s.appendAudit("PUT", region, key, len(value), originOf(c))

	if shouldFanOut(c) {
		s.replicate("PUT", region, key, value, expiry)
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleDelete(c *gin.Context) {
	region, key := c.Param("region"), c.Param("key")
	existed := s.Store.Remove(region, key)
	s.appendAudit("DELETE", region, key, 0, originOf(c))

	if shouldFanOut(c) {
		s.replicate("DELETE", region, key, nil, 0)
	}
	if !existed {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func parseExpirySeconds(raw string) int {
	if raw == "" {
		return cache.DefaultExpirySeconds
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return cache.DefaultExpirySeconds
	}
	return cache.ClampExpirySeconds(n)
}

func shouldFanOut(c *gin.Context) bool {
	return c.Query("recurse") != "0"
}

func originOf(c *gin.Context) string {
	if c.Query("recurse") == "0" {
		return "replication"
	}
	return "client"
}

func (s *Server) appendAudit(op, region, key string, size int, origin string) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Append(audit.Record{
		Time: time.Now(), Op: op, Region: region, Key: key, Size: size, Origin: origin,
	}); err != nil {
		s.log.WithError(err).Warn("server: audit append failed")
	}
}

// replicate fans a write out to the rest of the cluster: every other
// peer in the node's own region always receives a copy, marked
// recurse=0 so it doesn't fan further. If dataRegion is the node's own
// region, one random peer in each foreign region also receives a copy,
// without the recurse marker, so that peer performs its own
// same-region fan-out once it arrives. Since dataRegion still isn't
// that peer's own region, it will not cross-fan again.
func (s *Server) replicate(op, dataRegion, key string, value []byte, expirySeconds int) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := &multierror.Error{}

	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	for _, p := range s.Topology.Directory.PeersIn(s.Topology.Region) {
		if p.ID == s.selfID {
			continue
		}
		wg.Add(1)
		go func(p peer.Peer) {
			defer wg.Done()
			collect(s.push(p, op, dataRegion, key, value, expirySeconds, true))
		}(p)
	}

	if dataRegion == s.Topology.Region {
		for _, region := range s.Topology.Directory.Regions() {
			if region == s.Topology.Region {
				continue
			}
			candidates := s.Topology.Directory.PeersIn(region)
			if len(candidates) == 0 {
				continue
			}
			target := candidates[rand.Intn(len(candidates))]
			wg.Add(1)
			go func(p peer.Peer) {
				defer wg.Done()
				collect(s.push(p, op, dataRegion, key, value, expirySeconds, false))
			}(target)
		}
	}

	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		s.log.WithError(err).Debug("server: replication fan-out had failures")
	}
}

func (s *Server) push(p peer.Peer, op, region, key string, value []byte, expirySeconds int, suppressRecurse bool) error {
	url := fmt.Sprintf("http://%s/%s/%s", p.Address, region, key)
	query := []string{}
	if op == "PUT" {
		query = append(query, fmt.Sprintf("expiry=%d", expirySeconds))
	}
	if suppressRecurse {
		query = append(query, "recurse=0")
	}
	if len(query) > 0 {
		url += "?" + strings.Join(query, "&")
	}

	method := http.MethodPut
	var body io.Reader = bytes.NewReader(value)
	if op == "DELETE" {
		method = http.MethodDelete
		body = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), fanOutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
