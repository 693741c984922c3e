// Package health periodically probes the configured targets through
// the driver and tracks their status.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/asyncmysql/asyncmysql"
	"github.com/asyncmysql/asyncmysql/internal/config"
	"github.com/asyncmysql/asyncmysql/internal/metrics"
)

// Status represents the health status of a target.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// TargetHealth holds the probe outcome for one target.
type TargetHealth struct {
	Status        Status        `json:"status"`
	LastCheck     time.Time     `json:"last_check"`
	LastError     string        `json:"last_error,omitempty"`
	ServerVersion string        `json:"server_version,omitempty"`
	Latency       time.Duration `json:"latency_ns,omitempty"`
}

// Checker runs the probe loop.
type Checker struct {
	mu       sync.RWMutex
	targets  map[string]config.TargetConfig
	defaults config.ProbeDefaults
	statuses map[string]*TargetHealth
	metrics  *metrics.Collector

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a checker for the targets in cfg.
func NewChecker(cfg *config.Config, m *metrics.Collector) *Checker {
	return &Checker{
		targets:  cfg.Targets,
		defaults: cfg.Defaults,
		statuses: make(map[string]*TargetHealth),
		metrics:  m,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic probing.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.defaults.Interval, "targets", len(c.targets))
}

// Stop stops the probe loop. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

// Reload swaps in a new target set, dropping state for removed targets.
func (c *Checker) Reload(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.targets {
		if _, ok := cfg.Targets[id]; !ok {
			delete(c.statuses, id)
			if c.metrics != nil {
				c.metrics.RemoveTarget(id)
			}
			slog.Info("removed health state", "target", id)
		}
	}
	c.targets = cfg.Targets
	c.defaults = cfg.Defaults
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.defaults.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	c.mu.RLock()
	targets := make(map[string]config.TargetConfig, len(c.targets))
	for id, tc := range c.targets {
		targets[id] = tc
	}
	defaults := c.defaults
	c.mu.RUnlock()

	// Probe in parallel with a bounded worker pool.
	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for id, tc := range targets {
		id, tc := id, tc
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy := c.probe(id, tc, defaults)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.ProbeCompleted(id, elapsed, healthy)
				c.metrics.SetTargetHealth(id, healthy)
			}
			c.recordResult(id, healthy, elapsed)
		}()
	}
	wg.Wait()
}

// probe connects, pings and runs the probe query against one target.
func (c *Checker) probe(id string, tc config.TargetConfig, defaults config.ProbeDefaults) bool {
	conn, err := asyncmysql.NewConnection(asyncmysql.Config{
		Host:            tc.Host,
		Port:            tc.Port,
		User:            tc.Username,
		Password:        tc.Password,
		Database:        tc.DBName,
		Charset:         tc.Charset,
		QueryTimeout:    tc.EffectiveQueryTimeout(defaults),
		ConnectTimeout:  defaults.ConnectTimeout,
		ApplicationName: "mysqlcheck",
	})
	if err != nil {
		c.setLastError(id, "config: "+err.Error())
		return false
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), defaults.ConnectTimeout+defaults.QueryTimeout)
	defer cancel()

	start := time.Now()
	err = conn.Connect(ctx)
	if c.metrics != nil {
		c.metrics.ConnectCompleted(id, time.Since(start), err == nil)
	}
	if err != nil {
		c.setLastError(id, "connect: "+err.Error())
		return false
	}
	c.setVersion(id, conn.Version().String())

	if err := conn.Ping(ctx); err != nil {
		c.setLastError(id, "ping: "+err.Error())
		return false
	}

	start = time.Now()
	_, err = conn.Query(ctx, tc.EffectiveQuery(defaults))
	if c.metrics != nil {
		c.metrics.QueryCompleted(id, time.Since(start), err == nil)
		var timedOut *asyncmysql.TimedOutError
		if errors.As(err, &timedOut) {
			c.metrics.QueryTimeout(id)
		}
	}
	if err != nil {
		c.setLastError(id, "query: "+err.Error())
		return false
	}
	return true
}

func (c *Checker) setLastError(id, msg string) {
	c.mu.Lock()
	c.getOrCreate(id).LastError = msg
	c.mu.Unlock()
}

func (c *Checker) setVersion(id, version string) {
	c.mu.Lock()
	c.getOrCreate(id).ServerVersion = version
	c.mu.Unlock()
}

func (c *Checker) recordResult(id string, healthy bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	th := c.getOrCreate(id)
	th.LastCheck = time.Now()
	th.Latency = latency

	if healthy {
		if th.Status == StatusUnhealthy {
			slog.Info("target recovered", "target", id)
		}
		th.Status = StatusHealthy
		th.LastError = ""
	} else {
		if th.Status != StatusUnhealthy {
			slog.Warn("target unhealthy", "target", id, "error", th.LastError)
		}
		th.Status = StatusUnhealthy
	}
}

func (c *Checker) getOrCreate(id string) *TargetHealth {
	th, ok := c.statuses[id]
	if !ok {
		th = &TargetHealth{Status: StatusUnknown}
		c.statuses[id] = th
	}
	return th
}

// IsHealthy reports whether a target is healthy; unknown counts as
// healthy until the first probe lands.
func (c *Checker) IsHealthy(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	th, ok := c.statuses[id]
	if !ok {
		return true
	}
	return th.Status != StatusUnhealthy
}

// GetStatus returns the health record for one target.
func (c *Checker) GetStatus(id string) TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	th, ok := c.statuses[id]
	if !ok {
		return TargetHealth{Status: StatusUnknown}
	}
	return *th
}

// GetAllStatuses returns health records for all known targets.
func (c *Checker) GetAllStatuses() map[string]TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]TargetHealth, len(c.statuses))
	for id, th := range c.statuses {
		result[id] = *th
	}
	return result
}

// Targets returns the currently configured targets, passwords redacted.
func (c *Checker) Targets() map[string]config.TargetConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]config.TargetConfig, len(c.targets))
	for id, tc := range c.targets {
		result[id] = tc.Redacted()
	}
	return result
}

// OverallHealthy reports whether no target is unhealthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, th := range c.statuses {
		if th.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}
