// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

// Stats tracks self-monitoring counters for the host.
type Stats struct {
	startTime time.Time

	HookInstalls   atomic.Int64
	HookUninstalls atomic.Int64
	HookFailures   atomic.Int64

	ModulesActive  atomic.Int64
	ModuleFailures atomic.Int64

	PluginsAttached atomic.Int64
	PluginsRejected atomic.Int64
	PluginsFailed   atomic.Int64

	ProcessLaunches       atomic.Int64
	ProcessLaunchFailures atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns host uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds         float64
	Goroutines            int
	MemorySysBytes        uint64
	HooksActive           int64
	HookInstalls          int64
	HookUninstalls        int64
	HookFailures          int64
	ModulesActive         int64
	ModuleFailures        int64
	PluginsAttached       int64
	PluginsRejected       int64
	PluginsFailed         int64
	ProcessLaunches       int64
	ProcessLaunchFailures int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	installs, uninstalls := s.HookInstalls.Load(), s.HookUninstalls.Load()
	return Snapshot{
		UptimeSeconds:         s.Uptime().Seconds(),
		Goroutines:            runtime.NumGoroutine(),
		MemorySysBytes:        memStats.Sys,
		HooksActive:           installs - uninstalls,
		HookInstalls:          installs,
		HookUninstalls:        uninstalls,
		HookFailures:          s.HookFailures.Load(),
		ModulesActive:         s.ModulesActive.Load(),
		ModuleFailures:        s.ModuleFailures.Load(),
		PluginsAttached:       s.PluginsAttached.Load(),
		PluginsRejected:       s.PluginsRejected.Load(),
		PluginsFailed:         s.PluginsFailed.Load(),
		ProcessLaunches:       s.ProcessLaunches.Load(),
		ProcessLaunchFailures: s.ProcessLaunchFailures.Load(),
	}
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "asihost_uptime_seconds", "gauge", "Host uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "asihost_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "asihost_memory_sys_bytes", "gauge", "Memory obtained from the OS in bytes", float64(snap.MemorySysBytes))
	b = appendMetric(b, "asihost_hooks_active", "gauge", "Currently installed hooks", float64(snap.HooksActive))
	b = appendMetric(b, "asihost_hook_installs_total", "counter", "Total successful hook installs", float64(snap.HookInstalls))
	b = appendMetric(b, "asihost_hook_uninstalls_total", "counter", "Total successful hook uninstalls", float64(snap.HookUninstalls))
	b = appendMetric(b, "asihost_hook_failures_total", "counter", "Total failed hook operations", float64(snap.HookFailures))
	b = appendMetric(b, "asihost_modules_active", "gauge", "Currently active built-in modules", float64(snap.ModulesActive))
	b = appendMetric(b, "asihost_module_failures_total", "counter", "Total module activation failures", float64(snap.ModuleFailures))
	b = appendMetric(b, "asihost_plugins_attached_total", "counter", "Total plugins attached", float64(snap.PluginsAttached))
	b = appendMetric(b, "asihost_plugins_rejected_total", "counter", "Total plugins rejected by game or version gating", float64(snap.PluginsRejected))
	b = appendMetric(b, "asihost_plugins_failed_total", "counter", "Total plugins that failed to load or attach", float64(snap.PluginsFailed))
	b = appendMetric(b, "asihost_process_launches_total", "counter", "Total child processes launched", float64(snap.ProcessLaunches))
	b = appendMetric(b, "asihost_process_launch_failures_total", "counter", "Total failed child process launches", float64(snap.ProcessLaunchFailures))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
