package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tastythames/sshscan/internal/cache"
	"github.com/tastythames/sshscan/internal/sshclient"
)

const (
	namespace = "sshscan"

	// target health
	MetricTargetUp       = "ssh_target_up"
	MetricScrapeDuration = "ssh_target_scrape_duration_seconds"
	MetricLastScrapeTs   = "ssh_target_last_scrape_timestamp_seconds"
	MetricAuthAttempts   = "ssh_target_auth_attempts"
	MetricCommandFailure = "ssh_target_command_failures"

	// cache
	MetricCacheAgeSeconds = "ssh_target_scrape_cache_age_seconds"

	// error flag
	MetricTargetError = "ssh_target_error"
)

type valueDef struct {
	name string
	help string
	kind prometheus.ValueType
}

// valueDefs maps cached result values to exported metrics.
var valueDefs = map[string]valueDef{
	cache.ValueDurationSeconds: {MetricScrapeDuration, "Duration of SSH scrape.", prometheus.GaugeValue},
	cache.ValueAuthAttempts:    {MetricAuthAttempts, "Credentials tried in the last scrape.", prometheus.GaugeValue},
	cache.ValueCommandFailures: {MetricCommandFailure, "Command lines that did not exit 0 in the last scrape.", prometheus.GaugeValue},

	sshclient.FactUptimeSeconds:        {"ssh_os_uptime_seconds", "Seconds since boot.", prometheus.GaugeValue},
	sshclient.FactLoad1:                {"ssh_os_load1", "1m load average.", prometheus.GaugeValue},
	sshclient.FactMemoryTotalBytes:     {"ssh_os_memory_total_bytes", "MemTotal in bytes.", prometheus.GaugeValue},
	sshclient.FactMemoryAvailableBytes: {"ssh_os_memory_available_bytes", "MemAvailable in bytes.", prometheus.GaugeValue},
	sshclient.FactNetReceiveBytes:      {"ssh_os_network_receive_bytes_total", "Bytes received on non-loopback interfaces.", prometheus.CounterValue},
	sshclient.FactNetTransmitBytes:     {"ssh_os_network_transmit_bytes_total", "Bytes sent on non-loopback interfaces.", prometheus.CounterValue},
}
