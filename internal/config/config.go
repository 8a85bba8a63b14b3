// Package config loads and validates the daemon configuration: the
// pinned-map paths, control-service bind address, timeout/capacity
// knobs, and logging options listed in the recognised-options table.
// Every option is settable from an HCL config file and overridable by
// an environment variable, following the teacher's
// hcl:"field,optional" convention and its FLYWALL_<NAME>-prefixed
// environment overrides (internal/install/paths.go).
package config

import "time"

// EnvPrefix is prepended to the uppercased option name to form the
// environment variable that overrides it (e.g. bind_address ->
// FLYWALL_BIND_ADDRESS).
const EnvPrefix = "FLYWALL_"

// Config is the top-level daemon configuration.
type Config struct {
	// BindAddress is the network address the Control Service listens
	// on. A "unix:" prefix selects a Unix domain socket path; anything
	// else is dialed as a TCP address.
	// @default: "unix:/var/run/flywall-ctl.sock"
	BindAddress string `hcl:"bind_address,optional"`

	// ACLMapPath is the filesystem path of the pinned ACL table.
	ACLMapPath string `hcl:"acl_map_path,optional"`
	// SessionMapPath is the filesystem path of the pinned session table.
	SessionMapPath string `hcl:"session_map_path,optional"`
	// StatsMapPath is the filesystem path of the pinned statistics table.
	StatsMapPath string `hcl:"stats_map_path,optional"`

	// DefaultPolicy is "allow" or "drop" on no match. Spec-surveyed
	// implementations disagree on this default; this module defaults to
	// allow and makes it configurable (see DESIGN.md).
	// @default: "allow"
	DefaultPolicy string `hcl:"default_policy,optional"`

	// TCPIdleTimeoutMS, UDPIdleTimeoutMS, ICMPIdleTimeoutMS are session
	// expiry timeouts in milliseconds.
	TCPIdleTimeoutMS  int64 `hcl:"tcp_idle_timeout_ms,optional"`
	UDPIdleTimeoutMS  int64 `hcl:"udp_idle_timeout_ms,optional"`
	ICMPIdleTimeoutMS int64 `hcl:"icmp_idle_timeout_ms,optional"`

	// EventRingCapacity is the power-of-two size of the event ring.
	EventRingCapacity int `hcl:"event_ring_capacity,optional"`

	// MaxRules bounds the Rule Store's capacity.
	MaxRules int `hcl:"max_rules,optional"`

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `hcl:"log_level,optional"`

	// LogFormat is carried alongside LogLevel as an ambient addition
	// (the recognised-options table only names log_level; format
	// follows the teacher's own logging.Config, which always pairs
	// level with format).
	// @default: "text"
	LogFormat string `hcl:"log_format,optional"`

	// MaxSubscriptions is loaded and validated but not passed to the
	// Event Pipeline, which caps subscriptions at its own
	// events.MaxSubscriptions constant.
	MaxSubscriptions int `hcl:"max_subscriptions,optional"`
	// SubscriberBufferSize is loaded and validated but not passed to the
	// Event Pipeline, which sizes each subscriber buffer with its own
	// events.DefaultSubscriberBuffer constant.
	SubscriberBufferSize int `hcl:"subscriber_buffer_size,optional"`

	// RestartTimeoutMS bounds how long a data-plane restart request
	// waits for acknowledgement before the Control Service gives up.
	RestartTimeoutMS int64 `hcl:"restart_timeout_ms,optional"`

	// GeoIPDBPath is the optional on-disk MaxMind country database used
	// by rules with a geoip_country criterion. Empty disables GeoIP
	// matching entirely. Ambient extension consistent with the
	// teacher's own GeoIPConfig block.
	GeoIPDBPath string `hcl:"geoip_db_path,optional"`

	// MetricsListenAddress, if non-empty, serves Prometheus metrics on
	// this address. Ambient addition: the teacher always exposes a
	// metrics endpoint alongside its control plane.
	// @default: ":9090"
	MetricsListenAddress string `hcl:"metrics_listen_address,optional"`
}

// Default returns the configuration used when no file or environment
// override supplies a value.
func Default() *Config {
	return &Config{
		BindAddress:          "unix:/var/run/flywall-ctl.sock",
		ACLMapPath:           "/sys/fs/bpf/flywall/acl_table",
		SessionMapPath:       "/sys/fs/bpf/flywall/session_table",
		StatsMapPath:         "/sys/fs/bpf/flywall/stats_table",
		DefaultPolicy:        "allow",
		TCPIdleTimeoutMS:     int64(300 * time.Second / time.Millisecond),
		UDPIdleTimeoutMS:     int64(60 * time.Second / time.Millisecond),
		ICMPIdleTimeoutMS:    int64(30 * time.Second / time.Millisecond),
		EventRingCapacity:    16384,
		MaxRules:             100000,
		LogLevel:             "info",
		LogFormat:            "text",
		MaxSubscriptions:     256,
		SubscriberBufferSize: 1024,
		RestartTimeoutMS:     30000,
		MetricsListenAddress: ":9090",
	}
}

// TCPIdleTimeout, UDPIdleTimeout, ICMPIdleTimeout, RestartTimeout
// convert the millisecond fields to time.Duration for callers.
func (c *Config) TCPIdleTimeout() time.Duration {
	return time.Duration(c.TCPIdleTimeoutMS) * time.Millisecond
}

func (c *Config) UDPIdleTimeout() time.Duration {
	return time.Duration(c.UDPIdleTimeoutMS) * time.Millisecond
}

func (c *Config) ICMPIdleTimeout() time.Duration {
	return time.Duration(c.ICMPIdleTimeoutMS) * time.Millisecond
}

func (c *Config) RestartTimeout() time.Duration {
	return time.Duration(c.RestartTimeoutMS) * time.Millisecond
}
