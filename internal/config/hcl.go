package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/wardfw/ward/internal/errors"
)

// Load reads an HCL configuration file at path, starting from Default,
// applies environment variable overrides, and validates the result.
// A missing file is not an error: Load falls back to Default plus
// environment overrides, matching the teacher's forgiving-load posture
// for first-run daemons with no config file yet installed.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, errors.KindInternal, "read config file %s", path)
			}
		} else if err := hclsimple.Decode(path, data, nil, cfg); err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "parse config file %s", path)
		}
	}

	applyEnvOverrides(cfg)

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "%s", errs.Error())
	}
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place with any FLYWALL_<OPTION>
// environment variables present, following internal/install.GetStateDir
// et al.'s "env wins over file" precedence.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("bind_address"); ok {
		cfg.BindAddress = v
	}
	if v, ok := lookupEnv("acl_map_path"); ok {
		cfg.ACLMapPath = v
	}
	if v, ok := lookupEnv("session_map_path"); ok {
		cfg.SessionMapPath = v
	}
	if v, ok := lookupEnv("stats_map_path"); ok {
		cfg.StatsMapPath = v
	}
	if v, ok := lookupEnv("default_policy"); ok {
		cfg.DefaultPolicy = v
	}
	if v, ok := lookupEnvInt64("tcp_idle_timeout_ms"); ok {
		cfg.TCPIdleTimeoutMS = v
	}
	if v, ok := lookupEnvInt64("udp_idle_timeout_ms"); ok {
		cfg.UDPIdleTimeoutMS = v
	}
	if v, ok := lookupEnvInt64("icmp_idle_timeout_ms"); ok {
		cfg.ICMPIdleTimeoutMS = v
	}
	if v, ok := lookupEnvInt("event_ring_capacity"); ok {
		cfg.EventRingCapacity = v
	}
	if v, ok := lookupEnvInt("max_rules"); ok {
		cfg.MaxRules = v
	}
	if v, ok := lookupEnv("log_level"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("log_format"); ok {
		cfg.LogFormat = v
	}
	if v, ok := lookupEnvInt("max_subscriptions"); ok {
		cfg.MaxSubscriptions = v
	}
	if v, ok := lookupEnvInt("subscriber_buffer_size"); ok {
		cfg.SubscriberBufferSize = v
	}
	if v, ok := lookupEnvInt64("restart_timeout_ms"); ok {
		cfg.RestartTimeoutMS = v
	}
	if v, ok := lookupEnv("geoip_db_path"); ok {
		cfg.GeoIPDBPath = v
	}
	if v, ok := lookupEnv("metrics_listen_address"); ok {
		cfg.MetricsListenAddress = v
	}
}

func envName(option string) string {
	return EnvPrefix + strings.ToUpper(option)
}

func lookupEnv(option string) (string, bool) {
	v, ok := os.LookupEnv(envName(option))
	return v, ok
}

func lookupEnvInt(option string) (int, bool) {
	v, ok := lookupEnv(option)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvInt64(option string) (int64, bool) {
	v, ok := lookupEnv(option)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
