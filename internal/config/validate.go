package config

import "fmt"

// ValidationError represents one invalid configuration field, matching
// the teacher's internal/config/validate.go shape.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msg := e[0].Error()
	for _, err := range e[1:] {
		msg += "; " + err.Error()
	}
	return msg
}

// HasErrors reports whether any validation errors were collected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks every field invariant the recognised-options table
// implies: non-empty paths, a power-of-two ring capacity, positive
// timeouts, and a recognised default policy / log level.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.BindAddress == "" {
		errs = append(errs, ValidationError{"bind_address", "must not be empty"})
	}
	if c.ACLMapPath == "" {
		errs = append(errs, ValidationError{"acl_map_path", "must not be empty"})
	}
	if c.SessionMapPath == "" {
		errs = append(errs, ValidationError{"session_map_path", "must not be empty"})
	}
	if c.StatsMapPath == "" {
		errs = append(errs, ValidationError{"stats_map_path", "must not be empty"})
	}
	if c.DefaultPolicy != "allow" && c.DefaultPolicy != "drop" {
		errs = append(errs, ValidationError{"default_policy", "must be \"allow\" or \"drop\""})
	}
	if c.TCPIdleTimeoutMS <= 0 {
		errs = append(errs, ValidationError{"tcp_idle_timeout_ms", "must be positive"})
	}
	if c.UDPIdleTimeoutMS <= 0 {
		errs = append(errs, ValidationError{"udp_idle_timeout_ms", "must be positive"})
	}
	if c.ICMPIdleTimeoutMS <= 0 {
		errs = append(errs, ValidationError{"icmp_idle_timeout_ms", "must be positive"})
	}
	if !isPowerOfTwo(c.EventRingCapacity) {
		errs = append(errs, ValidationError{"event_ring_capacity", "must be a power of two"})
	}
	if c.MaxRules <= 0 || c.MaxRules > 100000 {
		errs = append(errs, ValidationError{"max_rules", "must be between 1 and 100000"})
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log_level", "must be debug, info, warn, or error"})
	}
	if c.MaxSubscriptions <= 0 || c.MaxSubscriptions > 256 {
		errs = append(errs, ValidationError{"max_subscriptions", "must be between 1 and 256"})
	}
	if c.SubscriberBufferSize <= 0 {
		errs = append(errs, ValidationError{"subscriber_buffer_size", "must be positive"})
	}
	if c.RestartTimeoutMS <= 0 {
		errs = append(errs, ValidationError{"restart_timeout_ms", "must be positive"})
	}

	return errs
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
