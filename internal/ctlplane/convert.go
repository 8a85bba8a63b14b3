package ctlplane

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/events"
	"github.com/wardfw/ward/internal/rulestore"
)

func ruleToMessage(r *rulestore.Rule) Rule {
	return Rule{
		ID:           r.ID,
		Action:       r.Action,
		SrcIP:        ipNetString(r.SrcNet),
		DstIP:        ipNetString(r.DstNet),
		SrcPort:      int32(r.SrcPort),
		DstPort:      int32(r.DstPort),
		Protocol:     r.Protocol,
		Direction:    r.Direction,
		Priority:     r.Priority,
		Enabled:      r.Enabled,
		Description:  r.Description,
		CreatedAt:    r.CreatedAt.Unix(),
		UpdatedAt:    r.UpdatedAt.Unix(),
		GeoIPCountry: strings.Join(r.GeoIPCountry, ","),
		RateLimit:    r.RateLimit,
		LogLevel:     r.LogLevel,
		Stateful:     r.Stateful,
	}
}

func ipNetString(n *net.IPNet) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func messageToRule(m Rule) (*rulestore.Rule, error) {
	_, srcNet, err := net.ParseCIDR(m.SrcIP)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parse src_ip %q", m.SrcIP)
	}
	_, dstNet, err := net.ParseCIDR(m.DstIP)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parse dst_ip %q", m.DstIP)
	}
	var countries []string
	if m.GeoIPCountry != "" {
		countries = strings.Split(m.GeoIPCountry, ",")
	}
	return &rulestore.Rule{
		ID:           m.ID,
		Action:       m.Action,
		SrcNet:       srcNet,
		DstNet:       dstNet,
		SrcPort:      uint16(m.SrcPort),
		DstPort:      uint16(m.DstPort),
		Protocol:     m.Protocol,
		Direction:    m.Direction,
		Priority:     m.Priority,
		Enabled:      m.Enabled,
		Description:  m.Description,
		GeoIPCountry: countries,
		RateLimit:    m.RateLimit,
		LogLevel:     m.LogLevel,
		Stateful:     m.Stateful,
	}, nil
}

func eventToMessage(e events.Event) Event {
	return Event{
		ID:        strconv.FormatUint(e.ID, 10),
		Kind:      string(e.Kind),
		Timestamp: e.Timestamp / int64(time.Second),
		Source:    e.Source,
		Target:    e.Target,
		Protocol:  e.Protocol,
		Port:      int32(e.Port),
		Message:   e.Message,
		Severity:  string(e.Severity),
		RuleID:    e.RuleID,
		Bytes:     e.Bytes,
		Interface: e.Interface,
		Metadata:  e.Metadata,
	}
}

// errorCode maps an internal errors.Kind to the RPC error_code string
// per SPEC_FULL §8's Kind mapping table.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	switch errors.GetKind(err) {
	case errors.KindValidation:
		return "validation"
	case errors.KindNotFound:
		return "not_found"
	case errors.KindAlreadyExists:
		return "already_exists"
	case errors.KindCapacityExhausted:
		return "capacity_exhausted"
	case errors.KindUnavailable:
		return "map_unavailable"
	case errors.KindKeyFormat:
		return "key_format"
	case errors.KindTimeout:
		return "deadline_exceeded"
	case errors.KindChecksumMismatch:
		return "checksum_mismatch"
	case errors.KindVersionIncompatible:
		return "version_incompatible"
	default:
		return "internal"
	}
}
