package rulestore

import (
	"net"
	"time"

	"github.com/wardfw/ward/internal/errors"
)

// Action values a Rule may carry. Mirrors the wire-level action codes in
// internal/wire but kept as strings here since the control-plane surface
// is string-typed per the remote-procedure schema.
const (
	ActionAllow    = "allow"
	ActionDrop     = "drop"
	ActionRedirect = "redirect"
	ActionLog      = "log"
)

// Protocol values a Rule may match.
const (
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
	ProtocolICMP = "icmp"
	ProtocolAny  = "any"
)

// Direction values a Rule may apply to.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionBoth     = "both"
)

// Log-verbosity values.
const (
	LogLevelNone  = "none"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
)

const maxDescriptionBytes = 256

// MaxRules bounds the rule set per the resource-limits section.
const MaxRules = 100000

var validActions = map[string]bool{ActionAllow: true, ActionDrop: true, ActionRedirect: true, ActionLog: true}
var validProtocols = map[string]bool{ProtocolTCP: true, ProtocolUDP: true, ProtocolICMP: true, ProtocolAny: true}
var validDirections = map[string]bool{DirectionInbound: true, DirectionOutbound: true, DirectionBoth: true}
var validLogLevels = map[string]bool{LogLevelNone: true, LogLevelInfo: true, LogLevelDebug: true}

// Rule is the control-plane's authoritative representation of a firewall
// rule. It is the record type stored, CRUD'd, and serialised by the Store;
// internal/wire.ACLValue is the narrower packed projection the fast path
// actually reads.
type Rule struct {
	ID            string
	Action        string
	SrcNet        *net.IPNet
	DstNet        *net.IPNet
	SrcPort       uint16 // 0 = any
	DstPort       uint16 // 0 = any
	Protocol      string
	Direction     string
	Priority      int32
	Enabled       bool
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	GeoIPCountry  []string
	RateLimit     int32 // packets/sec ceiling, 0 = unlimited
	LogLevel      string
	Stateful      bool
}

// Clone returns a deep copy sufficient for copy-on-write storage: the
// networks and slice are copied so a caller mutating its own Rule value
// cannot corrupt a stored snapshot.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	clone := *r
	clone.SrcNet = cloneIPNet(r.SrcNet)
	clone.DstNet = cloneIPNet(r.DstNet)
	if r.GeoIPCountry != nil {
		clone.GeoIPCountry = append([]string(nil), r.GeoIPCountry...)
	}
	return &clone
}

func cloneIPNet(n *net.IPNet) *net.IPNet {
	if n == nil {
		return nil
	}
	return &net.IPNet{IP: append(net.IP(nil), n.IP...), Mask: append(net.IPMask(nil), n.Mask...)}
}

// isHostSpecific reports whether net is a single-host IPv4 prefix (/32),
// the condition under which the Rule Store projects an exact ACL row for
// it per §4.4.
func isHostSpecific(n *net.IPNet) bool {
	if n == nil {
		return false
	}
	ones, bits := n.Mask.Size()
	return bits == 32 && ones == 32
}

// validate checks a Rule against the field-level invariants from §4.4.
// It does not check identifier uniqueness or store capacity; the Store
// does that with knowledge of its own state.
func validate(r *Rule) error {
	if r.ID == "" {
		return errors.New(errors.KindValidation, "rule id must not be empty")
	}
	if !validActions[r.Action] {
		return errors.Errorf(errors.KindValidation, "invalid action %q", r.Action)
	}
	if !validProtocols[r.Protocol] {
		return errors.Errorf(errors.KindValidation, "invalid protocol %q", r.Protocol)
	}
	if !validDirections[r.Direction] {
		return errors.Errorf(errors.KindValidation, "invalid direction %q", r.Direction)
	}
	if r.LogLevel != "" && !validLogLevels[r.LogLevel] {
		return errors.Errorf(errors.KindValidation, "invalid log level %q", r.LogLevel)
	}
	if r.SrcNet == nil || r.DstNet == nil {
		return errors.New(errors.KindValidation, "src and dst networks are required")
	}
	if ones, bits := r.SrcNet.Mask.Size(); bits != 32 || ones < 0 || ones > 32 {
		return errors.Errorf(errors.KindValidation, "src prefix length %d out of range", ones)
	}
	if ones, bits := r.DstNet.Mask.Size(); bits != 32 || ones < 0 || ones > 32 {
		return errors.Errorf(errors.KindValidation, "dst prefix length %d out of range", ones)
	}
	if len(r.Description) > maxDescriptionBytes {
		return errors.Errorf(errors.KindValidation, "description exceeds %d bytes", maxDescriptionBytes)
	}
	if r.RateLimit < 0 {
		return errors.New(errors.KindValidation, "rate limit must not be negative")
	}
	return nil
}
