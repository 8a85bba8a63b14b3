// Package classifier implements the Classifier Engine (§4.2): the
// per-packet verdict algorithm shared by the kernel fast path (whose
// eBPF program performs the equivalent exact-match lookup entirely in
// kernel space) and this userspace fast path, which additionally owns
// the fallback longest-prefix-match scan and per-rule rate limiting
// that don't fit in the kernel program's instruction budget.
//
// Grounded on the teacher's internal/engine.RuleEngine/Match (priority
// evaluation order, wildcard-as-zero port/protocol matching, CIDR
// containment) adapted from its zone-based policy model to direct
// ACL-table exact match with LPM fallback.
package classifier

import (
	"net"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/events"
	"github.com/wardfw/ward/internal/geoip"
	"github.com/wardfw/ward/internal/logging"
	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/rulestore"
	"github.com/wardfw/ward/internal/wire"
)

// Verdict is the Classifier Engine's output per packet.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictDrop
	VerdictRedirect
	VerdictLogAndPass
)

func (v Verdict) String() string {
	switch v {
	case VerdictDrop:
		return "drop"
	case VerdictRedirect:
		return "redirect"
	case VerdictLogAndPass:
		return "log-and-pass"
	default:
		return "pass"
	}
}

// PacketHeader is the parsed input the Classifier Engine decides on.
type PacketHeader struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	Length   int
}

func (h PacketHeader) tuple() wire.FlowTuple {
	return wire.FlowTuple{SrcIP: h.SrcIP, DstIP: h.DstIP, SrcPort: h.SrcPort, DstPort: h.DstPort, Protocol: h.Protocol}
}

// SessionUpserter is the subset of the Session Tracker the Classifier
// Engine needs. Declared here (rather than imported concretely) so this
// package does not have to depend on internal/session's full surface.
type SessionUpserter interface {
	Upsert(tuple wire.FlowTuple, length int) (created bool, err error)
}

// Classifier implements the per-packet verdict algorithm of §4.2.
type Classifier struct {
	substrate     *maps.Substrate
	rules         *rulestore.Store
	sessions      SessionUpserter
	pipeline      *events.Pipeline
	logger        *logging.Logger
	geoip         *geoip.Resolver
	defaultAction uint8

	statsMu sync.Mutex

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Option configures a Classifier at construction time.
type Option func(*Classifier)

// WithDefaultAction overrides the default policy applied when neither
// the ACL table nor the fallback scan produces a match. The spec's
// default is allow.
func WithDefaultAction(action uint8) Option {
	return func(c *Classifier) { c.defaultAction = action }
}

// WithGeoIP attaches a country resolver so fallback-scan rules with a
// geoip_country criterion can be evaluated. Without it, such rules
// never match (see ruleMatches).
func WithGeoIP(r *geoip.Resolver) Option {
	return func(c *Classifier) { c.geoip = r }
}

// New constructs a Classifier over substrate, consulting rules for the
// fallback scan, upserting stateful flows into sessions, and publishing
// events onto pipeline. sessions and pipeline may be nil for tests that
// don't exercise those paths.
func New(substrate *maps.Substrate, rules *rulestore.Store, sessions SessionUpserter, pipeline *events.Pipeline, logger *logging.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	c := &Classifier{
		substrate:     substrate,
		rules:         rules,
		sessions:      sessions,
		pipeline:      pipeline,
		logger:        logger,
		defaultAction: wire.ActionAllow,
		limiters:      make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs the per-packet algorithm of §4.2 and returns the
// resulting verdict.
func (c *Classifier) Classify(hdr PacketHeader) (Verdict, error) {
	tuple := hdr.tuple()

	val, found, lookupErr := c.substrate.LookupACL(tuple)

	var (
		action   uint8
		stateful bool
		logLevel string
		ruleID   string
		priority int32
	)

	switch {
	case lookupErr == nil && found:
		action = val.Action
		stateful = val.Flags&wire.ACLFlagStateful != 0
		priority = val.Priority
	default:
		// A substrate error degrades to the fallback scan rather than
		// failing the packet outright.
		if match := c.fallbackScan(hdr); match != nil {
			action = actionCodeOf(match.Action)
			stateful = match.Stateful
			logLevel = match.LogLevel
			ruleID = match.ID
			priority = match.Priority
			if !c.allow(match) {
				action = wire.ActionDrop
			}
		} else if lookupErr != nil && errors.GetKind(lookupErr) != errors.KindNotFound {
			// Fallback scan itself found nothing and the substrate is
			// unhealthy: fail closed and flag it loudly.
			c.emit(events.Event{Kind: events.KindSystem, Severity: events.SeverityHigh, Message: "classifier fallback scan degraded: " + lookupErr.Error()})
			action = wire.ActionDrop
		} else {
			action = c.defaultAction
		}
	}

	verdict := verdictFromAction(action)

	if stateful && verdict != VerdictDrop && c.sessions != nil {
		if _, err := c.sessions.Upsert(tuple, hdr.Length); err != nil {
			c.logger.Warn("session upsert failed", "error", err)
		}
	}

	c.updateStats(verdict, found)

	if verdict == VerdictDrop || (logLevel != "" && logLevel != rulestore.LogLevelNone) {
		c.emitMatch(tuple, verdict, ruleID, priority, logLevel)
	}

	return verdict, nil
}

func verdictFromAction(action uint8) Verdict {
	switch action {
	case wire.ActionDrop:
		return VerdictDrop
	case wire.ActionRedirect:
		return VerdictRedirect
	case wire.ActionLog:
		return VerdictLogAndPass
	default:
		return VerdictPass
	}
}

func actionCodeOf(action string) uint8 {
	switch action {
	case rulestore.ActionDrop:
		return wire.ActionDrop
	case rulestore.ActionRedirect:
		return wire.ActionRedirect
	case rulestore.ActionLog:
		return wire.ActionLog
	default:
		return wire.ActionAllow
	}
}

// fallbackScan performs the longest-prefix-match fallback of §4.2 step
// 2: the first enabled rule, in ascending priority order, whose network,
// port, and protocol criteria are all compatible with hdr.
func (c *Classifier) fallbackScan(hdr PacketHeader) *rulestore.Rule {
	if c.rules == nil {
		return nil
	}
	for _, r := range c.rules.EnabledIndex() {
		if c.ruleMatches(r, hdr) {
			return r
		}
	}
	return nil
}

// ruleMatches checks r's network/port/protocol criteria against hdr,
// plus an optional geoip_country criterion evaluated against the
// packet's source address (the country a connection originates from is
// the conventional geo-blocking axis; destination-side geoip, e.g. for
// outbound egress control, isn't named by any surveyed rule schema).
func (c *Classifier) ruleMatches(r *rulestore.Rule, hdr PacketHeader) bool {
	if !networkContains(r.SrcNet, hdr.SrcIP) {
		return false
	}
	if !networkContains(r.DstNet, hdr.DstIP) {
		return false
	}
	if r.SrcPort != 0 && r.SrcPort != hdr.SrcPort {
		return false
	}
	if r.DstPort != 0 && r.DstPort != hdr.DstPort {
		return false
	}
	if r.Protocol != rulestore.ProtocolAny {
		want, ok := protocolCode(r.Protocol)
		if !ok || want != hdr.Protocol {
			return false
		}
	}
	if len(r.GeoIPCountry) > 0 {
		if c.geoip == nil || !c.geoip.Matches(uint32ToIP(hdr.SrcIP), r.GeoIPCountry) {
			return false
		}
	}
	return true
}

func uint32ToIP(ip uint32) net.IP {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

func networkContains(n *net.IPNet, ip uint32) bool {
	if n == nil {
		return true
	}
	addr := net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
	return n.Contains(addr)
}

func protocolCode(p string) (uint8, bool) {
	switch p {
	case rulestore.ProtocolTCP:
		return wire.ProtoTCP, true
	case rulestore.ProtocolUDP:
		return wire.ProtoUDP, true
	case rulestore.ProtocolICMP:
		return wire.ProtoICMP, true
	default:
		return 0, false
	}
}

// allow enforces a matched rule's packet-rate ceiling: a token bucket of
// capacity and refill rate equal to the ceiling, per rule (§4.2 "Numeric
// semantics"). A rule with no ceiling is always allowed. This only
// applies to fallback-scan matches: the packed ACLValue has no room to
// carry a rule identity through the fast exact-match path, so a fast-path
// hit's rate ceiling cannot be enforced per-rule there (see DESIGN.md).
func (c *Classifier) allow(r *rulestore.Rule) bool {
	if r.RateLimit <= 0 {
		return true
	}
	c.limitersMu.Lock()
	limiter, ok := c.limiters[r.ID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.RateLimit), int(r.RateLimit))
		c.limiters[r.ID] = limiter
	}
	c.limitersMu.Unlock()
	return limiter.Allow()
}

func (c *Classifier) updateStats(verdict Verdict, aclHit bool) {
	if c.substrate == nil {
		return
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	rec, err := c.substrate.ReadStats(0)
	if err != nil {
		c.logger.Warn("stats read failed", "error", err)
		return
	}
	rec.TotalPackets++
	rec.MapLookupCount++
	if aclHit {
		rec.MapHitCount++
	}
	switch verdict {
	case VerdictDrop:
		rec.DropCount++
	case VerdictRedirect:
		rec.RedirectCount++
	default:
		rec.AllowCount++
	}
	if err := c.substrate.WriteStats(0, rec); err != nil {
		c.logger.Warn("stats write failed", "error", err)
	}
}

func (c *Classifier) emit(evt events.Event) {
	if c.pipeline == nil {
		return
	}
	c.pipeline.Emit(evt)
}

func (c *Classifier) emitMatch(tuple wire.FlowTuple, verdict Verdict, ruleID string, priority int32, logLevel string) {
	kind := events.KindRuleMatch
	severity := events.SeverityLow
	if verdict == VerdictDrop {
		kind = events.KindPacketDrop
		severity = events.SeverityMedium
	}
	c.emit(events.Event{
		Kind:     kind,
		Source:   tuple.String(),
		Protocol: protocolName(tuple.Protocol),
		Port:     int(tuple.DstPort),
		RuleID:   ruleID,
		Severity: severity,
		Message:  "verdict " + verdict.String(),
		Metadata: map[string]string{"priority": strconv.Itoa(int(priority))},
	})
}

func protocolName(p uint8) string {
	switch p {
	case wire.ProtoTCP:
		return "tcp"
	case wire.ProtoUDP:
		return "udp"
	case wire.ProtoICMP:
		return "icmp"
	default:
		return "any"
	}
}
