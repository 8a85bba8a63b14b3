// Package session implements the Session Tracker (§4.3): a per-flow
// state machine layered over the shared session table, with a bounded
// periodic sweep that expires idle or terminal entries.
//
// Grounded on the teacher's internal/ebpf/flow.Manager (typed wrapper
// over a raw map with its own in-memory bookkeeping alongside the
// kernel-visible table) adapted from flow accounting to the
// new/established/closing state machine the spec requires. The packed
// wire.SessionRecord has no room for a packet counter or creation
// timestamp (its field list is fixed by §3 to state/last-seen/bytes),
// so the "2s plus 2 packets" promotion rule is tracked in a private,
// process-local map alongside the shared record rather than in the
// record itself.
package session

import (
	"sync"
	"time"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/events"
	"github.com/wardfw/ward/internal/logging"
	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/wire"
)

// Default protocol-specific idle timeouts per §3.
const (
	DefaultTCPIdleTimeout  = 300 * time.Second
	DefaultUDPIdleTimeout  = 60 * time.Second
	DefaultICMPIdleTimeout = 30 * time.Second
)

// ClosingGrace is how long a `closing` session survives after its FIN/RST
// before the sweep removes it unconditionally, per §4.7.
const ClosingGrace = 10 * time.Second

// DefaultSweepBatch bounds the number of entries scanned per Sweep call.
const DefaultSweepBatch = 4096

// evictionSampleSize is how many candidates the tracker samples when
// making room for a new entry under CapacityExhausted.
const evictionSampleSize = 16

type flowMeta struct {
	firstSeen time.Time
	packets   uint32
}

// Tracker implements the Session Tracker's upsert/sweep operations
// against a Substrate's session table.
type Tracker struct {
	substrate *maps.Substrate
	pipeline  *events.Pipeline
	logger    *logging.Logger

	mu   sync.Mutex
	meta map[string]*flowMeta

	tcpIdle, udpIdle, icmpIdle time.Duration
	sweepBatch                 int
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithTimeouts overrides the protocol-specific idle timeouts (§3,
// §6's tcp_idle_timeout_ms/udp_idle_timeout_ms/icmp_idle_timeout_ms
// config options). A zero duration leaves the corresponding default in
// place.
func WithTimeouts(tcp, udp, icmp time.Duration) Option {
	return func(t *Tracker) {
		if tcp > 0 {
			t.tcpIdle = tcp
		}
		if udp > 0 {
			t.udpIdle = udp
		}
		if icmp > 0 {
			t.icmpIdle = icmp
		}
	}
}

// WithSweepBatch overrides the number of entries Sweep scans per
// invocation. n <= 0 leaves the default in place.
func WithSweepBatch(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.sweepBatch = n
		}
	}
}

// New constructs a Tracker. pipeline may be nil, in which case
// session-expire events are not emitted (useful for isolated tests).
func New(substrate *maps.Substrate, pipeline *events.Pipeline, logger *logging.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	t := &Tracker{
		substrate:  substrate,
		pipeline:   pipeline,
		logger:     logger,
		meta:       make(map[string]*flowMeta),
		tcpIdle:    DefaultTCPIdleTimeout,
		udpIdle:    DefaultUDPIdleTimeout,
		icmpIdle:   DefaultICMPIdleTimeout,
		sweepBatch: DefaultSweepBatch,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Count returns the number of sessions currently tracked in the shared
// session table, for the daemon's active-sessions gauge.
func (t *Tracker) Count() int {
	return t.substrate.Session.Count()
}

func tupleKey(t wire.FlowTuple) string {
	return string(t.MarshalBinary())
}

func reverseOf(t wire.FlowTuple) wire.FlowTuple {
	return wire.FlowTuple{SrcIP: t.DstIP, DstIP: t.SrcIP, SrcPort: t.DstPort, DstPort: t.SrcPort, Protocol: t.Protocol}
}

func (t *Tracker) idleTimeoutFor(proto uint8) time.Duration {
	switch proto {
	case wire.ProtoTCP:
		return t.tcpIdle
	case wire.ProtoUDP:
		return t.udpIdle
	case wire.ProtoICMP:
		return t.icmpIdle
	default:
		return t.tcpIdle
	}
}

// Upsert records a packet of length bytes belonging to tuple, creating a
// new entry (state `new`, or `established` if the reverse-direction
// tuple already has an entry) or advancing an existing one. It returns
// whether a new entry was created.
func (t *Tracker) Upsert(tuple wire.FlowTuple, length int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := uint64(time.Now().UnixNano())
	key := tupleKey(tuple)

	rec, found, err := t.substrate.LookupSession(tuple)
	if err != nil {
		return false, err
	}

	if !found {
		state := uint8(wire.SessionNew)
		if t.promoteReverseIfPresent(tuple) {
			state = wire.SessionEstablished
		}
		newRec := wire.SessionRecord{State: state, LastSeen: now, BytesRx: uint64(length)}
		if err := t.upsertWithEviction(tuple, newRec); err != nil {
			return false, nil // best-effort: tracking failure is not a classification failure
		}
		t.meta[key] = &flowMeta{firstSeen: time.Now(), packets: 1}
		return true, nil
	}

	rec.LastSeen = now
	rec.BytesRx += uint64(length)

	fm := t.meta[key]
	if fm == nil {
		fm = &flowMeta{firstSeen: time.Now()}
		t.meta[key] = fm
	}
	fm.packets++

	if rec.State == wire.SessionNew && time.Since(fm.firstSeen) >= 2*time.Second && fm.packets >= 2 {
		rec.State = wire.SessionEstablished
	}

	if err := t.substrate.UpsertSession(tuple, rec); err != nil {
		return false, err
	}
	return false, nil
}

// promoteReverseIfPresent reports whether the reverse-direction tuple
// already has a session entry and, if its state is still `new`,
// advances it to `established` — the "symmetric-tuple probe" of §4.3.
func (t *Tracker) promoteReverseIfPresent(tuple wire.FlowTuple) bool {
	reverse := reverseOf(tuple)
	revRec, found, err := t.substrate.LookupSession(reverse)
	if err != nil || !found {
		return false
	}
	if revRec.State == wire.SessionNew {
		revRec.State = wire.SessionEstablished
		_ = t.substrate.UpsertSession(reverse, revRec)
	}
	return true
}

func (t *Tracker) upsertWithEviction(tuple wire.FlowTuple, rec wire.SessionRecord) error {
	err := t.substrate.UpsertSession(tuple, rec)
	if err == nil {
		return nil
	}
	if errors.GetKind(err) != errors.KindCapacityExhausted {
		return err
	}

	victim, ok := t.oldestAmongSample(evictionSampleSize)
	if !ok {
		return err
	}
	if derr := t.substrate.DeleteSession(victim); derr != nil {
		return err
	}
	delete(t.meta, tupleKey(victim))
	return t.substrate.UpsertSession(tuple, rec)
}

func (t *Tracker) oldestAmongSample(sampleSize int) (wire.FlowTuple, bool) {
	var oldest wire.FlowTuple
	var oldestSeen uint64
	found := false
	sampled := 0
	_ = t.substrate.IterateSessions(func(tuple wire.FlowTuple, rec wire.SessionRecord) bool {
		sampled++
		if !found || rec.LastSeen < oldestSeen {
			oldest = tuple
			oldestSeen = rec.LastSeen
			found = true
		}
		return sampled < sampleSize
	})
	return oldest, found
}

// MarkClosed transitions tuple's session to `closing`, as observed on a
// TCP FIN or RST in either direction.
func (t *Tracker) MarkClosed(tuple wire.FlowTuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, found, err := t.substrate.LookupSession(tuple)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	rec.State = wire.SessionClosing
	rec.LastSeen = uint64(time.Now().UnixNano())
	return t.substrate.UpsertSession(tuple, rec)
}

// Sweep scans up to the tracker's configured batch size of session
// entries, removing those past their protocol-specific idle timeout or
// past the closing grace period, and emitting a session-expire event for
// each removal.
func (t *Tracker) Sweep(now time.Time) (int, error) {
	nowNanos := uint64(now.UnixNano())

	var expired []wire.FlowTuple
	scanned := 0
	err := t.substrate.IterateSessions(func(tuple wire.FlowTuple, rec wire.SessionRecord) bool {
		scanned++
		idle := t.idleTimeoutFor(tuple.Protocol)
		isExpired := maps.IsExpired(rec, nowNanos, idle)
		isClosingExpired := rec.State == wire.SessionClosing && maps.IsExpired(rec, nowNanos, ClosingGrace)
		if isExpired || isClosingExpired {
			expired = append(expired, tuple)
		}
		return scanned < t.sweepBatch
	})
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	for _, tuple := range expired {
		delete(t.meta, tupleKey(tuple))
	}
	t.mu.Unlock()

	for _, tuple := range expired {
		if derr := t.substrate.DeleteSession(tuple); derr != nil {
			t.logger.Warn("session sweep delete failed", "tuple", tuple.String(), "error", derr)
			continue
		}
		if t.pipeline != nil {
			t.pipeline.Emit(events.Event{
				Kind:     events.KindSessionExpire,
				Source:   tuple.String(),
				Protocol: protocolName(tuple.Protocol),
				Severity: events.SeverityLow,
				Message:  "session expired",
			})
		}
	}
	return len(expired), nil
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
