package maps

import (
	"time"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/wire"
)

// Default capacities per spec §4.1.
const (
	DefaultACLCapacity     = 65536
	DefaultSessionCapacity = 262144
)

// Substrate bundles the three pinned tables that make up the Shared Map
// Substrate: ACL, session, and statistics.
type Substrate struct {
	ACL     Table
	Session Table
	Stats   Table
}

// PinPaths names the filesystem paths the three tables are pinned at.
type PinPaths struct {
	ACL     string
	Session string
	Stats   string
}

// OpenSubstrate opens the three pinned kernel maps on Linux. It fails
// fast with MapUnavailable if any table cannot be opened, per §6's
// "Process-wide state" contract.
func OpenSubstrate(paths PinPaths) (*Substrate, error) {
	acl, err := openPinnedACL(paths.ACL)
	if err != nil {
		return nil, err
	}
	session, err := openPinnedSession(paths.Session)
	if err != nil {
		acl.Close()
		return nil, err
	}
	stats, err := openPinnedStats(paths.Stats)
	if err != nil {
		acl.Close()
		session.Close()
		return nil, err
	}
	return &Substrate{ACL: acl, Session: session, Stats: stats}, nil
}

// NewMemorySubstrate builds an in-memory Substrate for tests and for
// platforms without eBPF/pinned-map support. statsSlots is the number
// of statistics slots to provision (slot 0 is always global).
func NewMemorySubstrate(aclCapacity, sessionCapacity, statsSlots int) *Substrate {
	if aclCapacity <= 0 {
		aclCapacity = DefaultACLCapacity
	}
	if sessionCapacity <= 0 {
		sessionCapacity = DefaultSessionCapacity
	}
	if statsSlots <= 0 {
		statsSlots = 1
	}
	return &Substrate{
		ACL:     NewMemoryTable(wire.FlowTupleSize, wire.ACLValueSize, aclCapacity),
		Session: NewMemoryTable(wire.FlowTupleSize, wire.SessionRecordSize, sessionCapacity),
		Stats:   NewMemoryTable(4, wire.StatsRecordSize, statsSlots),
	}
}

// Close releases all three table handles. The tables themselves persist
// in the kernel namespace; this only releases this process's handles.
func (s *Substrate) Close() error {
	var firstErr error
	for _, t := range []Table{s.ACL, s.Session, s.Stats} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LookupACL performs an exact-match lookup in the ACL table.
func (s *Substrate) LookupACL(tuple wire.FlowTuple) (wire.ACLValue, bool, error) {
	raw, err := s.ACL.Lookup(tuple.MarshalBinary())
	if err != nil {
		if errors.GetKind(err) == errors.KindNotFound {
			return wire.ACLValue{}, false, nil
		}
		return wire.ACLValue{}, false, err
	}
	v, err := wire.UnmarshalACLValue(raw)
	if err != nil {
		return wire.ACLValue{}, false, err
	}
	return v, true, nil
}

// UpsertACL writes an exact-match row.
func (s *Substrate) UpsertACL(tuple wire.FlowTuple, value wire.ACLValue) error {
	return s.ACL.Update(tuple.MarshalBinary(), value.MarshalBinary())
}

// DeleteACL removes an exact-match row.
func (s *Substrate) DeleteACL(tuple wire.FlowTuple) error {
	return s.ACL.Delete(tuple.MarshalBinary())
}

// LookupSession fetches a session entry.
func (s *Substrate) LookupSession(tuple wire.FlowTuple) (wire.SessionRecord, bool, error) {
	raw, err := s.Session.Lookup(tuple.MarshalBinary())
	if err != nil {
		if errors.GetKind(err) == errors.KindNotFound {
			return wire.SessionRecord{}, false, nil
		}
		return wire.SessionRecord{}, false, err
	}
	rec, err := wire.UnmarshalSessionRecord(raw)
	if err != nil {
		return wire.SessionRecord{}, false, err
	}
	return rec, true, nil
}

// UpsertSession writes a session entry.
func (s *Substrate) UpsertSession(tuple wire.FlowTuple, rec wire.SessionRecord) error {
	return s.Session.Update(tuple.MarshalBinary(), rec.MarshalBinary())
}

// DeleteSession removes a session entry.
func (s *Substrate) DeleteSession(tuple wire.FlowTuple) error {
	return s.Session.Delete(tuple.MarshalBinary())
}

// IterateSessions walks all session entries, yielding their tuple and record.
func (s *Substrate) IterateSessions(fn func(wire.FlowTuple, wire.SessionRecord) bool) error {
	it := s.Session.Iterate()
	for it.Next() {
		tup, err := wire.UnmarshalFlowTuple(it.Key())
		if err != nil {
			continue
		}
		rec, err := wire.UnmarshalSessionRecord(it.Value())
		if err != nil {
			continue
		}
		if !fn(tup, rec) {
			break
		}
	}
	return nil
}

func slotKey(slot uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(slot)
	b[1] = byte(slot >> 8)
	b[2] = byte(slot >> 16)
	b[3] = byte(slot >> 24)
	return b
}

// ReadStats fetches the statistics record for a slot (0 = global).
func (s *Substrate) ReadStats(slot uint32) (wire.StatsRecord, error) {
	raw, err := s.Stats.Lookup(slotKey(slot))
	if err != nil {
		if errors.GetKind(err) == errors.KindNotFound {
			return wire.StatsRecord{}, nil
		}
		return wire.StatsRecord{}, err
	}
	return wire.UnmarshalStatsRecord(raw)
}

// WriteStats replaces the statistics record for a slot.
func (s *Substrate) WriteStats(slot uint32, rec wire.StatsRecord) error {
	return s.Stats.Update(slotKey(slot), rec.MarshalBinary())
}

// IsExpired reports whether a session record is past the given idle
// timeout relative to now (monotonic nanoseconds).
func IsExpired(rec wire.SessionRecord, now uint64, idleTimeout time.Duration) bool {
	return now > rec.LastSeen+uint64(idleTimeout.Nanoseconds())
}
