// Package wire defines the fixed-width, little-endian binary records
// shared between the kernel fast path and the user-space fast path
// through the pinned kernel maps (see internal/maps). Every record is
// packed explicitly with encoding/binary rather than relying on Go
// struct layout, since the layout is a cross-process, cross-language
// contract.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/wardfw/ward/internal/errors"
)

// Protocol numbers, matching IANA / IP header values.
const (
	ProtoAny  uint8 = 0
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// Action codes stored in an ACLValue.
const (
	ActionAllow    uint8 = 0
	ActionDrop     uint8 = 1
	ActionRedirect uint8 = 2
	ActionLog      uint8 = 3
)

// Session states stored in a SessionRecord.
const (
	SessionNew         uint8 = 0
	SessionEstablished uint8 = 1
	SessionClosing     uint8 = 2
)

// FlowTupleSize is the exact wire size of a FlowTuple: 4+4+2+2+1 bytes.
const FlowTupleSize = 13

// ACLValueSize is the exact wire size of an ACLValue: 1 action + 1 flags + 2 reserved + 4 priority bytes.
const ACLValueSize = 8

// SessionRecordSize is the exact wire size of a SessionRecord: 1 + 7 reserved + 8 + 8 + 8 bytes.
const SessionRecordSize = 32

// StatsRecordSize is the exact wire size of a StatsRecord: nine uint64 counters.
const StatsRecordSize = 72

// FlowTuple is the exact-match key shared by the ACL and session tables:
// the 5-tuple (source address, destination address, source port,
// destination port, protocol).
type FlowTuple struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// MarshalBinary packs the tuple into its 13-byte little-endian wire form.
func (t FlowTuple) MarshalBinary() []byte {
	buf := make([]byte, FlowTupleSize)
	binary.LittleEndian.PutUint32(buf[0:4], t.SrcIP)
	binary.LittleEndian.PutUint32(buf[4:8], t.DstIP)
	binary.LittleEndian.PutUint16(buf[8:10], t.SrcPort)
	binary.LittleEndian.PutUint16(buf[10:12], t.DstPort)
	buf[12] = t.Protocol
	return buf
}

// UnmarshalFlowTuple unpacks a FlowTuple from its wire form. It returns
// a KeyFormat error if b is not exactly FlowTupleSize bytes.
func UnmarshalFlowTuple(b []byte) (FlowTuple, error) {
	if len(b) != FlowTupleSize {
		return FlowTuple{}, errors.Errorf(errors.KindKeyFormat, "flow tuple must be %d bytes, got %d", FlowTupleSize, len(b))
	}
	return FlowTuple{
		SrcIP:    binary.LittleEndian.Uint32(b[0:4]),
		DstIP:    binary.LittleEndian.Uint32(b[4:8]),
		SrcPort:  binary.LittleEndian.Uint16(b[8:10]),
		DstPort:  binary.LittleEndian.Uint16(b[10:12]),
		Protocol: b[12],
	}, nil
}

// String renders the tuple for logs and events.
func (t FlowTuple) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", ipString(t.SrcIP), t.SrcPort, ipString(t.DstIP), t.DstPort, t.Protocol)
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// Flag bits packed into ACLValue's flags byte.
const (
	ACLFlagStateful uint8 = 1 << 0
)

// ACLValue is the exact-match table's value: the action to take, the
// priority of the rule that produced it (used only for diagnostics once
// projected, since tie-breaking already happened at projection time),
// and a flags byte carrying the subset of rule attributes the fast path
// needs without having to know the rule's identity (the value has no
// room for a rule id — see ACLValueSize).
type ACLValue struct {
	Action   uint8
	Flags    uint8
	Priority int32
}

// MarshalBinary packs the value into its 8-byte little-endian wire form.
func (v ACLValue) MarshalBinary() []byte {
	buf := make([]byte, ACLValueSize)
	buf[0] = v.Action
	buf[1] = v.Flags
	binary.LittleEndian.PutUint32(buf[4:8], uint32(v.Priority))
	return buf
}

// UnmarshalACLValue unpacks an ACLValue from its wire form.
func UnmarshalACLValue(b []byte) (ACLValue, error) {
	if len(b) != ACLValueSize {
		return ACLValue{}, errors.Errorf(errors.KindKeyFormat, "ACL value must be %d bytes, got %d", ACLValueSize, len(b))
	}
	return ACLValue{
		Action:   b[0],
		Flags:    b[1],
		Priority: int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}

// SessionRecord is the session table's value.
type SessionRecord struct {
	State     uint8
	LastSeen  uint64 // monotonic nanoseconds
	BytesRx   uint64
	BytesTx   uint64
}

// MarshalBinary packs the record into its 32-byte little-endian wire form.
func (s SessionRecord) MarshalBinary() []byte {
	buf := make([]byte, SessionRecordSize)
	buf[0] = s.State
	binary.LittleEndian.PutUint64(buf[8:16], s.LastSeen)
	binary.LittleEndian.PutUint64(buf[16:24], s.BytesRx)
	binary.LittleEndian.PutUint64(buf[24:32], s.BytesTx)
	return buf
}

// UnmarshalSessionRecord unpacks a SessionRecord from its wire form.
func UnmarshalSessionRecord(b []byte) (SessionRecord, error) {
	if len(b) != SessionRecordSize {
		return SessionRecord{}, errors.Errorf(errors.KindKeyFormat, "session record must be %d bytes, got %d", SessionRecordSize, len(b))
	}
	return SessionRecord{
		State:    b[0],
		LastSeen: binary.LittleEndian.Uint64(b[8:16]),
		BytesRx:  binary.LittleEndian.Uint64(b[16:24]),
		BytesTx:  binary.LittleEndian.Uint64(b[24:32]),
	}, nil
}

// StatsRecord is the value stored at a statistics slot (slot 0 is global;
// other slots are keyed by a rule identifier hash).
type StatsRecord struct {
	TotalPackets       uint64
	TotalBytes         uint64
	DropCount          uint64
	AllowCount         uint64
	RedirectCount      uint64
	MapLookupCount     uint64
	MapHitCount        uint64
	SessionCreateCount uint64
	SessionDeleteCount uint64
}

// MarshalBinary packs the record into its 72-byte little-endian wire form.
func (s StatsRecord) MarshalBinary() []byte {
	buf := make([]byte, StatsRecordSize)
	fields := []uint64{
		s.TotalPackets, s.TotalBytes, s.DropCount, s.AllowCount, s.RedirectCount,
		s.MapLookupCount, s.MapHitCount, s.SessionCreateCount, s.SessionDeleteCount,
	}
	for i, f := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], f)
	}
	return buf
}

// UnmarshalStatsRecord unpacks a StatsRecord from its wire form.
func UnmarshalStatsRecord(b []byte) (StatsRecord, error) {
	if len(b) != StatsRecordSize {
		return StatsRecord{}, errors.Errorf(errors.KindKeyFormat, "stats record must be %d bytes, got %d", StatsRecordSize, len(b))
	}
	vals := make([]uint64, 9)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	return StatsRecord{
		TotalPackets:       vals[0],
		TotalBytes:         vals[1],
		DropCount:          vals[2],
		AllowCount:         vals[3],
		RedirectCount:      vals[4],
		MapLookupCount:     vals[5],
		MapHitCount:        vals[6],
		SessionCreateCount: vals[7],
		SessionDeleteCount: vals[8],
	}, nil
}
