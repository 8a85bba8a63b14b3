//go:build linux

package maps

import "github.com/wardfw/ward/internal/wire"

func openPinnedACL(path string) (Table, error) {
	return OpenPinned(path, wire.FlowTupleSize, wire.ACLValueSize)
}

func openPinnedSession(path string) (Table, error) {
	return OpenPinned(path, wire.FlowTupleSize, wire.SessionRecordSize)
}

func openPinnedStats(path string) (Table, error) {
	return OpenPinned(path, 4, wire.StatsRecordSize)
}
