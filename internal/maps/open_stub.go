//go:build !linux

package maps

import "github.com/wardfw/ward/internal/errors"

// On non-Linux platforms there is no kernel namespace to pin maps in;
// OpenSubstrate always fails with MapUnavailable. Use NewMemorySubstrate
// for local development and tests.

func openPinnedACL(path string) (Table, error) {
	return nil, errors.Errorf(errors.KindUnavailable, "pinned maps are only available on Linux")
}

func openPinnedSession(path string) (Table, error) {
	return nil, errors.Errorf(errors.KindUnavailable, "pinned maps are only available on Linux")
}

func openPinnedStats(path string) (Table, error) {
	return nil, errors.Errorf(errors.KindUnavailable, "pinned maps are only available on Linux")
}
