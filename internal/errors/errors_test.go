package errors

import (
	"errors"
	"testing"
)

func TestNewAndKind(t *testing.T) {
	err := New(KindNotFound, "rule missing")
	if GetKind(err) != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", GetKind(err))
	}
	if err.Error() != "rule missing" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := errors.New("disk full")
	wrapped := Wrap(base, KindUnavailable, "map open failed")

	if GetKind(wrapped) != KindUnavailable {
		t.Errorf("expected KindUnavailable, got %v", GetKind(wrapped))
	}
	if !Is(wrapped, base) {
		t.Error("expected wrapped error to chain to base")
	}
}

func TestAttrAccumulates(t *testing.T) {
	err := New(KindValidation, "bad priority")
	err = Attr(err, "field", "priority")
	err = Attr(err, "rule_id", "r1")

	attrs := GetAttributes(err)
	if attrs["field"] != "priority" || attrs["rule_id"] != "r1" {
		t.Errorf("unexpected attributes: %#v", attrs)
	}
}

func TestAttrWrapsPlainError(t *testing.T) {
	base := errors.New("boom")
	err := Attr(base, "k", "v")
	if GetKind(err) != KindInternal {
		t.Errorf("expected KindInternal for wrapped plain error, got %v", GetKind(err))
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, KindInternal, "x") != nil {
		t.Error("expected nil")
	}
	if Wrapf(nil, KindInternal, "x %d", 1) != nil {
		t.Error("expected nil")
	}
	if Attr(nil, "k", "v") != nil {
		t.Error("expected nil")
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindInternal:            "internal",
		KindValidation:          "validation",
		KindNotFound:            "not_found",
		KindAlreadyExists:       "already_exists",
		KindConflict:            "conflict",
		KindUnavailable:         "unavailable",
		KindTimeout:             "timeout",
		KindKeyFormat:           "key_format",
		KindChecksumMismatch:    "checksum_mismatch",
		KindVersionIncompatible: "version_incompatible",
		KindCapacityExhausted:   "capacity_exhausted",
		KindUnknown:             "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
