package ctlplane

import "github.com/wardfw/ward/internal/errors"

// BackupConfig returns the Rule Store's binary backup blob (§4.5's
// backup format: magic, schema version, timestamp, checksum, then
// length-prefixed rule records).
func (s *Server) BackupConfig(args *Empty, reply *BackupReply) error {
	blob, err := s.rules.Backup()
	if err != nil {
		fail(&reply.Response, err)
		return nil
	}
	reply.Blob = blob
	ok(&reply.Response)
	return nil
}

// RestoreConfig validates a backup blob (magic, version compatibility,
// checksum, and capacity) and, once it passes, applies it unconditionally
// — args.Force only raises the near-capacity watermark a restore is
// allowed to cross without it, it is not a dry-run switch. Only one
// restore may be pending at a time, per §5's resource limit. A rejected
// restore leaves the rule store unchanged and publishes exactly one
// config-change event reporting the rejection (Scenario 6).
func (s *Server) RestoreConfig(args *RestoreArgs, reply *Response) error {
	if !s.restoring.CompareAndSwap(false, true) {
		fail(reply, errors.New(errors.KindConflict, "a restore operation is already pending"))
		return nil
	}
	defer s.restoring.Store(false)

	if err := s.rules.Restore(args.Blob, args.Force); err != nil {
		s.emitRestoreRejected(err)
		fail(reply, err)
		return nil
	}
	ok(reply)
	return nil
}
