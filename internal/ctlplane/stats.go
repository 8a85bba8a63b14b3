package ctlplane

import "time"

// GetStatistics fetches the global statistics slot. Per-interface
// statistics are returned as an empty array: the Shared Map Substrate
// keeps one global slot (§3's "one slot is global; optional per-rule
// slots are keyed by rule identifier hash") and carries no interface
// dimension, so there is nothing to break out per interface without a
// data source the substrate doesn't have; documented here rather than
// fabricated.
func (s *Server) GetStatistics(args *Empty, reply *StatisticsReply) error {
	rec, err := s.substrate.ReadStats(0)
	if err != nil {
		fail(&reply.Response, err)
		return nil
	}
	reply.Statistics = Statistics{
		TotalPackets:      rec.TotalPackets,
		TotalBytes:        rec.TotalBytes,
		DroppedPackets:    rec.DropCount,
		AllowedPackets:    rec.AllowCount,
		RedirectedPackets: rec.RedirectCount,
		ActiveRules:       int32(s.rules.Count()),
		ActiveConnections: int32(s.substrate.Session.Count()),
		UptimeSeconds:     int64(time.Since(s.startedAt) / time.Second),
	}
	ok(&reply.Response)
	return nil
}

// GetSystemInfo returns process-wide state useful for diagnostics.
func (s *Server) GetSystemInfo(args *Empty, reply *SystemInfoReply) error {
	reply.SystemInfo = SystemInfo{
		Version:       "1.0.0",
		MaxRules:      int32(s.maxRules),
		UptimeSeconds: int64(time.Since(s.startedAt) / time.Second),
	}
	ok(&reply.Response)
	return nil
}

// RestartDataPlane signals the downstream stages to reload their
// pinned-map attachment without clearing the rule store or statistics,
// per §4.5. It returns once the registered RestartHook acknowledges or
// the request's deadline (defaulting to the configured restart
// timeout) elapses.
func (s *Server) RestartDataPlane(args *RestartDataPlaneArgs, reply *Response) error {
	if s.restartHook == nil {
		ok(reply)
		return nil
	}
	deadline := args.DeadlineMS
	if deadline <= 0 {
		deadline = int64(s.restartTimeout / time.Millisecond)
	}
	err := withDeadline(deadline, s.restartHook)
	if err != nil {
		fail(reply, err)
		return nil
	}
	ok(reply)
	return nil
}
